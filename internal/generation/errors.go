package generation

import (
	"errors"
	"fmt"
)

// Provider error classifications carried on FAILED jobs. Content-policy
// violations are distinguished because retrying the same prompt is useless.
const (
	ErrKindProvider      = "provider_error"
	ErrKindContentPolicy = "content_policy_violation"
	ErrKindPollTimeout   = "poll_timeout"
)

// ErrCancelled is returned when a session was cancelled before the batch
// reached a terminal state. Results of already-issued calls are discarded,
// not surfaced as errors.
var ErrCancelled = errors.New("generation cancelled")

// AdmissionDeniedError reports insufficient credits for the requested work.
// No job is ever created for a denied request.
type AdmissionDeniedError struct {
	Required  int
	Available int
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("admission denied: %d credits required, %d available", e.Required, e.Available)
}

// SubmissionError reports a provider failure while creating jobs. Jobs the
// provider already committed before the failure are tracked as FAILED, not
// silently dropped.
type SubmissionError struct {
	SceneIndex int
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed for scene %d: %v", e.SceneIndex, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollTimeoutError reports that a job exceeded the polling bound without
// reaching a terminal provider state. It is distinct from a provider-reported
// failure and surfaced as "generation timed out".
type PollTimeoutError struct {
	RequestID string
	Attempts  int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("generation timed out: request %s still not terminal after %d polls", e.RequestID, e.Attempts)
}

// GenerationError reports a provider-side failure with its classification.
type GenerationError struct {
	RequestID string
	Kind      string // ErrKindProvider or ErrKindContentPolicy
	Reason    string
}

func (e *GenerationError) Error() string {
	if e.Kind == ErrKindContentPolicy {
		return fmt.Sprintf("generation failed for request %s: content policy violation: %s", e.RequestID, e.Reason)
	}
	return fmt.Sprintf("generation failed for request %s: %s", e.RequestID, e.Reason)
}

// IsContentPolicy reports whether err is a content-policy generation failure.
func IsContentPolicy(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Kind == ErrKindContentPolicy
}
