// Package gateway turns validated generation requests into provider-side
// jobs. It owns the resume-safety rule: a scene whose previous job is still
// running, or whose identical request already produced a job, is never
// submitted twice.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/generation"
	"github.com/adcraft/creative-orchestrator/internal/provider"
)

// Gateway submits generation specs to the provider.
type Gateway struct {
	provider provider.Provider
}

// New creates a submission gateway over the given provider.
func New(p provider.Provider) *Gateway {
	return &Gateway{provider: p}
}

// Result is the outcome of one batch submission. Submitted holds every job
// record the caller must persist, including FAILED records for specs the
// provider rejected and reused records matched by the idempotency check.
type Result struct {
	Submitted []*generation.Job
	Reused    []*generation.Job
	Failed    int
}

// Submit creates provider jobs for the given specs. existing carries the
// draft's already-persisted jobs so a resume never double-submits: a spec
// whose (scene, input hash) matches a PENDING/IN_QUEUE/IN_PROGRESS/COMPLETED
// job is skipped and that job returned in Reused instead.
//
// A provider rejection of one spec does not roll back siblings the provider
// already committed; the rejected spec is tracked as a FAILED job and the
// first rejection is returned as a *generation.SubmissionError alongside
// the partial result.
func (g *Gateway) Submit(ctx context.Context, specs []generation.Spec, existing []*generation.Job) (Result, error) {
	if len(specs) == 0 {
		return Result{}, fmt.Errorf("submission requires at least one spec")
	}

	byScene := make(map[int][]*generation.Job)
	for _, job := range existing {
		byScene[job.SceneIndex] = append(byScene[job.SceneIndex], job)
	}

	var res Result
	var firstErr *generation.SubmissionError

	for _, spec := range specs {
		hash := InputHash(spec)

		if prior := matchReusable(byScene[spec.SceneIndex], hash); prior != nil {
			log.Debug().
				Int("sceneIndex", spec.SceneIndex).
				Str("requestId", prior.RequestID).
				Str("status", string(prior.Status)).
				Msg("Reusing existing job for identical spec")
			res.Reused = append(res.Reused, prior)
			continue
		}

		if running := activeJob(byScene[spec.SceneIndex]); running != nil {
			return res, &generation.SubmissionError{
				SceneIndex: spec.SceneIndex,
				Err:        fmt.Errorf("scene has non-terminal job %s", running.RequestID),
			}
		}

		requestID, err := g.provider.Submit(ctx, spec)
		if err != nil {
			log.Error().Err(err).Int("sceneIndex", spec.SceneIndex).Msg("Provider rejected submission")
			res.Submitted = append(res.Submitted, &generation.Job{
				RequestID:   failedRequestID(spec, hash),
				Kind:        spec.Kind,
				SceneIndex:  spec.SceneIndex,
				Status:      generation.StatusFailed,
				ErrorKind:   generation.ErrKindProvider,
				InputHash:   hash,
				SubmittedAt: time.Now(),
			})
			res.Failed++
			if firstErr == nil {
				firstErr = &generation.SubmissionError{SceneIndex: spec.SceneIndex, Err: err}
			}
			continue
		}

		res.Submitted = append(res.Submitted, &generation.Job{
			RequestID:   requestID,
			Kind:        spec.Kind,
			SceneIndex:  spec.SceneIndex,
			Status:      generation.StatusPending,
			InputHash:   hash,
			SubmittedAt: time.Now(),
		})
	}

	if firstErr != nil {
		return res, firstErr
	}
	return res, nil
}

// Submittable filters specs down to those a Submit call with the same
// existing jobs would actually send to the provider. Callers price
// admission on this subset so a retried batch is never charged again for
// scenes whose identical job is already committed.
func Submittable(specs []generation.Spec, existing []*generation.Job) []generation.Spec {
	byScene := make(map[int][]*generation.Job)
	for _, job := range existing {
		byScene[job.SceneIndex] = append(byScene[job.SceneIndex], job)
	}

	var out []generation.Spec
	for _, spec := range specs {
		if matchReusable(byScene[spec.SceneIndex], InputHash(spec)) == nil {
			out = append(out, spec)
		}
	}
	return out
}

// InputHash fingerprints the logical content of a spec. Two specs with the
// same hash targeting the same scene describe the same unit of work.
func InputHash(spec generation.Spec) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d|%s",
		spec.SceneIndex, spec.Kind, spec.Prompt, spec.SourceRef, spec.DurationSeconds, spec.Resolution)
	return hex.EncodeToString(h.Sum(nil))
}

// matchReusable finds a prior job for the same input that makes a new
// submission redundant. FAILED jobs never match: a retry after failure is a
// fresh submission.
func matchReusable(jobs []*generation.Job, hash string) *generation.Job {
	for _, j := range jobs {
		if j.InputHash == hash && j.Status != generation.StatusFailed {
			return j
		}
	}
	return nil
}

// activeJob returns a non-terminal job for the scene, if any.
func activeJob(jobs []*generation.Job) *generation.Job {
	for _, j := range jobs {
		if !j.Status.Terminal() {
			return j
		}
	}
	return nil
}

// failedRequestID synthesizes a stable identifier for a job the provider
// never accepted, so the failure is still addressable in the job history.
func failedRequestID(spec generation.Spec, hash string) string {
	return fmt.Sprintf("rejected-%d-%s", spec.SceneIndex, hash[:12])
}
