// Package generation holds the domain model shared by the orchestrator
// components: generation jobs, their lifecycle states, and the error
// taxonomy surfaced to callers.
package generation

import "time"

// Kind enumerates supported generation job categories.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindEdit  Kind = "edit"
)

// Status enumerates job lifecycle states. PENDING is the initial state
// immediately after submission; COMPLETED and FAILED are terminal.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether s is a terminal lifecycle state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one outstanding request to the generation provider. Jobs are
// created by the submission gateway and mutated only by the poll
// scheduler; once terminal they never change again.
type Job struct {
	RequestID   string    `json:"requestId" dynamodbav:"-"`
	Kind        Kind      `json:"kind" dynamodbav:"kind"`
	SceneIndex  int       `json:"sceneIndex" dynamodbav:"sceneIndex"`
	Status      Status    `json:"status" dynamodbav:"status"`
	ResultURL   string    `json:"resultUrl,omitempty" dynamodbav:"resultUrl,omitempty"`
	ErrorKind   string    `json:"errorKind,omitempty" dynamodbav:"errorKind,omitempty"`
	InputHash   string    `json:"inputHash,omitempty" dynamodbav:"inputHash,omitempty"`
	SubmittedAt time.Time `json:"submittedAt" dynamodbav:"submittedAt,unixtime"`
}

// Spec describes one unit of generation work targeted at a scene slot.
type Spec struct {
	SceneIndex      int    `json:"sceneIndex"`
	Kind            Kind   `json:"kind"`
	Prompt          string `json:"prompt"`
	SourceRef       string `json:"sourceRef,omitempty"`
	DurationSeconds int    `json:"duration,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
}
