// Package provider abstracts the external AI generation service. The
// orchestrator only ever sees the two-call surface here: submit a spec and
// get back an opaque request ID, then poll that ID until the provider
// reports a terminal state.
package provider

import (
	"context"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// StatusResponse is one poll result for an outstanding request.
// State uses the closed job status enum; Progress is provider-reported
// percent complete (0 when the provider does not report progress).
type StatusResponse struct {
	State        generation.Status
	Progress     float64
	ResultURL    string
	ErrorKind    string
	ErrorMessage string
}

// Provider is the external generation service.
type Provider interface {
	// Submit creates one provider-side job and returns its request ID.
	Submit(ctx context.Context, spec generation.Spec) (string, error)

	// Status returns the current state of a previously submitted request.
	// Transport errors are returned as-is so the caller can treat them as
	// transient; a FAILED state inside a nil-error response is a provider
	// verdict, not a transport problem.
	Status(ctx context.Context, requestID string) (StatusResponse, error)
}
