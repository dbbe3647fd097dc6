// Package credits gates generation work on the caller's credit balance.
// The ledger itself is an external collaborator; this package holds the
// read/reserve interface, the admission decision logic, and the Aurora
// Data API adapter used in production.
package credits

import (
	"context"
	"errors"
)

// Per-unit costs in credits. Image cost applies per generated image,
// video cost per second of generated footage.
const (
	CostPerImage       = 5
	CostPerVideoSecond = 8
	CostPerEdit        = 3
)

// ErrInsufficientCredits is returned by Reserve when the balance does not
// cover the requested amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger is the external credit ledger. Balance is a plain read;
// Reserve atomically debits the amount or fails with
// ErrInsufficientCredits. The poll scheduler never touches the ledger.
type Ledger interface {
	Balance(ctx context.Context, ownerID string) (int, error)
	Reserve(ctx context.Context, ownerID string, amount int) error
}

// ImageBatchCost returns the credit cost of generating count images.
func ImageBatchCost(count int) int {
	return count * CostPerImage
}

// VideoCost returns the credit cost of generating seconds of video across
// sceneCount scenes.
func VideoCost(sceneCount, secondsPerScene int) int {
	return sceneCount * secondsPerScene * CostPerVideoSecond
}
