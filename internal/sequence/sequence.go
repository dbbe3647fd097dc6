// Package sequence manages the display order of a draft's scenes.
// Reordering moves one scene to a new position and shifts the rest,
// preserving their relative order. Scene indexes themselves are stable
// identifiers; only the order list changes.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/store"
)

// ErrGenerationInFlight is returned when a reorder is attempted while any
// of the draft's generation jobs is still running. Reordering mid-batch
// would desynchronize scene indexes from in-flight results.
var ErrGenerationInFlight = errors.New("cannot reorder scenes while generation is in flight")

// Move returns a new order with the element at position from moved to
// position to. The input slice is not modified.
func Move(order []int, from, to int) ([]int, error) {
	n := len(order)
	if from < 0 || from >= n {
		return nil, fmt.Errorf("from position %d out of range [0,%d)", from, n)
	}
	if to < 0 || to >= n {
		return nil, fmt.Errorf("to position %d out of range [0,%d)", to, n)
	}

	result := make([]int, 0, n)
	result = append(result, order[:from]...)
	result = append(result, order[from+1:]...)

	moved := order[from]
	result = append(result[:to], append([]int{moved}, result[to:]...)...)
	return result, nil
}

// Sequencer applies reorders against persisted draft state.
type Sequencer struct {
	store store.DraftStore
}

func NewSequencer(s store.DraftStore) *Sequencer {
	return &Sequencer{store: s}
}

// Reorder moves the scene at position from to position to in the draft's
// order and checkpoints the result. It refuses to run while any generation
// job for the draft is non-terminal.
func (s *Sequencer) Reorder(ctx context.Context, draftID string, from, to int) ([]int, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load draft %s: %w", draftID, err)
	}
	if draft == nil {
		return nil, fmt.Errorf("draft %s not found", draftID)
	}

	jobs, err := s.store.ListJobs(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", draftID, err)
	}
	for _, job := range jobs {
		if !job.Status.Terminal() {
			return nil, fmt.Errorf("job %s is %s: %w", job.RequestID, job.Status, ErrGenerationInFlight)
		}
	}

	reordered, err := Move(draft.SceneOrder, from, to)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateSceneOrder(ctx, draftID, reordered); err != nil {
		return nil, fmt.Errorf("persist scene order for %s: %w", draftID, err)
	}

	log.Info().
		Str("draftId", draftID).
		Int("from", from).
		Int("to", to).
		Ints("order", reordered).
		Msg("Scene order updated")
	return reordered, nil
}
