package credits

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/metrics"
)

// Decision is the outcome of an admission check. When Allowed is false,
// Required and Available explain the shortfall to the caller.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Required  int  `json:"required"`
	Available int  `json:"available"`
}

// Gate performs the synchronous credit-sufficiency check before any job is
// submitted. It only reads the ledger; reservation happens separately once
// the caller commits to the batch.
type Gate struct {
	ledger Ledger
}

// NewGate creates an admission gate over the given ledger.
func NewGate(ledger Ledger) *Gate {
	return &Gate{ledger: ledger}
}

// Check evaluates whether ownerID can afford required credits. A denied
// check has no side effects and must prevent job creation entirely.
func (g *Gate) Check(ctx context.Context, ownerID string, required int) (Decision, error) {
	if required <= 0 {
		return Decision{}, fmt.Errorf("invalid required credit amount %d", required)
	}

	available, err := g.ledger.Balance(ctx, ownerID)
	if err != nil {
		return Decision{}, fmt.Errorf("read credit balance for %s: %w", ownerID, err)
	}

	d := Decision{
		Allowed:   available >= required,
		Required:  required,
		Available: available,
	}
	if !d.Allowed {
		log.Info().
			Str("ownerId", ownerID).
			Int("required", required).
			Int("available", available).
			Msg("Admission denied")
		metrics.ForOperation("admission").Count("AdmissionDenied").Property("ownerId", ownerID).Flush()
	}
	return d, nil
}
