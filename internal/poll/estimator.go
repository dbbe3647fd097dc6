package poll

import (
	"math"
	"sync"
	"time"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// Expected wall-clock durations used for time-based progress projection.
const (
	expectedImageBatch     = 60 * time.Second
	videoSecondsMultiplier = 3
	expectedEditOperation  = 45 * time.Second
	expectedVideoFloorSecs = 30
)

// ExpectedDuration returns the projection horizon for a batch of the given
// kind. For video, the horizon scales with total requested footage.
func ExpectedDuration(kind generation.Kind, sceneCount, durationSeconds int) time.Duration {
	switch kind {
	case generation.KindVideo:
		secs := sceneCount * durationSeconds * videoSecondsMultiplier
		if secs < expectedVideoFloorSecs {
			secs = expectedVideoFloorSecs
		}
		return time.Duration(secs) * time.Second
	case generation.KindEdit:
		return expectedEditOperation
	default:
		return expectedImageBatch
	}
}

// Estimator blends elapsed-time projection with provider-reported progress
// into one monotonically non-decreasing percentage. The value is clamped to
// 99 until Complete marks the batch fully generated, at which point it is
// exactly 100.
type Estimator struct {
	mu       sync.Mutex
	started  time.Time
	expected time.Duration
	best     float64
	done     bool
}

// NewEstimator starts an estimator projecting over the expected duration.
func NewEstimator(expected time.Duration) *Estimator {
	return &Estimator{
		started:  time.Now(),
		expected: expected,
	}
}

// Observe folds a provider-reported progress value into the estimate.
// Lower reports than previously seen are ignored.
func (e *Estimator) Observe(serverPct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.raise(serverPct)
}

// Value returns the current percentage. Each read also folds in the
// time-based projection, so progress keeps moving between provider reports.
func (e *Estimator) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return 100
	}
	if e.expected > 0 {
		projected := time.Since(e.started).Seconds() / e.expected.Seconds() * 100
		e.raise(projected)
	}
	return e.best
}

// Complete pins the estimate to exactly 100. Only called once every job in
// the set completed successfully.
func (e *Estimator) Complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
}

// raise lifts best to pct, clamped into [best, 99].
func (e *Estimator) raise(pct float64) {
	clamped := math.Min(pct, 99)
	if clamped > e.best {
		e.best = clamped
	}
}
