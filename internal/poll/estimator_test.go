package poll

import (
	"testing"
	"time"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

func TestEstimator_MonotonicNonDecreasing(t *testing.T) {
	e := NewEstimator(time.Hour) // huge horizon keeps time projection near zero

	observations := []float64{10, 35, 20, 35, 5, 80, 40}
	prev := 0.0
	for _, obs := range observations {
		e.Observe(obs)
		v := e.Value()
		if v < prev {
			t.Fatalf("progress decreased: %v after %v", v, prev)
		}
		prev = v
	}
	if prev != 80 {
		t.Errorf("expected max observed 80, got %v", prev)
	}
}

func TestEstimator_TimeProjection(t *testing.T) {
	e := NewEstimator(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	v := e.Value()
	if v != 99 {
		t.Errorf("elapsed projection past the horizon must clamp to 99, got %v", v)
	}
}

func TestEstimator_ClampedUntilComplete(t *testing.T) {
	e := NewEstimator(time.Hour)
	e.Observe(150)
	if v := e.Value(); v != 99 {
		t.Errorf("pre-completion value must clamp to 99, got %v", v)
	}

	e.Complete()
	if v := e.Value(); v != 100 {
		t.Errorf("completed estimator must report exactly 100, got %v", v)
	}
}

func TestEstimator_NeverHits100BeforeComplete(t *testing.T) {
	e := NewEstimator(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	e.Observe(100)
	if v := e.Value(); v >= 100 {
		t.Errorf("value before Complete must stay below 100, got %v", v)
	}
}

func TestExpectedDuration(t *testing.T) {
	if got := ExpectedDuration(generation.KindImage, 3, 0); got != 60*time.Second {
		t.Errorf("image batch horizon = %v, want 60s", got)
	}
	if got := ExpectedDuration(generation.KindVideo, 4, 5); got != 60*time.Second {
		t.Errorf("video horizon for 4x5s = %v, want 60s", got)
	}
	if got := ExpectedDuration(generation.KindVideo, 1, 2); got != 30*time.Second {
		t.Errorf("video horizon floor = %v, want 30s", got)
	}
}
