package credits

import (
	"context"
	"errors"
	"testing"
)

func TestGate_Allow(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Grant("owner-1", 100)

	d, err := NewGate(ledger).Check(context.Background(), "owner-1", 40)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected Allow, got Deny{required:%d, available:%d}", d.Required, d.Available)
	}
	if d.Available != 100 || d.Required != 40 {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestGate_Deny(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Grant("owner-1", 25)

	d, err := NewGate(ledger).Check(context.Background(), "owner-1", 40)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if d.Allowed {
		t.Error("expected Deny for 40 required / 25 available")
	}
	if d.Required != 40 || d.Available != 25 {
		t.Errorf("expected Deny{required:40, available:25}, got %+v", d)
	}
}

func TestGate_DenyHasNoSideEffects(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Grant("owner-1", 25)

	gate := NewGate(ledger)
	if _, err := gate.Check(context.Background(), "owner-1", 40); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}

	balance, _ := ledger.Balance(context.Background(), "owner-1")
	if balance != 25 {
		t.Errorf("deny must not touch the balance: got %d, want 25", balance)
	}
}

func TestGate_InvalidAmount(t *testing.T) {
	gate := NewGate(NewMemoryLedger())
	if _, err := gate.Check(context.Background(), "owner-1", 0); err == nil {
		t.Fatal("expected error for zero required amount")
	}
}

func TestMemoryLedger_Reserve(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Grant("owner-1", 10)

	if err := ledger.Reserve(context.Background(), "owner-1", 10); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := ledger.Reserve(context.Background(), "owner-1", 1); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestCosts(t *testing.T) {
	if got := ImageBatchCost(3); got != 15 {
		t.Errorf("ImageBatchCost(3) = %d, want 15", got)
	}
	if got := VideoCost(4, 5); got != 160 {
		t.Errorf("VideoCost(4, 5) = %d, want 160", got)
	}
}
