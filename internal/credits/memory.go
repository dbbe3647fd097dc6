package credits

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger used by the local CLI mode and
// tests. Balances start at whatever Grant sets; Reserve debits atomically.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int)}
}

var _ Ledger = (*MemoryLedger)(nil)

// Grant sets the balance for an owner.
func (l *MemoryLedger) Grant(ownerID string, amount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[ownerID] = amount
}

func (l *MemoryLedger) Balance(_ context.Context, ownerID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[ownerID], nil
}

func (l *MemoryLedger) Reserve(_ context.Context, ownerID string, amount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[ownerID] < amount {
		return ErrInsufficientCredits
	}
	l.balances[ownerID] -= amount
	return nil
}
