// Package ledger holds the in-memory balance projection of the chain.
//
// The projection is derived state: it is rebuilt from the transaction store at
// startup and changed afterwards only by committing a Batch staged from an
// accepted or rolled back block.
package ledger

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrUnknownAddress is returned by Commit when a batch debits an address
// that holds no balance and is not credited by the batch itself.
var ErrUnknownAddress = errors.New("debit from unknown address")

// Ledger maps addresses to signed balances. It is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]int64
}

func New() *Ledger {
	return &Ledger{balances: make(map[string]int64)}
}

// Get returns the balance of address, or 0 if the address has never appeared.
func (l *Ledger) Get(address string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[address]
}

// Len returns the number of tracked addresses.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.balances)
}

// Snapshot returns a copy of all balances.
func (l *Ledger) Snapshot() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.balances)
}

// Reset replaces every balance with the given ones.
func (l *Ledger) Reset(balances map[string]int64) {
	next := maps.Clone(balances)
	if next == nil {
		next = make(map[string]int64)
	}
	l.mu.Lock()
	l.balances = next
	l.mu.Unlock()
}

// Apply stages and commits the balance effects of accepting block.
func (l *Ledger) Apply(block Block, r Resolver) error {
	b := NewBatch()
	if err := b.StageApply(block, r); err != nil {
		return err
	}
	return l.Commit(b)
}

// Unapply stages and commits the inverse of Apply.
func (l *Ledger) Unapply(block Block, r Resolver) error {
	b := NewBatch()
	if err := b.StageUnapply(block, r); err != nil {
		return err
	}
	return l.Commit(b)
}

// Commit adds every delta of b under a single write lock.
// Nothing is changed when an error is returned.
func (l *Ledger) Commit(b *Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, addr := range b.order {
		if _, debited := b.debited[addr]; !debited {
			continue
		}
		if _, known := l.balances[addr]; known {
			continue
		}
		if _, credited := b.credited[addr]; credited {
			continue
		}
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}

	for _, addr := range b.order {
		l.balances[addr] += b.deltas[addr]
	}
	return nil
}

// Verify returns an error naming the first address found with a negative balance.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for addr, v := range l.balances {
		if v < 0 {
			return fmt.Errorf("address %s has negative balance %d", addr, v)
		}
	}
	return nil
}
