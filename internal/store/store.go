// Package store defines the durable outbox store abstraction.
//
// The store deals only in whole-sequence snapshots: Load returns every
// pending item, Save replaces them all. There is deliberately no item-level
// API — the single-snapshot contract is what makes atomicity cheap to reason
// about, at the cost of an O(n) rewrite per flush. Acceptable, because the
// outbox depth is bounded by the submission rate during an outage.
//
// Design principle: the outbox processor (and every layer above it) must
// ONLY touch persistence through this interface. That is what lets the
// processor run against memory.Store in tests and bolt.Store in production
// without a single code change.
package store

import "github.com/snehjoshi/contactrelay/internal/types"

// Store persists the ordered outbox sequence across process restarts.
//
// Implementations must guarantee that a Load never observes a partially
// written sequence from a concurrent Save in the same process.
type Store interface {
	// Load returns the persisted sequence in FIFO order. Absent or
	// unparseable persisted data degrades to an empty sequence — it is
	// never reported as an error. Only infrastructure failures (a closed
	// database, an unreadable file) produce a non-nil error.
	Load() ([]types.Item, error)

	// Save atomically replaces the entire persisted sequence, even when
	// items is empty.
	Save(items []types.Item) error

	// Close releases any underlying resources.
	Close() error
}
