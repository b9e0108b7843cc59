// Package memory is an in-memory store.Store. It backs the agent's ephemeral
// storage mode (outbox.storage: memory) and doubles as the deterministic
// store for outbox tests.
package memory

import (
	"sync"

	"github.com/snehjoshi/contactrelay/internal/store"
	"github.com/snehjoshi/contactrelay/internal/types"
)

// Store holds the outbox sequence in process memory. Snapshots are copied on
// the way in and out so callers can never alias the stored slice.
type Store struct {
	mu    sync.Mutex
	items []types.Item
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Load returns a copy of the current sequence.
func (s *Store) Load() ([]types.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Item, len(s.items))
	copy(out, s.items)
	return out, nil
}

// Save replaces the sequence with a copy of items.
func (s *Store) Save(items []types.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]types.Item, len(items))
	copy(s.items, items)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
