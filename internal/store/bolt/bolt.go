// Package bolt is the production store.Store implementation, backed by a
// single bbolt database file in the agent's data directory.
//
// bbolt is chosen because it is:
//   - Pure Go (no CGO, no external process)
//   - ACID — a Load never sees a half-written Save, even after a crash
//   - Single file (outbox.db inside the data directory)
//   - Well-maintained (used by etcd in production)
//
// The whole outbox sequence is serialised as one JSON array stored under a
// fixed key. That keeps the snapshot contract trivially atomic: the array is
// swapped in a single bbolt write transaction.
package bolt

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/contactrelay/internal/store"
	"github.com/snehjoshi/contactrelay/internal/types"
)

var (
	bucketOutbox = []byte("outbox")
	keyItems     = []byte("items")
)

// Store is the bbolt-backed outbox store.
type Store struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Open creates (or reopens) the outbox database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOutbox)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the persisted sequence. Nothing persisted, or a blob that no
// longer parses, yields an empty sequence: a corrupt outbox must degrade to
// "nothing pending", never wedge the agent.
func (s *Store) Load() ([]types.Item, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketOutbox).Get(keyItems); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: load: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var items []types.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		slog.Warn("outbox blob unparseable, starting empty", "err", err)
		return nil, nil
	}
	return items, nil
}

// Save replaces the entire persisted sequence in one write transaction.
func (s *Store) Save(items []types.Item) error {
	if items == nil {
		items = []types.Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("bolt: marshal: %w", err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOutbox).Put(keyItems, raw)
	}); err != nil {
		return fmt.Errorf("bolt: save: %w", err)
	}
	return nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
