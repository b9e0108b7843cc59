// Package archive retains outbox items that exhausted their delivery tries.
//
// Without it an abandoned submission would survive only as a "retry" /
// "abandoned" event in the activity history. The archive keeps the item
// itself in a bbolt bucket so an operator can list what was given up on and
// replay it back into the outbox once the endpoint recovers.
package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/contactrelay/internal/types"
)

var bucketArchive = []byte("archive")

// Record is one abandoned item together with why and when it was abandoned.
type Record struct {
	Item        types.Item `json:"item"`
	LastError   string     `json:"last_error"`
	AbandonedAt time.Time  `json:"abandoned_at"`
}

// Store is a bbolt-backed archive. Keys are item ULIDs, so iteration order
// is creation order.
type Store struct {
	db *bbolt.DB
}

// Open creates (or reopens) the archive database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketArchive)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Put records an abandoned item. A second Put for the same item ID replaces
// the earlier record.
func (s *Store) Put(item types.Item, deliveryErr string) error {
	rec := Record{Item: item, LastError: deliveryErr, AbandonedAt: time.Now()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal %s: %w", item.ID, err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArchive).Put([]byte(item.ID), raw)
	}); err != nil {
		return fmt.Errorf("archive: put %s: %w", item.ID, err)
	}
	return nil
}

// List returns every archived record in abandonment (key) order.
// Records that no longer parse are skipped rather than failing the listing.
func (s *Store) List() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArchive).ForEach(func(_, v []byte) error {
			var rec Record
			if jerr := json.Unmarshal(v, &rec); jerr == nil {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return out, nil
}

// Take removes up to n records (oldest first) and returns their items.
// The removal and the read happen in one transaction, so a replayed item can
// never be taken twice.
func (s *Store) Take(n int) ([]types.Item, error) {
	if n <= 0 {
		return nil, nil
	}
	var items []types.Item
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketArchive)
		c := b.Cursor()

		var taken [][]byte
		for k, v := c.First(); k != nil && len(items) < n; k, v = c.Next() {
			var rec Record
			if jerr := json.Unmarshal(v, &rec); jerr != nil {
				continue
			}
			items = append(items, rec.Item)
			key := make([]byte, len(k))
			copy(key, k)
			taken = append(taken, key)
		}
		for _, k := range taken {
			if derr := b.Delete(k); derr != nil {
				return derr
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: take: %w", err)
	}
	return items, nil
}

// Len returns the number of archived records.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketArchive).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archive: len: %w", err)
	}
	return n, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
