package archive

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/snehjoshi/contactrelay/internal/node"
	"github.com/snehjoshi/contactrelay/internal/types"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func archivedItem(n int) types.Item {
	return types.Item{
		ID:         node.MustNewID(),
		Payload:    json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
		EnqueuedAt: time.Now(),
		Tries:      5,
	}
}

func TestPutList(t *testing.T) {
	s := openTemp(t)

	first := archivedItem(1)
	second := archivedItem(2)
	if err := s.Put(first, "endpoint returned 500"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(second, "endpoint returned 503"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	recs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	// ULID keys sort by creation time.
	if recs[0].Item.ID != first.ID || recs[1].Item.ID != second.ID {
		t.Errorf("listing order: want [%s %s], got [%s %s]",
			first.ID, second.ID, recs[0].Item.ID, recs[1].Item.ID)
	}
	if recs[0].LastError != "endpoint returned 500" {
		t.Errorf("last error: got %q", recs[0].LastError)
	}
	if recs[0].AbandonedAt.IsZero() {
		t.Error("record must carry an abandonment time")
	}
}

func TestPut_SameIDReplaces(t *testing.T) {
	s := openTemp(t)
	item := archivedItem(1)
	if err := s.Put(item, "first failure"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(item, "second failure"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	recs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].LastError != "second failure" {
		t.Fatalf("second Put must replace the record, got %+v", recs)
	}
}

func TestTake_RemovesOldestFirst(t *testing.T) {
	s := openTemp(t)
	first := archivedItem(1)
	second := archivedItem(2)
	third := archivedItem(3)
	for _, it := range []types.Item{first, second, third} {
		if err := s.Put(it, "err"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	taken, err := s.Take(2)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if len(taken) != 2 || taken[0].ID != first.ID || taken[1].ID != second.ID {
		t.Fatalf("want the two oldest, got %+v", taken)
	}

	n, err := s.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("remaining records: want 1, got %d", n)
	}

	// A second Take must never see already-taken items.
	again, err := s.Take(10)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if len(again) != 1 || again[0].ID != third.ID {
		t.Fatalf("want only the last record, got %+v", again)
	}
}

func TestTake_ZeroOrNegative(t *testing.T) {
	s := openTemp(t)
	if err := s.Put(archivedItem(1), "err"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for _, n := range []int{0, -3} {
		items, err := s.Take(n)
		if err != nil {
			t.Fatalf("Take(%d): %v", n, err)
		}
		if len(items) != 0 {
			t.Fatalf("Take(%d): want nothing, got %d items", n, len(items))
		}
	}
}
