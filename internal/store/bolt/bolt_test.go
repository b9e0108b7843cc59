package bolt

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	bboltdb "go.etcd.io/bbolt"

	"github.com/snehjoshi/contactrelay/internal/types"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoad_Fresh(t *testing.T) {
	s := openTemp(t)
	items, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("fresh store: want empty, got %d items", len(items))
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := openTemp(t)

	in := []types.Item{
		{ID: "01HZX0000000000000000000A1", Payload: json.RawMessage(`{"phone":"+1555"}`), EnqueuedAt: time.Now().UTC().Truncate(time.Second), Tries: 0},
		{ID: "01HZX0000000000000000000A2", Payload: json.RawMessage(`{"phone":"+1666"}`), EnqueuedAt: time.Now().UTC().Truncate(time.Second), Tries: 3},
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("want 2 items, got %d", len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID {
			t.Errorf("item %d ID: want %s, got %s", i, in[i].ID, out[i].ID)
		}
		if string(out[i].Payload) != string(in[i].Payload) {
			t.Errorf("item %d payload: want %s, got %s", i, in[i].Payload, out[i].Payload)
		}
		if out[i].Tries != in[i].Tries {
			t.Errorf("item %d tries: want %d, got %d", i, in[i].Tries, out[i].Tries)
		}
		if !out[i].EnqueuedAt.Equal(in[i].EnqueuedAt) {
			t.Errorf("item %d enqueued_at: want %v, got %v", i, in[i].EnqueuedAt, out[i].EnqueuedAt)
		}
	}
}

func TestSave_NilClearsSequence(t *testing.T) {
	s := openTemp(t)
	if err := s.Save([]types.Item{{ID: "x", Payload: json.RawMessage(`{}`)}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(nil); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}
	items, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("after Save(nil): want empty, got %d items", len(items))
	}
}

func TestLoad_CorruptBlobDegradesToEmpty(t *testing.T) {
	s := openTemp(t)
	if err := s.Save([]types.Item{{ID: "x", Payload: json.RawMessage(`{}`)}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Overwrite the persisted blob with garbage behind the store's back.
	err := s.db.Update(func(tx *bboltdb.Tx) error {
		return tx.Bucket(bucketOutbox).Put(keyItems, []byte(`{not json[`))
	})
	if err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	items, err := s.Load()
	if err != nil {
		t.Fatalf("Load after corruption: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("corrupt blob must degrade to empty, got %d items", len(items))
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := []types.Item{{ID: "keep", Payload: json.RawMessage(`{"n":1}`), EnqueuedAt: time.Now(), Tries: 2}}
	if err := s1.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	items, err := s2.Load()
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if len(items) != 1 || items[0].ID != "keep" || items[0].Tries != 2 {
		t.Errorf("persisted sequence must survive reopen, got %+v", items)
	}
}
