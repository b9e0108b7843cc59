package memory

import (
	"encoding/json"
	"testing"

	"github.com/snehjoshi/contactrelay/internal/types"
)

func TestLoad_Fresh(t *testing.T) {
	s := New()
	items, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("fresh store: want empty, got %d items", len(items))
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := New()
	in := []types.Item{
		{ID: "a", Payload: json.RawMessage(`1`), Tries: 0},
		{ID: "b", Payload: json.RawMessage(`2`), Tries: 4},
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 || out[0].ID != "a" || out[1].Tries != 4 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestLoad_ReturnsCopy(t *testing.T) {
	s := New()
	if err := s.Save([]types.Item{{ID: "a", Tries: 0}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	first, _ := s.Load()
	first[0].Tries = 99

	second, _ := s.Load()
	if second[0].Tries != 0 {
		t.Error("mutating a loaded snapshot must not leak into the store")
	}
}

func TestSave_CopiesInput(t *testing.T) {
	s := New()
	in := []types.Item{{ID: "a", Tries: 0}}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	in[0].Tries = 99

	out, _ := s.Load()
	if out[0].Tries != 0 {
		t.Error("mutating the saved slice must not leak into the store")
	}
}
