package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNew_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	n1, err := New(dir, "auto")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := ulid.ParseStrict(string(n1.ID())); err != nil {
		t.Fatalf("generated ID %q is not a ULID: %v", n1.ID(), err)
	}

	// A second start in the same data dir loads the same identity.
	n2, err := New(dir, "")
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	if n2.ID() != n1.ID() {
		t.Errorf("identity must be stable across restarts: %s vs %s", n1.ID(), n2.ID())
	}
}

func TestNew_Override(t *testing.T) {
	want := MustNewID()
	n, err := New(t.TempDir(), want)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if string(n.ID()) != want {
		t.Errorf("ID: want %s, got %s", want, n.ID())
	}
}

func TestNew_InvalidOverride(t *testing.T) {
	if _, err := New(t.TempDir(), "not-a-ulid"); err == nil {
		t.Fatal("want error for malformed ID override")
	}
}

func TestNew_EmptyDataDir(t *testing.T) {
	if _, err := New("", "auto"); err == nil {
		t.Fatal("want error for empty data dir")
	}
}

func TestNew_CorruptIDFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, agentIDFile), []byte("garbage\n"), 0o640); err != nil {
		t.Fatalf("write id file: %v", err)
	}
	if _, err := New(dir, "auto"); err == nil {
		t.Fatal("want error for corrupt persisted ID")
	}
}

func TestNewID_MonotonicWithinProcess(t *testing.T) {
	prev := MustNewID()
	for i := 0; i < 1000; i++ {
		next := MustNewID()
		if next <= prev {
			t.Fatalf("IDs must be strictly increasing: %s then %s", prev, next)
		}
		prev = next
	}
}
