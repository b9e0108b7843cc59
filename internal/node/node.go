// Package node manages the identity of this contactrelay agent instance.
// Every agent has a persistent ULID that is generated on first start and
// stored in the data directory. The identity shows up in the startup log and
// the /health response so that fleets of agents can be told apart.
package node

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const agentIDFile = "agent_id"

// ID is a ULID string that uniquely identifies a contactrelay process.
// It is stable across restarts within the same data directory.
type ID string

func (id ID) String() string { return string(id) }

// Node holds the persistent identity of this agent instance.
type Node struct {
	id      ID
	dataDir string
}

// New returns a Node whose ID is loaded from dataDir/agent_id.
// If the file does not exist a new ULID is generated and written.
// An override of "auto" or "" means the file-based ID is used; any other
// value must be a well-formed ULID (useful in tests / container envs).
func New(dataDir, override string) (*Node, error) {
	if dataDir == "" {
		return nil, errors.New("node: dataDir must not be empty")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	if override != "" && override != "auto" {
		if _, err := ulid.ParseStrict(override); err != nil {
			return nil, fmt.Errorf("node: invalid id override %q: %w", override, err)
		}
		return &Node{id: ID(override), dataDir: dataDir}, nil
	}

	id, err := loadOrGenerate(dataDir)
	if err != nil {
		return nil, err
	}
	return &Node{id: id, dataDir: dataDir}, nil
}

// ID returns the agent's stable ULID string.
func (n *Node) ID() ID { return n.id }

// DataDir returns the root data directory for this agent.
func (n *Node) DataDir() string { return n.dataDir }

func loadOrGenerate(dataDir string) (ID, error) {
	path := filepath.Join(dataDir, agentIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, perr := ulid.ParseStrict(id); perr != nil {
			return "", fmt.Errorf("node: persisted id %q is invalid: %w", id, perr)
		}
		return ID(id), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("node: read id file: %w", err)
	}

	id, err := NewID()
	if err != nil {
		return "", fmt.Errorf("node: generate id: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("node: persist id: %w", err)
	}
	return ID(id), nil
}

// monoEntropy is a package-level monotone entropy source shared across all
// NewID calls. A single shared source keeps ULIDs lexicographically ordered
// even when generated within the same millisecond — the outbox relies on
// this to recover enqueue order from item IDs.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a fresh time-ordered ULID. Used for the agent identity and
// for outbox item IDs.
func NewID() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), monoEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is like NewID but panics on error. Use only in tests or init code.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("node.MustNewID: %v", err))
	}
	return id
}
