package breaker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/unburden/solvency/internal/model"
)

// ErrStateNotFound is returned when no persisted breaker state exists yet.
var ErrStateNotFound = errors.New("breaker: state not found")

// StateStore persists breaker snapshots keyed by stage.
type StateStore interface {
	Load() (map[string]model.BreakerSnapshot, error)
	Save(map[string]model.BreakerSnapshot) error
}

// FileStateStore stores breaker state as a JSON document.
type FileStateStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStateStore creates a store at <dir>/breakers.json
func NewFileStateStore(dir string) *FileStateStore {
	return &FileStateStore{path: filepath.Join(dir, "breakers.json")}
}

// Path returns the state file location
func (s *FileStateStore) Path() string {
	return s.path
}

// Load reads the persisted state if present.
func (s *FileStateStore) Load() (map[string]model.BreakerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	var state map[string]model.BreakerSnapshot
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return state, nil
}

// Save writes the snapshot set through a temp file and rename so a crash
// never leaves a half-written document.
func (s *FileStateStore) Save(state map[string]model.BreakerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// MemoryStateStore keeps breaker state in memory (tests, ephemeral runs)
type MemoryStateStore struct {
	mu    sync.Mutex
	state map[string]model.BreakerSnapshot
	saves int
}

// Load returns the last saved state
func (s *MemoryStateStore) Load() (map[string]model.BreakerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrStateNotFound
	}
	out := make(map[string]model.BreakerSnapshot, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out, nil
}

// Save replaces the stored state
func (s *MemoryStateStore) Save(state map[string]model.BreakerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = make(map[string]model.BreakerSnapshot, len(state))
	for k, v := range state {
		s.state[k] = v
	}
	s.saves++
	return nil
}

// Saves reports how many times Save was called
func (s *MemoryStateStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
