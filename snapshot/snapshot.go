// Package snapshot keeps the client's small amount of durable state in one
// JSON file.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fabfab/recollect/selection"
)

type ResultRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Synthesis is one finished (or failed) synthesis as shown in history.
type Synthesis struct {
	Query      string    `json:"query"`
	StackID    string    `json:"stack_id,omitempty"`
	IDs        []string  `json:"artifact_ids"`
	Text       string    `json:"text"`
	State      string    `json:"state"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type Snapshot struct {
	Version    int               `json:"version"`
	Query      string            `json:"query,omitempty"`
	StackID    string            `json:"stack_id,omitempty"`
	Results    []ResultRef       `json:"results,omitempty"`
	Selection  []selection.Entry `json:"selection,omitempty"`
	Syntheses  []Synthesis       `json:"syntheses,omitempty"`
	SafariSync time.Time         `json:"safari_last_sync,omitempty"`
	NotesSync  time.Time         `json:"notes_last_sync,omitempty"`
	NotesID    string            `json:"notes_recurring_import_id,omitempty"`
	SavedAt    time.Time         `json:"saved_at"`
}

const currentVersion = 1

// AddSynthesis prepends entry and keeps at most limit entries.
func (s *Snapshot) AddSynthesis(entry Synthesis, limit int) {
	s.Syntheses = append([]Synthesis{entry}, s.Syntheses...)
	if limit > 0 && len(s.Syntheses) > limit {
		s.Syntheses = s.Syntheses[:limit]
	}
}

// Store serialises access to the snapshot file.
type Store struct {
	path       string
	maxHistory int
	mu         sync.Mutex
}

func NewStore(path string, maxHistory int) *Store {
	return &Store{path: path, maxHistory: maxHistory}
}

func (s *Store) Path() string { return s.path }

func (s *Store) MaxHistory() int { return s.maxHistory }

// Load reads the file. A missing file is an empty snapshot.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update loads, applies fn and writes the result back atomically.
func (s *Store) Update(fn func(*Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	fn(&snap)
	return s.write(snap)
}

func (s *Store) load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{Version: currentVersion}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	return snap, nil
}

func (s *Store) write(snap Snapshot) error {
	snap.Version = currentVersion
	snap.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
