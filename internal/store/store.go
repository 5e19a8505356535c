// Package store persists aggregated command statistics as a single JSON document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ttrace/internal/ledger"
)

// renameFile is swapped in tests to simulate a crash between write and rename.
var renameFile = os.Rename

// Store reads and atomically replaces the statistics file at a fixed path.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the statistics file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted statistics. A missing file is a cold start and
// yields an empty map; anything unreadable is an error.
func (s *Store) Load() (ledger.Stats, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ledger.Stats{}, nil
		}
		return nil, fmt.Errorf("read stats %s: %w", s.path, err)
	}

	var stats ledger.Stats
	if err := json.Unmarshal(b, &stats); err != nil {
		return nil, fmt.Errorf("decode stats %s: %w", s.path, err)
	}
	if stats == nil {
		stats = ledger.Stats{}
	}
	return stats, nil
}

// Save writes stats next to the final path and renames it into place, so the
// file on disk is always one complete snapshot or the other.
func (s *Store) Save(stats ledger.Stats) error {
	if stats == nil {
		stats = ledger.Stats{}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}

	b, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := writeSynced(tmp, b); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := renameFile(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func writeSynced(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
