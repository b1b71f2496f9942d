package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// snapshotFile is the on-disk shape: read once at startup, written once
// at shutdown. Member ids are stringified in the maps, matching the
// /members response shape.
type snapshotFile struct {
	Offset  int64             `json:"offset"`
	Title   string            `json:"title"`
	Members map[string]Member `json:"members"`
	Tokens  map[string]int64  `json:"tokens"`
}

// Load reads a persisted snapshot into a fresh store. A missing file is
// not an error: it yields an empty store, which signals the caller to
// run a full membership refresh.
func Load(path string, logger *zap.Logger) (*Store, error) {
	s := NewStore(logger)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding state file: %w", err)
	}

	s.offset = snap.Offset
	s.title = snap.Title
	if snap.Members != nil {
		s.members = snap.Members
	}
	if snap.Tokens != nil {
		s.tokens = snap.Tokens
	}

	logger.Info("state loaded",
		zap.String("path", path),
		zap.Int("members", len(s.members)),
		zap.Int64("offset", s.offset),
	)
	return s, nil
}

// Save writes the snapshot via a temp file rename so a crash mid-write
// never truncates the previous snapshot.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	snap := snapshotFile{
		Offset:  s.offset,
		Title:   s.title,
		Members: make(map[string]Member, len(s.members)),
		Tokens:  make(map[string]int64, len(s.tokens)),
	}
	for id, m := range s.members {
		snap.Members[id] = m
	}
	for id, ts := range s.tokens {
		snap.Tokens[id] = ts
	}
	s.mu.RUnlock()

	raw, err := json.MarshalIndent(&snap, "", " ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

