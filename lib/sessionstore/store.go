// Copyright 2026 The Copilot Synapse Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstore persists the mapping from a working directory to
// its Copilot session ID, so that a restarted proxy can resume the
// conversation it was having before.
//
// Each working directory gets one small JSON file in the store root,
// named "copilot_session_<slug>.json" where <slug> is the slugified
// absolute path of the directory. Writes are atomic: the record is
// written to a temporary file in the same directory and renamed over
// the previous one, so a crash mid-write never leaves a truncated file
// behind.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/simonjj/copilot-sdk-synapse-proxy/lib/config"
)

// record is the on-disk shape of a session file.
type record struct {
	SessionID string `json:"session_id"`
}

// Store reads and writes session records under a root directory.
type Store struct {
	root string
	log  *slog.Logger
}

// New returns a Store rooted at dir. The directory is created on the
// first Save; Load tolerates its absence.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: dir, log: logger}
}

// Path returns the session file path for a working directory.
func (s *Store) Path(workDir string) string {
	slug := config.Slugify(workDir)
	if slug == "" {
		slug = "default"
	}
	return filepath.Join(s.root, fmt.Sprintf("copilot_session_%s.json", slug))
}

// Load returns the stored session ID for workDir. The second return is
// false when no record exists or the record is unreadable; a corrupt
// file is logged and treated as absent, since the caller's fallback
// (starting a fresh session) is always safe.
func (s *Store) Load(workDir string) (string, bool) {
	path := s.Path(workDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("unreadable session file", "path", path, "error", err)
		}
		return "", false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("corrupt session file", "path", path, "error", err)
		return "", false
	}
	if rec.SessionID == "" {
		return "", false
	}
	return rec.SessionID, true
}

// Save durably records sessionID for workDir, replacing any previous
// record. The write is atomic with respect to concurrent readers.
func (s *Store) Save(workDir, sessionID string) error {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return fmt.Errorf("creating store root: %w", err)
	}

	data, err := json.Marshal(record{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}

	path := s.Path(workDir)
	tmp, err := os.CreateTemp(s.root, ".session-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing session record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing session record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing session record: %w", err)
	}

	s.log.Debug("saved session record", "path", path, "session_id", sessionID)
	return nil
}

// Delete removes the record for workDir. Missing records are not an
// error.
func (s *Store) Delete(workDir string) error {
	if err := os.Remove(s.Path(workDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session record: %w", err)
	}
	return nil
}
