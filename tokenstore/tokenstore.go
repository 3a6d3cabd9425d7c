// Package tokenstore persists OAuth tokens as a JSON file. The file is
// rewritten via a temp-file rename after every successful refresh so a
// crash mid-write never corrupts the stored tokens.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tokens is the persisted shape.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scope        string    `json:"scope,omitempty"`
}

// ErrNotFound is returned when no token file exists yet.
var ErrNotFound = errors.New("no stored tokens")

// Store reads and writes one token file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a store for path; the directory is created on first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the token file path.
func (s *Store) Path() string { return s.path }

// Load reads the stored tokens.
func (s *Store) Load() (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Tokens{}, ErrNotFound
		}
		return Tokens{}, fmt.Errorf("read token file: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return Tokens{}, fmt.Errorf("parse token file %s: %w", s.path, err)
	}
	return t, nil
}

// Save writes tokens atomically (temp file + rename).
func (s *Store) Save(t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
