// Package credstore persists the current session credential between runs:
// the bearer token and the cached user profile blob live in a single JSON
// file so session end removes both in one step. The store performs no token
// validation; it is an unconditional byte store owned by the session manager.
package credstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"tunneldeck/internal/logging"
)

type Credential struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user,omitempty"`
}

type Store struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

func DefaultPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "tunneldeck", "credentials.json"), nil
}

func New(logger *logging.Logger) (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewAt(path, logger), nil
}

func NewAt(path string, logger *logging.Logger) *Store {
	return &Store{path: path, logger: logger}
}

func (s *Store) Load() (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Credential, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, false, err
	}
	if cred.Token == "" {
		return Credential{}, false, nil
	}
	return cred, true, nil
}

func (s *Store) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		return err
	}
	s.logger.Debug("credential saved", logging.Field("path", s.path))
	return nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Debug("credential cleared", logging.Field("path", s.path))
	return nil
}
