// Package users stores the credentials of the logged-in user.
package users

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileName is the user file inside the data directory.
const FileName = "user.yaml"

// User is the account the daemon acts on behalf of when talking to the
// remote service.
type User struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Email       string `yaml:"email,omitempty"`
	Login       string `yaml:"login,omitempty"`
	AccessToken string `yaml:"access_token"`
}

// Store reads and writes the user file. It is safe for concurrent use.
type Store struct {
	path string
	mu   sync.RWMutex
}

// NewStore returns a store backed by dataDir/user.yaml.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, FileName)}
}

// GetUser returns the logged-in user, or nil if nobody is logged in.
func (s *Store) GetUser() (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read user file: %w", err)
	}

	var user User
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user file: %w", err)
	}
	if user.AccessToken == "" {
		return nil, nil
	}

	return &user, nil
}

// SetUser persists u as the logged-in user.
func (s *Store) SetUser(u *User) error {
	if u == nil || u.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}

	data, err := yaml.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write user file: %w", err)
	}

	return nil
}

// DeleteUser logs the user out.
func (s *Store) DeleteUser() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete user file: %w", err)
	}
	return nil
}
