// Package tokenstore persists the access/refresh credential pair and the
// cached user identity across process restarts.
package tokenstore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/evlasova/capgallery/internal/model"
)

const (
	tokensFile   = "tokens.json"
	identityFile = "identity.json"
)

// DefaultDir returns the per-user state directory for the client.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "capgallery")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "capgallery")
}

// FileStore keeps tokens and identity as JSON files under a directory.
// All writes are whole-file replacements; no network calls are made.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir ("" means DefaultDir).
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir()
	}
	return &FileStore{dir: dir}
}

func (s *FileStore) tokensPath() string   { return filepath.Join(s.dir, tokensFile) }
func (s *FileStore) identityPath() string { return filepath.Join(s.dir, identityFile) }

func (s *FileStore) readTokens() model.Tokens {
	var t model.Tokens
	b, err := os.ReadFile(s.tokensPath())
	if err != nil {
		return model.Tokens{}
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return model.Tokens{}
	}
	return t
}

func (s *FileStore) writeJSON(path string, v any) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Save writes whichever of the two values is non-empty without clearing the other.
func (s *FileStore) Save(access, refresh string) error {
	t := s.readTokens()
	if access != "" {
		t.Access = access
	}
	if refresh != "" {
		t.Refresh = refresh
	}
	return s.writeJSON(s.tokensPath(), t)
}

// Clear removes both tokens and the cached identity. Idempotent.
func (s *FileStore) Clear() error {
	errTok := os.Remove(s.tokensPath())
	errID := s.ClearIdentity()
	if errTok != nil && !errors.Is(errTok, fs.ErrNotExist) {
		return errTok
	}
	return errID
}

// Access returns the stored access token or "" when absent. Pure read.
func (s *FileStore) Access() string { return s.readTokens().Access }

// Refresh returns the stored refresh token or "" when absent. Pure read.
func (s *FileStore) Refresh() string { return s.readTokens().Refresh }

// SaveIdentity caches the user identity for optimistic startup reads.
func (s *FileStore) SaveIdentity(id model.Identity) error {
	return s.writeJSON(s.identityPath(), id)
}

// Identity returns the cached identity, if any.
func (s *FileStore) Identity() (model.Identity, bool) {
	var id model.Identity
	b, err := os.ReadFile(s.identityPath())
	if err != nil {
		return model.Identity{}, false
	}
	if err := json.Unmarshal(b, &id); err != nil || id.Username == "" {
		return model.Identity{}, false
	}
	return id, true
}

// ClearIdentity removes the cached identity. Idempotent.
func (s *FileStore) ClearIdentity() error {
	err := os.Remove(s.identityPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
