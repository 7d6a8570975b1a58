package tokenstore

import (
	"sync"

	"github.com/evlasova/capgallery/internal/model"
)

// MemStore is an in-memory store with FileStore semantics. Used by tests and
// one-shot invocations that must not touch the filesystem.
type MemStore struct {
	mu       sync.Mutex
	tokens   model.Tokens
	identity *model.Identity
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Save(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if access != "" {
		s.tokens.Access = access
	}
	if refresh != "" {
		s.tokens.Refresh = refresh
	}
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = model.Tokens{}
	s.identity = nil
	return nil
}

func (s *MemStore) Access() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Access
}

func (s *MemStore) Refresh() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Refresh
}

func (s *MemStore) SaveIdentity(id model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := id
	s.identity = &cpy
	return nil
}

func (s *MemStore) Identity() (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return model.Identity{}, false
	}
	return *s.identity, true
}

func (s *MemStore) ClearIdentity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	return nil
}
