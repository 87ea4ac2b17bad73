package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// AgentStore is an in-memory implementation of storage.AgentStore.
type AgentStore struct {
	mu   sync.RWMutex
	data map[common.Address]*domain.AgentIdentity
}

// NewAgentStore creates a new in-memory agent store.
func NewAgentStore() *AgentStore {
	return &AgentStore{
		data: make(map[common.Address]*domain.AgentIdentity),
	}
}

// Put inserts or replaces an identity, keyed by address.
func (s *AgentStore) Put(_ context.Context, a *domain.AgentIdentity) error {
	if a == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[a.Address] = a.Clone()
	return nil
}

// Get retrieves an identity by address. Returns ErrNotFound if not exists.
func (s *AgentStore) Get(_ context.Context, addr common.Address) (*domain.AgentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// List retrieves all identities, ordered by address.
func (s *AgentStore) List(_ context.Context) ([]*domain.AgentIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.AgentIdentity, 0, len(s.data))
	for _, a := range s.data {
		result = append(result, a.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Address[:], result[j].Address[:]) < 0
	})

	return result, nil
}

var _ storage.AgentStore = (*AgentStore)(nil)
