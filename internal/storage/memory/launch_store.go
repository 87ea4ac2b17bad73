package memory

import (
	"context"
	"sync"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// LaunchStore is an in-memory implementation of storage.LaunchStore.
type LaunchStore struct {
	mu   sync.RWMutex
	data map[uint64]*domain.LaunchRecord // keyed by proposal id
}

// NewLaunchStore creates a new in-memory launch store.
func NewLaunchStore() *LaunchStore {
	return &LaunchStore{
		data: make(map[uint64]*domain.LaunchRecord),
	}
}

// Insert adds a new launch record. Returns ErrDuplicateKey if the
// proposal has already been launched.
func (s *LaunchStore) Insert(_ context.Context, l *domain.LaunchRecord) error {
	if l == nil || l.ProposalID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[l.ProposalID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[l.ProposalID] = l.Clone()
	return nil
}

// GetByProposal retrieves the launch record for a proposal.
func (s *LaunchStore) GetByProposal(_ context.Context, proposalID uint64) (*domain.LaunchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.data[proposalID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return l.Clone(), nil
}

// Delete removes a launch record. Used only to roll back a failed launch.
func (s *LaunchStore) Delete(_ context.Context, proposalID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[proposalID]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, proposalID)
	return nil
}

var _ storage.LaunchStore = (*LaunchStore)(nil)
