package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// ProposalStore is an in-memory implementation of storage.ProposalStore.
type ProposalStore struct {
	mu     sync.RWMutex
	data   map[uint64]*domain.Proposal
	nextID uint64
}

// NewProposalStore creates a new in-memory proposal store.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{
		data: make(map[uint64]*domain.Proposal),
	}
}

// NextID allocates the next monotonic proposal id, starting at 1.
func (s *ProposalStore) NextID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	return s.nextID, nil
}

// Insert adds a new proposal. Returns ErrDuplicateKey if id exists.
func (s *ProposalStore) Insert(_ context.Context, p *domain.Proposal) error {
	if p == nil || p.ID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[p.ID] = p.Clone()
	return nil
}

// Get retrieves a proposal by id. Returns ErrNotFound if not exists.
func (s *ProposalStore) Get(_ context.Context, id uint64) (*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// Update replaces a stored proposal. Returns ErrNotFound if not exists.
func (s *ProposalStore) Update(_ context.Context, p *domain.Proposal) error {
	if p == nil || p.ID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; !exists {
		return storage.ErrNotFound
	}
	s.data[p.ID] = p.Clone()
	return nil
}

// ListByStatus retrieves proposals in the given status, ordered by id ASC.
func (s *ProposalStore) ListByStatus(_ context.Context, status domain.ProposalStatus) ([]*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Proposal
	for _, p := range s.data {
		if p.Status == status {
			result = append(result, p.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

var _ storage.ProposalStore = (*ProposalStore)(nil)
