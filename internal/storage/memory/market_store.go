package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// MarketStore is an in-memory implementation of storage.MarketStore.
type MarketStore struct {
	mu   sync.RWMutex
	data map[common.Address]*domain.Market
}

// NewMarketStore creates a new in-memory market store.
func NewMarketStore() *MarketStore {
	return &MarketStore{
		data: make(map[common.Address]*domain.Market),
	}
}

// Insert adds a new market. Returns ErrDuplicateKey if address exists.
func (s *MarketStore) Insert(_ context.Context, m *domain.Market) error {
	if m == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.Address]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[m.Address] = m.Clone()
	return nil
}

// Get retrieves a market by address. Returns ErrNotFound if not exists.
func (s *MarketStore) Get(_ context.Context, addr common.Address) (*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// Update replaces a stored market. Returns ErrNotFound if not exists.
func (s *MarketStore) Update(_ context.Context, m *domain.Market) error {
	if m == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.Address]; !exists {
		return storage.ErrNotFound
	}
	s.data[m.Address] = m.Clone()
	return nil
}

// Delete removes a market. Used only to roll back a failed launch.
func (s *MarketStore) Delete(_ context.Context, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[addr]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, addr)
	return nil
}

// List retrieves all markets, ordered by creation time ASC.
func (s *MarketStore) List(_ context.Context) ([]*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Market, 0, len(s.data))
	for _, m := range s.data {
		result = append(result, m.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ProposalID < result[j].ProposalID
	})

	return result, nil
}

var _ storage.MarketStore = (*MarketStore)(nil)
