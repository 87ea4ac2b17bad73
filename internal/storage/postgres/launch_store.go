package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// LaunchStore implements storage.LaunchStore using PostgreSQL.
type LaunchStore struct {
	pool *Pool
}

// NewLaunchStore creates a new LaunchStore.
func NewLaunchStore(pool *Pool) *LaunchStore {
	return &LaunchStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LaunchStore = (*LaunchStore)(nil)

// Insert adds a launch record. Returns ErrDuplicateKey if the proposal
// already has one.
func (s *LaunchStore) Insert(ctx context.Context, l *domain.LaunchRecord) error {
	if l == nil || l.ProposalID == 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO launches (proposal_id, market, launched_at)
		VALUES ($1, $2, $3)
	`

	_, err := s.pool.Exec(ctx, query, int64(l.ProposalID), l.Market.Hex(), l.LaunchedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert launch: %w", err)
	}
	return nil
}

// GetByProposal retrieves a launch record. Returns ErrNotFound if not exists.
func (s *LaunchStore) GetByProposal(ctx context.Context, proposalID uint64) (*domain.LaunchRecord, error) {
	query := `SELECT proposal_id, market, launched_at FROM launches WHERE proposal_id = $1`

	var (
		l      domain.LaunchRecord
		id     int64
		market string
	)
	err := s.pool.QueryRow(ctx, query, int64(proposalID)).Scan(&id, &market, &l.LaunchedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan launch: %w", err)
	}
	l.ProposalID = uint64(id)
	l.Market = common.HexToAddress(market)
	return &l, nil
}

// Delete removes a launch record. Returns ErrNotFound if not exists.
func (s *LaunchStore) Delete(ctx context.Context, proposalID uint64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM launches WHERE proposal_id = $1`, int64(proposalID))
	if err != nil {
		return fmt.Errorf("delete launch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
