package storage

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
)

// AgentStore provides access to agents storage.
type AgentStore interface {
	// Put inserts or replaces an identity, keyed by address.
	Put(ctx context.Context, a *domain.AgentIdentity) error

	// Get retrieves an identity by address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, addr common.Address) (*domain.AgentIdentity, error)

	// List retrieves all identities, ordered by address.
	List(ctx context.Context) ([]*domain.AgentIdentity, error)
}

// ProposalStore provides access to proposals storage.
type ProposalStore interface {
	// NextID allocates the next monotonic proposal id.
	NextID(ctx context.Context) (uint64, error)

	// Insert adds a new proposal. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, p *domain.Proposal) error

	// Get retrieves a proposal by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id uint64) (*domain.Proposal, error)

	// Update replaces a stored proposal. Returns ErrNotFound if not exists.
	Update(ctx context.Context, p *domain.Proposal) error

	// ListByStatus retrieves proposals in the given status, ordered by id ASC.
	ListByStatus(ctx context.Context, status domain.ProposalStatus) ([]*domain.Proposal, error)
}

// MarketStore provides access to markets storage.
type MarketStore interface {
	// Insert adds a new market. Returns ErrDuplicateKey if address exists.
	Insert(ctx context.Context, m *domain.Market) error

	// Get retrieves a market by address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, addr common.Address) (*domain.Market, error)

	// Update replaces a stored market. Returns ErrNotFound if not exists.
	Update(ctx context.Context, m *domain.Market) error

	// Delete removes a market. Used only to roll back a failed launch.
	Delete(ctx context.Context, addr common.Address) error

	// List retrieves all markets, ordered by creation time ASC.
	List(ctx context.Context) ([]*domain.Market, error)
}

// TradeRecordStore provides access to trade_records storage.
type TradeRecordStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error)

	// GetByMarket retrieves all trades for a market, ordered by seq ASC.
	GetByMarket(ctx context.Context, market common.Address) ([]*domain.TradeRecord, error)
}

// TradeAnalyticsStore archives executed trades in the analytics
// database for time-range queries and volume aggregation. Unlike
// TradeRecordStore it is an eventually-consistent sink, not the ledger
// of record.
type TradeAnalyticsStore interface {
	// InsertBulk archives a batch of trades. Fails the entire batch on a
	// duplicate (market, seq).
	InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error

	// GetByTimeRange retrieves a market's trades within [start, end]
	// (inclusive, Unix ms), ordered by executed_at ASC.
	GetByTimeRange(ctx context.Context, market common.Address, start, end int64) ([]*domain.TradeRecord, error)

	// VolumeBySide sums gross wei volume per side for a market within
	// [start, end] (inclusive, Unix ms).
	VolumeBySide(ctx context.Context, market common.Address, start, end int64) (map[domain.TradeSide]*big.Int, error)
}

// LaunchStore provides access to launches storage: the proposal -> market
// linkage written by the orchestrator.
type LaunchStore interface {
	// Insert adds a new launch record. Returns ErrDuplicateKey if the
	// proposal has already been launched.
	Insert(ctx context.Context, l *domain.LaunchRecord) error

	// GetByProposal retrieves the launch record for a proposal.
	// Returns ErrNotFound if the proposal has not been launched.
	GetByProposal(ctx context.Context, proposalID uint64) (*domain.LaunchRecord, error)

	// Delete removes a launch record. Used only to roll back a failed launch.
	Delete(ctx context.Context, proposalID uint64) error
}
