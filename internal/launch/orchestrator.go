// Package launch bridges governance and trading: it turns a passed
// proposal into a live market in one atomic step, and moves graduated
// markets' liquidity out to an external venue.
package launch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/market"
	"github.com/iono-such-things/headless-markets/internal/proposal"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// ProposalExecutor is the slice of the proposal engine the orchestrator
// drives. *proposal.Engine satisfies it.
type ProposalExecutor interface {
	Get(ctx context.Context, proposalID uint64) (*domain.Proposal, error)
	MarkExecuted(ctx context.Context, caller common.Address, proposalID uint64) (*domain.Proposal, error)
}

// MarketEngine is the slice of the market engine the orchestrator
// drives. *market.Engine satisfies it.
type MarketEngine interface {
	Create(ctx context.Context, m *domain.Market) error
	Remove(ctx context.Context, addr common.Address) error
	Get(ctx context.Context, addr common.Address) (*domain.Market, error)
	Migrate(ctx context.Context, addr common.Address, deposit func(eth, tokens *big.Int) error) (*market.MigrationResult, error)
}

// Orchestrator executes passed proposals and migrates graduated markets.
// It acts under its own identity, which the proposal engine must be
// configured to accept as its orchestrator address.
type Orchestrator struct {
	self      common.Address
	proposals ProposalExecutor
	markets   MarketEngine
	launches  storage.LaunchStore
	venue     LiquidityVenue
	now       func() time.Time

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

// Options for creating an Orchestrator.
type Options struct {
	Self             common.Address
	ProposalExecutor ProposalExecutor
	MarketEngine     MarketEngine
	LaunchStore      storage.LaunchStore
	Venue            LiquidityVenue
	Now              func() time.Time // defaults to time.Now
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		self:      opts.Self,
		proposals: opts.ProposalExecutor,
		markets:   opts.MarketEngine,
		launches:  opts.LaunchStore,
		venue:     opts.Venue,
		now:       now,
		locks:     make(map[uint64]*sync.Mutex),
	}
}

// Self returns the orchestrator's acting identity.
func (o *Orchestrator) Self() common.Address { return o.self }

// MarketAddressFor derives the deterministic market address for a
// proposal, keyed by the orchestrator identity and the proposal id.
func (o *Orchestrator) MarketAddressFor(proposalID uint64) common.Address {
	return crypto.CreateAddress(o.self, proposalID)
}

func (o *Orchestrator) lockFor(proposalID uint64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[proposalID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[proposalID] = l
	}
	return l
}

// Launch turns a passed proposal into a live market. Exactly one launch
// per proposal: a second call fails with ErrAlreadyLaunched. The market
// creation, launch record, and proposal execution land together or not
// at all; a failure on the later steps unwinds the earlier ones.
func (o *Orchestrator) Launch(ctx context.Context, proposalID uint64) (*domain.LaunchRecord, *domain.Market, error) {
	lock := o.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := o.launches.GetByProposal(ctx, proposalID); err == nil {
		return nil, nil, ErrAlreadyLaunched
	} else if !isNotFound(err) {
		return nil, nil, fmt.Errorf("check launch record: %w", err)
	}

	p, err := o.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != domain.ProposalPassed {
		return nil, nil, proposal.ErrNotPassed
	}

	addr := o.MarketAddressFor(proposalID)
	m := &domain.Market{
		Address:     addr,
		ProposalID:  proposalID,
		TokenName:   p.TokenName,
		TokenSymbol: p.TokenSymbol,
		Params: domain.CurveParams{
			BasePrice: new(big.Int).Set(market.DefaultBasePrice),
			Slope:     new(big.Int).Set(market.DefaultSlope),
		},
		Fees:                domain.DefaultFeeSplit,
		TotalSupplyCap:      new(big.Int).Set(market.DefaultSupplyCap),
		CurrentSupply:       new(big.Int),
		EthRaised:           new(big.Int),
		PlatformLedger:      new(big.Int),
		LiquidityLedger:     new(big.Int),
		AgentLedger:         new(big.Int),
		GraduationThreshold: new(big.Int).Set(market.DefaultGraduationThreshold),
		AgentRecipients:     append([]common.Address(nil), p.Members...),
		Holdings:            make(map[common.Address]*big.Int),
		CreatedAt:           o.now().UnixMilli(),
	}

	if err := o.markets.Create(ctx, m); err != nil {
		return nil, nil, fmt.Errorf("create market: %w", err)
	}

	rec := &domain.LaunchRecord{
		ProposalID: proposalID,
		Market:     addr,
		LaunchedAt: o.now().UnixMilli(),
	}
	if err := o.launches.Insert(ctx, rec); err != nil {
		o.unwind(ctx, proposalID, addr, false)
		return nil, nil, fmt.Errorf("record launch: %w", err)
	}

	if _, err := o.proposals.MarkExecuted(ctx, o.self, proposalID); err != nil {
		o.unwind(ctx, proposalID, addr, true)
		return nil, nil, fmt.Errorf("execute proposal: %w", err)
	}
	return rec, m, nil
}

// unwind reverses the partial steps of a failed launch.
func (o *Orchestrator) unwind(ctx context.Context, proposalID uint64, addr common.Address, launchRecorded bool) {
	if launchRecorded {
		_ = o.launches.Delete(ctx, proposalID)
	}
	_ = o.markets.Remove(ctx, addr)
}

// Migrate moves a graduated market's liquidity reserve and matching
// tokens into the configured venue. Safe to retry: a market that has
// already migrated reports success without a second deposit.
func (o *Orchestrator) Migrate(ctx context.Context, addr common.Address) (*market.MigrationResult, error) {
	return o.markets.Migrate(ctx, addr, func(eth, tokens *big.Int) error {
		return o.venue.Deposit(ctx, addr, eth, tokens)
	})
}

// Record returns the launch record for a proposal.
func (o *Orchestrator) Record(ctx context.Context, proposalID uint64) (*domain.LaunchRecord, error) {
	return o.launches.GetByProposal(ctx, proposalID)
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
