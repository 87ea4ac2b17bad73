package launch

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/curve"
	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/market"
	"github.com/iono-such-things/headless-markets/internal/proposal"
	"github.com/iono-such-things/headless-markets/internal/registry"
	"github.com/iono-such-things/headless-markets/internal/storage"
	"github.com/iono-such-things/headless-markets/internal/storage/memory"
)

var (
	admin        = common.HexToAddress("0x00000000000000000000000000000000000000Ad")
	orchestrator = common.HexToAddress("0x000000000000000000000000000000000000FaCe")
	memberA      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	memberB      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	memberC      = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

// stack wires the full in-memory core the way cmd/server does.
type stack struct {
	registry  *registry.Registry
	proposals *proposal.Engine
	markets   *market.Engine
	venue     *MemoryVenue
	orch      *Orchestrator
}

func newStack(t *testing.T) *stack {
	t.Helper()
	now := func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	agents := memory.NewAgentStore()
	reg := registry.New(registry.Options{Admin: admin, AgentStore: agents, Now: now})
	props := proposal.New(proposal.Options{
		ProposalStore: memory.NewProposalStore(),
		AgentStore:    agents,
		Registry:      reg,
		Orchestrator:  orchestrator,
		Now:           now,
	})
	markets := market.New(market.Options{
		MarketStore:      memory.NewMarketStore(),
		TradeRecordStore: memory.NewTradeRecordStore(),
		Now:              now,
	})
	venue := NewMemoryVenue()
	orch := New(Options{
		Self:             orchestrator,
		ProposalExecutor: props,
		MarketEngine:     markets,
		LaunchStore:      memory.NewLaunchStore(),
		Venue:            venue,
		Now:              now,
	})
	return &stack{registry: reg, proposals: props, markets: markets, venue: venue, orch: orch}
}

// passedProposal authorizes three members and walks a proposal to Passed.
func passedProposal(t *testing.T, s *stack) *domain.Proposal {
	t.Helper()
	ctx := context.Background()

	for _, m := range []common.Address{memberA, memberB, memberC} {
		if err := s.registry.Authorize(ctx, admin, m); err != nil {
			t.Fatalf("Authorize(%s): %v", m, err)
		}
	}
	p, err := s.proposals.Create(ctx, memberA, "Launch Token", "LNC", []common.Address{memberA, memberB, memberC})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, m := range []common.Address{memberA, memberB, memberC} {
		if p, err = s.proposals.CastVote(ctx, p.ID, m, true); err != nil {
			t.Fatalf("CastVote(%s): %v", m, err)
		}
	}
	if p.Status != domain.ProposalPassed {
		t.Fatalf("proposal status %s, want PASSED", p.Status)
	}
	return p
}

func TestLaunchExecutesPassedProposal(t *testing.T) {
	s := newStack(t)
	p := passedProposal(t, s)
	ctx := context.Background()

	rec, m, err := s.orch.Launch(ctx, p.ID)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if rec.ProposalID != p.ID {
		t.Fatalf("record proposal %d, want %d", rec.ProposalID, p.ID)
	}
	if m.Address != s.orch.MarketAddressFor(p.ID) {
		t.Fatal("market address must be the deterministic derivation")
	}
	if m.TokenSymbol != "LNC" {
		t.Fatalf("market symbol %q", m.TokenSymbol)
	}
	if len(m.AgentRecipients) != 3 {
		t.Fatalf("agent recipients %d, want quorum members", len(m.AgentRecipients))
	}

	got, err := s.proposals.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get proposal: %v", err)
	}
	if got.Status != domain.ProposalExecuted {
		t.Fatalf("proposal status %s, want EXECUTED", got.Status)
	}

	// Market is live immediately.
	if _, err := s.markets.Buy(ctx, m.Address, memberA, new(big.Int).Set(curve.Unit)); err != nil {
		t.Fatalf("Buy on launched market: %v", err)
	}
}

func TestLaunchRejectsSecondAttempt(t *testing.T) {
	s := newStack(t)
	p := passedProposal(t, s)
	ctx := context.Background()

	if _, _, err := s.orch.Launch(ctx, p.ID); err != nil {
		t.Fatalf("first Launch: %v", err)
	}
	if _, _, err := s.orch.Launch(ctx, p.ID); !errors.Is(err, ErrAlreadyLaunched) {
		t.Fatalf("expected ErrAlreadyLaunched, got %v", err)
	}
}

func TestLaunchRejectsUnpassedProposal(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	for _, m := range []common.Address{memberA, memberB, memberC} {
		if err := s.registry.Authorize(ctx, admin, m); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}
	p, err := s.proposals.Create(ctx, memberA, "Pending Token", "PND", []common.Address{memberA, memberB, memberC})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, _, err := s.orch.Launch(ctx, p.ID); !errors.Is(err, proposal.ErrNotPassed) {
		t.Fatalf("expected ErrNotPassed, got %v", err)
	}
	if _, err := s.orch.Record(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("failed launch must leave no record, got %v", err)
	}
}

func TestLaunchUnknownProposal(t *testing.T) {
	s := newStack(t)
	if _, _, err := s.orch.Launch(context.Background(), 404); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failingExecutor wraps the real engine but refuses execution, to force
// the unwind path.
type failingExecutor struct {
	ProposalExecutor
	err error
}

func (f *failingExecutor) MarkExecuted(context.Context, common.Address, uint64) (*domain.Proposal, error) {
	return nil, f.err
}

func TestLaunchUnwindsOnExecutionFailure(t *testing.T) {
	s := newStack(t)
	p := passedProposal(t, s)
	ctx := context.Background()

	execErr := errors.New("execution refused")
	broken := New(Options{
		Self:             orchestrator,
		ProposalExecutor: &failingExecutor{ProposalExecutor: s.proposals, err: execErr},
		MarketEngine:     s.markets,
		LaunchStore:      memory.NewLaunchStore(),
		Venue:            s.venue,
	})

	if _, _, err := broken.Launch(ctx, p.ID); !errors.Is(err, execErr) {
		t.Fatalf("expected execution error, got %v", err)
	}

	// No residue: market and launch record both rolled back.
	addr := broken.MarketAddressFor(p.ID)
	if _, err := s.markets.Get(ctx, addr); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("market must be rolled back, got %v", err)
	}
	if _, err := broken.Record(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("launch record must be rolled back, got %v", err)
	}

	// The proposal is still Passed and launchable by a working orchestrator.
	if _, _, err := s.orch.Launch(ctx, p.ID); err != nil {
		t.Fatalf("retry Launch: %v", err)
	}
}

func TestMigrateDepositsIntoVenue(t *testing.T) {
	s := newStack(t)
	p := passedProposal(t, s)
	ctx := context.Background()

	_, m, err := s.orch.Launch(ctx, p.ID)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	// A buy landing exactly on the threshold flips the graduation latch
	// while the curve still holds unminted supply.
	if _, err := s.markets.Buy(ctx, m.Address, memberA, new(big.Int).Set(market.DefaultGraduationThreshold)); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	res, err := s.orch.Migrate(ctx, m.Address)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if res.AlreadyMigrated {
		t.Fatal("first migration must not report already-migrated")
	}
	if res.EthMoved.Sign() <= 0 || res.TokensMoved.Sign() <= 0 {
		t.Fatalf("migration moved eth=%s tokens=%s, want both positive", res.EthMoved, res.TokensMoved)
	}

	pool := s.venue.Pool(m.Address)
	if pool == nil {
		t.Fatal("venue must hold a pool after migration")
	}
	if pool.SpotPrice(curve.Unit).Sign() <= 0 {
		t.Fatal("migrated pool must have a positive spot price")
	}
	if pool.EthReserve.Cmp(res.EthMoved) != 0 {
		t.Fatalf("pool eth %s, want %s", pool.EthReserve, res.EthMoved)
	}
	if pool.TokenReserve.Cmp(res.TokensMoved) != 0 {
		t.Fatalf("pool tokens %s, want %s", pool.TokenReserve, res.TokensMoved)
	}

	// Retry is a no-op and leaves the pool alone.
	res, err = s.orch.Migrate(ctx, m.Address)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if !res.AlreadyMigrated {
		t.Fatal("second migration must report already-migrated")
	}
}
