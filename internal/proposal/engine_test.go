package proposal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/registry"
	"github.com/iono-such-things/headless-markets/internal/storage"
	"github.com/iono-such-things/headless-markets/internal/storage/memory"
)

var (
	admin        = common.HexToAddress("0x00000000000000000000000000000000000000Ad")
	orchestrator = common.HexToAddress("0x000000000000000000000000000000000000FaCe")
	m1           = common.HexToAddress("0x0000000000000000000000000000000000000001")
	m2           = common.HexToAddress("0x0000000000000000000000000000000000000002")
	m3           = common.HexToAddress("0x0000000000000000000000000000000000000003")
	m4           = common.HexToAddress("0x0000000000000000000000000000000000000004")
	m5           = common.HexToAddress("0x0000000000000000000000000000000000000005")
	m6           = common.HexToAddress("0x0000000000000000000000000000000000000006")
	outsider     = common.HexToAddress("0x00000000000000000000000000000000000000FF")
)

// testClock lets a test move time across the voting deadline.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	engine *Engine
	agents storage.AgentStore
	clock  *testClock
}

func newFixture(t *testing.T, authorized ...common.Address) *fixture {
	t.Helper()
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	agents := memory.NewAgentStore()
	reg := registry.New(registry.Options{Admin: admin, AgentStore: agents, Now: clock.Now})

	ctx := context.Background()
	for _, a := range authorized {
		if err := reg.Authorize(ctx, admin, a); err != nil {
			t.Fatalf("Authorize(%s): %v", a, err)
		}
	}

	engine := New(Options{
		ProposalStore: memory.NewProposalStore(),
		AgentStore:    agents,
		Registry:      reg,
		Orchestrator:  orchestrator,
		Now:           clock.Now,
	})
	return &fixture{engine: engine, agents: agents, clock: clock}
}

func TestCreateProposal(t *testing.T) {
	f := newFixture(t, m1, m2, m3)
	ctx := context.Background()

	p, err := f.engine.Create(ctx, m1, "New Token", "NEW", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("proposal id must be assigned")
	}
	if p.Status != domain.ProposalActive {
		t.Fatalf("status %s, want ACTIVE", p.Status)
	}
	if p.VotingDeadline != p.CreatedAt+VotingPeriod.Milliseconds() {
		t.Fatalf("deadline %d, want created+%d", p.VotingDeadline, VotingPeriod.Milliseconds())
	}
	if p.YesCount != 0 || p.NoCount != 0 {
		t.Fatal("new proposal must have no votes")
	}
	for _, m := range p.Members {
		if p.Votes[m] != domain.VoteUnvoted {
			t.Fatalf("member %s must start unvoted", m)
		}
	}
}

func TestCreateAssignsDistinctIDs(t *testing.T) {
	f := newFixture(t, m1, m2, m3)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, m1, "A", "AAA", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := f.engine.Create(ctx, m1, "B", "BBB", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("ids must be distinct, both %d", a.ID)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, m1, m2, m3, m4, m5, m6)
	ctx := context.Background()

	cases := []struct {
		name     string
		proposer common.Address
		members  []common.Address
		wantErr  error
	}{
		{"too few members", m1, []common.Address{m1, m2}, ErrQuorumSizeInvalid},
		{"too many members", m1, []common.Address{m1, m2, m3, m4, m5, m6}, ErrQuorumSizeInvalid},
		{"duplicate member", m1, []common.Address{m1, m2, m2}, ErrDuplicateMember},
		{"proposer outside quorum", m1, []common.Address{m2, m3, m4}, ErrProposerNotInQuorum},
		{"unauthorized member", m1, []common.Address{m1, m2, outsider}, ErrUnauthorizedMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.Create(ctx, tc.proposer, "T", "TTT", tc.members); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestUnanimousYesPassesInAnyOrder(t *testing.T) {
	f := newFixture(t, m1, m2, m3, m4)
	ctx := context.Background()

	p, err := f.engine.Create(ctx, m2, "T", "TTT", []common.Address{m1, m2, m3, m4})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Votes arrive out of member order; only the last one passes it.
	for _, voter := range []common.Address{m3, m1, m4} {
		p, err = f.engine.CastVote(ctx, p.ID, voter, true)
		if err != nil {
			t.Fatalf("CastVote(%s): %v", voter, err)
		}
		if p.Status != domain.ProposalActive {
			t.Fatalf("status %s before final vote", p.Status)
		}
	}
	p, err = f.engine.CastVote(ctx, p.ID, m2, true)
	if err != nil {
		t.Fatalf("final CastVote: %v", err)
	}
	if p.Status != domain.ProposalPassed {
		t.Fatalf("status %s, want PASSED", p.Status)
	}
	if p.YesCount != 4 {
		t.Fatalf("yes count %d, want 4", p.YesCount)
	}
}

func TestSingleNoFailsImmediately(t *testing.T) {
	f := newFixture(t, m1, m2, m3)
	ctx := context.Background()

	p, err := f.engine.Create(ctx, m1, "T", "TTT", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err = f.engine.CastVote(ctx, p.ID, m1, true); err != nil {
		t.Fatalf("yes vote: %v", err)
	}
	p, err = f.engine.CastVote(ctx, p.ID, m2, false)
	if err != nil {
		t.Fatalf("no vote: %v", err)
	}
	if p.Status != domain.ProposalFailed {
		t.Fatalf("status %s, want FAILED after a single no", p.Status)
	}

	// The remaining member can no longer vote.
	if _, err := f.engine.CastVote(ctx, p.ID, m3, true); !errors.Is(err, ErrProposalNotActive) {
		t.Fatalf("expected ErrProposalNotActive, got %v", err)
	}
}

func TestVoteGuards(t *testing.T) {
	f := newFixture(t, m1, m2, m3)
	ctx := context.Background()

	p, err := f.engine.Create(ctx, m1, "T", "TTT", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.engine.CastVote(ctx, p.ID, outsider, true); !errors.Is(err, ErrNotAQuorumMember) {
		t.Fatalf("outsider: expected ErrNotAQuorumMember, got %v", err)
	}
	if _, err := f.engine.CastVote(ctx, p.ID, m1, true); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if _, err := f.engine.CastVote(ctx, p.ID, m1, true); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("second vote: expected ErrAlreadyVoted, got %v", err)
	}
	if _, err := f.engine.CastVote(ctx, 404, m1, true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown proposal: expected ErrNotFound, got %v", err)
	}
}

func TestExpiryFailsIncompleteProposal(t *testing.T) {
	f := newFixture(t, m1, m2, m3)
	ctx := context.Background()

	p, err := f.engine.Create(ctx, m1, "T", "TTT", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.engine.CastVote(ctx, p.ID, m1, true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := f.engine.CastVote(ctx, p.ID, m2, true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	// Before the deadline, finalize is premature.
	if _, err := f.engine.FinalizeExpired(ctx, p.ID); !errors.Is(err, ErrVotingStillOpen) {
		t.Fatalf("expected ErrVotingStillOpen, got %v", err)
	}

	f.clock.Advance(VotingPeriod + time.Millisecond)

	// Votes past the deadline are rejected even from the last member.
	if _, err := f.engine.CastVote(ctx, p.ID, m3, true); !errors.Is(err, ErrVotingClosed) {
		t.Fatalf("expected ErrVotingClosed, got %v", err)
	}

	p, err = f.engine.FinalizeExpired(ctx, p.ID)
	if err != nil {
		t.Fatalf("FinalizeExpired: %v", err)
	}
	if p.Status != domain.ProposalFailed {
		t.Fatalf("status %s, want FAILED on expiry with 2 of 3 yes", p.Status)
	}
}

func TestMarkExecuted(t *testing.T) {
	f := newFixture(t, m1, m2, m3)
	ctx := context.Background()

	p, err := f.engine.Create(ctx, m1, "T", "TTT", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Not passed yet.
	if _, err := f.engine.MarkExecuted(ctx, orchestrator, p.ID); !errors.Is(err, ErrNotPassed) {
		t.Fatalf("expected ErrNotPassed, got %v", err)
	}

	for _, voter := range []common.Address{m1, m2, m3} {
		if _, err := f.engine.CastVote(ctx, p.ID, voter, true); err != nil {
			t.Fatalf("CastVote: %v", err)
		}
	}

	// Only the orchestrator identity may execute.
	if _, err := f.engine.MarkExecuted(ctx, m1, p.ID); !errors.Is(err, ErrCallerNotOrchestrator) {
		t.Fatalf("expected ErrCallerNotOrchestrator, got %v", err)
	}

	p, err = f.engine.MarkExecuted(ctx, orchestrator, p.ID)
	if err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	if p.Status != domain.ProposalExecuted {
		t.Fatalf("status %s, want EXECUTED", p.Status)
	}

	// Execution is not repeatable.
	if _, err := f.engine.MarkExecuted(ctx, orchestrator, p.ID); !errors.Is(err, ErrNotPassed) {
		t.Fatalf("re-execute: expected ErrNotPassed, got %v", err)
	}

	// Every quorum member earned reputation.
	for _, m := range []common.Address{m1, m2, m3} {
		id, err := f.agents.Get(ctx, m)
		if err != nil {
			t.Fatalf("Get(%s): %v", m, err)
		}
		if id.Reputation != 1 {
			t.Fatalf("member %s reputation %d, want 1", m, id.Reputation)
		}
	}
}

// faultyAgentStore fails Put for one address once armed.
type faultyAgentStore struct {
	storage.AgentStore
	failPut common.Address
	armed   bool
}

func (s *faultyAgentStore) Put(ctx context.Context, a *domain.AgentIdentity) error {
	if s.armed && a.Address == s.failPut {
		return errors.New("agent store unavailable")
	}
	return s.AgentStore.Put(ctx, a)
}

func TestMarkExecutedFailureLeavesProposalPassed(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	agents := &faultyAgentStore{AgentStore: memory.NewAgentStore(), failPut: m2}
	reg := registry.New(registry.Options{Admin: admin, AgentStore: agents, Now: clock.Now})
	ctx := context.Background()
	for _, a := range []common.Address{m1, m2, m3} {
		if err := reg.Authorize(ctx, admin, a); err != nil {
			t.Fatalf("Authorize(%s): %v", a, err)
		}
	}
	engine := New(Options{
		ProposalStore: memory.NewProposalStore(),
		AgentStore:    agents,
		Registry:      reg,
		Orchestrator:  orchestrator,
		Now:           clock.Now,
	})

	p, err := engine.Create(ctx, m1, "T", "TTT", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, voter := range []common.Address{m1, m2, m3} {
		if _, err := engine.CastVote(ctx, p.ID, voter, true); err != nil {
			t.Fatalf("CastVote: %v", err)
		}
	}

	agents.armed = true
	if _, err := engine.MarkExecuted(ctx, orchestrator, p.ID); err == nil {
		t.Fatal("expected reputation write failure")
	}

	// The proposal stays Passed and no member kept a partial bump.
	got, err := engine.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.ProposalPassed {
		t.Fatalf("status %s, want PASSED after failed execution", got.Status)
	}
	for _, m := range []common.Address{m1, m2, m3} {
		id, err := agents.Get(ctx, m)
		if err != nil {
			t.Fatalf("Get(%s): %v", m, err)
		}
		if id.Reputation != 0 {
			t.Fatalf("member %s reputation %d after failed execution, want 0", m, id.Reputation)
		}
	}

	// A retry once the store recovers succeeds with single bumps.
	agents.armed = false
	if _, err := engine.MarkExecuted(ctx, orchestrator, p.ID); err != nil {
		t.Fatalf("retry MarkExecuted: %v", err)
	}
	for _, m := range []common.Address{m1, m2, m3} {
		id, err := agents.Get(ctx, m)
		if err != nil {
			t.Fatalf("Get(%s): %v", m, err)
		}
		if id.Reputation != 1 {
			t.Fatalf("member %s reputation %d, want 1", m, id.Reputation)
		}
	}
}

func TestListActive(t *testing.T) {
	f := newFixture(t, m1, m2, m3)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, m1, "A", "AAA", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := f.engine.Create(ctx, m1, "B", "BBB", []common.Address{m1, m2, m3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Fail one of them.
	if _, err := f.engine.CastVote(ctx, a.ID, m1, false); err != nil {
		t.Fatalf("CastVote: %v", err)
	}

	active, err := f.engine.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != b.ID {
		t.Fatalf("expected only proposal %d active, got %d entries", b.ID, len(active))
	}
}
