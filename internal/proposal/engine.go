// Package proposal implements the launch-proposal lifecycle: membership
// validation, unanimous voting, deadline finalization, and the executed
// transition reported by the launch orchestrator.
package proposal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/event"
	"github.com/iono-such-things/headless-markets/internal/observability"
	"github.com/iono-such-things/headless-markets/internal/registry"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// VotingPeriod is the fixed window between proposal creation and its
// voting deadline.
const VotingPeriod = 7 * 24 * time.Hour

// Engine runs the proposal state machine. All mutations of one proposal
// are serialized by a per-proposal lock; every operation re-reads current
// state under that lock, so concurrent votes resolve in ledger order.
type Engine struct {
	proposals    storage.ProposalStore
	agents       storage.AgentStore
	registry     *registry.Registry
	orchestrator common.Address
	bus          event.Bus
	now          func() time.Time

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

// Options for creating an Engine.
type Options struct {
	ProposalStore storage.ProposalStore
	AgentStore    storage.AgentStore
	Registry      *registry.Registry
	Orchestrator  common.Address // the only caller allowed to MarkExecuted
	Bus           event.Bus
	Now           func() time.Time // defaults to time.Now
}

// New creates an Engine.
func New(opts Options) *Engine {
	bus := opts.Bus
	if bus == nil {
		bus = event.NopBus{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		proposals:    opts.ProposalStore,
		agents:       opts.AgentStore,
		registry:     opts.Registry,
		orchestrator: opts.Orchestrator,
		bus:          bus,
		now:          now,
		locks:        make(map[uint64]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one proposal's mutations.
func (e *Engine) lockFor(id uint64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Create validates membership and allocates a new Active proposal with a
// fixed 7-day deadline. The proposer must be an authorized identity and a
// member of the quorum; all members must be distinct and authorized.
func (e *Engine) Create(ctx context.Context, proposer common.Address, tokenName, tokenSymbol string, members []common.Address) (*domain.Proposal, error) {
	// Size bound first, before any per-member work.
	if len(members) < domain.MinQuorumSize || len(members) > domain.MaxQuorumSize {
		return nil, ErrQuorumSizeInvalid
	}

	seen := make(map[common.Address]struct{}, len(members))
	proposerInQuorum := false
	for _, m := range members {
		if _, dup := seen[m]; dup {
			return nil, ErrDuplicateMember
		}
		seen[m] = struct{}{}
		if m == proposer {
			proposerInQuorum = true
		}
	}
	if !proposerInQuorum {
		return nil, ErrProposerNotInQuorum
	}

	for _, m := range members {
		ok, err := e.registry.IsAuthorized(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("check member authorization: %w", err)
		}
		if !ok {
			return nil, ErrUnauthorizedMember
		}
	}

	id, err := e.proposals.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate proposal id: %w", err)
	}

	nowMs := e.now().UnixMilli()
	p := &domain.Proposal{
		ID:             id,
		Proposer:       proposer,
		TokenName:      tokenName,
		TokenSymbol:    tokenSymbol,
		Members:        append([]common.Address(nil), members...),
		Votes:          make(map[common.Address]domain.VoteChoice, len(members)),
		Status:         domain.ProposalActive,
		CreatedAt:      nowMs,
		VotingDeadline: nowMs + VotingPeriod.Milliseconds(),
	}
	for _, m := range p.Members {
		p.Votes[m] = domain.VoteUnvoted
	}

	if err := e.proposals.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("store proposal: %w", err)
	}

	observability.RecordProposalCreated()
	if err := e.bus.Publish(ctx, event.KindProposalCreated, proposalPayload(p)); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// CastVote records one member's vote and evaluates finalization: any no
// vote fails the proposal immediately, unanimous yes passes it.
func (e *Engine) CastVote(ctx context.Context, proposalID uint64, voter common.Address, approve bool) (*domain.Proposal, error) {
	lock := e.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if !p.IsMember(voter) {
		return nil, ErrNotAQuorumMember
	}
	if p.Status != domain.ProposalActive {
		return nil, ErrProposalNotActive
	}
	if e.now().UnixMilli() > p.VotingDeadline {
		return nil, ErrVotingClosed
	}
	if p.Votes[voter] != domain.VoteUnvoted {
		return nil, ErrAlreadyVoted
	}

	if approve {
		p.Votes[voter] = domain.VoteYes
		p.YesCount++
	} else {
		p.Votes[voter] = domain.VoteNo
		p.NoCount++
	}

	// Finalization: a single dissent kills the proposal regardless of
	// pending votes; unanimity passes it.
	var transition event.Kind
	switch {
	case p.NoCount > 0:
		p.Status = domain.ProposalFailed
		transition = event.KindProposalFailed
	case p.YesCount == len(p.Members):
		p.Status = domain.ProposalPassed
		transition = event.KindProposalPassed
	}

	if err := e.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("store vote: %w", err)
	}

	observability.RecordVoteCast(approve)
	if err := e.bus.Publish(ctx, event.KindVoteCast, event.VotePayload{
		ProposalID: p.ID,
		Voter:      voter,
		Approve:    approve,
		YesCount:   p.YesCount,
		NoCount:    p.NoCount,
		Status:     string(p.Status),
	}); err != nil {
		return nil, err
	}
	if transition != "" {
		observability.RecordProposalFinalized(string(p.Status))
		if err := e.bus.Publish(ctx, transition, proposalPayload(p)); err != nil {
			return nil, err
		}
	}
	return p.Clone(), nil
}

// FinalizeExpired closes a timed-out Active proposal. Callable by anyone
// once the deadline has passed. A proposal that never reached unanimity
// fails; votes already cast are preserved. Late unanimity does not pass:
// the deadline strictly closes the window.
func (e *Engine) FinalizeExpired(ctx context.Context, proposalID uint64) (*domain.Proposal, error) {
	lock := e.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.ProposalActive {
		return nil, ErrProposalNotActive
	}
	if e.now().UnixMilli() <= p.VotingDeadline {
		return nil, ErrVotingStillOpen
	}

	p.Status = domain.ProposalFailed
	if err := e.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("finalize proposal: %w", err)
	}

	observability.RecordProposalFinalized(string(domain.ProposalFailed))
	if err := e.bus.Publish(ctx, event.KindProposalFailed, proposalPayload(p)); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// MarkExecuted transitions a Passed proposal to Executed and increments
// every member's reputation counter. Only the launch orchestrator may
// call it.
func (e *Engine) MarkExecuted(ctx context.Context, caller common.Address, proposalID uint64) (*domain.Proposal, error) {
	if caller != e.orchestrator {
		return nil, ErrCallerNotOrchestrator
	}

	lock := e.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.ProposalPassed {
		return nil, ErrNotPassed
	}

	// Reputations are written before the status flip, so a failure
	// leaves the proposal Passed and the call retryable. A mid-loop
	// failure unwinds the bumps already written.
	nowMs := e.now().UnixMilli()
	staged := make([]*domain.AgentIdentity, 0, len(p.Members))
	for _, m := range p.Members {
		a, err := e.agents.Get(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("load member %s: %w", m.Hex(), err)
		}
		a.Reputation++
		a.UpdatedAt = nowMs
		staged = append(staged, a)
	}
	for i, a := range staged {
		if err := e.agents.Put(ctx, a); err != nil {
			for _, done := range staged[:i] {
				done.Reputation--
				e.agents.Put(ctx, done)
			}
			return nil, fmt.Errorf("bump reputation for %s: %w", a.Address.Hex(), err)
		}
	}

	p.Status = domain.ProposalExecuted
	if err := e.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("mark executed: %w", err)
	}

	observability.RecordProposalFinalized(string(domain.ProposalExecuted))
	if err := e.bus.Publish(ctx, event.KindProposalExecuted, proposalPayload(p)); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Get retrieves a proposal by id.
func (e *Engine) Get(ctx context.Context, proposalID uint64) (*domain.Proposal, error) {
	return e.proposals.Get(ctx, proposalID)
}

// ListActive retrieves all Active proposals, for deadline pollers.
func (e *Engine) ListActive(ctx context.Context) ([]*domain.Proposal, error) {
	return e.proposals.ListByStatus(ctx, domain.ProposalActive)
}

func proposalPayload(p *domain.Proposal) event.ProposalPayload {
	return event.ProposalPayload{
		ProposalID:  p.ID,
		Proposer:    p.Proposer,
		TokenName:   p.TokenName,
		TokenSymbol: p.TokenSymbol,
		Members:     p.Members,
		Status:      string(p.Status),
		YesCount:    p.YesCount,
		NoCount:     p.NoCount,
	}
}
