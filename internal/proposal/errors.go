package proposal

import "errors"

// Validation errors: bad input shape, rejected before any state change.
var (
	// ErrQuorumSizeInvalid is returned when the member list is not 3-5 entries.
	ErrQuorumSizeInvalid = errors.New("quorum must have between 3 and 5 members")

	// ErrDuplicateMember is returned when the member list repeats an identity.
	ErrDuplicateMember = errors.New("duplicate member in quorum")

	// ErrUnauthorizedMember is returned when a listed member is not on the
	// registry allow-list.
	ErrUnauthorizedMember = errors.New("member is not an authorized identity")

	// ErrProposerNotInQuorum is returned when the proposer is absent from
	// its own member list.
	ErrProposerNotInQuorum = errors.New("proposer must be a quorum member")
)

// State and authorization errors: operation invalid for the proposal's
// current lifecycle state or for the caller.
var (
	// ErrNotAQuorumMember is returned when a non-member attempts to vote.
	ErrNotAQuorumMember = errors.New("caller is not a quorum member")

	// ErrAlreadyVoted is returned when a member votes twice.
	ErrAlreadyVoted = errors.New("member has already voted")

	// ErrVotingClosed is returned when a vote arrives past the deadline.
	ErrVotingClosed = errors.New("voting deadline has passed")

	// ErrProposalNotActive is returned when the proposal has left Active.
	ErrProposalNotActive = errors.New("proposal is not active")

	// ErrVotingStillOpen is returned when finalizing before the deadline.
	ErrVotingStillOpen = errors.New("voting deadline has not passed")

	// ErrNotPassed is returned when executing a proposal that is not Passed.
	ErrNotPassed = errors.New("proposal has not passed")

	// ErrCallerNotOrchestrator is returned when anyone but the launch
	// orchestrator attempts to mark a proposal executed.
	ErrCallerNotOrchestrator = errors.New("caller is not the launch orchestrator")
)
