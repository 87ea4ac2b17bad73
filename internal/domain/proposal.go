package domain

import "github.com/ethereum/go-ethereum/common"

// ProposalStatus is the lifecycle state of a launch proposal.
// Transitions are monotonic: Active -> {Passed | Failed}, Passed -> Executed.
// Failed and Executed are terminal.
type ProposalStatus string

const (
	ProposalActive   ProposalStatus = "ACTIVE"
	ProposalPassed   ProposalStatus = "PASSED"
	ProposalFailed   ProposalStatus = "FAILED"
	ProposalExecuted ProposalStatus = "EXECUTED"
)

// IsValidProposalStatus checks that a status is a supported enum value.
func IsValidProposalStatus(s ProposalStatus) bool {
	switch s {
	case ProposalActive, ProposalPassed, ProposalFailed, ProposalExecuted:
		return true
	default:
		return false
	}
}

// VoteChoice is a single member's recorded vote.
type VoteChoice uint8

const (
	VoteUnvoted VoteChoice = iota
	VoteYes
	VoteNo
)

// Quorum size bounds. Enforced before any membership loop so attacker-supplied
// member lists are rejected on length alone.
const (
	MinQuorumSize = 3
	MaxQuorumSize = 5
)

// Proposal is one launch attempt: an immutable membership set plus an
// append-only voting record. Proposals are never deleted.
type Proposal struct {
	ID             uint64                        // monotonic, assigned at creation
	Proposer       common.Address                // must be a member
	TokenName      string                        // token to launch on approval
	TokenSymbol    string
	Members        []common.Address              // ordered, 3-5 distinct authorized identities
	Votes          map[common.Address]VoteChoice // member -> choice
	YesCount       int
	NoCount        int
	Status         ProposalStatus
	CreatedAt      int64 // Unix timestamp in milliseconds
	VotingDeadline int64 // CreatedAt + voting period (ms)
}

// IsMember reports whether addr belongs to the proposal's quorum.
func (p *Proposal) IsMember(addr common.Address) bool {
	for _, m := range p.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	c := *p
	c.Members = append([]common.Address(nil), p.Members...)
	c.Votes = make(map[common.Address]VoteChoice, len(p.Votes))
	for k, v := range p.Votes {
		c.Votes[k] = v
	}
	return &c
}
