// Package event defines the append-only audit stream emitted by every
// state transition in the core. The stream is the sole interface consumed
// by external indexers; each envelope carries enough fields to reconstruct
// state on the other side.
package event

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies the state transition an envelope describes.
type Kind string

const (
	KindAgentAuthorized  Kind = "AGENT_AUTHORIZED"
	KindAgentRevoked     Kind = "AGENT_REVOKED"
	KindProposalCreated  Kind = "PROPOSAL_CREATED"
	KindVoteCast         Kind = "VOTE_CAST"
	KindProposalPassed   Kind = "PROPOSAL_PASSED"
	KindProposalFailed   Kind = "PROPOSAL_FAILED"
	KindProposalExecuted Kind = "PROPOSAL_EXECUTED"
	KindMarketCreated    Kind = "MARKET_CREATED"
	KindTradeExecuted    Kind = "TRADE_EXECUTED"
	KindMarketGraduated  Kind = "MARKET_GRADUATED"
	KindMarketMigrated   Kind = "MARKET_MIGRATED"
)

// Envelope is one audit-stream entry. Seq is the publisher-assigned
// ledger position; envelopes from one bus are totally ordered by it.
type Envelope struct {
	ID         string `json:"id"`   // uuid
	Seq        uint64 `json:"seq"`  // total order within the bus
	Kind       Kind   `json:"kind"`
	OccurredAt int64  `json:"occurred_at"` // Unix timestamp in milliseconds
	Payload    any    `json:"payload"`
}

// Bus publishes transition events. Implementations must preserve the
// order in which Publish is called.
type Bus interface {
	Publish(ctx context.Context, kind Kind, payload any) error
}

// AgentPayload describes an authorize/revoke transition.
type AgentPayload struct {
	Identity   common.Address `json:"identity"`
	Authorized bool           `json:"authorized"`
	Reputation uint64         `json:"reputation"`
}

// ProposalPayload describes a proposal lifecycle transition.
type ProposalPayload struct {
	ProposalID  uint64           `json:"proposal_id"`
	Proposer    common.Address   `json:"proposer"`
	TokenName   string           `json:"token_name"`
	TokenSymbol string           `json:"token_symbol"`
	Members     []common.Address `json:"members"`
	Status      string           `json:"status"`
	YesCount    int              `json:"yes_count"`
	NoCount     int              `json:"no_count"`
}

// VotePayload describes a single cast vote.
type VotePayload struct {
	ProposalID uint64         `json:"proposal_id"`
	Voter      common.Address `json:"voter"`
	Approve    bool           `json:"approve"`
	YesCount   int            `json:"yes_count"`
	NoCount    int            `json:"no_count"`
	Status     string         `json:"status"`
}

// MarketPayload describes market creation, graduation, and migration.
type MarketPayload struct {
	Market      common.Address `json:"market"`
	ProposalID  uint64         `json:"proposal_id"`
	TokenSymbol string         `json:"token_symbol"`
	EthRaised   string         `json:"eth_raised"`   // decimal wei
	Supply      string         `json:"supply"`       // decimal base units
	Graduated   bool           `json:"graduated"`
	Migrated    bool           `json:"migrated"`
}

// TradePayload describes an executed trade with its full fee breakdown.
type TradePayload struct {
	TradeID      string         `json:"trade_id"`
	Market       common.Address `json:"market"`
	Seq          uint64         `json:"trade_seq"`
	Trader       common.Address `json:"trader"`
	Side         string         `json:"side"`
	EthAmount    string         `json:"eth_amount"`    // decimal wei
	TokenAmount  string         `json:"token_amount"`  // decimal base units
	FeePlatform  string         `json:"fee_platform"`
	FeeLiquidity string         `json:"fee_liquidity"`
	FeeAgent     string         `json:"fee_agent"`
	SupplyAfter  string         `json:"supply_after"`
	PriceAfter   string         `json:"price_after"`
	RaisedAfter  string         `json:"raised_after"`
}

// NopBus discards all events. Used where no stream consumer is wired.
type NopBus struct{}

// Publish implements Bus.
func (NopBus) Publish(context.Context, Kind, any) error { return nil }

var _ Bus = NopBus{}
