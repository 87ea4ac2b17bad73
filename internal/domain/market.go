package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BpsDenominator is the basis-point scale: fee shares are parts per 10,000.
const BpsDenominator = 10_000

// FeeSplit fixes how trade proceeds are divided between the platform,
// the liquidity reserve, and the quorum agents. The three shares must
// sum to BpsDenominator. Immutable per market instance.
type FeeSplit struct {
	PlatformBps  uint32
	LiquidityBps uint32
	AgentBps     uint32
}

// Valid reports whether the shares sum to exactly BpsDenominator.
func (f FeeSplit) Valid() bool {
	return f.PlatformBps+f.LiquidityBps+f.AgentBps == BpsDenominator
}

// DefaultFeeSplit is the protocol default: 30% platform, 60% liquidity, 10% agents.
var DefaultFeeSplit = FeeSplit{PlatformBps: 3000, LiquidityBps: 6000, AgentBps: 1000}

// CurveParams fixes the linear price function at market creation.
// Price at supply s (token base units) is BasePrice + Slope*s/1e18,
// expressed in wei per whole token.
type CurveParams struct {
	BasePrice *big.Int // wei per whole token at zero supply
	Slope     *big.Int // wei per whole token, per whole token of supply
}

// Clone returns a deep copy of the params.
func (p CurveParams) Clone() CurveParams {
	return CurveParams{
		BasePrice: new(big.Int).Set(p.BasePrice),
		Slope:     new(big.Int).Set(p.Slope),
	}
}

// Market is one bonding-curve ledger, created exactly once per executed
// proposal. It persists indefinitely as a historical ledger, even after
// graduation and migration.
type Market struct {
	Address     common.Address // deterministic, derived from orchestrator + proposal id
	ProposalID  uint64         // immutable 1:1 link to the originating proposal
	TokenName   string
	TokenSymbol string

	Params CurveParams
	Fees   FeeSplit

	TotalSupplyCap *big.Int // token base units
	CurrentSupply  *big.Int // 0 <= CurrentSupply <= TotalSupplyCap
	EthRaised      *big.Int // gross wei collected, net of sell withdrawals

	// Per-class fee ledgers, in wei. LiquidityLedger is the curve reserve:
	// it backs sell refunds and seeds the graduation migration. Platform
	// and agent ledgers are independently withdrawable.
	PlatformLedger  *big.Int
	LiquidityLedger *big.Int
	AgentLedger     *big.Int

	GraduationThreshold *big.Int // wei; crossing flips Graduated
	Graduated           bool     // one-way latch; disables buy/sell
	Migrated            bool     // set by the liquidity migration, also one-way

	AgentRecipients []common.Address // quorum members, agent-fee recipients

	// Holdings tracks per-trader token balances minted by the curve.
	Holdings map[common.Address]*big.Int

	TradeCount uint64 // number of executed trades; next trade sequence
	CreatedAt  int64  // Unix timestamp in milliseconds
}

// HoldingOf returns the trader's token balance (zero if never traded).
func (m *Market) HoldingOf(addr common.Address) *big.Int {
	if b, ok := m.Holdings[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	c := *m
	c.Params = m.Params.Clone()
	c.TotalSupplyCap = new(big.Int).Set(m.TotalSupplyCap)
	c.CurrentSupply = new(big.Int).Set(m.CurrentSupply)
	c.EthRaised = new(big.Int).Set(m.EthRaised)
	c.PlatformLedger = new(big.Int).Set(m.PlatformLedger)
	c.LiquidityLedger = new(big.Int).Set(m.LiquidityLedger)
	c.AgentLedger = new(big.Int).Set(m.AgentLedger)
	c.GraduationThreshold = new(big.Int).Set(m.GraduationThreshold)
	c.AgentRecipients = append([]common.Address(nil), m.AgentRecipients...)
	c.Holdings = make(map[common.Address]*big.Int, len(m.Holdings))
	for k, v := range m.Holdings {
		c.Holdings[k] = new(big.Int).Set(v)
	}
	return &c
}
