package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TradeSide distinguishes curve buys from curve sells.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// TradeRecord is one append-only ledger entry per executed buy or sell.
// Never mutated after creation. Corresponds to trade_records table.
type TradeRecord struct {
	TradeID string         // deterministic hash of (market, seq)
	Market  common.Address // market the trade executed on
	Seq     uint64         // position in the market's total order, starting at 0
	Trader  common.Address
	Side    TradeSide

	// EthAmount is the gross wei side of the trade: the payment on a buy,
	// the gross curve refund on a sell. NetAmount is the portion that moved
	// through the curve reserve: the liquidity deposit on a buy, the
	// seller's net payout on a sell.
	EthAmount   *big.Int
	NetAmount   *big.Int
	TokenAmount *big.Int // token base units minted (buy) or burned (sell)

	// Fee breakdown of EthAmount per the market's fixed split.
	FeePlatform  *big.Int
	FeeLiquidity *big.Int
	FeeAgent     *big.Int

	SupplyAfter *big.Int // resulting CurrentSupply
	PriceAfter  *big.Int // resulting spot price, wei per whole token
	RaisedAfter *big.Int // resulting EthRaised

	ExecutedAt int64 // Unix timestamp in milliseconds
}

// Clone returns a deep copy of the trade record.
func (t *TradeRecord) Clone() *TradeRecord {
	c := *t
	c.EthAmount = new(big.Int).Set(t.EthAmount)
	c.NetAmount = new(big.Int).Set(t.NetAmount)
	c.TokenAmount = new(big.Int).Set(t.TokenAmount)
	c.FeePlatform = new(big.Int).Set(t.FeePlatform)
	c.FeeLiquidity = new(big.Int).Set(t.FeeLiquidity)
	c.FeeAgent = new(big.Int).Set(t.FeeAgent)
	c.SupplyAfter = new(big.Int).Set(t.SupplyAfter)
	c.PriceAfter = new(big.Int).Set(t.PriceAfter)
	c.RaisedAfter = new(big.Int).Set(t.RaisedAfter)
	return &c
}
