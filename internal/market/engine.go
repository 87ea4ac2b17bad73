// Package market implements the per-token bonding-curve ledger: buy/sell
// execution, fee splitting, fund-custody accounting, and the one-way
// graduation latch.
package market

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/curve"
	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/event"
	"github.com/iono-such-things/headless-markets/internal/idhash"
	"github.com/iono-such-things/headless-markets/internal/observability"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// Protocol defaults applied to new markets unless the orchestrator
// overrides them. Full curve capacity absorbs ~51 ETH of liquidity
// deposits, far past the threshold's liquidity share, so a buy can
// overshoot the threshold and a graduated market still holds unminted
// supply for the venue migration.
var (
	// DefaultBasePrice is 1e12 wei (one micro-ETH) per whole token.
	DefaultBasePrice = big.NewInt(1_000_000_000_000)

	// DefaultSlope is 1e8 wei per whole token, per whole token of supply.
	DefaultSlope = big.NewInt(100_000_000)

	// DefaultSupplyCap is one million whole tokens in base units.
	DefaultSupplyCap = new(big.Int).Mul(big.NewInt(1_000_000), curve.Unit)

	// DefaultGraduationThreshold is 10 ETH in wei.
	DefaultGraduationThreshold = new(big.Int).Mul(big.NewInt(10), curve.Unit)
)

// Engine executes trades against curve markets. All mutations of one
// market are serialized by a per-market lock and recomputed from current
// state inside that lock, never from a cached snapshot.
type Engine struct {
	markets storage.MarketStore
	trades  storage.TradeRecordStore
	bus     event.Bus
	now     func() time.Time

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

// Options for creating an Engine.
type Options struct {
	MarketStore      storage.MarketStore
	TradeRecordStore storage.TradeRecordStore
	Bus              event.Bus
	Now              func() time.Time // defaults to time.Now
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
		markets: opts.MarketStore,
		trades:  opts.TradeRecordStore,
		bus:     bus,
		now:     now,
		locks:   make(map[common.Address]*sync.Mutex),
	}
}

func (e *Engine) lockFor(addr common.Address) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		e.locks[addr] = l
	}
	return l
}

// Create registers a new market instance. Called only by the launch
// orchestrator at proposal execution.
func (e *Engine) Create(ctx context.Context, m *domain.Market) error {
	if !m.Fees.Valid() {
		return ErrInvalidFeeSplit
	}
	if m.TotalSupplyCap.Sign() <= 0 || m.GraduationThreshold.Sign() <= 0 {
		return ErrNonPositiveAmount
	}

	if err := e.markets.Insert(ctx, m); err != nil {
		return fmt.Errorf("store market: %w", err)
	}

	observability.RecordMarketCreated()
	return e.bus.Publish(ctx, event.KindMarketCreated, marketPayload(m))
}

// Remove deletes a market. Used only by the orchestrator to roll back a
// launch whose execution report failed.
func (e *Engine) Remove(ctx context.Context, addr common.Address) error {
	lock := e.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()
	return e.markets.Delete(ctx, addr)
}

// Buy spends ethAmount wei on the curve. Fees are carved off the payment
// per the market's split; the liquidity share is the curve deposit that
// prices the minted delta. Crossing the graduation threshold flips the
// latch within the same atomic step.
func (e *Engine) Buy(ctx context.Context, addr, trader common.Address, ethAmount *big.Int) (*domain.TradeRecord, error) {
	if ethAmount == nil || ethAmount.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}

	lock := e.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.markets.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if m.Graduated {
		return nil, ErrMarketClosed
	}

	feePlatform, feeAgent, feeLiquidity := splitAmount(ethAmount, m.Fees)

	delta, err := curve.BuyDelta(m.Params, m.CurrentSupply, feeLiquidity)
	if err != nil {
		return nil, fmt.Errorf("price buy: %w", err)
	}
	if delta.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}

	newSupply := new(big.Int).Add(m.CurrentSupply, delta)
	if newSupply.Cmp(m.TotalSupplyCap) > 0 {
		return nil, ErrSupplyExceeded
	}

	// Apply the trade.
	m.CurrentSupply = newSupply
	m.EthRaised = new(big.Int).Add(m.EthRaised, ethAmount)
	m.PlatformLedger = new(big.Int).Add(m.PlatformLedger, feePlatform)
	m.LiquidityLedger = new(big.Int).Add(m.LiquidityLedger, feeLiquidity)
	m.AgentLedger = new(big.Int).Add(m.AgentLedger, feeAgent)
	holding := m.HoldingOf(trader)
	m.Holdings[trader] = holding.Add(holding, delta)

	graduatedNow := !m.Graduated && m.EthRaised.Cmp(m.GraduationThreshold) >= 0
	if graduatedNow {
		m.Graduated = true
	}

	t := e.buildTrade(m, trader, domain.TradeSideBuy, ethAmount, feeLiquidity, delta, feePlatform, feeLiquidity, feeAgent)
	m.TradeCount++

	if err := e.commitTrade(ctx, m, t); err != nil {
		return nil, err
	}
	if graduatedNow {
		observability.RecordGraduation()
		if err := e.bus.Publish(ctx, event.KindMarketGraduated, marketPayload(m)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Sell burns tokenAmount base units back into the curve. The gross refund
// is the inverse price integral; platform and agent take their shares of
// it and the seller nets the liquidity share. The full gross draw must be
// covered by the reserve or the trade fails with no state change.
func (e *Engine) Sell(ctx context.Context, addr, trader common.Address, tokenAmount *big.Int) (*domain.TradeRecord, error) {
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}

	lock := e.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.markets.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if m.Graduated {
		return nil, ErrMarketClosed
	}
	if m.HoldingOf(trader).Cmp(tokenAmount) < 0 {
		return nil, ErrInsufficientTokenBalance
	}

	gross, err := curve.SellGross(m.Params, m.CurrentSupply, tokenAmount)
	if err != nil {
		return nil, fmt.Errorf("price sell: %w", err)
	}

	feePlatform, feeAgent, _ := splitAmount(gross, m.Fees)
	net := bpsShare(gross, m.Fees.LiquidityBps)

	// Every wei of the gross draw leaves the reserve: the seller's net,
	// the platform and agent credits, and the truncation residue (which
	// stays behind). Underflow is checked analytically before mutation.
	drawn := new(big.Int).Add(net, feePlatform)
	drawn.Add(drawn, feeAgent)
	if m.LiquidityLedger.Cmp(drawn) < 0 || m.EthRaised.Cmp(gross) < 0 {
		return nil, ErrInsufficientRaisedBalance
	}

	m.CurrentSupply = new(big.Int).Sub(m.CurrentSupply, tokenAmount)
	m.EthRaised = new(big.Int).Sub(m.EthRaised, gross)
	m.LiquidityLedger = new(big.Int).Sub(m.LiquidityLedger, drawn)
	m.PlatformLedger = new(big.Int).Add(m.PlatformLedger, feePlatform)
	m.AgentLedger = new(big.Int).Add(m.AgentLedger, feeAgent)
	holding := m.HoldingOf(trader)
	m.Holdings[trader] = holding.Sub(holding, tokenAmount)

	feeLiquidity := new(big.Int).Sub(gross, feePlatform)
	feeLiquidity.Sub(feeLiquidity, feeAgent)
	t := e.buildTrade(m, trader, domain.TradeSideSell, gross, net, tokenAmount, feePlatform, feeLiquidity, feeAgent)
	m.TradeCount++

	if err := e.commitTrade(ctx, m, t); err != nil {
		return nil, err
	}
	return t, nil
}

// QuoteBuy returns the token delta ethAmount would mint right now.
// Read-only; the answer is advisory under concurrent trading.
func (e *Engine) QuoteBuy(ctx context.Context, addr common.Address, ethAmount *big.Int) (*big.Int, error) {
	if ethAmount == nil || ethAmount.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}
	m, err := e.markets.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	_, _, feeLiquidity := splitAmount(ethAmount, m.Fees)
	return curve.BuyDelta(m.Params, m.CurrentSupply, feeLiquidity)
}

// QuoteSell returns the net wei a seller would receive for tokenAmount
// right now. Read-only.
func (e *Engine) QuoteSell(ctx context.Context, addr common.Address, tokenAmount *big.Int) (*big.Int, error) {
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}
	m, err := e.markets.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	gross, err := curve.SellGross(m.Params, m.CurrentSupply, tokenAmount)
	if err != nil {
		return nil, err
	}
	return bpsShare(gross, m.Fees.LiquidityBps), nil
}

// MigrationResult reports what a migration moved.
type MigrationResult struct {
	AlreadyMigrated bool
	EthMoved        *big.Int // liquidity reserve moved to the venue, wei
	TokensMoved     *big.Int // matching token amount, base units
}

// Migrate drains the liquidity reserve plus a matching pro-rata token
// amount through the deposit callback, then permanently disables the
// market. Idempotent: a second call on a migrated market is a no-op
// success. The callback runs inside the market's atomic step; if it
// fails, no state changes.
func (e *Engine) Migrate(ctx context.Context, addr common.Address, deposit func(eth, tokens *big.Int) error) (*MigrationResult, error) {
	lock := e.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.markets.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if m.Migrated {
		return &MigrationResult{AlreadyMigrated: true}, nil
	}
	if !m.Graduated {
		return nil, ErrNotGraduated
	}

	eth := new(big.Int).Set(m.LiquidityLedger)

	// Matching tokens at the final curve price, capped by the unminted
	// remainder of the supply cap.
	tokens := new(big.Int)
	price := curve.PriceAt(m.Params, m.CurrentSupply)
	if price.Sign() > 0 {
		tokens.Mul(eth, curve.Unit)
		tokens.Quo(tokens, price)
	}
	remainder := new(big.Int).Sub(m.TotalSupplyCap, m.CurrentSupply)
	if tokens.Cmp(remainder) > 0 {
		tokens.Set(remainder)
	}

	if err := deposit(eth, tokens); err != nil {
		return nil, fmt.Errorf("venue deposit: %w", err)
	}

	m.LiquidityLedger = new(big.Int)
	m.Migrated = true
	if err := e.markets.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("store migration: %w", err)
	}

	observability.RecordMigration()
	if err := e.bus.Publish(ctx, event.KindMarketMigrated, marketPayload(m)); err != nil {
		return nil, err
	}
	return &MigrationResult{EthMoved: eth, TokensMoved: tokens}, nil
}

// Get retrieves a market by address.
func (e *Engine) Get(ctx context.Context, addr common.Address) (*domain.Market, error) {
	return e.markets.Get(ctx, addr)
}

// List retrieves all markets.
func (e *Engine) List(ctx context.Context) ([]*domain.Market, error) {
	return e.markets.List(ctx)
}

// Trades retrieves a market's append-only trade log, ordered by seq.
func (e *Engine) Trades(ctx context.Context, addr common.Address) ([]*domain.TradeRecord, error) {
	return e.trades.GetByMarket(ctx, addr)
}

// buildTrade assembles the append-only record for the trade at the
// market's current sequence position.
func (e *Engine) buildTrade(m *domain.Market, trader common.Address, side domain.TradeSide, gross, net, tokens, feePlatform, feeLiquidity, feeAgent *big.Int) *domain.TradeRecord {
	return &domain.TradeRecord{
		TradeID:      idhash.ComputeTradeID(m.Address, m.TradeCount),
		Market:       m.Address,
		Seq:          m.TradeCount,
		Trader:       trader,
		Side:         side,
		EthAmount:    new(big.Int).Set(gross),
		NetAmount:    new(big.Int).Set(net),
		TokenAmount:  new(big.Int).Set(tokens),
		FeePlatform:  new(big.Int).Set(feePlatform),
		FeeLiquidity: new(big.Int).Set(feeLiquidity),
		FeeAgent:     new(big.Int).Set(feeAgent),
		SupplyAfter:  new(big.Int).Set(m.CurrentSupply),
		PriceAfter:   curve.PriceAt(m.Params, m.CurrentSupply),
		RaisedAfter:  new(big.Int).Set(m.EthRaised),
		ExecutedAt:   e.now().UnixMilli(),
	}
}

// commitTrade persists the mutated market and its trade record, then
// publishes the trade event.
func (e *Engine) commitTrade(ctx context.Context, m *domain.Market, t *domain.TradeRecord) error {
	if err := e.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("store market: %w", err)
	}
	if err := e.trades.Insert(ctx, t); err != nil {
		return fmt.Errorf("store trade: %w", err)
	}

	volume, _ := new(big.Float).SetInt(t.EthAmount).Float64()
	observability.RecordTrade(string(t.Side), volume)
	return e.bus.Publish(ctx, event.KindTradeExecuted, event.TradePayload{
		TradeID:      t.TradeID,
		Market:       t.Market,
		Seq:          t.Seq,
		Trader:       t.Trader,
		Side:         string(t.Side),
		EthAmount:    t.EthAmount.String(),
		TokenAmount:  t.TokenAmount.String(),
		FeePlatform:  t.FeePlatform.String(),
		FeeLiquidity: t.FeeLiquidity.String(),
		FeeAgent:     t.FeeAgent.String(),
		SupplyAfter:  t.SupplyAfter.String(),
		PriceAfter:   t.PriceAfter.String(),
		RaisedAfter:  t.RaisedAfter.String(),
	})
}

// splitAmount divides an amount into platform, agent, and liquidity
// shares. Platform and agent shares floor; the liquidity share absorbs
// the truncation remainder so the three always sum exactly.
func splitAmount(amount *big.Int, fees domain.FeeSplit) (platform, agent, liquidity *big.Int) {
	platform = bpsShare(amount, fees.PlatformBps)
	agent = bpsShare(amount, fees.AgentBps)
	liquidity = new(big.Int).Sub(amount, platform)
	liquidity.Sub(liquidity, agent)
	return platform, agent, liquidity
}

// bpsShare returns amount*bps/10000, floored.
func bpsShare(amount *big.Int, bps uint32) *big.Int {
	s := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return s.Quo(s, big.NewInt(domain.BpsDenominator))
}

func marketPayload(m *domain.Market) event.MarketPayload {
	return event.MarketPayload{
		Market:      m.Address,
		ProposalID:  m.ProposalID,
		TokenSymbol: m.TokenSymbol,
		EthRaised:   m.EthRaised.String(),
		Supply:      m.CurrentSupply.String(),
		Graduated:   m.Graduated,
		Migrated:    m.Migrated,
	}
}
