package launch

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidityVenue receives a graduated market's reserve and matching
// tokens. Implementations must be safe for concurrent use.
type LiquidityVenue interface {
	Deposit(ctx context.Context, market common.Address, eth, tokens *big.Int) error
}

// Pool is a constant-product position seeded by one migration.
type Pool struct {
	Market       common.Address
	EthReserve   *big.Int
	TokenReserve *big.Int
}

// SpotPrice returns the pool's marginal price in wei per whole token,
// scaled by unit. Zero token reserve yields a zero price.
func (p *Pool) SpotPrice(unit *big.Int) *big.Int {
	if p.TokenReserve.Sign() == 0 {
		return new(big.Int)
	}
	n := new(big.Int).Mul(p.EthReserve, unit)
	return n.Quo(n, p.TokenReserve)
}

// MemoryVenue is an in-process LiquidityVenue holding one pool per
// market. Each market migrates at most once, so a second deposit for
// the same market is rejected.
type MemoryVenue struct {
	mu    sync.RWMutex
	pools map[common.Address]*Pool
}

// NewMemoryVenue creates an empty MemoryVenue.
func NewMemoryVenue() *MemoryVenue {
	return &MemoryVenue{pools: make(map[common.Address]*Pool)}
}

// Deposit implements LiquidityVenue.
func (v *MemoryVenue) Deposit(_ context.Context, market common.Address, eth, tokens *big.Int) error {
	if eth == nil || tokens == nil || eth.Sign() < 0 || tokens.Sign() < 0 {
		return errors.New("venue deposit amounts must be non-negative")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.pools[market]; ok {
		return errors.New("venue already holds a pool for this market")
	}
	v.pools[market] = &Pool{
		Market:       market,
		EthReserve:   new(big.Int).Set(eth),
		TokenReserve: new(big.Int).Set(tokens),
	}
	return nil
}

// Pool returns the pool for a market, or nil if none exists.
func (v *MemoryVenue) Pool(market common.Address) *Pool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	p, ok := v.pools[market]
	if !ok {
		return nil
	}
	return &Pool{
		Market:       p.Market,
		EthReserve:   new(big.Int).Set(p.EthReserve),
		TokenReserve: new(big.Int).Set(p.TokenReserve),
	}
}

var _ LiquidityVenue = (*MemoryVenue)(nil)
