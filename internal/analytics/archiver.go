// Package analytics mirrors the executed-trade ledger into the
// analytics database. The mirror is eventually consistent; the ledger
// of record stays in primary storage.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/event"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// Archiver consumes trade events from the bus and bulk-archives them.
// Batches flush when full or on the flush interval, whichever first.
type Archiver struct {
	store         storage.TradeAnalyticsStore
	events        <-chan event.Envelope
	cancel        func()
	batchSize     int
	flushInterval time.Duration
	logger        *log.Logger
}

// Options for creating an Archiver.
type Options struct {
	Store         storage.TradeAnalyticsStore
	Bus           *event.MemoryBus
	BatchSize     int           // defaults to 64
	FlushInterval time.Duration // defaults to 5s
	Logger        *log.Logger
}

// New creates an Archiver subscribed to the bus.
func New(opts Options) *Archiver {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[analytics] ", log.LstdFlags)
	}

	events, cancel := opts.Bus.Subscribe(4 * batchSize)
	return &Archiver{
		store:         opts.Store,
		events:        events,
		cancel:        cancel,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
	}
}

// Run consumes events until the context is canceled. The final partial
// batch is flushed on shutdown.
func (a *Archiver) Run(ctx context.Context) error {
	defer a.cancel()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	var batch []*domain.TradeRecord
	for {
		select {
		case <-ctx.Done():
			a.flush(batch)
			return ctx.Err()

		case env, ok := <-a.events:
			if !ok {
				a.flush(batch)
				return nil
			}
			if env.Kind != event.KindTradeExecuted {
				continue
			}
			payload, ok := env.Payload.(event.TradePayload)
			if !ok {
				a.logger.Printf("unexpected payload type %T for %s", env.Payload, env.Kind)
				continue
			}
			t, err := recordFromPayload(payload, env.OccurredAt)
			if err != nil {
				a.logger.Printf("skip malformed trade event %s: %v", env.ID, err)
				continue
			}
			batch = append(batch, t)
			if len(batch) >= a.batchSize {
				a.flush(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = nil
			}
		}
	}
}

func (a *Archiver) flush(batch []*domain.TradeRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := a.store.InsertBulk(ctx, batch)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicateKey):
		// Replays after a restart land here; the ledger already has them.
		a.logger.Printf("dropped batch of %d already-archived trades", len(batch))
	default:
		a.logger.Printf("archive batch of %d trades: %v", len(batch), err)
	}
}

func recordFromPayload(p event.TradePayload, occurredAt int64) (*domain.TradeRecord, error) {
	t := &domain.TradeRecord{
		TradeID:    p.TradeID,
		Market:     p.Market,
		Seq:        p.Seq,
		Trader:     p.Trader,
		Side:       domain.TradeSide(p.Side),
		ExecutedAt: occurredAt,
	}
	for name, pair := range map[string]struct {
		src string
		dst **big.Int
	}{
		"eth_amount":    {p.EthAmount, &t.EthAmount},
		"token_amount":  {p.TokenAmount, &t.TokenAmount},
		"fee_platform":  {p.FeePlatform, &t.FeePlatform},
		"fee_liquidity": {p.FeeLiquidity, &t.FeeLiquidity},
		"fee_agent":     {p.FeeAgent, &t.FeeAgent},
		"supply_after":  {p.SupplyAfter, &t.SupplyAfter},
		"price_after":   {p.PriceAfter, &t.PriceAfter},
		"raised_after":  {p.RaisedAfter, &t.RaisedAfter},
	} {
		v, ok := new(big.Int).SetString(pair.src, 10)
		if !ok {
			return nil, fmt.Errorf("parse %s %q", name, pair.src)
		}
		*pair.dst = v
	}
	// NetAmount is not on the wire; derive the reserve-moving share.
	t.NetAmount = new(big.Int).Set(t.FeeLiquidity)
	return t, nil
}
