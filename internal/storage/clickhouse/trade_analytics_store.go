package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// TradeAnalyticsStore implements storage.TradeAnalyticsStore using
// ClickHouse. Amounts are UInt256 columns; the driver maps them to
// *big.Int both ways.
type TradeAnalyticsStore struct {
	conn *Conn
}

// NewTradeAnalyticsStore creates a new TradeAnalyticsStore.
func NewTradeAnalyticsStore(conn *Conn) *TradeAnalyticsStore {
	return &TradeAnalyticsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeAnalyticsStore = (*TradeAnalyticsStore)(nil)

// InsertBulk archives trades. Fails entire batch on duplicate (market, seq).
func (s *TradeAnalyticsStore) InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		market common.Address
		seq    uint64
	}
	seen := make(map[key]struct{})
	for _, t := range trades {
		k := key{t.Market, t.Seq}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, t := range trades {
		exists, err := s.exists(ctx, t.Market, t.Seq)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_analytics (
			market, seq, trade_id, trader, side,
			eth_amount, net_amount, token_amount,
			fee_platform, fee_liquidity, fee_agent,
			supply_after, price_after, raised_after, executed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			t.Market.Hex(), t.Seq, t.TradeID, t.Trader.Hex(), string(t.Side),
			t.EthAmount, t.NetAmount, t.TokenAmount,
			t.FeePlatform, t.FeeLiquidity, t.FeeAgent,
			t.SupplyAfter, t.PriceAfter, t.RaisedAfter, uint64(t.ExecutedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves a market's trades within [start, end] (inclusive).
func (s *TradeAnalyticsStore) GetByTimeRange(ctx context.Context, market common.Address, start, end int64) ([]*domain.TradeRecord, error) {
	query := `
		SELECT market, seq, trade_id, trader, side,
			eth_amount, net_amount, token_amount,
			fee_platform, fee_liquidity, fee_agent,
			supply_after, price_after, raised_after, executed_at
		FROM trade_analytics
		WHERE market = ? AND executed_at >= ? AND executed_at <= ?
		ORDER BY executed_at ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, market.Hex(), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var (
			t               domain.TradeRecord
			marketHex       string
			traderHex, side string
			executedAt      uint64
		)
		t.EthAmount = new(big.Int)
		t.NetAmount = new(big.Int)
		t.TokenAmount = new(big.Int)
		t.FeePlatform = new(big.Int)
		t.FeeLiquidity = new(big.Int)
		t.FeeAgent = new(big.Int)
		t.SupplyAfter = new(big.Int)
		t.PriceAfter = new(big.Int)
		t.RaisedAfter = new(big.Int)

		err := rows.Scan(&marketHex, &t.Seq, &t.TradeID, &traderHex, &side,
			&t.EthAmount, &t.NetAmount, &t.TokenAmount,
			&t.FeePlatform, &t.FeeLiquidity, &t.FeeAgent,
			&t.SupplyAfter, &t.PriceAfter, &t.RaisedAfter, &executedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade analytics row: %w", err)
		}
		t.Market = common.HexToAddress(marketHex)
		t.Trader = common.HexToAddress(traderHex)
		t.Side = domain.TradeSide(side)
		t.ExecutedAt = int64(executedAt)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// VolumeBySide sums gross wei volume per side within [start, end] (inclusive).
func (s *TradeAnalyticsStore) VolumeBySide(ctx context.Context, market common.Address, start, end int64) (map[domain.TradeSide]*big.Int, error) {
	query := `
		SELECT side, sum(eth_amount)
		FROM trade_analytics
		WHERE market = ? AND executed_at >= ? AND executed_at <= ?
		GROUP BY side
	`

	rows, err := s.conn.Query(ctx, query, market.Hex(), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query volume: %w", err)
	}
	defer rows.Close()

	result := map[domain.TradeSide]*big.Int{
		domain.TradeSideBuy:  new(big.Int),
		domain.TradeSideSell: new(big.Int),
	}
	for rows.Next() {
		var (
			side   string
			volume = new(big.Int)
		)
		if err := rows.Scan(&side, &volume); err != nil {
			return nil, fmt.Errorf("scan volume row: %w", err)
		}
		result[domain.TradeSide(side)] = volume
	}
	return result, rows.Err()
}

// exists checks if a trade with the given key exists.
func (s *TradeAnalyticsStore) exists(ctx context.Context, market common.Address, seq uint64) (bool, error) {
	query := `
		SELECT count(*) FROM trade_analytics
		WHERE market = ? AND seq = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, market.Hex(), seq).Scan(&count); err != nil {
		return false, fmt.Errorf("count trades: %w", err)
	}
	return count > 0, nil
}
