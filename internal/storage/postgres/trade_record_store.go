package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// TradeRecordStore implements storage.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *Pool
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

const tradeColumns = `
	trade_id, market, seq, trader, side,
	eth_amount, net_amount, token_amount,
	fee_platform, fee_liquidity, fee_agent,
	supply_after, price_after, raised_after, executed_at
`

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeRecordStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trade_records (` + tradeColumns + `)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TradeID, t.Market.Hex(), int64(t.Seq), t.Trader.Hex(), string(t.Side),
		bigToDB(t.EthAmount), bigToDB(t.NetAmount), bigToDB(t.TokenAmount),
		bigToDB(t.FeePlatform), bigToDB(t.FeeLiquidity), bigToDB(t.FeeAgent),
		bigToDB(t.SupplyAfter), bigToDB(t.PriceAfter), bigToDB(t.RaisedAfter), t.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// GetByID retrieves a trade by id. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_records WHERE trade_id = $1`

	row := s.pool.QueryRow(ctx, query, tradeID)
	return scanTrade(row)
}

// GetByMarket retrieves a market's trades ordered by seq ASC.
func (s *TradeRecordStore) GetByMarket(ctx context.Context, market common.Address) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_records WHERE market = $1 ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, market.Hex())
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(row rowScanner) (*domain.TradeRecord, error) {
	var (
		t              domain.TradeRecord
		market, trader string
		seq            int64
		side           string
		ethAmount, netAmount, tokenAmount,
		feePlatform, feeLiquidity, feeAgent,
		supplyAfter, priceAfter, raisedAfter string
	)
	err := row.Scan(&t.TradeID, &market, &seq, &trader, &side,
		&ethAmount, &netAmount, &tokenAmount,
		&feePlatform, &feeLiquidity, &feeAgent,
		&supplyAfter, &priceAfter, &raisedAfter, &t.ExecutedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan trade record: %w", err)
	}

	t.Market = common.HexToAddress(market)
	t.Trader = common.HexToAddress(trader)
	t.Seq = uint64(seq)
	t.Side = domain.TradeSide(side)

	for name, pair := range map[string]struct {
		src string
		dst **big.Int
	}{
		"eth_amount":    {ethAmount, &t.EthAmount},
		"net_amount":    {netAmount, &t.NetAmount},
		"token_amount":  {tokenAmount, &t.TokenAmount},
		"fee_platform":  {feePlatform, &t.FeePlatform},
		"fee_liquidity": {feeLiquidity, &t.FeeLiquidity},
		"fee_agent":     {feeAgent, &t.FeeAgent},
		"supply_after":  {supplyAfter, &t.SupplyAfter},
		"price_after":   {priceAfter, &t.PriceAfter},
		"raised_after":  {raisedAfter, &t.RaisedAfter},
	} {
		v, err := bigFromDB(pair.src)
		if err != nil {
			return nil, fmt.Errorf("trade column %s: %w", name, err)
		}
		*pair.dst = v
	}
	return &t, nil
}
