package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

func createTestTrade(tradeID string, market common.Address, seq uint64) *domain.TradeRecord {
	big256 := func(s string) *big.Int {
		v, _ := new(big.Int).SetString(s, 10)
		return v
	}
	return &domain.TradeRecord{
		TradeID: tradeID,
		Market:  market,
		Seq:     seq,
		Trader:  common.HexToAddress("0x0B"),
		Side:    domain.TradeSideBuy,
		// Above 2^64 to exercise the NUMERIC(78,0) round trip.
		EthAmount:    big256("123456789012345678901234567890"),
		NetAmount:    big256("74074073407407407340740740734"),
		TokenAmount:  big256("5000000000000000000"),
		FeePlatform:  big256("37037036703703703670370370367"),
		FeeLiquidity: big256("74074073407407407340740740734"),
		FeeAgent:     big256("12345678901234567890123456789"),
		SupplyAfter:  big256("5000000000000000000"),
		PriceAfter:   big256("1000000050000000000"),
		RaisedAfter:  big256("123456789012345678901234567890"),
		ExecutedAt:   1704067200000,
	}
}

func TestTradeRecordStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeRecordStore(pool)
	market := common.HexToAddress("0xA1")

	trade := createTestTrade("trade-001", market, 0)
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByID(ctx, "trade-001")
	require.NoError(t, err)

	assert.Equal(t, trade.TradeID, got.TradeID)
	assert.Equal(t, trade.Market, got.Market)
	assert.Equal(t, trade.Seq, got.Seq)
	assert.Equal(t, trade.Side, got.Side)
	assert.Zero(t, trade.EthAmount.Cmp(got.EthAmount))
	assert.Zero(t, trade.NetAmount.Cmp(got.NetAmount))
	assert.Zero(t, trade.TokenAmount.Cmp(got.TokenAmount))
	assert.Zero(t, trade.FeePlatform.Cmp(got.FeePlatform))
	assert.Zero(t, trade.FeeLiquidity.Cmp(got.FeeLiquidity))
	assert.Zero(t, trade.FeeAgent.Cmp(got.FeeAgent))
	assert.Equal(t, trade.ExecutedAt, got.ExecutedAt)
}

func TestTradeRecordStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeRecordStore(pool)
	market := common.HexToAddress("0xA1")

	require.NoError(t, store.Insert(ctx, createTestTrade("trade-001", market, 0)))
	assert.ErrorIs(t, store.Insert(ctx, createTestTrade("trade-001", market, 1)), storage.ErrDuplicateKey)

	// (market, seq) is unique too.
	assert.ErrorIs(t, store.Insert(ctx, createTestTrade("trade-002", market, 0)), storage.ErrDuplicateKey)
}

func TestTradeRecordStore_GetByMarket(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeRecordStore(pool)
	market := common.HexToAddress("0xA1")
	other := common.HexToAddress("0xA2")

	require.NoError(t, store.Insert(ctx, createTestTrade("trade-002", market, 2)))
	require.NoError(t, store.Insert(ctx, createTestTrade("trade-000", market, 0)))
	require.NoError(t, store.Insert(ctx, createTestTrade("other-000", other, 0)))
	require.NoError(t, store.Insert(ctx, createTestTrade("trade-001", market, 1)))

	list, err := store.GetByMarket(ctx, market)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, tr := range list {
		assert.Equal(t, uint64(i), tr.Seq)
	}

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
