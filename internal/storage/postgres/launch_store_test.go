package postgres

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

func TestLaunchStore_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLaunchStore(pool)

	l := &domain.LaunchRecord{
		ProposalID: 1,
		Market:     common.HexToAddress("0xA1"),
		LaunchedAt: 1704067200000,
	}
	require.NoError(t, store.Insert(ctx, l))
	assert.ErrorIs(t, store.Insert(ctx, l), storage.ErrDuplicateKey)

	got, err := store.GetByProposal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, l.Market, got.Market)
	assert.Equal(t, l.LaunchedAt, got.LaunchedAt)

	require.NoError(t, store.Delete(ctx, 1))
	_, err = store.GetByProposal(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, 1), storage.ErrNotFound)
}
