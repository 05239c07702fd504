package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-p2p/internal/testutil"
)

func TestBalanceCache_ApplyAndGet(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	c := NewBalanceCache(rdb)
	ctx := context.Background()

	applied, err := c.Apply(ctx, &BalanceSnapshot{
		AccountKey: "user:1:BTC",
		Available:  decimal.RequireFromString("1.5"),
		Locked:     decimal.RequireFromString("0.25"),
		UpdatedAt:  1000,
		EventID:    "evt-1",
	})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := c.Get(ctx, "user:1:BTC")
	require.NoError(t, err)
	assert.True(t, got.Available.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, got.Total().Equal(decimal.RequireFromString("1.75")))
	assert.Equal(t, int64(1000), got.UpdatedAt)
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, int64(1), got.Applied)
}

func TestBalanceCache_StaleSnapshotIgnored(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	c := NewBalanceCache(rdb)
	ctx := context.Background()

	_, err := c.Apply(ctx, &BalanceSnapshot{AccountKey: "user:1:USDT", Available: decimal.NewFromInt(100), UpdatedAt: 2000, EventID: "evt-2"})
	require.NoError(t, err)

	applied, err := c.Apply(ctx, &BalanceSnapshot{AccountKey: "user:1:USDT", Available: decimal.NewFromInt(50), UpdatedAt: 1000, EventID: "evt-1"})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := c.Get(ctx, "user:1:USDT")
	require.NoError(t, err)
	assert.True(t, got.Available.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "evt-2", got.EventID)
}

func TestBalanceCache_NotFoundAndErrors(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	c := NewBalanceCache(rdb)
	ctx := context.Background()

	_, err := c.Get(ctx, "user:404:BTC")
	assert.ErrorIs(t, err, ErrBalanceNotFound)

	_, err = c.Apply(ctx, &BalanceSnapshot{})
	assert.Error(t, err)

	mr.Close()
	_, err = c.Apply(ctx, &BalanceSnapshot{AccountKey: "user:1:BTC", UpdatedAt: 1})
	assert.Error(t, err)
}

func TestAMMCache_ApplyAndGet(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	c := NewAMMCache(rdb)
	ctx := context.Background()

	applied, err := c.Apply(ctx, &AMMSnapshot{Kind: AMMPool, ID: "BTC-USDT", Data: json.RawMessage(`{"reserve0":"10"}`), UpdatedAt: 5})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = c.Apply(ctx, &AMMSnapshot{Kind: AMMPool, ID: "BTC-USDT", Data: json.RawMessage(`{"reserve0":"9"}`), UpdatedAt: 4})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := c.Get(ctx, AMMPool, "BTC-USDT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"reserve0":"10"}`, string(got.Data))
	assert.Equal(t, int64(5), got.UpdatedAt)

	_, err = c.Get(ctx, AMMTick, "BTC-USDT")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}
