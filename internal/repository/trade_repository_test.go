package repository

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/testutil"
)

func newTrade(id string, status model.TradeStatus) *model.Trade {
	return &model.Trade{
		TradeID:      id,
		OfferID:      "offer-1",
		MakerID:      1,
		TakerID:      2,
		TakerSide:    model.TradeSideBuy,
		BuyerID:      2,
		SellerID:     1,
		Coin:         "BTC",
		FiatCurrency: "USD",
		CoinAmount:   decimal.RequireFromString("0.5"),
		FiatAmount:   decimal.RequireFromString("15000"),
		Price:        decimal.RequireFromString("30000"),
		FeeRatio:     decimal.RequireFromString("0.005"),
		Fee:          decimal.RequireFromString("0.0025"),
		Status:       status,
	}
}

func TestTradeRepository_CreateAndGet(t *testing.T) {
	repo := NewTradeRepository(testutil.NewSQLiteDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTrade("t-1", model.TradeStatusAwaiting)))
	assert.ErrorIs(t, repo.Create(ctx, newTrade("t-1", model.TradeStatusAwaiting)), ErrTradeAlreadyExists)

	got, err := repo.GetByTradeID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusAwaiting, got.Status)
	assert.True(t, got.CoinAmount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, int64(1), got.Version)

	_, err = repo.GetByTradeID(ctx, "nope")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestTradeRepository_Transition(t *testing.T) {
	repo := NewTradeRepository(testutil.NewSQLiteDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTrade("t-1", model.TradeStatusUnpaid)))

	require.NoError(t, repo.Transition(ctx, "t-1", model.TradeStatusUnpaid, map[string]interface{}{
		"status":  model.TradeStatusPaid,
		"paid_at": int64(42),
	}))
	// 源状态已变化
	err := repo.Transition(ctx, "t-1", model.TradeStatusUnpaid, map[string]interface{}{"status": model.TradeStatusCancelled})
	assert.ErrorIs(t, err, ErrOptimisticLock)

	got, err := repo.GetByTradeID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusPaid, got.Status)
	assert.Equal(t, int64(42), got.PaidAt)
	// 未命中的条件更新不推进版本
	assert.Equal(t, int64(2), got.Version)

	require.NoError(t, repo.UpdateTransferStatus(ctx, "t-1",
		[]model.TransferStatus{model.TransferStatusNone}, model.TransferStatusRequested))
	assert.ErrorIs(t, repo.UpdateTransferStatus(ctx, "t-1",
		[]model.TransferStatus{model.TransferStatusNone}, model.TransferStatusRequested), ErrOptimisticLock)

	got, err = repo.GetByTradeID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestTradeRepository_ListExpired(t *testing.T) {
	repo := NewTradeRepository(testutil.NewSQLiteDB(t))
	ctx := context.Background()

	expiredUnpaid := newTrade("t-unpaid-old", model.TradeStatusUnpaid)
	expiredUnpaid.UnpaidTimeoutAt = 900
	freshUnpaid := newTrade("t-unpaid-new", model.TradeStatusUnpaid)
	freshUnpaid.UnpaidTimeoutAt = 2000
	expiredPaid := newTrade("t-paid-old", model.TradeStatusPaid)
	expiredPaid.PaidTimeoutAt = 500
	disputed := newTrade("t-disputed", model.TradeStatusDisputed)
	disputed.PaidTimeoutAt = 100

	for _, tr := range []*model.Trade{expiredUnpaid, freshUnpaid, expiredPaid, disputed} {
		require.NoError(t, repo.Create(ctx, tr))
	}

	unpaid, err := repo.ListUnpaidExpired(ctx, 1000, 10)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, "t-unpaid-old", unpaid[0].TradeID)

	paid, err := repo.ListPaidExpired(ctx, 1000, 10)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "t-paid-old", paid[0].TradeID)
}

func TestTradeRepository_ListByUser(t *testing.T) {
	repo := NewTradeRepository(testutil.NewSQLiteDB(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, newTrade(id, model.TradeStatusUnpaid)))
	}
	other := newTrade("d", model.TradeStatusPaid)
	other.BuyerID, other.SellerID = 7, 8
	require.NoError(t, repo.Create(ctx, other))

	page := &Pagination{Page: 1, PageSize: 2}
	trades, err := repo.ListByUser(ctx, 2, nil, page)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, "c", trades[0].TradeID)

	status := model.TradeStatusPaid
	trades, err = repo.ListByUser(ctx, 8, &status, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "d", trades[0].TradeID)
}
