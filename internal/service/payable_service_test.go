package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
)

func TestPayableService_DepositLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.depositRepo.Create(ctx, &model.FiatDeposit{
		DepositID: "D1",
		UserID:    2,
		Currency:  "USD",
		Amount:    decimal.RequireFromString("100"),
		Status:    model.FiatDepositStatusAwaiting,
	}))
	trade := &model.Trade{TradeID: "T1", PayableType: model.PayableFiatDeposit, PayableID: "D1"}

	require.NoError(t, f.payables.Attach(ctx, trade))
	require.NoError(t, f.payables.MarkMoneySent(ctx, trade))
	require.NoError(t, f.payables.VerifyOwnership(ctx, "D1"))
	require.NoError(t, f.payables.HandleDepositResult(ctx, "D1", true, ""))
	// 重复回报
	require.NoError(t, f.payables.HandleDepositResult(ctx, "D1", true, ""))

	deposit, err := f.depositRepo.GetByDepositID(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, model.FiatDepositStatusProcessed, deposit.Status)
	assert.Equal(t, "T1", deposit.TradeID)

	err = f.payables.Unwind(ctx, trade)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrInvalidPayableStatus))

	err = f.payables.HandleDepositResult(ctx, "missing", true, "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrDepositNotFound))
}

func TestPayableService_WithdrawalLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.withdrawalRepo.Create(ctx, &model.FiatWithdrawal{
		WithdrawalID: "W1",
		UserID:       1,
		Currency:     "USD",
		Amount:       decimal.RequireFromString("100"),
		Status:       model.FiatWithdrawalStatusPending,
	}))
	trade := &model.Trade{TradeID: "T1", PayableType: model.PayableFiatWithdrawal, PayableID: "W1"}

	require.NoError(t, f.payables.Attach(ctx, trade))
	withdrawal, err := f.withdrawalRepo.GetByWithdrawalID(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, model.FiatWithdrawalStatusProcessing, withdrawal.Status)

	require.NoError(t, f.payables.Settle(ctx, trade))
	withdrawal, err = f.withdrawalRepo.GetByWithdrawalID(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, model.FiatWithdrawalStatusProcessed, withdrawal.Status)

	// 失败回报只记录日志
	require.NoError(t, f.payables.HandleWithdrawalResult(ctx, "W1", false, "bank rejected"))
}

func TestPayableService_NoPayable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := &model.Trade{TradeID: "T1"}

	assert.NoError(t, f.payables.Attach(ctx, trade))
	assert.NoError(t, f.payables.MarkMoneySent(ctx, trade))
	assert.NoError(t, f.payables.Settle(ctx, trade))
	assert.NoError(t, f.payables.Unwind(ctx, trade))
}

func TestCoinWithdrawalService_HandleUpdate(t *testing.T) {
	db := newFixture(t).db
	repo := repository.NewCoinWithdrawalRepository(db)
	svc := NewCoinWithdrawalService(repo)
	ctx := context.Background()

	// 信息不全且本地无记录
	err := svc.HandleUpdate(ctx, &CoinWithdrawalUpdate{WithdrawalID: "CW1", Status: model.CoinWithdrawalStatusProcessing})
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrWithdrawalNotFound))

	require.NoError(t, svc.HandleUpdate(ctx, &CoinWithdrawalUpdate{
		WithdrawalID: "CW1",
		UserID:       7,
		Coin:         "ETH",
		Amount:       decimal.RequireFromString("2"),
		Address:      "0xabc",
		Status:       model.CoinWithdrawalStatusProcessing,
	}))

	require.NoError(t, svc.HandleUpdate(ctx, &CoinWithdrawalUpdate{
		WithdrawalID: "CW1",
		TxHash:       "0xdeadbeef",
		Status:       model.CoinWithdrawalStatusCompleted,
	}))
	require.NoError(t, svc.HandleUpdate(ctx, &CoinWithdrawalUpdate{WithdrawalID: "CW1", Status: model.CoinWithdrawalStatusCompleted}))

	got, err := repo.GetByWithdrawalID(ctx, "CW1")
	require.NoError(t, err)
	assert.Equal(t, model.CoinWithdrawalStatusCompleted, got.Status)
	assert.Equal(t, "0xdeadbeef", got.TxHash)

	err = svc.HandleUpdate(ctx, &CoinWithdrawalUpdate{WithdrawalID: "CW1", Status: model.CoinWithdrawalStatusFailed})
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrInvalidPayableStatus))

	err = svc.HandleUpdate(ctx, &CoinWithdrawalUpdate{WithdrawalID: "CW1", Status: model.CoinWithdrawalStatusPending})
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrUnsupportedEventAction))
}
