package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
)

func TestTradeService_CreateTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOffer(t, model.TradeSideSell)

	trade, err := f.trades.CreateTrade(ctx, &CreateTradeRequest{
		TradeID:    "T1",
		OfferID:    "offer-1",
		TakerID:    2,
		TakerSide:  model.TradeSideBuy,
		CoinAmount: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)

	assert.Equal(t, model.TradeStatusAwaiting, trade.Status)
	assert.Equal(t, int64(2), trade.BuyerID)
	assert.Equal(t, int64(1), trade.SellerID)
	assert.True(t, trade.FiatAmount.Equal(decimal.RequireFromString("15000")))
	assert.True(t, trade.Fee.Equal(decimal.RequireFromString("0.0025")))

	assert.Len(t, f.outboxFor(t, "T1", kafka.TopicMerchantEscrowRequest, kafka.ActionLock), 1)
	assert.Len(t, f.outboxFor(t, "T1", kafka.TopicTradeEvent, ""), 1)

	_, err = f.trades.CreateTrade(ctx, &CreateTradeRequest{
		TradeID:    "T1",
		OfferID:    "offer-1",
		TakerID:    2,
		TakerSide:  model.TradeSideBuy,
		CoinAmount: decimal.RequireFromString("0.5"),
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrConflict))
}

func TestTradeService_CreateTrade_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOffer(t, model.TradeSideSell)

	tests := []struct {
		name    string
		req     CreateTradeRequest
		wantErr *pkgerrors.Error
	}{
		{
			name:    "same side as offer",
			req:     CreateTradeRequest{OfferID: "offer-1", TakerID: 2, TakerSide: model.TradeSideSell, CoinAmount: decimal.RequireFromString("0.5")},
			wantErr: pkgerrors.ErrInvalidRequest,
		},
		{
			name:    "maker takes own offer",
			req:     CreateTradeRequest{OfferID: "offer-1", TakerID: 1, TakerSide: model.TradeSideBuy, CoinAmount: decimal.RequireFromString("0.5")},
			wantErr: pkgerrors.ErrInvalidRequest,
		},
		{
			name:    "below minimum",
			req:     CreateTradeRequest{OfferID: "offer-1", TakerID: 2, TakerSide: model.TradeSideBuy, CoinAmount: decimal.RequireFromString("0.001")},
			wantErr: pkgerrors.ErrInvalidAmount,
		},
		{
			name:    "above maximum",
			req:     CreateTradeRequest{OfferID: "offer-1", TakerID: 2, TakerSide: model.TradeSideBuy, CoinAmount: decimal.RequireFromString("3")},
			wantErr: pkgerrors.ErrInvalidAmount,
		},
		{
			name:    "unknown offer",
			req:     CreateTradeRequest{OfferID: "nope", TakerID: 2, TakerSide: model.TradeSideBuy, CoinAmount: decimal.RequireFromString("0.5")},
			wantErr: pkgerrors.ErrOfferNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.trades.CreateTrade(ctx, &tt.req)
			assert.True(t, pkgerrors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestTradeService_ActivateAndMarkPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusAwaiting)

	require.NoError(t, f.trades.Activate(ctx, "T1"))
	trade := f.trade(t, "T1")
	assert.Equal(t, model.TradeStatusUnpaid, trade.Status)
	assert.Positive(t, trade.UnpaidTimeoutAt)

	// 重复确认
	require.NoError(t, f.trades.Activate(ctx, "T1"))

	err := f.trades.MarkPaid(ctx, "T1", UserActor(1), "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrNotPermitted))

	require.NoError(t, f.trades.MarkPaid(ctx, "T1", UserActor(2), "bank ref 42"))
	trade = f.trade(t, "T1")
	assert.Equal(t, model.TradeStatusPaid, trade.Status)
	assert.Equal(t, "bank ref 42", trade.PaymentProof)
	assert.Greater(t, trade.PaidTimeoutAt, trade.PaidAt)
}

func TestTradeService_MarkPaid_MovesDepositToMoneySent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.depositRepo.Create(ctx, &model.FiatDeposit{
		DepositID: "D1",
		UserID:    2,
		Currency:  "USD",
		Amount:    decimal.RequireFromString("15000"),
		TradeID:   "T1",
		Status:    model.FiatDepositStatusPending,
	}))
	f.seedTrade(t, "T1", model.TradeStatusUnpaid, func(tr *model.Trade) {
		tr.PayableType = model.PayableFiatDeposit
		tr.PayableID = "D1"
	})

	require.NoError(t, f.trades.MarkPaid(ctx, "T1", UserActor(2), ""))

	deposit, err := f.depositRepo.GetByDepositID(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, model.FiatDepositStatusMoneySent, deposit.Status)
}

func TestTradeService_MarkPaidOnCancelledTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusCancelled)

	err := f.trades.MarkPaid(ctx, "T1", UserActor(2), "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBusiness(err))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrInvalidTransition))

	assert.Equal(t, model.TradeStatusCancelled, f.trade(t, "T1").Status)
	assert.Empty(t, f.outboxFor(t, "T1", kafka.TopicTradeEvent, ""))
}

func TestTradeService_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusUnpaid)

	// 卖方只能在 awaiting 取消
	err := f.trades.Cancel(ctx, "T1", UserActor(1), "changed mind")
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrNotPermitted))

	require.NoError(t, f.trades.Cancel(ctx, "T1", UserActor(2), "changed mind"))
	trade := f.trade(t, "T1")
	assert.Equal(t, model.TradeStatusCancelled, trade.Status)
	assert.Equal(t, "changed mind", trade.CancelReason)
	assert.Len(t, f.outboxFor(t, "T1", kafka.TopicMerchantEscrowRequest, kafka.ActionRefund), 1)

	err = f.trades.Cancel(ctx, "T1", UserActor(2), "again")
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrTradeAlreadyCancelled))
	assert.Len(t, f.outboxFor(t, "T1", kafka.TopicMerchantEscrowRequest, kafka.ActionRefund), 1)
}

func TestTradeService_Cancel_UnwindsWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.withdrawalRepo.Create(ctx, &model.FiatWithdrawal{
		WithdrawalID: "W1",
		UserID:       1,
		Currency:     "USD",
		Amount:       decimal.RequireFromString("15000"),
		TradeID:      "T1",
		Status:       model.FiatWithdrawalStatusProcessing,
	}))
	f.seedTrade(t, "T1", model.TradeStatusAwaiting, func(tr *model.Trade) {
		tr.PayableType = model.PayableFiatWithdrawal
		tr.PayableID = "W1"
	})

	require.NoError(t, f.trades.Cancel(ctx, "T1", UserActor(1), ""))

	withdrawal, err := f.withdrawalRepo.GetByWithdrawalID(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, model.FiatWithdrawalStatusPending, withdrawal.Status)
	assert.Empty(t, withdrawal.TradeID)
}

func TestTradeService_Dispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusUnpaid)
	f.seedTrade(t, "T2", model.TradeStatusPaid)

	err := f.trades.Dispute(ctx, "T1", UserActor(2), "seller silent")
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrInvalidTransition))

	require.NoError(t, f.trades.Dispute(ctx, "T2", UserActor(2), "seller silent"))
	trade := f.trade(t, "T2")
	assert.Equal(t, model.TradeStatusDisputed, trade.Status)
	assert.Equal(t, int64(2), trade.DisputedBy)
	assert.Equal(t, "seller silent", trade.DisputeReason)

	// 申诉后只有仲裁员可裁决
	err = f.trades.Cancel(ctx, "T2", UserActor(2), "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrNotPermitted))

	require.NoError(t, f.trades.Cancel(ctx, "T2", ArbiterActor(99), "buyer never paid"))
	trade = f.trade(t, "T2")
	assert.Equal(t, model.TradeStatusCancelled, trade.Status)
	assert.Equal(t, "cancelled", trade.DisputeResolution)
}

func TestTradeService_Dispute_LongMultiByteReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusPaid)

	// 200 个三字节汉字，超过字段上限
	reason := strings.Repeat("卖家未放币", 40)
	require.Equal(t, 600, len(reason))

	require.NoError(t, f.trades.Dispute(ctx, "T1", UserActor(2), reason))
	stored := f.trade(t, "T1").DisputeReason
	assert.True(t, utf8.ValidString(stored))
	assert.LessOrEqual(t, len(stored), maxReasonLen)
	assert.Equal(t, 498, len(stored))
	assert.True(t, strings.HasPrefix(reason, stored))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "abc", n: 5, want: "abc"},
		{name: "ascii", in: "abcdef", n: 3, want: "abc"},
		{name: "rune boundary", in: "放币", n: 3, want: "放"},
		{name: "inside rune", in: "放币", n: 4, want: "放"},
		{name: "first rune too long", in: "放币", n: 2, want: ""},
		{name: "mixed", in: "ab放币", n: 4, want: "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestTradeService_SweepTimeouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.seedTrade(t, "T1", model.TradeStatusUnpaid, func(tr *model.Trade) {
		tr.UnpaidTimeoutAt = now.Add(-time.Minute).UnixMilli()
	})
	f.seedTrade(t, "T2", model.TradeStatusUnpaid, func(tr *model.Trade) {
		tr.UnpaidTimeoutAt = now.Add(time.Minute).UnixMilli()
	})
	f.seedTrade(t, "T3", model.TradeStatusPaid, func(tr *model.Trade) {
		tr.PaidTimeoutAt = now.Add(-time.Minute).UnixMilli()
	})

	cancelled, disputed, err := f.trades.SweepTimeouts(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, 1, disputed)

	// 再扫一次不会重复取消
	cancelled, disputed, err = f.trades.SweepTimeouts(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, cancelled)
	assert.Zero(t, disputed)

	trade := f.trade(t, "T1")
	assert.Equal(t, model.TradeStatusCancelled, trade.Status)
	assert.Equal(t, "payment timeout", trade.CancelReason)
	assert.Len(t, f.outboxFor(t, "T1", kafka.TopicMerchantEscrowRequest, kafka.ActionRefund), 1)

	assert.Equal(t, model.TradeStatusUnpaid, f.trade(t, "T2").Status)
	assert.Equal(t, model.TradeStatusDisputed, f.trade(t, "T3").Status)
	assert.Empty(t, f.outboxFor(t, "T3", kafka.TopicMerchantEscrowRequest, kafka.ActionRefund))
}

func TestTradeService_Release(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusPaid)
	f.confirmLocks()

	var transfer transferIntent
	f.producer.On("SendWithContext", mock.Anything, kafka.TopicTransactionRequest, []byte("trade-T1"), mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(3).([]byte), &transfer))
		}).
		Return(nil).Once()

	err := f.trades.Release(ctx, "T1", UserActor(2))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrNotPermitted))

	require.NoError(t, f.trades.Release(ctx, "T1", UserActor(1)))
	f.producer.AssertExpectations(t)

	trade := f.trade(t, "T1")
	assert.Equal(t, model.TradeStatusReleased, trade.Status)
	assert.Equal(t, model.TransferStatusRequested, trade.TransferStatus)
	require.NotEmpty(t, trade.ReleaseLockID)

	require.Len(t, transfer.Transfers, 2)
	assert.Equal(t, "escrow:BTC:T1", transfer.Transfers[0].FromAccountKey)
	assert.Equal(t, "user:2:BTC", transfer.Transfers[0].ToAccountKey)
	assert.True(t, transfer.Transfers[0].Amount.Equal(decimal.RequireFromString("0.4975")))
	assert.Equal(t, "fee:BTC", transfer.Transfers[1].ToAccountKey)
	assert.Equal(t, trade.ReleaseLockID, transfer.LockID)

	lock, err := f.lockRepo.GetByLockID(ctx, trade.ReleaseLockID)
	require.NoError(t, err)
	assert.Equal(t, model.BalanceLockStatusLocked, lock.Status)

	unlocks, err := f.outboxRepo.ListByAggregate(ctx, model.AggregateTypeLock, trade.ReleaseLockID)
	require.NoError(t, err)
	assert.Len(t, unlocks, 1)

	err = f.trades.Release(ctx, "T1", UserActor(1))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrTradeAlreadyReleased))
}

func TestTradeService_Release_LockNotConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusPaid)

	// 引擎不回报锁定结果
	f.producer.On("SendWithContext", mock.Anything, kafka.TopicBalanceLockRequest, mock.Anything, mock.Anything).Return(nil)

	err := f.trades.Release(ctx, "T1", UserActor(1))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrLockNotConfirmed))

	trade := f.trade(t, "T1")
	assert.Equal(t, model.TradeStatusPaid, trade.Status)
	f.producer.AssertNotCalled(t, "SendWithContext", mock.Anything, kafka.TopicTransactionRequest, mock.Anything, mock.Anything)

	lock, err := f.lockRepo.GetByLockID(ctx, trade.ReleaseLockID)
	require.NoError(t, err)
	assert.Equal(t, model.BalanceLockStatusReleasing, lock.Status)

	// 引擎可能仍持有该锁，确认解锁前不可再次锁定
	err = f.lockRepo.ClaimKeys(ctx, "retry-lock", settlementAccountKeys(trade))
	assert.ErrorIs(t, err, repository.ErrAccountKeyBusy)

	require.NoError(t, f.locks.HandleLockUpdate(ctx, &LockUpdate{
		LockID: trade.ReleaseLockID, Action: kafka.ActionRelease, Status: kafka.StatusSuccess,
	}))
	require.NoError(t, f.lockRepo.ClaimKeys(ctx, "retry-lock", settlementAccountKeys(trade)))
}

func TestTradeService_Release_LockRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusDisputed)

	f.producer.On("SendWithContext", mock.Anything, kafka.TopicBalanceLockRequest, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			var intent lockIntent
			require.NoError(t, json.Unmarshal(args.Get(3).([]byte), &intent))
			if intent.ActionType == kafka.ActionCreate {
				_ = f.locks.HandleLockUpdate(context.Background(), &LockUpdate{
					LockID: intent.LockID,
					Action: kafka.ActionCreate,
					Status: kafka.StatusFailed,
					Reason: "insufficient escrow",
				})
			}
		}).
		Return(nil)

	err := f.trades.Release(ctx, "T1", UserActor(1))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrNotPermitted))

	err = f.trades.Release(ctx, "T1", ArbiterActor(99))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrLockRejected))
	assert.Equal(t, model.TradeStatusDisputed, f.trade(t, "T1").Status)
}

func TestTradeService_Release_PublishFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := f.seedTrade(t, "T1", model.TradeStatusPaid)

	f.producer.On("SendWithContext", mock.Anything, kafka.TopicBalanceLockRequest, mock.Anything, mock.Anything).
		Return(assert.AnError)

	err := f.trades.Release(ctx, "T1", UserActor(1))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrMQPublish))
	assert.Equal(t, model.TradeStatusPaid, f.trade(t, "T1").Status)

	require.NoError(t, f.lockRepo.ClaimKeys(ctx, "retry-lock", settlementAccountKeys(trade)))
}

func TestTradeService_Release_TransferFailureHoldsAccountKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusPaid)
	// 与 T1 共用卖方账户 user:1:BTC
	f.seedTrade(t, "T2", model.TradeStatusPaid, func(tr *model.Trade) {
		tr.TakerID = 3
		tr.BuyerID = 3
	})

	var creates, releases []lockIntent
	f.producer.On("SendWithContext", mock.Anything, kafka.TopicBalanceLockRequest, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			var intent lockIntent
			require.NoError(t, json.Unmarshal(args.Get(3).([]byte), &intent))
			if intent.ActionType != kafka.ActionCreate {
				releases = append(releases, intent)
				return
			}
			creates = append(creates, intent)
			_ = f.locks.HandleLockUpdate(context.Background(), &LockUpdate{
				LockID: intent.LockID, Action: kafka.ActionCreate, Status: kafka.StatusSuccess,
			})
		}).
		Return(nil)
	f.producer.On("SendWithContext", mock.Anything, kafka.TopicTransactionRequest, mock.Anything, mock.Anything).
		Return(assert.AnError).Once()
	f.producer.On("SendWithContext", mock.Anything, kafka.TopicTransactionRequest, mock.Anything, mock.Anything).
		Return(nil)

	// 锁已确认后划转发送失败
	err := f.trades.Release(ctx, "T1", UserActor(1))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrMQPublish))
	require.Len(t, creates, 1)
	require.Len(t, releases, 1)
	lockID := creates[0].LockID
	assert.Equal(t, lockID, releases[0].LockID)

	lock, err := f.lockRepo.GetByLockID(ctx, lockID)
	require.NoError(t, err)
	assert.Equal(t, model.BalanceLockStatusReleasing, lock.Status)

	// 引擎确认解锁前，覆盖相同账户的锁定请求不会发出
	err = f.trades.Release(ctx, "T2", UserActor(1))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrAccountKeyBusy))
	assert.Len(t, creates, 1)
	assert.Equal(t, model.TradeStatusPaid, f.trade(t, "T2").Status)

	require.NoError(t, f.locks.HandleLockUpdate(ctx, &LockUpdate{
		LockID: lockID, Action: kafka.ActionRelease, Status: kafka.StatusSuccess,
	}))

	require.NoError(t, f.trades.Release(ctx, "T2", UserActor(1)))
	require.Len(t, creates, 2)
	assert.Contains(t, creates[1].AccountKeys, "user:1:BTC")
	assert.Equal(t, model.TradeStatusReleased, f.trade(t, "T2").Status)
	assert.Equal(t, model.TradeStatusPaid, f.trade(t, "T1").Status)
}

func TestTradeService_Release_KeysBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trade := f.seedTrade(t, "T1", model.TradeStatusPaid)

	require.NoError(t, f.lockRepo.ClaimKeys(ctx, "other-lock", []string{model.CoinAccountKey(trade.BuyerID, trade.Coin)}))

	err := f.trades.Release(ctx, "T1", UserActor(1))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrAccountKeyBusy))
	f.producer.AssertNotCalled(t, "SendWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTradeService_ApplyEngineUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusAwaiting)
	f.seedTrade(t, "T2", model.TradeStatusCancelled)
	f.seedTrade(t, "T3", model.TradeStatusPaid)

	require.NoError(t, f.trades.ApplyEngineUpdate(ctx, "T1", EngineTradeEscrowLocked, ""))
	assert.Equal(t, model.TradeStatusUnpaid, f.trade(t, "T1").Status)

	// 取消后到达的托管确认触发退款
	require.NoError(t, f.trades.ApplyEngineUpdate(ctx, "T2", EngineTradeUnpaid, ""))
	assert.Equal(t, model.TradeStatusCancelled, f.trade(t, "T2").Status)
	assert.Len(t, f.outboxFor(t, "T2", kafka.TopicMerchantEscrowRequest, kafka.ActionRefund), 1)

	require.NoError(t, f.trades.ApplyEngineUpdate(ctx, "T1", EngineTradeCancelled, "engine cancel"))
	assert.Equal(t, model.TradeStatusCancelled, f.trade(t, "T1").Status)
	assert.Empty(t, f.outboxFor(t, "T1", kafka.TopicMerchantEscrowRequest, kafka.ActionRefund))
	require.NoError(t, f.trades.ApplyEngineUpdate(ctx, "T1", EngineTradeCancelled, "engine cancel"))

	require.NoError(t, f.trades.ApplyEngineUpdate(ctx, "T3", EngineTradeDisputed, ""))
	assert.Equal(t, model.TradeStatusDisputed, f.trade(t, "T3").Status)
	require.NoError(t, f.trades.ApplyEngineUpdate(ctx, "T3", EngineTradeDisputed, ""))

	err := f.trades.ApplyEngineUpdate(ctx, "T3", "exploded", "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrUnsupportedEventAction))
}

func TestTradeService_TransferResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusReleased, func(tr *model.Trade) {
		tr.TransferStatus = model.TransferStatusRequested
	})

	require.NoError(t, f.trades.HandleTransferResponse(ctx, "T1", true, ""))
	assert.Equal(t, model.TransferStatusAccepted, f.trade(t, "T1").TransferStatus)

	// 重复回执
	require.NoError(t, f.trades.HandleTransferResponse(ctx, "T1", true, ""))

	require.NoError(t, f.trades.HandleTransferResult(ctx, "T1", true, ""))
	assert.Equal(t, model.TransferStatusSucceeded, f.trade(t, "T1").TransferStatus)
}

func TestTradeService_TransferResult_ReconcilesRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusPaid, func(tr *model.Trade) {
		tr.ReleaseLockID = "lock-1"
	})

	require.NoError(t, f.trades.HandleTransferResult(ctx, "T1", true, ""))

	trade := f.trade(t, "T1")
	assert.Equal(t, model.TradeStatusReleased, trade.Status)
	assert.Equal(t, model.TransferStatusSucceeded, trade.TransferStatus)

	unlocks, err := f.outboxRepo.ListByAggregate(ctx, model.AggregateTypeLock, "lock-1")
	require.NoError(t, err)
	assert.Len(t, unlocks, 1)
}

func TestTradeService_TransferResult_Failed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTrade(t, "T1", model.TradeStatusReleased, func(tr *model.Trade) {
		tr.TransferStatus = model.TransferStatusAccepted
	})

	require.NoError(t, f.trades.HandleTransferResult(ctx, "T1", false, "insufficient balance"))
	assert.Equal(t, model.TransferStatusFailed, f.trade(t, "T1").TransferStatus)
}
