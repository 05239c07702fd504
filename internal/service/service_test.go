package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	"github.com/eidos-exchange/eidos-p2p/internal/testutil"
	"github.com/eidos-exchange/eidos-p2p/pkg/lock"
)

// MockProducer 模拟生产者
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) SendWithContext(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type fixture struct {
	db             *gorm.DB
	producer       *MockProducer
	tradeRepo      repository.TradeRepository
	offerRepo      repository.OfferRepository
	lockRepo       repository.BalanceLockRepository
	outboxRepo     repository.OutboxRepository
	depositRepo    repository.FiatDepositRepository
	withdrawalRepo repository.FiatWithdrawalRepository
	locks          BalanceLockService
	payables       PayableService
	offers         OfferService
	trades         *tradeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	redisClient, _ := testutil.NewRedis(t)

	f := &fixture{
		db:             db,
		producer:       new(MockProducer),
		tradeRepo:      repository.NewTradeRepository(db),
		offerRepo:      repository.NewOfferRepository(db),
		lockRepo:       repository.NewBalanceLockRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		depositRepo:    repository.NewFiatDepositRepository(db),
		withdrawalRepo: repository.NewFiatWithdrawalRepository(db),
	}
	f.locks = NewBalanceLockService(f.lockRepo, f.outboxRepo, f.producer, 10*time.Millisecond)
	f.payables = NewPayableService(f.depositRepo, f.withdrawalRepo)
	f.offers = NewOfferService(f.offerRepo)
	f.trades = NewTradeService(
		repository.NewTxManager(db),
		f.tradeRepo,
		f.lockRepo,
		f.outboxRepo,
		f.offers,
		f.payables,
		f.locks,
		lock.NewRedisLocker(redisClient, "eidos:p2p:lock:", 5*time.Second),
		TradeServiceConfig{
			PaymentWindow:      15 * time.Minute,
			ReleaseWindow:      30 * time.Minute,
			LockConfirmTimeout: 200 * time.Millisecond,
			SweepBatchSize:     50,
			Fees: config.FeeConfig{
				Default: decimal.RequireFromString("0.005"),
				Coins:   map[string]decimal.Decimal{"USDT": decimal.RequireFromString("0.002")},
			},
		},
	).(*tradeService)
	return f
}

// confirmLocks 引擎收到锁定请求后立即确认
func (f *fixture) confirmLocks() {
	f.producer.On("SendWithContext", mock.Anything, kafka.TopicBalanceLockRequest, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			var intent lockIntent
			if err := json.Unmarshal(args.Get(3).([]byte), &intent); err != nil || intent.ActionType != kafka.ActionCreate {
				return
			}
			_ = f.locks.HandleLockUpdate(context.Background(), &LockUpdate{
				LockID: intent.LockID,
				Action: kafka.ActionCreate,
				Status: kafka.StatusSuccess,
			})
		}).
		Return(nil)
}

func (f *fixture) seedOffer(t *testing.T, offerType model.TradeSide) *model.Offer {
	t.Helper()
	offer := &model.Offer{
		OfferID:      "offer-1",
		UserID:       1,
		OfferType:    offerType,
		Coin:         "BTC",
		FiatCurrency: "USD",
		Price:        decimal.RequireFromString("30000"),
		MinAmount:    decimal.RequireFromString("0.01"),
		MaxAmount:    decimal.RequireFromString("2"),
		Status:       model.OfferStatusActive,
	}
	require.NoError(t, f.offerRepo.Create(context.Background(), offer))
	return offer
}

// seedTrade 卖方 1，买方 2
func (f *fixture) seedTrade(t *testing.T, id string, status model.TradeStatus, mutate ...func(*model.Trade)) *model.Trade {
	t.Helper()
	trade := &model.Trade{
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
	for _, fn := range mutate {
		fn(trade)
	}
	require.NoError(t, f.tradeRepo.Create(context.Background(), trade))
	return trade
}

func (f *fixture) trade(t *testing.T, id string) *model.Trade {
	t.Helper()
	trade, err := f.tradeRepo.GetByTradeID(context.Background(), id)
	require.NoError(t, err)
	return trade
}

// outboxFor 按 topic 与动作统计交易相关的 outbox 消息
func (f *fixture) outboxFor(t *testing.T, tradeID, topic string, action kafka.ActionType) []*model.OutboxMessage {
	t.Helper()
	msgs, err := f.outboxRepo.ListByAggregate(context.Background(), model.AggregateTypeTrade, tradeID)
	require.NoError(t, err)

	var out []*model.OutboxMessage
	for _, m := range msgs {
		if m.Topic != topic {
			continue
		}
		var env kafka.Envelope
		require.NoError(t, json.Unmarshal(m.Payload, &env))
		if action == "" || env.ActionType == action {
			out = append(out, m)
		}
	}
	return out
}
