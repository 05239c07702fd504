package app

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-p2p/internal/cache"
	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/handler/event"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	"github.com/eidos-exchange/eidos-p2p/internal/service"
	"github.com/eidos-exchange/eidos-p2p/pkg/lock"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

const lockKeyPrefix = "eidos:p2p:lock:"

// Components 仓储、服务与 handler 注册表
// 服务进程与重放工具共用同一套装配
type Components struct {
	TxManager repository.TxManager

	EventRepo      repository.EventRepository
	TradeRepo      repository.TradeRepository
	OfferRepo      repository.OfferRepository
	LockRepo       repository.BalanceLockRepository
	OutboxRepo     repository.OutboxRepository
	DepositRepo    repository.FiatDepositRepository
	WithdrawalRepo repository.FiatWithdrawalRepository
	CoinRepo       repository.CoinWithdrawalRepository

	Balances cache.BalanceCache
	AMM      cache.AMMCache
	Locker   *lock.RedisLocker

	Offers          service.OfferService
	Payables        service.PayableService
	CoinWithdrawals service.CoinWithdrawalService
	Locks           service.BalanceLockService
	Trades          service.TradeService
	Reprocess       service.ReprocessService

	Registry *kafka.Registry
}

// BuildComponents 装配全部组件并注册入站 handler
func BuildComponents(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient, producer kafka.MessageProducer) (*Components, error) {
	c := &Components{
		TxManager:      repository.NewTxManager(db),
		EventRepo:      repository.NewEventRepository(db),
		TradeRepo:      repository.NewTradeRepository(db),
		OfferRepo:      repository.NewOfferRepository(db),
		LockRepo:       repository.NewBalanceLockRepository(db),
		OutboxRepo:     repository.NewOutboxRepository(db, cfg.Outbox.MaxRetries),
		DepositRepo:    repository.NewFiatDepositRepository(db),
		WithdrawalRepo: repository.NewFiatWithdrawalRepository(db),
		CoinRepo:       repository.NewCoinWithdrawalRepository(db),
		Balances:       cache.NewBalanceCache(rdb),
		AMM:            cache.NewAMMCache(rdb),
		Locker:         lock.NewRedisLocker(rdb, lockKeyPrefix, cfg.Lock.SettleLockTTL()),
	}

	c.Offers = service.NewOfferService(c.OfferRepo)
	c.Payables = service.NewPayableService(c.DepositRepo, c.WithdrawalRepo)
	c.CoinWithdrawals = service.NewCoinWithdrawalService(c.CoinRepo)
	c.Locks = service.NewBalanceLockService(c.LockRepo, c.OutboxRepo, producer,
		cfg.Lock.PollInterval())
	c.Trades = service.NewTradeService(
		c.TxManager,
		c.TradeRepo,
		c.LockRepo,
		c.OutboxRepo,
		c.Offers,
		c.Payables,
		c.Locks,
		c.Locker,
		service.TradeServiceConfig{
			PaymentWindow:      cfg.Trade.PaymentWindow(),
			ReleaseWindow:      cfg.Trade.ReleaseWindow(),
			LockConfirmTimeout: cfg.Lock.ConfirmTimeout(),
			SweepBatchSize:     cfg.Sweeper.BatchSize,
			Fees:               cfg.TradingFees,
		},
	)

	c.Registry = kafka.NewRegistry()
	if err := event.RegisterAll(c.Registry, &event.Deps{
		Trades:          c.Trades,
		Locks:           c.Locks,
		Offers:          c.Offers,
		Payables:        c.Payables,
		CoinWithdrawals: c.CoinWithdrawals,
		Balances:        c.Balances,
		AMM:             c.AMM,
		Logger:          logger.L(),
	}); err != nil {
		return nil, err
	}
	c.Reprocess = service.NewReprocessService(c.TxManager, c.EventRepo, c.Registry)
	return c, nil
}
