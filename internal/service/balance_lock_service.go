package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/metrics"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// FundTransfer 一笔账户间划转
type FundTransfer struct {
	FromAccountKey string          `json:"fromAccountKey"`
	ToAccountKey   string          `json:"toAccountKey"`
	Coin           string          `json:"coin"`
	Amount         decimal.Decimal `json:"amount"`
}

// LockUpdate 引擎回报的锁状态
type LockUpdate struct {
	LockID     string
	Identifier string
	Action     kafka.ActionType // create / release
	Status     string           // success / failed
	Reason     string
}

// lockIntent 锁定/解锁请求
type lockIntent struct {
	kafka.Envelope
	LockID      string   `json:"lockId"`
	AccountKeys []string `json:"accountKeys,omitempty"`
}

// transferIntent 划转请求
type transferIntent struct {
	kafka.Envelope
	LockID    string         `json:"lockId"`
	Transfers []FundTransfer `json:"transfers"`
}

// maxReleaseAttempts 引擎回报解锁失败后的最大重发次数
const maxReleaseAttempts = 5

// BalanceLockService 余额锁协议客户端
// 只负责发出意图与同步确认结果，账户占用冲突由调用方通过 ClaimKeys 排除
type BalanceLockService interface {
	// Create 记录 pending 锁并发送锁定意图；发送失败时锁标记为 failed
	Create(ctx context.Context, lockID string, accountKeys []string, identifier string) error

	// Unlock 发送解锁意图
	Unlock(ctx context.Context, lockID, identifier string) error

	// EnqueueUnlock 在当前事务内写入解锁意图，由 outbox relay 投递
	EnqueueUnlock(ctx context.Context, lockID, identifier string) error

	// HandleLockUpdate 应用引擎确认
	HandleLockUpdate(ctx context.Context, update *LockUpdate) error

	// AwaitLocked 等待锁被确认
	AwaitLocked(ctx context.Context, lockID string, timeout time.Duration) error

	// Transfer 发送划转请求
	Transfer(ctx context.Context, identifier, lockID string, transfers []FundTransfer) error

	// Abandon 放弃未完成的锁
	// 引擎可能已持有的锁发出解锁意图并转为 releasing，账户占用等 release/success 再释放；
	// 锁定意图从未送达的锁直接释放占用
	Abandon(ctx context.Context, lockID, identifier, reason string)
}

type balanceLockService struct {
	lockRepo     repository.BalanceLockRepository
	outboxRepo   repository.OutboxRepository
	producer     kafka.MessageProducer
	pollInterval time.Duration
}

// NewBalanceLockService 创建余额锁服务
func NewBalanceLockService(
	lockRepo repository.BalanceLockRepository,
	outboxRepo repository.OutboxRepository,
	producer kafka.MessageProducer,
	pollInterval time.Duration,
) BalanceLockService {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &balanceLockService{
		lockRepo:     lockRepo,
		outboxRepo:   outboxRepo,
		producer:     producer,
		pollInterval: pollInterval,
	}
}

func (s *balanceLockService) Create(ctx context.Context, lockID string, accountKeys []string, identifier string) error {
	lock := &model.BalanceLock{
		LockID:      lockID,
		AccountKeys: accountKeys,
		Identifier:  identifier,
		Status:      model.BalanceLockStatusPending,
	}
	if err := s.lockRepo.Create(ctx, lock); err != nil {
		return fmt.Errorf("create balance lock: %w", err)
	}

	intent := lockIntent{
		Envelope:    kafka.NewIntent(identifier, kafka.OperationBalanceLock, kafka.ActionCreate),
		LockID:      lockID,
		AccountKeys: accountKeys,
	}
	if err := s.publish(ctx, kafka.TopicBalanceLockRequest, identifier, intent); err != nil {
		// 意图未送达，整个结算步骤视为未开始
		if terr := s.lockRepo.Transition(ctx, lockID,
			[]model.BalanceLockStatus{model.BalanceLockStatusPending}, model.BalanceLockStatusFailed,
			map[string]interface{}{"fail_reason": "lock request not delivered"}); terr != nil {
			logger.Error("mark balance lock failed",
				zap.String("lock_id", lockID),
				zap.Error(terr))
		}
		return err
	}

	logger.Info("balance lock requested",
		zap.String("lock_id", lockID),
		zap.String("identifier", identifier),
		zap.Strings("account_keys", accountKeys))
	return nil
}

func (s *balanceLockService) Unlock(ctx context.Context, lockID, identifier string) error {
	intent := lockIntent{
		Envelope: kafka.NewIntent(identifier, kafka.OperationBalanceLock, kafka.ActionRelease),
		LockID:   lockID,
	}
	return s.publish(ctx, kafka.TopicBalanceLockRequest, identifier, intent)
}

func (s *balanceLockService) EnqueueUnlock(ctx context.Context, lockID, identifier string) error {
	intent := lockIntent{
		Envelope: kafka.NewIntent(identifier, kafka.OperationBalanceLock, kafka.ActionRelease),
		LockID:   lockID,
	}
	msg, err := newOutboxMessage(kafka.TopicBalanceLockRequest, identifier, model.AggregateTypeLock, lockID, intent.EventID, intent)
	if err != nil {
		return err
	}
	return s.outboxRepo.Create(ctx, msg)
}

func (s *balanceLockService) Transfer(ctx context.Context, identifier, lockID string, transfers []FundTransfer) error {
	intent := transferIntent{
		Envelope:  kafka.NewIntent(identifier, kafka.OperationTransaction, kafka.ActionTransfer),
		LockID:    lockID,
		Transfers: transfers,
	}
	return s.publish(ctx, kafka.TopicTransactionRequest, identifier, intent)
}

func (s *balanceLockService) HandleLockUpdate(ctx context.Context, update *LockUpdate) error {
	ctx = logger.WithLock(ctx, update.LockID)
	lock, err := s.lockRepo.GetByLockID(ctx, update.LockID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceLockNotFound) {
			return kafka.NewNonRetryableError(pkgerrors.Wrap(pkgerrors.ErrUnknownBalanceLock, err).
				WithDetail("lock_id", update.LockID))
		}
		return err
	}

	now := time.Now().UnixMilli()
	success := update.Status == kafka.StatusSuccess

	switch {
	case update.Action == kafka.ActionCreate && success:
		err = s.lockRepo.Transition(ctx, lock.LockID,
			[]model.BalanceLockStatus{model.BalanceLockStatusPending}, model.BalanceLockStatusLocked,
			map[string]interface{}{"locked_at": now})

	case update.Action == kafka.ActionCreate:
		// 已放弃的锁同样在此结束: 引擎从未持有它
		err = s.lockRepo.Transition(ctx, lock.LockID,
			[]model.BalanceLockStatus{model.BalanceLockStatusPending, model.BalanceLockStatusReleasing},
			model.BalanceLockStatusFailed,
			map[string]interface{}{"fail_reason": reasonOr(update.Reason, "rejected by engine")})
		if err == nil {
			err = s.lockRepo.FreeKeys(ctx, lock.LockID)
		}

	case update.Action == kafka.ActionRelease && success:
		err = s.lockRepo.Transition(ctx, lock.LockID,
			[]model.BalanceLockStatus{
				model.BalanceLockStatusPending,
				model.BalanceLockStatusLocked,
				model.BalanceLockStatusReleasing,
			},
			model.BalanceLockStatusReleased,
			map[string]interface{}{"released_at": now})
		if err == nil || errors.Is(err, repository.ErrOptimisticLock) {
			// 账户占用只在引擎确认解锁后释放
			if ferr := s.lockRepo.FreeKeys(ctx, lock.LockID); ferr != nil {
				return ferr
			}
		}

	case update.Action == kafka.ActionRelease:
		return s.retryRelease(ctx, lock, update.Reason)

	default:
		return kafka.NewNonRetryableError(pkgerrors.ErrUnsupportedEventAction.
			WithDetail("action", string(update.Action)))
	}

	if errors.Is(err, repository.ErrOptimisticLock) {
		// 重复确认
		logger.DebugCtx(ctx, "balance lock update ignored",
			zap.String("status", string(lock.Status)),
			zap.String("action", string(update.Action)))
		return nil
	}
	return err
}

func (s *balanceLockService) AwaitLocked(ctx context.Context, lockID string, timeout time.Duration) error {
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		lock, err := s.lockRepo.GetByLockID(ctx, lockID)
		if err != nil {
			return err
		}
		switch lock.Status {
		case model.BalanceLockStatusLocked:
			metrics.ObserveLockWait("locked", time.Since(start).Seconds())
			return nil
		case model.BalanceLockStatusFailed, model.BalanceLockStatusReleasing, model.BalanceLockStatusReleased:
			metrics.ObserveLockWait("rejected", time.Since(start).Seconds())
			return pkgerrors.ErrLockRejected.
				WithDetail("lock_id", lockID).
				WithDetail("reason", lock.FailReason)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			metrics.ObserveLockWait("timeout", time.Since(start).Seconds())
			return pkgerrors.ErrLockNotConfirmed.
				WithDetail("lock_id", lockID).
				WithDetail("timeout", timeout.String())
		case <-ticker.C:
		}
	}
}

func (s *balanceLockService) Abandon(ctx context.Context, lockID, identifier, reason string) {
	ctx = logger.WithLock(ctx, lockID)
	lock, err := s.lockRepo.GetByLockID(ctx, lockID)
	switch {
	case errors.Is(err, repository.ErrBalanceLockNotFound):
		// 锁记录未落库，意图不可能已发出
		s.freeKeys(ctx, lockID)
		return
	case err != nil:
		// 状态未知时保留占用
		logger.ErrorCtx(ctx, "load balance lock failed, account keys kept", zap.Error(err))
		return
	case !lock.Status.IsActive():
		// 引擎拒绝或锁定意图未送达
		s.freeKeys(ctx, lockID)
		return
	case lock.Status == model.BalanceLockStatusReleasing:
		return
	}

	if err := s.Unlock(ctx, lockID, identifier); err != nil {
		logger.WarnCtx(ctx, "unlock publish failed, falling back to outbox", zap.Error(err))
		if err := s.EnqueueUnlock(ctx, lockID, identifier); err != nil {
			logger.ErrorCtx(ctx, "enqueue unlock failed, balance lock needs manual release", zap.Error(err))
		}
	}

	// 账户占用保留到引擎确认解锁
	err = s.lockRepo.Transition(ctx, lockID,
		[]model.BalanceLockStatus{model.BalanceLockStatusPending, model.BalanceLockStatusLocked},
		model.BalanceLockStatusReleasing,
		map[string]interface{}{"fail_reason": reason})
	if err != nil && !errors.Is(err, repository.ErrOptimisticLock) {
		logger.ErrorCtx(ctx, "mark balance lock releasing failed", zap.Error(err))
		return
	}
	logger.InfoCtx(ctx, "balance lock abandoned, awaiting release",
		zap.String("identifier", identifier),
		zap.String("reason", reason))
}

// retryRelease 引擎解锁失败时经 outbox 重发解锁意图，超过上限后保留占用等待人工处理
func (s *balanceLockService) retryRelease(ctx context.Context, lock *model.BalanceLock, reason string) error {
	err := s.lockRepo.RetryRelease(ctx, lock.LockID, maxReleaseAttempts)
	switch {
	case err == nil:
		metrics.RecordLockReleaseRetry("requeued")
		logger.WarnCtx(ctx, "engine failed to release balance lock, unlock re-enqueued",
			zap.String("identifier", lock.Identifier),
			zap.Int("attempt", lock.ReleaseAttempts+1),
			zap.String("reason", reason))
		return s.EnqueueUnlock(ctx, lock.LockID, lock.Identifier)

	case errors.Is(err, repository.ErrOptimisticLock) && lock.Status.IsActive():
		metrics.RecordLockReleaseRetry("exhausted")
		logger.ErrorCtx(ctx, "balance lock release retries exhausted, account keys kept",
			zap.String("identifier", lock.Identifier),
			zap.String("status", string(lock.Status)),
			zap.Int("attempts", lock.ReleaseAttempts),
			zap.String("reason", reason))
		return nil

	case errors.Is(err, repository.ErrOptimisticLock):
		logger.DebugCtx(ctx, "release failure for settled lock ignored", zap.String("status", string(lock.Status)))
		return nil
	}
	return err
}

func (s *balanceLockService) freeKeys(ctx context.Context, lockID string) {
	if err := s.lockRepo.FreeKeys(ctx, lockID); err != nil {
		logger.ErrorCtx(ctx, "free account keys failed", zap.Error(err))
	}
}

func (s *balanceLockService) publish(ctx context.Context, topic, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s intent: %w", topic, err)
	}
	if err := s.producer.SendWithContext(ctx, topic, []byte(key), value); err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrMQPublish, err).WithDetail("topic", topic)
	}
	return nil
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
