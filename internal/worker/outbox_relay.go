// Package worker 后台任务: Kafka 消费管理、Outbox 投递
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/metrics"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// OutboxRelayConfig Outbox Relay 配置
type OutboxRelayConfig struct {
	RelayInterval  time.Duration // 发送间隔
	BatchSize      int           // 每批处理数量
	Retention      time.Duration // 已发送消息保留时间
	StaleThreshold time.Duration // processing 超过该时长视为实例崩溃
}

// DefaultOutboxRelayConfig 默认配置
func DefaultOutboxRelayConfig() *OutboxRelayConfig {
	return &OutboxRelayConfig{
		RelayInterval:  100 * time.Millisecond,
		BatchSize:      100,
		Retention:      7 * 24 * time.Hour,
		StaleThreshold: 5 * time.Minute,
	}
}

// OutboxRelayConfigFrom 从服务配置构造
func OutboxRelayConfigFrom(cfg config.OutboxConfig) *OutboxRelayConfig {
	rc := DefaultOutboxRelayConfig()
	if cfg.RelayIntervalMs > 0 {
		rc.RelayInterval = time.Duration(cfg.RelayIntervalMs) * time.Millisecond
	}
	if cfg.BatchSize > 0 {
		rc.BatchSize = cfg.BatchSize
	}
	if cfg.RetentionMs > 0 {
		rc.Retention = time.Duration(cfg.RetentionMs) * time.Millisecond
	}
	if cfg.StaleThresholdMs > 0 {
		rc.StaleThreshold = time.Duration(cfg.StaleThresholdMs) * time.Millisecond
	}
	return rc
}

// OutboxRelay 把业务事务内写入的出站消息投递到 Kafka
// 清理与崩溃恢复由调度任务调用 Maintain 完成
type OutboxRelay struct {
	cfg      *OutboxRelayConfig
	repo     repository.OutboxRepository
	producer kafka.MessageProducer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewOutboxRelay 创建 Outbox Relay
func NewOutboxRelay(cfg *OutboxRelayConfig, repo repository.OutboxRepository, producer kafka.MessageProducer) *OutboxRelay {
	if cfg == nil {
		cfg = DefaultOutboxRelayConfig()
	}
	return &OutboxRelay{
		cfg:      cfg,
		repo:     repo,
		producer: producer,
	}
}

// Start 启动 Outbox Relay
func (r *OutboxRelay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.relayLoop(ctx)

	logger.Info("outbox relay started",
		zap.Duration("relay_interval", r.cfg.RelayInterval),
		zap.Int("batch_size", r.cfg.BatchSize))
}

// Stop 停止 Outbox Relay，等待当前批次结束
func (r *OutboxRelay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	logger.Info("outbox relay stopped")
}

func (r *OutboxRelay) relayLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.RelayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch 认领并发送一批消息，返回发送成功条数
func (r *OutboxRelay) ProcessBatch(ctx context.Context) int {
	messages, err := r.repo.FetchAndClaim(ctx, r.cfg.BatchSize)
	if err != nil {
		logger.Error("fetch pending outbox messages failed", zap.Error(err))
		// 已认领的部分照常发送
	}

	sent := 0
	for _, msg := range messages {
		if err := r.send(ctx, msg); err != nil {
			metrics.RecordOutboxError(msg.Topic, "send")
			logger.Error("send outbox message failed",
				zap.Int64("id", msg.ID),
				zap.String("message_id", msg.MessageID),
				zap.String("topic", msg.Topic),
				zap.Int("retry_count", msg.RetryCount),
				zap.Error(err))
			// 停机时 ctx 已取消，状态更新仍需落库
			if markErr := r.repo.MarkFailed(context.WithoutCancel(ctx), msg.ID, err); markErr != nil {
				logger.Error("mark outbox message failed error", zap.Int64("id", msg.ID), zap.Error(markErr))
			}
			continue
		}

		if err := r.repo.MarkSent(context.WithoutCancel(ctx), msg.ID); err != nil {
			metrics.RecordOutboxError(msg.Topic, "mark_sent")
			logger.Error("mark outbox message sent error", zap.Int64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (r *OutboxRelay) send(ctx context.Context, msg *model.OutboxMessage) error {
	return r.producer.SendWithContext(ctx, msg.Topic, []byte(msg.PartitionKey), msg.Payload)
}

// Maintain 恢复卡住的 processing 消息、清理过期已发送消息并刷新积压指标
func (r *OutboxRelay) Maintain(ctx context.Context) error {
	recovered, err := r.repo.RecoverStaleProcessing(ctx, r.cfg.StaleThreshold)
	if err != nil {
		return err
	}
	if recovered > 0 {
		logger.Info("recovered stale processing outbox messages",
			zap.Int64("count", recovered),
			zap.Duration("threshold", r.cfg.StaleThreshold))
	}

	beforeTime := time.Now().Add(-r.cfg.Retention).UnixMilli()
	deleted, err := r.repo.CleanSent(ctx, beforeTime, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.Info("cleaned up sent outbox messages", zap.Int64("count", deleted))
	}

	for _, status := range []model.OutboxStatus{model.OutboxStatusPending, model.OutboxStatusFailed} {
		count, err := r.repo.CountByStatus(ctx, status)
		if err != nil {
			return err
		}
		metrics.SetOutboxPending(string(status), float64(count))
		if status == model.OutboxStatusFailed && count > 0 {
			logger.Warn("outbox has failed messages", zap.Int64("count", count))
		}
	}
	return nil
}
