package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/metrics"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// ReprocessService 人工重放已登记的事件 (绕过幂等判重)
type ReprocessService interface {
	// Reprocess 重放单条事件，成功返回 true
	// 处理失败时记录保持 failed 并刷新 last_error；已 processed 的记录不回退
	Reprocess(ctx context.Context, ev *model.StoredEvent) bool

	// ReprocessByID 按账本主键重放
	ReprocessByID(ctx context.Context, id int64) (bool, error)

	// ReprocessFailed 批量重放 failed 事件，topic 为空时不过滤
	ReprocessFailed(ctx context.Context, topic string, limit int) (ok, failed int, err error)
}

type reprocessService struct {
	txManager repository.TxManager
	eventRepo repository.EventRepository
	registry  *kafka.Registry
}

// NewReprocessService 创建重放服务
func NewReprocessService(txManager repository.TxManager, eventRepo repository.EventRepository, registry *kafka.Registry) ReprocessService {
	return &reprocessService{
		txManager: txManager,
		eventRepo: eventRepo,
		registry:  registry,
	}
}

func (s *reprocessService) Reprocess(ctx context.Context, ev *model.StoredEvent) bool {
	handler, ok := s.registry.Lookup(ev.Topic)
	if !ok {
		logger.Warn("no handler registered for stored event",
			zap.Int64("id", ev.ID),
			zap.String("topic", ev.Topic),
			zap.String("event_id", ev.EventID))
		metrics.RecordReprocess(ev.Topic, "no_handler")
		return false
	}

	err := s.txManager.Transaction(ctx, func(txCtx context.Context) error {
		if err := handler.Handle(txCtx, ev.Payload); err != nil {
			return err
		}
		return s.eventRepo.MarkProcessed(txCtx, ev)
	})
	if err != nil {
		logger.Error("reprocess event failed",
			zap.Int64("id", ev.ID),
			zap.String("topic", ev.Topic),
			zap.String("event_id", ev.EventID),
			zap.Error(err))
		metrics.RecordReprocess(ev.Topic, "failed")
		if merr := s.eventRepo.MarkFailed(ctx, ev, err); merr != nil && !errors.Is(merr, repository.ErrOptimisticLock) {
			logger.Warn("record reprocess failure failed",
				zap.Int64("id", ev.ID),
				zap.Error(merr))
		}
		return false
	}

	logger.Info("event reprocessed",
		zap.Int64("id", ev.ID),
		zap.String("topic", ev.Topic),
		zap.String("event_id", ev.EventID))
	metrics.RecordReprocess(ev.Topic, "success")
	return true
}

func (s *reprocessService) ReprocessByID(ctx context.Context, id int64) (bool, error) {
	ev, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if ev.Status == model.EventStatusProcessed {
		logger.Info("event already processed, replaying anyway", zap.Int64("id", id))
	}
	return s.Reprocess(ctx, ev), nil
}

func (s *reprocessService) ReprocessFailed(ctx context.Context, topic string, limit int) (int, int, error) {
	events, err := s.eventRepo.ListByStatus(ctx, topic, model.EventStatusFailed, limit)
	if err != nil {
		return 0, 0, err
	}

	ok, failed := 0, 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return ok, failed, errors.Join(err, errors.New("reprocess interrupted"))
		}
		if s.Reprocess(ctx, ev) {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed, nil
}
