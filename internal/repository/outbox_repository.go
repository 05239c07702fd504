package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
)

// OutboxRepository outbox 消息仓库
type OutboxRepository interface {
	// Create 写入消息，ctx 携带事务时与业务变更同事务提交
	Create(ctx context.Context, msg *model.OutboxMessage) error

	// FetchAndClaim 认领一批待发送消息 (pending -> processing)
	FetchAndClaim(ctx context.Context, limit int) ([]*model.OutboxMessage, error)

	MarkSent(ctx context.Context, id int64) error

	// MarkFailed 记录失败，未超过重试上限时回到 pending
	MarkFailed(ctx context.Context, id int64, err error) error

	// RecoverStaleProcessing 恢复实例崩溃后卡在 processing 的消息
	RecoverStaleProcessing(ctx context.Context, staleThreshold time.Duration) (int64, error)

	// CleanSent 清理早于 beforeTime 的已发送消息
	CleanSent(ctx context.Context, beforeTime int64, batchSize int) (int64, error)

	CountByStatus(ctx context.Context, status model.OutboxStatus) (int64, error)
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*model.OutboxMessage, error)
}

type outboxRepository struct {
	*Repository
	maxRetries int
}

// NewOutboxRepository 创建 outbox 仓库
// maxRetries 为未指定重试上限的消息提供默认值，<= 0 时使用表默认值
func NewOutboxRepository(db *gorm.DB, maxRetries ...int) OutboxRepository {
	r := &outboxRepository{Repository: NewRepository(db)}
	if len(maxRetries) > 0 && maxRetries[0] > 0 {
		r.maxRetries = maxRetries[0]
	}
	return r
}

func (r *outboxRepository) Create(ctx context.Context, msg *model.OutboxMessage) error {
	if msg.MaxRetries == 0 && r.maxRetries > 0 {
		msg.MaxRetries = r.maxRetries
	}
	if err := r.DB(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("create outbox message failed: %w", err)
	}
	return nil
}

// FetchAndClaim 逐条条件更新认领，多实例并发时同一消息只会被一个实例认领
func (r *outboxRepository) FetchAndClaim(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var candidates []*model.OutboxMessage
	err := r.DB(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("select pending messages: %w", err)
	}

	claimed := make([]*model.OutboxMessage, 0, len(candidates))
	now := time.Now().UnixMilli()
	for _, msg := range candidates {
		result := r.DB(ctx).Model(&model.OutboxMessage{}).
			Where("id = ? AND status = ?", msg.ID, model.OutboxStatusPending).
			Updates(map[string]interface{}{
				"status":     model.OutboxStatusProcessing,
				"updated_at": now,
			})
		if result.Error != nil {
			return claimed, fmt.Errorf("claim message %d: %w", msg.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		msg.Status = model.OutboxStatusProcessing
		msg.UpdatedAt = now
		claimed = append(claimed, msg)
	}
	return claimed, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id int64) error {
	result := r.DB(ctx).Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  model.OutboxStatusSent,
			"sent_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return fmt.Errorf("mark message sent failed: %w", result.Error)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id int64, err error) error {
	result := r.DB(ctx).Exec(`
		UPDATE p2p_outbox_messages
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    updated_at = ?,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END
		WHERE id = ?
	`, truncate(errorText(err), 500), time.Now().UnixMilli(), id)
	if result.Error != nil {
		return fmt.Errorf("mark message failed: %w", result.Error)
	}
	return nil
}

func (r *outboxRepository) RecoverStaleProcessing(ctx context.Context, staleThreshold time.Duration) (int64, error) {
	now := time.Now()
	result := r.DB(ctx).Model(&model.OutboxMessage{}).
		Where("status = ? AND updated_at < ?", model.OutboxStatusProcessing, now.Add(-staleThreshold).UnixMilli()).
		Updates(map[string]interface{}{
			"status":     model.OutboxStatusPending,
			"updated_at": now.UnixMilli(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recover stale processing messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *outboxRepository) CleanSent(ctx context.Context, beforeTime int64, batchSize int) (int64, error) {
	var totalDeleted int64
	for {
		result := r.DB(ctx).Exec(`
			DELETE FROM p2p_outbox_messages
			WHERE id IN (
				SELECT id FROM p2p_outbox_messages
				WHERE status = 'sent' AND sent_at < ?
				LIMIT ?
			)
		`, beforeTime, batchSize)
		if result.Error != nil {
			return totalDeleted, fmt.Errorf("clean sent messages failed: %w", result.Error)
		}

		totalDeleted += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			break
		}
	}
	return totalDeleted, nil
}

func (r *outboxRepository) CountByStatus(ctx context.Context, status model.OutboxStatus) (int64, error) {
	var count int64
	if err := r.DB(ctx).Model(&model.OutboxMessage{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count outbox messages: %w", err)
	}
	return count, nil
}

func (r *outboxRepository) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*model.OutboxMessage, error) {
	var msgs []*model.OutboxMessage
	err := r.DB(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list outbox messages by aggregate: %w", err)
	}
	return msgs, nil
}
