package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
)

var (
	ErrEventNotFound = errors.New("stored event not found")
)

const maxLastErrorLen = 1000

// EventRepository 入站事件幂等账本
type EventRepository interface {
	// TryRegister 原子登记事件
	// (event_id, topic) 已存在时返回已有记录与 alreadyProcessed=true，不重复登记
	TryRegister(ctx context.Context, topic, eventID string, payload []byte) (*model.StoredEvent, bool, error)

	// MarkProcessed 标记已处理，写入 processed_at
	MarkProcessed(ctx context.Context, ev *model.StoredEvent) error

	// MarkFailed 标记处理失败并写入最近一次错误 (received/failed -> failed)
	// 消费路径在事务回滚后由 RecordFailure 落库，MarkFailed 用于已落库事件的重放失败
	MarkFailed(ctx context.Context, ev *model.StoredEvent, cause error) error

	// RecordFailure 处理事务回滚后登记失败记录，已存在则保持原状
	RecordFailure(ctx context.Context, topic, eventID string, payload []byte, cause error) (*model.StoredEvent, error)

	// GetByID 根据主键查询
	GetByID(ctx context.Context, id int64) (*model.StoredEvent, error)

	// GetByKey 根据幂等键查询
	GetByKey(ctx context.Context, topic, eventID string) (*model.StoredEvent, error)

	// ListByStatus 按状态查询，topic 为空时不过滤
	ListByStatus(ctx context.Context, topic string, status model.EventStatus, limit int) ([]*model.StoredEvent, error)
}

type eventRepository struct {
	*Repository
}

// NewEventRepository 创建事件账本仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{Repository: NewRepository(db)}
}

func (r *eventRepository) TryRegister(ctx context.Context, topic, eventID string, payload []byte) (*model.StoredEvent, bool, error) {
	ev := &model.StoredEvent{
		EventID: eventID,
		Topic:   topic,
		Payload: datatypes.JSON(payload),
		Status:  model.EventStatusReceived,
	}

	// 依赖唯一索引裁决并发重复投递，不做先查后插
	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "topic"}},
		DoNothing: true,
	}).Create(ev)
	if result.Error != nil {
		return nil, false, fmt.Errorf("register event failed: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return ev, false, nil
	}

	existing, err := r.GetByKey(ctx, topic, eventID)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

func (r *eventRepository) MarkProcessed(ctx context.Context, ev *model.StoredEvent) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.StoredEvent{}).
		Where("id = ? AND status <> ?", ev.ID, model.EventStatusProcessed).
		Updates(map[string]interface{}{
			"status":       model.EventStatusProcessed,
			"processed_at": now,
			"last_error":   "",
		})
	if result.Error != nil {
		return fmt.Errorf("mark event processed failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	ev.Status = model.EventStatusProcessed
	ev.ProcessedAt = &now
	return nil
}

func (r *eventRepository) MarkFailed(ctx context.Context, ev *model.StoredEvent, cause error) error {
	result := r.DB(ctx).Model(&model.StoredEvent{}).
		Where("id = ? AND status IN ?", ev.ID,
			[]model.EventStatus{model.EventStatusReceived, model.EventStatusFailed}).
		Updates(map[string]interface{}{
			"status":     model.EventStatusFailed,
			"last_error": errorText(cause),
		})
	if result.Error != nil {
		return fmt.Errorf("mark event failed failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	ev.Status = model.EventStatusFailed
	ev.LastError = errorText(cause)
	return nil
}

func (r *eventRepository) RecordFailure(ctx context.Context, topic, eventID string, payload []byte, cause error) (*model.StoredEvent, error) {
	ev := &model.StoredEvent{
		EventID:   eventID,
		Topic:     topic,
		Payload:   datatypes.JSON(payload),
		Status:    model.EventStatusFailed,
		LastError: errorText(cause),
	}
	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "topic"}},
		DoNothing: true,
	}).Create(ev)
	if result.Error != nil {
		return nil, fmt.Errorf("record event failure failed: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return ev, nil
	}
	return r.GetByKey(ctx, topic, eventID)
}

func (r *eventRepository) GetByID(ctx context.Context, id int64) (*model.StoredEvent, error) {
	var ev model.StoredEvent
	if err := r.DB(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event by id failed: %w", err)
	}
	return &ev, nil
}

func (r *eventRepository) GetByKey(ctx context.Context, topic, eventID string) (*model.StoredEvent, error) {
	var ev model.StoredEvent
	if err := r.DB(ctx).Where("event_id = ? AND topic = ?", eventID, topic).First(&ev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event by key failed: %w", err)
	}
	return &ev, nil
}

func (r *eventRepository) ListByStatus(ctx context.Context, topic string, status model.EventStatus, limit int) ([]*model.StoredEvent, error) {
	db := r.DB(ctx).Where("status = ?", status)
	if topic != "" {
		db = db.Where("topic = ?", topic)
	}
	if limit <= 0 {
		limit = 100
	}

	var events []*model.StoredEvent
	if err := db.Order("id ASC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events by status failed: %w", err)
	}
	return events, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return truncate(err.Error(), maxLastErrorLen)
}
