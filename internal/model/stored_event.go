package model

import (
	"gorm.io/datatypes"
)

// EventStatus 幂等账本状态
type EventStatus string

const (
	EventStatusReceived  EventStatus = "received"  // 已登记，处理中
	EventStatusProcessed EventStatus = "processed" // 已处理
	EventStatusFailed    EventStatus = "failed"    // 处理失败，待人工重放
)

// IsTerminal received 之外均为终态
func (s EventStatus) IsTerminal() bool {
	return s == EventStatusProcessed || s == EventStatusFailed
}

// StoredEvent 入站事件幂等账本
// (event_id, topic) 唯一，核心从不删除
type StoredEvent struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID     string         `gorm:"type:varchar(128);not null;uniqueIndex:uk_event_topic,priority:1" json:"event_id"`
	Topic       string         `gorm:"type:varchar(100);not null;uniqueIndex:uk_event_topic,priority:2;index:idx_topic_status,priority:1" json:"topic"`
	Payload     datatypes.JSON `json:"payload"`
	Status      EventStatus    `gorm:"type:varchar(20);not null;default:'received';index:idx_topic_status,priority:2" json:"status"`
	LastError   string         `gorm:"type:varchar(1000)" json:"last_error,omitempty"`
	ProcessedAt *int64         `gorm:"type:bigint" json:"processed_at,omitempty"`
	CreatedAt   int64          `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt   int64          `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (StoredEvent) TableName() string {
	return "p2p_stored_events"
}
