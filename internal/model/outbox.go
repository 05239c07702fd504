package model

import (
	"encoding/json"
)

// OutboxStatus 消息状态
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"    // 待发送
	OutboxStatusProcessing OutboxStatus = "processing" // 处理中 (已被某实例认领)
	OutboxStatusSent       OutboxStatus = "sent"       // 已发送
	OutboxStatusFailed     OutboxStatus = "failed"     // 发送失败
)

// OutboxMessage 本地消息表记录
// 与状态变更在同一事务写入，由 relay 异步投递
type OutboxMessage struct {
	ID            int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID     string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"message_id"`
	Topic         string       `gorm:"type:varchar(100);not null" json:"topic"`
	PartitionKey  string       `gorm:"type:varchar(100);not null" json:"partition_key"`
	Payload       []byte       `gorm:"not null" json:"payload"`
	AggregateType string       `gorm:"type:varchar(50);not null;index:idx_aggregate" json:"aggregate_type"`
	AggregateID   string       `gorm:"type:varchar(64);not null;index:idx_aggregate" json:"aggregate_id"`
	Status        OutboxStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_outbox_status_created" json:"status"`
	RetryCount    int          `gorm:"type:int;not null;default:0" json:"retry_count"`
	MaxRetries    int          `gorm:"type:int;not null;default:5" json:"max_retries"`
	LastError     string       `gorm:"type:varchar(500)" json:"last_error"`
	CreatedAt     int64        `gorm:"type:bigint;not null;autoCreateTime:milli;index:idx_outbox_status_created" json:"created_at"`
	UpdatedAt     int64        `gorm:"type:bigint;autoUpdateTime:milli" json:"updated_at"`
	SentAt        int64        `gorm:"type:bigint" json:"sent_at"`
}

// TableName 返回表名
func (OutboxMessage) TableName() string {
	return "p2p_outbox_messages"
}

// SetPayload 设置消息内容
func (m *OutboxMessage) SetPayload(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.Payload = data
	return nil
}

// AggregateType 常量
const (
	AggregateTypeTrade = "trade"
	AggregateTypeOffer = "offer"
	AggregateTypeLock  = "balance_lock"
)
