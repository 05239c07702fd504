package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/metrics"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

const maxBacktraceFrames = 5

// DeadLetterMessage 死信消息
type DeadLetterMessage struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	Error           DeadLetterError `json:"error"`
}

// DeadLetterError 失败信息
type DeadLetterError struct {
	Message   string   `json:"message"`
	Backtrace []string `json:"backtrace"`
	Timestamp int64    `json:"timestamp"`
}

// DeadLetterPublisher 把无法处理的消息转投 <topic>.dlq
type DeadLetterPublisher struct {
	producer MessageProducer
}

// NewDeadLetterPublisher 创建死信发布器
func NewDeadLetterPublisher(producer MessageProducer) *DeadLetterPublisher {
	return &DeadLetterPublisher{producer: producer}
}

// Publish 投递死信
func (p *DeadLetterPublisher) Publish(ctx context.Context, topic string, payload []byte, cause error) error {
	msg := BuildDeadLetter(payload, cause, time.Now())
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dlqTopic := DeadLetterTopic(topic)
	key := deadLetterKey(payload)
	if err := p.producer.SendWithContext(ctx, dlqTopic, []byte(key), value); err != nil {
		metrics.RecordDeadLetter(topic, "failed")
		logger.Error("publish dead letter failed",
			zap.String("topic", dlqTopic),
			zap.String("key", key),
			zap.Error(err))
		return pkgerrors.Wrap(pkgerrors.ErrMQPublish, err)
	}

	metrics.RecordDeadLetter(topic, "published")
	logger.Warn("message moved to dead letter topic",
		zap.String("topic", dlqTopic),
		zap.String("key", key),
		zap.String("cause", msg.Error.Message))
	return nil
}

// BuildDeadLetter 组装死信消息体
func BuildDeadLetter(payload []byte, cause error, now time.Time) *DeadLetterMessage {
	original := json.RawMessage(payload)
	if !json.Valid(payload) {
		// 非 JSON 原文按字符串保存
		original, _ = json.Marshal(string(payload))
	}

	msg := &DeadLetterMessage{
		OriginalMessage: original,
		Error: DeadLetterError{
			Timestamp: now.UnixMilli(),
		},
	}
	if cause != nil {
		msg.Error.Message = cause.Error()
		msg.Error.Backtrace = pkgerrors.Backtrace(cause, maxBacktraceFrames)
	}
	if len(msg.Error.Backtrace) == 0 {
		msg.Error.Backtrace = pkgerrors.Caller(2, maxBacktraceFrames)
	}
	return msg
}

func deadLetterKey(payload []byte) string {
	var head struct {
		Identifier string `json:"identifier"`
	}
	if data, err := DecodePayload(payload); err == nil {
		if json.Unmarshal(data, &head) == nil && head.Identifier != "" {
			return head.Identifier
		}
	}
	return uuid.NewString()
}
