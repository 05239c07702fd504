package logger

import (
	"context"

	"go.uber.org/zap"
)

// 关联字段
const (
	FieldTopic   = "topic"
	FieldEventID = "event_id"
	FieldTradeID = "trade_id"
	FieldLockID  = "lock_id"
)

// WithEvent 入站事件处理链路上的日志带 topic 与 event_id
func WithEvent(ctx context.Context, topic, eventID string) context.Context {
	return NewContext(ctx, zap.String(FieldTopic, topic), zap.String(FieldEventID, eventID))
}

// WithTrade 交易流转日志带 trade_id
// ctx 中已有相同 trade_id 时原样返回，避免重复字段
func WithTrade(ctx context.Context, tradeID string) context.Context {
	if v, _ := ctx.Value(tradeKey{}).(string); v == tradeID {
		return ctx
	}
	ctx = context.WithValue(ctx, tradeKey{}, tradeID)
	return NewContext(ctx, zap.String(FieldTradeID, tradeID))
}

// WithLock 余额锁日志带 lock_id
func WithLock(ctx context.Context, lockID string) context.Context {
	return NewContext(ctx, zap.String(FieldLockID, lockID))
}

type (
	ctxKey   struct{}
	tradeKey struct{}
)

// WithContext 从 context 获取带关联字段的 logger
func WithContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return L()
	}
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return L()
}

// NewContext 将 logger 放入 context
func NewContext(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxKey{}, WithContext(ctx).With(fields...))
}

func DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Debug(msg, fields...)
}

func InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Info(msg, fields...)
}

func WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Warn(msg, fields...)
}

func ErrorCtx(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Error(msg, fields...)
}
