package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/service"
)

// LockProcessor 余额锁确认
type LockProcessor interface {
	HandleLockUpdate(ctx context.Context, update *service.LockUpdate) error
}

type lockUpdateMessage struct {
	kafka.Envelope
	LockID string `json:"lockId"`
	Reason string `json:"reason"`
}

// BalanceLockHandler 余额锁确认
type BalanceLockHandler struct {
	locks  LockProcessor
	logger *zap.Logger
}

// NewBalanceLockHandler 创建余额锁处理器
func NewBalanceLockHandler(locks LockProcessor, logger *zap.Logger) *BalanceLockHandler {
	return &BalanceLockHandler{
		locks:  locks,
		logger: logger.Named("balance_lock_handler"),
	}
}

// Handle 转交锁协议客户端
func (h *BalanceLockHandler) Handle(ctx context.Context, payload []byte) error {
	var msg lockUpdateMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	if msg.LockID == "" || msg.ActionType == "" || msg.Status == "" {
		return invalidPayload("balance lock update without lock id, action or status")
	}

	h.logger.Debug("received balance lock update",
		zap.String("lock_id", msg.LockID),
		zap.String("action", string(msg.ActionType)),
		zap.String("status", msg.Status))

	return h.locks.HandleLockUpdate(ctx, &service.LockUpdate{
		LockID:     msg.LockID,
		Identifier: msg.Identifier,
		Action:     msg.ActionType,
		Status:     msg.Status,
		Reason:     msg.Reason,
	})
}
