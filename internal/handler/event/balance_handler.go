package event

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/cache"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
)

// balanceUpdate balance_update 消息体，引擎推送的是绝对值快照
type balanceUpdate struct {
	kafka.Envelope
	Available *decimal.Decimal `json:"available"`
	Locked    *decimal.Decimal `json:"locked"`
}

// BalanceHandler 账户余额投影
type BalanceHandler struct {
	cache  cache.BalanceCache
	logger *zap.Logger
}

// NewBalanceHandler 创建余额处理器
func NewBalanceHandler(c cache.BalanceCache, logger *zap.Logger) *BalanceHandler {
	return &BalanceHandler{
		cache:  c,
		logger: logger.Named("balance_handler"),
	}
}

// Handle 写入余额快照，旧快照被忽略
func (h *BalanceHandler) Handle(ctx context.Context, payload []byte) error {
	var msg balanceUpdate
	if err := decode(payload, &msg); err != nil {
		return err
	}
	if msg.AccountKey == "" || msg.Available == nil {
		return invalidPayload("balance update without account key or available")
	}

	snap := &cache.BalanceSnapshot{
		AccountKey: msg.AccountKey,
		Available:  *msg.Available,
		UpdatedAt:  msg.Timestamp,
		EventID:    msg.CorrelationID(),
	}
	if msg.Locked != nil {
		snap.Locked = *msg.Locked
	}

	applied, err := h.cache.Apply(ctx, snap)
	if err != nil {
		return err
	}
	if !applied {
		h.logger.Debug("stale balance snapshot ignored",
			zap.String("account_key", msg.AccountKey),
			zap.Int64("timestamp", msg.Timestamp))
	}
	return nil
}

// ammUpdate AMM 消息只取定位字段，其余原样保存
type ammUpdate struct {
	ID         string `json:"id"`
	PoolID     string `json:"poolId"`
	PositionID string `json:"positionId"`
	OrderID    string `json:"orderId"`
	TickID     string `json:"tickId"`
	Timestamp  int64  `json:"timestamp"`
}

func (u *ammUpdate) key(kind cache.AMMKind) string {
	var id string
	switch kind {
	case cache.AMMPool:
		id = u.PoolID
	case cache.AMMPosition:
		id = u.PositionID
	case cache.AMMOrder:
		id = u.OrderID
	case cache.AMMTick:
		id = u.TickID
	}
	if id == "" {
		id = u.ID
	}
	return id
}

// AMMHandler AMM 池/头寸/订单/tick 投影
type AMMHandler struct {
	kind   cache.AMMKind
	cache  cache.AMMCache
	logger *zap.Logger
}

// NewAMMHandler 创建 AMM 处理器，每种快照一个实例
func NewAMMHandler(kind cache.AMMKind, c cache.AMMCache, logger *zap.Logger) *AMMHandler {
	return &AMMHandler{
		kind:   kind,
		cache:  c,
		logger: logger.Named("amm_handler").With(zap.String("kind", string(kind))),
	}
}

// Handle 写入 AMM 快照
func (h *AMMHandler) Handle(ctx context.Context, payload []byte) error {
	var msg ammUpdate
	if err := decode(payload, &msg); err != nil {
		return err
	}
	id := msg.key(h.kind)
	if id == "" {
		return invalidPayload("%s update without id", h.kind)
	}

	applied, err := h.cache.Apply(ctx, &cache.AMMSnapshot{
		Kind:      h.kind,
		ID:        id,
		Data:      json.RawMessage(payload),
		UpdatedAt: msg.Timestamp,
	})
	if err != nil {
		return err
	}
	if !applied {
		h.logger.Debug("stale amm snapshot ignored",
			zap.String("id", id),
			zap.Int64("timestamp", msg.Timestamp))
	}
	return nil
}
