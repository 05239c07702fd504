package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/service"
)

// TradeProcessor 交易状态机 (用于依赖注入和测试)
type TradeProcessor interface {
	ApplyEngineUpdate(ctx context.Context, tradeID, status, reason string) error
	HandleTransferResponse(ctx context.Context, tradeID string, accepted bool, reason string) error
	HandleTransferResult(ctx context.Context, tradeID string, success bool, reason string) error
}

// PayableProcessor 法币充提结果
type PayableProcessor interface {
	HandleDepositResult(ctx context.Context, depositID string, success bool, reason string) error
	HandleWithdrawalResult(ctx context.Context, withdrawalID string, success bool, reason string) error
}

// engineResult 引擎回执通用字段
type engineResult struct {
	kafka.Envelope
	TradeID string `json:"tradeId"`
	Reason  string `json:"reason"`
}

// tradeID identifier 优先，兼容直接携带 tradeId 的消息
func (r *engineResult) tradeID() (string, bool) {
	if id, ok := splitIdentifier(r.Identifier, prefixTrade); ok {
		return id, true
	}
	return r.TradeID, r.TradeID != ""
}

// TradeUpdateHandler 引擎侧交易状态
type TradeUpdateHandler struct {
	trades TradeProcessor
	logger *zap.Logger
}

// NewTradeUpdateHandler 创建交易状态处理器
func NewTradeUpdateHandler(trades TradeProcessor, logger *zap.Logger) *TradeUpdateHandler {
	return &TradeUpdateHandler{
		trades: trades,
		logger: logger.Named("trade_update_handler"),
	}
}

// Handle 以系统身份推进交易状态
func (h *TradeUpdateHandler) Handle(ctx context.Context, payload []byte) error {
	var msg engineResult
	if err := decode(payload, &msg); err != nil {
		return err
	}
	tradeID, ok := msg.tradeID()
	if !ok || msg.Status == "" {
		return invalidPayload("trade update without trade id or status")
	}

	h.logger.Debug("received trade update",
		zap.String("trade_id", tradeID),
		zap.String("status", msg.Status))

	return h.trades.ApplyEngineUpdate(ctx, tradeID, msg.Status, msg.Reason)
}

// TransactionResponseHandler 划转请求受理回执
type TransactionResponseHandler struct {
	trades TradeProcessor
	logger *zap.Logger
}

// NewTransactionResponseHandler 创建划转回执处理器
func NewTransactionResponseHandler(trades TradeProcessor, logger *zap.Logger) *TransactionResponseHandler {
	return &TransactionResponseHandler{
		trades: trades,
		logger: logger.Named("transaction_response_handler"),
	}
}

// Handle 记录引擎是否受理划转
func (h *TransactionResponseHandler) Handle(ctx context.Context, payload []byte) error {
	var msg engineResult
	if err := decode(payload, &msg); err != nil {
		return err
	}
	tradeID, ok := msg.tradeID()
	if !ok {
		// 非交易划转无需跟踪
		h.logger.Debug("transaction response ignored", zap.String("identifier", msg.Identifier))
		return nil
	}

	switch msg.Status {
	case kafka.StatusAccepted, kafka.StatusSuccess:
		return h.trades.HandleTransferResponse(ctx, tradeID, true, msg.Reason)
	case kafka.StatusRejected, kafka.StatusFailed:
		return h.trades.HandleTransferResponse(ctx, tradeID, false, msg.Reason)
	}
	return invalidPayload("unknown transaction response status %q", msg.Status)
}

// TransactionResultHandler 划转执行结果，按 identifier 前缀路由
type TransactionResultHandler struct {
	trades   TradeProcessor
	payables PayableProcessor
	logger   *zap.Logger
}

// NewTransactionResultHandler 创建划转结果处理器
func NewTransactionResultHandler(trades TradeProcessor, payables PayableProcessor, logger *zap.Logger) *TransactionResultHandler {
	return &TransactionResultHandler{
		trades:   trades,
		payables: payables,
		logger:   logger.Named("transaction_result_handler"),
	}
}

// Handle 分派到交易或充提
func (h *TransactionResultHandler) Handle(ctx context.Context, payload []byte) error {
	var msg engineResult
	if err := decode(payload, &msg); err != nil {
		return err
	}

	var success bool
	switch msg.Status {
	case kafka.StatusSuccess:
		success = true
	case kafka.StatusFailed:
	default:
		return invalidPayload("unknown transaction result status %q", msg.Status)
	}

	if id, ok := msg.tradeID(); ok {
		return h.trades.HandleTransferResult(ctx, id, success, msg.Reason)
	}
	if id, ok := splitIdentifier(msg.Identifier, prefixDeposit); ok {
		return h.payables.HandleDepositResult(ctx, id, success, msg.Reason)
	}
	if id, ok := splitIdentifier(msg.Identifier, prefixWithdrawal); ok {
		return h.payables.HandleWithdrawalResult(ctx, id, success, msg.Reason)
	}

	h.logger.Warn("transaction result with unknown identifier ignored",
		zap.String("identifier", msg.Identifier),
		zap.String("event_id", msg.CorrelationID()))
	return nil
}

var (
	_ TradeProcessor   = (service.TradeService)(nil)
	_ PayableProcessor = (service.PayableService)(nil)
)
