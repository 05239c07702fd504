package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/service"
)

// CoinWithdrawalProcessor 提币状态
type CoinWithdrawalProcessor interface {
	HandleUpdate(ctx context.Context, update *service.CoinWithdrawalUpdate) error
}

type coinWithdrawalMessage struct {
	kafka.Envelope
	WithdrawalID     string `json:"withdrawalId"`
	Address          string `json:"address"`
	TxHash           string `json:"txHash"`
	WithdrawalStatus string `json:"withdrawalStatus"`
}

// CoinWithdrawalHandler 链上提币进度
type CoinWithdrawalHandler struct {
	withdrawals CoinWithdrawalProcessor
	logger      *zap.Logger
}

// NewCoinWithdrawalHandler 创建提币处理器
func NewCoinWithdrawalHandler(withdrawals CoinWithdrawalProcessor, logger *zap.Logger) *CoinWithdrawalHandler {
	return &CoinWithdrawalHandler{
		withdrawals: withdrawals,
		logger:      logger.Named("coin_withdrawal_handler"),
	}
}

// Handle 同步提币状态
func (h *CoinWithdrawalHandler) Handle(ctx context.Context, payload []byte) error {
	var msg coinWithdrawalMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	id := msg.WithdrawalID
	if id == "" {
		id, _ = splitIdentifier(msg.Identifier, prefixWithdrawal)
	}
	status := msg.WithdrawalStatus
	if status == "" {
		status = msg.Status
	}
	if id == "" || status == "" {
		return invalidPayload("coin withdrawal update without id or status")
	}

	update := &service.CoinWithdrawalUpdate{
		WithdrawalID: id,
		Coin:         msg.Coin,
		Address:      msg.Address,
		TxHash:       msg.TxHash,
		Status:       model.CoinWithdrawalStatus(status),
	}
	if msg.UserID != nil {
		update.UserID = *msg.UserID
	}
	if msg.Amount != nil {
		update.Amount = *msg.Amount
	}

	h.logger.Debug("received coin withdrawal update",
		zap.String("withdrawal_id", id),
		zap.String("status", status))
	return h.withdrawals.HandleUpdate(ctx, update)
}
