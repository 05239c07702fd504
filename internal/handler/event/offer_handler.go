package event

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
)

// OfferProcessor 广告状态维护
type OfferProcessor interface {
	ChangeStatus(ctx context.Context, offerID string, to model.OfferStatus, reason string) error
	UpdateEscrow(ctx context.Context, offerID string, amount decimal.Decimal, eventTime int64) error
}

type offerMessage struct {
	kafka.Envelope
	OfferID       string           `json:"offerId"`
	OfferStatus   string           `json:"offerStatus"`
	EscrowBalance *decimal.Decimal `json:"escrowBalance"`
	Reason        string           `json:"reason"`
}

// OfferUpdateHandler 广告上下架
type OfferUpdateHandler struct {
	offers OfferProcessor
	logger *zap.Logger
}

// NewOfferUpdateHandler 创建广告状态处理器
func NewOfferUpdateHandler(offers OfferProcessor, logger *zap.Logger) *OfferUpdateHandler {
	return &OfferUpdateHandler{
		offers: offers,
		logger: logger.Named("offer_update_handler"),
	}
}

// Handle 同步广告状态
func (h *OfferUpdateHandler) Handle(ctx context.Context, payload []byte) error {
	var msg offerMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	status := msg.OfferStatus
	if status == "" {
		status = msg.Status
	}
	if msg.OfferID == "" {
		return invalidPayload("offer update without offer id")
	}

	to := model.OfferStatus(status)
	switch to {
	case model.OfferStatusActive, model.OfferStatusDisabled, model.OfferStatusDeleted:
	default:
		return invalidPayload("unknown offer status %q", status)
	}

	h.logger.Debug("received offer update",
		zap.String("offer_id", msg.OfferID),
		zap.String("status", status))
	return h.offers.ChangeStatus(ctx, msg.OfferID, to, msg.Reason)
}

// MerchantEscrowHandler 商家托管余额
type MerchantEscrowHandler struct {
	offers OfferProcessor
	logger *zap.Logger
}

// NewMerchantEscrowHandler 创建托管余额处理器
func NewMerchantEscrowHandler(offers OfferProcessor, logger *zap.Logger) *MerchantEscrowHandler {
	return &MerchantEscrowHandler{
		offers: offers,
		logger: logger.Named("merchant_escrow_handler"),
	}
}

// Handle 写入广告托管余额，按事件时间取最新
func (h *MerchantEscrowHandler) Handle(ctx context.Context, payload []byte) error {
	var msg offerMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	amount := msg.EscrowBalance
	if amount == nil {
		amount = msg.Amount
	}
	if msg.OfferID == "" || amount == nil {
		return invalidPayload("merchant escrow update without offer id or amount")
	}
	if msg.Status == kafka.StatusFailed {
		h.logger.Warn("merchant escrow operation failed",
			zap.String("offer_id", msg.OfferID),
			zap.String("reason", msg.Reason))
		return nil
	}

	return h.offers.UpdateEscrow(ctx, msg.OfferID, *amount, msg.Timestamp)
}
