package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
)

// tradeEventMessage trade_event 消息体
type tradeEventMessage struct {
	kafka.Envelope
	TradeID        string            `json:"tradeId"`
	OfferID        string            `json:"offerId"`
	Event          TradeEvent        `json:"event"`
	PreviousStatus model.TradeStatus `json:"previousStatus,omitempty"`
	TradeStatus    model.TradeStatus `json:"tradeStatus"`
	BuyerID        int64             `json:"buyerId"`
	SellerID       int64             `json:"sellerId"`
	FiatCurrency   string            `json:"fiatCurrency"`
	FiatAmount     decimal.Decimal   `json:"fiatAmount"`
	Reason         string            `json:"reason,omitempty"`
}

// escrowMessage merchant_escrow_request 消息体
type escrowMessage struct {
	kafka.Envelope
	TradeID          string `json:"tradeId"`
	EscrowAccountKey string `json:"escrowAccountKey"`
}

func newOutboxMessage(topic, key, aggregateType, aggregateID, messageID string, payload interface{}) (*model.OutboxMessage, error) {
	msg := &model.OutboxMessage{
		MessageID:     messageID,
		Topic:         topic,
		PartitionKey:  key,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Status:        model.OutboxStatusPending,
	}
	if err := msg.SetPayload(payload); err != nil {
		return nil, fmt.Errorf("marshal outbox payload for %s: %w", topic, err)
	}
	return msg, nil
}

func newTradeEventMessage(trade *model.Trade, from model.TradeStatus, event TradeEvent, reason string) (*model.OutboxMessage, error) {
	env := kafka.NewIntent(trade.Identifier(), kafka.OperationTrade, kafka.ActionUpdate)
	env.Coin = trade.Coin
	amount := trade.CoinAmount
	env.Amount = &amount
	env.Status = string(trade.Status)

	body := tradeEventMessage{
		Envelope:       env,
		TradeID:        trade.TradeID,
		OfferID:        trade.OfferID,
		Event:          event,
		PreviousStatus: from,
		TradeStatus:    trade.Status,
		BuyerID:        trade.BuyerID,
		SellerID:       trade.SellerID,
		FiatCurrency:   trade.FiatCurrency,
		FiatAmount:     trade.FiatAmount,
		Reason:         reason,
	}
	return newOutboxMessage(kafka.TopicTradeEvent, trade.Identifier(), model.AggregateTypeTrade, trade.TradeID, env.EventID, body)
}

// newEscrowMessage 卖方币托管 (lock) 或退回卖方 (refund)
func newEscrowMessage(trade *model.Trade, action kafka.ActionType) (*model.OutboxMessage, error) {
	env := kafka.NewIntent(trade.Identifier(), kafka.OperationMerchantEscrow, action)
	seller := trade.SellerID
	amount := trade.CoinAmount
	env.UserID = &seller
	env.AccountKey = model.CoinAccountKey(trade.SellerID, trade.Coin)
	env.Amount = &amount
	env.Coin = trade.Coin

	body := escrowMessage{
		Envelope:         env,
		TradeID:          trade.TradeID,
		EscrowAccountKey: model.TradeEscrowAccountKey(trade.Coin, trade.TradeID),
	}
	return newOutboxMessage(kafka.TopicMerchantEscrowRequest, trade.Identifier(), model.AggregateTypeTrade, trade.TradeID, env.EventID, body)
}
