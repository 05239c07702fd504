// Package event 入站 topic 的事件处理器
package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/cache"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/service"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
)

// identifier 前缀，与引擎约定
const (
	prefixTrade      = "trade-"
	prefixDeposit    = "deposit-"
	prefixWithdrawal = "withdrawal-"
)

// Deps 处理器依赖
type Deps struct {
	Trades          service.TradeService
	Locks           service.BalanceLockService
	Offers          service.OfferService
	Payables        service.PayableService
	CoinWithdrawals service.CoinWithdrawalService
	Balances        cache.BalanceCache
	AMM             cache.AMMCache
	Logger          *zap.Logger
}

// RegisterAll 为每个入站 topic 注册处理器
func RegisterAll(reg *kafka.Registry, deps *Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handlers := map[string]kafka.EventHandler{
		kafka.TopicBalanceUpdate:        NewBalanceHandler(deps.Balances, logger),
		kafka.TopicAMMPoolUpdate:        NewAMMHandler(cache.AMMPool, deps.AMM, logger),
		kafka.TopicAMMPositionUpdate:    NewAMMHandler(cache.AMMPosition, deps.AMM, logger),
		kafka.TopicAMMOrderUpdate:       NewAMMHandler(cache.AMMOrder, deps.AMM, logger),
		kafka.TopicAMMTickUpdate:        NewAMMHandler(cache.AMMTick, deps.AMM, logger),
		kafka.TopicTransactionResult:    NewTransactionResultHandler(deps.Trades, deps.Payables, logger),
		kafka.TopicTransactionResponse:  NewTransactionResponseHandler(deps.Trades, logger),
		kafka.TopicTradeUpdate:          NewTradeUpdateHandler(deps.Trades, logger),
		kafka.TopicMerchantEscrowUpdate: NewMerchantEscrowHandler(deps.Offers, logger),
		kafka.TopicOfferUpdate:          NewOfferUpdateHandler(deps.Offers, logger),
		kafka.TopicBalanceLockUpdate:    NewBalanceLockHandler(deps.Locks, logger),
		kafka.TopicCoinWithdrawalUpdate: NewCoinWithdrawalHandler(deps.CoinWithdrawals, logger),
	}

	for _, topic := range kafka.InboundTopics() {
		if err := reg.Register(topic, handlers[topic]); err != nil {
			return err
		}
	}
	return nil
}

// decode 解析消息体；格式错误重试无意义
func decode(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return invalidPayload("decode payload: %v", err)
	}
	return nil
}

func invalidPayload(format string, args ...interface{}) error {
	return kafka.NewNonRetryableError(pkgerrors.ErrInvalidEventPayload.WithMessage(fmt.Sprintf(format, args...)))
}

// splitIdentifier 拆分 "<prefix><id>"
func splitIdentifier(identifier, prefix string) (string, bool) {
	if !strings.HasPrefix(identifier, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(identifier, prefix)
	return id, id != ""
}
