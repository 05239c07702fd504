package kafka

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrMalformedPayload 消息无法解析为 JSON 对象
var ErrMalformedPayload = errors.New("malformed event payload")

// OperationType 业务域
type OperationType string

const (
	OperationBalanceLock    OperationType = "balance_lock"
	OperationTransaction    OperationType = "transaction"
	OperationMerchantEscrow OperationType = "merchant_escrow"
	OperationTrade          OperationType = "trade"
	OperationOffer          OperationType = "offer"
	OperationBalance        OperationType = "balance"
	OperationCoinWithdrawal OperationType = "coin_withdrawal"
	OperationAMM            OperationType = "amm"
)

// ActionType 动作
type ActionType string

const (
	ActionCreate   ActionType = "create"
	ActionRelease  ActionType = "release"
	ActionTransfer ActionType = "transfer"
	ActionUpdate   ActionType = "update"
	ActionLock     ActionType = "lock"
	ActionRefund   ActionType = "refund"
)

// 引擎回执状态
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Envelope 入站/出站事件信封
// 各业务字段由具体 handler 从原始 payload 解析
type Envelope struct {
	EventID       string           `json:"eventId,omitempty"`
	MessageID     string           `json:"messageId,omitempty"`
	Identifier    string           `json:"identifier,omitempty"`
	OperationType OperationType    `json:"operationType,omitempty"`
	ActionType    ActionType       `json:"actionType,omitempty"`
	ActionID      string           `json:"actionId,omitempty"`
	UserID        *int64           `json:"userId,omitempty"`
	AccountKey    string           `json:"accountKey,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Coin          string           `json:"coin,omitempty"`
	Status        string           `json:"status,omitempty"`
	Timestamp     int64            `json:"timestamp,omitempty"`
}

// CorrelationID 幂等键: eventId 优先，其次 messageId
func (e *Envelope) CorrelationID() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.MessageID
}

// NewIntent 构造出站意图，每次调用生成新的 actionId
func NewIntent(identifier string, op OperationType, action ActionType) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		Identifier:    identifier,
		OperationType: op,
		ActionType:    action,
		ActionID:      uuid.NewString(),
		Timestamp:     time.Now().UnixMilli(),
	}
}

// DecodePayload 规范化消息体
// 上游有时把 JSON 再序列化为字符串投递，这里最多解两层
func DecodePayload(raw []byte) (json.RawMessage, error) {
	data := bytes.TrimSpace(raw)
	for i := 0; i < 2 && len(data) > 0 && data[0] == '"'; i++ {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		data = bytes.TrimSpace([]byte(inner))
	}

	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return nil, ErrMalformedPayload
	}
	return data, nil
}

// ParseEnvelope 解析信封
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &env, nil
}
