package model

import (
	"github.com/shopspring/decimal"
)

// TradeStatus 交易状态
type TradeStatus string

const (
	TradeStatusAwaiting  TradeStatus = "awaiting"  // 等待卖方币托管
	TradeStatusUnpaid    TradeStatus = "unpaid"    // 待买方付款
	TradeStatusPaid      TradeStatus = "paid"      // 买方已付款，待卖方放币
	TradeStatusReleased  TradeStatus = "released"  // 已放币 (完成)
	TradeStatusCancelled TradeStatus = "cancelled" // 已取消
	TradeStatusDisputed  TradeStatus = "disputed"  // 申诉中
)

// IsFinal 终态
func (s TradeStatus) IsFinal() bool {
	return s == TradeStatusReleased || s == TradeStatusCancelled
}

// TradeSide 吃单方向
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Opposite 反方向
func (s TradeSide) Opposite() TradeSide {
	if s == TradeSideBuy {
		return TradeSideSell
	}
	return TradeSideBuy
}

// PayableType 关联的法币充提类型
type PayableType string

const (
	PayableNone           PayableType = ""
	PayableFiatDeposit    PayableType = "fiat_deposit"
	PayableFiatWithdrawal PayableType = "fiat_withdrawal"
)

// TransferStatus 放币划转在引擎侧的进度
type TransferStatus string

const (
	TransferStatusNone      TransferStatus = ""
	TransferStatusRequested TransferStatus = "requested"
	TransferStatusAccepted  TransferStatus = "accepted"
	TransferStatusRejected  TransferStatus = "rejected"
	TransferStatusSucceeded TransferStatus = "succeeded"
	TransferStatusFailed    TransferStatus = "failed"
)

// Trade P2P 交易
// 金额、价格、费率在创建时快照，之后不可变
type Trade struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeID           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"trade_id"`
	OfferID           string          `gorm:"type:varchar(64);index;not null" json:"offer_id"`
	MakerID           int64           `gorm:"type:bigint;not null" json:"maker_id"`
	TakerID           int64           `gorm:"type:bigint;not null" json:"taker_id"`
	TakerSide         TradeSide       `gorm:"type:varchar(8);not null" json:"taker_side"`
	BuyerID           int64           `gorm:"type:bigint;index;not null" json:"buyer_id"`
	SellerID          int64           `gorm:"type:bigint;index;not null" json:"seller_id"`
	Coin              string          `gorm:"type:varchar(20);not null" json:"coin"`
	FiatCurrency      string          `gorm:"type:varchar(10);not null" json:"fiat_currency"`
	CoinAmount        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"coin_amount"`
	FiatAmount        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"fiat_amount"`
	Price             decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"price"`
	FeeRatio          decimal.Decimal `gorm:"type:decimal(10,6);not null" json:"fee_ratio"`
	Fee               decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"fee"`
	Status            TradeStatus     `gorm:"type:varchar(20);not null;index:idx_status_unpaid,priority:1;index:idx_status_paid,priority:1" json:"status"`
	UnpaidTimeoutAt   int64           `gorm:"type:bigint;index:idx_status_unpaid,priority:2" json:"unpaid_timeout_at"`
	PaidTimeoutAt     int64           `gorm:"type:bigint;index:idx_status_paid,priority:2" json:"paid_timeout_at"`
	PaymentProof      string          `gorm:"type:varchar(500)" json:"payment_proof,omitempty"`
	DisputeReason     string          `gorm:"type:varchar(500)" json:"dispute_reason,omitempty"`
	DisputeResolution string          `gorm:"type:varchar(20)" json:"dispute_resolution,omitempty"`
	DisputedBy        int64           `gorm:"type:bigint" json:"disputed_by,omitempty"`
	CancelReason      string          `gorm:"type:varchar(500)" json:"cancel_reason,omitempty"`
	PayableType       PayableType     `gorm:"type:varchar(20)" json:"payable_type,omitempty"`
	PayableID         string          `gorm:"type:varchar(64)" json:"payable_id,omitempty"`
	ReleaseLockID     string          `gorm:"type:varchar(64)" json:"release_lock_id,omitempty"`
	TransferStatus    TransferStatus  `gorm:"type:varchar(20)" json:"transfer_status,omitempty"`
	PaidAt            int64           `gorm:"type:bigint" json:"paid_at"`
	ReleasedAt        int64           `gorm:"type:bigint" json:"released_at"`
	CancelledAt       int64           `gorm:"type:bigint" json:"cancelled_at"`
	DisputedAt        int64           `gorm:"type:bigint" json:"disputed_at"`
	Version           int64           `gorm:"type:bigint;not null;default:1" json:"version"` // 每次状态推进 +1
	CreatedAt         int64           `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt         int64           `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (Trade) TableName() string {
	return "p2p_trades"
}

// Identifier 与引擎交互时的关联标识
func (t *Trade) Identifier() string {
	return "trade-" + t.TradeID
}

// ReleaseAmount 放给买方的数量 (扣除手续费)
func (t *Trade) ReleaseAmount() decimal.Decimal {
	return t.CoinAmount.Sub(t.Fee)
}

// ResolveParties 根据广告方向与吃单方向确定买卖双方
// 吃单方买入则挂单方 (广告主) 为卖方
func ResolveParties(makerID, takerID int64, takerSide TradeSide) (buyerID, sellerID int64) {
	if takerSide == TradeSideBuy {
		return takerID, makerID
	}
	return makerID, takerID
}

// 账户 key 规则与引擎保持一致
func CoinAccountKey(userID int64, coin string) string {
	return "user:" + itoa(userID) + ":" + coin
}

// EscrowAccountKey 托管账户
func EscrowAccountKey(coin string) string {
	return "escrow:" + coin
}

// FeeAccountKey 平台手续费账户
func FeeAccountKey(coin string) string {
	return "fee:" + coin
}

// TradeEscrowAccountKey 单笔交易的托管子账户，结算时只锁定本交易涉及的资金
func TradeEscrowAccountKey(coin, tradeID string) string {
	return EscrowAccountKey(coin) + ":" + tradeID
}
