package model

import (
	"github.com/shopspring/decimal"
)

// OfferStatus 广告状态
type OfferStatus string

const (
	OfferStatusActive   OfferStatus = "active"
	OfferStatusDisabled OfferStatus = "disabled"
	OfferStatusDeleted  OfferStatus = "deleted"
)

// Offer 商家广告
type Offer struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OfferID        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"offer_id"`
	UserID         int64           `gorm:"type:bigint;index;not null" json:"user_id"`
	OfferType      TradeSide       `gorm:"type:varchar(8);not null" json:"offer_type"` // 广告主买入或卖出
	Coin           string          `gorm:"type:varchar(20);not null" json:"coin"`
	FiatCurrency   string          `gorm:"type:varchar(10);not null" json:"fiat_currency"`
	Price          decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"price"`
	MinAmount      decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"min_amount"`
	MaxAmount      decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"max_amount"`
	EscrowedAmount decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"escrowed_amount"`
	EscrowUpdateAt int64           `gorm:"type:bigint" json:"escrow_update_at"` // 最近一次托管更新的事件时间
	Status         OfferStatus     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	DisableReason  string          `gorm:"type:varchar(200)" json:"disable_reason,omitempty"`
	CreatedAt      int64           `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt      int64           `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (Offer) TableName() string {
	return "p2p_offers"
}

// CanTransitionTo 广告状态迁移规则，deleted 为终态
func (s OfferStatus) CanTransitionTo(next OfferStatus) bool {
	switch s {
	case OfferStatusActive:
		return next == OfferStatusDisabled || next == OfferStatusDeleted
	case OfferStatusDisabled:
		return next == OfferStatusActive || next == OfferStatusDeleted
	default:
		return false
	}
}
