package model

import (
	"github.com/shopspring/decimal"
)

// FiatDepositStatus 法币充值状态
type FiatDepositStatus string

const (
	FiatDepositStatusAwaiting           FiatDepositStatus = "awaiting"            // 已创建，未匹配交易
	FiatDepositStatusPending            FiatDepositStatus = "pending"             // 已关联交易，等待付款
	FiatDepositStatusMoneySent          FiatDepositStatus = "money_sent"          // 用户声明已付款
	FiatDepositStatusOwnershipVerifying FiatDepositStatus = "ownership_verifying" // 付款账户所有权核验中
	FiatDepositStatusProcessed          FiatDepositStatus = "processed"
	FiatDepositStatusCancelled          FiatDepositStatus = "cancelled"
)

var fiatDepositTransitions = map[FiatDepositStatus][]FiatDepositStatus{
	FiatDepositStatusAwaiting:           {FiatDepositStatusPending, FiatDepositStatusCancelled},
	FiatDepositStatusPending:            {FiatDepositStatusMoneySent, FiatDepositStatusCancelled},
	FiatDepositStatusMoneySent:          {FiatDepositStatusOwnershipVerifying, FiatDepositStatusProcessed, FiatDepositStatusCancelled},
	FiatDepositStatusOwnershipVerifying: {FiatDepositStatusProcessed, FiatDepositStatusCancelled},
}

// CanTransitionTo 状态迁移规则
func (s FiatDepositStatus) CanTransitionTo(next FiatDepositStatus) bool {
	for _, v := range fiatDepositTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// FiatDeposit 法币充值 (交易的 payable)
type FiatDeposit struct {
	ID        int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	DepositID string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"deposit_id"`
	UserID    int64             `gorm:"type:bigint;index;not null" json:"user_id"`
	Currency  string            `gorm:"type:varchar(10);not null" json:"currency"`
	Amount    decimal.Decimal   `gorm:"type:decimal(36,18);not null" json:"amount"`
	TradeID   string            `gorm:"type:varchar(64);index" json:"trade_id"`
	Status    FiatDepositStatus `gorm:"type:varchar(24);not null;default:'awaiting';index" json:"status"`
	CreatedAt int64             `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt int64             `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (FiatDeposit) TableName() string {
	return "p2p_fiat_deposits"
}

// FiatWithdrawalStatus 法币提现状态
type FiatWithdrawalStatus string

const (
	FiatWithdrawalStatusPending    FiatWithdrawalStatus = "pending"
	FiatWithdrawalStatusProcessing FiatWithdrawalStatus = "processing" // 已关联交易
	FiatWithdrawalStatusProcessed  FiatWithdrawalStatus = "processed"
	FiatWithdrawalStatusCancelled  FiatWithdrawalStatus = "cancelled"
)

var fiatWithdrawalTransitions = map[FiatWithdrawalStatus][]FiatWithdrawalStatus{
	FiatWithdrawalStatusPending:    {FiatWithdrawalStatusProcessing, FiatWithdrawalStatusCancelled},
	FiatWithdrawalStatusProcessing: {FiatWithdrawalStatusProcessed, FiatWithdrawalStatusPending, FiatWithdrawalStatusCancelled},
}

// CanTransitionTo 状态迁移规则，processing 可回退 pending (交易取消后解除关联)
func (s FiatWithdrawalStatus) CanTransitionTo(next FiatWithdrawalStatus) bool {
	for _, v := range fiatWithdrawalTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// FiatWithdrawal 法币提现 (交易的 payable)
type FiatWithdrawal struct {
	ID           int64                `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalID string               `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_id"`
	UserID       int64                `gorm:"type:bigint;index;not null" json:"user_id"`
	Currency     string               `gorm:"type:varchar(10);not null" json:"currency"`
	Amount       decimal.Decimal      `gorm:"type:decimal(36,18);not null" json:"amount"`
	TradeID      string               `gorm:"type:varchar(64);index" json:"trade_id"`
	Status       FiatWithdrawalStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt    int64                `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt    int64                `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (FiatWithdrawal) TableName() string {
	return "p2p_fiat_withdrawals"
}

// CoinWithdrawalStatus 链上提币状态，由引擎驱动
type CoinWithdrawalStatus string

const (
	CoinWithdrawalStatusPending    CoinWithdrawalStatus = "pending"
	CoinWithdrawalStatusProcessing CoinWithdrawalStatus = "processing"
	CoinWithdrawalStatusCompleted  CoinWithdrawalStatus = "completed"
	CoinWithdrawalStatusFailed     CoinWithdrawalStatus = "failed"
	CoinWithdrawalStatusCancelled  CoinWithdrawalStatus = "cancelled"
)

// IsFinal 终态
func (s CoinWithdrawalStatus) IsFinal() bool {
	return s == CoinWithdrawalStatusCompleted || s == CoinWithdrawalStatusFailed || s == CoinWithdrawalStatusCancelled
}

// CoinWithdrawal 链上提币
type CoinWithdrawal struct {
	ID           int64                `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalID string               `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_id"`
	UserID       int64                `gorm:"type:bigint;index;not null" json:"user_id"`
	Coin         string               `gorm:"type:varchar(20);not null" json:"coin"`
	Amount       decimal.Decimal      `gorm:"type:decimal(36,18);not null" json:"amount"`
	Address      string               `gorm:"type:varchar(128);not null" json:"address"`
	TxHash       string               `gorm:"type:varchar(128)" json:"tx_hash,omitempty"`
	Status       CoinWithdrawalStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt    int64                `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt    int64                `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (CoinWithdrawal) TableName() string {
	return "p2p_coin_withdrawals"
}
