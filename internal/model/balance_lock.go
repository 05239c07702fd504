package model

import (
	"gorm.io/datatypes"
)

// BalanceLockStatus 余额锁状态
type BalanceLockStatus string

const (
	BalanceLockStatusPending   BalanceLockStatus = "pending"   // 已发出锁定意图，等待引擎确认
	BalanceLockStatusLocked    BalanceLockStatus = "locked"    // 引擎已确认
	BalanceLockStatusReleasing BalanceLockStatus = "releasing" // 已放弃并发出解锁意图，等待引擎确认解锁
	BalanceLockStatusReleased  BalanceLockStatus = "released"  // 已解锁
	BalanceLockStatusFailed    BalanceLockStatus = "failed"    // 引擎拒绝或锁定意图未送达
)

// IsActive 引擎侧可能仍持有该锁，账户占用不可释放
func (s BalanceLockStatus) IsActive() bool {
	switch s {
	case BalanceLockStatusPending, BalanceLockStatusLocked, BalanceLockStatusReleasing:
		return true
	}
	return false
}

// BalanceLock 引擎侧余额锁的本地镜像
// AccountKeys 创建后不可变
type BalanceLock struct {
	ID              int64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	LockID          string                      `gorm:"type:varchar(64);uniqueIndex;not null" json:"lock_id"`
	AccountKeys     datatypes.JSONSlice[string] `gorm:"not null" json:"account_keys"`
	Identifier      string                      `gorm:"type:varchar(100);index;not null" json:"identifier"`
	Status          BalanceLockStatus           `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	FailReason      string                      `gorm:"type:varchar(500)" json:"fail_reason,omitempty"`
	ReleaseAttempts int                         `gorm:"not null;default:0" json:"release_attempts"` // 解锁失败后的重发次数
	LockedAt        int64                       `gorm:"type:bigint" json:"locked_at"`
	ReleasedAt      int64                       `gorm:"type:bigint" json:"released_at"`
	CreatedAt       int64                       `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt       int64                       `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (BalanceLock) TableName() string {
	return "p2p_balance_locks"
}

// BalanceLockKey 账户占用登记，一个账户同一时刻只能被一把活跃锁覆盖
type BalanceLockKey struct {
	AccountKey string `gorm:"type:varchar(128);primaryKey" json:"account_key"`
	LockID     string `gorm:"type:varchar(64);index;not null" json:"lock_id"`
	CreatedAt  int64  `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
}

// TableName 返回表名
func (BalanceLockKey) TableName() string {
	return "p2p_balance_lock_keys"
}
