package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
)

var (
	ErrBalanceLockNotFound = errors.New("balance lock not found")
	// ErrAccountKeyBusy 账户已被其他活跃锁占用
	ErrAccountKeyBusy = errors.New("account key already covered by an active lock")
)

// BalanceLockRepository 余额锁仓储
type BalanceLockRepository interface {
	Create(ctx context.Context, lock *model.BalanceLock) error
	GetByLockID(ctx context.Context, lockID string) (*model.BalanceLock, error)

	// Transition 条件更新状态，当前状态不在 from 中时返回 ErrOptimisticLock
	Transition(ctx context.Context, lockID string, from []model.BalanceLockStatus, to model.BalanceLockStatus, fields map[string]interface{}) error

	// RetryRelease 引擎解锁失败后登记一次重发，锁转为 releasing
	// 锁不再活跃或重发次数已达 maxAttempts 时返回 ErrOptimisticLock
	RetryRelease(ctx context.Context, lockID string, maxAttempts int) error

	// ClaimKeys 占用账户，任一账户已被占用则整体失败 (ErrAccountKeyBusy)，不留部分占用
	ClaimKeys(ctx context.Context, lockID string, accountKeys []string) error

	// FreeKeys 释放锁占用的全部账户
	FreeKeys(ctx context.Context, lockID string) error

	// ListByIdentifier 查询业务关联的锁
	ListByIdentifier(ctx context.Context, identifier string) ([]*model.BalanceLock, error)
}

type balanceLockRepository struct {
	*Repository
}

// NewBalanceLockRepository 创建余额锁仓储
func NewBalanceLockRepository(db *gorm.DB) BalanceLockRepository {
	return &balanceLockRepository{Repository: NewRepository(db)}
}

func (r *balanceLockRepository) Create(ctx context.Context, lock *model.BalanceLock) error {
	if err := r.DB(ctx).Create(lock).Error; err != nil {
		return fmt.Errorf("create balance lock failed: %w", err)
	}
	return nil
}

func (r *balanceLockRepository) GetByLockID(ctx context.Context, lockID string) (*model.BalanceLock, error) {
	var lock model.BalanceLock
	if err := r.DB(ctx).Where("lock_id = ?", lockID).First(&lock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceLockNotFound
		}
		return nil, fmt.Errorf("get balance lock failed: %w", err)
	}
	return &lock, nil
}

func (r *balanceLockRepository) Transition(ctx context.Context, lockID string, from []model.BalanceLockStatus, to model.BalanceLockStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.DB(ctx).Model(&model.BalanceLock{}).
		Where("lock_id = ? AND status IN ?", lockID, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update balance lock status failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *balanceLockRepository) RetryRelease(ctx context.Context, lockID string, maxAttempts int) error {
	result := r.DB(ctx).Model(&model.BalanceLock{}).
		Where("lock_id = ? AND status IN ? AND release_attempts < ?", lockID,
			[]model.BalanceLockStatus{model.BalanceLockStatusLocked, model.BalanceLockStatusReleasing}, maxAttempts).
		Updates(map[string]interface{}{
			"status":           model.BalanceLockStatusReleasing,
			"release_attempts": gorm.Expr("release_attempts + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("retry balance lock release failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *balanceLockRepository) ClaimKeys(ctx context.Context, lockID string, accountKeys []string) error {
	if len(accountKeys) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(accountKeys))
	rows := make([]*model.BalanceLockKey, 0, len(accountKeys))
	for _, key := range accountKeys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, &model.BalanceLockKey{AccountKey: key, LockID: lockID})
	}

	return r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
		if result.Error != nil {
			return fmt.Errorf("claim account keys failed: %w", result.Error)
		}
		if result.RowsAffected < int64(len(rows)) {
			return ErrAccountKeyBusy
		}
		return nil
	})
}

func (r *balanceLockRepository) FreeKeys(ctx context.Context, lockID string) error {
	if err := r.DB(ctx).Where("lock_id = ?", lockID).Delete(&model.BalanceLockKey{}).Error; err != nil {
		return fmt.Errorf("free account keys failed: %w", err)
	}
	return nil
}

func (r *balanceLockRepository) ListByIdentifier(ctx context.Context, identifier string) ([]*model.BalanceLock, error) {
	var locks []*model.BalanceLock
	if err := r.DB(ctx).Where("identifier = ?", identifier).Order("id ASC").Find(&locks).Error; err != nil {
		return nil, fmt.Errorf("list balance locks failed: %w", err)
	}
	return locks, nil
}
