package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
)

var (
	ErrDepositNotFound        = errors.New("fiat deposit not found")
	ErrWithdrawalNotFound     = errors.New("fiat withdrawal not found")
	ErrCoinWithdrawalNotFound = errors.New("coin withdrawal not found")
)

// FiatDepositRepository 法币充值仓储
type FiatDepositRepository interface {
	Create(ctx context.Context, deposit *model.FiatDeposit) error
	GetByDepositID(ctx context.Context, depositID string) (*model.FiatDeposit, error)

	// UpdateStatus 条件更新状态，fields 附带写入 (如 trade_id)
	UpdateStatus(ctx context.Context, depositID string, from, to model.FiatDepositStatus, fields map[string]interface{}) error
}

// FiatWithdrawalRepository 法币提现仓储
type FiatWithdrawalRepository interface {
	Create(ctx context.Context, withdrawal *model.FiatWithdrawal) error
	GetByWithdrawalID(ctx context.Context, withdrawalID string) (*model.FiatWithdrawal, error)
	UpdateStatus(ctx context.Context, withdrawalID string, from, to model.FiatWithdrawalStatus, fields map[string]interface{}) error
}

// CoinWithdrawalRepository 链上提币仓储
type CoinWithdrawalRepository interface {
	Create(ctx context.Context, withdrawal *model.CoinWithdrawal) error
	GetByWithdrawalID(ctx context.Context, withdrawalID string) (*model.CoinWithdrawal, error)
	UpdateStatus(ctx context.Context, withdrawalID string, from []model.CoinWithdrawalStatus, to model.CoinWithdrawalStatus, fields map[string]interface{}) error
}

type fiatDepositRepository struct {
	*Repository
}

// NewFiatDepositRepository 创建法币充值仓储
func NewFiatDepositRepository(db *gorm.DB) FiatDepositRepository {
	return &fiatDepositRepository{Repository: NewRepository(db)}
}

func (r *fiatDepositRepository) Create(ctx context.Context, deposit *model.FiatDeposit) error {
	if err := r.DB(ctx).Create(deposit).Error; err != nil {
		return fmt.Errorf("create fiat deposit failed: %w", err)
	}
	return nil
}

func (r *fiatDepositRepository) GetByDepositID(ctx context.Context, depositID string) (*model.FiatDeposit, error) {
	var deposit model.FiatDeposit
	if err := r.DB(ctx).Where("deposit_id = ?", depositID).First(&deposit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, fmt.Errorf("get fiat deposit failed: %w", err)
	}
	return &deposit, nil
}

func (r *fiatDepositRepository) UpdateStatus(ctx context.Context, depositID string, from, to model.FiatDepositStatus, fields map[string]interface{}) error {
	return conditionalUpdate(r.DB(ctx).Model(&model.FiatDeposit{}).
		Where("deposit_id = ? AND status = ?", depositID, from), to, fields, "fiat deposit")
}

type fiatWithdrawalRepository struct {
	*Repository
}

// NewFiatWithdrawalRepository 创建法币提现仓储
func NewFiatWithdrawalRepository(db *gorm.DB) FiatWithdrawalRepository {
	return &fiatWithdrawalRepository{Repository: NewRepository(db)}
}

func (r *fiatWithdrawalRepository) Create(ctx context.Context, withdrawal *model.FiatWithdrawal) error {
	if err := r.DB(ctx).Create(withdrawal).Error; err != nil {
		return fmt.Errorf("create fiat withdrawal failed: %w", err)
	}
	return nil
}

func (r *fiatWithdrawalRepository) GetByWithdrawalID(ctx context.Context, withdrawalID string) (*model.FiatWithdrawal, error) {
	var withdrawal model.FiatWithdrawal
	if err := r.DB(ctx).Where("withdrawal_id = ?", withdrawalID).First(&withdrawal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("get fiat withdrawal failed: %w", err)
	}
	return &withdrawal, nil
}

func (r *fiatWithdrawalRepository) UpdateStatus(ctx context.Context, withdrawalID string, from, to model.FiatWithdrawalStatus, fields map[string]interface{}) error {
	return conditionalUpdate(r.DB(ctx).Model(&model.FiatWithdrawal{}).
		Where("withdrawal_id = ? AND status = ?", withdrawalID, from), to, fields, "fiat withdrawal")
}

type coinWithdrawalRepository struct {
	*Repository
}

// NewCoinWithdrawalRepository 创建链上提币仓储
func NewCoinWithdrawalRepository(db *gorm.DB) CoinWithdrawalRepository {
	return &coinWithdrawalRepository{Repository: NewRepository(db)}
}

func (r *coinWithdrawalRepository) Create(ctx context.Context, withdrawal *model.CoinWithdrawal) error {
	if err := r.DB(ctx).Create(withdrawal).Error; err != nil {
		return fmt.Errorf("create coin withdrawal failed: %w", err)
	}
	return nil
}

func (r *coinWithdrawalRepository) GetByWithdrawalID(ctx context.Context, withdrawalID string) (*model.CoinWithdrawal, error) {
	var withdrawal model.CoinWithdrawal
	if err := r.DB(ctx).Where("withdrawal_id = ?", withdrawalID).First(&withdrawal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCoinWithdrawalNotFound
		}
		return nil, fmt.Errorf("get coin withdrawal failed: %w", err)
	}
	return &withdrawal, nil
}

func (r *coinWithdrawalRepository) UpdateStatus(ctx context.Context, withdrawalID string, from []model.CoinWithdrawalStatus, to model.CoinWithdrawalStatus, fields map[string]interface{}) error {
	return conditionalUpdate(r.DB(ctx).Model(&model.CoinWithdrawal{}).
		Where("withdrawal_id = ? AND status IN ?", withdrawalID, from), to, fields, "coin withdrawal")
}

// conditionalUpdate 状态条件更新，未命中返回 ErrOptimisticLock
func conditionalUpdate(db *gorm.DB, to interface{}, fields map[string]interface{}, what string) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := db.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update %s status failed: %w", what, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}
