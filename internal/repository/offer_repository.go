package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
)

var (
	ErrOfferNotFound = errors.New("offer not found")
)

// OfferRepository 广告仓储
type OfferRepository interface {
	Create(ctx context.Context, offer *model.Offer) error
	GetByOfferID(ctx context.Context, offerID string) (*model.Offer, error)

	// UpdateStatus 条件更新广告状态
	UpdateStatus(ctx context.Context, offerID string, from, to model.OfferStatus, reason string) error

	// UpdateEscrow 写入托管余额，仅当事件时间新于已记录值时生效，返回是否更新
	UpdateEscrow(ctx context.Context, offerID string, amount decimal.Decimal, eventTime int64) (bool, error)
}

type offerRepository struct {
	*Repository
}

// NewOfferRepository 创建广告仓储
func NewOfferRepository(db *gorm.DB) OfferRepository {
	return &offerRepository{Repository: NewRepository(db)}
}

func (r *offerRepository) Create(ctx context.Context, offer *model.Offer) error {
	if err := r.DB(ctx).Create(offer).Error; err != nil {
		return fmt.Errorf("create offer failed: %w", err)
	}
	return nil
}

func (r *offerRepository) GetByOfferID(ctx context.Context, offerID string) (*model.Offer, error) {
	var offer model.Offer
	if err := r.DB(ctx).Where("offer_id = ?", offerID).First(&offer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("get offer failed: %w", err)
	}
	return &offer, nil
}

func (r *offerRepository) UpdateStatus(ctx context.Context, offerID string, from, to model.OfferStatus, reason string) error {
	result := r.DB(ctx).Model(&model.Offer{}).
		Where("offer_id = ? AND status = ?", offerID, from).
		Updates(map[string]interface{}{
			"status":         to,
			"disable_reason": truncate(reason, 200),
		})
	if result.Error != nil {
		return fmt.Errorf("update offer status failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *offerRepository) UpdateEscrow(ctx context.Context, offerID string, amount decimal.Decimal, eventTime int64) (bool, error) {
	result := r.DB(ctx).Model(&model.Offer{}).
		Where("offer_id = ? AND (escrow_update_at IS NULL OR escrow_update_at < ?)", offerID, eventTime).
		Updates(map[string]interface{}{
			"escrowed_amount":  amount,
			"escrow_update_at": eventTime,
		})
	if result.Error != nil {
		return false, fmt.Errorf("update offer escrow failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
