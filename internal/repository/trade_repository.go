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
	ErrTradeNotFound      = errors.New("trade not found")
	ErrTradeAlreadyExists = errors.New("trade already exists")
)

// TradeRepository 交易仓储
type TradeRepository interface {
	Create(ctx context.Context, trade *model.Trade) error
	GetByTradeID(ctx context.Context, tradeID string) (*model.Trade, error)

	// ListByUser 查询用户作为买方或卖方的交易
	ListByUser(ctx context.Context, userID int64, status *model.TradeStatus, page *Pagination) ([]*model.Trade, error)

	// Transition 仅当交易仍处于 from 状态时写入 fields，否则返回 ErrOptimisticLock
	Transition(ctx context.Context, tradeID string, from model.TradeStatus, fields map[string]interface{}) error

	// UpdateTransferStatus 更新放币划转进度 (不改变交易状态)
	UpdateTransferStatus(ctx context.Context, tradeID string, from []model.TransferStatus, to model.TransferStatus) error

	// ListUnpaidExpired 付款超时的 unpaid 交易
	ListUnpaidExpired(ctx context.Context, now int64, limit int) ([]*model.Trade, error)

	// ListPaidExpired 放币超时的 paid 交易
	ListPaidExpired(ctx context.Context, now int64, limit int) ([]*model.Trade, error)
}

type tradeRepository struct {
	*Repository
}

// NewTradeRepository 创建交易仓储
func NewTradeRepository(db *gorm.DB) TradeRepository {
	return &tradeRepository{Repository: NewRepository(db)}
}

func (r *tradeRepository) Create(ctx context.Context, trade *model.Trade) error {
	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(trade)
	if result.Error != nil {
		return fmt.Errorf("create trade failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTradeAlreadyExists
	}
	return nil
}

func (r *tradeRepository) GetByTradeID(ctx context.Context, tradeID string) (*model.Trade, error) {
	var trade model.Trade
	if err := r.DB(ctx).Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, fmt.Errorf("get trade failed: %w", err)
	}
	return &trade, nil
}

func (r *tradeRepository) ListByUser(ctx context.Context, userID int64, status *model.TradeStatus, page *Pagination) ([]*model.Trade, error) {
	db := r.DB(ctx).Model(&model.Trade{}).Where("buyer_id = ? OR seller_id = ?", userID, userID)
	if status != nil {
		db = db.Where("status = ?", *status)
	}

	if page != nil {
		var total int64
		if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			return nil, fmt.Errorf("count trades failed: %w", err)
		}
		page.Total = total
	}

	var trades []*model.Trade
	db = db.Order("id DESC")
	if page != nil {
		limit := page.Limit()
		db = db.Offset(page.Offset()).Limit(limit)
	}
	if err := db.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("list trades by user failed: %w", err)
	}
	return trades, nil
}

func (r *tradeRepository) Transition(ctx context.Context, tradeID string, from model.TradeStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"version": gorm.Expr("version + 1")}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.DB(ctx).Model(&model.Trade{}).
		Where("trade_id = ? AND status = ?", tradeID, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update trade failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *tradeRepository) UpdateTransferStatus(ctx context.Context, tradeID string, from []model.TransferStatus, to model.TransferStatus) error {
	result := r.DB(ctx).Model(&model.Trade{}).
		Where("trade_id = ? AND transfer_status IN ?", tradeID, from).
		Updates(map[string]interface{}{
			"transfer_status": to,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("update trade transfer status failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *tradeRepository) ListUnpaidExpired(ctx context.Context, now int64, limit int) ([]*model.Trade, error) {
	return r.listExpired(ctx, model.TradeStatusUnpaid, "unpaid_timeout_at", now, limit)
}

func (r *tradeRepository) ListPaidExpired(ctx context.Context, now int64, limit int) ([]*model.Trade, error) {
	return r.listExpired(ctx, model.TradeStatusPaid, "paid_timeout_at", now, limit)
}

func (r *tradeRepository) listExpired(ctx context.Context, status model.TradeStatus, column string, now int64, limit int) ([]*model.Trade, error) {
	var trades []*model.Trade
	result := r.DB(ctx).
		Where("status = ? AND "+column+" > 0 AND "+column+" <= ?", status, now).
		Order(column + " ASC").
		Limit(limit).
		Find(&trades)
	if result.Error != nil {
		return nil, fmt.Errorf("list expired %s trades failed: %w", status, result.Error)
	}
	return trades, nil
}
