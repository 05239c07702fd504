package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// CoinWithdrawalUpdate 引擎回报的提币进度
type CoinWithdrawalUpdate struct {
	WithdrawalID string
	UserID       int64
	Coin         string
	Amount       decimal.Decimal
	Address      string
	TxHash       string
	Status       model.CoinWithdrawalStatus
}

// CoinWithdrawalService 链上提币状态镜像
type CoinWithdrawalService interface {
	HandleUpdate(ctx context.Context, update *CoinWithdrawalUpdate) error
}

type coinWithdrawalService struct {
	repo repository.CoinWithdrawalRepository
}

// NewCoinWithdrawalService 创建提币服务
func NewCoinWithdrawalService(repo repository.CoinWithdrawalRepository) CoinWithdrawalService {
	return &coinWithdrawalService{repo: repo}
}

// 允许的来源状态
var coinWithdrawalSources = map[model.CoinWithdrawalStatus][]model.CoinWithdrawalStatus{
	model.CoinWithdrawalStatusProcessing: {model.CoinWithdrawalStatusPending},
	model.CoinWithdrawalStatusCompleted:  {model.CoinWithdrawalStatusPending, model.CoinWithdrawalStatusProcessing},
	model.CoinWithdrawalStatusFailed:     {model.CoinWithdrawalStatusPending, model.CoinWithdrawalStatusProcessing},
	model.CoinWithdrawalStatusCancelled:  {model.CoinWithdrawalStatusPending, model.CoinWithdrawalStatusProcessing},
}

func (s *coinWithdrawalService) HandleUpdate(ctx context.Context, update *CoinWithdrawalUpdate) error {
	sources, ok := coinWithdrawalSources[update.Status]
	if !ok {
		return pkgerrors.ErrUnsupportedEventAction.
			WithDetail("withdrawal_id", update.WithdrawalID).
			WithDetail("status", string(update.Status))
	}

	current, err := s.repo.GetByWithdrawalID(ctx, update.WithdrawalID)
	if errors.Is(err, repository.ErrCoinWithdrawalNotFound) {
		return s.create(ctx, update)
	}
	if err != nil {
		return err
	}

	if current.Status == update.Status {
		return nil
	}
	if current.Status.IsFinal() {
		return pkgerrors.ErrInvalidPayableStatus.
			WithDetail("withdrawal_id", update.WithdrawalID).
			WithDetail("status", string(current.Status)).
			WithDetail("target", string(update.Status))
	}

	fields := map[string]interface{}{}
	if update.TxHash != "" {
		fields["tx_hash"] = update.TxHash
	}
	if err := s.repo.UpdateStatus(ctx, update.WithdrawalID, sources, update.Status, fields); err != nil {
		return err
	}

	logger.Info("coin withdrawal updated",
		zap.String("withdrawal_id", update.WithdrawalID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(update.Status)))
	return nil
}

// create 引擎先于本地发起的提币
func (s *coinWithdrawalService) create(ctx context.Context, update *CoinWithdrawalUpdate) error {
	if update.UserID == 0 || update.Coin == "" || update.Address == "" || !update.Amount.IsPositive() {
		return pkgerrors.ErrWithdrawalNotFound.WithDetail("withdrawal_id", update.WithdrawalID)
	}
	return s.repo.Create(ctx, &model.CoinWithdrawal{
		WithdrawalID: update.WithdrawalID,
		UserID:       update.UserID,
		Coin:         update.Coin,
		Amount:       update.Amount,
		Address:      update.Address,
		TxHash:       update.TxHash,
		Status:       update.Status,
	})
}
