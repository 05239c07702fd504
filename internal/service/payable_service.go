package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// PayableService 交易关联的法币充提
// 所有迁移都是条件更新，已处于目标状态时为 no-op
type PayableService interface {
	// Attach 交易创建时关联 payable
	Attach(ctx context.Context, trade *model.Trade) error

	// MarkMoneySent 买方声明付款
	MarkMoneySent(ctx context.Context, trade *model.Trade) error

	// Settle 放币完成
	Settle(ctx context.Context, trade *model.Trade) error

	// Unwind 交易取消后解除关联
	Unwind(ctx context.Context, trade *model.Trade) error

	// VerifyOwnership 付款账户所有权核验
	VerifyOwnership(ctx context.Context, depositID string) error

	// HandleDepositResult 引擎入账结果 (identifier: deposit-<id>)
	HandleDepositResult(ctx context.Context, depositID string, success bool, reason string) error

	// HandleWithdrawalResult 引擎出账结果 (identifier: withdrawal-<id>)
	HandleWithdrawalResult(ctx context.Context, withdrawalID string, success bool, reason string) error
}

type payableService struct {
	depositRepo    repository.FiatDepositRepository
	withdrawalRepo repository.FiatWithdrawalRepository
}

// NewPayableService 创建充提服务
func NewPayableService(
	depositRepo repository.FiatDepositRepository,
	withdrawalRepo repository.FiatWithdrawalRepository,
) PayableService {
	return &payableService{
		depositRepo:    depositRepo,
		withdrawalRepo: withdrawalRepo,
	}
}

func (s *payableService) Attach(ctx context.Context, trade *model.Trade) error {
	fields := map[string]interface{}{"trade_id": trade.TradeID}
	switch trade.PayableType {
	case model.PayableFiatDeposit:
		return s.moveDeposit(ctx, trade.PayableID, model.FiatDepositStatusPending, fields)
	case model.PayableFiatWithdrawal:
		return s.moveWithdrawal(ctx, trade.PayableID, model.FiatWithdrawalStatusProcessing, fields)
	}
	return nil
}

func (s *payableService) MarkMoneySent(ctx context.Context, trade *model.Trade) error {
	if trade.PayableType != model.PayableFiatDeposit {
		return nil
	}
	return s.moveDeposit(ctx, trade.PayableID, model.FiatDepositStatusMoneySent, nil)
}

func (s *payableService) Settle(ctx context.Context, trade *model.Trade) error {
	switch trade.PayableType {
	case model.PayableFiatDeposit:
		return s.moveDeposit(ctx, trade.PayableID, model.FiatDepositStatusProcessed, nil)
	case model.PayableFiatWithdrawal:
		return s.moveWithdrawal(ctx, trade.PayableID, model.FiatWithdrawalStatusProcessed, nil)
	}
	return nil
}

func (s *payableService) Unwind(ctx context.Context, trade *model.Trade) error {
	switch trade.PayableType {
	case model.PayableFiatDeposit:
		return s.moveDeposit(ctx, trade.PayableID, model.FiatDepositStatusCancelled, nil)
	case model.PayableFiatWithdrawal:
		// 提现回到待匹配，可再次挂单
		return s.moveWithdrawal(ctx, trade.PayableID, model.FiatWithdrawalStatusPending,
			map[string]interface{}{"trade_id": ""})
	}
	return nil
}

func (s *payableService) VerifyOwnership(ctx context.Context, depositID string) error {
	return s.moveDeposit(ctx, depositID, model.FiatDepositStatusOwnershipVerifying, nil)
}

func (s *payableService) HandleDepositResult(ctx context.Context, depositID string, success bool, reason string) error {
	if !success {
		logger.Warn("fiat deposit credit failed",
			zap.String("deposit_id", depositID),
			zap.String("reason", reason))
		return nil
	}
	return s.moveDeposit(ctx, depositID, model.FiatDepositStatusProcessed, nil)
}

func (s *payableService) HandleWithdrawalResult(ctx context.Context, withdrawalID string, success bool, reason string) error {
	if !success {
		logger.Warn("fiat withdrawal debit failed",
			zap.String("withdrawal_id", withdrawalID),
			zap.String("reason", reason))
		return nil
	}
	return s.moveWithdrawal(ctx, withdrawalID, model.FiatWithdrawalStatusProcessed, nil)
}

func (s *payableService) moveDeposit(ctx context.Context, depositID string, to model.FiatDepositStatus, fields map[string]interface{}) error {
	deposit, err := s.depositRepo.GetByDepositID(ctx, depositID)
	if err != nil {
		if errors.Is(err, repository.ErrDepositNotFound) {
			return pkgerrors.ErrDepositNotFound.WithDetail("deposit_id", depositID)
		}
		return err
	}
	if deposit.Status == to {
		return nil
	}
	if !deposit.Status.CanTransitionTo(to) {
		return pkgerrors.ErrInvalidPayableStatus.
			WithDetail("deposit_id", depositID).
			WithDetail("status", string(deposit.Status)).
			WithDetail("target", string(to))
	}
	return s.depositRepo.UpdateStatus(ctx, depositID, deposit.Status, to, fields)
}

func (s *payableService) moveWithdrawal(ctx context.Context, withdrawalID string, to model.FiatWithdrawalStatus, fields map[string]interface{}) error {
	withdrawal, err := s.withdrawalRepo.GetByWithdrawalID(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, repository.ErrWithdrawalNotFound) {
			return pkgerrors.ErrWithdrawalNotFound.WithDetail("withdrawal_id", withdrawalID)
		}
		return err
	}
	if withdrawal.Status == to {
		return nil
	}
	if !withdrawal.Status.CanTransitionTo(to) {
		return pkgerrors.ErrInvalidPayableStatus.
			WithDetail("withdrawal_id", withdrawalID).
			WithDetail("status", string(withdrawal.Status)).
			WithDetail("target", string(to))
	}
	return s.withdrawalRepo.UpdateStatus(ctx, withdrawalID, withdrawal.Status, to, fields)
}
