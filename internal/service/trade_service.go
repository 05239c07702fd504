package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/metrics"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
	"github.com/eidos-exchange/eidos-p2p/pkg/lock"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// 引擎 trade_update 回报的状态
const (
	EngineTradeEscrowLocked = "escrow_locked"
	EngineTradeUnpaid       = "unpaid"
	EngineTradeCancelled    = "cancelled"
	EngineTradeDisputed     = "disputed"
)

const (
	maxReasonLen      = 500
	resolutionRelease = "released"
	resolutionCancel  = "cancelled"
)

// CreateTradeRequest 创建交易 (由 REST 层校验后调用)
type CreateTradeRequest struct {
	TradeID     string // 为空时生成
	OfferID     string
	TakerID     int64
	TakerSide   model.TradeSide
	CoinAmount  decimal.Decimal
	PayableType model.PayableType
	PayableID   string
}

// TradeServiceConfig 交易服务参数
type TradeServiceConfig struct {
	PaymentWindow      time.Duration // unpaid 超时
	ReleaseWindow      time.Duration // paid 超时
	LockConfirmTimeout time.Duration // 等待余额锁确认
	SweepBatchSize     int
	Fees               config.FeeConfig
}

// TradeService 交易结算状态机
type TradeService interface {
	CreateTrade(ctx context.Context, req *CreateTradeRequest) (*model.Trade, error)
	GetTrade(ctx context.Context, tradeID string) (*model.Trade, error)
	ListTrades(ctx context.Context, userID int64, status *model.TradeStatus, page *repository.Pagination) ([]*model.Trade, error)

	// Activate 卖方币已托管，开始付款倒计时
	Activate(ctx context.Context, tradeID string) error

	// MarkPaid 买方声明已付款
	MarkPaid(ctx context.Context, tradeID string, actor Actor, proof string) error

	// Release 放币: 锁定账户 → 划转 → 解锁 → released
	// 任一步失败交易保持原状态，可安全重试
	Release(ctx context.Context, tradeID string, actor Actor) error

	// Cancel 取消交易，托管币退回卖方
	Cancel(ctx context.Context, tradeID string, actor Actor, reason string) error

	// Dispute 发起申诉，冻结超时自动流转
	Dispute(ctx context.Context, tradeID string, actor Actor, reason string) error

	// SweepTimeouts 付款超时自动取消，放币超时自动申诉
	SweepTimeouts(ctx context.Context, now time.Time) (cancelled, disputed int, err error)

	// ApplyEngineUpdate 以系统身份应用引擎回报的交易状态
	ApplyEngineUpdate(ctx context.Context, tradeID, status, reason string) error

	// HandleTransferResponse 引擎受理/拒绝划转请求
	HandleTransferResponse(ctx context.Context, tradeID string, accepted bool, reason string) error

	// HandleTransferResult 划转执行结果
	HandleTransferResult(ctx context.Context, tradeID string, success bool, reason string) error
}

type tradeService struct {
	txManager    repository.TxManager
	tradeRepo    repository.TradeRepository
	lockRepo     repository.BalanceLockRepository
	outboxRepo   repository.OutboxRepository
	offers       OfferService
	payables     PayableService
	locks        BalanceLockService
	settleLocker lock.Locker
	cfg          TradeServiceConfig
	now          func() time.Time
}

// NewTradeService 创建交易服务
// settleLocker 为 nil 时不做跨实例放币互斥
func NewTradeService(
	txManager repository.TxManager,
	tradeRepo repository.TradeRepository,
	lockRepo repository.BalanceLockRepository,
	outboxRepo repository.OutboxRepository,
	offers OfferService,
	payables PayableService,
	locks BalanceLockService,
	settleLocker lock.Locker,
	cfg TradeServiceConfig,
) TradeService {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &tradeService{
		txManager:    txManager,
		tradeRepo:    tradeRepo,
		lockRepo:     lockRepo,
		outboxRepo:   outboxRepo,
		offers:       offers,
		payables:     payables,
		locks:        locks,
		settleLocker: settleLocker,
		cfg:          cfg,
		now:          time.Now,
	}
}

func (s *tradeService) CreateTrade(ctx context.Context, req *CreateTradeRequest) (*model.Trade, error) {
	offer, err := s.offers.Get(ctx, req.OfferID)
	if err != nil {
		return nil, err
	}
	if offer.Status != model.OfferStatusActive {
		return nil, pkgerrors.ErrOfferInactive.WithDetail("offer_id", offer.OfferID)
	}
	if req.TakerSide != offer.OfferType.Opposite() {
		return nil, pkgerrors.ErrInvalidRequest.WithMessage("taker side must be opposite to offer type")
	}
	if req.TakerID == 0 || req.TakerID == offer.UserID {
		return nil, pkgerrors.ErrInvalidRequest.WithMessage("invalid taker")
	}
	amount := req.CoinAmount
	if !amount.IsPositive() || amount.LessThan(offer.MinAmount) ||
		(offer.MaxAmount.IsPositive() && amount.GreaterThan(offer.MaxAmount)) {
		return nil, pkgerrors.ErrInvalidAmount.WithDetail("amount", amount.String())
	}

	tradeID := req.TradeID
	if tradeID == "" {
		tradeID = uuid.NewString()
	}
	buyerID, sellerID := model.ResolveParties(offer.UserID, req.TakerID, req.TakerSide)
	// 价格与费率在创建时快照
	ratio := s.cfg.Fees.RatioFor(offer.Coin)

	trade := &model.Trade{
		TradeID:      tradeID,
		OfferID:      offer.OfferID,
		MakerID:      offer.UserID,
		TakerID:      req.TakerID,
		TakerSide:    req.TakerSide,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		Coin:         offer.Coin,
		FiatCurrency: offer.FiatCurrency,
		CoinAmount:   amount,
		FiatAmount:   amount.Mul(offer.Price),
		Price:        offer.Price,
		FeeRatio:     ratio,
		Fee:          amount.Mul(ratio),
		Status:       model.TradeStatusAwaiting,
		PayableType:  req.PayableType,
		PayableID:    req.PayableID,
	}

	err = s.txManager.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.tradeRepo.Create(txCtx, trade); err != nil {
			if errors.Is(err, repository.ErrTradeAlreadyExists) {
				return pkgerrors.ErrConflict.WithDetail("trade_id", tradeID)
			}
			return err
		}
		if err := s.payables.Attach(txCtx, trade); err != nil {
			return err
		}
		escrow, err := newEscrowMessage(trade, kafka.ActionLock)
		if err != nil {
			return err
		}
		if err := s.outboxRepo.Create(txCtx, escrow); err != nil {
			return err
		}
		return s.enqueueTradeEvent(txCtx, trade, "", EventCreated, "")
	})
	if err != nil {
		return nil, err
	}

	logger.Info("trade created",
		zap.String("trade_id", trade.TradeID),
		zap.String("offer_id", trade.OfferID),
		zap.Int64("buyer_id", trade.BuyerID),
		zap.Int64("seller_id", trade.SellerID),
		zap.String("coin_amount", trade.CoinAmount.String()))
	return trade, nil
}

func (s *tradeService) GetTrade(ctx context.Context, tradeID string) (*model.Trade, error) {
	trade, err := s.tradeRepo.GetByTradeID(ctx, tradeID)
	if err != nil {
		if errors.Is(err, repository.ErrTradeNotFound) {
			return nil, pkgerrors.ErrTradeNotFound.WithDetail("trade_id", tradeID)
		}
		return nil, err
	}
	return trade, nil
}

func (s *tradeService) ListTrades(ctx context.Context, userID int64, status *model.TradeStatus, page *repository.Pagination) ([]*model.Trade, error) {
	return s.tradeRepo.ListByUser(ctx, userID, status, page)
}

func (s *tradeService) Activate(ctx context.Context, tradeID string) error {
	trade, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}

	switch trade.Status {
	case model.TradeStatusAwaiting:
	case model.TradeStatusCancelled:
		// 取消后才到达的托管确认，退回卖方
		logger.Warn("escrow locked after trade cancelled, refunding",
			zap.String("trade_id", tradeID))
		refund, err := newEscrowMessage(trade, kafka.ActionRefund)
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, refund)
	default:
		return nil
	}

	tr, err := Authorize(trade, SystemActor(), EventEscrowLocked)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{
		"unpaid_timeout_at": s.now().Add(s.cfg.PaymentWindow).UnixMilli(),
	}
	return s.apply(ctx, trade, tr, fields, "")
}

func (s *tradeService) MarkPaid(ctx context.Context, tradeID string, actor Actor, proof string) error {
	trade, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	tr, err := Authorize(trade, actor, EventMarkPaid)
	if err != nil {
		return err
	}

	now := s.now()
	fields := map[string]interface{}{
		"payment_proof":   truncate(proof, maxReasonLen),
		"paid_at":         now.UnixMilli(),
		"paid_timeout_at": now.Add(s.cfg.ReleaseWindow).UnixMilli(),
	}
	return s.apply(ctx, trade, tr, fields, "")
}

func (s *tradeService) Cancel(ctx context.Context, tradeID string, actor Actor, reason string) error {
	return s.cancel(ctx, tradeID, actor, EventCancel, reason, true)
}

func (s *tradeService) cancel(ctx context.Context, tradeID string, actor Actor, event TradeEvent, reason string, refund bool) error {
	trade, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	tr, err := Authorize(trade, actor, event)
	if err != nil {
		return err
	}
	if !refund {
		tr = tr.Without(EffectRefundEscrow)
	}

	fields := map[string]interface{}{
		"cancel_reason": truncate(reason, maxReasonLen),
		"cancelled_at":  s.now().UnixMilli(),
	}
	if trade.Status == model.TradeStatusDisputed {
		fields["dispute_resolution"] = resolutionCancel
	}
	return s.apply(ctx, trade, tr, fields, reason)
}

func (s *tradeService) Dispute(ctx context.Context, tradeID string, actor Actor, reason string) error {
	return s.dispute(ctx, tradeID, actor, EventDispute, reason)
}

func (s *tradeService) dispute(ctx context.Context, tradeID string, actor Actor, event TradeEvent, reason string) error {
	trade, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	tr, err := Authorize(trade, actor, event)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"dispute_reason": truncate(reason, maxReasonLen),
		"disputed_by":    actor.UserID,
		"disputed_at":    s.now().UnixMilli(),
	}
	return s.apply(ctx, trade, tr, fields, reason)
}

func (s *tradeService) Release(ctx context.Context, tradeID string, actor Actor) error {
	trade, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if err := CanRelease(trade, actor); err != nil {
		return err
	}
	return s.withSettleLock(ctx, tradeID, func(ctx context.Context) error {
		return s.release(ctx, tradeID, actor)
	})
}

func (s *tradeService) release(ctx context.Context, tradeID string, actor Actor) error {
	ctx = logger.WithTrade(ctx, tradeID)
	// 持锁后重新读取
	trade, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	tr, err := Authorize(trade, actor, EventRelease)
	if err != nil {
		return err
	}

	lockID := uuid.NewString()
	identifier := trade.Identifier()
	keys := settlementAccountKeys(trade)
	// 清理动作不受调用方取消影响
	cleanupCtx := context.WithoutCancel(ctx)

	if err := s.lockRepo.ClaimKeys(ctx, lockID, keys); err != nil {
		if errors.Is(err, repository.ErrAccountKeyBusy) {
			return pkgerrors.Wrap(pkgerrors.ErrAccountKeyBusy, err).WithDetail("trade_id", tradeID)
		}
		return err
	}

	if err := s.locks.Create(ctx, lockID, keys, identifier); err != nil {
		if ferr := s.lockRepo.FreeKeys(cleanupCtx, lockID); ferr != nil {
			logger.ErrorCtx(ctx, "free account keys failed", zap.String("lock_id", lockID), zap.Error(ferr))
		}
		return err
	}

	if err := s.tradeRepo.Transition(ctx, tradeID, trade.Status,
		map[string]interface{}{"release_lock_id": lockID}); err != nil {
		s.locks.Abandon(cleanupCtx, lockID, identifier, "trade changed during settlement")
		return conflictError(err, trade)
	}

	if err := s.locks.AwaitLocked(ctx, lockID, s.cfg.LockConfirmTimeout); err != nil {
		logger.WarnCtx(ctx, "balance lock not confirmed, release aborted",
			zap.String("lock_id", lockID),
			zap.Error(err))
		s.locks.Abandon(cleanupCtx, lockID, identifier, truncate(err.Error(), maxReasonLen))
		return err
	}

	if err := s.locks.Transfer(ctx, identifier, lockID, settlementTransfers(trade)); err != nil {
		s.locks.Abandon(cleanupCtx, lockID, identifier, "transfer request not delivered")
		return err
	}

	fields := map[string]interface{}{
		"released_at":     s.now().UnixMilli(),
		"transfer_status": model.TransferStatusRequested,
	}
	if trade.Status == model.TradeStatusDisputed {
		fields["dispute_resolution"] = resolutionRelease
	}
	err = s.apply(cleanupCtx, trade, tr, fields, "", func(txCtx context.Context) error {
		return s.locks.EnqueueUnlock(txCtx, lockID, identifier)
	})
	if err != nil {
		// 划转已发出，交易状态由 transaction_result 对账
		logger.ErrorCtx(ctx, "release commit failed after transfer requested",
			zap.String("lock_id", lockID),
			zap.Error(err))
		s.locks.Abandon(cleanupCtx, lockID, identifier, "release commit failed")
		return err
	}
	return nil
}

func (s *tradeService) SweepTimeouts(ctx context.Context, now time.Time) (int, int, error) {
	var errs []error
	cancelled, disputed := 0, 0

	unpaid, err := s.tradeRepo.ListUnpaidExpired(ctx, now.UnixMilli(), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, trade := range unpaid {
		err := s.cancel(ctx, trade.TradeID, SystemActor(), EventTimeoutUnpaid, "payment timeout", true)
		if s.sweepResult("cancel", trade.TradeID, err, &errs) {
			cancelled++
		}
	}

	paid, err := s.tradeRepo.ListPaidExpired(ctx, now.UnixMilli(), s.cfg.SweepBatchSize)
	if err != nil {
		return cancelled, 0, err
	}
	for _, trade := range paid {
		err := s.dispute(ctx, trade.TradeID, SystemActor(), EventTimeoutPaid, "release timeout")
		if s.sweepResult("dispute", trade.TradeID, err, &errs) {
			disputed++
		}
	}

	if cancelled > 0 || disputed > 0 {
		logger.Info("trade timeouts swept",
			zap.Int("cancelled", cancelled),
			zap.Int("disputed", disputed))
	}
	return cancelled, disputed, errors.Join(errs...)
}

// sweepResult 并发扫描或用户操作抢先时跳过
func (s *tradeService) sweepResult(action, tradeID string, err error, errs *[]error) bool {
	switch {
	case err == nil:
		metrics.RecordSweeperAction(action, "applied")
		return true
	case errors.Is(err, repository.ErrOptimisticLock), pkgerrors.IsBusiness(err):
		metrics.RecordSweeperAction(action, "skipped")
		logger.Debug("sweep skipped, trade already moved",
			zap.String("trade_id", tradeID),
			zap.String("action", action),
			zap.Error(err))
	default:
		metrics.RecordSweeperAction(action, "failed")
		logger.Error("sweep action failed",
			zap.String("trade_id", tradeID),
			zap.String("action", action),
			zap.Error(err))
		*errs = append(*errs, fmt.Errorf("%s %s: %w", action, tradeID, err))
	}
	return false
}

func (s *tradeService) ApplyEngineUpdate(ctx context.Context, tradeID, status, reason string) error {
	switch status {
	case EngineTradeEscrowLocked, EngineTradeUnpaid:
		return s.Activate(ctx, tradeID)

	case EngineTradeCancelled:
		// 引擎侧取消已自行处理托管
		err := s.cancel(ctx, tradeID, SystemActor(), EventCancel, reasonOr(reason, "cancelled by engine"), false)
		if pkgerrors.Is(err, pkgerrors.ErrTradeAlreadyCancelled) {
			return nil
		}
		return err

	case EngineTradeDisputed:
		trade, err := s.GetTrade(ctx, tradeID)
		if err != nil {
			return err
		}
		if trade.Status == model.TradeStatusDisputed {
			return nil
		}
		return s.dispute(ctx, tradeID, SystemActor(), EventDispute, reasonOr(reason, "disputed by engine"))
	}

	return pkgerrors.ErrUnsupportedEventAction.
		WithDetail("trade_id", tradeID).
		WithDetail("status", status)
}

func (s *tradeService) HandleTransferResponse(ctx context.Context, tradeID string, accepted bool, reason string) error {
	to := model.TransferStatusAccepted
	if !accepted {
		to = model.TransferStatusRejected
		logger.ErrorCtx(logger.WithTrade(ctx, tradeID), "transfer request rejected by engine",
			zap.String("reason", reason))
	}
	err := s.tradeRepo.UpdateTransferStatus(ctx, tradeID, []model.TransferStatus{model.TransferStatusRequested}, to)
	if errors.Is(err, repository.ErrOptimisticLock) {
		return nil
	}
	return err
}

func (s *tradeService) HandleTransferResult(ctx context.Context, tradeID string, success bool, reason string) error {
	trade, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}

	if !success {
		logger.ErrorCtx(logger.WithTrade(ctx, tradeID), "trade transfer failed",
			zap.String("status", string(trade.Status)),
			zap.String("reason", reason))
		err := s.tradeRepo.UpdateTransferStatus(ctx, tradeID,
			[]model.TransferStatus{model.TransferStatusRequested, model.TransferStatusAccepted}, model.TransferStatusFailed)
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil
		}
		return err
	}

	if trade.Status == model.TradeStatusPaid || trade.Status == model.TradeStatusDisputed {
		// 划转已成功但本地提交失败，补记放币
		return s.reconcileRelease(ctx, trade)
	}

	err = s.tradeRepo.UpdateTransferStatus(ctx, tradeID,
		[]model.TransferStatus{model.TransferStatusNone, model.TransferStatusRequested, model.TransferStatusAccepted},
		model.TransferStatusSucceeded)
	if errors.Is(err, repository.ErrOptimisticLock) {
		return nil
	}
	return err
}

func (s *tradeService) reconcileRelease(ctx context.Context, trade *model.Trade) error {
	tr, ok := NextTradeState(trade.Status, EventRelease)
	if !ok {
		return nil
	}
	logger.WarnCtx(logger.WithTrade(ctx, trade.TradeID), "reconciling release from transfer result",
		zap.String("status", string(trade.Status)))

	fields := map[string]interface{}{
		"released_at":     s.now().UnixMilli(),
		"transfer_status": model.TransferStatusSucceeded,
	}
	if trade.Status == model.TradeStatusDisputed {
		fields["dispute_resolution"] = resolutionRelease
	}
	return s.apply(ctx, trade, tr, fields, "", func(txCtx context.Context) error {
		if trade.ReleaseLockID == "" {
			return nil
		}
		return s.locks.EnqueueUnlock(txCtx, trade.ReleaseLockID, trade.Identifier())
	})
}

// apply 在一个事务内完成状态条件更新及附带动作
func (s *tradeService) apply(ctx context.Context, trade *model.Trade, tr Transition, fields map[string]interface{}, reason string, extra ...func(ctx context.Context) error) error {
	ctx = logger.WithTrade(ctx, trade.TradeID)
	fields["status"] = tr.To
	next := *trade
	next.Status = tr.To

	err := s.txManager.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.tradeRepo.Transition(txCtx, trade.TradeID, tr.From, fields); err != nil {
			return err
		}
		for _, effect := range tr.Effects {
			if err := s.runEffect(txCtx, &next, tr, effect, reason); err != nil {
				return err
			}
		}
		for _, fn := range extra {
			if err := fn(txCtx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return conflictError(err, trade)
	}

	metrics.RecordTradeTransition(string(tr.From), string(tr.To), string(tr.Event))
	logger.InfoCtx(ctx, "trade transitioned",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("event", string(tr.Event)),
		zap.Int64("version", trade.Version+1))
	return nil
}

func (s *tradeService) runEffect(ctx context.Context, trade *model.Trade, tr Transition, effect SideEffect, reason string) error {
	switch effect {
	case EffectPayableMoneySent:
		return s.payables.MarkMoneySent(ctx, trade)
	case EffectPayableProcessed:
		return s.payables.Settle(ctx, trade)
	case EffectUnwindPayable:
		if err := s.payables.Unwind(ctx, trade); err != nil {
			if !pkgerrors.IsBusiness(err) {
				return err
			}
			// payable 状态异常不阻塞取消
			logger.Warn("unwind payable skipped",
				zap.String("trade_id", trade.TradeID),
				zap.String("payable_id", trade.PayableID),
				zap.Error(err))
		}
		return nil
	case EffectRefundEscrow:
		refund, err := newEscrowMessage(trade, kafka.ActionRefund)
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, refund)
	case EffectPublishTradeEvent:
		return s.enqueueTradeEvent(ctx, trade, tr.From, tr.Event, reason)
	}
	// 计时器与资金结算由调用方通过字段与锁流程完成
	return nil
}

func (s *tradeService) enqueueTradeEvent(ctx context.Context, trade *model.Trade, from model.TradeStatus, event TradeEvent, reason string) error {
	msg, err := newTradeEventMessage(trade, from, event, reason)
	if err != nil {
		return err
	}
	return s.outboxRepo.Create(ctx, msg)
}

func (s *tradeService) withSettleLock(ctx context.Context, tradeID string, fn func(ctx context.Context) error) error {
	if s.settleLocker == nil {
		return fn(ctx)
	}
	err := s.settleLocker.WithLock(ctx, "settle:"+tradeID, fn)
	if errors.Is(err, lock.ErrLockAcquireFailed) {
		return pkgerrors.ErrSettlementInProgress.WithDetail("trade_id", tradeID)
	}
	return err
}

// settlementAccountKeys 放币涉及的账户: 卖方、买方与本交易托管子账户
func settlementAccountKeys(trade *model.Trade) []string {
	return []string{
		model.CoinAccountKey(trade.SellerID, trade.Coin),
		model.CoinAccountKey(trade.BuyerID, trade.Coin),
		model.TradeEscrowAccountKey(trade.Coin, trade.TradeID),
	}
}

// settlementTransfers 托管 → 买方 (扣除手续费)，托管 → 手续费账户
func settlementTransfers(trade *model.Trade) []FundTransfer {
	escrow := model.TradeEscrowAccountKey(trade.Coin, trade.TradeID)
	transfers := []FundTransfer{{
		FromAccountKey: escrow,
		ToAccountKey:   model.CoinAccountKey(trade.BuyerID, trade.Coin),
		Coin:           trade.Coin,
		Amount:         trade.ReleaseAmount(),
	}}
	if trade.Fee.IsPositive() {
		transfers = append(transfers, FundTransfer{
			FromAccountKey: escrow,
			ToAccountKey:   model.FeeAccountKey(trade.Coin),
			Coin:           trade.Coin,
			Amount:         trade.Fee,
		})
	}
	return transfers
}

// conflictError 条件更新未命中说明交易已被其他流程推进
func conflictError(err error, trade *model.Trade) error {
	if errors.Is(err, repository.ErrOptimisticLock) {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidTransition, err).
			WithDetail("trade_id", trade.TradeID).
			WithDetail("status", string(trade.Status))
	}
	return err
}

// truncate 按字节上限截断，不拆分多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
