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

// OfferService 广告状态维护
type OfferService interface {
	Get(ctx context.Context, offerID string) (*model.Offer, error)

	// ChangeStatus 迁移广告状态，已处于目标状态时为 no-op
	ChangeStatus(ctx context.Context, offerID string, to model.OfferStatus, reason string) error

	// UpdateEscrow 写入商家托管余额，旧事件被忽略
	UpdateEscrow(ctx context.Context, offerID string, amount decimal.Decimal, eventTime int64) error
}

type offerService struct {
	offerRepo repository.OfferRepository
}

// NewOfferService 创建广告服务
func NewOfferService(offerRepo repository.OfferRepository) OfferService {
	return &offerService{offerRepo: offerRepo}
}

func (s *offerService) Get(ctx context.Context, offerID string) (*model.Offer, error) {
	offer, err := s.offerRepo.GetByOfferID(ctx, offerID)
	if err != nil {
		if errors.Is(err, repository.ErrOfferNotFound) {
			return nil, pkgerrors.ErrOfferNotFound.WithDetail("offer_id", offerID)
		}
		return nil, err
	}
	return offer, nil
}

func (s *offerService) ChangeStatus(ctx context.Context, offerID string, to model.OfferStatus, reason string) error {
	offer, err := s.Get(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.Status == to {
		return nil
	}
	if !offer.Status.CanTransitionTo(to) {
		return pkgerrors.ErrInvalidTransition.
			WithDetail("offer_id", offerID).
			WithDetail("status", string(offer.Status)).
			WithDetail("target", string(to))
	}

	if err := s.offerRepo.UpdateStatus(ctx, offerID, offer.Status, to, reason); err != nil {
		return err
	}

	logger.Info("offer status changed",
		zap.String("offer_id", offerID),
		zap.String("from", string(offer.Status)),
		zap.String("to", string(to)))
	return nil
}

func (s *offerService) UpdateEscrow(ctx context.Context, offerID string, amount decimal.Decimal, eventTime int64) error {
	if amount.IsNegative() {
		return pkgerrors.ErrInvalidAmount.WithDetail("offer_id", offerID)
	}
	if _, err := s.Get(ctx, offerID); err != nil {
		return err
	}

	applied, err := s.offerRepo.UpdateEscrow(ctx, offerID, amount, eventTime)
	if err != nil {
		return err
	}
	if !applied {
		logger.Debug("stale escrow update ignored",
			zap.String("offer_id", offerID),
			zap.Int64("event_time", eventTime))
	}
	return nil
}
