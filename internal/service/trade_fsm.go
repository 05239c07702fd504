package service

import (
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
)

// TradeEvent 触发交易状态迁移的事件
type TradeEvent string

const (
	EventEscrowLocked  TradeEvent = "escrow_locked"  // 引擎确认卖方币已托管
	EventMarkPaid      TradeEvent = "mark_paid"      // 买方声明已付款
	EventRelease       TradeEvent = "release"        // 放币
	EventCancel        TradeEvent = "cancel"         // 取消
	EventDispute       TradeEvent = "dispute"        // 申诉
	EventTimeoutUnpaid TradeEvent = "timeout_unpaid" // 付款超时
	EventTimeoutPaid   TradeEvent = "timeout_paid"   // 放币超时

	// EventCreated 仅用于 trade_event 通知，不参与迁移
	EventCreated TradeEvent = "created"
)

// SideEffect 迁移附带的动作
type SideEffect string

const (
	EffectStartPaymentTimer SideEffect = "start_payment_timer"
	EffectStartReleaseTimer SideEffect = "start_release_timer"
	EffectPayableMoneySent  SideEffect = "payable_money_sent"
	EffectSettleFunds       SideEffect = "settle_funds" // 锁定 → 划转 → 解锁
	EffectPayableProcessed  SideEffect = "payable_processed"
	EffectRefundEscrow      SideEffect = "refund_escrow"
	EffectUnwindPayable     SideEffect = "unwind_payable"
	EffectFreezeTimers      SideEffect = "freeze_timers"
	EffectPublishTradeEvent SideEffect = "publish_trade_event"
)

// Role 操作方在交易中的角色
type Role string

const (
	RoleNone    Role = ""
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleArbiter Role = "arbiter"
	RoleSystem  Role = "system"
)

// Actor 操作方；买卖角色由交易双方推导，仲裁员与系统需显式声明
type Actor struct {
	UserID int64
	Role   Role
}

// UserActor 普通用户
func UserActor(userID int64) Actor {
	return Actor{UserID: userID}
}

// ArbiterActor 仲裁员
func ArbiterActor(userID int64) Actor {
	return Actor{UserID: userID, Role: RoleArbiter}
}

// SystemActor 超时扫描与引擎回报
func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

// RoleOf 操作方在该交易中的角色
func RoleOf(trade *model.Trade, actor Actor) Role {
	switch actor.Role {
	case RoleArbiter, RoleSystem:
		return actor.Role
	}
	switch actor.UserID {
	case 0:
		return RoleNone
	case trade.BuyerID:
		return RoleBuyer
	case trade.SellerID:
		return RoleSeller
	}
	return RoleNone
}

// Transition 迁移结果
type Transition struct {
	From    model.TradeStatus
	Event   TradeEvent
	To      model.TradeStatus
	Effects []SideEffect
	Roles   []Role // 允许触发的角色
}

// HasEffect 是否包含某个动作
func (t Transition) HasEffect(effect SideEffect) bool {
	for _, e := range t.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// Without 去掉某个附带动作
func (t Transition) Without(effect SideEffect) Transition {
	effects := make([]SideEffect, 0, len(t.Effects))
	for _, e := range t.Effects {
		if e != effect {
			effects = append(effects, e)
		}
	}
	t.Effects = effects
	return t
}

type transitionKey struct {
	from  model.TradeStatus
	event TradeEvent
}

var (
	cancelEffects  = []SideEffect{EffectRefundEscrow, EffectUnwindPayable, EffectPublishTradeEvent}
	releaseEffects = []SideEffect{EffectSettleFunds, EffectPayableProcessed, EffectPublishTradeEvent}
	disputeEffects = []SideEffect{EffectFreezeTimers, EffectPublishTradeEvent}
)

// tradeTransitions 交易状态迁移表
// awaiting 阶段托管尚未确认，取消无需退还；迟到的托管确认由 ApplyEngineUpdate 补退
var tradeTransitions = map[transitionKey]Transition{
	{model.TradeStatusAwaiting, EventEscrowLocked}: {
		To:      model.TradeStatusUnpaid,
		Effects: []SideEffect{EffectStartPaymentTimer, EffectPublishTradeEvent},
		Roles:   []Role{RoleSystem},
	},
	{model.TradeStatusAwaiting, EventCancel}: {
		To:      model.TradeStatusCancelled,
		Effects: []SideEffect{EffectUnwindPayable, EffectPublishTradeEvent},
		Roles:   []Role{RoleBuyer, RoleSeller, RoleSystem, RoleArbiter},
	},
	{model.TradeStatusUnpaid, EventMarkPaid}: {
		To:      model.TradeStatusPaid,
		Effects: []SideEffect{EffectStartReleaseTimer, EffectPayableMoneySent, EffectPublishTradeEvent},
		Roles:   []Role{RoleBuyer},
	},
	{model.TradeStatusUnpaid, EventCancel}: {
		To:      model.TradeStatusCancelled,
		Effects: cancelEffects,
		Roles:   []Role{RoleBuyer, RoleSystem, RoleArbiter},
	},
	{model.TradeStatusUnpaid, EventTimeoutUnpaid}: {
		To:      model.TradeStatusCancelled,
		Effects: cancelEffects,
		Roles:   []Role{RoleSystem},
	},
	{model.TradeStatusPaid, EventRelease}: {
		To:      model.TradeStatusReleased,
		Effects: releaseEffects,
		Roles:   []Role{RoleSeller},
	},
	{model.TradeStatusPaid, EventCancel}: {
		To:      model.TradeStatusCancelled,
		Effects: cancelEffects,
		Roles:   []Role{RoleBuyer},
	},
	{model.TradeStatusPaid, EventDispute}: {
		To:      model.TradeStatusDisputed,
		Effects: disputeEffects,
		Roles:   []Role{RoleBuyer, RoleSeller, RoleSystem},
	},
	{model.TradeStatusPaid, EventTimeoutPaid}: {
		To:      model.TradeStatusDisputed,
		Effects: disputeEffects,
		Roles:   []Role{RoleSystem},
	},
	{model.TradeStatusDisputed, EventRelease}: {
		To:      model.TradeStatusReleased,
		Effects: releaseEffects,
		Roles:   []Role{RoleArbiter},
	},
	{model.TradeStatusDisputed, EventCancel}: {
		To:      model.TradeStatusCancelled,
		Effects: cancelEffects,
		Roles:   []Role{RoleArbiter},
	},
}

// NextTradeState 查表，不做角色校验
func NextTradeState(from model.TradeStatus, event TradeEvent) (Transition, bool) {
	tr, ok := tradeTransitions[transitionKey{from, event}]
	if !ok {
		return Transition{}, false
	}
	tr.From = from
	tr.Event = event
	return tr, true
}

// Authorize 校验迁移是否合法且操作方有权触发
func Authorize(trade *model.Trade, actor Actor, event TradeEvent) (Transition, error) {
	switch {
	case trade.Status == model.TradeStatusCancelled && (event == EventCancel || event == EventTimeoutUnpaid):
		return Transition{}, pkgerrors.ErrTradeAlreadyCancelled.WithDetail("trade_id", trade.TradeID)
	case trade.Status == model.TradeStatusReleased && event == EventRelease:
		return Transition{}, pkgerrors.ErrTradeAlreadyReleased.WithDetail("trade_id", trade.TradeID)
	}

	tr, ok := NextTradeState(trade.Status, event)
	if !ok {
		return Transition{}, pkgerrors.ErrInvalidTransition.
			WithDetail("trade_id", trade.TradeID).
			WithDetail("status", string(trade.Status)).
			WithDetail("event", string(event))
	}

	role := RoleOf(trade, actor)
	for _, r := range tr.Roles {
		if r == role {
			return tr, nil
		}
	}
	return Transition{}, pkgerrors.ErrNotPermitted.
		WithDetail("trade_id", trade.TradeID).
		WithDetail("role", string(role)).
		WithDetail("event", string(event))
}

// CanMarkPaid 买方声明付款
func CanMarkPaid(trade *model.Trade, actor Actor) error {
	_, err := Authorize(trade, actor, EventMarkPaid)
	return err
}

// CanRelease 卖方放币或仲裁放币
func CanRelease(trade *model.Trade, actor Actor) error {
	_, err := Authorize(trade, actor, EventRelease)
	return err
}

// CanCancel 取消交易
func CanCancel(trade *model.Trade, actor Actor) error {
	_, err := Authorize(trade, actor, EventCancel)
	return err
}

// CanDispute 发起申诉
func CanDispute(trade *model.Trade, actor Actor) error {
	_, err := Authorize(trade, actor, EventDispute)
	return err
}
