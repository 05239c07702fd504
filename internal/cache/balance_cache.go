// Package cache 引擎推送的余额与 AMM 状态投影
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// 余额投影 key: eidos:p2p:balance:{account_key}
const balanceKeyPattern = "eidos:p2p:balance:%s"

const (
	fieldAvailable = "available"
	fieldLocked    = "locked"
	fieldUpdatedAt = "updated_at"
	fieldEventID   = "event_id"
	fieldApplied   = "applied"
)

var ErrBalanceNotFound = errors.New("balance snapshot not found")

// BalanceSnapshot 账户余额快照 (以引擎为准，本地只读)
type BalanceSnapshot struct {
	AccountKey string
	Available  decimal.Decimal
	Locked     decimal.Decimal
	UpdatedAt  int64
	EventID    string
	Applied    int64 // 生效次数
}

// Total 可用 + 锁定
func (b *BalanceSnapshot) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// BalanceCache 余额快照缓存
type BalanceCache interface {
	// Apply 写入快照，返回 false 表示快照比已有数据旧
	Apply(ctx context.Context, snap *BalanceSnapshot) (bool, error)
	Get(ctx context.Context, accountKey string) (*BalanceSnapshot, error)
}

type balanceCache struct {
	rdb redis.UniversalClient
}

// NewBalanceCache 创建余额缓存
func NewBalanceCache(rdb redis.UniversalClient) BalanceCache {
	return &balanceCache{rdb: rdb}
}

func balanceKey(accountKey string) string {
	return fmt.Sprintf(balanceKeyPattern, accountKey)
}

func (c *balanceCache) Apply(ctx context.Context, snap *BalanceSnapshot) (bool, error) {
	if snap.AccountKey == "" {
		return false, fmt.Errorf("apply balance: empty account key")
	}
	res, err := luaApplyBalance.Run(ctx, c.rdb, []string{balanceKey(snap.AccountKey)},
		snap.Available.String(), snap.Locked.String(), snap.UpdatedAt, snap.EventID).Int()
	if err != nil {
		return false, fmt.Errorf("apply balance %s: %w", snap.AccountKey, err)
	}
	return res == 1, nil
}

func (c *balanceCache) Get(ctx context.Context, accountKey string) (*BalanceSnapshot, error) {
	vals, err := c.rdb.HGetAll(ctx, balanceKey(accountKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", accountKey, err)
	}
	if len(vals) == 0 {
		return nil, ErrBalanceNotFound
	}

	snap := &BalanceSnapshot{AccountKey: accountKey, EventID: vals[fieldEventID]}
	if snap.Available, err = decimal.NewFromString(vals[fieldAvailable]); err != nil {
		return nil, fmt.Errorf("parse available: %w", err)
	}
	if snap.Locked, err = decimal.NewFromString(vals[fieldLocked]); err != nil {
		return nil, fmt.Errorf("parse locked: %w", err)
	}
	snap.UpdatedAt, _ = strconv.ParseInt(vals[fieldUpdatedAt], 10, 64)
	snap.Applied, _ = strconv.ParseInt(vals[fieldApplied], 10, 64)
	return snap, nil
}
