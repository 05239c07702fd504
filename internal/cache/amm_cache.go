package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// AMM 快照 key: eidos:p2p:amm:{kind}:{id}
const ammKeyPattern = "eidos:p2p:amm:%s:%s"

// AMMKind 快照类别
type AMMKind string

const (
	AMMPool     AMMKind = "pool"
	AMMPosition AMMKind = "position"
	AMMOrder    AMMKind = "order"
	AMMTick     AMMKind = "tick"
)

var ErrSnapshotNotFound = errors.New("amm snapshot not found")

// AMMSnapshot 原样保存引擎推送的状态
type AMMSnapshot struct {
	Kind      AMMKind
	ID        string
	Data      json.RawMessage
	UpdatedAt int64
}

// AMMCache AMM 状态投影
type AMMCache interface {
	Apply(ctx context.Context, snap *AMMSnapshot) (bool, error)
	Get(ctx context.Context, kind AMMKind, id string) (*AMMSnapshot, error)
}

type ammCache struct {
	rdb redis.UniversalClient
}

// NewAMMCache 创建 AMM 缓存
func NewAMMCache(rdb redis.UniversalClient) AMMCache {
	return &ammCache{rdb: rdb}
}

func ammKey(kind AMMKind, id string) string {
	return fmt.Sprintf(ammKeyPattern, kind, id)
}

func (c *ammCache) Apply(ctx context.Context, snap *AMMSnapshot) (bool, error) {
	if snap.ID == "" {
		return false, fmt.Errorf("apply amm %s: empty id", snap.Kind)
	}
	res, err := luaApplySnapshot.Run(ctx, c.rdb, []string{ammKey(snap.Kind, snap.ID)},
		string(snap.Data), snap.UpdatedAt).Int()
	if err != nil {
		return false, fmt.Errorf("apply amm %s %s: %w", snap.Kind, snap.ID, err)
	}
	return res == 1, nil
}

func (c *ammCache) Get(ctx context.Context, kind AMMKind, id string) (*AMMSnapshot, error) {
	vals, err := c.rdb.HGetAll(ctx, ammKey(kind, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get amm %s %s: %w", kind, id, err)
	}
	if len(vals) == 0 {
		return nil, ErrSnapshotNotFound
	}
	ts, _ := strconv.ParseInt(vals[fieldUpdatedAt], 10, 64)
	return &AMMSnapshot{Kind: kind, ID: id, Data: json.RawMessage(vals["data"]), UpdatedAt: ts}, nil
}
