// Package testutil 测试辅助: 内存 sqlite、miniredis
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
)

var dbSeq atomic.Int64

// AllModels 全部持久化模型
func AllModels() []interface{} {
	return []interface{}{
		&model.StoredEvent{},
		&model.BalanceLock{},
		&model.BalanceLockKey{},
		&model.Trade{},
		&model.Offer{},
		&model.FiatDeposit{},
		&model.FiatWithdrawal{},
		&model.CoinWithdrawal{},
		&model.OutboxMessage{},
	}
}

// NewSQLiteDB 每个测试独立的内存数据库
// 单连接: 并发测试在连接上串行，避免 sqlite 共享缓存的表锁错误
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:p2p_testdb_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(AllModels()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// NewRedis miniredis + go-redis 客户端
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}
