package repository

import (
	"context"
	"errors"
	"unicode/utf8"

	"gorm.io/gorm"
)

var (
	// ErrOptimisticLock 条件更新未命中 (状态已被其他流程修改)
	ErrOptimisticLock = errors.New("optimistic lock conflict")
)

// Repository 基础仓储
// 所有仓储实现都应该嵌入此结构
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// txKey 事务上下文键
type txKey struct{}

// DB 返回数据库连接
// 如果 context 中有事务，返回事务连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction 执行事务
// fn 中的所有数据库操作都在同一事务中执行；ctx 已处于事务中时使用 savepoint 嵌套
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// InTransaction ctx 是否已携带事务
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// TxManager 事务管理
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewTxManager 创建事务管理器
func NewTxManager(db *gorm.DB) TxManager {
	return NewRepository(db)
}

// Pagination 分页参数
type Pagination struct {
	Page     int   // 页码 (从 1 开始)
	PageSize int   // 每页数量
	Total    int64 // 总数 (查询后填充)
}

// Offset 计算偏移量
func (p *Pagination) Offset() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	return (p.Page - 1) * p.PageSize
}

// Limit 返回限制数量
func (p *Pagination) Limit() int {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p.PageSize
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
