// Package scheduler 定时任务调度: 超时扫描、outbox 维护
package scheduler

import (
	"context"
	"time"
)

// Job 任务接口
type Job interface {
	// Name 任务名称，同时作为分布式锁 key
	Name() string
	// Execute 执行任务
	Execute(ctx context.Context) (*JobResult, error)
	// Timeout 任务超时时间
	Timeout() time.Duration
	// LockTTL 锁的 TTL，0 表示无需分布式锁
	LockTTL() time.Duration
}

// JobResult 任务执行结果
type JobResult struct {
	ProcessedCount int
	AffectedCount  int
	Details        map[string]interface{}
}

// BaseJob 基础任务实现
type BaseJob struct {
	name    string
	timeout time.Duration
	lockTTL time.Duration
}

// NewBaseJob 创建基础任务
func NewBaseJob(name string, timeout, lockTTL time.Duration) BaseJob {
	return BaseJob{
		name:    name,
		timeout: timeout,
		lockTTL: lockTTL,
	}
}

func (j BaseJob) Name() string           { return j.name }
func (j BaseJob) Timeout() time.Duration { return j.timeout }
func (j BaseJob) LockTTL() time.Duration { return j.lockTTL }

// 任务名称
const (
	JobNameSweepTimeouts     = "sweep-timeouts"
	JobNameOutboxMaintenance = "outbox-maintenance"
)
