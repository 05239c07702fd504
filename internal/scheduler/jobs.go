package scheduler

import (
	"context"
	"time"
)

// TimeoutSweeper 交易超时处理 (由 TradeService 实现)
type TimeoutSweeper interface {
	SweepTimeouts(ctx context.Context, now time.Time) (cancelled, disputed int, err error)
}

// SweepTimeoutsJob 付款超时取消、放币超时申诉
type SweepTimeoutsJob struct {
	BaseJob
	sweeper TimeoutSweeper
	now     func() time.Time
}

// NewSweepTimeoutsJob 创建超时扫描任务
func NewSweepTimeoutsJob(sweeper TimeoutSweeper, timeout, lockTTL time.Duration) *SweepTimeoutsJob {
	return &SweepTimeoutsJob{
		BaseJob: NewBaseJob(JobNameSweepTimeouts, timeout, lockTTL),
		sweeper: sweeper,
		now:     time.Now,
	}
}

// Execute 执行扫描，部分失败时返回已完成的计数与错误
func (j *SweepTimeoutsJob) Execute(ctx context.Context) (*JobResult, error) {
	cancelled, disputed, err := j.sweeper.SweepTimeouts(ctx, j.now())
	return &JobResult{
		AffectedCount: cancelled + disputed,
		Details: map[string]interface{}{
			"cancelled": cancelled,
			"disputed":  disputed,
		},
	}, err
}

// OutboxMaintainer outbox 维护 (由 OutboxRelay 实现)
type OutboxMaintainer interface {
	Maintain(ctx context.Context) error
}

// OutboxMaintenanceJob 恢复卡住的消息并清理已发送消息
type OutboxMaintenanceJob struct {
	BaseJob
	maintainer OutboxMaintainer
}

// NewOutboxMaintenanceJob 创建 outbox 维护任务
func NewOutboxMaintenanceJob(maintainer OutboxMaintainer, timeout, lockTTL time.Duration) *OutboxMaintenanceJob {
	return &OutboxMaintenanceJob{
		BaseJob:    NewBaseJob(JobNameOutboxMaintenance, timeout, lockTTL),
		maintainer: maintainer,
	}
}

func (j *OutboxMaintenanceJob) Execute(ctx context.Context) (*JobResult, error) {
	return nil, j.maintainer.Maintain(ctx)
}
