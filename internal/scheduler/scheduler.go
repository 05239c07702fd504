package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/metrics"
	"github.com/eidos-exchange/eidos-p2p/pkg/lock"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// ErrJobSkipped 其他实例持有任务锁或并发已满
var ErrJobSkipped = errors.New("job skipped")

// JobConfig 任务调度配置
type JobConfig struct {
	Cron    string
	Enabled bool
}

// Scheduler 任务调度器
// 分布式锁只用于避免多实例重复扫描，正确性由任务自身的状态 CAS 保证
type Scheduler struct {
	cron          *cron.Cron
	locker        lock.Locker
	jobs          map[string]Job
	jobConfigs    map[string]JobConfig
	mu            sync.RWMutex
	maxConcurrent int
	running       chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewScheduler 创建调度器，locker 为 nil 时不加锁
func NewScheduler(locker lock.Locker, maxConcurrent int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()), // 支持秒级调度
		locker:        locker,
		jobs:          make(map[string]Job),
		jobConfigs:    make(map[string]JobConfig),
		maxConcurrent: maxConcurrent,
		running:       make(chan struct{}, maxConcurrent),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// RegisterJob 注册任务
func (s *Scheduler) RegisterJob(job Job, config JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	s.jobs[job.Name()] = job
	s.jobConfigs[job.Name()] = config

	if !config.Enabled {
		logger.Info("job registered but disabled", zap.String("job", job.Name()))
		return nil
	}

	if _, err := s.cron.AddFunc(config.Cron, func() { _, _ = s.RunJob(job.Name()) }); err != nil {
		delete(s.jobs, job.Name())
		delete(s.jobConfigs, job.Name())
		return fmt.Errorf("failed to add cron job %s: %w", job.Name(), err)
	}

	logger.Info("job registered",
		zap.String("job", job.Name()),
		zap.String("cron", config.Cron))
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started")
}

// Stop 停止调度器，等待执行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}

// RunJob 立即执行任务 (cron 触发与手动触发共用)
func (s *Scheduler) RunJob(name string) (*JobResult, error) {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}

	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		logger.Warn("max concurrent jobs reached, skipping", zap.String("job", name))
		metrics.RecordJobRun(name, "skipped")
		return nil, ErrJobSkipped
	}

	if s.ctx.Err() != nil {
		return nil, s.ctx.Err()
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if s.locker != nil && job.LockTTL() > 0 {
		l := s.locker.NewLock("job:"+name, job.LockTTL())
		acquired, err := l.Acquire(ctx)
		if err != nil {
			metrics.RecordJobRun(name, "failed")
			logger.Error("failed to acquire job lock", zap.String("job", name), zap.Error(err))
			return nil, err
		}
		if !acquired {
			metrics.RecordJobRun(name, "skipped")
			logger.Debug("job is already running on another instance", zap.String("job", name))
			return nil, ErrJobSkipped
		}
		defer func() {
			if err := l.Release(context.Background()); err != nil {
				logger.Warn("failed to release job lock", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	result, err := job.Execute(ctx)
	if err != nil {
		metrics.RecordJobRun(name, "failed")
		logger.Error("job failed",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return result, err
	}

	metrics.RecordJobRun(name, "success")
	fields := []zap.Field{zap.String("job", name), zap.Duration("duration", time.Since(start))}
	if result != nil {
		fields = append(fields,
			zap.Int("processed", result.ProcessedCount),
			zap.Int("affected", result.AffectedCount),
			zap.Any("details", result.Details))
	}
	if result != nil && result.AffectedCount > 0 {
		logger.Info("job completed", fields...)
	} else {
		logger.Debug("job completed", fields...)
	}
	return result, nil
}

// Jobs 已注册任务名
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}
