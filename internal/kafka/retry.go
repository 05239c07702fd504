package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/metrics"
	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
	"go.uber.org/zap"
)

// RetryableError 可重试的错误
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError 创建可重试错误
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError 创建不可重试错误
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable 检查错误是否可重试
// 显式标记优先；领域规则错误与消息格式错误重试无意义；其余按基础设施故障处理
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return retryErr.Retryable
	}
	if errors.Is(err, ErrMalformedPayload) || pkgerrors.IsBusiness(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts    int           // 总尝试次数 (含首次)
	InitialBackoff time.Duration // 初始退避时间
	Multiplier     float64       // 退避因子
	MaxBackoff     time.Duration // 最大退避时间
	Jitter         float64       // 随机因子 0 ~ 1
	MaxElapsed     time.Duration // 单条消息重试总时长上限
}

// DefaultRetryConfig 默认重试配置
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Second,
		Jitter:         0.2,
		MaxElapsed:     30 * time.Second,
	}
}

// RetryConfigFrom 从服务配置构造
func RetryConfigFrom(cfg config.RetryConfig) *RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.Multiplier >= 1 {
		rc.Multiplier = cfg.Multiplier
	}
	if cfg.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Jitter >= 0 && cfg.Jitter <= 1 {
		rc.Jitter = cfg.Jitter
	}
	if cfg.MaxElapsedMs > 0 {
		rc.MaxElapsed = time.Duration(cfg.MaxElapsedMs) * time.Millisecond
	}
	return rc
}

// RetryCoordinator 有界指数退避重试
type RetryCoordinator struct {
	cfg *RetryConfig
}

// NewRetryCoordinator 创建重试协调器
func NewRetryCoordinator(cfg *RetryConfig) *RetryCoordinator {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryCoordinator{cfg: cfg}
}

// Config 当前重试配置
func (r *RetryCoordinator) Config() RetryConfig {
	return *r.cfg
}

func (r *RetryCoordinator) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialBackoff
	eb.Multiplier = r.cfg.Multiplier
	eb.MaxInterval = r.cfg.MaxBackoff
	eb.RandomizationFactor = r.cfg.Jitter
	eb.MaxElapsedTime = r.cfg.MaxElapsed

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxAttempts-1)), ctx)
}

// Execute 执行 fn，可重试错误按退避策略重试
// 耗尽或遇到不可重试错误时返回最后一次错误；ctx 取消立即停止等待
func (r *RetryCoordinator) Execute(ctx context.Context, topic string, fn func(ctx context.Context) error) error {
	var lastErr error
	attempt := 0

	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			metrics.RecordRetry(topic, "permanent")
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.RecordRetry(topic, "retry")
		logger.Warn("event handling failed, retrying",
			zap.String("topic", topic),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, r.newBackOff(ctx), notify)
	if err == nil {
		return nil
	}

	if lastErr == nil {
		// fn 未执行即被取消
		return err
	}
	if IsRetryable(lastErr) {
		metrics.RecordRetry(topic, "exhausted")
		logger.Error("event handling retries exhausted",
			zap.String("topic", topic),
			zap.Int("attempts", attempt),
			zap.Error(lastErr))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, lastErr)
	}
	return lastErr
}
