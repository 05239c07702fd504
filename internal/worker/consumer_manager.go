package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/metrics"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// ConsumerState 消费管理器状态
type ConsumerState string

const (
	ConsumerStopped ConsumerState = "stopped"
	ConsumerRunning ConsumerState = "running"
)

// ErrConsumerRunning 重复启动
var ErrConsumerRunning = errors.New("consumer manager already running")

// ConsumerManagerConfig 消费管理器配置
type ConsumerManagerConfig struct {
	Topics            []string // 为空时订阅全部已注册 topic
	DeadLetterEnabled bool
}

// ConsumerManager 每个 topic 一个消费循环
// 单条消息: 幂等登记、handler、标记已处理在同一事务内完成
type ConsumerManager struct {
	cfg        *ConsumerManagerConfig
	subscriber kafka.Subscriber
	registry   *kafka.Registry
	events     repository.EventRepository
	txManager  repository.TxManager
	retry      *kafka.RetryCoordinator
	dlq        *kafka.DeadLetterPublisher

	mu     sync.Mutex
	state  ConsumerState
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumerManager 创建消费管理器，dlq 为 nil 时只记录失败
func NewConsumerManager(
	cfg *ConsumerManagerConfig,
	subscriber kafka.Subscriber,
	registry *kafka.Registry,
	events repository.EventRepository,
	txManager repository.TxManager,
	retry *kafka.RetryCoordinator,
	dlq *kafka.DeadLetterPublisher,
) *ConsumerManager {
	if cfg == nil {
		cfg = &ConsumerManagerConfig{}
	}
	if retry == nil {
		retry = kafka.NewRetryCoordinator(nil)
	}
	if !cfg.DeadLetterEnabled {
		dlq = nil
	}
	return &ConsumerManager{
		cfg:        cfg,
		subscriber: subscriber,
		registry:   registry,
		events:     events,
		txManager:  txManager,
		retry:      retry,
		dlq:        dlq,
		state:      ConsumerStopped,
	}
}

// State 当前状态
func (m *ConsumerManager) State() ConsumerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start 为每个 topic 启动独立的消费协程
func (m *ConsumerManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == ConsumerRunning {
		return ErrConsumerRunning
	}

	topics, err := m.topics()
	if err != nil {
		return err
	}

	ctx, m.cancel = context.WithCancel(ctx)
	handler := kafka.HandlerFunc(m.ProcessMessage)
	for _, topic := range topics {
		m.wg.Add(1)
		go func(topic string) {
			defer m.wg.Done()
			if err := m.subscriber.Subscribe(ctx, topic, handler); err != nil {
				logger.Error("subscribe topic failed", zap.String("topic", topic), zap.Error(err))
			}
		}(topic)
	}
	m.state = ConsumerRunning

	logger.Info("consumer manager started",
		zap.Strings("topics", topics),
		zap.Bool("dead_letter", m.dlq != nil))
	return nil
}

func (m *ConsumerManager) topics() ([]string, error) {
	if len(m.cfg.Topics) == 0 {
		topics := m.registry.Topics()
		if len(topics) == 0 {
			return nil, fmt.Errorf("start consumer manager: no handler registered")
		}
		return topics, nil
	}
	for _, topic := range m.cfg.Topics {
		if _, ok := m.registry.Lookup(topic); !ok {
			return nil, fmt.Errorf("start consumer manager: no handler for topic %s", topic)
		}
	}
	return m.cfg.Topics, nil
}

// Stop 取消消费循环并等待处理中的消息完成
func (m *ConsumerManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ConsumerRunning {
		return
	}

	m.cancel()
	m.wg.Wait()
	if err := m.subscriber.Close(); err != nil {
		logger.Warn("close subscriber failed", zap.Error(err))
	}
	m.state = ConsumerStopped
	logger.Info("consumer manager stopped")
}

// ProcessMessage 处理单条消息
// 返回 nil 表示 offset 可提交: 成功、重复、无法解析、失败已记录
// 返回错误表示消息需要重新投递
func (m *ConsumerManager) ProcessMessage(ctx context.Context, msg *kafka.Message) error {
	topic := msg.Topic
	handler, ok := m.registry.Lookup(topic)
	if !ok {
		metrics.RecordEvent(topic, "no_handler")
		logger.Warn("no handler registered for topic", zap.String("topic", topic))
		return nil
	}

	payload, err := kafka.DecodePayload(msg.Value)
	if err != nil {
		m.skip(msg, "malformed payload", err)
		return nil
	}
	env, err := kafka.ParseEnvelope(payload)
	if err != nil {
		m.skip(msg, "malformed envelope", err)
		return nil
	}
	eventID := env.CorrelationID()
	if eventID == "" {
		m.skip(msg, "missing event id", nil)
		return nil
	}
	// handler 内的日志同样带上 topic 与 event_id
	ctx = logger.WithEvent(ctx, topic, eventID)

	start := time.Now()
	duplicate := false
	var lastErr error
	err = m.retry.Execute(ctx, topic, func(ctx context.Context) error {
		duplicate = false
		// 事务不随消费会话取消，已开始的处理完整提交或回滚
		lastErr = m.txManager.Transaction(context.WithoutCancel(ctx), func(txCtx context.Context) error {
			ev, exists, err := m.events.TryRegister(txCtx, topic, eventID, payload)
			if err != nil {
				return err
			}
			if exists {
				duplicate = true
				logger.DebugCtx(txCtx, "duplicate event skipped", zap.String("status", string(ev.Status)))
				return nil
			}
			if err := handler.Handle(txCtx, payload); err != nil {
				return err
			}
			return m.events.MarkProcessed(txCtx, ev)
		})
		return lastErr
	})
	metrics.ObserveHandlerLatency(topic, time.Since(start).Seconds())

	if err == nil {
		if duplicate {
			metrics.RecordEvent(topic, "duplicate")
		} else {
			metrics.RecordEvent(topic, "processed")
		}
		return nil
	}

	// 停机打断的可重试失败不落账，重启后重新投递
	if ctx.Err() != nil && (lastErr == nil || kafka.IsRetryable(lastErr)) {
		logger.WarnCtx(ctx, "event handling interrupted by shutdown", zap.Error(err))
		return err
	}

	return m.fail(ctx, msg, topic, eventID, payload, lastErr)
}

func (m *ConsumerManager) fail(ctx context.Context, msg *kafka.Message, topic, eventID string, payload []byte, cause error) error {
	metrics.RecordEvent(topic, "failed")
	logger.ErrorCtx(ctx, "event handling failed",
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Bool("retryable", kafka.IsRetryable(cause)),
		zap.Error(cause))

	ctx = context.WithoutCancel(ctx)
	err := m.txManager.Transaction(ctx, func(txCtx context.Context) error {
		_, err := m.events.RecordFailure(txCtx, topic, eventID, payload, cause)
		return err
	})
	if err != nil {
		logger.ErrorCtx(ctx, "record event failure failed, message will be redelivered", zap.Error(err))
		return fmt.Errorf("record failure of %s/%s: %w", topic, eventID, err)
	}

	if m.dlq != nil {
		// 失败已落账，死信投递失败只记日志
		_ = m.dlq.Publish(ctx, topic, msg.Value, cause)
	}
	return nil
}

func (m *ConsumerManager) skip(msg *kafka.Message, reason string, err error) {
	metrics.RecordEvent(msg.Topic, "skipped")
	logger.Warn("event skipped",
		zap.String("topic", msg.Topic),
		zap.String("reason", reason),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err))
}
