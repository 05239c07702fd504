package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/pkg/logger"
)

// Handler 消息处理器
// 返回 nil 才会标记 offset；返回错误时消息会从上次提交位置重新投递
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc 函数适配
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Subscriber 单 topic 订阅
type Subscriber interface {
	// Subscribe 阻塞消费 topic 直到 ctx 结束
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	ClientID       string
	InitialOffset  int64         // sarama.OffsetNewest / OffsetOldest
	SessionTimeout time.Duration // 默认 10s
	RejoinBackoff  time.Duration // 会话异常退出后重新加入前等待
	SASL           *SASLConfig
	TLS            *TLSConfig
}

// ConsumerConfigFrom 从服务配置构造
func ConsumerConfigFrom(cfg config.KafkaConfig) *ConsumerConfig {
	cc := &ConsumerConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		ClientID:       cfg.ClientID,
		InitialOffset:  sarama.OffsetNewest,
		SessionTimeout: 10 * time.Second,
		RejoinBackoff:  time.Second,
	}
	if cfg.Consumer.InitialOffset == "oldest" {
		cc.InitialOffset = sarama.OffsetOldest
	}
	if cfg.Consumer.SessionTimeoutMs > 0 {
		cc.SessionTimeout = time.Duration(cfg.Consumer.SessionTimeoutMs) * time.Millisecond
	}
	cc.SASL, cc.TLS = securityFrom(cfg)
	return cc
}

// SaramaSubscriber 每个 topic 使用独立的消费者组，互不阻塞重平衡
type SaramaSubscriber struct {
	cfg       *ConsumerConfig
	saramaCfg *sarama.Config
	newGroup  func(groupID string) (sarama.ConsumerGroup, error)

	mu     sync.Mutex
	groups []sarama.ConsumerGroup
	closed bool
}

// NewSaramaSubscriber 创建订阅器
func NewSaramaSubscriber(cfg *ConsumerConfig) (*SaramaSubscriber, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	saramaCfg.Consumer.Group.Session.Timeout = cfg.SessionTimeout
	saramaCfg.Consumer.Offsets.Initial = cfg.InitialOffset
	saramaCfg.Consumer.Return.Errors = true
	// 仅 MarkMessage 过的 offset 会被自动提交
	saramaCfg.Consumer.Offsets.AutoCommit.Enable = true

	if err := applySecurity(saramaCfg, cfg.SASL, cfg.TLS); err != nil {
		return nil, err
	}

	return &SaramaSubscriber{
		cfg:       cfg,
		saramaCfg: saramaCfg,
		newGroup: func(groupID string) (sarama.ConsumerGroup, error) {
			return sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaCfg)
		},
	}, nil
}

// GroupID 某 topic 使用的消费者组
func (s *SaramaSubscriber) GroupID(topic string) string {
	return s.cfg.GroupID + "." + topic
}

// Subscribe 实现 Subscriber
func (s *SaramaSubscriber) Subscribe(ctx context.Context, topic string, handler Handler) error {
	group, err := s.track(topic)
	if err != nil {
		return err
	}

	go func() {
		for err := range group.Errors() {
			logger.Warn("consumer group error", zap.String("topic", topic), zap.Error(err))
		}
	}()

	h := &claimHandler{topic: topic, handler: handler}
	logger.Info("kafka subscriber started",
		zap.String("topic", topic),
		zap.String("group_id", s.GroupID(topic)))

	for {
		// Consume 会在重平衡或 claim 出错时返回，需要循环调用
		if err := group.Consume(ctx, []string{topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Error("consume failed", zap.String("topic", topic), zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
		if h.lastFailed() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.RejoinBackoff):
			}
		}
	}
}

func (s *SaramaSubscriber) track(topic string) (sarama.ConsumerGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("subscribe %s: subscriber closed", topic)
	}
	group, err := s.newGroup(s.GroupID(topic))
	if err != nil {
		return nil, fmt.Errorf("create consumer group for %s: %w", topic, err)
	}
	s.groups = append(s.groups, group)
	return group, nil
}

// Close 关闭全部消费者组
func (s *SaramaSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, g := range s.groups {
		if err := g.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// claimHandler 实现 sarama.ConsumerGroupHandler
type claimHandler struct {
	topic   string
	handler Handler

	mu     sync.Mutex
	failed bool
}

func (h *claimHandler) lastFailed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failed
}

func (h *claimHandler) setFailed(v bool) {
	h.mu.Lock()
	h.failed = v
	h.mu.Unlock()
}

func (h *claimHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.setFailed(false)
	logger.Info("consumer session setup",
		zap.String("topic", h.topic),
		zap.Int32("generation_id", session.GenerationID()),
		zap.String("member_id", session.MemberID()))
	return nil
}

func (h *claimHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	logger.Info("consumer session cleanup",
		zap.String("topic", h.topic),
		zap.Int32("generation_id", session.GenerationID()))
	return nil
}

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			m := &Message{
				Topic:     msg.Topic,
				Key:       msg.Key,
				Value:     msg.Value,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Timestamp: msg.Timestamp.UnixMilli(),
			}

			if err := h.handler.Handle(session.Context(), m); err != nil {
				logger.Error("handle message failed, offset not committed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				h.setFailed(true)
				// 结束本次会话，重新加入后从已提交位置重新投递
				return err
			}

			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
