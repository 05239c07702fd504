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

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("producer is closed")

// MessageProducer 出站消息发送接口
type MessageProducer interface {
	SendWithContext(ctx context.Context, topic string, key, value []byte) error
}

// Producer Kafka 同步生产者
// 锁请求与划转指令需要调用方同步感知发送结果，因此不使用异步生产者
type Producer struct {
	producer sarama.SyncProducer
	closed   bool
	mu       sync.RWMutex
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks // 默认 WaitForAll
	MaxRetry     int                 // 默认 3
	RetryBackoff time.Duration       // 默认 100ms
	Timeout      time.Duration       // 默认 5s
	SASL         *SASLConfig         // nil 表示不认证
	TLS          *TLSConfig
}

// DefaultProducerConfig 返回默认生产者配置
func DefaultProducerConfig(brokers []string) *ProducerConfig {
	return &ProducerConfig{
		Brokers:      brokers,
		ClientID:     "eidos-p2p",
		RequiredAcks: sarama.WaitForAll,
		MaxRetry:     3,
		RetryBackoff: 100 * time.Millisecond,
		Timeout:      5 * time.Second,
	}
}

// ProducerConfigFrom 从服务配置构造
func ProducerConfigFrom(cfg config.KafkaConfig) *ProducerConfig {
	pc := DefaultProducerConfig(cfg.Brokers)
	if cfg.ClientID != "" {
		pc.ClientID = cfg.ClientID
	}
	switch cfg.Producer.RequiredAcks {
	case 0:
		pc.RequiredAcks = sarama.NoResponse
	case 1:
		pc.RequiredAcks = sarama.WaitForLocal
	}
	if cfg.Producer.MaxRetry > 0 {
		pc.MaxRetry = cfg.Producer.MaxRetry
	}
	if cfg.Producer.TimeoutMs > 0 {
		pc.Timeout = time.Duration(cfg.Producer.TimeoutMs) * time.Millisecond
	}
	pc.SASL, pc.TLS = securityFrom(cfg)
	return pc
}

// NewProducer 创建同步生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	saramaCfg, err := buildProducerSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create sync producer: %w", err)
	}

	logger.Info("kafka producer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.Bool("sasl", cfg.SASL != nil),
		zap.Bool("tls", cfg.TLS != nil))
	return NewProducerWith(producer), nil
}

func buildProducerSaramaConfig(cfg *ProducerConfig) (*sarama.Config, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID

	saramaCfg.Producer.RequiredAcks = cfg.RequiredAcks
	saramaCfg.Producer.Retry.Max = cfg.MaxRetry
	saramaCfg.Producer.Retry.Backoff = cfg.RetryBackoff
	saramaCfg.Producer.Timeout = cfg.Timeout
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true

	// 按 key 分区，保证同一交易的锁生命周期有序
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	if err := applySecurity(saramaCfg, cfg.SASL, cfg.TLS); err != nil {
		return nil, err
	}
	return saramaCfg, nil
}

// NewProducerWith 包装已有的 sarama 同步生产者
func NewProducerWith(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Send 发送消息
func (p *Producer) Send(topic string, key, value []byte) error {
	return p.SendWithContext(context.Background(), topic, key, value)
}

// SendWithContext 发送消息并等待 broker 确认
func (p *Producer) SendWithContext(ctx context.Context, topic string, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}
