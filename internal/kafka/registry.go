package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EventHandler 单 topic 的事件处理能力
type EventHandler interface {
	Handle(ctx context.Context, payload []byte) error
}

// EventHandlerFunc 函数适配
type EventHandlerFunc func(ctx context.Context, payload []byte) error

func (f EventHandlerFunc) Handle(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Registry topic → handler 静态映射，启动时注册
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]EventHandler)}
}

// Register 注册 handler，每个 topic 只能有一个
func (r *Registry) Register(topic string, h EventHandler) error {
	if topic == "" {
		return fmt.Errorf("register handler: empty topic")
	}
	if h == nil {
		return fmt.Errorf("register handler for %s: nil handler", topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[topic]; ok {
		return fmt.Errorf("register handler for %s: already registered", topic)
	}
	r.handlers[topic] = h
	return nil
}

// Lookup 查找 topic 对应的 handler
func (r *Registry) Lookup(topic string) (EventHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[topic]
	return h, ok
}

// Topics 已注册 topic (有序)
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
