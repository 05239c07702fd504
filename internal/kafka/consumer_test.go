package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	topic string
	ch    chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func newClaim(topic string, offsets ...int64) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(offsets))
	for _, off := range offsets {
		ch <- &sarama.ConsumerMessage{Topic: topic, Offset: off, Value: []byte(`{}`), Timestamp: time.Now()}
	}
	close(ch)
	return &fakeClaim{topic: topic, ch: ch}
}

func TestClaimHandler_MarksOnlyOnSuccess(t *testing.T) {
	var seen []int64
	h := &claimHandler{
		topic: TopicBalanceUpdate,
		handler: HandlerFunc(func(ctx context.Context, msg *Message) error {
			seen = append(seen, msg.Offset)
			if msg.Offset == 2 {
				return errors.New("db down")
			}
			return nil
		}),
	}
	session := &fakeSession{ctx: context.Background()}

	err := h.ConsumeClaim(session, newClaim(TopicBalanceUpdate, 0, 1, 2, 3))
	require.Error(t, err)

	assert.Equal(t, []int64{0, 1, 2}, seen, "handling stops at the failing message")
	assert.Equal(t, []int64{0, 1}, session.marked)
	assert.True(t, h.lastFailed())

	require.NoError(t, h.Setup(session))
	assert.False(t, h.lastFailed())
}

func TestClaimHandler_StopsOnSessionDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &claimHandler{topic: TopicOfferUpdate, handler: HandlerFunc(func(ctx context.Context, msg *Message) error {
		return nil
	})}
	claim := &fakeClaim{topic: TopicOfferUpdate, ch: make(chan *sarama.ConsumerMessage)}

	assert.NoError(t, h.ConsumeClaim(&fakeSession{ctx: ctx}, claim))
}

func TestSaramaSubscriber_GroupPerTopic(t *testing.T) {
	s, err := NewSaramaSubscriber(ConsumerConfigFrom(config.KafkaConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "eidos-p2p",
		Consumer: config.ConsumerConfig{
			InitialOffset:    "oldest",
			SessionTimeoutMs: 6000,
		},
	}))
	require.NoError(t, err)
	assert.False(t, s.saramaCfg.Net.SASL.Enable)

	assert.Equal(t, "eidos-p2p.trade_update", s.GroupID(TopicTradeUpdate))
	assert.Equal(t, sarama.OffsetOldest, s.cfg.InitialOffset)
	assert.Equal(t, 6*time.Second, s.cfg.SessionTimeout)

	require.NoError(t, s.Close())
	err = s.Subscribe(context.Background(), TopicTradeUpdate, HandlerFunc(func(ctx context.Context, msg *Message) error { return nil }))
	assert.Error(t, err, "closed subscriber rejects new subscriptions")
}
