package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	called := 0
	h := EventHandlerFunc(func(ctx context.Context, payload []byte) error {
		called++
		return nil
	})

	require.NoError(t, reg.Register(TopicTradeUpdate, h))
	require.NoError(t, reg.Register(TopicBalanceUpdate, h))

	err := reg.Register(TopicTradeUpdate, h)
	assert.Error(t, err, "duplicate registration must fail")
	assert.Error(t, reg.Register("", h))
	assert.Error(t, reg.Register(TopicOfferUpdate, nil))

	got, ok := reg.Lookup(TopicTradeUpdate)
	require.True(t, ok)
	require.NoError(t, got.Handle(context.Background(), []byte(`{}`)))
	assert.Equal(t, 1, called)

	_, ok = reg.Lookup("unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{TopicBalanceUpdate, TopicTradeUpdate}, reg.Topics())
}

func TestDeadLetterTopic(t *testing.T) {
	assert.Equal(t, "balance_update.dlq", DeadLetterTopic(TopicBalanceUpdate))
	assert.Len(t, InboundTopics(), 12)
}
