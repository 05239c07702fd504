package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/eidos-exchange/eidos-p2p/pkg/errors"
)

// MockProducer 模拟生产者
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) SendWithContext(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func TestDeadLetterPublisher_Publish(t *testing.T) {
	producer := new(MockProducer)
	pub := NewDeadLetterPublisher(producer)

	var sent []byte
	producer.On("SendWithContext", mock.Anything, "trade_update.dlq", []byte("trade-T1"), mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(3).([]byte) }).
		Return(nil).Once()

	payload := []byte(`{"eventId":"evt-1","identifier":"trade-T1","status":"cancelled"}`)
	cause := pkgerrors.Wrap(pkgerrors.ErrInvalidTransition, errors.New("trade already released"))

	require.NoError(t, pub.Publish(context.Background(), TopicTradeUpdate, payload, cause))
	producer.AssertExpectations(t)

	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(sent, &msg))
	assert.JSONEq(t, string(payload), string(msg["original_message"]))

	var dlErr DeadLetterError
	require.NoError(t, json.Unmarshal(msg["error"], &dlErr))
	assert.Contains(t, dlErr.Message, "INVALID_STATE_TRANSITION")
	assert.NotEmpty(t, dlErr.Backtrace)
	assert.LessOrEqual(t, len(dlErr.Backtrace), 5)
	assert.Positive(t, dlErr.Timestamp)
}

func TestDeadLetterPublisher_GeneratedKey(t *testing.T) {
	producer := new(MockProducer)
	pub := NewDeadLetterPublisher(producer)

	var key []byte
	producer.On("SendWithContext", mock.Anything, "balance_update.dlq", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { key = args.Get(2).([]byte) }).
		Return(nil).Once()

	require.NoError(t, pub.Publish(context.Background(), TopicBalanceUpdate, []byte(`{"eventId":"evt-1"}`), errors.New("plain")))

	_, err := uuid.Parse(string(key))
	assert.NoError(t, err, "key should be a generated uuid")
}

func TestDeadLetterPublisher_ProducerError(t *testing.T) {
	producer := new(MockProducer)
	pub := NewDeadLetterPublisher(producer)
	producer.On("SendWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker unavailable"))

	err := pub.Publish(context.Background(), TopicOfferUpdate, []byte(`{}`), errors.New("x"))
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrMQPublish))
}

func TestBuildDeadLetter_NonJSONPayload(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	msg := BuildDeadLetter([]byte("not-json"), errors.New("bad"), now)

	assert.JSONEq(t, `"not-json"`, string(msg.OriginalMessage))
	assert.Equal(t, "bad", msg.Error.Message)
	assert.Equal(t, int64(1700000000000), msg.Error.Timestamp)
	assert.LessOrEqual(t, len(msg.Error.Backtrace), 5)
}
