package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-p2p/internal/config"
	"github.com/eidos-exchange/eidos-p2p/internal/kafka"
	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/repository"
	"github.com/eidos-exchange/eidos-p2p/internal/testutil"
)

func newOutboxMessage(t *testing.T, db *gorm.DB, topic, key string, maxRetries int) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{
		MessageID:     uuid.NewString(),
		Topic:         topic,
		PartitionKey:  key,
		Payload:       []byte(`{"identifier":"` + key + `"}`),
		AggregateType: model.AggregateTypeTrade,
		AggregateID:   key,
		Status:        model.OutboxStatusPending,
		MaxRetries:    maxRetries,
	}
	require.NoError(t, db.Create(msg).Error)
	return msg
}

func reload(t *testing.T, db *gorm.DB, id int64) *model.OutboxMessage {
	t.Helper()
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, id).Error)
	return &msg
}

func newTestRelay(db *gorm.DB, producer kafka.MessageProducer) *OutboxRelay {
	return NewOutboxRelay(&OutboxRelayConfig{
		RelayInterval:  5 * time.Millisecond,
		BatchSize:      10,
		Retention:      time.Hour,
		StaleThreshold: time.Minute,
	}, repository.NewOutboxRepository(db), producer)
}

func TestOutboxRelayConfigFrom(t *testing.T) {
	cfg := OutboxRelayConfigFrom(config.OutboxConfig{RelayIntervalMs: 50, BatchSize: 20})
	assert.Equal(t, 50*time.Millisecond, cfg.RelayInterval)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, DefaultOutboxRelayConfig().StaleThreshold, cfg.StaleThreshold)
}

func TestOutboxRelay_ProcessBatch(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	producer := new(MockProducer)
	relay := newTestRelay(db, producer)
	ctx := context.Background()

	ok := newOutboxMessage(t, db, kafka.TopicTradeEvent, "trade-T1", 5)
	retry := newOutboxMessage(t, db, kafka.TopicTransactionRequest, "trade-T2", 5)
	last := newOutboxMessage(t, db, kafka.TopicBalanceLockRequest, "trade-T3", 1)

	producer.On("SendWithContext", mock.Anything, kafka.TopicTradeEvent, []byte("trade-T1"), ok.Payload).Return(nil)
	producer.On("SendWithContext", mock.Anything, kafka.TopicTransactionRequest, mock.Anything, mock.Anything).Return(errors.New("broker down"))
	producer.On("SendWithContext", mock.Anything, kafka.TopicBalanceLockRequest, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	assert.Equal(t, 1, relay.ProcessBatch(ctx))

	got := reload(t, db, ok.ID)
	assert.Equal(t, model.OutboxStatusSent, got.Status)
	assert.NotZero(t, got.SentAt)

	got = reload(t, db, retry.ID)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "broker down", got.LastError)

	// 达到最大重试次数后不再投递
	assert.Equal(t, model.OutboxStatusFailed, reload(t, db, last.ID).Status)

	assert.Equal(t, 0, relay.ProcessBatch(ctx))
	producer.AssertNumberOfCalls(t, "SendWithContext", 4)
}

func TestOutboxRelay_StartStop(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	producer := new(MockProducer)
	producer.On("SendWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	relay := newTestRelay(db, producer)

	msg := newOutboxMessage(t, db, kafka.TopicTradeEvent, "trade-T1", 5)
	relay.Start(context.Background())
	defer relay.Stop()

	require.Eventually(t, func() bool {
		return reload(t, db, msg.ID).Status == model.OutboxStatusSent
	}, time.Second, 10*time.Millisecond)
}

func TestOutboxRelay_Maintain(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	relay := newTestRelay(db, new(MockProducer))
	ctx := context.Background()

	stale := newOutboxMessage(t, db, kafka.TopicTradeEvent, "trade-T1", 5)
	oldSent := newOutboxMessage(t, db, kafka.TopicTradeEvent, "trade-T2", 5)
	freshSent := newOutboxMessage(t, db, kafka.TopicTradeEvent, "trade-T3", 5)

	hourAgo := time.Now().Add(-2 * time.Hour).UnixMilli()
	require.NoError(t, db.Exec("UPDATE p2p_outbox_messages SET status = ?, updated_at = ? WHERE id = ?",
		model.OutboxStatusProcessing, hourAgo, stale.ID).Error)
	require.NoError(t, db.Exec("UPDATE p2p_outbox_messages SET status = ?, sent_at = ? WHERE id = ?",
		model.OutboxStatusSent, hourAgo, oldSent.ID).Error)
	require.NoError(t, db.Exec("UPDATE p2p_outbox_messages SET status = ?, sent_at = ? WHERE id = ?",
		model.OutboxStatusSent, time.Now().UnixMilli(), freshSent.ID).Error)

	require.NoError(t, relay.Maintain(ctx))

	assert.Equal(t, model.OutboxStatusPending, reload(t, db, stale.ID).Status)
	assert.ErrorIs(t, db.First(&model.OutboxMessage{}, oldSent.ID).Error, gorm.ErrRecordNotFound)
	assert.Equal(t, model.OutboxStatusSent, reload(t, db, freshSent.ID).Status)
}
