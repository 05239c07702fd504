package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-p2p/internal/testutil"
	"github.com/eidos-exchange/eidos-p2p/pkg/lock"
)

// fakeSweeper 记录调用次数
type fakeSweeper struct {
	calls     atomic.Int32
	cancelled int
	disputed  int
	err       error
	lastNow   time.Time
}

func (f *fakeSweeper) SweepTimeouts(ctx context.Context, now time.Time) (int, int, error) {
	f.calls.Add(1)
	f.lastNow = now
	return f.cancelled, f.disputed, f.err
}

type fakeMaintainer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeMaintainer) Maintain(ctx context.Context) error {
	f.calls.Add(1)
	return f.err
}

func newTestScheduler(t *testing.T) (*Scheduler, *lock.RedisLocker) {
	t.Helper()
	rdb, _ := testutil.NewRedis(t)
	locker := lock.NewRedisLocker(rdb, "eidos:p2p:", time.Minute)
	s := NewScheduler(locker, 2)
	t.Cleanup(s.Stop)
	return s, locker
}

func TestScheduler_RegisterJob(t *testing.T) {
	s, _ := newTestScheduler(t)
	sweeper := &fakeSweeper{}

	job := NewSweepTimeoutsJob(sweeper, time.Second, time.Minute)
	require.NoError(t, s.RegisterJob(job, JobConfig{Cron: "*/10 * * * * *", Enabled: true}))
	assert.Error(t, s.RegisterJob(job, JobConfig{Cron: "*/10 * * * * *", Enabled: true}))

	// cron 表达式非法时不保留注册
	bad := NewOutboxMaintenanceJob(&fakeMaintainer{}, time.Second, time.Minute)
	assert.Error(t, s.RegisterJob(bad, JobConfig{Cron: "every minute", Enabled: true}))
	assert.ElementsMatch(t, []string{JobNameSweepTimeouts}, s.Jobs())

	// 禁用的任务仍可手动执行
	require.NoError(t, s.RegisterJob(bad, JobConfig{Enabled: false}))
	_, err := s.RunJob(JobNameOutboxMaintenance)
	assert.NoError(t, err)
}

func TestScheduler_RunJob(t *testing.T) {
	s, _ := newTestScheduler(t)
	sweeper := &fakeSweeper{cancelled: 2, disputed: 1}
	require.NoError(t, s.RegisterJob(NewSweepTimeoutsJob(sweeper, time.Second, time.Minute), JobConfig{Enabled: false}))

	result, err := s.RunJob(JobNameSweepTimeouts)
	require.NoError(t, err)
	assert.Equal(t, 3, result.AffectedCount)
	assert.Equal(t, 2, result.Details["cancelled"])
	assert.Equal(t, 1, result.Details["disputed"])
	assert.WithinDuration(t, time.Now(), sweeper.lastNow, time.Second)

	// 锁已释放，可以再次执行
	_, err = s.RunJob(JobNameSweepTimeouts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), sweeper.calls.Load())

	_, err = s.RunJob("unknown")
	assert.Error(t, err)
}

func TestScheduler_RunJob_LockHeldElsewhere(t *testing.T) {
	s, locker := newTestScheduler(t)
	sweeper := &fakeSweeper{}
	require.NoError(t, s.RegisterJob(NewSweepTimeoutsJob(sweeper, time.Second, time.Minute), JobConfig{Enabled: false}))

	other := locker.NewLock("job:"+JobNameSweepTimeouts, time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.RunJob(JobNameSweepTimeouts)
	assert.ErrorIs(t, err, ErrJobSkipped)
	assert.Zero(t, sweeper.calls.Load())

	require.NoError(t, other.Release(context.Background()))
	_, err = s.RunJob(JobNameSweepTimeouts)
	assert.NoError(t, err)
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestScheduler_RunJob_Failure(t *testing.T) {
	s, _ := newTestScheduler(t)
	sweeper := &fakeSweeper{cancelled: 1, err: errors.New("db down")}
	require.NoError(t, s.RegisterJob(NewSweepTimeoutsJob(sweeper, time.Second, time.Minute), JobConfig{Enabled: false}))

	result, err := s.RunJob(JobNameSweepTimeouts)
	assert.EqualError(t, err, "db down")
	require.NotNil(t, result)
	assert.Equal(t, 1, result.AffectedCount)
}

func TestScheduler_CronTriggers(t *testing.T) {
	s, _ := newTestScheduler(t)
	maintainer := &fakeMaintainer{}
	require.NoError(t, s.RegisterJob(NewOutboxMaintenanceJob(maintainer, time.Second, 0), JobConfig{Cron: "* * * * * *", Enabled: true}))

	s.Start()
	require.Eventually(t, func() bool {
		return maintainer.calls.Load() > 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_StoppedRejectsRuns(t *testing.T) {
	s := NewScheduler(nil, 1)
	maintainer := &fakeMaintainer{}
	require.NoError(t, s.RegisterJob(NewOutboxMaintenanceJob(maintainer, time.Second, time.Minute), JobConfig{Enabled: false}))

	s.Stop()
	_, err := s.RunJob(JobNameOutboxMaintenance)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, maintainer.calls.Load())
}
