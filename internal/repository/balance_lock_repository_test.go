package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-p2p/internal/model"
	"github.com/eidos-exchange/eidos-p2p/internal/testutil"
)

func TestBalanceLockRepository_ClaimKeys(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewBalanceLockRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.ClaimKeys(ctx, "lock-1", []string{"user:1:BTC", "escrow:BTC", "user:1:BTC"}))

	// 与 lock-1 有交集: 整体失败且不留部分占用
	err := repo.ClaimKeys(ctx, "lock-2", []string{"user:2:BTC", "escrow:BTC"})
	assert.ErrorIs(t, err, ErrAccountKeyBusy)

	var keys []model.BalanceLockKey
	require.NoError(t, db.Order("account_key").Find(&keys).Error)
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.Equal(t, "lock-1", k.LockID)
	}

	require.NoError(t, repo.FreeKeys(ctx, "lock-1"))
	require.NoError(t, repo.ClaimKeys(ctx, "lock-2", []string{"user:2:BTC", "escrow:BTC"}))
}

func TestBalanceLockRepository_ClaimKeysInsideTransaction(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewBalanceLockRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.ClaimKeys(ctx, "lock-1", []string{"escrow:ETH"}))

	err := NewTxManager(db).Transaction(ctx, func(txCtx context.Context) error {
		return repo.ClaimKeys(txCtx, "lock-2", []string{"user:9:ETH", "escrow:ETH"})
	})
	assert.ErrorIs(t, err, ErrAccountKeyBusy)

	var count int64
	require.NoError(t, db.Model(&model.BalanceLockKey{}).Where("lock_id = ?", "lock-2").Count(&count).Error)
	assert.Zero(t, count)
}

func TestBalanceLockRepository_Transition(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewBalanceLockRepository(db)
	ctx := context.Background()

	lock := &model.BalanceLock{
		LockID:      "lock-1",
		AccountKeys: []string{"user:1:BTC", "escrow:BTC"},
		Identifier:  "trade-t1",
		Status:      model.BalanceLockStatusPending,
	}
	require.NoError(t, repo.Create(ctx, lock))

	require.NoError(t, repo.Transition(ctx, "lock-1",
		[]model.BalanceLockStatus{model.BalanceLockStatusPending}, model.BalanceLockStatusLocked,
		map[string]interface{}{"locked_at": int64(1000)}))

	// 重复确认未命中
	err := repo.Transition(ctx, "lock-1",
		[]model.BalanceLockStatus{model.BalanceLockStatusPending}, model.BalanceLockStatusLocked, nil)
	assert.ErrorIs(t, err, ErrOptimisticLock)

	got, err := repo.GetByLockID(ctx, "lock-1")
	require.NoError(t, err)
	assert.Equal(t, model.BalanceLockStatusLocked, got.Status)
	assert.Equal(t, int64(1000), got.LockedAt)
	assert.Equal(t, []string{"user:1:BTC", "escrow:BTC"}, []string(got.AccountKeys))

	locks, err := repo.ListByIdentifier(ctx, "trade-t1")
	require.NoError(t, err)
	assert.Len(t, locks, 1)

	_, err = repo.GetByLockID(ctx, "missing")
	assert.ErrorIs(t, err, ErrBalanceLockNotFound)
}

func TestBalanceLockRepository_RetryRelease(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewBalanceLockRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.BalanceLock{
		LockID:      "lock-1",
		AccountKeys: []string{"user:1:BTC"},
		Identifier:  "trade-t1",
		Status:      model.BalanceLockStatusLocked,
	}))

	require.NoError(t, repo.RetryRelease(ctx, "lock-1", 2))
	require.NoError(t, repo.RetryRelease(ctx, "lock-1", 2))
	assert.ErrorIs(t, repo.RetryRelease(ctx, "lock-1", 2), ErrOptimisticLock)

	got, err := repo.GetByLockID(ctx, "lock-1")
	require.NoError(t, err)
	assert.Equal(t, model.BalanceLockStatusReleasing, got.Status)
	assert.Equal(t, 2, got.ReleaseAttempts)
	assert.True(t, got.Status.IsActive())

	// 已解锁的锁不再重发
	require.NoError(t, repo.Transition(ctx, "lock-1",
		[]model.BalanceLockStatus{model.BalanceLockStatusReleasing}, model.BalanceLockStatusReleased, nil))
	assert.ErrorIs(t, repo.RetryRelease(ctx, "lock-1", 5), ErrOptimisticLock)
}
