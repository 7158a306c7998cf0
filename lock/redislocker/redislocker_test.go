package redislocker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/lock/redislocker"
)

func newLocker(t *testing.T) (*redislocker.Locker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redislocker.New(rdb, 5*time.Second, redislocker.WithRetry(5*time.Millisecond, 3)), mr
}

func TestLocker_AcquireRelease(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []string{"doc:d1", "stock:bolt@main"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("ledger:lock:stock:bolt@main"))

	// A second writer on an overlapping key gives up and holds nothing
	_, err = locker.Acquire(ctx, []string{"stock:aaa@main", "stock:bolt@main"})
	assert.ErrorIs(t, err, redislocker.ErrBusy)
	assert.ErrorIs(t, err, ledger.ErrLockBusy)
	assert.False(t, mr.Exists("ledger:lock:stock:aaa@main"))

	release()
	assert.False(t, mr.Exists("ledger:lock:stock:bolt@main"))

	release, err = locker.Acquire(ctx, []string{"stock:bolt@main"})
	require.NoError(t, err)
	release()
}

func TestLocker_ExpiresAfterTTL(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, []string{"stock:bolt@main"})
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)
	release, err := locker.Acquire(ctx, []string{"stock:bolt@main"})
	require.NoError(t, err)
	release()
}

func TestLocker_WithEngine(t *testing.T) {
	// GIVEN: An engine wired to the Redis locker
	// WHEN: Creating a document
	// THEN: It commits and leaves no lock behind

	locker, mr := newLocker(t)
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveItem(ctx, ledger.Item{ID: "bolt", Name: "Bolt"}))
	require.NoError(t, st.SaveWarehouse(ctx, ledger.Warehouse{ID: "main", Name: "Main"}))
	p, err := ledger.ParsePeriod("2025-01-01", "2025-12-31")
	require.NoError(t, err)
	require.NoError(t, st.SetActivePeriod(ctx, p))

	engine := ledger.NewEngine(st, ledger.WithLocker(locker))
	_, err = engine.Create(ctx, ledger.Document{
		Kind:   ledger.KindAdjustment,
		Date:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Reason: "opening stock",
		Lines: []ledger.Line{{
			Item: "bolt", Warehouse: "main", Direction: ledger.DirectionAdd, Quantity: decimal.NewFromInt(3),
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())

	// A held key blocks the engine
	release, err := locker.Acquire(ctx, []string{"stock:bolt@main"})
	require.NoError(t, err)
	defer release()

	_, err = engine.Create(ctx, ledger.Document{
		Kind:   ledger.KindAdjustment,
		Date:   time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		Reason: "recount",
		Lines: []ledger.Line{{
			Item: "bolt", Warehouse: "main", Direction: ledger.DirectionSub, Quantity: decimal.NewFromInt(1),
		}},
	})
	assert.ErrorIs(t, err, redislocker.ErrBusy)
	assert.ErrorIs(t, err, ledger.ErrLockBusy)
}
