// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package counter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elouarate/gallery-admin/internal/auth"
)

// storeFactory returns a fresh store and a function that moves its clock forward.
type storeFactory func(t *testing.T) (auth.SharedCounterStore, func(time.Duration))

func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("get on missing key", func(t *testing.T) {
		store, _ := newStore(t)
		v, found, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Zero(t, v)
	})

	t.Run("increment creates with ttl and keeps it", func(t *testing.T) {
		store, advance := newStore(t)

		n, err := store.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		advance(40 * time.Second)
		n, err = store.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		ttl, err := store.TTL(ctx, "k")
		require.NoError(t, err)
		assert.LessOrEqual(t, ttl, 20*time.Second)
		assert.Positive(t, ttl)

		advance(21 * time.Second)
		_, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found, "window should have expired")

		n, err = store.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "expired counter restarts")
	})

	t.Run("set replaces value and ttl", func(t *testing.T) {
		store, advance := newStore(t)

		require.NoError(t, store.Set(ctx, "k", 42, time.Minute))
		v, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(42), v)

		require.NoError(t, store.Set(ctx, "k", 7, 10*time.Second))
		advance(11 * time.Second)
		_, found, err = store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete ignores missing keys", func(t *testing.T) {
		store, _ := newStore(t)

		require.NoError(t, store.Set(ctx, "a", 1, time.Minute))
		require.NoError(t, store.Delete(ctx, "a", "never-existed"))
		_, found, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, found)
		require.NoError(t, store.Delete(ctx))
	})

	t.Run("ttl of missing key is zero", func(t *testing.T) {
		store, _ := newStore(t)
		ttl, err := store.TTL(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, ttl)
	})

	t.Run("non-positive ttl is rejected", func(t *testing.T) {
		store, _ := newStore(t)
		_, err := store.Increment(ctx, "k", 0)
		require.Error(t, err)
		require.Error(t, store.Set(ctx, "k", 1, -time.Second))
		_, err = store.Bump(ctx, "k", 0)
		require.Error(t, err)
		_, _, err = store.GetAndExtend(ctx, "k", 0)
		require.Error(t, err)
		_, err = store.IncrementWithMark(ctx, "k", time.Minute, auth.ThresholdMark{Threshold: 1, Key: "m", Value: 1})
		require.Error(t, err, "mark ttl must be positive too")
		_, err = store.RecordInWindow(ctx, "w", time.Now(), 0, 1)
		require.Error(t, err)
	})

	t.Run("increment with mark writes the mark from the threshold on", func(t *testing.T) {
		store, advance := newStore(t)
		mark := auth.ThresholdMark{Threshold: 3, Key: "lock:{a}", Value: 99, TTL: time.Hour}

		for want := int64(1); want < 3; want++ {
			n, err := store.IncrementWithMark(ctx, "fail:{a}", time.Minute, mark)
			require.NoError(t, err)
			assert.Equal(t, want, n)
			_, found, err := store.Get(ctx, "lock:{a}")
			require.NoError(t, err)
			assert.False(t, found, "no mark below the threshold")
		}

		n, err := store.IncrementWithMark(ctx, "fail:{a}", time.Minute, mark)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		v, found, err := store.Get(ctx, "lock:{a}")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(99), v)

		advance(2 * time.Minute)
		_, found, err = store.Get(ctx, "fail:{a}")
		require.NoError(t, err)
		assert.False(t, found, "the counter keeps its own ttl")
		_, found, err = store.Get(ctx, "lock:{a}")
		require.NoError(t, err)
		assert.True(t, found, "the mark keeps the mark ttl")
	})

	t.Run("bump restarts the ttl", func(t *testing.T) {
		store, advance := newStore(t)

		n, err := store.Bump(ctx, "gen", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		advance(40 * time.Second)
		n, err = store.Bump(ctx, "gen", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		advance(40 * time.Second)
		v, found, err := store.Get(ctx, "gen")
		require.NoError(t, err)
		assert.True(t, found, "second bump extended the lifetime")
		assert.Equal(t, int64(2), v)
	})

	t.Run("get and extend", func(t *testing.T) {
		store, advance := newStore(t)

		_, found, err := store.GetAndExtend(ctx, "gen", time.Minute)
		require.NoError(t, err)
		assert.False(t, found)
		_, found, err = store.Get(ctx, "gen")
		require.NoError(t, err)
		assert.False(t, found, "a missing key is not created")

		require.NoError(t, store.Set(ctx, "gen", 5, time.Minute))
		advance(40 * time.Second)
		v, found, err := store.GetAndExtend(ctx, "gen", time.Minute)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(5), v)

		advance(40 * time.Second)
		v, found, err = store.Get(ctx, "gen")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(5), v)
	})

	t.Run("record in window slides", func(t *testing.T) {
		store, _ := newStore(t)
		t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		record := func(at time.Time) auth.WindowResult {
			t.Helper()
			res, err := store.RecordInWindow(ctx, "reset:{a}", at, time.Hour, 3)
			require.NoError(t, err)
			return res
		}

		res := record(t0)
		assert.True(t, res.Recorded)
		assert.Equal(t, int64(1), res.Count)
		assert.Equal(t, t0.UnixMilli(), res.Oldest.UnixMilli())

		record(t0.Add(50 * time.Minute))
		res = record(t0.Add(50 * time.Minute))
		assert.True(t, res.Recorded)
		assert.Equal(t, int64(3), res.Count)

		res = record(t0.Add(55 * time.Minute))
		assert.False(t, res.Recorded, "limit reached inside the window")
		assert.Equal(t, int64(3), res.Count)
		assert.Equal(t, t0.UnixMilli(), res.Oldest.UnixMilli())

		res = record(t0.Add(time.Hour))
		assert.True(t, res.Recorded, "the event at the window edge has left")
		assert.Equal(t, int64(3), res.Count)
		assert.Equal(t, t0.Add(50*time.Minute).UnixMilli(), res.Oldest.UnixMilli())

		res = record(t0.Add(61 * time.Minute))
		assert.False(t, res.Recorded, "no burst across the old window boundary")
	})

	t.Run("delete clears a window", func(t *testing.T) {
		store, _ := newStore(t)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		_, err := store.RecordInWindow(ctx, "w", now, time.Hour, 1)
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "w"))

		res, err := store.RecordInWindow(ctx, "w", now, time.Hour, 1)
		require.NoError(t, err)
		assert.True(t, res.Recorded)
		assert.Equal(t, int64(1), res.Count)
	})

	t.Run("concurrent window records respect the limit", func(t *testing.T) {
		store, _ := newStore(t)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		const workers, limit = 20, 5
		var wg sync.WaitGroup
		var mu sync.Mutex
		recorded := 0
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.RecordInWindow(ctx, "burst", now, time.Hour, limit)
				assert.NoError(t, err)
				if res.Recorded {
					mu.Lock()
					recorded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, limit, recorded)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		store, _ := newStore(t)

		const workers = 50
		var wg sync.WaitGroup
		seen := make(chan int64, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := store.Increment(ctx, "race", time.Minute)
				assert.NoError(t, err)
				seen <- n
			}()
		}
		wg.Wait()
		close(seen)

		unique := make(map[int64]bool)
		for n := range seen {
			unique[n] = true
		}
		assert.Len(t, unique, workers, "every caller observes a distinct count")

		v, _, err := store.Get(ctx, "race")
		require.NoError(t, err)
		assert.Equal(t, int64(workers), v)
	})
}
