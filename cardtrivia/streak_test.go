package cardtrivia

import (
	"context"
	"fmt"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"sync"
	"testing"
)

func newTestRedisStore(t testing.TB) (*RedisStreakStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := newRedisStreakStore(client, "test", nil)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// streakBackends runs f against each StreakStore implementation
func streakBackends(t *testing.T, f func(t *testing.T, store StreakStore)) {
	t.Helper()
	t.Run(
		streakBackendDatabase, func(t *testing.T) {
			t.Parallel()
			f(t, NewDatabaseStreakStore(setupTestDB(t), nil))
		},
	)
	t.Run(
		streakBackendRedis, func(t *testing.T) {
			t.Parallel()
			store, _ := newTestRedisStore(t)
			f(t, store)
		},
	)
}

func TestStreakStore_ConsecutiveCorrect(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			ctx := context.Background()
			for i := 1; i <= 3; i++ {
				record, err := store.RecordResult(ctx, "alice", true)
				require.NoError(t, err)
				assert.Equal(t, "alice", record.UserID)
				assert.Equal(t, i, record.CurrentStreak)
				assert.Equal(t, i, record.BestStreak)
			}
		},
	)
}

func TestStreakStore_IncorrectKeepsBest(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := store.RecordResult(ctx, "bob", true)
				require.NoError(t, err)
			}

			record, err := store.RecordResult(ctx, "bob", false)
			require.NoError(t, err)
			assert.Equal(t, 0, record.CurrentStreak)
			assert.Equal(t, 3, record.BestStreak)

			record, err = store.RecordResult(ctx, "bob", true)
			require.NoError(t, err)
			assert.Equal(t, 1, record.CurrentStreak)
			assert.Equal(t, 3, record.BestStreak)

			got, err := store.GetStreak(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, record.CurrentStreak, got.CurrentStreak)
			assert.Equal(t, record.BestStreak, got.BestStreak)
		},
	)
}

func TestStreakStore_FirstAnswerIncorrect(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			record, err := store.RecordResult(context.Background(), "carol", false)
			require.NoError(t, err)
			assert.Equal(t, "carol", record.UserID)
			assert.Equal(t, 0, record.CurrentStreak)
			assert.Equal(t, 0, record.BestStreak)
		},
	)
}

func TestStreakStore_RandomSequence(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			ctx := context.Background()
			rng := rand.New(rand.NewSource(7))
			expected := StreakRecord{UserID: "dave"}
			prevBest := 0

			for i := 0; i < 60; i++ {
				correct := rng.Intn(3) > 0
				record, err := store.RecordResult(ctx, "dave", correct)
				require.NoError(t, err)

				expected = expected.apply(correct)
				assert.Equal(t, expected.CurrentStreak, record.CurrentStreak)
				assert.Equal(t, expected.BestStreak, record.BestStreak)
				assert.GreaterOrEqual(t, record.BestStreak, record.CurrentStreak)
				assert.GreaterOrEqual(t, record.BestStreak, prevBest)
				if !correct {
					assert.Equal(t, 0, record.CurrentStreak)
				}
				prevBest = record.BestStreak
			}
		},
	)
}

func TestStreakStore_GetStreakMissing(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			record, err := store.GetStreak(context.Background(), "nobody")
			require.NoError(t, err)
			assert.Equal(t, "nobody", record.UserID)
			assert.Equal(t, 0, record.CurrentStreak)
			assert.Equal(t, 0, record.BestStreak)
		},
	)
}

func TestStreakStore_EmptyUserID(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			_, err := store.RecordResult(context.Background(), "", true)
			require.ErrorIs(t, err, errEmptyUserID)
			_, err = store.GetStreak(context.Background(), "")
			require.ErrorIs(t, err, errEmptyUserID)
		},
	)
}

func TestStreakStore_ConcurrentSameUser(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			ctx := context.Background()
			const n = 25

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.RecordResult(ctx, "erin", true)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			record, err := store.GetStreak(ctx, "erin")
			require.NoError(t, err)
			assert.Equal(t, n, record.CurrentStreak)
			assert.Equal(t, n, record.BestStreak)
		},
	)
}

func TestStreakStore_ConcurrentUsers(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			ctx := context.Background()
			users := []string{"u1", "u2", "u3", "u4"}

			var wg sync.WaitGroup
			for _, userID := range users {
				for i := 0; i < 5; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := store.RecordResult(ctx, userID, true)
						assert.NoError(t, err)
					}()
				}
			}
			wg.Wait()

			for _, userID := range users {
				record, err := store.GetStreak(ctx, userID)
				require.NoError(t, err)
				assert.Equal(t, 5, record.BestStreak, userID)
			}
		},
	)
}

func TestStreakStore_TopByBestStreakEmpty(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			entries, err := store.TopByBestStreak(context.Background(), 10)
			require.NoError(t, err)
			assert.NotNil(t, entries)
			assert.Empty(t, entries)

			entries, err = store.TopByBestStreak(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, entries)
		},
	)
}

func TestStreakStore_TopByBestStreak(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			ctx := context.Background()
			answers := map[string][]bool{
				"zed":   {true, true},
				"amy":   {true, true},
				"mia":   {true, true, true},
				"bea":   {true},
				"oscar": {false},
				"liam":  {true, true, false},
			}
			for userID, results := range answers {
				for _, correct := range results {
					_, err := store.RecordResult(ctx, userID, correct)
					require.NoError(t, err)
				}
			}

			entries, err := store.TopByBestStreak(ctx, 10)
			require.NoError(t, err)
			expected := []LeaderboardEntry{
				{Rank: 1, UserID: "mia", BestStreak: 3},
				{Rank: 2, UserID: "amy", BestStreak: 2},
				{Rank: 3, UserID: "liam", BestStreak: 2},
				{Rank: 4, UserID: "zed", BestStreak: 2},
				{Rank: 5, UserID: "bea", BestStreak: 1},
				{Rank: 6, UserID: "oscar", BestStreak: 0},
			}
			assert.Equal(t, expected, entries)

			// ties at the cutoff are broken by user ID
			entries, err = store.TopByBestStreak(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, expected[:3], entries)
		},
	)
}

func TestStreakStore_ClosedIsUnavailable(t *testing.T) {
	t.Parallel()
	streakBackends(
		t, func(t *testing.T, store StreakStore) {
			require.NoError(t, store.Close())
			ctx := context.Background()

			_, err := store.RecordResult(ctx, "frank", true)
			require.ErrorIs(t, err, ErrStoreUnavailable)

			_, err = store.GetStreak(ctx, "frank")
			require.ErrorIs(t, err, ErrStoreUnavailable)

			_, err = store.TopByBestStreak(ctx, 10)
			require.ErrorIs(t, err, ErrStoreUnavailable)
		},
	)
}

func TestStreakRecord_Apply(t *testing.T) {
	t.Parallel()
	r := StreakRecord{UserID: "u", CurrentStreak: 2, BestStreak: 5}

	r = r.apply(true)
	assert.Equal(t, StreakRecord{UserID: "u", CurrentStreak: 3, BestStreak: 5}, r)

	r = r.apply(false)
	assert.Equal(t, StreakRecord{UserID: "u", CurrentStreak: 0, BestStreak: 5}, r)

	r = StreakRecord{UserID: "u", CurrentStreak: 5, BestStreak: 5}.apply(true)
	assert.Equal(t, 6, r.BestStreak)
}

func TestKeyedMutex(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()

	// each counter is only touched while holding its key's lock
	counters := make([]int, 3)
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		idx := i % len(counters)
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(fmt.Sprintf("key_%d", idx))
			defer unlock()
			counters[idx]++
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{20, 20, 20}, counters)
	assert.Equal(t, 0, k.len())
}

func TestDatabaseStreakStore_SharedDatabase(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	// separate stores don't share in-process locks, like two bots
	// pointed at the same database
	stores := []StreakStore{
		NewDatabaseStreakStore(db, nil),
		NewDatabaseStreakStore(db, nil),
	}
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := stores[i%len(stores)].RecordResult(ctx, "heidi", true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	record, err := stores[0].GetStreak(ctx, "heidi")
	require.NoError(t, err)
	assert.Equal(t, n, record.CurrentStreak)
	assert.Equal(t, n, record.BestStreak)

	var count int64
	require.NoError(t, db.Model(&StreakRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDatabaseStreakStore_UpdatedAt(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	store := NewDatabaseStreakStore(db, nil)
	ctx := context.Background()

	_, err := store.RecordResult(ctx, "grace", true)
	require.NoError(t, err)

	var row StreakRecord
	require.NoError(t, db.First(&row, columnUserID+" = ?", "grace").Error)
	assert.NotZero(t, row.CreatedAt)
	assert.NotZero(t, row.UpdatedAt)
	assert.Equal(t, 1, row.BestStreak)
}
