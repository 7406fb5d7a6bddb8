package cardtrivia

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strconv"
	"testing"
	"time"
)

func TestNewRedisStreakStore(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	store, err := NewRedisStreakStore(
		context.Background(),
		&RedisConfig{Addr: mr.Addr()},
		nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, DefaultRedisPrefix, store.prefix)
}

func TestNewRedisStreakStore_Unreachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	_, err := NewRedisStreakStore(ctx, &RedisConfig{Addr: addr}, nil)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewRedisStreakStore_NilConfig(t *testing.T) {
	t.Parallel()
	_, err := NewRedisStreakStore(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestRedisStreakStore_Keys(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.RecordResult(ctx, "alice", true)
	require.NoError(t, err)
	_, err = store.RecordResult(ctx, "alice", true)
	require.NoError(t, err)
	record, err := store.RecordResult(ctx, "alice", false)
	require.NoError(t, err)

	key := "test:streak:alice"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, "0", mr.HGet(key, columnCurrentStreak))
	assert.Equal(t, "2", mr.HGet(key, columnBestStreak))
	assert.Equal(t, strconv.FormatInt(record.UpdatedAt, 10), mr.HGet(key, columnUpdatedAt))
	assert.NotEmpty(t, mr.HGet(key, "created_at"))

	score, err := mr.ZScore("test:streaks:best", "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(2), score)
}

func TestRedisStreakStore_CreatedAtKept(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	first, err := store.RecordResult(ctx, "bob", true)
	require.NoError(t, err)
	second, err := store.RecordResult(ctx, "bob", true)
	require.NoError(t, err)

	assert.NotZero(t, first.CreatedAt)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.GreaterOrEqual(t, second.UpdatedAt, first.UpdatedAt)
}

func TestRedisStreakStore_CorruptHash(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStore(t)
	mr.HSet("test:streak:carol", columnCurrentStreak, "lots")

	_, err := store.GetStreak(context.Background(), "carol")
	require.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.RecordResult(context.Background(), "carol", true)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestParseStreakHash(t *testing.T) {
	t.Parallel()

	record, err := parseStreakHash("dave", nil)
	require.NoError(t, err)
	assert.Equal(t, StreakRecord{UserID: "dave"}, record)

	record, err = parseStreakHash(
		"dave",
		map[string]string{
			columnCurrentStreak: "3",
			columnBestStreak:    "7",
			"created_at":        "1700000000000",
			columnUpdatedAt:     "1700000001000",
		},
	)
	require.NoError(t, err)
	assert.Equal(
		t,
		StreakRecord{
			UserID:        "dave",
			CurrentStreak: 3,
			BestStreak:    7,
			CreatedAt:     1700000000000,
			UpdatedAt:     1700000001000,
		},
		record,
	)

	_, err = parseStreakHash("dave", map[string]string{columnUpdatedAt: "yesterday"})
	require.Error(t, err)
	_, err = parseStreakHash("dave", map[string]string{columnBestStreak: "1.5"})
	require.Error(t, err)
}
