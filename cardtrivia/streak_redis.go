package cardtrivia

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"log/slog"
	"sort"
	"strconv"
	"time"
)

// redisMaxTxRetries is how many times RecordResult retries when another
// writer changes the same streak between WATCH and EXEC
const redisMaxTxRetries = 10

// RedisStreakStore is a [StreakStore] that keeps each user's streak in
// a hash, with best streaks mirrored to a sorted set for the leaderboard.
//
// Keys:
//   - <prefix>:streak:<user_id> - hash of current_streak, best_streak, updated_at
//   - <prefix>:streaks:best - sorted set of user IDs scored by best_streak
type RedisStreakStore struct {
	client *redis.Client
	prefix string
	locks  *keyedMutex
	logger *slog.Logger
}

// NewRedisStreakStore connects to redis and verifies the connection
// with a PING.
func NewRedisStreakStore(
	ctx context.Context,
	config *RedisConfig,
	logger *slog.Logger,
) (*RedisStreakStore, error) {
	if config == nil {
		return nil, errors.New("nil redis config")
	}
	client := redis.NewClient(
		&redis.Options{
			Addr:     config.Addr,
			Username: config.Username,
			Password: config.Password,
			DB:       config.DB,
		},
	)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", ErrStoreUnavailable, err)
	}
	return newRedisStreakStore(client, config.Prefix, logger), nil
}

func newRedisStreakStore(
	client *redis.Client,
	prefix string,
	logger *slog.Logger,
) *RedisStreakStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStreakStore{
		client: client,
		prefix: prefix,
		locks:  newKeyedMutex(),
		logger: logger,
	}
}

func (s *RedisStreakStore) streakKey(userID string) string {
	return s.prefix + ":streak:" + userID
}

func (s *RedisStreakStore) bestKey() string {
	return s.prefix + ":streaks:best"
}

// RecordResult updates the hash and the sorted set in one MULTI/EXEC,
// guarded by WATCH on the user's hash so writers in other processes
// can't interleave.
func (s *RedisStreakStore) RecordResult(
	ctx context.Context,
	userID string,
	correct bool,
) (StreakRecord, error) {
	if userID == "" {
		return StreakRecord{}, errEmptyUserID
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	key := s.streakKey(userID)
	var updated StreakRecord

	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := parseStreakHash(userID, values)
		if err != nil {
			return err
		}
		updated = current.apply(correct)
		updated.UpdatedAt = time.Now().UnixMilli()
		if updated.CreatedAt == 0 {
			updated.CreatedAt = updated.UpdatedAt
		}
		_, err = tx.TxPipelined(
			ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(
					ctx,
					key,
					columnCurrentStreak, updated.CurrentStreak,
					columnBestStreak, updated.BestStreak,
					"created_at", updated.CreatedAt,
					columnUpdatedAt, updated.UpdatedAt,
				)
				pipe.ZAdd(
					ctx,
					s.bestKey(),
					redis.Z{Score: float64(updated.BestStreak), Member: userID},
				)
				return nil
			},
		)
		return err
	}

	var err error
	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.logger.DebugContext(
			ctx,
			"streak changed during update, retrying",
			columnUserID, userID,
			"attempt", attempt+1,
		)
	}
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"error recording streak",
			tint.Err(err),
			columnUserID, userID,
		)
		return StreakRecord{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.logger.DebugContext(ctx, "recorded streak", "streak", updated, "correct", correct)
	return updated, nil
}

func (s *RedisStreakStore) GetStreak(
	ctx context.Context,
	userID string,
) (StreakRecord, error) {
	if userID == "" {
		return StreakRecord{}, errEmptyUserID
	}
	values, err := s.client.HGetAll(ctx, s.streakKey(userID)).Result()
	if err != nil {
		return StreakRecord{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	record, err := parseStreakHash(userID, values)
	if err != nil {
		return StreakRecord{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return record, nil
}

// TopByBestStreak reads the top of the sorted set. Redis orders equal
// scores by member in reverse, so everyone tied with the last row is
// fetched and re-sorted by user ID before cutting to limit.
func (s *RedisStreakStore) TopByBestStreak(
	ctx context.Context,
	limit int,
) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return []LeaderboardEntry{}, nil
	}
	top, err := s.client.ZRevRangeWithScores(
		ctx,
		s.bestKey(),
		0,
		int64(limit-1),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(top) == 0 {
		return []LeaderboardEntry{}, nil
	}

	cutoff := top[len(top)-1].Score
	rows, err := s.client.ZRevRangeByScoreWithScores(
		ctx,
		s.bestKey(),
		&redis.ZRangeBy{
			Min: strconv.FormatFloat(cutoff, 'f', -1, 64),
			Max: "+inf",
		},
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, z := range rows {
		entries = append(
			entries,
			LeaderboardEntry{
				UserID:     fmt.Sprintf("%v", z.Member),
				BestStreak: int(z.Score),
			},
		)
	}
	sort.SliceStable(
		entries, func(i, j int) bool {
			if entries[i].BestStreak != entries[j].BestStreak {
				return entries[i].BestStreak > entries[j].BestStreak
			}
			return entries[i].UserID < entries[j].UserID
		},
	)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (s *RedisStreakStore) Close() error {
	return s.client.Close()
}

// parseStreakHash reads a streak hash. An empty hash is a user with no
// record yet.
func parseStreakHash(userID string, values map[string]string) (StreakRecord, error) {
	record := StreakRecord{UserID: userID}
	if len(values) == 0 {
		return record, nil
	}
	fields := []struct {
		name string
		dst  *int64
	}{
		{name: "created_at", dst: &record.CreatedAt},
		{name: columnUpdatedAt, dst: &record.UpdatedAt},
	}
	for _, f := range fields {
		v, ok := values[f.name]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return StreakRecord{}, fmt.Errorf("invalid %s %q: %w", f.name, v, err)
		}
		*f.dst = n
	}

	var err error
	if record.CurrentStreak, err = atoiField(values, columnCurrentStreak); err != nil {
		return StreakRecord{}, err
	}
	if record.BestStreak, err = atoiField(values, columnBestStreak); err != nil {
		return StreakRecord{}, err
	}
	return record, nil
}

func atoiField(values map[string]string, name string) (int, error) {
	v, ok := values[name]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}
