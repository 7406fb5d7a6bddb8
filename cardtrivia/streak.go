package cardtrivia

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"sync"
)

const (
	columnUserID        = "user_id"
	columnCurrentStreak = "current_streak"
	columnBestStreak    = "best_streak"
	columnUpdatedAt     = "updated_at"
)

var errEmptyUserID = errors.New("user ID required")

// StreakRecord is a user's run of consecutive correct answers, and the
// longest run they've had. BestStreak is never less than CurrentStreak.
//
//nolint:lll // struct tags can't be split
type StreakRecord struct {
	UserID        string `json:"user_id" gorm:"primaryKey;type:varchar(32)"`
	CurrentStreak int    `json:"current_streak" gorm:"not null"`
	BestStreak    int    `json:"best_streak" gorm:"not null;index"`
	CreatedAt     int64  `json:"created_at,omitempty" gorm:"autoCreateTime:milli"`
	UpdatedAt     int64  `json:"updated_at,omitempty" gorm:"autoUpdateTime:milli"`
}

func (StreakRecord) TableName() string {
	return "streak_records"
}

// apply returns the record after one more answer
func (r StreakRecord) apply(correct bool) StreakRecord {
	if !correct {
		r.CurrentStreak = 0
		return r
	}
	r.CurrentStreak++
	if r.CurrentStreak > r.BestStreak {
		r.BestStreak = r.CurrentStreak
	}
	return r
}

func (r StreakRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String(columnUserID, r.UserID),
		slog.Int(columnCurrentStreak, r.CurrentStreak),
		slog.Int(columnBestStreak, r.BestStreak),
	)
}

// StreakStore persists streaks. Implementations serialize
// RecordResult calls for the same user, so concurrent answers from
// one user are never lost.
type StreakStore interface {
	// RecordResult applies an answer to the user's streak and returns
	// the updated record. A user without a record starts at zero.
	RecordResult(ctx context.Context, userID string, correct bool) (StreakRecord, error)

	// GetStreak returns the user's streak, or a zero record if they
	// haven't answered anything yet.
	GetStreak(ctx context.Context, userID string) (StreakRecord, error)

	// TopByBestStreak returns up to limit entries, highest best streak
	// first, ties ordered by user ID.
	TopByBestStreak(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// Close releases the store's connections
	Close() error
}

// keyedMutex hands out one mutex per key. Locks are dropped once
// nothing holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedLock{}}
}

// Lock locks key, returning the function to unlock it
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// DatabaseStreakStore is a [StreakStore] backed by gorm (sqlite or postgres)
type DatabaseStreakStore struct {
	db     *gorm.DB
	locks  *keyedMutex
	logger *slog.Logger
}

func NewDatabaseStreakStore(db *gorm.DB, logger *slog.Logger) *DatabaseStreakStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatabaseStreakStore{
		db:     db,
		locks:  newKeyedMutex(),
		logger: logger,
	}
}

// RecordResult makes sure the user's row exists, then reads it for
// update and writes the new values, all in one transaction. Inserting
// first means FOR UPDATE always has a row to lock, so processes sharing
// a postgres database serialize on it. The in-process lock covers
// sqlite, which ignores FOR UPDATE.
func (s *DatabaseStreakStore) RecordResult(
	ctx context.Context,
	userID string,
	correct bool,
) (StreakRecord, error) {
	if userID == "" {
		return StreakRecord{}, errEmptyUserID
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	var updated StreakRecord
	err := s.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			initial := StreakRecord{UserID: userID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&initial).Error; err != nil {
				return err
			}

			var current StreakRecord
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where(columnUserID+" = ?", userID).
				Take(&current).Error; err != nil {
				return err
			}
			updated = current.apply(correct)
			return tx.Select(
				columnCurrentStreak,
				columnBestStreak,
				columnUpdatedAt,
			).Updates(&updated).Error
		},
	)
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

func (s *DatabaseStreakStore) GetStreak(
	ctx context.Context,
	userID string,
) (StreakRecord, error) {
	if userID == "" {
		return StreakRecord{}, errEmptyUserID
	}
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	var record StreakRecord
	rv := s.db.WithContext(ctx).
		Where(columnUserID+" = ?", userID).
		Limit(1).
		Find(&record)
	if rv.Error != nil {
		return StreakRecord{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, rv.Error)
	}
	if rv.RowsAffected == 0 {
		return StreakRecord{UserID: userID}, nil
	}
	return record, nil
}

func (s *DatabaseStreakStore) TopByBestStreak(
	ctx context.Context,
	limit int,
) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return []LeaderboardEntry{}, nil
	}
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	var records []StreakRecord
	err := s.db.WithContext(ctx).
		Order(columnBestStreak + " desc").
		Order(columnUserID + " asc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	entries := make([]LeaderboardEntry, 0, len(records))
	for i, r := range records {
		entries = append(
			entries,
			LeaderboardEntry{Rank: i + 1, UserID: r.UserID, BestStreak: r.BestStreak},
		)
	}
	return entries, nil
}

func (s *DatabaseStreakStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
