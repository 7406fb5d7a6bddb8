package cardtrivia

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"sync"
	"testing"
)

// recordingStore is a StreakStore serving fixed leaderboard rows, which
// records the limit it was asked for
type recordingStore struct {
	entries []LeaderboardEntry
	err     error

	mu     sync.Mutex
	limits []int
}

func (s *recordingStore) RecordResult(_ context.Context, userID string, _ bool) (
	StreakRecord,
	error,
) {
	return StreakRecord{UserID: userID}, s.err
}

func (s *recordingStore) GetStreak(_ context.Context, userID string) (StreakRecord, error) {
	return StreakRecord{UserID: userID}, s.err
}

func (s *recordingStore) TopByBestStreak(_ context.Context, limit int) (
	[]LeaderboardEntry,
	error,
) {
	s.mu.Lock()
	s.limits = append(s.limits, limit)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.entries[:min(limit, len(s.entries))], nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) lastLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits[len(s.limits)-1]
}

type resolverFunc func(ctx context.Context, userID string) (string, error)

func (f resolverFunc) DisplayName(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

func TestLeaderboard_TopByBestStreak(t *testing.T) {
	t.Parallel()
	store := &recordingStore{
		entries: []LeaderboardEntry{
			{UserID: "a", BestStreak: 9},
			{UserID: "b", BestStreak: 4},
			{UserID: "c", BestStreak: 4},
		},
	}
	lb := NewLeaderboard(store, nil, nil)

	entries, err := lb.TopByBestStreak(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, store.lastLimit())
	assert.Equal(
		t,
		[]LeaderboardEntry{
			{Rank: 1, UserID: "a", BestStreak: 9},
			{Rank: 2, UserID: "b", BestStreak: 4},
		},
		entries,
	)
}

func TestLeaderboard_Limits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		limit    int
		expected int
	}{
		{name: "zero uses default", limit: 0, expected: DefaultLeaderboardSize},
		{name: "negative uses default", limit: -3, expected: DefaultLeaderboardSize},
		{name: "in range", limit: 25, expected: 25},
		{name: "max", limit: maxLeaderboardSize, expected: maxLeaderboardSize},
		{name: "capped", limit: 5000, expected: maxLeaderboardSize},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				store := &recordingStore{}
				_, err := NewLeaderboard(store, nil, nil).TopByBestStreak(
					context.Background(),
					tc.limit,
				)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, store.lastLimit())
			},
		)
	}
}

func TestLeaderboard_EmptyIsNotNil(t *testing.T) {
	t.Parallel()
	entries, err := NewLeaderboard(&recordingStore{}, nil, nil).TopByBestStreak(
		context.Background(),
		10,
	)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestLeaderboard_StoreError(t *testing.T) {
	t.Parallel()
	store := &recordingStore{err: ErrStoreUnavailable}
	_, err := NewLeaderboard(store, nil, nil).TopByBestStreak(context.Background(), 10)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestLeaderboard_Resolve(t *testing.T) {
	t.Parallel()
	resolver := resolverFunc(
		func(_ context.Context, userID string) (string, error) {
			switch userID {
			case "gone":
				return "", errors.New("unknown user")
			case "blank":
				return "   ", nil
			default:
				return strings.ToUpper(userID), nil
			}
		},
	)
	lb := NewLeaderboard(&recordingStore{}, resolver, nil)

	entries := []LeaderboardEntry{
		{Rank: 1, UserID: "ann", BestStreak: 5},
		{Rank: 2, UserID: "gone", BestStreak: 4},
		{Rank: 3, UserID: "blank", BestStreak: 3},
		{Rank: 4, UserID: "ben", BestStreak: 1},
	}
	lb.Resolve(context.Background(), entries)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.DisplayName)
	}
	assert.Equal(t, []string{"ANN", "gone", "blank", "BEN"}, names)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestLeaderboard_ResolveWithoutResolver(t *testing.T) {
	t.Parallel()
	entries := []LeaderboardEntry{{Rank: 1, UserID: "ann", BestStreak: 5}}
	NewLeaderboard(&recordingStore{}, nil, nil).Resolve(context.Background(), entries)
	assert.Equal(t, "ann", entries[0].DisplayName)
}

func TestRenderLeaderboard(t *testing.T) {
	t.Parallel()

	assert.Contains(t, renderLeaderboard(nil), "/trivia")

	got := renderLeaderboard(
		[]LeaderboardEntry{
			{Rank: 1, UserID: "1", BestStreak: 12, DisplayName: "Yugi"},
			{Rank: 2, UserID: "2", BestStreak: 7},
		},
	)
	assert.Equal(t, "**Best streaks**\n1. Yugi: 12\n2. 2: 7", got)
}
