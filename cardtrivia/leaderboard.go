package cardtrivia

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"strings"
)

const (
	maxLeaderboardSize = 100

	// nameResolveConcurrency caps simultaneous display name lookups
	nameResolveConcurrency = 5
)

// LeaderboardEntry is a single row of the leaderboard. DisplayName is
// only set once the entry has been through [Leaderboard.Resolve].
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	BestStreak  int    `json:"best_streak"`
	DisplayName string `json:"display_name,omitempty"`
}

// NameResolver looks up a user's display name
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Leaderboard ranks users by their best streak
type Leaderboard struct {
	store    StreakStore
	resolver NameResolver
	logger   *slog.Logger
}

// NewLeaderboard returns a Leaderboard reading from store. resolver may
// be nil, in which case entries are shown by user ID.
func NewLeaderboard(
	store StreakStore,
	resolver NameResolver,
	logger *slog.Logger,
) *Leaderboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Leaderboard{store: store, resolver: resolver, logger: logger}
}

// TopByBestStreak returns up to limit entries, ranked from 1. A limit <= 0 uses
// DefaultLeaderboardSize, and limits over 100 are capped.
func (l *Leaderboard) TopByBestStreak(ctx context.Context, limit int) (
	[]LeaderboardEntry,
	error,
) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	limit = min(limit, maxLeaderboardSize)

	entries, err := l.store.TopByBestStreak(ctx, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Resolve sets DisplayName on each entry. A lookup that fails leaves
// that entry's user ID in place of a name, without affecting the others.
func (l *Leaderboard) Resolve(ctx context.Context, entries []LeaderboardEntry) {
	if l.resolver == nil {
		for i := range entries {
			entries[i].DisplayName = entries[i].UserID
		}
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(nameResolveConcurrency)
	for i := range entries {
		entry := &entries[i]
		g.Go(
			func() error {
				name, err := l.resolver.DisplayName(ctx, entry.UserID)
				if err != nil || strings.TrimSpace(name) == "" {
					if err != nil {
						l.logger.WarnContext(
							ctx,
							"unable to resolve display name",
							tint.Err(err),
							columnUserID, entry.UserID,
						)
					}
					name = entry.UserID
				}
				entry.DisplayName = name
				return nil
			},
		)
	}
	_ = g.Wait()
}

// renderLeaderboard formats resolved entries for a chat message
func renderLeaderboard(entries []LeaderboardEntry) string {
	if len(entries) == 0 {
		return "Nobody has answered a question yet. Be the first with `/trivia`!"
	}
	var sb strings.Builder
	sb.WriteString("**Best streaks**\n")
	for _, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = e.UserID
		}
		_, _ = fmt.Fprintf(&sb, "%d. %s: %d\n", e.Rank, name, e.BestStreak)
	}
	return strings.TrimRight(sb.String(), "\n")
}
