package cmd

import (
	"encoding/json"
	"fmt"
	"github.com/arcward/cardtrivia/cardtrivia"
	"github.com/spf13/cobra"
)

var (
	leaderboardLimit int
	leaderboardJSON  bool
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print the best streaks from the streak store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		store, err := cardtrivia.OpenStreakStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = store.Close()
		}()

		board := cardtrivia.NewLeaderboard(store, nil, nil)
		entries, err := board.TopByBestStreak(ctx, leaderboardLimit)
		if err != nil {
			return err
		}

		if leaderboardJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			_, _ = fmt.Fprintln(out, "No streaks recorded yet.")
			return nil
		}
		for _, e := range entries {
			_, _ = fmt.Fprintf(out, "%3d. %-24s %d\n", e.Rank, e.UserID, e.BestStreak)
		}
		return nil
	},
}

func init() {
	leaderboardCmd.Flags().IntVarP(
		&leaderboardLimit,
		"limit",
		"n",
		cardtrivia.DefaultLeaderboardSize,
		"Number of entries to show (max 100)",
	)
	leaderboardCmd.Flags().BoolVar(
		&leaderboardJSON,
		"json",
		false,
		"Print entries as JSON",
	)
	rootCmd.AddCommand(leaderboardCmd)
}
