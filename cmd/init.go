package cmd

import (
	"fmt"
	"github.com/arcward/cardtrivia/cardtrivia"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the streak store",
	Long: "Creates the database and its tables, or checks the redis " +
		"connection, depending on the configured streak backend.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cfg.StreakBackend != "redis" {
			if cfg.DatabaseType == "" {
				return fmt.Errorf(
					"%s_DATABASE_TYPE not set (must be one of: sqlite, postgres)",
					cardtrivia.DefaultEnvPrefix,
				)
			}
			if cfg.Database == "" {
				return fmt.Errorf(
					"%s_DATABASE not set (must be a valid database "+
						"connection string or sqlite file path)",
					cardtrivia.DefaultEnvPrefix,
				)
			}
		}

		store, err := cardtrivia.OpenStreakStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("error initializing streak store: %w", err)
		}
		if err = store.Close(); err != nil {
			return fmt.Errorf("error closing streak store: %w", err)
		}

		_, _ = fmt.Fprintf(out, "Streak store (%s) is ready.\n", cfg.StreakBackend)
		_, _ = fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
