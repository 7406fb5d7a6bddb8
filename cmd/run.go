package cmd

import (
	"github.com/arcward/cardtrivia/cardtrivia"
	"github.com/spf13/cobra"
	"log"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the trivia bot and (optionally) the API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := cardtrivia.New(cfg)
			if err != nil {
				log.Fatalf("error creating cardtrivia: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running cardtrivia: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
