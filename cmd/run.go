package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/yehezkieldio/avalon/avalon"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Avalon bot and its interaction webhook server",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := avalon.New(cfg)
		if err != nil {
			log.Fatalf("error creating avalon: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running avalon: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
