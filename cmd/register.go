package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/yehezkieldio/avalon/avalon"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Registers the bot's slash commands with Discord and exits",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		bot, err := avalon.New(cfg)
		if err != nil {
			log.Fatalf("error creating avalon: %s", err.Error())
		}

		registered, err := bot.RegisterCommands()
		if err != nil {
			log.Fatalf("error registering commands: %s", err.Error())
		}

		out := cmd.OutOrStdout()
		for _, c := range registered {
			fmt.Fprintf(out, "registered command: /%s (%s)\n", c.Name, c.ID)
		}
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
