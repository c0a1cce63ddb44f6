package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatsync/chatsync/internal/config"
	"github.com/chatsync/chatsync/internal/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Topic-chat client with real-time message synchronization",
	Long: `chatsync is a topic-based chat client built around a real-time
synchronization engine: it reconciles paginated message history with the
live event stream, tracks presence and typing indicators, and survives
connection drops and rapid room switches.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.New()
		logging.New(cfg.LogFormat)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
