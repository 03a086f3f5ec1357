package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ntfy2tg/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "ntfy2tg",
	Short: "Forward ntfy notifications to a Telegram chat",
	Long: "Subscribes to one or more ntfy topics over websockets and forwards every message " +
		"to a Telegram chat through the Bot API.\n\nConfiguration is read from the environment and an optional .env file.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runForwarder,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ntfy2tg:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes configuration problems from runtime failures.
func exitCode(err error) int {
	if errors.Is(err, config.ErrConfig) {
		return 2
	}

	return 1
}
