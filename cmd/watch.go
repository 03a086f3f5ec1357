package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ntfy2tg/pkg/bus"
	"ntfy2tg/pkg/config"
	"ntfy2tg/pkg/logger"
	"ntfy2tg/pkg/telegram"
	"ntfy2tg/pkg/ui/monitor"
)

var watchLogFile string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the forwarder with a live terminal dashboard",
	Long:  "Runs the forwarder like run does and shows per-topic connection state and message outcomes until you quit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		var logWriter io.Writer = io.Discard
		if watchLogFile != "" {
			file, err := os.OpenFile(watchLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer file.Close()
			logWriter = file
		}

		appLogger, err := logger.NewWithWriter(cfg.Logging, logWriter)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrConfig, err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.watch")

		client, err := telegram.New(cfg.Telegram, log)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrConfig, err)
		}

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		signalCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(signalCtx)
		defer cancel()

		events := bus.NewEventBus()
		defer events.Close()
		feed, unsubscribe := events.SubscribeEvents(ctx, 512)
		defer unsubscribe()

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- serve(ctx, cfg, client, events, log)
			cancel()
		}()

		uiErr := monitor.Run(ctx, cfg.Ntfy.Topics, feed)
		cancel()

		if err := <-serveErr; err != nil {
			return err
		}
		return uiErr
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "append logs to this file while the dashboard owns the terminal")
}
