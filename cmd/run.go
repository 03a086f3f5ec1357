package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ntfy2tg/pkg/bus"
	"ntfy2tg/pkg/config"
	"ntfy2tg/pkg/format"
	"ntfy2tg/pkg/gateway"
	"ntfy2tg/pkg/logger"
	"ntfy2tg/pkg/ntfy"
	"ntfy2tg/pkg/source"
	"ntfy2tg/pkg/telegram"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the forwarder (default)",
	Long:  "Subscribes to every configured ntfy topic and forwards messages to Telegram until interrupted.",
	RunE:  runForwarder,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runForwarder(cmd *cobra.Command, args []string) error {
	_ = args

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	slog.SetDefault(appLogger)
	log := slog.Default().With("component", "cmd.run")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := telegram.New(cfg.Telegram, log)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfig, err)
	}

	events := bus.NewEventBus()
	defer events.Close()

	return serve(runCtx, cfg, client, events, log)
}

// serve verifies the bot, builds one listener per topic and blocks in the supervisor.
func serve(ctx context.Context, cfg *config.Config, client *telegram.Client, events *bus.EventBus, log *slog.Logger) error {
	if err := verifyBot(ctx, client, log); err != nil {
		return err
	}

	listeners, err := buildListeners(cfg, events, log)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfig, err)
	}

	mapper := format.NewMapper(format.Options{
		IncludeTopic: cfg.Ntfy.IncludeTopic,
		ClickLabel:   cfg.Ntfy.ClickLabel,
	})

	svc, err := gateway.NewService(cfg.Gateway, listeners, mapper, client, events, log)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	log.Info("Forwarding notifications",
		"server", cfg.Ntfy.Address,
		"topics", strings.Join(cfg.Ntfy.Topics, ","),
		"auth", cfg.Ntfy.AuthMethod(),
		"chat_id", cfg.Telegram.ChatID,
	)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gateway runtime failed: %w", err)
	}

	return nil
}

// verifyBot fails fast on a rejected bot token. Transport errors only warn so a flaky network at
// boot does not keep the forwarder down.
func verifyBot(ctx context.Context, client *telegram.Client, log *slog.Logger) error {
	username, err := client.Verify(ctx)
	if err == nil {
		log.Info("Telegram bot verified", "bot", username)
		return nil
	}

	var deliveryErr *telegram.DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.Permanent && ctx.Err() == nil {
		return fmt.Errorf("%w: telegram rejected bot token: %w", config.ErrConfig, err)
	}

	log.Warn("Could not verify telegram bot, continuing", "error", err)
	return nil
}

func buildListeners(cfg *config.Config, events *bus.EventBus, log *slog.Logger) ([]source.Source, error) {
	listeners := make([]source.Source, 0, len(cfg.Ntfy.Topics))
	for _, topic := range cfg.Ntfy.Topics {
		listener, err := ntfy.NewListener(ntfy.ListenerConfig{
			Topic:          topic,
			URL:            cfg.Ntfy.TopicURL(topic),
			AuthHeader:     cfg.Ntfy.AuthHeader(),
			BackoffInitial: cfg.Ntfy.BackoffInitial,
			BackoffMax:     cfg.Ntfy.BackoffMax,
			Jitter:         ntfy.DefaultJitter,
			ReadTimeout:    cfg.Ntfy.ReadTimeout,
			DeliveryGrace:  cfg.Gateway.ShutdownGrace,
		}, events, log)
		if err != nil {
			return nil, fmt.Errorf("configure listener for topic %q: %w", topic, err)
		}
		listeners = append(listeners, listener)
	}

	if len(listeners) == 0 {
		return nil, errors.New("no topics are configured")
	}

	return listeners, nil
}
