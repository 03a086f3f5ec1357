package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ntfy2tg/pkg/bus"
	"ntfy2tg/pkg/config"
	"ntfy2tg/pkg/ntfy"
)

func testConfig() *config.Config {
	return &config.Config{
		Ntfy: config.NtfyConfig{
			Protocol:       "wss",
			Address:        "ntfy.example.com",
			Topics:         []string{"alerts", "backups"},
			Username:       "phil",
			Password:       "supersecretpassword",
			ClickLabel:     "Open",
			BackoffInitial: time.Second,
			BackoffMax:     time.Minute,
			ReadTimeout:    90 * time.Second,
		},
		Telegram: config.TelegramConfig{
			ChatID:     "-100123",
			Token:      "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi",
			Retries:    3,
			RatePerSec: 20,
		},
		Gateway: config.GatewayConfig{ShutdownGrace: 10 * time.Second},
	}
}

func TestBuildListenersOnePerTopic(t *testing.T) {
	t.Parallel()

	events := bus.NewEventBus()
	defer events.Close()

	listeners, err := buildListeners(testConfig(), events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.Len(t, listeners, 2)
	require.Equal(t, "alerts", listeners[0].Name())
	require.Equal(t, "backups", listeners[1].Name())

	listener, ok := listeners[0].(*ntfy.Listener)
	require.True(t, ok)
	require.Equal(t, ntfy.StateConnecting, listener.State())
}

func TestBuildListenersRequiresTopics(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Ntfy.Topics = nil
	_, err := buildListeners(cfg, nil, nil)
	require.Error(t, err)
}

func TestBuildListenersRejectsBadProtocol(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Ntfy.Protocol = "http"
	_, err := buildListeners(cfg, nil, nil)
	require.ErrorContains(t, err, "alerts")
}

func TestRenderSummaryMasksSecrets(t *testing.T) {
	t.Parallel()

	summary := renderSummary(testConfig())

	require.Contains(t, summary, "wss://ntfy.example.com/alerts/ws")
	require.Contains(t, summary, "wss://ntfy.example.com/backups/ws")
	require.Contains(t, summary, "basic")
	require.Contains(t, summary, "phil")
	require.Contains(t, summary, "-100123")
	require.Contains(t, summary, "disabled")
	require.NotContains(t, summary, "supersecretpassword")
	require.NotContains(t, summary, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	require.Contains(t, summary, "su********rd")
}

func TestMask(t *testing.T) {
	t.Parallel()

	require.Equal(t, "(unset)", mask(""))
	require.Equal(t, "********", mask("short"))
	require.Equal(t, "ab********yz", mask("abcdefghijklmnopqrstuvwxyz"))
	require.False(t, strings.Contains(mask("tk_0123456789abcdef"), "0123456789"))
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2, exitCode(fmt.Errorf("%w: NTFY_TOPIC is empty", config.ErrConfig)))
	require.Equal(t, 1, exitCode(errors.New("gateway runtime failed")))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	names := make([]string, 0, len(rootCmd.Commands()))
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}

	require.Contains(t, names, "run")
	require.Contains(t, names, "check")
	require.Contains(t, names, "watch")
}
