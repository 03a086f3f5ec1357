package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"ntfy2tg/pkg/config"
	"ntfy2tg/pkg/logger"
	"ntfy2tg/pkg/telegram"
)

var checkVerifyBot bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and print it with secrets masked",
	Long:  "Resolves the configuration exactly like run does, prints a summary and exits non-zero when it is invalid.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderSummary(cfg))

		if !checkVerifyBot {
			return nil
		}

		log, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrConfig, err)
		}
		client, err := telegram.New(cfg.Telegram, log)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrConfig, err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		username, err := client.Verify(ctx)
		if err != nil {
			return fmt.Errorf("verify telegram bot: %w", err)
		}
		fmt.Fprintln(out, okStyle.Render("bot verified: @"+username))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkVerifyBot, "verify-bot", false, "call getMe to confirm the bot token is accepted")
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// renderSummary lists the resolved configuration. Credentials are masked.
func renderSummary(cfg *config.Config) string {
	urls := make([]string, 0, len(cfg.Ntfy.Topics))
	for _, topic := range cfg.Ntfy.Topics {
		urls = append(urls, cfg.Ntfy.TopicURL(topic))
	}

	statusAddr := cfg.Gateway.StatusAddr
	if statusAddr == "" {
		statusAddr = "disabled"
	}

	section := func(title string, rows [][2]string) string {
		lines := []string{titleStyle.Render(title)}
		for _, row := range rows {
			lines = append(lines, keyStyle.Render(row[0])+" "+row[1])
		}
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		section("ntfy", [][2]string{
			{"server", cfg.Ntfy.Address},
			{"topics", strings.Join(cfg.Ntfy.Topics, ", ")},
			{"urls", strings.Join(urls, ", ")},
			{"auth", cfg.Ntfy.AuthMethod()},
			{"username", valueOrUnset(cfg.Ntfy.Username)},
			{"password", mask(cfg.Ntfy.Password)},
			{"token", mask(cfg.Ntfy.Token)},
			{"include topic", strconv.FormatBool(cfg.Ntfy.IncludeTopic)},
			{"backoff", cfg.Ntfy.BackoffInitial.String() + " to " + cfg.Ntfy.BackoffMax.String()},
		}),
		"",
		section("telegram", [][2]string{
			{"chat id", cfg.Telegram.ChatID},
			{"bot token", mask(cfg.Telegram.Token)},
			{"api server", valueOrUnset(cfg.Telegram.APIServer)},
			{"retries", strconv.Itoa(cfg.Telegram.Retries)},
			{"rate", strconv.Itoa(cfg.Telegram.RatePerSec) + "/s"},
		}),
		"",
		section("gateway", [][2]string{
			{"status server", statusAddr},
			{"shutdown grace", cfg.Gateway.ShutdownGrace.String()},
		}),
	)
}

// mask keeps the first and last two characters of long secrets only.
func mask(secret string) string {
	switch {
	case secret == "":
		return "(unset)"
	case len(secret) <= 8:
		return "********"
	default:
		return secret[:2] + "********" + secret[len(secret)-2:]
	}
}

func valueOrUnset(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(unset)"
	}

	return value
}
