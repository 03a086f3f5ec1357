// Package telegram delivers rendered chat messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"ntfy2tg/pkg/bus"
	"ntfy2tg/pkg/config"
	"ntfy2tg/pkg/logger"
)

const (
	callTimeout = 15 * time.Second

	// maxRetryAfter bounds a flood-control hint so one message cannot stall the pipeline for minutes.
	maxRetryAfter = time.Minute
)

// Sender is the subset of the Bot API the client needs. *telego.Bot satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	GetMe(ctx context.Context) (*telego.User, error)
}

// DeliveryError describes a message the Bot API did not accept.
type DeliveryError struct {
	// StatusCode is the Bot API error_code, zero for transport failures.
	StatusCode int
	// Permanent reports that retrying the same request cannot succeed.
	Permanent  bool
	RetryAfter time.Duration
	Attempts   int
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("telegram delivery failed (%s, code %d, %d attempts): %v", kind, e.StatusCode, e.Attempts, e.Err)
	}

	return fmt.Sprintf("telegram delivery failed (%s, %d attempts): %v", kind, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Options bounds retries and send rate.
type Options struct {
	// Retries is the number of extra attempts after the first one.
	Retries    int
	RetryDelay time.Duration
	RatePerSec int
}

// Client sends chat messages to one configured chat.
type Client struct {
	sender  Sender
	chatID  telego.ChatID
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

// New builds a client backed by a real bot for cfg.
func New(cfg config.TelegramConfig, log *slog.Logger) (*Client, error) {
	botOpts := []telego.BotOption{telego.WithDiscardLogger()}
	if server := strings.TrimRight(strings.TrimSpace(cfg.APIServer), "/"); server != "" {
		botOpts = append(botOpts, telego.WithAPIServer(server))
	}

	bot, err := telego.NewBot(strings.TrimSpace(cfg.Token), botOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return NewClient(bot, cfg.ChatID, Options{
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		RatePerSec: cfg.RatePerSec,
	}, log)
}

// NewClient wires a client around sender. chatID is a numeric chat id or an @channel username.
func NewClient(sender Sender, chatID string, opts Options, log *slog.Logger) (*Client, error) {
	if sender == nil {
		return nil, errors.New("telegram sender is required")
	}

	target, err := ParseChatID(chatID)
	if err != nil {
		return nil, err
	}

	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}

	if log == nil {
		log = slog.Default()
	}

	return &Client{
		sender:  sender,
		chatID:  target,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		log:     log.With("component", "telegram.client", "chat_id", target.String()),
	}, nil
}

// ParseChatID accepts a numeric chat id (negative for groups and channels) or an @username.
func ParseChatID(raw string) (telego.ChatID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return telego.ChatID{}, errors.New("telegram chat id is required")
	}

	if strings.HasPrefix(raw, "@") {
		if len(raw) < 2 || strings.ContainsAny(raw, " /") {
			return telego.ChatID{}, fmt.Errorf("invalid telegram chat username %q", raw)
		}
		return tu.Username(raw), nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return telego.ChatID{}, fmt.Errorf("invalid telegram chat id %q", raw)
	}

	return tu.ID(id), nil
}

// Verify checks the bot credentials with getMe and returns the bot username.
func (c *Client) Verify(ctx context.Context) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	me, err := c.sender.GetMe(callCtx)
	if err != nil {
		return "", classify(ctx, err, 1)
	}

	return me.Username, nil
}

// Deliver sends msg, retrying transient failures with a bounded linear backoff.
//
// The returned error is a *DeliveryError once the message is given up on.
func (c *Client) Deliver(ctx context.Context, msg bus.ChatMessage) error {
	params := c.params(msg)
	log := c.log.With("topic", msg.Topic, "message_id", msg.MessageID)

	var (
		attempts int
		last     *DeliveryError
	)

	_, err := backoff.Retry(ctx, func() (*telego.Message, error) {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			last = &DeliveryError{Permanent: true, Attempts: attempts, Err: err}
			return nil, backoff.Permanent(last)
		}

		sent, err := c.send(ctx, params)
		if err == nil {
			return sent, nil
		}

		last = classify(ctx, err, attempts)
		switch {
		case last.Permanent:
			return nil, backoff.Permanent(last)
		case last.RetryAfter > 0:
			return nil, backoff.RetryAfter(int(last.RetryAfter / time.Second))
		default:
			return nil, last
		}
	},
		backoff.WithBackOff(&linearBackOff{step: c.opts.RetryDelay}),
		backoff.WithMaxTries(uint(c.opts.Retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			log.Warn("Retrying telegram delivery", "attempt", attempts, "delay", delay, "error", err)
		}),
	)
	if err == nil {
		log.Debug("Delivered message", "attempts", attempts, "content", logger.Preview(msg.Text))
		return nil
	}

	if last == nil {
		last = &DeliveryError{Err: err}
	}
	last.Attempts = attempts
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		last.Permanent = true
	}

	if isParseError(last) && params.ParseMode != "" {
		return c.deliverPlain(ctx, params, last, log)
	}

	return last
}

// deliverPlain resends a message Telegram could not parse as plain text, once.
func (c *Client) deliverPlain(ctx context.Context, params *telego.SendMessageParams, cause *DeliveryError, log *slog.Logger) error {
	log.Warn("Telegram rejected markdown, resending as plain text", "error", cause.Err)

	plain := *params
	plain.ParseMode = ""
	plain.Text = UnescapeMarkdownV2(params.Text)

	if err := c.limiter.Wait(ctx); err != nil {
		return cause
	}
	if _, err := c.send(ctx, &plain); err != nil {
		return classify(ctx, err, cause.Attempts+1)
	}

	return nil
}

func (c *Client) send(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	return c.sender.SendMessage(callCtx, params)
}

func (c *Client) params(msg bus.ChatMessage) *telego.SendMessageParams {
	params := &telego.SendMessageParams{
		ChatID:             c.chatID,
		Text:               msg.Text,
		ParseMode:          msg.ParseMode,
		LinkPreviewOptions: &telego.LinkPreviewOptions{IsDisabled: true},
	}

	if msg.Link != nil && msg.Link.URL != "" {
		params.ReplyMarkup = tu.InlineKeyboard(
			tu.InlineKeyboardRow(tu.InlineKeyboardButton(msg.Link.Label).WithURL(msg.Link.URL)),
		)
	}

	return params
}

// classify maps a send failure onto a DeliveryError.
//
// Bot API 4xx answers are permanent except 429, which carries a retry_after hint.
// 5xx answers and transport errors are transient.
func classify(ctx context.Context, err error, attempts int) *DeliveryError {
	out := &DeliveryError{Attempts: attempts, Err: err}

	if ctx.Err() != nil {
		out.Permanent = true
		return out
	}

	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return out
	}

	out.StatusCode = apiErr.ErrorCode
	switch {
	case apiErr.ErrorCode == 429:
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			out.RetryAfter = min(time.Duration(apiErr.Parameters.RetryAfter)*time.Second, maxRetryAfter)
		}
	case apiErr.ErrorCode >= 500:
	case apiErr.ErrorCode >= 400:
		out.Permanent = true
	}

	return out
}

func isParseError(err *DeliveryError) bool {
	if err == nil || err.StatusCode != 400 {
		return false
	}

	var apiErr *telegoapi.Error
	if !errors.As(err.Err, &apiErr) {
		return false
	}

	return strings.Contains(strings.ToLower(apiErr.Description), "can't parse entities")
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// UnescapeMarkdownV2 strips MarkdownV2 escapes so rendered text reads naturally without a parse mode.
func UnescapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	escaped := false
	for _, r := range text {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}

	return b.String()
}
