package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// ErrConfig marks a configuration problem that must stop the process before any listener starts.
var ErrConfig = errors.New("invalid configuration")

var validate = validator.New()

// Config is the immutable runtime configuration resolved once at startup.
type Config struct {
	Ntfy     NtfyConfig
	Telegram TelegramConfig
	Gateway  GatewayConfig
	Logging  LoggingConfig
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `env:"LOG_FORMAT"`
	Level     string `env:"LOG_LEVEL"`
	AddSource bool   `env:"LOG_ADD_SOURCE"`
}

// NtfyConfig describes the notification server subscription.
type NtfyConfig struct {
	Protocol       string        `env:"NTFY_WS_PROTOCOL"     envDefault:"ws"     validate:"oneof=ws wss"`
	Address        string        `env:"NTFY_SERVER_ADDRESS,required,notEmpty"`
	Topics         []string      `env:"NTFY_TOPIC,required,notEmpty" envSeparator:","`
	Username       string        `env:"NTFY_USERNAME"`
	Password       string        `env:"NTFY_PASSWORD"`
	Token          string        `env:"NTFY_TOKEN"`
	IncludeTopic   bool          `env:"NTFY_INCLUDE_TOPIC"   envDefault:"false"`
	ClickLabel     string        `env:"NTFY_CLICK_LABEL"     envDefault:"Open"`
	BackoffInitial time.Duration `env:"NTFY_BACKOFF_INITIAL" envDefault:"1s"     validate:"gt=0"`
	BackoffMax     time.Duration `env:"NTFY_BACKOFF_MAX"     envDefault:"1m"     validate:"gtefield=BackoffInitial"`
	ReadTimeout    time.Duration `env:"NTFY_READ_TIMEOUT"    envDefault:"90s"    validate:"gt=0"`
}

// TelegramConfig configures the bot used for delivery.
type TelegramConfig struct {
	ChatID     string        `env:"TG_CHAT_ID,required,notEmpty"`
	Token      string        `env:"TG_BOT_TOKEN,required,notEmpty"`
	APIServer  string        `env:"TG_API_SERVER"   validate:"omitempty,url"`
	Retries    int           `env:"TG_SEND_RETRIES" envDefault:"3"  validate:"gte=0,lte=10"`
	RetryDelay time.Duration `env:"TG_RETRY_DELAY"  envDefault:"1s" validate:"gte=0"`
	RatePerSec int           `env:"TG_RATE_PER_SEC" envDefault:"20" validate:"gt=0"`
}

// GatewayConfig configures the supervisor and its status server.
type GatewayConfig struct {
	StatusAddr    string        `env:"STATUS_ADDR"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s" validate:"gte=0"`
}

// LoadConfig merges the optional .env file under the process environment and resolves the config.
//
// Real environment variables always win over .env entries. ENV_FILE overrides the .env location.
func LoadConfig() (*Config, error) {
	envFile := defaultEnvFile
	if value := strings.TrimSpace(os.Getenv("ENV_FILE")); value != "" {
		envFile = value
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: load %s: %w", ErrConfig, envFile, err)
	}

	return Parse(env.Options{})
}

// Parse resolves the configuration from the environment described by opts.
func Parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	cfg.Ntfy.Address = normalizeAddress(cfg.Ntfy.Address)
	if cfg.Ntfy.Address == "" {
		return nil, fmt.Errorf("%w: NTFY_SERVER_ADDRESS is empty", ErrConfig)
	}
	cfg.Ntfy.Topics = parseTopics(cfg.Ntfy.Topics)
	if len(cfg.Ntfy.Topics) == 0 {
		return nil, fmt.Errorf("%w: NTFY_TOPIC contains no topics", ErrConfig)
	}
	for _, topic := range cfg.Ntfy.Topics {
		if strings.ContainsAny(topic, "/?# ") {
			return nil, fmt.Errorf("%w: malformed topic %q", ErrConfig, topic)
		}
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return &cfg, nil
}

// normalizeAddress strips a URL scheme and trailing slashes so the address can be combined with
// NTFY_WS_PROTOCOL.
func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	for _, scheme := range []string{"https://", "http://", "wss://", "ws://"} {
		if rest, ok := strings.CutPrefix(address, scheme); ok {
			address = rest
			break
		}
	}

	return strings.TrimRight(address, "/")
}

// parseTopics trims entries, drops empty ones and removes duplicates keeping first-seen order.
func parseTopics(input []string) []string {
	clean := make([]string, 0, len(input))
	for _, part := range input {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" || slices.Contains(clean, trimmed) {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// TopicURL returns the websocket subscription endpoint for one topic.
func (c NtfyConfig) TopicURL(topic string) string {
	u := url.URL{
		Scheme: c.Protocol,
		Host:   c.Address,
		Path:   "/" + topic + "/ws",
	}
	// Address may carry a path prefix for servers behind a reverse proxy.
	if host, prefix, ok := strings.Cut(c.Address, "/"); ok {
		u.Host = host
		u.Path = "/" + prefix + "/" + topic + "/ws"
	}

	return u.String()
}

// AuthHeader returns the Authorization header value, or "" when no credentials are configured.
//
// A token takes precedence over username/password. A password without username is treated as an
// already base64-encoded Basic credential.
func (c NtfyConfig) AuthHeader() string {
	token := strings.TrimSpace(c.Token)
	if token != "" {
		return "Bearer " + token
	}

	if c.Password == "" {
		return ""
	}

	if c.Username == "" {
		return "Basic " + c.Password
	}

	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password))
}

// AuthMethod names the auth scheme selected by AuthHeader.
func (c NtfyConfig) AuthMethod() string {
	switch header := c.AuthHeader(); {
	case header == "":
		return "none"
	case strings.HasPrefix(header, "Bearer "):
		return "token"
	default:
		return "basic"
	}
}
