// Package config loads and validates the fieldgate configuration file.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the fieldgate service.
type Config struct {
	Telegram     TelegramConfig     `yaml:"telegram"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Portal       PortalConfig       `yaml:"portal"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
	Storage      StorageConfig      `yaml:"storage"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// TelegramConfig configures the chat transport.
type TelegramConfig struct {
	// Token is the bot token from @BotFather (required).
	Token string `yaml:"token"`

	// RateLimit is the outbound API call budget in operations per second.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the burst capacity for outbound calls.
	RateBurst int `yaml:"rate_burst"`
}

// OpenAIConfig configures the intent-extraction capability.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// PortalConfig configures the idMe browser automation.
type PortalConfig struct {
	// BaseURL is the portal origin, e.g. https://idme.moe.gov.my.
	BaseURL string `yaml:"base_url"`

	// Headless controls whether Chromium runs without a display.
	Headless bool `yaml:"headless"`

	// NavTimeout bounds each page navigation.
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// CredentialsConfig configures the synced-cookie store.
type CredentialsConfig struct {
	// DSN is the PostgreSQL connection string for the sessions table
	// populated by the Chrome extension.
	DSN string `yaml:"dsn"`
}

// StorageConfig configures request and audit persistence.
type StorageConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for
	// ephemeral runs.
	Path string `yaml:"path"`
}

// ConfirmationConfig configures the human-in-the-loop gate.
type ConfirmationConfig struct {
	// Timeout is how long a pinned session waits for the operator
	// before it is reclaimed.
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate checks required fields and applies defaults in place.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.RateLimit == 0 {
		c.Telegram.RateLimit = 30 // Telegram's limit is ~30 messages per second
	}
	if c.Telegram.RateBurst == 0 {
		c.Telegram.RateBurst = 20
	}

	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o"
	}

	if c.Portal.BaseURL == "" {
		c.Portal.BaseURL = "https://idme.moe.gov.my"
	}
	if c.Portal.NavTimeout == 0 {
		c.Portal.NavTimeout = 30 * time.Second
	}

	if strings.TrimSpace(c.Credentials.DSN) == "" {
		return fmt.Errorf("credentials.dsn is required")
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "fieldgate.db"
	}

	if c.Confirmation.Timeout == 0 {
		c.Confirmation.Timeout = 5 * time.Minute
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	return nil
}
