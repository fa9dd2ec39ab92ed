package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Mailbox
	EmailAddress  string `env:"EMAIL_ADDRESS,required"`
	EmailPassword string `env:"EMAIL_PASSWORD,required"`

	// IMAP
	IMAPAddr        string        `env:"IMAP_ADDR"` // host:port, resolved from the email domain if empty
	IMAPTLS         bool          `env:"IMAP_TLS" envDefault:"true"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// HTTP
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/codeinbox.db"`

	// Retention
	RetentionDays int `env:"RETENTION_DAYS" envDefault:"7"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if !strings.Contains(cfg.EmailAddress, "@") {
		return nil, fmt.Errorf("EMAIL_ADDRESS %q is not an email address", cfg.EmailAddress)
	}

	if cfg.RetentionDays <= 0 {
		return nil, fmt.Errorf("RETENTION_DAYS must be positive, got %d", cfg.RetentionDays)
	}

	// Resolve the IMAP server from the mailbox domain when not configured
	if cfg.IMAPAddr == "" {
		addr, err := ResolveIMAPServer(cfg.EmailAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IMAP server for %s: %w", cfg.EmailAddress, err)
		}
		cfg.IMAPAddr = addr
	}

	return cfg, nil
}
