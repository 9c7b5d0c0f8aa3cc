// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults for optional settings.
const (
	DefaultDatabasePath       = "./data/dashboard.db"
	DefaultListenAddr         = ":5000"
	DefaultLogLevel           = "info"
	DefaultRefreshSchedule    = "*/15 * * * *"
	DefaultFetchTimeout       = 30 * time.Second
	DefaultRefreshConcurrency = 4
)

// Config holds the application configuration.
type Config struct {
	DatabasePath       string
	ListenAddr         string
	LogLevel           string
	RefreshSchedule    string
	FetchTimeout       time.Duration
	RefreshConcurrency int
	FeedsFile          string

	// TelegramBotToken enables the Telegram front end when set.
	TelegramBotToken string
	AllowedUsers     []int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:       envOrDefault("DATABASE_PATH", DefaultDatabasePath),
		ListenAddr:         envOrDefault("LISTEN_ADDR", DefaultListenAddr),
		LogLevel:           envOrDefault("LOG_LEVEL", DefaultLogLevel),
		RefreshSchedule:    envOrDefault("REFRESH_SCHEDULE", DefaultRefreshSchedule),
		FetchTimeout:       DefaultFetchTimeout,
		RefreshConcurrency: DefaultRefreshConcurrency,
		FeedsFile:          strings.TrimSpace(os.Getenv("FEEDS_FILE")),
		TelegramBotToken:   strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
	}

	if _, err := cron.ParseStandard(cfg.RefreshSchedule); err != nil {
		return nil, fmt.Errorf("invalid REFRESH_SCHEDULE %q: %w", cfg.RefreshSchedule, err)
	}

	if raw := os.Getenv("FETCH_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FETCH_TIMEOUT %q: %w", raw, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", d)
		}
		cfg.FetchTimeout = d
	}

	if raw := os.Getenv("REFRESH_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REFRESH_CONCURRENCY %q: %w", raw, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("REFRESH_CONCURRENCY must be at least 1, got %d", n)
		}
		cfg.RefreshConcurrency = n
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	return cfg, nil
}

// BotEnabled reports whether the Telegram front end should run.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
