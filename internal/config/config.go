package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pauljones0/profile-scraper/internal/validator"
)

type Config struct {
	CDPEndpoint   string `validate:"required,url"`
	BrowserDriver string `validate:"oneof=playwright chromedp file"`
	// PageFile is the saved profile page read by the file driver.
	PageFile  string `validate:"required_if=BrowserDriver file"`
	OutputDir string `validate:"required"`

	ScrollStep        int           `validate:"gt=0"`
	SettleDelay       time.Duration `validate:"gte=0"`
	MaxStableAttempts int           `validate:"gte=1"`
	QueryTimeout      time.Duration `validate:"gt=0"`
	StabilizeTimeout  time.Duration `validate:"gt=0"`
	ScrollsPerSecond  float64       `validate:"gte=0"`
	ConnectRetries    int           `validate:"gte=0"`

	ProjectID         string
	MaxStoredRuns     int `validate:"gte=0"`
	SQLitePath        string
	DiscordWebhookURL string `validate:"omitempty,url"`

	SelectorsConfigPath string
	LogLevel            string `validate:"oneof=debug info warn error"`
	LogFile             string
}

func Load() (*Config, error) {
	cfg := &Config{
		CDPEndpoint:         envOr("CDP_ENDPOINT", "http://localhost:9222"),
		BrowserDriver:       envOr("BROWSER_DRIVER", "playwright"),
		PageFile:            os.Getenv("PAGE_FILE"),
		OutputDir:           envOr("OUTPUT_DIR", "."),
		ProjectID:           os.Getenv("GOOGLE_CLOUD_PROJECT"),
		SQLitePath:          os.Getenv("SQLITE_PATH"),
		DiscordWebhookURL:   os.Getenv("DISCORD_WEBHOOK_URL"),
		SelectorsConfigPath: os.Getenv("SELECTORS_CONFIG_PATH"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFile:             os.Getenv("LOG_FILE"),
	}

	var err error
	if cfg.ScrollStep, err = intEnv("SCROLL_STEP", 800); err != nil {
		return nil, err
	}
	if cfg.SettleDelay, err = durationEnv("SETTLE_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxStableAttempts, err = intEnv("MAX_STABLE_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = durationEnv("QUERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StabilizeTimeout, err = durationEnv("STABILIZE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ScrollsPerSecond, err = floatEnv("SCROLLS_PER_SECOND", 1); err != nil {
		return nil, err
	}
	if cfg.ConnectRetries, err = intEnv("CONNECT_RETRIES", 2); err != nil {
		return nil, err
	}
	if cfg.MaxStoredRuns, err = intEnv("MAX_STORED_RUNS", 50); err != nil {
		return nil, err
	}

	if err := validator.New().ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.ProjectID == "" {
		slog.Info("GOOGLE_CLOUD_PROJECT not set, results will only be written to disk")
	}
	if cfg.DiscordWebhookURL == "" {
		slog.Info("DISCORD_WEBHOOK_URL not set, Discord notifications will be skipped")
	}
	return cfg, nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}
