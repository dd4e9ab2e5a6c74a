package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config keeps runtime settings for the client. Everything comes from the
// environment (a .env file is honored) with on-device defaults.
type Config struct {
	// BaseURL of the remote task API.
	BaseURL string `env:"TASKSYNC_BASE_URL" env-default:"http://localhost:8080"`
	// DatabaseURL is the SQLite DSN; defaults to ~/.tasksync/tasks.db.
	DatabaseURL string `env:"TASKSYNC_DATABASE_URL"`
	// TokenFile holds the session token; defaults to ~/.tasksync/token.
	TokenFile string `env:"TASKSYNC_TOKEN_FILE"`

	HTTPTimeout   time.Duration `env:"TASKSYNC_HTTP_TIMEOUT" env-default:"10s"`
	ProbeInterval time.Duration `env:"TASKSYNC_PROBE_INTERVAL" env-default:"15s"`
	// Debounce is the minimum gap between committed connectivity
	// transitions; flips inside the window are ignored.
	Debounce time.Duration `env:"TASKSYNC_DEBOUNCE" env-default:"2s"`
	// DrainRetryInterval re-runs the drain in watch mode even without a
	// connectivity transition, picking up rows whose immediate push failed.
	DrainRetryInterval time.Duration `env:"TASKSYNC_DRAIN_RETRY_INTERVAL" env-default:"5m"`
	// ReportTime, HH:MM, logs a daily summary in watch mode when set.
	ReportTime string `env:"TASKSYNC_REPORT_TIME"`

	LogLevel string `env:"TASKSYNC_LOG_LEVEL" env-default:"info"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}

	if cfg.DatabaseURL == "" || cfg.TokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve home dir: %w", err)
		}
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = filepath.Join(home, ".tasksync", "tasks.db")
		}
		if cfg.TokenFile == "" {
			cfg.TokenFile = filepath.Join(home, ".tasksync", "token")
		}
	}
	return cfg, nil
}
