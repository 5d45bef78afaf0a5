package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the server reads from the environment. A .env file
// in the working directory is honored for local development.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	JDoodleClientID     string        `envconfig:"JDOODLE_CLIENT_ID"`
	JDoodleClientSecret string        `envconfig:"JDOODLE_CLIENT_SECRET"`
	JDoodleURL          string        `envconfig:"JDOODLE_URL" default:"https://api.jdoodle.com/v1/execute"`
	ExecuteTimeout      time.Duration `envconfig:"EXECUTE_TIMEOUT" default:"30s"`

	HistoryDBPath        string        `envconfig:"HISTORY_DB_PATH" default:"./data/history.db"`
	HistoryKeepPerRoom   int           `envconfig:"HISTORY_KEEP_PER_ROOM" default:"50"`
	HistoryPruneInterval time.Duration `envconfig:"HISTORY_PRUNE_INTERVAL" default:"10m"`

	RunPerMinute        float64 `envconfig:"RUN_PER_MINUTE" default:"10"`
	RunBurst            int     `envconfig:"RUN_BURST" default:"3"`
	WSMessagesPerSecond float64 `envconfig:"WS_MESSAGES_PER_SECOND" default:"100"`
	WSMessageBurst      int     `envconfig:"WS_MESSAGE_BURST" default:"200"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps the configured level name onto a slog level, defaulting to
// info for anything unrecognized.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
