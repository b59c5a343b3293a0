package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ManifestBaseURL string `envconfig:"MANIFEST_BASE_URL" required:"true"`
	SourceToken     string `envconfig:"SOURCE_TOKEN"`

	DBPath  string `envconfig:"DB_PATH" default:"downloads.db"`
	BlobDir string `envconfig:"BLOB_DIR" default:"blobs"`

	ChunkSize      int           `envconfig:"CHUNK_SIZE" default:"262144"`
	MaxAttempts    uint          `envconfig:"MAX_ATTEMPTS" default:"3"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5m"`
	MaxParallel    int           `envconfig:"MAX_PARALLEL" default:"2"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"offline_downloader"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
