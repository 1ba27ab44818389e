package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice console
type Config struct {
	// Token service endpoint. The session cannot start without it, but its
	// absence is surfaced as a session-level credential error rather than a
	// load failure so the console can still render a remediation message.
	TokenServiceURL string `envconfig:"TOKEN_SERVICE_URL" default:""`

	// Conversation parameters forwarded to the token service
	Voice       string  `envconfig:"VOICE" default:"ara"`
	Personality string  `envconfig:"PERSONALITY" default:"assistant"`
	Speed       float64 `envconfig:"SPEED" default:"1.0"`

	// Media configuration
	CaptureSampleRate  int `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"` // Hz, mono 16-bit PCM
	PlaybackBufferSize int `envconfig:"PLAYBACK_BUFFER_SIZE" default:"8192"` // Ring buffer size in bytes

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"true"`      // Pretty print logs (console output)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	MetricsAddr    string `envconfig:"METRICS_ADDR" default:":9090"`   // Listen address for /metrics and health endpoints
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Speed <= 0 {
		return nil, fmt.Errorf("SPEED must be positive, got %v", cfg.Speed)
	}
	if cfg.CaptureSampleRate <= 0 {
		return nil, fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive, got %d", cfg.CaptureSampleRate)
	}
	if cfg.PlaybackBufferSize <= 0 {
		return nil, fmt.Errorf("PLAYBACK_BUFFER_SIZE must be positive, got %d", cfg.PlaybackBufferSize)
	}

	cfg.TokenServiceURL = strings.TrimSpace(cfg.TokenServiceURL)

	return &cfg, nil
}
