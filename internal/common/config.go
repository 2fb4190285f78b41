package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Source      SourceConfig    `toml:"source"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	LLM         LLMConfig       `toml:"llm"`
	Scan        ScanConfig      `toml:"scan"`
	RateLimit   RateLimitConfig `toml:"ratelimit"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SourceConfig configures the X API v2 source client
type SourceConfig struct {
	BaseURL       string `toml:"base_url"`
	BearerToken   string `toml:"bearer_token"`   // Also via CIRCLESIFT_X_BEARER_TOKEN
	DefaultTarget string `toml:"default_target"` // User ID scanned when a trigger omits the target
	PageSize      int    `toml:"page_size" validate:"gt=0,lte=1000"`
	Timeout       string `toml:"timeout"` // e.g. "30s"
}

// ClaudeConfig contains Anthropic Claude settings
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"` // Also via ANTHROPIC_API_KEY
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

// GeminiConfig contains Google Gemini settings
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"` // Also via GEMINI_API_KEY
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
}

// LLMConfig selects the classification provider
type LLMConfig struct {
	DefaultProvider string `toml:"default_provider"` // "claude" or "gemini"
}

// ScanConfig tunes the scan pipeline
type ScanConfig struct {
	Classifier          string  `toml:"classifier"` // "ai" (default) or "rules"
	DiscoverySampleSize int     `toml:"discovery_sample_size" validate:"gt=0"`
	BatchSize           int     `toml:"batch_size" validate:"gt=0"`
	BatchConcurrency    int     `toml:"batch_concurrency" validate:"gt=0"`
	ConfidenceThreshold float64 `toml:"confidence_threshold" validate:"gte=0,lte=1"`
	MaxRetries          int     `toml:"max_retries" validate:"gte=0"`
	PersistChunkSize    int     `toml:"persist_chunk_size" validate:"gt=0"`
	PersistRetries      int     `toml:"persist_retries" validate:"gte=0"`
	RetentionWindow     string  `toml:"retention_window"` // How long terminal jobs stay queryable, e.g. "1h"
	RetryBaseDelay      string  `toml:"retry_base_delay"`
	RetryMaxDelay       string  `toml:"retry_max_delay"`
}

// RateLimitConfig sizes the shared sliding-window limiters
type RateLimitConfig struct {
	SourceRequests int    `toml:"source_requests" validate:"gt=0"` // Quota per window for the source API
	SourceWindow   string `toml:"source_window"`                   // e.g. "15m"
	LLMRequests    int    `toml:"llm_requests" validate:"gt=0"`
	LLMWindow      string `toml:"llm_window"`
}

// WebSocketConfig controls progress streaming
type WebSocketConfig struct {
	PushInterval string `toml:"push_interval"` // Min interval between pushed events per client, e.g. "1s"
}

// SchedulerConfig enables cron-triggered rescans of the default target
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron expression, e.g. "0 3 * * *"
}

// NewDefaultConfig returns a Config populated with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/circlesift",
			},
		},
		Source: SourceConfig{
			BaseURL:  "https://api.twitter.com/2",
			PageSize: 1000,
			Timeout:  "30s",
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Temperature: 0.3,
			Timeout:     "120s",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.3,
		},
		LLM: LLMConfig{
			DefaultProvider: "claude",
		},
		Scan: ScanConfig{
			Classifier:          "ai",
			DiscoverySampleSize: 200,
			BatchSize:           50,
			BatchConcurrency:    3,
			ConfidenceThreshold: 0.8,
			MaxRetries:          2,
			PersistChunkSize:    100,
			PersistRetries:      2,
			RetentionWindow:     "1h",
			RetryBaseDelay:      "2s",
			RetryMaxDelay:       "30s",
		},
		RateLimit: RateLimitConfig{
			SourceRequests: 50,
			SourceWindow:   "15m",
			LLMRequests:    60,
			LLMWindow:      "1m",
		},
		WebSocket: WebSocketConfig{
			PushInterval: "1s",
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 3 * * *",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CIRCLESIFT_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("CIRCLESIFT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CIRCLESIFT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if level := os.Getenv("CIRCLESIFT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CIRCLESIFT_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if path := os.Getenv("CIRCLESIFT_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	if token := os.Getenv("CIRCLESIFT_X_BEARER_TOKEN"); token != "" {
		config.Source.BearerToken = token
	}
	if target := os.Getenv("CIRCLESIFT_X_TARGET"); target != "" {
		config.Source.DefaultTarget = target
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}
	if provider := os.Getenv("CIRCLESIFT_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = provider
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks structural constraints on the loaded configuration
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, val := range map[string]string{
		"source.timeout":          c.Source.Timeout,
		"claude.timeout":          c.Claude.Timeout,
		"scan.retention_window":   c.Scan.RetentionWindow,
		"scan.retry_base_delay":   c.Scan.RetryBaseDelay,
		"scan.retry_max_delay":    c.Scan.RetryMaxDelay,
		"ratelimit.source_window": c.RateLimit.SourceWindow,
		"ratelimit.llm_window":    c.RateLimit.LLMWindow,
		"websocket.push_interval": c.WebSocket.PushInterval,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// Duration parses a config duration string, falling back to def when unset.
func Duration(val string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
