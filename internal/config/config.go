// Package config provides configuration management for nca-go.
// Secrets can live in the environment instead of the config file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration structure.
type Config struct {
	Version   string          `toml:"version"`
	Server    ServerConfig    `toml:"server"`
	Highlight HighlightConfig `toml:"highlight"`
	UI        UIConfig        `toml:"ui"`
	Log       LogConfig       `toml:"log"`
	Store     StoreConfig     `toml:"store"`
}

// ServerConfig describes the chat backend.
type ServerConfig struct {
	// BaseURL of the chat server (e.g., "http://localhost:8000")
	BaseURL string `toml:"base_url"`

	// Token stores the bearer token directly (alternative to env var)
	Token string `toml:"token,omitempty"`

	// EnvKey is the environment variable holding the bearer token.
	// Default: NCA_TOKEN
	EnvKey string `toml:"env_key,omitempty"`

	// Timeout in seconds for non-streaming requests
	Timeout int `toml:"timeout,omitempty"`

	// LanguagePath is the language-definition endpoint, relative to BaseURL
	LanguagePath string `toml:"language_path,omitempty"`

	// Custom headers to add to requests
	Headers map[string]string `toml:"headers,omitempty"`

	Retry   *RetryConfig  `toml:"retry,omitempty"`
	Breaker BreakerConfig `toml:"breaker"`
}

// RetryConfig contains retry strategy configuration for idempotent requests.
type RetryConfig struct {
	MaxRetries      int     `toml:"max_retries"`      // 最大重试次数，默认 3
	InitialWaitMs   int     `toml:"initial_wait_ms"`  // 初始等待时间（毫秒），默认 300
	MaxWaitMs       int     `toml:"max_wait_ms"`      // 最大等待时间（毫秒），默认 5000
	ExponentialBase float64 `toml:"exponential_base"` // 指数基数，默认 2.0
	JitterMs        int     `toml:"jitter_ms"`        // 抖动范围（毫秒），默认 500
}

// BreakerConfig configures the circuit breaker around history and language requests.
type BreakerConfig struct {
	Disabled bool `toml:"disabled"`
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `toml:"consecutive_failures"`
	// OpenSeconds is how long the breaker stays open before probing again.
	OpenSeconds int `toml:"open_seconds"`
}

// HighlightConfig configures the lazy language loader.
type HighlightConfig struct {
	// Preloaded languages are considered loaded at startup.
	Preloaded []string `toml:"preloaded"`
	// FetchRate limits definition fetches per second; 0 disables the limit.
	FetchRate  float64 `toml:"fetch_rate"`
	FetchBurst int     `toml:"fetch_burst"`
	// Style is the chroma style for code blocks.
	Style string `toml:"style"`
	// BuiltinFallback serves definitions bundled with the client when the
	// server has none.
	BuiltinFallback bool `toml:"builtin_fallback"`
	// Languages extends or overrides the embedded dependency manifest.
	Languages map[string]LanguageConfig `toml:"languages,omitempty"`
}

// LanguageConfig declares the dependencies of one language.
type LanguageConfig struct {
	Require []string `toml:"require"`
}

// UIConfig configures the terminal front end.
type UIConfig struct {
	// RevealMs is how long a freshly streamed word stays highlighted.
	RevealMs int `toml:"reveal_ms"`
	// Style names the glamour style ("dark", "light", "dracula", ...).
	Style string `toml:"style"`
}

// LogConfig configures file logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Dir    string `toml:"dir"`
	Format string `toml:"format"` // "text" or "json"
}

// StoreConfig locates the local conversation index.
type StoreConfig struct {
	Path string `toml:"path"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Server: ServerConfig{
			BaseURL:      "http://localhost:8000",
			EnvKey:       "NCA_TOKEN",
			Timeout:      30,
			LanguagePath: "/api/v1/languages",
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenSeconds:         30,
			},
		},
		Highlight: HighlightConfig{
			Preloaded: []string{
				"markup", "html", "xml", "svg", "mathml", "ssml",
				"atom", "rss", "css", "clike", "javascript",
			},
			FetchRate:       4,
			FetchBurst:      4,
			Style:           "monokai",
			BuiltinFallback: true,
		},
		UI: UIConfig{
			RevealMs: 600,
			Style:    "dark",
		},
		Log: LogConfig{
			Level:  "info",
			Dir:    "~/.nca/logs",
			Format: "text",
		},
		Store: StoreConfig{
			Path: "~/.nca/sessions.db",
		},
	}
}

// LoadConfig loads configuration from file or returns default, then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath()
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	if cfg.Highlight.Languages == nil {
		cfg.Highlight.Languages = make(map[string]LanguageConfig)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NCA_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if os.Getenv("NCA_DEBUG") == "1" {
		c.Log.Level = "debug"
	}
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server.base_url %q", c.Server.BaseURL)
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative")
	}
	if c.UI.RevealMs < 0 {
		return fmt.Errorf("ui.reveal_ms must not be negative")
	}
	if c.Highlight.FetchRate < 0 {
		return fmt.Errorf("highlight.fetch_rate must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// SaveConfig saves configuration to file.
// Note: tokens read from the environment are not written back.
func SaveConfig(config *Config, path string) error {
	if path == "" {
		path = defaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString("# nca-go configuration\n"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := file.WriteString("# Prefer setting the bearer token via NCA_TOKEN (or server.env_key).\n\n"); err != nil {
		return fmt.Errorf("failed to write env note: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// GetToken retrieves the bearer token. It checks the direct Token field
// first, then falls back to the environment variable.
func (s ServerConfig) GetToken() (string, error) {
	if s.Token != "" {
		return s.Token, nil
	}

	envKey := s.EnvKey
	if envKey == "" {
		envKey = "NCA_TOKEN"
	}

	token := os.Getenv(envKey)
	if token == "" {
		return "", fmt.Errorf("token not found in environment variable: %s", envKey)
	}
	return token, nil
}

// RequestTimeout returns the non-streaming request timeout.
func (s ServerConfig) RequestTimeout() time.Duration {
	if s.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.Timeout) * time.Second
}

// LanguageRequires returns the configured dependency overrides.
func (h HighlightConfig) LanguageRequires() map[string][]string {
	out := make(map[string][]string, len(h.Languages))
	for name, lc := range h.Languages {
		out[strings.ToLower(name)] = lc.Require
	}
	return out
}

// ExpandPath resolves a leading "~" to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// defaultConfigPath returns the default config file path.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nca/config.toml"
	}
	return filepath.Join(home, ".nca", "config.toml")
}
