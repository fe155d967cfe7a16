package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// FileName is the optional configuration file read from the working directory
const FileName = "kg-explorer.toml"

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "KG_EXPLORER_"

// Config holds all configuration for the application
type Config struct {
	// Backing service
	Backend   string  `koanf:"backend"`    // Base URL of the backing query service
	APIKey    string  `koanf:"api-key"`    // Sent as X-API-Key
	RateLimit float64 `koanf:"rate-limit"` // Requests per second, 0 disables limiting
	TimeoutMS int     `koanf:"timeout-ms"`
	DB        string  `koanf:"db"`   // SQLite file; when set, serves offline instead of Backend
	Seed      string  `koanf:"seed"` // YAML dataset imported into DB on start
	Watch     bool    `koanf:"watch"`

	// Web
	Port        int  `koanf:"port"`
	OpenBrowser bool `koanf:"open"`

	// View
	Width     float64 `koanf:"width"`
	Height    float64 `koanf:"height"`
	FrameMS   int     `koanf:"frame-ms"`
	BatchSize int     `koanf:"batch-size"`
	Style     string  `koanf:"style"` // Optional YAML category style table

	// Layout
	Charge         float64 `koanf:"charge"`
	LinkDistance   float64 `koanf:"link-distance"`
	CollideMargin  float64 `koanf:"collide-margin"`
	CenterStrength float64 `koanf:"center-strength"`

	// Logging
	Verbosity  string `koanf:"verbosity"`
	VerboseCnt int    `koanf:"verbose"`
	JSONLogs   bool   `koanf:"json-logs"`
}

// Defaults returns the built-in configuration values
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"backend":         "http://localhost:8000",
		"api-key":         "",
		"rate-limit":      20.0,
		"timeout-ms":      30000,
		"db":              "",
		"seed":            "",
		"watch":           false,
		"port":            8080,
		"open":            true,
		"width":           1200.0,
		"height":          800.0,
		"frame-ms":        16,
		"batch-size":      10,
		"charge":          -300.0,
		"link-distance":   100.0,
		"collide-margin":  5.0,
		"center-strength": 0.1,
		"style":           "",
		"verbosity":       "",
		"verbose":         0,
		"json-logs":       false,
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return load(f, FileName)
}

func load(f *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional) - kg-explorer.toml
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	// 3. Environment Variables
	// Prefix: KG_EXPLORER_ (e.g., KG_EXPLORER_PORT=9090, KG_EXPLORER_API_KEY=...)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the view cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("invalid canvas size %gx%g", c.Width, c.Height)
	case c.FrameMS <= 0:
		return fmt.Errorf("frame-ms must be positive, got %d", c.FrameMS)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch-size must be positive, got %d", c.BatchSize)
	case c.LinkDistance <= 0:
		return fmt.Errorf("link-distance must be positive, got %g", c.LinkDistance)
	case c.CollideMargin < 0:
		return fmt.Errorf("collide-margin must not be negative, got %g", c.CollideMargin)
	case c.Watch && c.Seed == "":
		return fmt.Errorf("watch requires a seed dataset")
	}
	return nil
}

// Timeout returns the backing service request timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// FrameInterval returns the frame loop period
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameMS) * time.Millisecond
}

// Offline reports whether the view is served from the local SQLite store
func (c *Config) Offline() bool {
	return c.DB != ""
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
