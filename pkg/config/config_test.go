package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, "")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", cfg.BatchSize)
	}
	if cfg.Charge != -300 || cfg.LinkDistance != 100 || cfg.CollideMargin != 5 {
		t.Errorf("unexpected layout defaults: %+v", cfg)
	}
	if cfg.FrameInterval() != 16*time.Millisecond {
		t.Errorf("expected 16ms frames, got %v", cfg.FrameInterval())
	}
	if cfg.Offline() {
		t.Error("expected online mode by default")
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kg-explorer.toml")
	content := "port = 7000\nbatch-size = 5\nbackend = \"http://file:8000\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KG_EXPLORER_BATCH_SIZE", "7")
	t.Setenv("KG_EXPLORER_API_KEY", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.Int("batch-size", 10, "")
	if err := flags.Parse([]string{"--port", "9090"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(flags, path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("flag should win: expected port 9090, got %d", cfg.Port)
	}
	if cfg.BatchSize != 7 {
		t.Errorf("env should beat file and unset flag: expected 7, got %d", cfg.BatchSize)
	}
	if cfg.Backend != "http://file:8000" {
		t.Errorf("file should beat defaults: got %q", cfg.Backend)
	}
	if cfg.APIKey != "from-env" {
		t.Errorf("expected api key from env, got %q", cfg.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero frame", func(c *Config) { c.FrameMS = 0 }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"flat canvas", func(c *Config) { c.Height = 0 }},
		{"watch without seed", func(c *Config) { c.Watch = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(nil, "")
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingAndMalformedFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := load(nil, filepath.Join(dir, "absent.toml")); err != nil {
		t.Errorf("a missing file should be ignored, got %v", err)
	}

	path := filepath.Join(dir, "kg-explorer.toml")
	if err := os.WriteFile(path, []byte("port = [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := load(nil, path); err == nil {
		t.Error("expected an error for a malformed file")
	}
}
