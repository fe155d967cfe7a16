package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/config"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kg-explorer",
	Short: "Interactive explorer for a knowledge graph of scientific publications",
	Long: `kg-explorer renders search, filter and full-graph results of a
publication knowledge graph as a live force-directed view in the browser.

The graph is served either by a remote query service (--backend) or by a
local SQLite database (--db) that can be seeded from a YAML dataset.`,
	SilenceUsage: true,
}

func init() {
	// Load .env file if present (for KG_EXPLORER_API_KEY)
	_ = godotenv.Load()

	pf := rootCmd.PersistentFlags()
	pf.String("backend", "http://localhost:8000", "Base URL of the backing query service")
	pf.String("api-key", "", "API key sent to the backing service")
	pf.Float64("rate-limit", 20, "Backing service requests per second (0 = unlimited)")
	pf.Int("timeout-ms", 30000, "Backing service request timeout in milliseconds")
	pf.String("db", "", "SQLite database to serve offline instead of --backend")
	pf.String("seed", "", "YAML dataset imported into --db on start")
	pf.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	pf.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	pf.Bool("json-logs", false, "Log in JSON format")

	rootCmd.AddCommand(serveCmd(), snapshotCmd(), importCmd())
}

// Exit codes
const (
	ExitError  = 1
	ExitConfig = 2
)

// configError marks errors caused by invalid configuration
type configError struct {
	err error
}

func (e *configError) Error() string { return "configuration: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ce *configError
		if errors.As(err, &ce) {
			os.Exit(ExitConfig)
		}
		os.Exit(ExitError)
	}
}

// setup loads the configuration for cmd and configures logging
func setup(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, &configError{err}
	}
	level, err := logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt)
	if err != nil {
		return nil, &configError{err}
	}
	logging.Configure(level, cfg.JSONLogs, os.Stderr)
	return cfg, nil
}

// openService returns the service the view queries: the local store when a
// database is configured, the remote client otherwise. The store is nil in
// online mode.
func openService(ctx context.Context, cfg *config.Config) (backend.Service, *store.Store, error) {
	if !cfg.Offline() {
		if cfg.Seed != "" {
			return nil, nil, &configError{fmt.Errorf("--seed requires --db")}
		}
		burst := max(1, int(cfg.RateLimit))
		opts := []backend.ClientOption{
			backend.WithRateLimit(cfg.RateLimit, burst),
			backend.WithTimeout(cfg.Timeout()),
		}
		if cfg.APIKey != "" {
			opts = append(opts, backend.WithAPIKey(cfg.APIKey))
		}
		client := backend.NewClient(cfg.Backend, opts...)
		logging.Info("using backing service", "url", client.BaseURL())
		return client, nil, nil
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Seed != "" {
		if _, err := st.Import(ctx, cfg.Seed); err != nil {
			st.Close()
			return nil, nil, err
		}
	}
	logging.Info("using local store", "path", st.Path())
	return st, st, nil
}
