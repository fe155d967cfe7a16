package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/graph"
	"github.com/ritzau/kg-explorer/pkg/loader"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/output"
	"github.com/spf13/cobra"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot [query]",
		Short: "Load one snapshot, resolve its titles and print a summary",
		Long: `snapshot issues a single load request without starting the view. With a
query argument it searches; otherwise --request selects the load, defaulting
to the full graph. Pending publication titles are resolved before printing.`,
		Example: `  kg-explorer snapshot "bone loss"
  kg-explorer snapshot --request '{"kind":"filter","organism":"mouse"}'
  kg-explorer snapshot --db kg.db --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSnapshot,
	}
	f := cmd.Flags()
	f.String("request", `{"kind":"full"}`, "Load request as JSON")
	f.Bool("json", false, "Print the snapshot as JSON instead of a summary")
	f.Bool("titles", true, "Resolve placeholder titles before printing")
	f.Int("batch-size", 10, "Concurrent title lookups per enrichment batch")
	return cmd
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var req backend.Request
	var title string
	if len(args) == 1 {
		req = backend.NewSearchRequest(args[0])
		title = "Search: " + args[0]
	} else {
		raw, _ := cmd.Flags().GetString("request")
		if req, err = backend.DecodeRequest([]byte(raw)); err != nil {
			return fmt.Errorf("--request: %w", err)
		}
		title = "Snapshot: " + req.Kind()
	}

	svc, st, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	ld := loader.New(svc, loader.WithBatchSize(cfg.BatchSize))
	defer ld.Close()

	pass, err := ld.Load(ctx, req)
	if err != nil {
		return err
	}
	ix := graph.Build(pass.Snapshot)

	if titles, _ := cmd.Flags().GetBool("titles"); titles && pass.Pending() > 0 {
		resolved, failed := ld.Enrich(pass, func(r loader.Result) {
			ld.Apply(ix, r)
		})
		logging.Debug("titles resolved", "resolved", resolved, "failed", failed)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ix.Snapshot())
	}
	output.PrintSnapshotSummary(os.Stdout, title, ix)
	return nil
}
