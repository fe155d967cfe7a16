package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/config"
	"github.com/ritzau/kg-explorer/pkg/layout"
	"github.com/ritzau/kg-explorer/pkg/loader"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/metrics"
	"github.com/ritzau/kg-explorer/pkg/render"
	"github.com/ritzau/kg-explorer/pkg/store"
	"github.com/ritzau/kg-explorer/pkg/view"
	"github.com/ritzau/kg-explorer/pkg/watcher"
	"github.com/ritzau/kg-explorer/pkg/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	watchQuietPeriod = 300 * time.Millisecond
	watchMaxWait     = 3 * time.Second
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the interactive graph view",
		Example: `  kg-explorer serve --backend http://localhost:8000
  kg-explorer serve --db kg.db --seed dataset.yaml --watch
  kg-explorer serve --load '{"kind":"search","query":"bone loss"}'`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	f := cmd.Flags()
	f.Int("port", 8080, "Port for the web server")
	f.Bool("open", true, "Open the view in a browser")
	f.Bool("watch", false, "Re-import --seed and reload the view when it changes")
	f.String("load", `{"kind":"full"}`, "Request loaded on start, as JSON (empty starts idle)")
	f.Float64("width", 1200, "Initial canvas width")
	f.Float64("height", 800, "Initial canvas height")
	f.Int("frame-ms", 16, "Frame interval in milliseconds")
	f.Int("batch-size", 10, "Concurrent title lookups per enrichment batch")
	f.String("style", "", "YAML file overriding category colors and sizes")
	f.Float64("charge", -300, "Node repulsion strength")
	f.Float64("link-distance", 100, "Link rest length")
	f.Float64("collide-margin", 5, "Extra collision radius per node")
	f.Float64("center-strength", 0.1, "Pull toward the canvas center")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	initial, err := initialRequest(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	style, err := render.LoadStyle(cfg.Style)
	if err != nil {
		return err
	}

	svc, st, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	m := metrics.New()
	ld := loader.New(svc, loader.WithBatchSize(cfg.BatchSize), loader.WithMetrics(m))
	pub := view.NewPublisher()
	v := view.New(svc, ld, pub, viewOptions(cfg, style, m))
	srv := web.NewServer(v, pub, svc, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return v.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx, cfg.Port) })
	if cfg.Watch {
		g.Go(func() error { return watchSeed(gctx, st, v, cfg.Seed) })
	}

	if initial != nil {
		if err := v.Load(initial); err != nil {
			return err
		}
	}

	if cfg.OpenBrowser {
		go func() {
			// Wait a moment for the server to start
			time.Sleep(500 * time.Millisecond)
			openBrowser(fmt.Sprintf("http://localhost:%d", cfg.Port))
		}()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func initialRequest(cmd *cobra.Command) (backend.Request, error) {
	raw, _ := cmd.Flags().GetString("load")
	if raw == "" {
		return nil, nil
	}
	req, err := backend.DecodeRequest([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("--load: %w", err)
	}
	return req, nil
}

func viewOptions(cfg *config.Config, style render.Style, m *metrics.Metrics) view.Options {
	lc := layout.DefaultConfig()
	lc.Charge = cfg.Charge
	lc.LinkDistance = cfg.LinkDistance
	lc.CollideMargin = cfg.CollideMargin
	lc.CenterStrength = cfg.CenterStrength

	return view.Options{
		Width:         cfg.Width,
		Height:        cfg.Height,
		FrameInterval: cfg.FrameInterval(),
		Layout:        lc,
		Style:         style,
		Metrics:       m,
	}
}

// watchSeed re-imports the seed dataset on change and reloads the view. A
// failed import keeps the previous data.
func watchSeed(ctx context.Context, st *store.Store, v *view.View, seed string) error {
	logging.Info("watching dataset", "path", seed)
	err := watcher.Watch(ctx, watchQuietPeriod, watchMaxWait, func(*watcher.ChangeAnalysis) error {
		if _, err := st.Import(ctx, seed); err != nil {
			return err
		}
		return v.Reload()
	}, seed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		logging.Warn("cannot open browser on this platform", "os", runtime.GOOS)
		return
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		logging.Warn("failed to open browser", "error", err)
	}
}
