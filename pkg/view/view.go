// Package view runs one interactive graph view: it owns the loader, layout
// engine, viewport, interaction layer and render pipeline, and advances
// them on a single frame loop. Other goroutines only post work to the loop.
package view

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/graph"
	"github.com/ritzau/kg-explorer/pkg/interaction"
	"github.com/ritzau/kg-explorer/pkg/layout"
	"github.com/ritzau/kg-explorer/pkg/loader"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/metrics"
	"github.com/ritzau/kg-explorer/pkg/pubsub"
	"github.com/ritzau/kg-explorer/pkg/render"
	"github.com/ritzau/kg-explorer/pkg/viewport"
	"gonum.org/v1/gonum/spatial/r2"
)

// State is the lifecycle state of a view
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateRendered  State = "rendered"
	StateEnriching State = "enriching"
	StateFailed    State = "failed"
)

// inboxSize bounds the work queued for the frame loop
const inboxSize = 1024

// ErrStopped is returned when posting to a view whose loop has ended
var ErrStopped = errors.New("view stopped")

// Options configures a view
type Options struct {
	Width         float64
	Height        float64
	FrameInterval time.Duration
	Layout        layout.Config
	Style         render.Style
	Metrics       *metrics.Metrics
}

// DefaultOptions returns the options of a 1200x800 view at ~60 frames/s
func DefaultOptions() Options {
	return Options{
		Width:         1200,
		Height:        800,
		FrameInterval: 16 * time.Millisecond,
		Layout:        layout.DefaultConfig(),
		Style:         render.DefaultStyle(),
	}
}

// View is one graph view instance
type View struct {
	opts     Options
	svc      backend.Service
	loader   *loader.Loader
	engine   *layout.Engine
	viewport *viewport.Controller
	layer    *interaction.Layer
	pipeline *render.Pipeline
	pub      pubsub.Publisher
	metrics  *metrics.Metrics

	inbox chan func()
	done  chan struct{}
	ctx   context.Context // Parent of background fetches; set by Run

	// Owned by the frame loop
	state     State
	message   string
	index     *graph.Index
	lastReq   backend.Request
	status    pubsub.ViewStatus
	dirty     bool
	lastFrame render.Frame
	press     *press
}

// press tracks a pointer button held down on a node or the background
type press struct {
	screen r2.Vec
	last   r2.Vec
	nodeID string
	grab   r2.Vec // node position minus pointer, in layout space
	moved  bool
}

// New creates an idle view fetching from svc through ld
func New(svc backend.Service, ld *loader.Loader, pub pubsub.Publisher, opts Options) *View {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultOptions().FrameInterval
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultOptions().Width, DefaultOptions().Height
	}
	if opts.Style.Categories == nil {
		opts.Style = render.DefaultStyle()
	}

	center := r2.Vec{X: opts.Width / 2, Y: opts.Height / 2}
	engine := layout.New(opts.Layout, center)

	v := &View{
		opts:     opts,
		svc:      svc,
		loader:   ld,
		engine:   engine,
		viewport: viewport.New(opts.Width, opts.Height),
		layer:    interaction.New(engine, opts.Width, opts.Height),
		pipeline: render.NewPipeline(opts.Style),
		pub:      pub,
		metrics:  opts.Metrics,
		inbox:    make(chan func(), inboxSize),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		state:    StateIdle,
		index:    graph.Build(nil),
		dirty:    true,
	}
	v.status = pubsub.ViewStatus{State: string(StateIdle)}
	return v
}

// NewPublisher returns a publisher configured for the view topics: new
// subscribers get the latest frame and status, interaction events are live
// only
func NewPublisher() *pubsub.SSEPublisher {
	p := pubsub.NewSSEPublisher()
	p.ConfigureTopic(pubsub.TopicFrame, pubsub.TopicConfig{BufferSize: 1})
	p.ConfigureTopic(pubsub.TopicViewStatus, pubsub.TopicConfig{BufferSize: 1})
	p.ConfigureTopic(pubsub.TopicInteraction, pubsub.TopicConfig{BufferSize: 0})
	return p
}

// Style returns the injected style table
func (v *View) Style() render.Style {
	return v.pipeline.Style()
}

// Run drives the frame loop until ctx is done
func (v *View) Run(ctx context.Context) error {
	v.ctx = ctx
	defer close(v.done)
	defer v.loader.Close()

	ticker := time.NewTicker(v.opts.FrameInterval)
	defer ticker.Stop()

	logging.Info("view started", "frameMs", v.opts.FrameInterval.Milliseconds(), "width", v.opts.Width, "height", v.opts.Height)
	v.publishStatus()

	for {
		select {
		case <-ctx.Done():
			logging.Info("view stopped")
			return ctx.Err()
		case fn := <-v.inbox:
			fn()
		case now := <-ticker.C:
			v.frame(now)
		}
	}
}

// Step runs all queued work and one frame at now. It is the loop body
// used by Run, exposed for headless drivers and tests.
func (v *View) Step(now time.Time) {
drain:
	for {
		select {
		case fn := <-v.inbox:
			fn()
		default:
			break drain
		}
	}
	v.frame(now)
}

// post queues fn for the frame loop
func (v *View) post(fn func()) error {
	select {
	case <-v.done:
		return ErrStopped
	default:
	}
	select {
	case v.inbox <- fn:
		return nil
	case <-v.done:
		return ErrStopped
	}
}

// Call runs fn on the frame loop and waits for it
func (v *View) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := v.post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-v.done:
		return ErrStopped
	}
}

// Load replaces the graph with the result of req
func (v *View) Load(req backend.Request) error {
	return v.post(func() { v.startLoad(req) })
}

// Reload repeats the last load request
func (v *View) Reload() error {
	return v.post(func() {
		if v.lastReq == nil {
			logging.Debug("reload requested before any load")
			return
		}
		v.startLoad(v.lastReq)
	})
}

// Center animates the viewport back to the layout center at scale 1
func (v *View) Center() error {
	return v.post(func() {
		v.viewport.CenterGraph(v.engine.Center(), time.Now())
	})
}

// Fit animates the viewport so that every node is visible
func (v *View) Fit() error {
	return v.post(func() {
		lo, hi, ok := v.engine.Bounds()
		if !v.viewport.ZoomToFit(lo, hi, ok, time.Now()) {
			logging.Debug("zoom to fit skipped: no nodes")
		}
	})
}

// Resize changes the canvas size, keeping positions and the transform
func (v *View) Resize(width, height float64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid canvas size %gx%g", width, height)
	}
	return v.post(func() { v.resize(width, height) })
}

// Status returns the current status and the last built frame
func (v *View) Status(ctx context.Context) (pubsub.ViewStatus, render.Frame, error) {
	var status pubsub.ViewStatus
	var frame render.Frame
	err := v.Call(ctx, func() {
		status = v.status
		frame = v.lastFrame
	})
	return status, frame, err
}

func (v *View) setState(s State, message string) {
	if v.state != s {
		logging.Debug("view state", "from", string(v.state), "to", string(s))
	}
	v.state = s
	v.message = message
	v.status.State = string(s)
	v.status.Message = message
	v.publishStatus()
	v.dirty = true
}

func (v *View) publishStatus() {
	if v.pub == nil {
		return
	}
	if err := v.pub.Publish(pubsub.TopicViewStatus, v.status.State, v.status); err != nil {
		logging.Debug("status not published", "error", err)
	}
}

func (v *View) startLoad(req backend.Request) {
	v.lastReq = req
	kind := "unknown"
	if req != nil {
		kind = req.Kind()
	}
	v.status.Kind = kind
	v.setState(StateLoading, "loading "+kind)

	ctx := v.ctx
	go func() {
		pass, err := v.loader.Load(ctx, req)
		if postErr := v.post(func() { v.onLoaded(pass, err) }); postErr != nil {
			logging.Debug("load finished after view stopped", "kind", kind)
		}
	}()
}

func (v *View) onLoaded(pass *loader.Pass, err error) {
	if pass == nil || !v.loader.IsCurrent(pass.Gen) {
		logging.Debug("superseded load ignored")
		return
	}

	v.layer.Reset()
	v.press = nil
	v.status.Generation = pass.Gen
	v.status.Resolved = 0
	v.status.Failed = 0

	if err != nil {
		v.setGraph(graph.Build(nil))
		v.status.PendingTitles = 0
		v.setState(StateFailed, err.Error())
		return
	}

	v.setGraph(graph.Build(pass.Snapshot))
	v.status.PendingTitles = pass.Pending()
	if dropped := v.index.DroppedEdges(); dropped > 0 {
		logging.Debug("dropped malformed edges", "count", dropped, "gen", pass.Gen)
	}
	v.setState(StateRendered, fmt.Sprintf("%d nodes, %d edges", v.status.Nodes, v.status.Edges))

	if pass.Pending() == 0 {
		return
	}
	v.setState(StateEnriching, fmt.Sprintf("resolving %d titles", pass.Pending()))
	go func() {
		resolved, failed := v.loader.Enrich(pass, func(r loader.Result) {
			_ = v.post(func() { v.onEnriched(r) })
		})
		_ = v.post(func() { v.onEnrichDone(pass.Gen, resolved, failed) })
	}()
}

func (v *View) setGraph(ix *graph.Index) {
	v.index = ix
	v.engine.SetGraph(ix, v.pipeline.Radii(ix))
	v.status.Nodes = ix.Len()
	v.status.Edges = len(ix.Links())
	v.status.DroppedEdges = ix.DroppedEdges()
	v.dirty = true
}

func (v *View) onEnriched(r loader.Result) {
	if v.loader.Apply(v.index, r) {
		v.status.Resolved++
		v.dirty = true
		return
	}
	if r.Err != nil && v.loader.IsCurrent(r.Gen) {
		v.status.Failed++
	}
}

func (v *View) onEnrichDone(gen uint64, resolved, failed int) {
	if !v.loader.IsCurrent(gen) || v.state != StateEnriching {
		return
	}
	v.status.PendingTitles = 0
	v.setState(StateRendered, fmt.Sprintf("resolved %d titles, %d failed", resolved, failed))
}

func (v *View) resize(width, height float64) {
	v.viewport.Resize(width, height)
	v.layer.Resize(width, height)
	v.engine.SetCenter(r2.Vec{X: width / 2, Y: height / 2})
	v.engine.Reheat(layout.ResizeAlpha)
	v.dirty = true
}

// frame advances the simulation and animations and publishes a frame when
// anything visible changed
func (v *View) frame(now time.Time) {
	changed := v.dirty
	if v.engine.Tick() {
		changed = true
		v.metrics.Tick(v.engine.Alpha())
	}
	if v.viewport.Advance(now) {
		changed = true
	}
	if v.layer.Advance(now) {
		changed = true
	}
	if v.drainEvents() {
		changed = true
	}
	if !changed {
		return
	}

	w, h := v.viewport.Size()
	v.lastFrame = v.pipeline.Build(render.Input{
		Index:       v.index,
		Layout:      v.engine,
		HoverFactor: func(id string) float64 { return v.layer.HoverFactor(id, now) },
		Hovered:     v.layer.Hovered(),
		Selection:   v.layer.Selection(),
		Transform:   v.viewport.Transform(),
		Width:       w,
		Height:      h,
		Alpha:       v.engine.Alpha(),
		State:       string(v.state),
		Error:       v.errorMessage(),
	})
	v.dirty = false

	if v.pub != nil {
		if err := v.pub.Publish(pubsub.TopicFrame, "frame", v.lastFrame); err == nil {
			v.metrics.FramePublished()
		}
	}
}

func (v *View) errorMessage() string {
	if v.state == StateFailed {
		return v.message
	}
	return ""
}

// drainEvents forwards interaction events to subscribers and starts detail
// fetches. It reports whether any event arrived.
func (v *View) drainEvents() bool {
	got := false
	for {
		select {
		case ev := <-v.layer.Events():
			got = true
			if v.pub != nil {
				_ = v.pub.Publish(pubsub.TopicInteraction, string(ev.Type), ev)
			}
			if ev.Type == interaction.EventDetailRequested {
				v.fetchDetail(ev.ExternalID, ev.Token)
			}
		default:
			return got
		}
	}
}

func (v *View) fetchDetail(externalID string, token uint64) {
	ctx := v.ctx
	go func() {
		rec, err := v.svc.ResolveRecord(ctx, externalID)
		v.metrics.DetailFetched(err)
		if err != nil {
			logging.WarnContext(ctx, "detail fetch failed", "externalID", externalID, "error", err)
		}
		_ = v.post(func() {
			if v.layer.ResolveDetail(token, rec, err) {
				v.dirty = true
			}
		})
	}()
}
