// Package loader fetches graph snapshots from the backing service and
// resolves placeholder publication titles in the background.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/metrics"
	"github.com/ritzau/kg-explorer/pkg/model"
)

// DefaultBatchSize is the number of title lookups issued together
const DefaultBatchSize = 10

// Target is one publication whose title must be resolved
type Target struct {
	NodeID     string
	ExternalID string
}

// Pass is the outcome of one load: the snapshot to render right away and
// the titles still to resolve for it.
type Pass struct {
	Gen       uint64 // Generation of the load; results carry it back
	RequestID string
	Kind      string
	Snapshot  *model.Snapshot
	Targets   []Target

	ctx context.Context // Cancelled when a newer load begins
}

// Pending returns the number of titles the enrichment pass will look up
func (p *Pass) Pending() int {
	return len(p.Targets)
}

// Loader issues snapshot queries and tracks which load is current.
// It is safe for concurrent use.
type Loader struct {
	svc       backend.Service
	cache     *Cache
	metrics   *metrics.Metrics
	batchSize int

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	failed map[string]struct{} // External ids whose lookup failed this session
}

// Option configures a Loader
type Option func(*Loader)

// WithBatchSize sets the enrichment batch size (and concurrency bound)
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithCache shares an existing title cache
func WithCache(c *Cache) Option {
	return func(l *Loader) {
		if c != nil {
			l.cache = c
		}
	}
}

// WithMetrics records loads and lookups
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// New creates a loader over svc
func New(svc backend.Service, opts ...Option) *Loader {
	l := &Loader{
		svc:       svc,
		cache:     NewCache(),
		batchSize: DefaultBatchSize,
		failed:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Cache returns the loader's title cache
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Current returns the generation of the most recent load
func (l *Loader) Current() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// IsCurrent reports whether gen still identifies the latest load
func (l *Loader) IsCurrent(gen uint64) bool {
	return l.Current() == gen
}

// Load starts a new generation, cancelling the previous enrichment pass,
// and issues the query. Publications without a title get a cached title or
// the placeholder. On failure the pass carries an empty snapshot.
func (l *Loader) Load(parent context.Context, req backend.Request) (*Pass, error) {
	requestID := uuid.New().String()
	ctx := logging.WithRequestID(parent, requestID)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	pass := &Pass{Gen: l.gen, RequestID: requestID, ctx: passCtx}
	l.mu.Unlock()

	if req != nil {
		pass.Kind = req.Kind()
	}

	logging.InfoContext(ctx, "loading snapshot", "kind", pass.Kind, "gen", pass.Gen)

	start := time.Now()
	snap, err := backend.Fetch(ctx, l.svc, req)
	l.metrics.LoadFinished(pass.Kind, err, time.Since(start))
	if err != nil {
		pass.Snapshot = model.NewSnapshot()
		logging.WarnContext(ctx, "snapshot load failed", "kind", pass.Kind, "gen", pass.Gen, "error", err)
		return pass, fmt.Errorf("load %s: %w", pass.Kind, err)
	}

	pass.Snapshot = snap
	pass.Targets = l.prepare(snap)
	l.metrics.SnapshotSize(len(snap.Nodes))

	logging.InfoContext(ctx, "snapshot loaded",
		"kind", pass.Kind,
		"gen", pass.Gen,
		"nodes", len(snap.Nodes),
		"edges", len(snap.Edges),
		"pendingTitles", len(pass.Targets),
		"durationMs", time.Since(start).Milliseconds(),
	)
	return pass, nil
}

// Close cancels the running enrichment pass, if any
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// prepare fills in titles from the cache and placeholders for the rest,
// returning the publications still to resolve
func (l *Loader) prepare(snap *model.Snapshot) []Target {
	var targets []Target
	seen := make(map[string]bool)

	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if !n.NeedsTitle() {
			continue
		}
		ext := n.ExternalID()
		if title, ok := l.cache.Get(ext); ok {
			n.Properties.Set("title", title)
			continue
		}
		n.Properties.Set("title", model.TitlePlaceholder)

		if l.hasFailed(ext) || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		targets = append(targets, Target{NodeID: n.ID, ExternalID: ext})
	}
	return targets
}

func (l *Loader) hasFailed(externalID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.failed[externalID]
	return ok
}

func (l *Loader) markFailed(externalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed[externalID] = struct{}{}
}

// Nodes is the lookup Apply needs into the currently held snapshot
type Nodes interface {
	Lookup(id string) (int, bool)
	Node(i int) *model.Node
}

// Apply merges one enrichment result into the held snapshot. Results from an
// older generation, for ids no longer present, or carrying an error are
// dropped. A resolved title is never replaced by the placeholder.
func (l *Loader) Apply(nodes Nodes, res Result) bool {
	if !l.IsCurrent(res.Gen) {
		l.metrics.StaleResult()
		logging.Debug("dropping stale enrichment result", "gen", res.Gen, "node", res.NodeID)
		return false
	}
	if res.Err != nil || res.Title == "" || nodes == nil {
		return false
	}
	i, ok := nodes.Lookup(res.NodeID)
	if !ok {
		l.metrics.StaleResult()
		return false
	}
	n := nodes.Node(i)
	if !n.NeedsTitle() {
		return false
	}
	n.Properties.Set("title", res.Title)
	return true
}
