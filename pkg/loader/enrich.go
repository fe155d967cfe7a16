package loader

import (
	"context"
	"errors"
	"strings"

	"github.com/ritzau/kg-explorer/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// Result is one resolved (or failed) title lookup, tagged with the
// generation of the load that requested it
type Result struct {
	Gen        uint64
	NodeID     string
	ExternalID string
	Title      string
	Err        error
}

// Enrich resolves the pass's pending titles in batches. Lookups within a
// batch run concurrently, never more than the batch size at once, and a
// batch finishes before the next starts. Every result goes to deliver,
// which must not block for long. Enrich returns when all batches are done
// or the pass is superseded by a newer load.
func (l *Loader) Enrich(pass *Pass, deliver func(Result)) (resolved, failed int) {
	if pass == nil || len(pass.Targets) == 0 {
		return 0, 0
	}
	ctx := pass.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	batches := (len(pass.Targets) + l.batchSize - 1) / l.batchSize
	logging.InfoContext(ctx, "enrichment pass started",
		"gen", pass.Gen,
		"titles", len(pass.Targets),
		"batches", batches,
	)

	results := make([]Result, len(pass.Targets))
	for start := 0; start < len(pass.Targets); start += l.batchSize {
		if ctx.Err() != nil {
			logging.DebugContext(ctx, "enrichment pass superseded", "gen", pass.Gen)
			return resolved, failed
		}
		end := min(start+l.batchSize, len(pass.Targets))

		var g errgroup.Group
		g.SetLimit(l.batchSize)
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = l.resolve(ctx, pass.Gen, pass.Targets[i])
				return nil
			})
		}
		_ = g.Wait()

		for i := start; i < end; i++ {
			res := results[i]
			switch {
			case res.Err == nil:
				resolved++
			case errors.Is(res.Err, context.Canceled):
				// Superseded, not failed: the id may be retried by a later load
				continue
			default:
				failed++
			}
			deliver(res)
		}
		logging.DebugContext(ctx, "enrichment batch done", "gen", pass.Gen, "batch", start/l.batchSize+1, "of", batches)
	}

	logging.InfoContext(ctx, "enrichment pass finished",
		"gen", pass.Gen,
		"resolved", resolved,
		"failed", failed,
	)
	return resolved, failed
}

func (l *Loader) resolve(ctx context.Context, gen uint64, t Target) Result {
	res := Result{Gen: gen, NodeID: t.NodeID, ExternalID: t.ExternalID}

	l.metrics.LookupStarted()
	title, err := l.svc.ResolveTitle(ctx, t.ExternalID)
	l.metrics.LookupFinished(err)

	switch {
	case err != nil && ctx.Err() != nil:
		res.Err = context.Canceled
	case err != nil:
		res.Err = err
		l.markFailed(t.ExternalID)
		logging.WarnContext(ctx, "title lookup failed", "externalID", t.ExternalID, "gen", gen, "error", err)
	case !l.cache.Put(t.ExternalID, title):
		res.Err = errors.New("empty title")
		l.markFailed(t.ExternalID)
		logging.WarnContext(ctx, "title lookup returned no title", "externalID", t.ExternalID, "gen", gen)
	default:
		res.Title = strings.TrimSpace(title)
	}
	return res
}
