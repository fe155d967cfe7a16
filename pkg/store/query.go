package store

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/graph"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/model"
	"github.com/ritzau/kg-explorer/pkg/render"
)

const (
	maxNodeSize      = 50.0
	relatedEdgeLimit = 1000
)

var _ backend.Service = (*Store)(nil)

// nodeSize grows a category's base radius with the node's connectivity
func nodeSize(c model.Category, links int) float64 {
	return min(render.DefaultStyle().For(c).Size+2*float64(links), maxNodeSize)
}

// subgraph builds a snapshot from the given indices, in order, with the
// links among them. Edge output stops at edgeLimit when it is positive.
func subgraph(ix *graph.Index, indices []int, edgeLimit int) *model.Snapshot {
	snap := model.NewSnapshot()
	keep := make(map[int]bool, len(indices))
	for _, i := range indices {
		if keep[i] {
			continue
		}
		keep[i] = true
		n := *ix.Node(i)
		n.Properties = n.Properties.Clone()
		n.Size = nodeSize(n.Category, ix.LinkCount(i))
		snap.AddNode(n)
	}

	edges := ix.Snapshot().Edges
	for _, l := range ix.Links() {
		if edgeLimit > 0 && len(snap.Edges) >= edgeLimit {
			break
		}
		if keep[l.Source] && keep[l.Target] {
			e := edges[l.Edge]
			if e.Type == "" {
				e.Type = "RELATED"
			}
			snap.AddEdge(e)
		}
	}
	return snap
}

// withStats fills the counts every load response carries
func withStats(snap *model.Snapshot, extra map[string]any) *model.Snapshot {
	nodeTypes := make(map[string]int)
	for c, n := range snap.CountByCategory() {
		nodeTypes[string(c)] = n
	}
	snap.Stats = map[string]any{
		"total_nodes": len(snap.Nodes),
		"total_edges": len(snap.Edges),
		"node_types":  nodeTypes,
		"edge_types":  snap.CountByRelation(),
	}
	for k, v := range extra {
		snap.Stats[k] = v
	}
	return snap
}

// ftsQuery turns free text into an FTS5 expression matching any term
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// likePattern returns a LIKE pattern matching s as a substring
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// Search ranks catalogue publications against the query. Semantic and hybrid
// modes are served by the keyword index.
func (s *Store) Search(ctx context.Context, req backend.SearchRequest) (*model.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	expr := ftsQuery(req.Query)
	if expr == "" {
		return nil, fmt.Errorf("%w: query has no terms", backend.ErrInvalidRequest)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT publications_fts.pmcid, publications.title, bm25(publications_fts)
		FROM publications_fts
		JOIN publications ON publications.pmcid = publications_fts.pmcid
		WHERE publications_fts MATCH ?
		ORDER BY bm25(publications_fts)
		LIMIT ?
	`, expr, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("searching publications: %w", err)
	}
	defer rows.Close()

	type hit struct {
		pmcid string
		title string
		score float64
		rank  int
	}
	var hits []hit
	for rows.Next() {
		var h hit
		var rank float64
		if err := rows.Scan(&h.pmcid, &h.title, &rank); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		h.score = -rank
		h.rank = len(hits) + 1
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching publications: %w", err)
	}

	ix, byExternal := s.index()

	var seeds []int
	var orphans []model.Node
	scores := make(map[string]hit, len(hits))
	for _, h := range hits {
		scores[h.pmcid] = h
		if i, ok := byExternal[h.pmcid]; ok {
			seeds = append(seeds, i)
			continue
		}
		// Catalogued but not part of the graph
		orphans = append(orphans, model.Node{
			ID:         h.pmcid,
			Category:   model.CategoryPublication,
			Properties: model.NewProperties("pmcid", h.pmcid, "title", h.title),
			Size:       nodeSize(model.CategoryPublication, 0),
		})
	}

	selected := slices.Clone(seeds)
	if req.IncludeRelated && len(seeds) > 0 {
		selected = append(selected, related(ix, seeds, req.MaxDepth)...)
	}

	snap := subgraph(ix, selected, relatedEdgeLimit)
	for _, n := range orphans {
		snap.AddNode(n)
	}
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if !n.IsPublication() {
			continue
		}
		h, ok := scores[n.ExternalID()]
		if !ok {
			continue
		}
		n.Properties.Set("search_score", h.score)
		n.Properties.Set("search_rank", h.rank)
	}

	logging.DebugContext(ctx, "store search",
		"query", req.Query,
		"mode", req.Mode,
		"hits", len(hits),
		"nodes", len(snap.Nodes),
		"edges", len(snap.Edges),
	)

	return withStats(snap, map[string]any{
		"search_query":       req.Query,
		"search_mode":        string(req.Mode),
		"publications_found": len(hits),
	}), nil
}

// related returns the non-publication entities within maxDepth hops of the
// seeds, nearest first, capped at the related entity limit
func related(ix *graph.Index, seeds []int, maxDepth int) []int {
	dist := ix.Within(seeds, maxDepth)
	out := make([]int, 0, len(dist))
	for i, d := range dist {
		if d == 0 || ix.Node(i).IsPublication() {
			continue
		}
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b int) int {
		if c := cmp.Compare(dist[a], dist[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(out) > backend.RelatedEntityLimit {
		out = out[:backend.RelatedEntityLimit]
	}
	return out
}

// byLinkCount orders indices by connectivity, most connected first
func byLinkCount(ix *graph.Index, indices []int) {
	slices.SortStableFunc(indices, func(a, b int) int {
		return cmp.Compare(ix.LinkCount(b), ix.LinkCount(a))
	})
}

// Filter returns the best-connected nodes matching every given attribute
func (s *Store) Filter(ctx context.Context, req backend.FilterRequest) (*model.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if len(req.Categories) > 0 {
		marks := make([]string, len(req.Categories))
		for i, c := range req.Categories {
			marks[i] = "?"
			args = append(args, string(c))
		}
		where = append(where, "category IN ("+strings.Join(marks, ", ")+")")
	}
	if req.Organism != "" {
		p := likePattern(req.Organism)
		where = append(where, `(name LIKE ? ESCAPE '\' OR scientific_name LIKE ? ESCAPE '\')`)
		args = append(args, p, p)
	}
	for _, v := range []string{req.Phenomenon, req.Platform} {
		if v != "" {
			where = append(where, `name LIKE ? ESCAPE '\'`)
			args = append(args, likePattern(v))
		}
	}
	if req.DateFrom != "" {
		where = append(where, "publication_date >= ?")
		args = append(args, req.DateFrom)
	}
	if req.DateTo != "" {
		where = append(where, "publication_date <= ?")
		args = append(args, req.DateTo)
	}

	query := "SELECT id FROM nodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	ids, err := s.queryIDs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filtering nodes: %w", err)
	}

	ix, _ := s.index()
	indices := make([]int, 0, len(ids))
	for _, id := range ids {
		if i, ok := ix.Lookup(id); ok {
			indices = append(indices, i)
		}
	}
	byLinkCount(ix, indices)
	if len(indices) > req.Limit {
		indices = indices[:req.Limit]
	}

	snap := subgraph(ix, indices, 0)
	if len(req.RelationTypes) > 0 {
		kept := snap.Edges[:0]
		for _, e := range snap.Edges {
			if slices.Contains(req.RelationTypes, model.RelationType(e.Type)) {
				kept = append(kept, e)
			}
		}
		snap.Edges = kept
	}

	return withStats(snap, map[string]any{
		"filters_applied": filtersApplied(req),
	}), nil
}

func filtersApplied(req backend.FilterRequest) map[string]any {
	applied := map[string]any{}
	if len(req.Categories) > 0 {
		applied["node_types"] = req.Categories
	}
	if len(req.RelationTypes) > 0 {
		applied["relation_types"] = req.RelationTypes
	}
	for k, v := range map[string]string{
		"organism":   req.Organism,
		"phenomenon": req.Phenomenon,
		"platform":   req.Platform,
	} {
		if v != "" {
			applied[k] = v
		}
	}
	if req.DateFrom != "" || req.DateTo != "" {
		applied["date_range"] = req.DateFrom + " to " + req.DateTo
	}
	return applied
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Full returns the most connected nodes of the whole graph
func (s *Store) Full(ctx context.Context, req backend.FullRequest) (*model.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ix, _ := s.index()

	indices := make([]int, 0, ix.Len())
	for i := range ix.Len() {
		if req.IncludeIsolated || ix.LinkCount(i) > 0 {
			indices = append(indices, i)
		}
	}
	byLinkCount(ix, indices)
	if len(indices) > req.Limit {
		indices = indices[:req.Limit]
	}
	return withStats(subgraph(ix, indices, backend.FullEdgeLimit), nil), nil
}

// ResolveTitle returns a publication's title from the catalogue, falling
// back to the title stored on its graph node
func (s *Store) ResolveTitle(ctx context.Context, externalID string) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM publications WHERE pmcid = ?`, externalID).Scan(&title)
	switch {
	case err == nil && title != "":
		return title, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("resolving title of %s: %w", externalID, err)
	}

	ix, byExternal := s.index()
	if i, ok := byExternal[externalID]; ok {
		if t, ok := ix.Node(i).Title(); ok {
			return t, nil
		}
	}
	return "", fmt.Errorf("publication %s: %w", externalID, backend.ErrNotFound)
}

// ResolveRecord returns a publication's catalogue record, with the entities
// it is connected to in the graph
func (s *Store) ResolveRecord(ctx context.Context, externalID string) (*model.Record, error) {
	var rec model.Record
	var doi, pmid, authors string
	err := s.db.QueryRowContext(ctx, `
		SELECT title, abstract, journal, date, doi, pmid, authors_json
		FROM publications WHERE pmcid = ?
	`, externalID).Scan(&rec.Title, &rec.Abstract, &rec.Journal, &rec.Date, &doi, &pmid, &authors)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("publication %s: %w", externalID, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving record of %s: %w", externalID, err)
	}
	if err := json.Unmarshal([]byte(authors), &rec.Authors); err != nil {
		return nil, fmt.Errorf("decoding authors of %s: %w", externalID, err)
	}

	rec.ExternalIDs = map[string]string{"pmcid": externalID}
	if doi != "" {
		rec.ExternalIDs["doi"] = doi
	}
	if pmid != "" {
		rec.ExternalIDs["pmid"] = pmid
	}

	rec.Entities = []model.Entity{}
	ix, byExternal := s.index()
	if i, ok := byExternal[externalID]; ok {
		for _, j := range ix.Neighbors(i) {
			n := ix.Node(j)
			if n.IsPublication() || n.Category == model.CategoryAuthor {
				continue
			}
			rec.Entities = append(rec.Entities, model.Entity{Category: n.Category, Name: n.DisplayLabel()})
		}
		slices.SortFunc(rec.Entities, func(a, b model.Entity) int {
			if c := cmp.Compare(a.Category, b.Category); c != 0 {
				return c
			}
			return cmp.Compare(a.Name, b.Name)
		})
	}
	return &rec, nil
}
