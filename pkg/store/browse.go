package store

import (
	"context"
	"fmt"

	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/model"
	"github.com/ritzau/kg-explorer/pkg/render"
)

var _ backend.Browser = (*Store)(nil)

// Stats counts the stored nodes and edges by category and relation type
func (s *Store) Stats(ctx context.Context) (*backend.Stats, error) {
	st := &backend.Stats{
		Colors: make(map[string]string),
	}
	var err error
	if st.NodeTypes, err = s.countBy(ctx, `SELECT category, COUNT(*) FROM nodes GROUP BY category`); err != nil {
		return nil, fmt.Errorf("counting nodes: %w", err)
	}
	if st.EdgeTypes, err = s.countBy(ctx, `SELECT type, COUNT(*) FROM edges GROUP BY type`); err != nil {
		return nil, fmt.Errorf("counting edges: %w", err)
	}
	for c, n := range st.NodeTypes {
		st.TotalNodes += n
		st.Colors[c] = render.DefaultStyle().For(model.Category(c)).Color
	}
	for _, n := range st.EdgeTypes {
		st.TotalEdges += n
	}
	return st, nil
}

func (s *Store) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// NodeDetails returns a node with up to maxNeighbors of its neighbors and
// the relationships connecting them
func (s *Store) NodeDetails(ctx context.Context, id string, maxNeighbors int) (*backend.NodeDetails, error) {
	if maxNeighbors <= 0 {
		maxNeighbors = backend.DefaultMaxNeighbors
	}
	ix, _ := s.index()
	i, ok := ix.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, backend.ErrNotFound)
	}

	d := &backend.NodeDetails{
		Node:          *ix.Node(i),
		Neighbors:     []model.Node{},
		Relationships: []model.Edge{},
	}
	d.Node.Size = nodeSize(d.Node.Category, ix.LinkCount(i))

	edges := ix.Snapshot().Edges
	seen := make(map[int]bool)
	for _, l := range ix.Links() {
		if len(seen) >= maxNeighbors {
			break
		}
		var other int
		switch i {
		case l.Source:
			other = l.Target
		case l.Target:
			other = l.Source
		default:
			continue
		}
		d.Relationships = append(d.Relationships, edges[l.Edge])
		if other == i || seen[other] {
			continue
		}
		seen[other] = true
		n := *ix.Node(other)
		n.Size = nodeSize(n.Category, ix.LinkCount(other))
		d.Neighbors = append(d.Neighbors, n)
	}
	return d, nil
}

// Health checks that the database answers
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	return nil
}
