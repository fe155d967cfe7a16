package graph

import (
	"github.com/ritzau/kg-explorer/pkg/model"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Link is a snapshot edge with both endpoints resolved to node indices
type Link struct {
	Source int     // Index of the source node
	Target int     // Index of the target node
	Weight float64 // Edge weight, 1 when absent
	Type   string  // Relation type
	Edge   int     // Position of the edge in the snapshot's edge list
}

// Index is the ingested form of a snapshot: nodes live in a dense arena and
// edges refer to them by integer index only.
type Index struct {
	snapshot     *model.Snapshot
	graph        *simple.UndirectedGraph
	order        []int          // index -> position in snapshot.Nodes
	ids          map[string]int // node id -> index
	links        []Link
	linkCount    []int // links touching each index, self-loops counted twice
	droppedNodes int
	droppedEdges int
}

// Build ingests a snapshot. Nodes with an empty or duplicate id and edges
// with a missing endpoint are dropped and counted.
func Build(s *model.Snapshot) *Index {
	if s == nil {
		s = model.NewSnapshot()
	}

	ix := &Index{
		snapshot: s,
		graph:    simple.NewUndirectedGraph(),
		order:    make([]int, 0, len(s.Nodes)),
		ids:      make(map[string]int, len(s.Nodes)),
		links:    make([]Link, 0, len(s.Edges)),
	}

	for pos, n := range s.Nodes {
		if n.ID == "" {
			ix.droppedNodes++
			continue
		}
		if _, exists := ix.ids[n.ID]; exists {
			ix.droppedNodes++
			continue
		}
		idx := len(ix.order)
		ix.order = append(ix.order, pos)
		ix.ids[n.ID] = idx
		ix.graph.AddNode(simple.Node(idx))
	}
	ix.linkCount = make([]int, len(ix.order))

	for pos, e := range s.Edges {
		src, ok := ix.ids[e.Source]
		if !ok {
			ix.droppedEdges++
			continue
		}
		dst, ok := ix.ids[e.Target]
		if !ok {
			ix.droppedEdges++
			continue
		}

		ix.links = append(ix.links, Link{
			Source: src,
			Target: dst,
			Weight: e.W(),
			Type:   e.Type,
			Edge:   pos,
		})
		ix.linkCount[src]++
		ix.linkCount[dst]++

		// The adjacency graph is simple: no self edges, no parallel edges
		if src != dst && !ix.graph.HasEdgeBetween(int64(src), int64(dst)) {
			ix.graph.SetEdge(ix.graph.NewEdge(ix.graph.Node(int64(src)), ix.graph.Node(int64(dst))))
		}
	}

	return ix
}

// Snapshot returns the snapshot the index was built from
func (ix *Index) Snapshot() *model.Snapshot {
	return ix.snapshot
}

// Len returns the number of indexed nodes
func (ix *Index) Len() int {
	return len(ix.order)
}

// Node returns the node at index i. The pointer refers into the snapshot.
func (ix *Index) Node(i int) *model.Node {
	return &ix.snapshot.Nodes[ix.order[i]]
}

// Lookup returns the index of a node id
func (ix *Index) Lookup(id string) (int, bool) {
	i, ok := ix.ids[id]
	return i, ok
}

// Links returns all valid edges
func (ix *Index) Links() []Link {
	return ix.links
}

// LinkCount returns how many links touch index i
func (ix *Index) LinkCount(i int) int {
	return ix.linkCount[i]
}

// Degree returns the number of distinct neighbors of index i
func (ix *Index) Degree(i int) int {
	return ix.graph.From(int64(i)).Len()
}

// Neighbors returns the indices adjacent to i
func (ix *Index) Neighbors(i int) []int {
	var out []int
	iter := ix.graph.From(int64(i))
	for iter.Next() {
		out = append(out, int(iter.Node().ID()))
	}
	return out
}

// DroppedNodes returns the number of nodes rejected at ingestion
func (ix *Index) DroppedNodes() int {
	return ix.droppedNodes
}

// DroppedEdges returns the number of edges rejected at ingestion
func (ix *Index) DroppedEdges() int {
	return ix.droppedEdges
}

// Components returns the number of connected components
func (ix *Index) Components() int {
	if ix.Len() == 0 {
		return 0
	}
	return len(topo.ConnectedComponents(ix.graph))
}

// distanceQueueNode represents a node in the BFS queue
type distanceQueueNode struct {
	index    int
	distance int
}

// Within returns every index reachable from the seeds in at most maxDepth
// hops, mapped to its hop distance. Seeds are at distance 0.
func (ix *Index) Within(seeds []int, maxDepth int) map[int]int {
	distances := make(map[int]int)

	queue := []distanceQueueNode{}
	for _, s := range seeds {
		if s < 0 || s >= ix.Len() {
			continue
		}
		if _, seen := distances[s]; seen {
			continue
		}
		distances[s] = 0
		queue = append(queue, distanceQueueNode{index: s, distance: 0})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.distance >= maxDepth {
			continue
		}

		iter := ix.graph.From(int64(current.index))
		for iter.Next() {
			neighbor := int(iter.Node().ID())
			if _, exists := distances[neighbor]; !exists {
				newDistance := current.distance + 1
				distances[neighbor] = newDistance
				queue = append(queue, distanceQueueNode{index: neighbor, distance: newDistance})
			}
		}
	}

	return distances
}
