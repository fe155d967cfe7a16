package model

import (
	"encoding/json"
	"math"
)

// TitlePlaceholder is the label shown for a publication whose title has not
// been resolved yet
const TitlePlaceholder = "Loading title…"

// DefaultNodeSize is the radius used when neither the node nor its category
// provides one
const DefaultNodeSize = 10.0

// Snapshot is one graph returned by a single load request.
// Node positions are not part of a snapshot; the layout engine owns them.
type Snapshot struct {
	Nodes []Node         `json:"nodes"`
	Edges []Edge         `json:"edges"`
	Stats map[string]any `json:"stats,omitempty"`
}

// Node represents an entity in the knowledge graph
type Node struct {
	ID         string     `json:"id"`
	Category   Category   `json:"category"`
	Properties Properties `json:"properties"`
	Size       float64    `json:"size,omitempty"` // Radius; 0 means "use the category default"
}

// Edge represents a relationship between two nodes
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   string   `json:"type,omitempty"`   // Relation type, e.g. "STUDIES"
	Weight *float64 `json:"weight,omitempty"` // Optional; see W()
}

// NewSnapshot creates a new empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Nodes: make([]Node, 0),
		Edges: make([]Edge, 0),
	}
}

// AddNode appends a node to the snapshot
func (s *Snapshot) AddNode(node Node) {
	s.Nodes = append(s.Nodes, node)
}

// AddEdge appends an edge to the snapshot
func (s *Snapshot) AddEdge(edge Edge) {
	s.Edges = append(s.Edges, edge)
}

// Clone returns a deep copy of the snapshot's nodes and edges
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return NewSnapshot()
	}
	c := &Snapshot{
		Nodes: make([]Node, len(s.Nodes)),
		Edges: make([]Edge, len(s.Edges)),
	}
	for i, n := range s.Nodes {
		n.Properties = n.Properties.Clone()
		c.Nodes[i] = n
	}
	copy(c.Edges, s.Edges)
	if s.Stats != nil {
		c.Stats = make(map[string]any, len(s.Stats))
		for k, v := range s.Stats {
			c.Stats[k] = v
		}
	}
	return c
}

// CountByCategory returns the number of nodes per category
func (s *Snapshot) CountByCategory() map[Category]int {
	counts := make(map[Category]int)
	for _, n := range s.Nodes {
		counts[n.Category]++
	}
	return counts
}

// CountByRelation returns the number of edges per relation type
func (s *Snapshot) CountByRelation() map[string]int {
	counts := make(map[string]int)
	for _, e := range s.Edges {
		t := e.Type
		if t == "" {
			t = "RELATED"
		}
		counts[t]++
	}
	return counts
}

// UnmarshalJSON accepts both "category" and the older "label" key
func (n *Node) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID         string     `json:"id"`
		Category   Category   `json:"category"`
		Label      Category   `json:"label"`
		Properties Properties `json:"properties"`
		Size       float64    `json:"size"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n.ID = aux.ID
	n.Category = aux.Category
	if n.Category == "" {
		n.Category = aux.Label
	}
	n.Properties = aux.Properties
	n.Size = aux.Size
	return nil
}

// IsPublication reports whether the node is a publication
func (n *Node) IsPublication() bool {
	return n.Category == CategoryPublication
}

// ExternalID returns the catalogue identifier used for title and record
// lookups. Publications are keyed by their pmcid when present.
func (n *Node) ExternalID() string {
	if n.IsPublication() {
		if id := n.Properties.String("pmcid"); id != "" {
			return id
		}
	}
	return n.ID
}

// Title returns the resolved title; placeholders do not count
func (n *Node) Title() (string, bool) {
	t := n.Properties.String("title")
	if t == "" || t == TitlePlaceholder {
		return "", false
	}
	return t, true
}

// NeedsTitle reports whether the node is a publication without a resolved title
func (n *Node) NeedsTitle() bool {
	if !n.IsPublication() {
		return false
	}
	_, ok := n.Title()
	return !ok
}

// DisplayLabel returns the text drawn under the node
func (n *Node) DisplayLabel() string {
	for _, key := range []string{"title", "name", "scientific_name"} {
		if v := n.Properties.String(key); v != "" {
			return v
		}
	}
	return n.ID
}

// W returns the edge weight, defaulting to 1
func (e Edge) W() float64 {
	if e.Weight == nil || math.IsNaN(*e.Weight) || *e.Weight <= 0 {
		return 1
	}
	return *e.Weight
}

// Weighted returns a pointer to w for use in Edge literals
func Weighted(w float64) *float64 {
	return &w
}
