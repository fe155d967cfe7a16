// Package render turns the current graph, positions and interaction state
// into a frame of drawing primitives.
package render

import (
	"github.com/ritzau/kg-explorer/pkg/graph"
	"github.com/ritzau/kg-explorer/pkg/interaction"
	"github.com/ritzau/kg-explorer/pkg/model"
	"github.com/ritzau/kg-explorer/pkg/viewport"
	"gonum.org/v1/gonum/spatial/r2"
)

// LabelGap is the distance between a node's rim and its label
const LabelGap = 15.0

// Layout is the part of the simulation the pipeline reads
type Layout interface {
	Position(i int) r2.Vec
	Pinned(i int) bool
}

// FrameNode is one node shape with its label
type FrameNode struct {
	ID          string         `json:"id"`
	Category    model.Category `json:"category"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	R           float64        `json:"r"`
	Color       string         `json:"color"`
	Label       string         `json:"label"`
	LabelX      float64        `json:"lx"`
	LabelY      float64        `json:"ly"`
	Placeholder bool           `json:"placeholder,omitempty"`
	Pinned      bool           `json:"pinned,omitempty"`
	Hovered     bool           `json:"hovered,omitempty"`
	Selected    bool           `json:"selected,omitempty"`
}

// FrameEdge is one edge segment between current endpoint positions
type FrameEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type,omitempty"`
	Weight float64 `json:"weight"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
}

// Frame is everything the page needs to draw one picture
type Frame struct {
	Seq       uint64                 `json:"seq"`
	State     string                 `json:"state"`
	Error     string                 `json:"error,omitempty"`
	Alpha     float64                `json:"alpha"`
	Width     float64                `json:"width"`
	Height    float64                `json:"height"`
	Transform viewport.Transform     `json:"transform"`
	Nodes     []FrameNode            `json:"nodes"`
	Edges     []FrameEdge            `json:"edges"`
	Selection *interaction.Selection `json:"selection,omitempty"`
}

// Input is the state a frame is built from
type Input struct {
	Index       *graph.Index
	Layout      Layout
	HoverFactor func(id string) float64 // nil means no hover scaling
	Hovered     string
	Selection   interaction.Selection
	Transform   viewport.Transform
	Width       float64
	Height      float64
	Alpha       float64
	State       string
	Error       string
}

// Pipeline builds frames with an injected style
type Pipeline struct {
	style Style
	seq   uint64
}

// NewPipeline creates a pipeline drawing with style
func NewPipeline(style Style) *Pipeline {
	return &Pipeline{style: style}
}

// Style returns the pipeline's style table
func (p *Pipeline) Style() Style {
	return p.style
}

// Radii returns the base radius of every indexed node
func (p *Pipeline) Radii(ix *graph.Index) []float64 {
	if ix == nil {
		return nil
	}
	radii := make([]float64, ix.Len())
	for i := range radii {
		radii[i] = p.style.Radius(ix.Node(i))
	}
	return radii
}

// Build produces the next frame. Only edges whose endpoints both exist are
// drawn, because the index has already dropped the others.
func (p *Pipeline) Build(in Input) Frame {
	p.seq++
	f := Frame{
		Seq:       p.seq,
		State:     in.State,
		Error:     in.Error,
		Alpha:     in.Alpha,
		Width:     in.Width,
		Height:    in.Height,
		Transform: in.Transform,
		Nodes:     make([]FrameNode, 0),
		Edges:     make([]FrameEdge, 0),
	}
	if !in.Selection.Empty() {
		sel := in.Selection
		f.Selection = &sel
	}
	if in.Index == nil || in.Layout == nil {
		return f
	}

	ix := in.Index
	f.Nodes = make([]FrameNode, ix.Len())
	for i := range f.Nodes {
		n := ix.Node(i)
		pos := in.Layout.Position(i)
		r := p.style.Radius(n)
		if in.HoverFactor != nil {
			r *= in.HoverFactor(n.ID)
		}
		_, resolved := n.Title()
		f.Nodes[i] = FrameNode{
			ID:          n.ID,
			Category:    n.Category,
			X:           pos.X,
			Y:           pos.Y,
			R:           r,
			Color:       p.style.For(n.Category).Color,
			Label:       n.DisplayLabel(),
			LabelX:      pos.X,
			LabelY:      pos.Y + r + LabelGap,
			Placeholder: n.IsPublication() && !resolved,
			Pinned:      in.Layout.Pinned(i),
			Hovered:     n.ID == in.Hovered,
			Selected:    n.ID == in.Selection.NodeID,
		}
	}

	links := ix.Links()
	f.Edges = make([]FrameEdge, len(links))
	for i, l := range links {
		s, t := in.Layout.Position(l.Source), in.Layout.Position(l.Target)
		f.Edges[i] = FrameEdge{
			Source: ix.Node(l.Source).ID,
			Target: ix.Node(l.Target).ID,
			Type:   l.Type,
			Weight: l.Weight,
			X1:     s.X,
			Y1:     s.Y,
			X2:     t.X,
			Y2:     t.Y,
		}
	}
	return f
}
