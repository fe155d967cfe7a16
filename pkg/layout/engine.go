// Package layout is the force-directed simulation that positions graph
// nodes. Positions are owned by the engine and keyed by node index; the
// snapshot itself is never modified.
package layout

import (
	"errors"
	"math"
	"math/rand"

	"github.com/ritzau/kg-explorer/pkg/graph"
	"gonum.org/v1/gonum/spatial/r2"
)

// Simulation constants
const (
	AlphaStart    = 1.0
	AlphaMin      = 0.001
	VelocityDecay = 0.4
	DragAlpha     = 0.3 // alphaTarget while a node is dragged
	ResizeAlpha   = 0.3 // alpha after the canvas is resized
)

// AlphaDecay brings alpha from 1 to AlphaMin in about 300 ticks
var AlphaDecay = 1 - math.Pow(AlphaMin, 1.0/300)

// ErrUnknownNode is returned by drag operations on an id not in the graph
var ErrUnknownNode = errors.New("unknown node")

// Config holds the force parameters
type Config struct {
	Charge         float64 // Repulsion strength per node, negative repels
	LinkDistance   float64 // Spring rest length
	CollideMargin  float64 // Added to every node radius for collision
	CenterStrength float64 // Centroid pull per tick, in [0, 1]
	Theta          float64 // Barnes-Hut accuracy; 0 forces exact pairwise repulsion
	Seed           int64   // Seed of the jiggle source
}

// DefaultConfig returns the standard force parameters
func DefaultConfig() Config {
	return Config{
		Charge:         -300,
		LinkDistance:   100,
		CollideMargin:  5,
		CenterStrength: 0.1,
		Theta:          0.9,
		Seed:           1,
	}
}

// Engine runs the simulation for one graph at a time
type Engine struct {
	cfg    Config
	rng    *rand.Rand
	center r2.Vec

	alpha       float64
	alphaTarget float64
	running     bool
	ticks       int

	ix     *graph.Index
	ids    []string
	pos    []r2.Vec
	vel    []r2.Vec
	fixed  []*r2.Vec // Pinned position while dragged, nil otherwise
	radius []float64

	// Per-link spring parameters, parallel to ix.Links()
	strength []float64
	bias     []float64
}

// New creates an idle engine centered on center
func New(cfg Config, center r2.Vec) *Engine {
	return &Engine{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		center: center,
	}
}

// SetGraph replaces the simulated graph. Nodes whose id was already present
// keep their position; new nodes are placed on a spiral around the center.
// radii gives the drawn radius per index; missing entries use the default.
func (e *Engine) SetGraph(ix *graph.Index, radii []float64) {
	prev := make(map[string]r2.Vec, len(e.ids))
	for i, id := range e.ids {
		prev[id] = e.pos[i]
	}

	n := 0
	if ix != nil {
		n = ix.Len()
	}
	e.ix = ix
	e.ids = make([]string, n)
	e.pos = make([]r2.Vec, n)
	e.vel = make([]r2.Vec, n)
	e.fixed = make([]*r2.Vec, n)
	e.radius = make([]float64, n)

	initialAngle := math.Pi * (3 - math.Sqrt(5))
	for i := range n {
		id := ix.Node(i).ID
		e.ids[i] = id
		if i < len(radii) && radii[i] > 0 {
			e.radius[i] = radii[i]
		} else {
			e.radius[i] = 10
		}
		if p, ok := prev[id]; ok {
			e.pos[i] = p
			continue
		}
		r := 10 * math.Sqrt(0.5+float64(i))
		a := float64(i) * initialAngle
		e.pos[i] = r2.Vec{X: e.center.X + r*math.Cos(a), Y: e.center.Y + r*math.Sin(a)}
	}

	e.initLinks()
	e.alpha = AlphaStart
	e.alphaTarget = 0
	e.running = n > 0
	e.ticks = 0
}

// initLinks computes spring strength and bias from link counts
func (e *Engine) initLinks() {
	if e.ix == nil {
		e.strength, e.bias = nil, nil
		return
	}
	links := e.ix.Links()
	e.strength = make([]float64, len(links))
	e.bias = make([]float64, len(links))
	for i, l := range links {
		cs, ct := float64(e.ix.LinkCount(l.Source)), float64(e.ix.LinkCount(l.Target))
		e.strength[i] = math.Min(1, l.Weight/math.Min(cs, ct))
		e.bias[i] = cs / (cs + ct)
	}
}

// SetRadius updates the collision radius of index i
func (e *Engine) SetRadius(i int, r float64) {
	if i >= 0 && i < len(e.radius) && r > 0 {
		e.radius[i] = r
	}
}

// Len returns the number of simulated nodes
func (e *Engine) Len() int {
	return len(e.pos)
}

// Index returns the graph being simulated
func (e *Engine) Index() *graph.Index {
	return e.ix
}

// Alpha returns the current simulation heat
func (e *Engine) Alpha() float64 {
	return e.alpha
}

// AlphaTarget returns the value alpha decays toward
func (e *Engine) AlphaTarget() float64 {
	return e.alphaTarget
}

// Running reports whether Tick still moves nodes
func (e *Engine) Running() bool {
	return e.running
}

// Ticks returns the number of ticks since the graph was set
func (e *Engine) Ticks() int {
	return e.ticks
}

// Center returns the centering force target
func (e *Engine) Center() r2.Vec {
	return e.center
}

// SetCenter moves the centering target without touching positions
func (e *Engine) SetCenter(c r2.Vec) {
	e.center = c
}

// Reheat raises alpha to at least a and restarts the simulation
func (e *Engine) Reheat(a float64) {
	if len(e.pos) == 0 {
		return
	}
	e.alpha = math.Max(e.alpha, a)
	e.running = true
}

// Position returns the position of index i
func (e *Engine) Position(i int) r2.Vec {
	return e.pos[i]
}

// Radius returns the drawn radius of index i
func (e *Engine) Radius(i int) float64 {
	return e.radius[i]
}

// Pinned reports whether index i is held by a drag
func (e *Engine) Pinned(i int) bool {
	return e.fixed[i] != nil
}

// Lookup returns the index of a node id
func (e *Engine) Lookup(id string) (int, bool) {
	if e.ix == nil {
		return 0, false
	}
	return e.ix.Lookup(id)
}

// Tick advances the simulation one step. It returns false, doing nothing,
// once alpha has decayed below AlphaMin.
func (e *Engine) Tick() bool {
	if !e.running {
		return false
	}

	e.alpha += (e.alphaTarget - e.alpha) * AlphaDecay

	e.applyLinks()
	e.applyCharge()
	e.applyCenter()
	e.applyCollide()

	for i := range e.pos {
		if f := e.fixed[i]; f != nil {
			e.pos[i] = *f
			e.vel[i] = r2.Vec{}
			continue
		}
		e.vel[i] = r2.Scale(1-VelocityDecay, e.vel[i])
		e.pos[i] = r2.Add(e.pos[i], e.vel[i])
	}

	e.ticks++
	if e.alpha < AlphaMin {
		e.running = false
	}
	return true
}

// Settle ticks until the simulation stops or maxTicks is reached, returning
// the number of ticks run
func (e *Engine) Settle(maxTicks int) int {
	n := 0
	for n < maxTicks && e.Tick() {
		n++
	}
	return n
}

// DragStart pins a node at its current position and keeps the rest of the
// graph responsive while the drag lasts
func (e *Engine) DragStart(id string) error {
	i, ok := e.Lookup(id)
	if !ok {
		return ErrUnknownNode
	}
	p := e.pos[i]
	e.fixed[i] = &p
	e.alphaTarget = DragAlpha
	e.running = true
	return nil
}

// DragMove moves the pin of a dragged node
func (e *Engine) DragMove(id string, p r2.Vec) error {
	i, ok := e.Lookup(id)
	if !ok {
		return ErrUnknownNode
	}
	if e.fixed[i] == nil {
		e.fixed[i] = &r2.Vec{}
	}
	*e.fixed[i] = p
	e.running = true
	return nil
}

// DragEnd releases the node back to the physics
func (e *Engine) DragEnd(id string) error {
	i, ok := e.Lookup(id)
	if !ok {
		return ErrUnknownNode
	}
	e.fixed[i] = nil
	e.alphaTarget = 0
	return nil
}

// Bounds returns the bounding box of all nodes, radii included.
// ok is false when there are no nodes.
func (e *Engine) Bounds() (lo, hi r2.Vec, ok bool) {
	if len(e.pos) == 0 {
		return r2.Vec{}, r2.Vec{}, false
	}
	lo = r2.Vec{X: math.Inf(1), Y: math.Inf(1)}
	hi = r2.Vec{X: math.Inf(-1), Y: math.Inf(-1)}
	for i, p := range e.pos {
		r := e.radius[i]
		lo.X = math.Min(lo.X, p.X-r)
		lo.Y = math.Min(lo.Y, p.Y-r)
		hi.X = math.Max(hi.X, p.X+r)
		hi.Y = math.Max(hi.Y, p.Y+r)
	}
	return lo, hi, true
}

// NodeAt returns the topmost node whose disc, scaled by grow(i), contains p
func (e *Engine) NodeAt(p r2.Vec, grow func(i int) float64) (int, bool) {
	for i := len(e.pos) - 1; i >= 0; i-- {
		r := e.radius[i]
		if grow != nil {
			r *= grow(i)
		}
		if r2.Norm(r2.Sub(p, e.pos[i])) <= r {
			return i, true
		}
	}
	return 0, false
}

func (e *Engine) jiggle() float64 {
	return (e.rng.Float64() - 0.5) * 1e-6
}
