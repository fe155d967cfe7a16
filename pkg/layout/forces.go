package layout

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/barneshut"
	"gonum.org/v1/gonum/spatial/r2"
)

// body adapts a node position to the Barnes-Hut plane. Bodies are compared
// by pointer, which is how the plane excludes a node from its own force.
type body struct {
	pos r2.Vec
}

func (b *body) Coord2() r2.Vec { return b.pos }
func (b *body) Mass() float64  { return 1 }

// applyLinks pulls linked nodes toward the rest distance
func (e *Engine) applyLinks() {
	if e.ix == nil {
		return
	}
	for li, l := range e.ix.Links() {
		s, t := l.Source, l.Target
		if s == t {
			continue
		}
		x := e.pos[t].X + e.vel[t].X - e.pos[s].X - e.vel[s].X
		y := e.pos[t].Y + e.vel[t].Y - e.pos[s].Y - e.vel[s].Y
		if x == 0 {
			x = e.jiggle()
		}
		if y == 0 {
			y = e.jiggle()
		}
		d := math.Sqrt(x*x + y*y)
		k := (d - e.cfg.LinkDistance) / d * e.alpha * e.strength[li]
		x, y = x*k, y*k

		b := e.bias[li]
		e.vel[t].X -= x * b
		e.vel[t].Y -= y * b
		e.vel[s].X += x * (1 - b)
		e.vel[s].Y += y * (1 - b)
	}
}

// applyCharge repels every node from every other node
func (e *Engine) applyCharge() {
	n := len(e.pos)
	if n < 2 || e.cfg.Charge == 0 {
		return
	}
	strength := e.cfg.Charge * e.alpha

	// v points from the body toward the other mass, so a negative charge
	// pushes away
	repel := func(_, _ barneshut.Particle2, _, m2 float64, v r2.Vec) r2.Vec {
		d2 := v.X*v.X + v.Y*v.Y
		if d2 == 0 {
			return r2.Vec{}
		}
		if d2 < 1 {
			d2 = math.Sqrt(d2)
		}
		return r2.Scale(strength*m2/d2, v)
	}

	// Coincident bodies would never separate in the quadtree
	bodies := make([]*body, n)
	particles := make([]barneshut.Particle2, n)
	seen := make(map[r2.Vec]bool, n)
	for i, p := range e.pos {
		for seen[p] {
			p = r2.Add(p, r2.Vec{X: e.jiggle(), Y: e.jiggle()})
		}
		seen[p] = true
		bodies[i] = &body{pos: p}
		particles[i] = bodies[i]
	}

	if e.cfg.Theta > 0 {
		plane, err := barneshut.NewPlane(particles)
		if err == nil {
			for i, b := range bodies {
				e.vel[i] = r2.Add(e.vel[i], plane.ForceOn(b, e.cfg.Theta, repel))
			}
			return
		}
	}

	for i := range bodies {
		for j := range bodies {
			if i == j {
				continue
			}
			v := r2.Sub(bodies[j].pos, bodies[i].pos)
			e.vel[i] = r2.Add(e.vel[i], repel(bodies[i], bodies[j], 1, 1, v))
		}
	}
}

// applyCenter translates all nodes so that their centroid moves toward
// the center
func (e *Engine) applyCenter() {
	n := len(e.pos)
	if n == 0 || e.cfg.CenterStrength == 0 {
		return
	}
	var sum r2.Vec
	for _, p := range e.pos {
		sum = r2.Add(sum, p)
	}
	centroid := r2.Scale(1/float64(n), sum)
	shift := r2.Scale(e.cfg.CenterStrength, r2.Sub(centroid, e.center))
	for i := range e.pos {
		e.pos[i] = r2.Sub(e.pos[i], shift)
	}
}

// applyCollide pushes apart nodes closer than their padded radii, using
// predicted positions and a sweep over x
func (e *Engine) applyCollide() {
	n := len(e.pos)
	if n < 2 {
		return
	}

	pred := make([]r2.Vec, n)
	radii := make([]float64, n)
	maxR := 0.0
	order := make([]int, n)
	for i := range n {
		pred[i] = r2.Add(e.pos[i], e.vel[i])
		radii[i] = e.radius[i] + e.cfg.CollideMargin
		maxR = math.Max(maxR, radii[i])
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return pred[order[a]].X < pred[order[b]].X })

	for a := 0; a < n; a++ {
		i := order[a]
		ri := radii[i]
		for b := a + 1; b < n; b++ {
			j := order[b]
			if pred[j].X-pred[i].X > ri+maxR {
				break
			}
			rj := radii[j]
			r := ri + rj
			x := pred[i].X - pred[j].X
			y := pred[i].Y - pred[j].Y
			l := x*x + y*y
			if l >= r*r {
				continue
			}
			if x == 0 {
				x = e.jiggle()
				l += x * x
			}
			if y == 0 {
				y = e.jiggle()
				l += y * y
			}
			l = math.Sqrt(l)
			k := (r - l) / l
			x, y = x*k, y*k

			share := rj * rj / (ri*ri + rj*rj)
			e.vel[i].X += x * share
			e.vel[i].Y += y * share
			e.vel[j].X -= x * (1 - share)
			e.vel[j].Y -= y * (1 - share)
		}
	}
}
