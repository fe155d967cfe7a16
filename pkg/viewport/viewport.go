// Package viewport owns the pan/zoom transform applied to the whole drawn
// scene. It never reads or writes node positions, only the bounds it is
// handed.
package viewport

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

const (
	MinScale     = 0.1
	MaxScale     = 10.0
	FitPadding   = 0.9 // Share of the canvas a fitted graph may use
	AnimDuration = 750 * time.Millisecond
)

// Transform maps layout space to screen space: screen = layout*K + (X, Y)
type Transform struct {
	K float64 `json:"k"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Identity is the transform at scale 1 without translation
var Identity = Transform{K: 1}

// Apply maps a layout point to the screen
func (t Transform) Apply(p r2.Vec) r2.Vec {
	return r2.Vec{X: p.X*t.K + t.X, Y: p.Y*t.K + t.Y}
}

// Invert maps a screen point back to layout space
func (t Transform) Invert(p r2.Vec) r2.Vec {
	return r2.Vec{X: (p.X - t.X) / t.K, Y: (p.Y - t.Y) / t.K}
}

// ClampScale bounds k to [MinScale, MaxScale]; NaN becomes 1
func ClampScale(k float64) float64 {
	if math.IsNaN(k) {
		return 1
	}
	return math.Max(MinScale, math.Min(MaxScale, k))
}

// animation interpolates between two transforms
type animation struct {
	from, to Transform
	start    time.Time
	duration time.Duration
}

// Controller holds the current transform, the canvas size and any running
// animation
type Controller struct {
	width, height float64
	current       Transform
	anim          *animation
}

// New creates a controller for a canvas of the given size
func New(width, height float64) *Controller {
	return &Controller{width: width, height: height, current: Identity}
}

// Transform returns the current transform
func (c *Controller) Transform() Transform {
	return c.current
}

// Size returns the canvas dimensions
func (c *Controller) Size() (width, height float64) {
	return c.width, c.height
}

// Animating reports whether an animation is in progress
func (c *Controller) Animating() bool {
	return c.anim != nil
}

// Set replaces the transform, clamping its scale. Interrupts any animation.
func (c *Controller) Set(t Transform) {
	c.anim = nil
	t.K = ClampScale(t.K)
	c.current = t
}

// Pan translates the scene by a screen-space delta
func (c *Controller) Pan(dx, dy float64) {
	t := c.current
	t.X += dx
	t.Y += dy
	c.Set(t)
}

// Zoom multiplies the scale by factor, keeping the screen point anchor fixed
func (c *Controller) Zoom(factor float64, anchor r2.Vec) {
	c.ZoomTo(c.current.K*factor, anchor)
}

// ZoomTo sets the scale, keeping the screen point anchor fixed
func (c *Controller) ZoomTo(k float64, anchor r2.Vec) {
	k = ClampScale(k)
	p := c.current.Invert(anchor)
	c.Set(Transform{K: k, X: anchor.X - p.X*k, Y: anchor.Y - p.Y*k})
}

// CenterGraph animates to scale 1 with the layout point origin in the
// middle of the canvas
func (c *Controller) CenterGraph(origin r2.Vec, now time.Time) {
	c.animateTo(Transform{
		K: 1,
		X: c.width/2 - origin.X,
		Y: c.height/2 - origin.Y,
	}, now)
}

// FitTransform computes the transform that centers the box [lo, hi] in the
// canvas, using FitPadding of the available space
func (c *Controller) FitTransform(lo, hi r2.Vec) Transform {
	bw, bh := hi.X-lo.X, hi.Y-lo.Y
	k := math.Min(c.width/bw, c.height/bh) * FitPadding
	if math.IsNaN(k) || math.IsInf(k, 0) {
		k = MaxScale
	}
	k = ClampScale(k)
	mid := r2.Vec{X: (lo.X + hi.X) / 2, Y: (lo.Y + hi.Y) / 2}
	return Transform{
		K: k,
		X: c.width/2 - mid.X*k,
		Y: c.height/2 - mid.Y*k,
	}
}

// ZoomToFit animates to FitTransform. ok is false, and nothing changes,
// when there are no bounds to fit.
func (c *Controller) ZoomToFit(lo, hi r2.Vec, ok bool, now time.Time) bool {
	if !ok {
		return false
	}
	c.animateTo(c.FitTransform(lo, hi), now)
	return true
}

// Resize updates the canvas dimensions. The transform is kept.
func (c *Controller) Resize(width, height float64) {
	if width > 0 {
		c.width = width
	}
	if height > 0 {
		c.height = height
	}
}

func (c *Controller) animateTo(to Transform, now time.Time) {
	to.K = ClampScale(to.K)
	c.anim = &animation{from: c.current, to: to, start: now, duration: AnimDuration}
}

// Advance steps a running animation to now. It returns true while the
// transform changed.
func (c *Controller) Advance(now time.Time) bool {
	a := c.anim
	if a == nil {
		return false
	}
	p := float64(now.Sub(a.start)) / float64(a.duration)
	if p >= 1 {
		c.current = a.to
		c.anim = nil
		return true
	}
	if p < 0 {
		p = 0
	}
	e := easeCubicInOut(p)
	// Zoom interpolates geometrically so the motion looks uniform
	c.current = Transform{
		K: ClampScale(a.from.K * math.Pow(a.to.K/a.from.K, e)),
		X: a.from.X + (a.to.X-a.from.X)*e,
		Y: a.from.Y + (a.to.Y-a.from.Y)*e,
	}
	return true
}

func easeCubicInOut(t float64) float64 {
	t *= 2
	if t <= 1 {
		return t * t * t / 2
	}
	t -= 2
	return (t*t*t + 2) / 2
}
