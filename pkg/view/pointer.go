package view

import (
	"fmt"
	"math"
	"time"

	"github.com/ritzau/kg-explorer/pkg/interaction"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"gonum.org/v1/gonum/spatial/r2"
)

// PointerType is the kind of input message a page sends
type PointerType string

const (
	PointerMove   PointerType = "move"
	PointerDown   PointerType = "down"
	PointerUp     PointerType = "up"
	PointerLeave  PointerType = "leave"
	PointerWheel  PointerType = "wheel"
	PointerKey    PointerType = "key"
	PointerClose  PointerType = "close"
	PointerResize PointerType = "resize"
	PointerCenter PointerType = "center"
	PointerFit    PointerType = "fit"
)

// ClickSlop is how far the pointer may travel between down and up and
// still count as a click
const ClickSlop = 3.0

// WheelSensitivity converts wheel delta to a zoom exponent
const WheelSensitivity = 0.002

// PointerMessage is one input event in screen coordinates
type PointerMessage struct {
	Type   PointerType `json:"type"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Delta  float64     `json:"delta,omitempty"`
	Key    string      `json:"key,omitempty"`
	Width  float64     `json:"width,omitempty"`
	Height float64     `json:"height,omitempty"`
}

// Validate rejects messages the view cannot act on
func (m PointerMessage) Validate() error {
	switch m.Type {
	case PointerMove, PointerDown, PointerUp, PointerLeave, PointerWheel,
		PointerKey, PointerClose, PointerCenter, PointerFit:
	case PointerResize:
		if m.Width <= 0 || m.Height <= 0 {
			return fmt.Errorf("resize needs a positive size, got %gx%g", m.Width, m.Height)
		}
	default:
		return fmt.Errorf("unknown pointer message type %q", m.Type)
	}
	if math.IsNaN(m.X) || math.IsNaN(m.Y) || math.IsInf(m.X, 0) || math.IsInf(m.Y, 0) {
		return fmt.Errorf("pointer position must be finite")
	}
	return nil
}

// Pointer queues an input message for the frame loop
func (v *View) Pointer(m PointerMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return v.post(func() { v.handlePointer(m, time.Now()) })
}

func (v *View) handlePointer(m PointerMessage, now time.Time) {
	screen := r2.Vec{X: m.X, Y: m.Y}

	switch m.Type {
	case PointerMove:
		v.pointerMove(screen, now)
	case PointerDown:
		v.pointerDown(screen)
	case PointerUp:
		v.pointerUp(screen)
	case PointerLeave:
		v.pointerUp(screen)
		v.layer.Hover(nil, screen, now)
	case PointerWheel:
		v.viewport.Zoom(math.Exp(-m.Delta*WheelSensitivity), screen)
	case PointerKey:
		v.layer.Key(m.Key)
	case PointerClose:
		v.layer.Dismiss(interaction.DismissClose)
	case PointerResize:
		v.resize(m.Width, m.Height)
	case PointerCenter:
		v.viewport.CenterGraph(v.engine.Center(), now)
	case PointerFit:
		lo, hi, ok := v.engine.Bounds()
		v.viewport.ZoomToFit(lo, hi, ok, now)
	}
	v.dirty = true
}

// hit returns the index of the node under a screen point, taking hover
// enlargement into account
func (v *View) hit(screen r2.Vec, now time.Time) (int, bool) {
	p := v.viewport.Transform().Invert(screen)
	return v.engine.NodeAt(p, func(i int) float64 {
		return v.layer.HoverFactor(v.index.Node(i).ID, now)
	})
}

func (v *View) pointerMove(screen r2.Vec, now time.Time) {
	if pr := v.press; pr != nil {
		if r2.Norm(r2.Sub(screen, pr.screen)) > ClickSlop {
			pr.moved = true
		}
		if pr.nodeID != "" {
			p := r2.Add(v.viewport.Transform().Invert(screen), pr.grab)
			if err := v.layer.DragMove(p); err != nil {
				logging.Debug("drag move failed", "node", pr.nodeID, "error", err)
			}
		} else if pr.moved {
			d := r2.Sub(screen, pr.last)
			v.viewport.Pan(d.X, d.Y)
		}
		pr.last = screen
		return
	}

	if i, ok := v.hit(screen, now); ok {
		v.layer.Hover(v.index.Node(i), screen, now)
		return
	}
	v.layer.Hover(nil, screen, now)
}

func (v *View) pointerDown(screen r2.Vec) {
	pr := &press{screen: screen, last: screen}
	if i, ok := v.hit(screen, time.Now()); ok {
		pr.nodeID = v.index.Node(i).ID
		at := v.viewport.Transform().Invert(screen)
		pr.grab = r2.Sub(v.engine.Position(i), at)
		if err := v.layer.DragStart(pr.nodeID, at); err != nil {
			logging.Debug("drag start failed", "node", pr.nodeID, "error", err)
			pr.nodeID = ""
		}
	}
	v.press = pr
}

func (v *View) pointerUp(screen r2.Vec) {
	pr := v.press
	if pr == nil {
		return
	}
	v.press = nil

	if pr.nodeID != "" {
		if err := v.layer.DragEnd(); err != nil {
			logging.Debug("drag end failed", "node", pr.nodeID, "error", err)
		}
	}
	if pr.moved {
		return
	}

	if pr.nodeID != "" {
		if i, ok := v.index.Lookup(pr.nodeID); ok {
			v.layer.Click(v.index.Node(i), screen)
			return
		}
	}
	v.layer.Click(nil, screen)
}
