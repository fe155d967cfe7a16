package interaction

import "gonum.org/v1/gonum/spatial/r2"

// Size is a width and height in screen pixels
type Size struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Popover footprints and placement constants
var (
	InfoSize     = Size{W: 280, H: 160}
	DetailSize   = Size{W: 420, H: 360}
	AnchorOffset = r2.Vec{X: 10, Y: -10}
)

// Margin is kept free between a popover and the viewport edge
const Margin = 10.0

// Place positions a popover of the given size near cursor. It prefers
// cursor+offset, flips to the mirrored side of the cursor when that would
// cross the far margin, then clamps into [margin, viewport-size-margin].
// A popover larger than the viewport is pinned to the margin.
func Place(cursor, offset r2.Vec, size, viewport Size, margin float64) r2.Vec {
	return r2.Vec{
		X: place1(cursor.X, offset.X, size.W, viewport.W, margin),
		Y: place1(cursor.Y, offset.Y, size.H, viewport.H, margin),
	}
}

func place1(cursor, offset, extent, viewport, margin float64) float64 {
	pos := cursor + offset
	if pos+extent > viewport-margin {
		pos = cursor - offset - extent
	}
	hi := viewport - extent - margin
	if pos > hi {
		pos = hi
	}
	if pos < margin {
		pos = margin
	}
	return pos
}

// Anchor returns the hover anchor for a pointer position
func Anchor(pointer r2.Vec) r2.Vec {
	return r2.Add(pointer, AnchorOffset)
}
