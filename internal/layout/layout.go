// Package layout maps (canvas resolution, visible count, stream index) to a
// tile rectangle, via two pure strategies — grid and speaker. Grounded
// line-for-line on original_source/recorder-main/compositor/src/layout/
// {mod,grid,speaker}.rs; the Rust Layout trait becomes the Engine interface
// below and View/Position/Size become Go structs of the same shape.
package layout

// Size is a pixel dimension.
type Size struct {
	Width, Height int
}

func (s Size) Ratio() float64 { return float64(s.Width) / float64(s.Height) }

// Position is a cartesian pixel offset from the canvas origin.
type Position struct {
	X, Y int
}

// View is the computed placement of one stream's tile.
type View struct {
	Pos  Position
	Size Size
}

// Engine computes per-stream tile views given a canvas resolution and the
// current visible-stream count; mirrors the Rust Layout trait.
type Engine interface {
	SetResolution(res Size)
	SetVisibleCount(n int)
	// StreamView returns the view for the stream at streamPosition, or
	// ok=false if that index is not currently shown ("alpha=0" per §4.7).
	StreamView(streamPosition int) (view View, ok bool)
}
