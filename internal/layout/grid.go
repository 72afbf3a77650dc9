package layout

import "math"

// Grid places all visible participants in an evenly-sized grid, largest
// square-ish layout first. Formulas transliterated from grid.rs:
//
//	columns = floor(sqrt(visibles) + 0.9)
//	rows    = ceil(visibles / columns)
//	if rows > columns: swap to (columns+1, rows-1)
type Grid struct {
	resolution Size
	visibles   int
}

func NewGrid() *Grid { return &Grid{} }

func (g *Grid) SetResolution(res Size) { g.resolution = res }
func (g *Grid) SetVisibleCount(n int)  { g.visibles = n }

// StreamView implements Engine. Unlike the Rust Grid (which trusts the
// caller never to ask for an out-of-range index), this also enforces the
// spec §4.7 invariant directly: index >= visibles is "not shown".
func (g *Grid) StreamView(streamPosition int) (View, bool) {
	if streamPosition < 0 || streamPosition >= g.visibles {
		return View{}, false
	}
	cols, _ := g.grid()
	row := streamPosition / cols
	col := streamPosition % cols
	size := g.uniSize()
	pad := g.padding()
	return View{
		Pos: Position{
			X: size.Width * col,
			Y: size.Height*row + pad,
		},
		Size: size,
	}, true
}

func (g *Grid) grid() (cols, rows int) {
	if g.visibles > 1 {
		cols = int(math.Sqrt(float64(g.visibles)) + 0.9)
		if cols <= 0 {
			cols = 1
		}
		rows = (g.visibles + cols - 1) / cols
		if rows > cols {
			return cols + 1, rows - 1
		}
		return cols, rows
	}
	return 1, 1
}

func (g *Grid) uniSize() Size {
	cols, _ := g.grid()
	width := g.resolution.Width / cols
	height := int(float64(width) / g.resolution.Ratio())
	return Size{Width: width, Height: height}
}

func (g *Grid) padding() int {
	_, rows := g.grid()
	size := g.uniSize()
	return (g.resolution.Height - size.Height*rows) / 2
}
