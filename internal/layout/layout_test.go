package layout_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/layout"
)

func TestGridAt1280x720With5Visibles(t *testing.T) {
	g := layout.NewGrid()
	g.SetResolution(layout.Size{Width: 1280, Height: 720})
	g.SetVisibleCount(5)

	v, ok := g.StreamView(0)
	require.True(t, ok)
	require.Equal(t, 426, v.Size.Width)
	require.Equal(t, 239, v.Size.Height)
	require.Equal(t, 121, v.Pos.Y) // vertical padding (720 - 239*2)/2
}

func TestGridOutOfRangeNotShown(t *testing.T) {
	g := layout.NewGrid()
	g.SetResolution(layout.Size{Width: 1280, Height: 720})
	g.SetVisibleCount(2)

	_, ok := g.StreamView(2)
	require.False(t, ok)
}

func TestGridRectanglesNonOverlapping(t *testing.T) {
	canvas := layout.Size{Width: 1920, Height: 1080}
	for visible := 1; visible <= 12; visible++ {
		g := layout.NewGrid()
		g.SetResolution(canvas)
		g.SetVisibleCount(visible)

		var rects []layout.View
		for i := 0; i < visible; i++ {
			v, ok := g.StreamView(i)
			require.True(t, ok)
			require.GreaterOrEqual(t, v.Pos.X, 0)
			require.GreaterOrEqual(t, v.Pos.Y, 0)
			require.LessOrEqual(t, v.Pos.X+v.Size.Width, canvas.Width)
			rects = append(rects, v)
		}
		requireNonOverlapping(t, rects)
	}
}

func TestSpeakerTwoVisibles(t *testing.T) {
	s := layout.NewSpeaker()
	s.SetResolution(layout.Size{Width: 1920, Height: 1080})
	s.SetVisibleCount(2)

	speaker, ok := s.StreamView(0)
	require.True(t, ok)
	require.Equal(t, 0, speaker.Pos.X)
	require.Equal(t, 1080/4, speaker.Pos.Y)

	viewer, ok := s.StreamView(1)
	require.True(t, ok)
	require.Equal(t, 1920/2, viewer.Pos.X)
}

func TestSpeakerRectanglesNonOverlapping(t *testing.T) {
	canvas := layout.Size{Width: 1920, Height: 1080}
	for visible := 1; visible <= 8; visible++ {
		s := layout.NewSpeaker()
		s.SetResolution(canvas)
		s.SetVisibleCount(visible)

		var rects []layout.View
		for i := 0; i < visible; i++ {
			v, ok := s.StreamView(i)
			require.True(t, ok)
			rects = append(rects, v)
		}
		for _, v := range rects {
			require.GreaterOrEqual(t, v.Size.Width, 0)
			require.GreaterOrEqual(t, v.Size.Height, 0)
		}
		requireNonOverlapping(t, rects)
	}
}

func requireNonOverlapping(t *testing.T, views []layout.View) {
	t.Helper()
	for i := 0; i < len(views); i++ {
		for j := i + 1; j < len(views); j++ {
			a, b := views[i], views[j]
			overlap := a.Pos.X < b.Pos.X+b.Size.Width &&
				b.Pos.X < a.Pos.X+a.Size.Width &&
				a.Pos.Y < b.Pos.Y+b.Size.Height &&
				b.Pos.Y < a.Pos.Y+a.Size.Height
			require.False(t, overlap, "tiles %d and %d overlap: %+v / %+v", i, j, a, b)
		}
	}
}
