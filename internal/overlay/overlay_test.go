package overlay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/overlay"
)

func TestTextOverlaySetAndShow(t *testing.T) {
	o := overlay.NewTextOverlay("Alice", overlay.TextStyle{})
	require.Equal(t, "Alice", o.Text())
	require.True(t, o.Visible())

	o.Set("Bob")
	require.Equal(t, "Bob", o.Text())

	o.Show(false)
	require.False(t, o.Visible())
}

func TestClockOverlayFormatsTime(t *testing.T) {
	c, err := overlay.NewClockOverlay("%Y-%m-%d", overlay.TextStyle{})
	require.NoError(t, err)

	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "2026-07-29", c.Text(now))
}

func TestClockOverlayRejectsInvalidFormat(t *testing.T) {
	_, err := overlay.NewClockOverlay("%Q", overlay.TextStyle{})
	require.Error(t, err)
}

func TestPaddingOverlayShrinksRectangle(t *testing.T) {
	p := overlay.NewPaddingOverlay(overlay.BoxPadding{Left: 10, Right: 10, Top: 56, Bottom: 0})
	base := layout.View{Pos: layout.Position{X: 0, Y: 0}, Size: layout.Size{Width: 1280, Height: 720}}

	got := p.Apply(base)
	require.Equal(t, layout.Position{X: 10, Y: 56}, got.Pos)
	require.Equal(t, layout.Size{Width: 1260, Height: 664}, got.Size)
}

func TestTalkOverlayBoundsReservesTopPadding(t *testing.T) {
	to, err := overlay.NewTalkOverlay("Alice")
	require.NoError(t, err)

	base := layout.View{Pos: layout.Position{X: 0, Y: 0}, Size: layout.Size{Width: 640, Height: 360}}
	bounds := to.Bounds(base)
	require.Equal(t, 56, bounds.Pos.Y)

	require.True(t, to.Title.Visible())
	require.True(t, to.Clock.Visible())
	to.Show(false)
	require.False(t, to.Title.Visible())
	require.False(t, to.Clock.Visible())
}
