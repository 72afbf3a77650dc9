package videocompositor_test

import (
	"image/color"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/ids"
	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

func waitFrame(t *testing.T, ch <-chan videocompositor.CompositeFrame) videocompositor.CompositeFrame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for composed frame")
		return videocompositor.CompositeFrame{}
	}
}

func TestLinkUnlinkPadInvariant(t *testing.T) {
	c := videocompositor.New(layout.NewGrid(), layout.Size{Width: 1280, Height: 720})
	defer c.Close()

	id := ids.NewStreamId(uuid.New(), ids.Camera)
	src, err := c.LinkStream(id)
	require.NoError(t, err)
	require.NotNil(t, src)

	c.UnlinkStream(id)
}

func TestVisibleFrameNonBlank(t *testing.T) {
	c := videocompositor.New(layout.NewGrid(), layout.Size{Width: 1280, Height: 720})
	defer c.Close()

	id := ids.NewStreamId(uuid.New(), ids.Camera)
	src, err := c.LinkStream(id)
	require.NoError(t, err)

	push := src.(interface{ PushFrame(payload []byte, keyframe bool) })
	push.PushFrame([]byte{1, 2, 3}, true)

	c.SetVisibleOrder([]ids.StreamId{id})

	sink := c.RegisterSink("test")
	frame := waitFrame(t, sink)

	require.Equal(t, 1280, frame.Image.Bounds().Dx())
	require.Equal(t, 720, frame.Image.Bounds().Dy())

	// (10,100) lies inside the tile's content, below any title/clock band;
	// a blank frame shows only the opaque black background there.
	require.NotEqual(t, color.RGBA{A: 0xff}, frame.Image.RGBAAt(10, 100))
}

func TestZeroAlphaHidesStream(t *testing.T) {
	c := videocompositor.New(layout.NewGrid(), layout.Size{Width: 640, Height: 480})
	defer c.Close()

	id := ids.NewStreamId(uuid.New(), ids.Camera)
	src, err := c.LinkStream(id)
	require.NoError(t, err)
	src.SetAlpha(0)

	c.SetVisibleOrder([]ids.StreamId{id})

	sink := c.RegisterSink("test")
	frame := waitFrame(t, sink)

	// A zero-alpha tile is not drawn, so only the opaque black background shows.
	require.Equal(t, color.RGBA{A: 0xff}, frame.Image.RGBAAt(10, 10))
}

func TestUnregisterSinkClosesChannel(t *testing.T) {
	c := videocompositor.New(layout.NewGrid(), layout.Size{Width: 640, Height: 480})
	defer c.Close()

	sink := c.RegisterSink("test")
	c.UnregisterSink("test")

	_, open := <-sink
	require.False(t, open)
}
