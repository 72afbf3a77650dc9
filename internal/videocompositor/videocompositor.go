// Package videocompositor implements the video compositor (C6): per-stream
// position/size/alpha bookkeeping driven by internal/layout, ticked onto a
// shared canvas and fanned out to sinks. Grounded on
// original_source/recorder-main/compositor's mixer/overlay concept, with the
// pixel source adapted to this module's dependency set — see DESIGN.md's C6
// note on why the canvas is a layout-accurate placeholder rather than
// decoded video.
package videocompositor

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/talkbridge/mediabridge/internal/ids"
	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/overlay"
	"github.com/talkbridge/mediabridge/internal/talk"
)

const (
	tickInterval = time.Second / 30
	queueSize    = 30 // ~1s of composed frames buffered per sink
	staleAfter   = time.Second
)

// TileLabel carries one visible tile's name-overlay text and the rectangle
// it was composed into, for a downstream consumer that can rasterize text
// (no font-rasterization library is in the dependency set this module draws
// on — DESIGN.md's C6/C8 stdlib-only note — so the overlay stack's text is
// shipped as frame metadata instead of burned into the pixels).
type TileLabel struct {
	Stream ids.StreamId
	Name   string
	Rect   image.Rectangle
}

// CompositeFrame is one composed output frame, carrying the C8 overlay
// stack's text metadata alongside the pixels: per-tile name labels plus the
// talk-level title/clock banner reserved over the speaker tile.
type CompositeFrame struct {
	Image     *image.RGBA
	Labels    []TileLabel
	TalkTitle string
	TalkClock string
}

// videoSource is the per-stream handle returned by LinkStream, satisfying
// talk.VideoSource and the webrtcmedia/sipmedia video sink interfaces.
type videoSource struct {
	mu        sync.Mutex
	alpha     float64
	lastFrame time.Time
	keyframe  bool
	label     *overlay.TextOverlay
}

func (v *videoSource) labelText() string {
	v.mu.Lock()
	l := v.label
	v.mu.Unlock()
	if l == nil || !l.Visible() {
		return ""
	}
	return l.Text()
}

// SetAlpha implements talk.VideoSource.
func (v *videoSource) SetAlpha(a float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alpha = a
}

// PushFrame implements webrtcmedia.VideoSink: frames arrive opaque (no
// VP8/H264 pixel decoder in the dependency set this module draws on), so
// only arrival and keyframe state are tracked; the composed canvas renders a
// per-stream placeholder tile rather than the decoded picture.
func (v *videoSource) PushFrame(payload []byte, keyframe bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastFrame = time.Now()
	v.keyframe = keyframe
}

func (v *videoSource) snapshot() (alpha float64, stale bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alpha, time.Since(v.lastFrame) > staleAfter
}

type sinkEntry struct {
	ch chan CompositeFrame
}

// Compositor implements talk.VideoCompositor (C6): it drives a
// layout.Engine with the façade's visibility order and composes one canvas
// per tick at 30fps.
type Compositor struct {
	mu      sync.Mutex
	engine  layout.Engine
	res     layout.Size
	order   []ids.StreamId
	streams map[ids.StreamId]*videoSource
	sinks   map[string]*sinkEntry

	// talkOverlay is the C8 "talk overlay" (title + clock) reserved over the
	// index-0 (speaker) tile, per talk_overlay.rs's TOP_PADDING band.
	talkOverlay *overlay.TalkOverlay

	stop chan struct{}
	once sync.Once
}

// New starts the compositor's 30fps tick loop against the given layout
// engine and initial canvas resolution.
func New(engine layout.Engine, res layout.Size) *Compositor {
	engine.SetResolution(res)
	talkOverlay, err := overlay.NewTalkOverlay("")
	if err != nil {
		// talk_overlay.rs's fixed "%x %X %Z" clock format always parses; a
		// failure here means the strftime dependency itself is broken.
		panic(fmt.Sprintf("videocompositor: building talk overlay: %v", err))
	}
	c := &Compositor{
		engine:      engine,
		res:         res,
		streams:     make(map[ids.StreamId]*videoSource),
		sinks:       make(map[string]*sinkEntry),
		talkOverlay: talkOverlay,
		stop:        make(chan struct{}),
	}
	go c.tickLoop()
	return c
}

// LinkStream implements talk.VideoCompositor.
func (c *Compositor) LinkStream(id ids.StreamId) (talk.VideoSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := &videoSource{alpha: 1.0}
	c.streams[id] = v
	return v, nil
}

// SetLabel sets a stream's per-tile name overlay text (C8's "per-stream name
// labels"), creating the overlay on first use. No-op if id was never linked.
func (c *Compositor) SetLabel(id ids.StreamId, name string) {
	c.mu.Lock()
	v, ok := c.streams[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	v.mu.Lock()
	if v.label == nil {
		v.label = overlay.NewTextOverlay(name, overlay.TextStyle{
			Align: overlay.Align{Horizontal: overlay.HAlignLeft, Vertical: overlay.VAlignBottom},
		})
	} else {
		v.label.Set(name)
	}
	v.mu.Unlock()
}

// SetTitle updates the talk-level title shown in the speaker tile's banner,
// e.g. from the controller's event_info.title on join.
func (c *Compositor) SetTitle(title string) {
	c.talkOverlay.Title.Set(title)
}

// UnlinkStream implements talk.VideoCompositor.
func (c *Compositor) UnlinkStream(id ids.StreamId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, id)
	c.removeFromOrder(id)
}

// VideoSink is the push target a stream's depacketized video feeds once
// linked.
type VideoSink interface {
	PushFrame(payload []byte, keyframe bool)
}

// Sink returns the push target for an already-linked stream, mirroring
// audiomixer.Mixer.Sink, so the orchestrator can wire a freshly created
// webrtcmedia.Source's video pad into the compositor entry talk.AddStream
// already registered. False if id was never linked.
func (c *Compositor) Sink(id ids.StreamId) (VideoSink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.streams[id]
	return v, ok
}

func (c *Compositor) removeFromOrder(id ids.StreamId) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// SetVisibleOrder implements talk.VideoCompositor: the façade pushes its
// full visibility list every time it changes.
func (c *Compositor) SetVisibleOrder(order []ids.StreamId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append([]ids.StreamId(nil), order...)
	c.engine.SetVisibleCount(len(order))
}

// SetResolution reconfigures the output canvas size.
func (c *Compositor) SetResolution(res layout.Size) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res = res
	c.engine.SetResolution(res)
}

// RegisterSink returns a buffered channel of composed frames; re-registering
// the same name replaces the channel.
func (c *Compositor) RegisterSink(name string) <-chan CompositeFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan CompositeFrame, queueSize)
	c.sinks[name] = &sinkEntry{ch: ch}
	return ch
}

// UnregisterSink removes and closes a previously registered sink channel.
func (c *Compositor) UnregisterSink(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sinks[name]; ok {
		close(s.ch)
		delete(c.sinks, name)
	}
}

func (c *Compositor) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

type placedTile struct {
	outer   layout.View // full tile rect from the layout engine
	content layout.View // outer, minus any top band reserved for an overlay banner
	col     color.RGBA
	alpha   float64
	banner  bool // true if content != outer (the talk overlay reserved a top band)
}

func (c *Compositor) tick() {
	c.mu.Lock()
	res := c.res
	order := append([]ids.StreamId(nil), c.order...)

	showTitle := c.talkOverlay.Title.Visible() && c.talkOverlay.Title.Text() != ""
	showClock := c.talkOverlay.Clock.Visible()

	tiles := make([]placedTile, 0, len(order))
	labels := make([]TileLabel, 0, len(order))
	for i, id := range order {
		view, ok := c.engine.StreamView(i)
		if !ok {
			continue
		}
		v, ok := c.streams[id]
		if !ok {
			continue
		}
		alpha, stale := v.snapshot()
		if alpha <= 0 {
			continue
		}
		col := tileColor(id)
		if stale {
			col = dim(col)
		}

		content := view
		banner := i == 0 && (showTitle || showClock)
		if banner {
			content = c.talkOverlay.Bounds(view)
		}
		tiles = append(tiles, placedTile{outer: view, content: content, col: col, alpha: alpha, banner: banner})

		if name := v.labelText(); name != "" {
			labels = append(labels, TileLabel{Stream: id, Name: name, Rect: viewRect(view)})
		}
	}

	var title, clock string
	if showTitle {
		title = c.talkOverlay.Title.Text()
	}
	if showClock {
		clock = c.talkOverlay.Clock.Text(time.Now())
	}

	defer c.mu.Unlock()

	if res.Width <= 0 || res.Height <= 0 || len(c.sinks) == 0 {
		return
	}

	frame := CompositeFrame{Image: render(res, tiles), Labels: labels, TalkTitle: title, TalkClock: clock}
	// Sends happen while still holding the lock: they are non-blocking
	// (select/default) so this can't stall the tick, and it keeps a
	// concurrent UnregisterSink's close(s.ch) from ever racing a send on
	// the same channel.
	for _, s := range c.sinks {
		select {
		case s.ch <- frame:
		default:
			// slow sink: drop rather than block the tick.
		}
	}
}

func viewRect(v layout.View) image.Rectangle {
	return image.Rect(v.Pos.X, v.Pos.Y, v.Pos.X+v.Size.Width, v.Pos.Y+v.Size.Height)
}

// bannerColor is the fixed dark strip drawn behind the talk-level title/clock
// band, standing in for talk_overlay.rs's translucent text background.
var bannerColor = color.RGBA{R: 20, G: 20, B: 20, A: 200}

func render(res layout.Size, tiles []placedTile) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	for _, t := range tiles {
		if t.banner {
			outerRect := viewRect(t.outer)
			bandHeight := t.content.Pos.Y - t.outer.Pos.Y
			bandRect := image.Rect(outerRect.Min.X, outerRect.Min.Y, outerRect.Max.X, outerRect.Min.Y+bandHeight)
			draw.Draw(img, bandRect, image.NewUniform(bannerColor), image.Point{}, draw.Over)
		}

		rect := viewRect(t.content)
		src := image.NewUniform(color.RGBA{t.col.R, t.col.G, t.col.B, uint8(t.alpha * 255)})
		draw.Draw(img, rect, src, image.Point{}, draw.Over)
	}
	return img
}

// tileColor derives a stable placeholder color from the stream identity, so
// the same participant's tile reads consistently across ticks.
func tileColor(id ids.StreamId) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write(id.Participant[:])
	_, _ = h.Write([]byte{byte(id.Kind)})
	sum := h.Sum32()
	return color.RGBA{R: byte(sum), G: byte(sum >> 8), B: byte(sum >> 16), A: 255}
}

func dim(c color.RGBA) color.RGBA {
	return color.RGBA{R: c.R / 3, G: c.G / 3, B: c.B / 3, A: c.A}
}

// Close stops the tick loop and closes every registered sink channel.
func (c *Compositor) Close() {
	c.once.Do(func() {
		close(c.stop)
		c.mu.Lock()
		defer c.mu.Unlock()
		for name, s := range c.sinks {
			close(s.ch)
			delete(c.sinks, name)
		}
	})
}
