// Package overlay implements the overlay stack (C8): text, clock, padding,
// and the composed talk overlay drawn over a tile. Grounded on
// original_source/recorder-main/compositor/src/overlays/{text_overlay,
// clock_overlay,padding_overlay,talk_overlay}.rs — each GStreamer element
// (textoverlay, clockoverlay, videobox) becomes a plain Go value holding the
// same style/visibility state, since no font-rasterization library is
// present anywhere in the retrieved pack (DESIGN.md's C6/C8 stdlib-only
// note): a renderer is handed label/rectangle metadata rather than
// pre-rasterized pixels.
package overlay

import (
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/talkbridge/mediabridge/internal/layout"
)

// HAlign mirrors textoverlay/clockoverlay's halignment property.
type HAlign int

const (
	HAlignLeft HAlign = iota
	HAlignCenter
	HAlignRight
)

// VAlign mirrors textoverlay/clockoverlay's valignment property.
type VAlign int

const (
	VAlignTop VAlign = iota
	VAlignMiddle
	VAlignBottom
)

// Align is the horizontal/vertical placement of a text label within its
// tile, per both text_overlay.rs and clock_overlay.rs's style.align.
type Align struct {
	Horizontal HAlign
	Vertical   VAlign
}

// Font mirrors TextStyle's font-desc construction ("{name},{size}").
type Font struct {
	Name string
	Size int
}

// TextPadding mirrors textoverlay/clockoverlay's xpad/ypad properties.
type TextPadding struct {
	X, Y int
}

// TextStyle is the shared style struct both TextOverlay and ClockOverlay
// take, matching the Rust TextStyle used by both.
type TextStyle struct {
	Align   Align
	Font    Font
	Color   color.Color
	Padding TextPadding
}

// TextOverlay holds a settable text label and its visibility, mirroring
// text_overlay.rs's textoverlay wrapper (silent == !visible).
type TextOverlay struct {
	mu      sync.Mutex
	text    string
	style   TextStyle
	visible bool
}

// NewTextOverlay creates a text overlay, initially visible.
func NewTextOverlay(text string, style TextStyle) *TextOverlay {
	return &TextOverlay{text: text, style: style, visible: true}
}

// Set changes the displayed text.
func (t *TextOverlay) Set(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.text = text
}

func (t *TextOverlay) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}

func (t *TextOverlay) Style() TextStyle { return t.style }

func (t *TextOverlay) Show(show bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = show
}

func (t *TextOverlay) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// ClockOverlay renders the current time via a strftime-style format string,
// matching clock_overlay.rs's default "%x %X %Z". strftime isn't in the
// standard library; lestrrat-go/strftime is the format-string engine this
// module draws on (seen in the wider example pack's go.mod manifests).
type ClockOverlay struct {
	mu      sync.Mutex
	format  *strftime.Strftime
	style   TextStyle
	visible bool
}

// NewClockOverlay parses format once and reuses it for every Text call.
func NewClockOverlay(format string, style TextStyle) (*ClockOverlay, error) {
	f, err := strftime.New(format)
	if err != nil {
		return nil, fmt.Errorf("overlay: parse clock format %q: %w", format, err)
	}
	return &ClockOverlay{format: f, style: style, visible: true}, nil
}

// Text formats now according to the overlay's format string.
func (c *ClockOverlay) Text(now time.Time) string {
	return c.format.FormatString(now)
}

func (c *ClockOverlay) Style() TextStyle { return c.style }

func (c *ClockOverlay) Show(show bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = show
}

func (c *ClockOverlay) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// BoxPadding mirrors videobox's left/right/top/bottom properties (negated
// in the Rust constructor; kept here as the plain crop/expand amounts).
type BoxPadding struct {
	Left, Right, Top, Bottom int
}

// PaddingOverlay crops or expands a tile's rectangle before the rest of the
// overlay stack draws on it. Unlike TextOverlay/ClockOverlay it carries no
// visibility toggle — padding_overlay.rs's Show is `unimplemented!()`.
type PaddingOverlay struct {
	padding BoxPadding
}

func NewPaddingOverlay(p BoxPadding) *PaddingOverlay {
	return &PaddingOverlay{padding: p}
}

// Apply returns the rectangle produced by cropping/expanding base by the
// configured padding.
func (p *PaddingOverlay) Apply(base layout.View) layout.View {
	return layout.View{
		Pos: layout.Position{
			X: base.Pos.X + p.padding.Left,
			Y: base.Pos.Y + p.padding.Top,
		},
		Size: layout.Size{
			Width:  base.Size.Width - p.padding.Left - p.padding.Right,
			Height: base.Size.Height - p.padding.Top - p.padding.Bottom,
		},
	}
}

const (
	talkOverlayTopPadding = 56
	talkOverlayFontSize   = 20
)

// TalkOverlay is the title+clock bar drawn over a talk tile, grounded on
// talk_overlay.rs's TOP_PADDING/OVERLAY_FONT_SIZE constants and its
// PaddingOverlay+TextOverlay+ClockOverlay composition.
type TalkOverlay struct {
	padding *PaddingOverlay
	Title   *TextOverlay
	Clock   *ClockOverlay
}

// NewTalkOverlay builds the overlay stack for one tile with the given
// display name as the initial title text.
func NewTalkOverlay(displayName string) (*TalkOverlay, error) {
	clock, err := NewClockOverlay("%x %X %Z", TextStyle{
		Align: Align{Horizontal: HAlignRight, Vertical: VAlignTop},
		Font:  Font{Size: talkOverlayFontSize},
	})
	if err != nil {
		return nil, fmt.Errorf("overlay: new talk overlay: %w", err)
	}
	return &TalkOverlay{
		padding: NewPaddingOverlay(BoxPadding{Top: talkOverlayTopPadding}),
		Title: NewTextOverlay(displayName, TextStyle{
			Align: Align{Horizontal: HAlignLeft, Vertical: VAlignTop},
			Font:  Font{Size: talkOverlayFontSize},
		}),
		Clock: clock,
	}, nil
}

// Show toggles the title and clock together.
func (o *TalkOverlay) Show(show bool) {
	o.Title.Show(show)
	o.Clock.Show(show)
}

// Bounds returns the tile rectangle after reserving room for the title/clock
// bar along the top edge.
func (o *TalkOverlay) Bounds(base layout.View) layout.View {
	return o.padding.Apply(base)
}
