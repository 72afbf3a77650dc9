package sinks

import (
	"image"
	"sync"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

// BlinderSink wraps another Sink and, while Blind is set, replaces every
// frame with silence/black before forwarding — both swapped together,
// mirroring blinder.rs's paired audio/video input-selectors.
type BlinderSink struct {
	target Sink

	mu    sync.Mutex
	blind bool
}

func NewBlinderSink(target Sink) *BlinderSink {
	return &BlinderSink{target: target}
}

// Blind toggles the audio and video selectors together.
func (b *BlinderSink) Blind(blind bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blind = blind
}

func (b *BlinderSink) PushAudio(frame audiomixer.Frame) {
	b.mu.Lock()
	blind := b.blind
	b.mu.Unlock()
	if blind {
		frame = audiomixer.Frame{Samples: make([]int16, len(frame.Samples))}
	}
	b.target.PushAudio(frame)
}

func (b *BlinderSink) PushVideo(frame videocompositor.CompositeFrame) {
	b.mu.Lock()
	blind := b.blind
	b.mu.Unlock()
	if blind {
		frame = videocompositor.CompositeFrame{Image: image.NewRGBA(frame.Image.Bounds())}
	}
	b.target.PushVideo(frame)
}

func (b *BlinderSink) OnPlay() error { return b.target.OnPlay() }
func (b *BlinderSink) OnExit() error { return b.target.OnExit() }
func (b *BlinderSink) Close() error  { return b.target.Close() }
