// Package sinks implements the sink family (C10): MP4, DASH, RTMP,
// Matroska/display fan-out, and the blinder selector, all consuming the
// audio mixer's and video compositor's tick output. Grounded on
// original_source/recorder-main/compositor/src/sinks/*.rs.
//
// The Rust originals mux raw A/V through GStreamer's matroskamux into a
// single TCP stream that an external ffmpeg process demuxes with a plain
// `-i tcp://...`. No Matroska (or any other container) muxing library
// appears anywhere in the retrieved pack, so this package instead opens one
// raw PCM stream and one raw video stream per sink and hands ffmpeg
// explicit `-f s16le`/`-f rawvideo` input flags for each — ffmpeg does the
// same demuxing work, just against two plain streams instead of one muxed
// one. See DESIGN.md's C10 note for the full reasoning.
package sinks

import (
	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

// Sink is the shared surface every sink variant implements: push callbacks
// driven by the mixer/compositor's registered channels, plus the two
// lifecycle hooks every Rust Sink impl exposes (on_play/on_exit).
type Sink interface {
	PushAudio(frame audiomixer.Frame)
	PushVideo(frame videocompositor.CompositeFrame)
	OnPlay() error
	OnExit() error
	Close() error
}

// Pump wires a sink registration (§3) into the mixer's and compositor's
// broadcast fan-out: it registers name against both, calls OnPlay, and
// forwards every mixed/composited frame to the sink until stop is closed,
// mirroring the Rust sinks' "registered once, fed continuously" lifetime.
// comp may be nil for audio-only sinks (the DisplaySink/FakeSink family
// still takes a video feed in this repo, but a future audio-only sink
// would pass nil here rather than linking an unused video channel).
func Pump(name string, mixer *audiomixer.Mixer, comp *videocompositor.Compositor, sink Sink, stop <-chan struct{}) error {
	if err := sink.OnPlay(); err != nil {
		return err
	}

	audioCh := mixer.RegisterSink(name)
	var videoCh <-chan videocompositor.CompositeFrame
	if comp != nil {
		videoCh = comp.RegisterSink(name)
	}

	go func() {
		defer mixer.UnregisterSink(name)
		if comp != nil {
			defer comp.UnregisterSink(name)
		}
		for {
			select {
			case <-stop:
				return
			case frame, ok := <-audioCh:
				if !ok {
					return
				}
				sink.PushAudio(frame)
			case frame, ok := <-videoCh:
				if !ok {
					videoCh = nil
					continue
				}
				sink.PushVideo(frame)
			}
		}
	}()
	return nil
}
