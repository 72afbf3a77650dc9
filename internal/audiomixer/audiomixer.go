// Package audiomixer implements the audio mixer (C5): N live inputs summed
// to one 48 kHz / 2-ch stream, fanned out to every registered sink.
// Grounded on
// original_source/recorder-main/compositor/src/mixer/audio_mixer.rs — the
// GStreamer audiomixer/capssetter/appsink graph becomes an in-process
// sample-accumulator loop, and its broadcast::Sender<Sample> (sized to ~1s
// of 10ms buffers) becomes the same fan-out shape built on plain Go
// channels, since no pub/sub broadcast library appears anywhere in the
// example pack (DESIGN.md's stdlib-only justification covers this
// directly: golang.org/x/sync gives errgroup/singleflight/semaphore, not
// broadcast channels).
package audiomixer

import (
	"sync"
	"time"

	"github.com/talkbridge/mediabridge/internal/ids"
	"github.com/talkbridge/mediabridge/internal/talk"
)

const (
	SampleRate   = 48000
	Channels     = 2
	frameSamples = SampleRate / 50 * Channels // 20ms @ 48kHz stereo
	// queueSize stands in for audio_mixer.rs's QUEUE_SIZE ("buffers of 10ms
	// -> 1s queue size"); at 20ms/frame, 128 frames hold about 2.56s.
	queueSize = 128
)

// Frame is one mixed output buffer: interleaved S16LE stereo samples.
type Frame struct {
	Samples []int16
}

// input is one subscriber's live source, mirroring the Rust audiomixer's
// per-stream "ignore-inactive-pads" request sink pad.
type input struct {
	volume float64 // 0.0 or 1.0, toggled by talk.AudioSource.SetVolume
	latest []int16 // most recent pushed frame; zeroed if nothing arrived this tick
}

// source exposes talk.AudioSource to the façade while holding the mixer's
// lock only for the duration of the call.
type source struct {
	mixer *Mixer
	id    ids.StreamId
}

func (s *source) SetVolume(v float64) {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if in, ok := s.mixer.inputs[s.id]; ok {
		in.volume = v
	}
}

// PushPCM implements sipmedia.RawAudioSink / webrtcmedia.AudioSink: each
// per-stream pipeline pushes decoded frames in here as they arrive.
func (s *source) PushPCM(samples []int16) {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if in, ok := s.mixer.inputs[s.id]; ok {
		in.latest = samples
	}
}

// sinkEntry is one registered output (§3's "Sink registration"): the
// broadcast consumer drops a frame rather than ever block the mixer tick,
// matching "slow sinks drop rather than block" (§4.5).
type sinkEntry struct {
	ch chan Frame
}

// Mixer owns the live input set and periodically sums them into one
// output frame, fanned out to every registered sink. There is always a
// silent background contribution (the Rust audiotestsrc at volume=0) so
// the tick never stalls for lack of live input.
type Mixer struct {
	mu     sync.Mutex
	inputs map[ids.StreamId]*input
	sinks  map[string]*sinkEntry

	stop chan struct{}
	once sync.Once
}

// New starts the mixer's 20ms tick loop.
func New() *Mixer {
	m := &Mixer{
		inputs: make(map[ids.StreamId]*input),
		sinks:  make(map[string]*sinkEntry),
		stop:   make(chan struct{}),
	}
	go m.tickLoop()
	return m
}

// LinkStream implements talk.AudioMixer: registers a new live input,
// returning the per-stream volume control the façade drives.
func (m *Mixer) LinkStream(id ids.StreamId) (talk.AudioSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[id] = &input{volume: 1.0}
	return &source{mixer: m, id: id}, nil
}

// UnlinkStream implements talk.AudioMixer.
func (m *Mixer) UnlinkStream(id ids.StreamId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inputs, id)
}

// RawAudioSink is the push target a stream's decode path (a webrtcmedia.Source
// or sipmedia.Bin) feeds once linked.
type RawAudioSink interface {
	PushPCM(samples []int16)
}

// Sink returns the push target for an already-linked stream, so the
// orchestrator can wire a freshly created webrtcmedia.Source's audio pad
// into the mixer input that talk.AddStream already registered. It does not
// create a new input — false if id was never linked.
func (m *Mixer) Sink(id ids.StreamId) (RawAudioSink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inputs[id]; !ok {
		return nil, false
	}
	return &source{mixer: m, id: id}, true
}

// RegisterSink implements the sink-registration side of §3: name →
// broadcast consumer. Re-registering the same name replaces the channel.
func (m *Mixer) RegisterSink(name string) <-chan Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Frame, queueSize)
	m.sinks[name] = &sinkEntry{ch: ch}
	return ch
}

// UnregisterSink removes and closes a previously registered sink channel.
func (m *Mixer) UnregisterSink(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sinks[name]; ok {
		close(s.ch)
		delete(m.sinks, name)
	}
}

func (m *Mixer) tickLoop() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mixOnce()
		}
	}
}

func (m *Mixer) mixOnce() {
	m.mu.Lock()
	out := make([]int32, frameSamples)
	for _, in := range m.inputs {
		if in.volume == 0 || len(in.latest) == 0 {
			continue
		}
		n := len(in.latest)
		if n > frameSamples {
			n = frameSamples
		}
		for i := 0; i < n; i++ {
			out[i] += int32(float64(in.latest[i]) * in.volume)
		}
		in.latest = nil // consumed; background silence fills gaps until the next push
	}
	frame := Frame{Samples: clampFrame(out)}
	// Sends happen while still holding the lock: they are non-blocking
	// (select/default) so this can't stall the tick, and it keeps a
	// concurrent UnregisterSink's close(s.ch) from ever racing a send on
	// the same channel.
	for _, s := range m.sinks {
		select {
		case s.ch <- frame:
		default:
			// slow sink: drop rather than block the tick, per §4.5.
		}
	}
	m.mu.Unlock()
}

func clampFrame(acc []int32) []int16 {
	out := make([]int16, len(acc))
	for i, v := range acc {
		switch {
		case v > 32767:
			out[i] = 32767
		case v < -32768:
			out[i] = -32768
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// Close stops the tick loop and closes every registered sink channel.
func (m *Mixer) Close() {
	m.once.Do(func() {
		close(m.stop)
		m.mu.Lock()
		defer m.mu.Unlock()
		for name, s := range m.sinks {
			close(s.ch)
			delete(m.sinks, name)
		}
	})
}
