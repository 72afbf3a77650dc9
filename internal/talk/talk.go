// Package talk implements the Talk façade (C11): the stream registry and
// visibility list shared by the audio mixer and video compositor. Grounded
// line-for-line on
// original_source/recorder-main/compositor/src/mixer/talk.rs — the Rust
// Talk<SRC, ID> generic becomes a Go struct parameterized over
// ids.ParticipantId, with AudioSink/VideoSink as the Go stand-ins for the
// Rust Mixer's sink-pad linking the original delegates to.
package talk

import (
	"fmt"

	"github.com/talkbridge/mediabridge/internal/ids"
)

// Status mirrors the Rust StreamStatus: which media kinds are currently
// live for a stream.
type Status struct {
	HasAudio bool
	HasVideo bool
}

// AudioSource is the per-stream handle the façade holds into the audio
// mixer (C5); SetVolume(0) mutes without unlinking, matching §4.11's
// "toggles audio volume (0.0 / 1.0)" status semantics.
type AudioSource interface {
	SetVolume(v float64)
}

// VideoSource is the per-stream handle the façade holds into the video
// compositor (C6).
type VideoSource interface {
	SetAlpha(a float64)
}

// AudioMixer is the subset of internal/audiomixer.Mixer the façade drives.
type AudioMixer interface {
	LinkStream(id ids.StreamId) (AudioSource, error)
	UnlinkStream(id ids.StreamId)
}

// VideoCompositor is the subset of internal/videocompositor.Compositor the
// façade drives; nil VideoSource/err indicates the stream has no video
// (audio-only stream), matching spec §4.11 "video pad absent if the stream
// has no video".
type VideoCompositor interface {
	LinkStream(id ids.StreamId) (VideoSource, error)
	UnlinkStream(id ids.StreamId)
	SetVisibleOrder(order []ids.StreamId)
}

type stream struct {
	id          ids.StreamId
	displayName string
	status      Status
	audio       AudioSource
	video       VideoSource
}

// Talk owns the stream registry and the visibility list.
type Talk struct {
	mixer      AudioMixer
	compositor VideoCompositor

	maxVisibles int
	streams     map[ids.StreamId]*stream
	visibles    []ids.StreamId // ordered; index 0 is the speaker tile
	speaker     *ids.ParticipantId
}

func New(mixer AudioMixer, compositor VideoCompositor, maxVisibles int) *Talk {
	return &Talk{
		mixer:       mixer,
		compositor:  compositor,
		maxVisibles: maxVisibles,
		streams:     make(map[ids.StreamId]*stream),
	}
}

// AddStream creates a stream, links it into both mixers (video pad honored
// only if initial.HasVideo), and leaves visibility untouched until the
// caller calls ShowStream or SetStatus flips HasVideo on.
func (t *Talk) AddStream(id ids.StreamId, displayName string, initial Status) error {
	audio, err := t.mixer.LinkStream(id)
	if err != nil {
		return fmt.Errorf("talk: link audio for %v: %w", id, err)
	}

	var video VideoSource
	if initial.HasVideo {
		video, err = t.compositor.LinkStream(id)
		if err != nil {
			t.mixer.UnlinkStream(id)
			return fmt.Errorf("talk: link video for %v: %w", id, err)
		}
		t.setLabel(id, displayName)
	}

	s := &stream{id: id, displayName: displayName, status: initial, audio: audio, video: video}
	t.streams[id] = s
	t.applyVolume(s)
	return nil
}

// labelSetter is implemented by compositors that carry a per-stream name
// overlay (C8); Talk type-asserts for it rather than widening
// VideoCompositor so fakes that only cover C11's own invariants still
// satisfy the interface.
type labelSetter interface {
	SetLabel(id ids.StreamId, name string)
}

func (t *Talk) setLabel(id ids.StreamId, displayName string) {
	if ls, ok := t.compositor.(labelSetter); ok {
		ls.SetLabel(id, displayName)
	}
}

// RemoveStream unlinks and forgets the stream. If the removed stream was
// the first visible screen share, the next screen share (if any) is
// promoted to position 0 — mirrors talk.rs's remove_stream behavior.
func (t *Talk) RemoveStream(id ids.StreamId) {
	if _, ok := t.streams[id]; !ok {
		return
	}
	delete(t.streams, id)
	t.mixer.UnlinkStream(id)
	t.compositor.UnlinkStream(id)
	t.removeFromVisibles(id)

	if screen, ok := t.firstScreenCapture(); ok {
		t.moveToIndex(screen, 0)
	}
	t.pushVisibility()
}

// ContainsStream reports whether id is currently registered.
func (t *Talk) ContainsStream(id ids.StreamId) bool {
	_, ok := t.streams[id]
	return ok
}

// ContainsAnyStream reports whether either media kind of p is registered.
func (t *Talk) ContainsAnyStream(p ids.ParticipantId) bool {
	return t.ContainsStream(ids.NewStreamId(p, ids.Camera)) ||
		t.ContainsStream(ids.NewStreamId(p, ids.ScreenCapture))
}

// SetSpeaker applies the speaker-promotion rule from spec §3 / DESIGN.md:
// the speaker's screen share (if visible) moves to index 0, and the
// speaker's camera (if visible) moves to index 0 if nobody anywhere is
// screen-sharing, else index 1.
func (t *Talk) SetSpeaker(p ids.ParticipantId) {
	t.speaker = &p
	moved := false

	screenId := ids.NewStreamId(p, ids.ScreenCapture)
	if s, ok := t.streams[screenId]; ok && s.status.HasVideo {
		t.moveToIndex(screenId, 0)
		moved = true
	}

	camId := ids.NewStreamId(p, ids.Camera)
	if s, ok := t.streams[camId]; ok && s.status.HasVideo {
		if _, anyoneSharing := t.firstScreenCapture(); !anyoneSharing {
			t.moveToIndex(camId, 0)
		} else {
			t.moveToIndex(camId, 1)
		}
		moved = true
	}

	if moved {
		t.pushVisibility()
	}
}

func (t *Talk) UnsetSpeaker() { t.speaker = nil }

func (t *Talk) CurrentSpeaker() (ids.ParticipantId, bool) {
	if t.speaker == nil {
		return ids.ParticipantId{}, false
	}
	return *t.speaker, true
}

// SetStatus updates a stream's audio/video flags; a video transition
// false→true shows it (subject to cap eviction rules), true→false hides
// it, matching talk.rs set_status.
func (t *Talk) SetStatus(id ids.StreamId, newStatus Status) error {
	s, ok := t.streams[id]
	if !ok {
		return nil
	}
	old := s.status
	s.status = newStatus
	t.applyVolume(s)

	switch {
	case !old.HasVideo && newStatus.HasVideo:
		return t.ShowStream(id)
	case old.HasVideo && !newStatus.HasVideo:
		return t.HideStream(id)
	}
	return nil
}

// ShowStream attempts to make id visible. At cap: a Camera arrival is
// silently ignored; a ScreenCapture arrival evicts the current last
// visible. New screen captures are pushed to index 0 if nobody else is
// currently sharing.
func (t *Talk) ShowStream(id ids.StreamId) error {
	s, ok := t.streams[id]
	if !ok {
		return fmt.Errorf("talk: unknown stream %v", id)
	}
	if t.isVisible(id) {
		return nil
	}

	if len(t.visibles) >= t.maxVisibles {
		if id.Kind == ids.Camera {
			return nil
		}
		if len(t.visibles) > 0 {
			t.HideStream(t.visibles[len(t.visibles)-1])
		}
	}

	var video VideoSource
	var err error
	if s.video == nil {
		video, err = t.compositor.LinkStream(id)
		if err != nil {
			return fmt.Errorf("talk: link video on show for %v: %w", id, err)
		}
		s.video = video
		t.setLabel(id, s.displayName)
	}

	_, anyoneSharing := t.firstScreenCapture()
	positionFirst := id.Kind == ids.ScreenCapture && !anyoneSharing

	if positionFirst {
		t.visibles = append([]ids.StreamId{id}, t.visibles...)
	} else {
		t.visibles = append(t.visibles, id)
	}
	t.pushVisibility()
	return nil
}

func (t *Talk) HideStream(id ids.StreamId) error {
	if !t.isVisible(id) {
		return nil
	}
	t.removeFromVisibles(id)
	t.pushVisibility()
	return nil
}

func (t *Talk) IsAnyVisible(p ids.ParticipantId) bool {
	return t.isVisible(ids.NewStreamId(p, ids.Camera)) ||
		t.isVisible(ids.NewStreamId(p, ids.ScreenCapture))
}

// Visibles returns a snapshot of the current visibility order.
func (t *Talk) Visibles() []ids.StreamId {
	out := make([]ids.StreamId, len(t.visibles))
	copy(out, t.visibles)
	return out
}

func (t *Talk) isVisible(id ids.StreamId) bool {
	for _, v := range t.visibles {
		if v == id {
			return true
		}
	}
	return false
}

func (t *Talk) removeFromVisibles(id ids.StreamId) {
	for i, v := range t.visibles {
		if v == id {
			t.visibles = append(t.visibles[:i], t.visibles[i+1:]...)
			return
		}
	}
}

func (t *Talk) moveToIndex(id ids.StreamId, idx int) {
	if !t.isVisible(id) {
		return
	}
	t.removeFromVisibles(id)
	if idx >= len(t.visibles) {
		t.visibles = append(t.visibles, id)
		return
	}
	t.visibles = append(t.visibles[:idx], append([]ids.StreamId{id}, t.visibles[idx:]...)...)
}

func (t *Talk) firstScreenCapture() (ids.StreamId, bool) {
	for _, v := range t.visibles {
		if v.Kind == ids.ScreenCapture {
			return v, true
		}
	}
	return ids.StreamId{}, false
}

func (t *Talk) applyVolume(s *stream) {
	if s.audio == nil {
		return
	}
	if s.status.HasAudio {
		s.audio.SetVolume(1.0)
	} else {
		s.audio.SetVolume(0.0)
	}
}

func (t *Talk) pushVisibility() {
	t.compositor.SetVisibleOrder(t.Visibles())
}
