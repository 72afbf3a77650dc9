// Package orchestrator implements the session orchestrator (C14): the
// cooperative event loop that wires the signaling plane (C12), the SIP
// plane (C13, gateway only), and the media engine (C3-C11) together.
// Grounded on original_source/recorder-main/src/recorder.rs and
// original_source/obelisk-main/src/signaling.rs's event-loop shape — a
// single select over signaling/media/DTMF/shutdown events driving a
// {Running, Quitting, Terminated} state machine — realized here as a Go
// goroutine selecting over channels instead of a tokio::select! block,
// per SPEC_FULL.md §5.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/controller"
	"github.com/talkbridge/mediabridge/internal/ids"
	"github.com/talkbridge/mediabridge/internal/signaling"
	"github.com/talkbridge/mediabridge/internal/sinks"
	"github.com/talkbridge/mediabridge/internal/talk"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
	"github.com/talkbridge/mediabridge/internal/webrtcmedia"
)

// State mirrors spec §4.14's {Running, Quitting, Terminated}.
type State int

const (
	StateRunning State = iota
	StateQuitting
	StateTerminated
)

// RecorderParams bundles the recorder's room identity and output
// locations, read once at construction.
type RecorderParams struct {
	RoomID    string
	DumpPath  string // DUMP.mp4 fallback path, §4.14's upload note
	Filename  string // final MP4 path passed to sinks.Mp4Sink
}

// Recorder is the recorder binary's session orchestrator: it subscribes to
// every consenting publisher, keeps subscriptions in sync with roster
// changes, drives the talk façade's visibility/speaker rules, and owns
// shutdown + upload.
type Recorder struct {
	log    commons.Logger
	sig    *signaling.Client
	talk   *talk.Talk
	mixer  *audiomixer.Mixer
	comp   *videocompositor.Compositor
	ctrl   *controller.Client
	params RecorderParams

	mp4 *sinks.Mp4Sink

	mu           sync.Mutex
	state        State
	localId      ids.ParticipantId
	sources      map[ids.StreamId]*webrtcmedia.Source
	subscribedAt map[ids.StreamId]signaling.MediaStatusEvent // last known status, for the diff
}

// NewRecorder wires the orchestrator against already-constructed
// components; mp4 may be nil if no file sink is registered (debug/display
// only configurations).
func NewRecorder(log commons.Logger, sig *signaling.Client, t *talk.Talk, mixer *audiomixer.Mixer, comp *videocompositor.Compositor, ctrl *controller.Client, mp4 *sinks.Mp4Sink, params RecorderParams) *Recorder {
	return &Recorder{
		log:          log,
		sig:          sig,
		talk:         t,
		mixer:        mixer,
		comp:         comp,
		ctrl:         ctrl,
		params:       params,
		mp4:          mp4,
		sources:      make(map[ids.StreamId]*webrtcmedia.Source),
		subscribedAt: make(map[ids.StreamId]signaling.MediaStatusEvent),
	}
}

// Run drives the event loop until ctx is canceled or the session reaches
// Quitting (roster emptied, or session_ended from the controller), then
// performs shutdown + upload and returns.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return r.shutdown(context.Background())
		case ev, ok := <-r.sig.Events():
			if !ok {
				return r.shutdown(context.Background())
			}
			if quit := r.handle(ev); quit {
				return r.shutdown(context.Background())
			}
		}
	}
}

func (r *Recorder) handle(ev signaling.Event) (quit bool) {
	switch ev.Kind {
	case signaling.EventJoinSuccess:
		r.localId = ev.JoinSuccess.Id
		if r.comp != nil {
			r.comp.SetTitle(ev.JoinSuccess.Title)
		}
		for _, p := range ev.JoinSuccess.Participants {
			if p.Id == r.localId {
				continue
			}
			r.diffParticipant(p)
		}
	case signaling.EventJoined, signaling.EventUpdate:
		if ev.Participant.Id != r.localId {
			r.diffParticipant(ev.Participant)
		}
	case signaling.EventLeft:
		r.removeParticipant(ev.Left)
		if r.rosterEmpty() {
			return true
		}
	case signaling.EventSdpOffer:
		r.onSdpOffer(ev.Sdp)
	case signaling.EventSdpCandidate:
		r.onCandidate(ev.Candidate)
	case signaling.EventSdpEndOfCandidates:
		r.onCandidate(ev.Candidate)
	case signaling.EventFocusUpdate:
		if ev.Focus != nil {
			r.talk.SetSpeaker(*ev.Focus)
		} else {
			r.talk.UnsetSpeaker()
		}
	case signaling.EventMediaStatus:
		id := ids.NewStreamId(ev.MediaStatus.Source, ev.MediaStatus.Kind)
		_ = r.talk.SetStatus(id, talk.Status{HasAudio: ev.MediaStatus.Audio, HasVideo: ev.MediaStatus.Video})
	case signaling.EventWebRtcDown:
		id := ids.NewStreamId(ev.StreamEvent.Source, ev.StreamEvent.Kind)
		r.removeSubscription(id)
	case signaling.EventWebRtcSlow, signaling.EventWebRtcUp:
		r.log.Infow("orchestrator: webrtc stream event", "kind", ev.Kind, "source", ev.StreamEvent.Source)
	case signaling.EventRequestMute, signaling.EventInWaitingRoom, signaling.EventAccepted:
		// no action: the recorder never publishes, so mute requests and the
		// waiting-room handshake (gateway/participant-only concerns) don't
		// apply here.
	case signaling.EventSessionEnded:
		return true
	case signaling.EventProtocolError:
		r.log.Warnw("orchestrator: signaling protocol error, continuing", "error", ev.Err)
	case signaling.EventDisconnected:
		r.log.Warnw("orchestrator: signaling disconnected", "error", ev.Err)
		return true
	}
	return false
}

// rosterEmpty approximates "no participants left" by the stream registry
// being empty rather than tracking the roster separately: the recorder only
// ever holds a source for a consenting, publishing participant, so once the
// last one leaves (and diffParticipant has already torn down its streams)
// the registry and the roster go empty together.
func (r *Recorder) rosterEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources) == 0
}

// diffParticipant implements §4.14's "compute set-difference between
// current subscriptions and advertised-with-consent publications;
// subscribe new, unsubscribe gone, set_status on remainder."
func (r *Recorder) diffParticipant(p signaling.ParticipantInfo) {
	desired := map[ids.StreamId]signaling.MediaStatusEvent{}
	if p.HasConsent() {
		for kind, st := range p.Publications() {
			if !st.Audio && !st.Video {
				continue
			}
			id := ids.NewStreamId(p.Id, kind)
			desired[id] = signaling.MediaStatusEvent{Source: p.Id, Kind: kind, Audio: st.Audio, Video: st.Video}
		}
	}

	r.mu.Lock()
	var toAdd, toRemove []ids.StreamId
	var toUpdate []signaling.MediaStatusEvent
	for id := range desired {
		if _, ok := r.sources[id]; !ok {
			toAdd = append(toAdd, id)
		} else {
			toUpdate = append(toUpdate, desired[id])
		}
	}
	for id := range r.sources {
		if id.Participant != p.Id {
			continue
		}
		if _, ok := desired[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	r.mu.Unlock()

	for _, id := range toAdd {
		r.addSubscription(id, p.DisplayName, talk.Status{HasAudio: desired[id].Audio, HasVideo: desired[id].Video})
	}
	for _, st := range toUpdate {
		id := ids.NewStreamId(st.Source, st.Kind)
		_ = r.talk.SetStatus(id, talk.Status{HasAudio: st.Audio, HasVideo: st.Video})
	}
	for _, id := range toRemove {
		r.removeSubscription(id)
	}
}

func (r *Recorder) removeParticipant(p ids.ParticipantId) {
	r.mu.Lock()
	var gone []ids.StreamId
	for id := range r.sources {
		if id.Participant == p {
			gone = append(gone, id)
		}
	}
	r.mu.Unlock()
	for _, id := range gone {
		r.removeSubscription(id)
	}
}

// State reports the orchestrator's current lifecycle phase.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// addSubscription creates the stream's talk-façade registration, wires a
// fresh webrtcmedia.Source into the mixer/compositor push targets talk
// just linked, and requests the relay from the controller — §4.14's
// "subscribe to every consenting publisher."
func (r *Recorder) addSubscription(id ids.StreamId, displayName string, status talk.Status) {
	if err := r.talk.AddStream(id, displayName, status); err != nil {
		r.log.Warnw("orchestrator: add stream failed", "stream", id, "error", err)
		return
	}

	audioSink, _ := r.mixer.Sink(id)
	var videoSink webrtcmedia.VideoSink
	if status.HasVideo {
		if vs, ok := r.comp.Sink(id); ok {
			videoSink = vs
		}
	}

	trickle := func(c *pionwebrtc.ICECandidateInit) {
		if c == nil {
			_ = r.sig.SdpEndOfCandidates(id)
			return
		}
		mline := 0
		if c.SDPMLineIndex != nil {
			mline = int(*c.SDPMLineIndex)
		}
		_ = r.sig.SdpCandidate(id, c.Candidate, mline)
	}

	src, err := webrtcmedia.NewSource(r.log, audioWrap{audioSink}, videoSink, trickle)
	if err != nil {
		r.log.Warnw("orchestrator: new source failed", "stream", id, "error", err)
		r.talk.RemoveStream(id)
		return
	}

	r.mu.Lock()
	r.sources[id] = src
	r.mu.Unlock()

	if err := r.sig.Subscribe(id); err != nil {
		r.log.Warnw("orchestrator: subscribe failed", "stream", id, "error", err)
	}
}

// audioWrap adapts audiomixer.RawAudioSink (may be nil if LinkStream
// failed) to webrtcmedia.AudioSink, tolerating a nil underlying sink.
type audioWrap struct {
	sink audiomixer.RawAudioSink
}

func (a audioWrap) PushPCM(samples []int16) {
	if a.sink != nil {
		a.sink.PushPCM(samples)
	}
}

func (r *Recorder) removeSubscription(id ids.StreamId) {
	r.mu.Lock()
	src, ok := r.sources[id]
	delete(r.sources, id)
	delete(r.subscribedAt, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.talk.RemoveStream(id)
	_ = src.Close()
}

func (r *Recorder) onSdpOffer(ev signaling.SdpEvent) {
	id := ids.NewStreamId(ev.Source, ev.Kind)
	r.mu.Lock()
	src, ok := r.sources[id]
	r.mu.Unlock()
	if !ok {
		r.log.Warnw("orchestrator: sdp_offer for unknown stream", "stream", id)
		return
	}
	answer, err := src.ReceiveOffer(ev.Sdp)
	if err != nil {
		r.log.Warnw("orchestrator: receive_offer failed", "stream", id, "error", err)
		return
	}
	if err := r.sig.SdpAnswer(id, answer); err != nil {
		r.log.Warnw("orchestrator: sdp_answer send failed", "stream", id, "error", err)
	}
}

func (r *Recorder) onCandidate(ev signaling.CandidateEvent) {
	id := ids.NewStreamId(ev.Source, ev.Kind)
	r.mu.Lock()
	src, ok := r.sources[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	mline := uint16(ev.SdpMLineIndex)
	var err error
	if ev.EndOfCandidates {
		err = src.ReceiveEndOfCandidates(mline)
	} else {
		err = src.ReceiveCandidate(mline, ev.Candidate)
	}
	if err != nil {
		r.log.Warnw("orchestrator: apply candidate failed", "stream", id, "error", err)
	}
}

// shutdown implements §4.14's "stop the pipeline, upload the MP4 file if
// present, close the signaling connection" and §4.14's upload note: chunk
// the file at controller.UploadRenderChunkSize, copying to DumpPath on any
// failure so the recording is never silently lost.
func (r *Recorder) shutdown(ctx context.Context) error {
	r.mu.Lock()
	srcs := make([]*webrtcmedia.Source, 0, len(r.sources))
	for _, s := range r.sources {
		srcs = append(srcs, s)
	}
	r.mu.Unlock()
	for _, s := range srcs {
		_ = s.Close()
	}

	_ = r.sig.Close()

	if r.mp4 == nil {
		return nil
	}
	if err := r.mp4.OnExit(); err != nil {
		r.log.Warnw("orchestrator: mp4 sink exit failed", "error", err)
	}

	return r.upload(ctx)
}

func (r *Recorder) upload(ctx context.Context) error {
	f, err := os.Open(r.params.Filename)
	if err != nil {
		return fmt.Errorf("orchestrator: open recording: %w", err)
	}
	defer f.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	chunked := &chunkedReader{r: f, size: controller.UploadRenderChunkSize}
	err = r.ctrl.UploadRender(uploadCtx, r.params.RoomID, r.params.Filename, chunked)
	if err == nil {
		return nil
	}

	r.log.Errorw("orchestrator: upload_render failed, dumping locally", "error", err, "dump_path", r.params.DumpPath)
	if _, seekErr := f.Seek(0, io.SeekStart); seekErr == nil {
		if dumpErr := dumpToFile(f, r.params.DumpPath); dumpErr != nil {
			r.log.Errorw("orchestrator: dump copy failed", "error", dumpErr)
		}
	}
	return fmt.Errorf("orchestrator: upload failed, recording preserved at %s: %w", r.params.DumpPath, err)
}

func dumpToFile(src io.Reader, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}

// chunkedReader caps each Read at size bytes, matching §4.14's "consume
// the MP4 file as a byte stream (≤ 8 KiB chunks)" without changing what
// the underlying reader returns.
type chunkedReader struct {
	r    io.Reader
	size int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}
