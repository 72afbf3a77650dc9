// Gateway-side counterpart to Recorder: wires an accepted SIP dialog
// (internal/sipsession) through §4.13's DTMF dial-in state machine into a
// joined signaling session and a publish-only WebRTC peer connection.
// Grounded on original_source/obelisk-main/src/sip's dial-in flow (digit
// accumulation, prompt playback, controller handoff) the same way
// orchestrator.go's recorder half is grounded on recorder.rs — the
// gateway's event loop is a select over SIP-call events and (once joined)
// signaling events instead of only signaling events, since the gateway
// never subscribes back to room audio (see SPEC_FULL.md's glossary note:
// the gateway only publishes).
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/config"
	"github.com/talkbridge/mediabridge/internal/controller"
	"github.com/talkbridge/mediabridge/internal/ids"
	"github.com/talkbridge/mediabridge/internal/signaling"
	"github.com/talkbridge/mediabridge/internal/sipmedia"
	"github.com/talkbridge/mediabridge/internal/sipsession"
	"github.com/talkbridge/mediabridge/internal/trackplayer"
	"github.com/talkbridge/mediabridge/internal/webrtcmedia"
)

// dialinState mirrors §4.13's three-phase digit collection: the welcome
// track plays while awaiting the room id, then the passcode, then the
// caller is joined and the digit buffers stop being collected.
type dialinState int

const (
	stateAwaitRoomID dialinState = iota
	stateAwaitPasscode
	stateJoined
)

// publishDisplayName is the name the gateway registers under for every
// dial-in caller; the controller has no notion of a caller's real name.
const publishDisplayName = "SIP Caller"

// Gateway owns every live dial-in session, one per accepted SIP dialog.
type Gateway struct {
	log   commons.Logger
	ctrl  *controller.Client
	cfg   config.GatewayConfig
	wsURL string

	mu       sync.Mutex
	sessions map[string]*dialinSession
}

// NewGateway builds the gateway orchestrator. Pass OnIncomingCall to
// sipsession.New as its onIncomingCall callback.
func NewGateway(log commons.Logger, ctrl *controller.Client, cfg config.GatewayConfig, wsURL string) *Gateway {
	return &Gateway{
		log:      log,
		ctrl:     ctrl,
		cfg:      cfg,
		wsURL:    wsURL,
		sessions: make(map[string]*dialinSession),
	}
}

// OnIncomingCall starts a fresh dial-in session for an accepted SIP
// dialog and runs its event loop on a new goroutine.
func (g *Gateway) OnIncomingCall(call *sipsession.Call) {
	s := newDialinSession(g.log, g.ctrl, g.cfg, g.wsURL, call)

	g.mu.Lock()
	g.sessions[call.Id()] = s
	g.mu.Unlock()

	go func() {
		s.run()
		g.mu.Lock()
		delete(g.sessions, call.Id())
		g.mu.Unlock()
	}()
}

// Close tears down every still-live dial-in session's signaling/publish
// resources; the SIP dialogs themselves are torn down by sipsession.UA.Close.
func (g *Gateway) Close() {
	g.mu.Lock()
	sessions := make([]*dialinSession, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()
	for _, s := range sessions {
		s.closeResources()
	}
}

// callSink adapts sipsession.Call.SendPCM to trackplayer.Sink so the
// player can drive the outbound RTP leg directly.
type callSink struct {
	log  commons.Logger
	call *sipsession.Call
}

func (c callSink) PushPCM(samples []int16) {
	if err := c.call.SendPCM(samples); err != nil {
		c.log.Warnw("orchestrator: gateway send pcm failed", "call_id", c.call.Id(), "error", err)
	}
}

// gatedSink wraps the publish peer connection's PushPCM with the mute
// toggle from DTMF "1" — muted frames are dropped rather than forwarded,
// so the room never hears stale caller audio while muted.
type gatedSink struct {
	log  commons.Logger
	sink *webrtcmedia.Sink

	mu    sync.Mutex
	muted bool
}

func (g *gatedSink) PushPCM(samples []int16) {
	g.mu.Lock()
	muted := g.muted
	g.mu.Unlock()
	if muted {
		return
	}
	if err := g.sink.PushPCM(samples); err != nil {
		g.log.Warnw("orchestrator: gateway publish encode failed", "error", err)
	}
}

func (g *gatedSink) setMuted(m bool) {
	g.mu.Lock()
	g.muted = m
	g.mu.Unlock()
}

// dialinSession is one accepted SIP dialog working through §4.13's state
// machine: collect dtmf_id, collect dtmf_pw, call the controller, join
// signaling, publish audio, then respond to the post-join DTMF commands.
type dialinSession struct {
	log   commons.Logger
	ctrl  *controller.Client
	cfg   config.GatewayConfig
	wsURL string
	call  *sipsession.Call

	player *trackplayer.Player

	state   dialinState
	idBuf   string
	pwBuf   string

	sig       *signaling.Client
	localId   ids.ParticipantId
	publish   *webrtcmedia.Sink
	gated     *gatedSink
	handUp    bool
}

func newDialinSession(log commons.Logger, ctrl *controller.Client, cfg config.GatewayConfig, wsURL string, call *sipsession.Call) *dialinSession {
	s := &dialinSession{
		log:   log,
		ctrl:  ctrl,
		cfg:   cfg,
		wsURL: wsURL,
		call:  call,
		state: stateAwaitRoomID,
	}
	s.player = trackplayer.New(callSink{log: log, call: call})
	return s
}

// run drives the session until the SIP dialog terminates. It is the
// gateway's equivalent of Recorder.Run: a select over the call's DTMF/
// timeout events and, once joined, the signaling connection's events too.
func (s *dialinSession) run() {
	s.player.Play(trackplayer.WelcomeConferenceId, nil)

	for {
		var sigEvents <-chan signaling.Event
		if s.sig != nil {
			sigEvents = s.sig.Events()
		}

		select {
		case ev, ok := <-s.call.Events():
			if !ok {
				s.closeResources()
				return
			}
			if s.handleCallEvent(ev) {
				s.closeResources()
				return
			}
		case ev, ok := <-sigEvents:
			if !ok {
				s.sig = nil
				continue
			}
			s.handleSignalingEvent(ev)
		}
	}
}

// handleCallEvent returns true if the session should terminate.
func (s *dialinSession) handleCallEvent(ev sipsession.CallEvent) bool {
	switch ev.Kind {
	case sipsession.CallEventDtmf:
		s.handleDigit(ev.Dtmf)
	case sipsession.CallEventMediaTimeout:
		s.log.Warnw("orchestrator: gateway rtp watchdog fired, hanging up", "call_id", s.call.Id())
		return true
	case sipsession.CallEventTerminated:
		return true
	}
	return false
}

// dtmfChar renders an RFC 4733 telephone-event code as the digit/symbol it
// represents: 0-9, then *, #, then A-D.
func dtmfChar(code uint8) string {
	switch {
	case code <= 9:
		return string(rune('0' + code))
	case code == 10:
		return "*"
	case code == 11:
		return "#"
	case code <= 15:
		return string(rune('A' + (code - 12)))
	default:
		return ""
	}
}

// handleDigit implements §4.13's digit-accumulation phases and post-join
// command set.
func (s *dialinSession) handleDigit(ev sipmedia.DtmfEvent) {
	digit := dtmfChar(ev.Digit)
	if digit == "" {
		return
	}

	switch s.state {
	case stateAwaitRoomID:
		s.idBuf += digit
		if len(s.idBuf) >= roomIDDigits(s.cfg) {
			s.player.Play(trackplayer.WelcomePasscode, nil)
			s.state = stateAwaitPasscode
		}
	case stateAwaitPasscode:
		s.pwBuf += digit
		if len(s.pwBuf) >= passcodeDigits(s.cfg) {
			s.attemptJoin()
		}
	case stateJoined:
		s.handlePostJoinCommand(digit)
	}
}

func roomIDDigits(cfg config.GatewayConfig) int {
	if cfg.RoomIdDigits <= 0 {
		return 10
	}
	return cfg.RoomIdDigits
}

func passcodeDigits(cfg config.GatewayConfig) int {
	if cfg.PasscodeDigits <= 0 {
		return 10
	}
	return cfg.PasscodeDigits
}

// handlePostJoinCommand implements §4.13 step 3.
func (s *dialinSession) handlePostJoinCommand(digit string) {
	switch digit {
	case "#":
		s.idBuf = ""
		s.pwBuf = ""
	case "1":
		muted := !s.gated.muted
		s.gated.setMuted(muted)
		if muted {
			s.player.Play(trackplayer.Muted, nil)
		} else {
			s.player.Play(trackplayer.Unmuted, nil)
		}
		_ = s.sig.UpdateMediaSession(ids.Camera, !muted, false)
	case "2":
		s.handUp = !s.handUp
		if s.handUp {
			s.player.Play(trackplayer.HandRaised, nil)
			_ = s.sig.RaiseHand()
		} else {
			s.player.Play(trackplayer.HandLowered, nil)
			_ = s.sig.LowerHand()
		}
	case "0":
		s.player.Play(trackplayer.Silence, nil)
	}
}

// attemptJoin implements §4.13 step 2: call the controller with the
// collected id/passcode, then join signaling and start publishing on
// success.
func (s *dialinSession) attemptJoin() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ticket, err := s.ctrl.StartCallIn(ctx, s.idBuf, s.pwBuf)
	if errors.Is(err, controller.ErrInvalidCredentials) {
		s.player.Play(trackplayer.InputInvalid, nil)
		s.idBuf = ""
		s.pwBuf = ""
		s.state = stateAwaitRoomID
		s.player.Play(trackplayer.WelcomeConferenceId, nil)
		return
	}
	if err != nil {
		s.log.Errorw("orchestrator: gateway call_in/start failed", "call_id", s.call.Id(), "error", err)
		s.player.Play(trackplayer.InputInvalid, nil)
		s.idBuf = ""
		s.pwBuf = ""
		s.state = stateAwaitRoomID
		return
	}

	sig, err := signaling.Dial(ctx, s.log, s.wsURL, ticket)
	if err != nil {
		s.log.Errorw("orchestrator: gateway signaling dial failed", "call_id", s.call.Id(), "error", err)
		s.idBuf = ""
		s.pwBuf = ""
		s.state = stateAwaitRoomID
		return
	}
	if err := sig.Join(publishDisplayName); err != nil {
		s.log.Errorw("orchestrator: gateway join send failed", "call_id", s.call.Id(), "error", err)
		_ = sig.Close()
		return
	}

	if !s.awaitJoinSuccess(sig) {
		_ = sig.Close()
		return
	}
	s.sig = sig

	if err := s.startPublishing(); err != nil {
		s.log.Errorw("orchestrator: gateway publish setup failed", "call_id", s.call.Id(), "error", err)
		return
	}

	s.state = stateJoined
	s.player.Play(trackplayer.WelcomeUsage, nil)
}

// awaitJoinSuccess blocks on the fresh signaling connection until
// join_success (recording our local participant id) or a terminal event.
func (s *dialinSession) awaitJoinSuccess(sig *signaling.Client) bool {
	deadline := time.NewTimer(15 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-sig.Events():
			if !ok {
				return false
			}
			switch ev.Kind {
			case signaling.EventJoinSuccess:
				s.localId = ev.JoinSuccess.Id
				return true
			case signaling.EventSessionEnded, signaling.EventDisconnected:
				return false
			}
		case <-deadline.C:
			return false
		}
	}
}

// startPublishing creates the publish-only peer connection (C4), wires its
// trickle candidates and offer/answer exchange through signaling, and
// routes the caller's already-decoded SIP audio into it.
func (s *dialinSession) startPublishing() error {
	streamId := ids.NewStreamId(s.localId, ids.Camera)

	trickle := func(c *pionwebrtc.ICECandidateInit) {
		if c == nil {
			_ = s.sig.SdpEndOfCandidates(streamId)
			return
		}
		mline := 0
		if c.SDPMLineIndex != nil {
			mline = int(*c.SDPMLineIndex)
		}
		_ = s.sig.SdpCandidate(streamId, c.Candidate, mline)
	}

	sink, err := webrtcmedia.NewSink(s.log, nil, trickle)
	if err != nil {
		return err
	}

	offer, err := sink.Negotiate()
	if err != nil {
		_ = sink.Close()
		return err
	}
	if err := s.sig.Publish(ids.Camera, offer); err != nil {
		_ = sink.Close()
		return err
	}

	s.publish = sink
	s.gated = &gatedSink{log: s.log, sink: sink}
	s.call.SetAudioSink(s.gated)
	return nil
}

// handleSignalingEvent dispatches events on the joined signaling
// connection: the publish stream's own sdp_answer/candidates, and the
// moderation/termination events that end the session.
func (s *dialinSession) handleSignalingEvent(ev signaling.Event) {
	switch ev.Kind {
	case signaling.EventSdpAnswer:
		if ev.Sdp.Source != s.localId || s.publish == nil {
			return
		}
		if err := s.publish.SetAnswer(ev.Sdp.Sdp); err != nil {
			s.log.Warnw("orchestrator: gateway set publish answer failed", "call_id", s.call.Id(), "error", err)
			return
		}
		if err := s.sig.PublishComplete(ids.Camera); err != nil {
			s.log.Warnw("orchestrator: gateway publish_complete failed", "call_id", s.call.Id(), "error", err)
		}
	case signaling.EventSdpCandidate:
		if ev.Candidate.Source != s.localId || s.publish == nil {
			return
		}
		mline := uint16(ev.Candidate.SdpMLineIndex)
		if err := s.publish.ReceiveCandidate(mline, ev.Candidate.Candidate); err != nil {
			s.log.Warnw("orchestrator: gateway apply candidate failed", "call_id", s.call.Id(), "error", err)
		}
	case signaling.EventRequestMute:
		s.gated.setMuted(true)
		s.player.Play(trackplayer.Muted, nil)
		_ = s.sig.UpdateMediaSession(ids.Camera, false, false)
	case signaling.EventSessionEnded, signaling.EventDisconnected:
		s.call.Hangup()
	case signaling.EventProtocolError:
		s.log.Warnw("orchestrator: gateway signaling protocol error, continuing", "call_id", s.call.Id(), "error", ev.Err)
	}
}

// closeResources releases the signaling connection, publish peer
// connection, and track player; safe to call more than once.
func (s *dialinSession) closeResources() {
	s.player.Close()
	if s.publish != nil {
		_ = s.publish.Close()
	}
	if s.sig != nil {
		_ = s.sig.Close()
	}
}
