// Package signaling implements the signaling client (C12): an
// authenticated JSON-over-WebSocket connection to the conference
// controller. Grounded on the teacher's
// api/assistant-api/internal/agent/executor/llm/internal/websocket
// executor (gorilla/websocket dialer setup, a write-mutex-guarded send,
// and a dedicated read-loop goroutine feeding a typed channel), generalized
// from that package's single flat message-type tag to §6's three-namespace
// envelope and the full control/media/moderation action set §4.12 lists.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/ids"
)

// subprotocolTag is the recorder/gateway's fixed subprotocol name, §6.
const subprotocolTag = "opentalk-signaling-json-v1.0"

// EventKind discriminates the Event union below.
type EventKind int

const (
	EventJoinSuccess EventKind = iota
	EventJoined
	EventUpdate
	EventLeft
	EventSdpOffer
	EventSdpAnswer
	EventSdpCandidate
	EventSdpEndOfCandidates
	EventWebRtcUp
	EventWebRtcDown
	EventWebRtcSlow
	EventFocusUpdate
	EventMediaStatus
	EventRequestMute
	EventInWaitingRoom
	EventAccepted
	EventSessionEnded
	EventDisconnected
	EventProtocolError
)

// Event is the single discriminated union the orchestrator's select loop
// consumes from Events(). Only the field matching Kind is populated.
type Event struct {
	Kind EventKind

	JoinSuccess struct {
		Id           ids.ParticipantId
		Participants []ParticipantInfo
		Title        string
	}
	Participant  ParticipantInfo // Joined / Update
	Left         ids.ParticipantId
	Sdp          SdpEvent
	Candidate    CandidateEvent
	StreamEvent  StreamEvent
	Focus        *ids.ParticipantId
	MediaStatus  MediaStatusEvent
	RequestMute  bool // force

	Err error // set for EventProtocolError/EventDisconnected
}

type SdpEvent struct {
	Source ids.ParticipantId
	Kind   ids.MediaKind
	Sdp    string
}

type CandidateEvent struct {
	Source        ids.ParticipantId
	Kind          ids.MediaKind
	Candidate     string // empty for end-of-candidates
	SdpMLineIndex int
	EndOfCandidates bool
}

type StreamEvent struct {
	Source ids.ParticipantId
	Kind   ids.MediaKind
}

type MediaStatusEvent struct {
	Source ids.ParticipantId
	Kind   ids.MediaKind
	Audio  bool
	Video  bool
}

// Client owns the websocket connection, per §3's "the signaling client
// owns the WebSocket".
type Client struct {
	log  commons.Logger
	conn *websocket.Conn

	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	closeOnce sync.Once
}

// Dial connects to wsURL with the subprotocol list
// "opentalk-signaling-json-v1.0, ticket#<ticket>" per §6's handshake
// requirement, and starts the read loop.
func Dial(ctx context.Context, log commons.Logger, wsURL, ticket string) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("signaling: parse url: %w", err)
	}

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", fmt.Sprintf("%s, ticket#%s", subprotocolTag, ticket))

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	c := &Client{
		log:    log,
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	// Ping/Pong handled internally: gorilla answers control-frame pings
	// automatically; received pongs are accepted and otherwise ignored.
	conn.SetPongHandler(func(string) error { return nil })

	go c.readLoop()
	return c, nil
}

// Events exposes the inbound event stream; it closes once the connection
// is gone (after emitting a final EventDisconnected).
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.events <- Event{Kind: EventDisconnected, Err: err}:
			default:
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.emitProtocolError(fmt.Errorf("signaling: decode envelope: %w", err))
			continue
		}
		if err := c.dispatch(f); err != nil {
			c.emitProtocolError(err)
		}
	}
}

func (c *Client) emitProtocolError(err error) {
	c.log.Warnw("signaling: protocol error, skipping message", "error", err)
	select {
	case c.events <- Event{Kind: EventProtocolError, Err: err}:
	case <-c.done:
	}
}

func (c *Client) dispatch(f frame) error {
	var tag actionTag
	if err := json.Unmarshal(f.Payload, &tag); err != nil {
		return fmt.Errorf("signaling: decode action tag: %w", err)
	}

	switch f.Namespace {
	case NamespaceControl:
		return c.dispatchControl(tag.tag(), f.Payload)
	case NamespaceMedia:
		return c.dispatchMedia(tag.tag(), f.Payload)
	case NamespaceModeration:
		return c.dispatchModeration(tag.tag())
	default:
		return fmt.Errorf("signaling: unknown namespace %q", f.Namespace)
	}
}

func (c *Client) dispatchControl(action string, raw json.RawMessage) error {
	switch action {
	case "join_success":
		var p joinSuccessPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("signaling: decode join_success: %w", err)
		}
		ev := Event{Kind: EventJoinSuccess}
		ev.JoinSuccess.Id = p.Id
		ev.JoinSuccess.Participants = p.Participants
		ev.JoinSuccess.Title = p.EventInfo.Title
		c.emit(ev)
	case "joined":
		var p ParticipantInfo
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("signaling: decode joined: %w", err)
		}
		c.emit(Event{Kind: EventJoined, Participant: p})
	case "update":
		var p ParticipantInfo
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("signaling: decode update: %w", err)
		}
		c.emit(Event{Kind: EventUpdate, Participant: p})
	case "left":
		var p leftPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("signaling: decode left: %w", err)
		}
		c.emit(Event{Kind: EventLeft, Left: p.Id})
	default:
		return fmt.Errorf("signaling: unexpected control action %q", action)
	}
	return nil
}

func (c *Client) dispatchMedia(action string, raw json.RawMessage) error {
	switch action {
	case "sdp_offer":
		var p sdpOfferPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		c.emit(Event{Kind: EventSdpOffer, Sdp: SdpEvent{Source: p.Source, Kind: mediaKindOf(p.MediaSessionType), Sdp: p.Sdp}})
	case "sdp_answer":
		var p sdpAnswerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		c.emit(Event{Kind: EventSdpAnswer, Sdp: SdpEvent{Source: p.Source, Kind: mediaKindOf(p.MediaSessionType), Sdp: p.Sdp}})
	case "sdp_candidate":
		var p sdpCandidatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		c.emit(Event{Kind: EventSdpCandidate, Candidate: CandidateEvent{
			Source: p.Source, Kind: mediaKindOf(p.MediaSessionType),
			Candidate: p.Candidate, SdpMLineIndex: p.SdpMLineIndex,
		}})
	case "sdp_end_of_candidates":
		var p sdpEndOfCandidatesPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		c.emit(Event{Kind: EventSdpEndOfCandidates, Candidate: CandidateEvent{
			Source: p.Source, Kind: mediaKindOf(p.MediaSessionType), EndOfCandidates: true,
		}})
	case "webrtc_up":
		c.emitStream(EventWebRtcUp, raw)
	case "webrtc_down":
		c.emitStream(EventWebRtcDown, raw)
	case "webrtc_slow":
		c.emitStream(EventWebRtcSlow, raw)
	case "focus_update":
		var p focusUpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		c.emit(Event{Kind: EventFocusUpdate, Focus: p.Focus})
	case "media_status":
		var p mediaStatusPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		c.emit(Event{Kind: EventMediaStatus, MediaStatus: MediaStatusEvent{
			Source: p.Source, Kind: mediaKindOf(p.MediaSessionType), Audio: p.Audio, Video: p.Video,
		}})
	case "request_mute":
		var p requestMutePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		c.emit(Event{Kind: EventRequestMute, RequestMute: p.Force})
	default:
		return fmt.Errorf("signaling: unexpected media action %q", action)
	}
	return nil
}

func (c *Client) emitStream(kind EventKind, raw json.RawMessage) {
	var p webrtcStreamPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.emitProtocolError(fmt.Errorf("signaling: decode stream event: %w", err))
		return
	}
	c.emit(Event{Kind: kind, StreamEvent: StreamEvent{Source: p.Source, Kind: mediaKindOf(p.MediaSessionType)}})
}

func (c *Client) dispatchModeration(action string) error {
	switch action {
	case "in_waiting_room":
		c.emit(Event{Kind: EventInWaitingRoom})
	case "accepted":
		c.emit(Event{Kind: EventAccepted})
	case "session_ended":
		c.emit(Event{Kind: EventSessionEnded})
	default:
		return fmt.Errorf("signaling: unexpected moderation action %q", action)
	}
	return nil
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) sendEnvelope(ns Namespace, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signaling: marshal payload: %w", err)
	}
	return c.send(frame{Namespace: ns, Payload: raw})
}

// Join sends the initial control "join" command with the local display
// name, per §6.
func (c *Client) Join(displayName string) error {
	return c.sendEnvelope(NamespaceControl, joinCmd{Action: "join", DisplayName: displayName})
}

// EnterRoom sends "enter_room" once accepted out of the waiting room.
func (c *Client) EnterRoom() error {
	return c.sendEnvelope(NamespaceControl, enterRoomCmd{Action: "enter_room"})
}

// Publish announces a local publication with its initial SDP offer.
func (c *Client) Publish(kind ids.MediaKind, sdp string) error {
	return c.sendEnvelope(NamespaceMedia, publishCmd{Action: "publish", MediaSessionType: mediaSessionTypeOf(kind), Sdp: sdp})
}

// Subscribe requests the controller start relaying id's media to us.
func (c *Client) Subscribe(id ids.StreamId) error {
	return c.sendEnvelope(NamespaceMedia, subscribeCmd{Action: "subscribe", target: targetOf(id)})
}

// SdpAnswer replies to a controller-issued sdp_offer.
func (c *Client) SdpAnswer(id ids.StreamId, sdp string) error {
	return c.sendEnvelope(NamespaceMedia, sdpAnswerCmd{Action: "sdp_answer", target: targetOf(id), Sdp: sdp})
}

// SdpCandidate forwards a locally-gathered trickle candidate, tagged with
// whichever stream (publish or subscribe) it belongs to.
func (c *Client) SdpCandidate(id ids.StreamId, candidate string, mlineIndex int) error {
	return c.sendEnvelope(NamespaceMedia, sdpCandidateCmd{
		Action: "sdp_candidate", target: targetOf(id), Candidate: candidate, SdpMLineIndex: mlineIndex,
	})
}

// SdpEndOfCandidates sends the single end-of-trickle marker for id.
func (c *Client) SdpEndOfCandidates(id ids.StreamId) error {
	return c.sendEnvelope(NamespaceMedia, sdpEndOfCandidatesCmd{Action: "sdp_end_of_candidates", target: targetOf(id)})
}

// PublishComplete tells the controller our local publish negotiation
// finished successfully.
func (c *Client) PublishComplete(kind ids.MediaKind) error {
	return c.sendEnvelope(NamespaceMedia, publishCompleteCmd{Action: "publish_complete", MediaSessionType: mediaSessionTypeOf(kind)})
}

// UpdateMediaSession announces a local audio mute/unmute (video is always
// false for the gateway's audio-only publish).
func (c *Client) UpdateMediaSession(kind ids.MediaKind, audio, video bool) error {
	return c.sendEnvelope(NamespaceMedia, updateMediaSessionCmd{
		Action: "update_media_session", MediaSessionType: mediaSessionTypeOf(kind), Audio: audio, Video: video,
	})
}

// RaiseHand / LowerHand implement §4.13 step 3's hand-raise toggle.
func (c *Client) RaiseHand() error {
	return c.sendEnvelope(NamespaceControl, handCmd{Action: "raise_hand"})
}

func (c *Client) LowerHand() error {
	return c.sendEnvelope(NamespaceControl, handCmd{Action: "lower_hand"})
}

// ModeratorMute, GrantPresenterRole, RevokePresenterRole, Resubscribe, and
// Configure are implemented at the wire/decode layer only per DESIGN.md's
// Open Question decision: the spec defines their envelope, not their
// media-side effect.
func (c *Client) ModeratorMute(target ids.ParticipantId) error {
	return c.sendEnvelope(NamespaceModeration, moderatorMuteCmd{Action: "moderator_mute", Target: target})
}

func (c *Client) GrantPresenterRole(target ids.ParticipantId) error {
	return c.sendEnvelope(NamespaceModeration, presenterRoleCmd{Action: "grant_presenter_role", Target: target})
}

func (c *Client) RevokePresenterRole(target ids.ParticipantId) error {
	return c.sendEnvelope(NamespaceModeration, presenterRoleCmd{Action: "revoke_presenter_role", Target: target})
}

func (c *Client) Resubscribe(id ids.StreamId) error {
	return c.sendEnvelope(NamespaceMedia, resubscribeCmd{Action: "resubscribe", target: targetOf(id)})
}

func (c *Client) Configure(id ids.StreamId, payload any) error {
	return c.sendEnvelope(NamespaceMedia, configureCmd{Action: "configure", target: targetOf(id), Payload: payload})
}

// Close sends a normal WebSocket close frame and tears down the
// connection, matching §3's "the orchestrator ... drops them
// deterministically on termination". Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(2 * time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}
