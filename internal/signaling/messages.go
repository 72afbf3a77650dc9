package signaling

import (
	"encoding/json"

	"github.com/talkbridge/mediabridge/internal/ids"
)

// Namespace is the top-level envelope routing field, §6.
type Namespace string

const (
	NamespaceControl    Namespace = "control"
	NamespaceMedia      Namespace = "media"
	NamespaceModeration Namespace = "moderation"
)

// mediaSessionType renders an ids.MediaKind the way the wire protocol
// spells it — §6's `"media_session_type": "video"|"screen"`.
func mediaSessionTypeOf(k ids.MediaKind) string {
	if k == ids.ScreenCapture {
		return "screen"
	}
	return "video"
}

func mediaKindOf(mediaSessionType string) ids.MediaKind {
	if mediaSessionType == "screen" {
		return ids.ScreenCapture
	}
	return ids.Camera
}

// frame is the wire envelope: `{ "namespace": ..., "payload": {...} }`.
type frame struct {
	Namespace Namespace       `json:"namespace"`
	Payload   json.RawMessage `json:"payload"`
}

// actionTag is decoded first to discover which concrete payload shape to
// unmarshal into; the controller tags its payload with either "action" or
// "message" depending on direction/namespace, matching §6.
type actionTag struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (t actionTag) tag() string {
	if t.Action != "" {
		return t.Action
	}
	return t.Message
}

// target identifies the (participant, media-kind) pair an outbound media
// command addresses, per §6's `{ "target": <uuid>, "media_session_type":
// "video"|"screen" }`.
type target struct {
	Target          ids.ParticipantId `json:"target"`
	MediaSessionType string           `json:"media_session_type"`
}

func targetOf(id ids.StreamId) target {
	return target{Target: id.Participant, MediaSessionType: mediaSessionTypeOf(id.Kind)}
}

// MediaState mirrors the publishing bit for one media kind — §3's
// `MediaState{audio, video}`.
type MediaState struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// ParticipantInfo is the roster shape carried by join_success/joined/update.
type ParticipantInfo struct {
	Id                ids.ParticipantId             `json:"id"`
	DisplayName       string                        `json:"display_name"`
	Publishing        map[string]MediaState         `json:"publishing"`
	ConsentsRecording bool                          `json:"consents_recording"`
}

// HasConsent reports §3's recording-consent flag.
func (p ParticipantInfo) HasConsent() bool { return p.ConsentsRecording }

// Publications returns the set of currently-published (kind, MediaState)
// pairs, decoded from the wire's string-keyed "video"/"screen" map.
func (p ParticipantInfo) Publications() map[ids.MediaKind]MediaState {
	out := make(map[ids.MediaKind]MediaState, len(p.Publishing))
	for k, v := range p.Publishing {
		out[mediaKindOf(k)] = v
	}
	return out
}

// --- Inbound control payloads ---

type joinSuccessPayload struct {
	actionTag
	Id           ids.ParticipantId `json:"id"`
	Participants []ParticipantInfo `json:"participants"`
	EventInfo    struct {
		Title string `json:"title"`
	} `json:"event_info"`
}

type leftPayload struct {
	actionTag
	Id ids.ParticipantId `json:"id"`
}

// --- Inbound media payloads ---

type sdpOfferPayload struct {
	actionTag
	Source           ids.ParticipantId `json:"source"`
	MediaSessionType string            `json:"media_session_type"`
	Sdp              string            `json:"sdp"`
}

type sdpAnswerPayload struct {
	actionTag
	Source           ids.ParticipantId `json:"source"`
	MediaSessionType string            `json:"media_session_type"`
	Sdp              string            `json:"sdp"`
}

type sdpCandidatePayload struct {
	actionTag
	Source           ids.ParticipantId `json:"source"`
	MediaSessionType string            `json:"media_session_type"`
	Candidate        string            `json:"candidate"`
	SdpMLineIndex    int               `json:"sdpMLineIndex"`
}

type sdpEndOfCandidatesPayload struct {
	actionTag
	Source           ids.ParticipantId `json:"source"`
	MediaSessionType string            `json:"media_session_type"`
}

type webrtcStreamPayload struct {
	actionTag
	Source           ids.ParticipantId `json:"source"`
	MediaSessionType string            `json:"media_session_type"`
}

type focusUpdatePayload struct {
	actionTag
	Focus *ids.ParticipantId `json:"focus"`
}

type mediaStatusPayload struct {
	actionTag
	Source           ids.ParticipantId `json:"source"`
	MediaSessionType string            `json:"media_session_type"`
	Audio            bool              `json:"audio"`
	Video            bool              `json:"video"`
}

type requestMutePayload struct {
	actionTag
	Force bool `json:"force"`
}

// --- Outbound payloads ---

type joinCmd struct {
	Action      string `json:"action"`
	DisplayName string `json:"display_name"`
}

type enterRoomCmd struct {
	Action string `json:"action"`
}

type publishCmd struct {
	Action           string `json:"action"`
	MediaSessionType string `json:"media_session_type"`
	Sdp              string `json:"sdp"`
}

type subscribeCmd struct {
	Action string `json:"action"`
	target
}

type sdpAnswerCmd struct {
	Action string `json:"action"`
	target
	Sdp string `json:"sdp"`
}

type sdpCandidateCmd struct {
	Action string `json:"action"`
	target
	Candidate     string `json:"candidate"`
	SdpMLineIndex int    `json:"sdpMLineIndex"`
}

type sdpEndOfCandidatesCmd struct {
	Action string `json:"action"`
	target
}

type publishCompleteCmd struct {
	Action           string `json:"action"`
	MediaSessionType string `json:"media_session_type"`
}

type updateMediaSessionCmd struct {
	Action           string `json:"action"`
	MediaSessionType string `json:"media_session_type"`
	Audio            bool   `json:"audio"`
	Video            bool   `json:"video"`
}

type handCmd struct {
	Action string `json:"action"`
}

type moderatorMuteCmd struct {
	Action string            `json:"action"`
	Target ids.ParticipantId `json:"target"`
}

type presenterRoleCmd struct {
	Action string            `json:"action"`
	Target ids.ParticipantId `json:"target"`
}

type resubscribeCmd struct {
	Action string `json:"action"`
	target
}

type configureCmd struct {
	Action string `json:"action"`
	target
	Payload any `json:"payload"`
}
