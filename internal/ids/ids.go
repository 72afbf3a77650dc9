// Package ids defines the identifiers shared across the media and signaling
// planes: participant identity, the two media kinds a participant can
// publish, and the composite stream identifier the talk façade keys its
// registry by.
package ids

import "github.com/google/uuid"

// ParticipantId is a 128-bit opaque identifier for a conference participant.
type ParticipantId = uuid.UUID

// NilParticipant is the zero-value ParticipantId, used by tests and the
// dial-in gateway's join_success literal scenario.
var NilParticipant = uuid.Nil

// MediaKind distinguishes a participant's camera feed from a screen share.
// A participant publishes at most one stream per kind.
type MediaKind int

const (
	Camera MediaKind = iota
	ScreenCapture
)

func (k MediaKind) String() string {
	switch k {
	case Camera:
		return "camera"
	case ScreenCapture:
		return "screen"
	default:
		return "unknown"
	}
}

// StreamId identifies one media flow: a participant crossed with a kind.
// Two streams per participant at most.
type StreamId struct {
	Participant ParticipantId
	Kind        MediaKind
}

func NewStreamId(p ParticipantId, k MediaKind) StreamId {
	return StreamId{Participant: p, Kind: k}
}
