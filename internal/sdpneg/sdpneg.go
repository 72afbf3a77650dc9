// Package sdpneg implements the SDP negotiator (C2): parses a SIP audio
// offer, picks a codec by static priority, locates the telephone-event
// payload type, and composes an answer with matching direction semantics.
// Grounded on the teacher's api/assistant-api/sip/infra/sdp.go (codec
// table, line-based parse/generate style) generalized to the spec's
// priority-list and direction-flip algorithm (§4.2), which the teacher's
// own NegotiateCodec/GenerateSDP only partially implement (no direction
// handling, fixed PCMU/PCMA priority instead of G722 > PCMA > PCMU).
//
// No SDP parsing library is used — see DESIGN.md's stdlib-only
// justification: pion/sdp models the WebRTC session-description object
// graph, not this component's simpler single-audio-m-line SIP text, and the
// teacher's own sdp.go hand-builds/parses SDP text the same way.
package sdpneg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidOffer is returned for structural, codec, or telephone-event
// failures per spec §4.2 and §7.
var ErrInvalidOffer = errors.New("sdpneg: invalid offer")

// Codec is one statically-numbered audio codec candidate.
type Codec struct {
	Name        string
	PayloadType int
	ClockRate   int
}

// Default static priority list: G722 > PCMA > PCMU, per spec §4.2.
var DefaultPriority = []Codec{
	{Name: "G722", PayloadType: 9, ClockRate: 8000},
	{Name: "PCMA", PayloadType: 8, ClockRate: 8000},
	{Name: "PCMU", PayloadType: 0, ClockRate: 8000},
}

// Direction is the SDP media direction attribute.
type Direction string

const (
	SendRecv Direction = "sendrecv"
	SendOnly Direction = "sendonly"
	RecvOnly Direction = "recvonly"
	Inactive Direction = "inactive"
)

// Offer is the subset of an incoming SDP this negotiator cares about.
type Offer struct {
	ConnectionIP    string
	Port            int
	PayloadTypes    []int
	RtpmapsByPT     map[int]string // "PCMA/8000" style value, lowercased name comparisons done internally
	Direction       Direction
	MediaScopeCount int // number of m= lines; must be exactly 1 and must be audio
	IsAudio         bool
	OriginVersion   int // o= line's sess-version field, for the reINVITE "remote_version advanced" check (§4.3)
}

// Session is this negotiator's local, monotonically versioned SDP identity.
type Session struct {
	ID      string
	Version int
}

// Answer is the negotiated outcome: chosen codec, telephone-event PT, and
// direction, ready for an SDP-text generator to render.
type Answer struct {
	Session             Session
	Codec               Codec
	TelephoneEventPT     int
	LocalIP              string
	LocalPort            int
	Direction            Direction
}

// Negotiate runs the §4.2 algorithm against offer using localSession
// (incremented for this answer) and the local RTP endpoint.
func Negotiate(offer Offer, localSession Session, localIP string, localPort int) (*Answer, error) {
	if !offer.IsAudio || offer.MediaScopeCount != 1 {
		return nil, fmt.Errorf("%w: expected exactly one audio media scope, got %d (audio=%v)",
			ErrInvalidOffer, offer.MediaScopeCount, offer.IsAudio)
	}

	codec, err := pickCodec(offer)
	if err != nil {
		return nil, err
	}

	telPT, ok := findTelephoneEvent(offer)
	if !ok {
		return nil, fmt.Errorf("%w: no telephone-event at 8kHz in offer", ErrInvalidOffer)
	}

	direction := deriveDirection(offer)

	return &Answer{
		Session:          Session{ID: localSession.ID, Version: localSession.Version + 1},
		Codec:            codec,
		TelephoneEventPT: telPT,
		LocalIP:          localIP,
		LocalPort:        localPort,
		Direction:        direction,
	}, nil
}

// pickCodec walks DefaultPriority; for each entry, first try a static
// payload-type match against the offer's m= line, then fall back to a
// case-insensitive rtpmap encoding-name match. First success wins.
func pickCodec(offer Offer) (Codec, error) {
	for _, candidate := range DefaultPriority {
		matched := false
		for _, pt := range offer.PayloadTypes {
			if pt == candidate.PayloadType {
				matched = true
				break
			}
		}
		if matched {
			return candidate, nil
		}

		for pt, rtpmap := range offer.RtpmapsByPT {
			name := strings.SplitN(rtpmap, "/", 2)[0]
			if strings.EqualFold(name, candidate.Name) {
				c := candidate
				c.PayloadType = pt
				return c, nil
			}
		}
	}
	return Codec{}, fmt.Errorf("%w: no supported codec in offer", ErrInvalidOffer)
}

func findTelephoneEvent(offer Offer) (int, bool) {
	for pt, rtpmap := range offer.RtpmapsByPT {
		parts := strings.SplitN(rtpmap, "/", 2)
		if len(parts) != 2 {
			continue
		}
		name, rate := parts[0], parts[1]
		if strings.EqualFold(name, "telephone-event") && rate == "8000" {
			return pt, true
		}
	}
	return 0, false
}

// deriveDirection implements §4.2's rule: unspecified remote address
// (0.0.0.0) collapses sendrecv→recvonly and recvonly→inactive; otherwise
// sendonly and recvonly flip relative to the offer.
func deriveDirection(offer Offer) Direction {
	unspecified := offer.ConnectionIP == "0.0.0.0" || offer.ConnectionIP == ""

	switch offer.Direction {
	case SendRecv:
		if unspecified {
			return RecvOnly
		}
		return SendRecv
	case RecvOnly:
		if unspecified {
			return Inactive
		}
		return SendOnly
	case SendOnly:
		return RecvOnly
	case Inactive:
		return Inactive
	default:
		return SendRecv
	}
}

// ParseOffer does a minimal line-based parse of raw SDP text sufficient for
// Negotiate's needs — no general-purpose SDP object model, matching the
// teacher's own hand-rolled sdp.go parser.
func ParseOffer(raw string) (Offer, error) {
	offer := Offer{RtpmapsByPT: map[int]string{}, Direction: SendRecv}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "\r")
		switch {
		case strings.HasPrefix(line, "o="):
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				if v, err := strconv.Atoi(fields[2]); err == nil {
					offer.OriginVersion = v
				}
			}
		case strings.HasPrefix(line, "c=IN IP4 "):
			offer.ConnectionIP = strings.TrimSpace(strings.TrimPrefix(line, "c=IN IP4 "))
		case strings.HasPrefix(line, "m="):
			offer.MediaScopeCount++
			fields := strings.Fields(line)
			if len(fields) < 4 {
				continue
			}
			offer.IsAudio = strings.HasPrefix(fields[0], "m=audio")
			if port, err := strconv.Atoi(fields[1]); err == nil {
				offer.Port = port
			}
			for _, f := range fields[3:] {
				if pt, err := strconv.Atoi(f); err == nil {
					offer.PayloadTypes = append(offer.PayloadTypes, pt)
				}
			}
		case strings.HasPrefix(line, "a=rtpmap:"):
			body := strings.TrimPrefix(line, "a=rtpmap:")
			fields := strings.SplitN(body, " ", 2)
			if len(fields) != 2 {
				continue
			}
			pt, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			offer.RtpmapsByPT[pt] = fields[1]
		case line == "a=sendrecv":
			offer.Direction = SendRecv
		case line == "a=sendonly":
			offer.Direction = SendOnly
		case line == "a=recvonly":
			offer.Direction = RecvOnly
		case line == "a=inactive":
			offer.Direction = Inactive
		}
	}

	return offer, nil
}

// Render writes answer as SDP text, modeled after the teacher's
// GenerateSDP line-by-line builder.
func Render(answer Answer) string {
	var sb strings.Builder
	sb.WriteString("v=0\r\n")
	fmt.Fprintf(&sb, "o=- %s %d IN IP4 %s\r\n", answer.Session.ID, answer.Session.Version, answer.LocalIP)
	sb.WriteString("s=talkbridge\r\n")
	fmt.Fprintf(&sb, "c=IN IP4 %s\r\n", answer.LocalIP)
	sb.WriteString("t=0 0\r\n")
	fmt.Fprintf(&sb, "m=audio %d RTP/AVP %d %d\r\n", answer.LocalPort, answer.Codec.PayloadType, answer.TelephoneEventPT)
	fmt.Fprintf(&sb, "a=rtpmap:%d %s/%d\r\n", answer.Codec.PayloadType, answer.Codec.Name, answer.Codec.ClockRate)
	fmt.Fprintf(&sb, "a=rtpmap:%d telephone-event/8000\r\n", answer.TelephoneEventPT)
	fmt.Fprintf(&sb, "a=fmtp:%d 0-16\r\n", answer.TelephoneEventPT)
	fmt.Fprintf(&sb, "a=rtcp:%d\r\n", answer.LocalPort+1)
	fmt.Fprintf(&sb, "a=%s\r\n", answer.Direction)
	return sb.String()
}
