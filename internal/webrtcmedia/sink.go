package webrtcmedia

import (
	"fmt"
	"sync"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/talkbridge/mediabridge/internal/commons"
)

const audioLevelExtensionURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// OfferCallback delivers a freshly created offer once the peer
// connection signals on-negotiation-needed, per §4.4's "waits for
// on-negotiation-needed, creates offer, returns it".
type OfferCallback func(sdp string)

// Sink is the gateway-side "publish" peer connection (C4): a fixed
// Opus 48kHz stereo send pipeline with the audio-level header extension,
// sendonly on transceiver 0, NACK disabled.
type Sink struct {
	log commons.Logger
	pc  *pionwebrtc.PeerConnection

	mu      sync.Mutex
	track   *pionwebrtc.TrackLocalStaticSample
	encoder *opus.Encoder
}

// NewSink creates the gateway-side publish peer connection and registers
// onOffer/trickle callbacks. The caller must call Negotiate once after
// construction to kick off the initial offer (mirroring the teacher's
// explicit setupAudioAndHandshake rather than relying solely on
// OnNegotiationNeeded, which pion does not fire for the very first
// AddTransceiver call in all versions).
func NewSink(log commons.Logger, onOffer OfferCallback, trickle CandidateCallback) (*Sink, error) {
	api, err := newAPI(true)
	if err != nil {
		return nil, err
	}
	pc, err := newPeerConnection(api)
	if err != nil {
		return nil, err
	}

	track, err := pionwebrtc.NewTrackLocalStaticSample(pionwebrtc.RTPCodecCapability{
		MimeType:  pionwebrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "mediabridge")
	if err != nil {
		return nil, fmt.Errorf("webrtcmedia: new local track: %w", err)
	}

	transceiver, err := pc.AddTransceiverFromTrack(track, pionwebrtc.RTPTransceiverInit{
		Direction: pionwebrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, fmt.Errorf("webrtcmedia: add sendonly transceiver: %w", err)
	}
	_ = transceiver

	encoder, err := opus.NewEncoder(48000, 2, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("webrtcmedia: new opus encoder: %w", err)
	}

	s := &Sink{log: log, pc: pc, track: track, encoder: encoder}

	wireTrickle(pc, trickle)
	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		logState(log, "sink", state)
	})
	pc.OnNegotiationNeeded(func() {
		sdp, err := s.createOffer()
		if err != nil {
			log.Errorw("webrtcmedia: create offer on negotiation-needed failed", "error", err)
			return
		}
		if onOffer != nil {
			onOffer(sdp)
		}
	})

	return s, nil
}

// Negotiate explicitly triggers the initial offer; see NewSink's doc
// comment on why this isn't left solely to OnNegotiationNeeded.
func (s *Sink) Negotiate() (string, error) {
	return s.createOffer()
}

func (s *Sink) createOffer() (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtcmedia: create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("webrtcmedia: set local offer: %w", err)
	}
	return offer.SDP, nil
}

// SetAnswer sets the remote answer once received — §4.4's "On receiving
// the answer, sets remote description."
func (s *Sink) SetAnswer(sdp string) error {
	if err := s.pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("webrtcmedia: set remote answer: %w", err)
	}
	return nil
}

// ReceiveCandidate feeds a trickled remote candidate into the PC.
func (s *Sink) ReceiveCandidate(mline uint16, candidate string) error {
	return s.pc.AddICECandidate(pionwebrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMLineIndex: &mline,
	})
}

// PushPCM encodes one 20ms 48kHz-stereo PCM frame as Opus and writes it
// to the send track.
func (s *Sink) PushPCM(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, 4000)
	n, err := s.encoder.Encode(samples, out)
	if err != nil {
		return fmt.Errorf("webrtcmedia: opus encode: %w", err)
	}
	return s.track.WriteSample(media.Sample{
		Data:     out[:n],
		Duration: 20 * time.Millisecond,
	})
}

// Close tears down the peer connection.
func (s *Sink) Close() error {
	return s.pc.Close()
}
