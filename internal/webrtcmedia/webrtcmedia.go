// Package webrtcmedia implements the WebRTC source/sink (C4): one peer
// connection producing raw A/V pads (source, used by the recorder) or
// consuming mixed raw A/V and publishing it (sink, used by the gateway).
// Grounded on the teacher's
// api/assistant-api/internal/channel/webrtc/streamer.go peer-connection
// setup (media engine + interceptor registry, ICE candidate/state
// handlers, OnTrack dispatch) generalized from the teacher's fixed
// gRPC-signaled single-audio-track shape to the bundle-max,
// trickle-ICE-callback, multi-kind-pad shape spec §4.4 requires.
package webrtcmedia

import (
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	pionwebrtc "github.com/pion/webrtc/v4"

	"github.com/talkbridge/mediabridge/internal/commons"
)

// ErrDuplicateKind is returned when a second audio or video pad arrives
// for a subscription that already has one of that kind, per §4.4's "If
// both a second audio or second video arrive for the same subscription,
// reject."
var ErrDuplicateKind = errors.New("webrtcmedia: duplicate media kind for subscription")

// CandidateCallback receives trickled ICE candidates as they are
// gathered, and a single nil-candidate call once gathering completes —
// both source and sink "convert the framework's ICE gathering complete
// state to a single null-candidate message upstream" per §4.4.
type CandidateCallback func(candidate *pionwebrtc.ICECandidateInit)

func newMediaEngine(withAudioLevel bool) (*pionwebrtc.MediaEngine, error) {
	m := &pionwebrtc.MediaEngine{}
	if err := m.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("webrtcmedia: register opus: %w", err)
	}
	for _, codec := range []pionwebrtc.RTPCodecParameters{
		{RTPCodecCapability: pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeVP8, ClockRate: 90000}, PayloadType: 96},
		{RTPCodecCapability: pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeH264, ClockRate: 90000}, PayloadType: 102},
	} {
		if err := m.RegisterCodec(codec, pionwebrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("webrtcmedia: register video codec %s: %w", codec.MimeType, err)
		}
	}
	if withAudioLevel {
		// The ssrc-audio-level extension is registered by URI only, so it is
		// offered on the sink's sendonly transceiver; no "vad=on" attribute
		// is added to its extmap line.
		if err := m.RegisterHeaderExtension(
			pionwebrtc.RTPHeaderExtensionCapability{URI: audioLevelExtensionURI},
			pionwebrtc.RTPCodecTypeAudio,
		); err != nil {
			return nil, fmt.Errorf("webrtcmedia: register audio-level extension: %w", err)
		}
	}
	return m, nil
}

// newAPI builds a pion API with bundle-max policy, matching §4.4's
// "creates a peer connection in 'bundle max' mode" for both source and
// sink. disableNACK strips the NACK interceptor, used only by the sink's
// fixed send pipeline (§4.4's "disables NACK").
func newAPI(disableNACK bool) (*pionwebrtc.API, error) {
	m, err := newMediaEngine(disableNACK)
	if err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if disableNACK {
		if err := pionwebrtc.ConfigureRTCPReports(registry); err != nil {
			return nil, fmt.Errorf("webrtcmedia: configure rtcp reports: %w", err)
		}
		if err := pionwebrtc.ConfigureTWCCHeaderExtensionSender(m, registry); err != nil {
			return nil, fmt.Errorf("webrtcmedia: configure twcc: %w", err)
		}
	} else if err := pionwebrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("webrtcmedia: register interceptors: %w", err)
	}
	return pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(m), pionwebrtc.WithInterceptorRegistry(registry)), nil
}

func newPeerConnection(api *pionwebrtc.API) (*pionwebrtc.PeerConnection, error) {
	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{
		BundlePolicy: pionwebrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("webrtcmedia: new peer connection: %w", err)
	}
	return pc, nil
}

// wireTrickle hooks OnICECandidate, which pion calls once per gathered
// candidate and once with nil when gathering completes, so both trickled
// candidates and the single end-of-candidates signal flow through one
// callback, per §4.4.
func wireTrickle(pc *pionwebrtc.PeerConnection, cb CandidateCallback) {
	if cb == nil {
		return
	}
	pc.OnICECandidate(func(c *pionwebrtc.ICECandidate) {
		if c == nil {
			cb(nil)
			return
		}
		init := c.ToJSON()
		cb(&init)
	})
}

func logState(log commons.Logger, label string, state pionwebrtc.PeerConnectionState) {
	log.Infow("webrtcmedia: connection state changed", "role", label, "state", state.String())
}
