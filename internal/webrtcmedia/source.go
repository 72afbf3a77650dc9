package webrtcmedia

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"

	"github.com/talkbridge/mediabridge/internal/commons"
)

// AudioSink receives decoded PCM samples from the source's audio pad.
type AudioSink interface {
	PushPCM(samples []int16)
}

// VideoSink receives depacketized (still encoded) video samples from the
// source's video pad. No VP8/H264 pixel decoder is available in the
// dependency set this module draws on (see DESIGN.md's C6 stdlib-only
// justification); the compositor treats these as opaque frames keyed by
// arrival order rather than decoded pixels.
type VideoSink interface {
	PushFrame(payload []byte, keyframe bool)
}

// Source is the recorder-side peer connection (C4): it receives an SDP
// offer, negotiates bundle-max, and exposes exactly one audio and one
// video raw exit pad, per §4.4.
type Source struct {
	log commons.Logger
	pc  *pionwebrtc.PeerConnection

	mu         sync.Mutex
	audioSink  AudioSink
	videoSink  VideoSink
	haveAudio  bool
	haveVideo  bool
}

// NewSource creates the recorder-side peer connection. trickle receives
// candidates as they are gathered and a single nil call on completion.
func NewSource(log commons.Logger, audioSink AudioSink, videoSink VideoSink, trickle CandidateCallback) (*Source, error) {
	api, err := newAPI(false)
	if err != nil {
		return nil, err
	}
	pc, err := newPeerConnection(api)
	if err != nil {
		return nil, err
	}

	s := &Source{log: log, pc: pc, audioSink: audioSink, videoSink: videoSink}

	wireTrickle(pc, trickle)
	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		logState(log, "source", state)
	})
	pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if err := s.attachTrack(track); err != nil {
			log.Warnw("webrtcmedia: rejecting track", "error", err, "kind", track.Kind().String())
		}
	})

	return s, nil
}

// ReceiveOffer sets the remote description, creates and sets the local
// answer, and returns its SDP text — §4.4's `receive_offer(sdp) →
// answer_sdp`.
func (s *Source) ReceiveOffer(sdp string) (string, error) {
	if err := s.pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return "", fmt.Errorf("webrtcmedia: set remote offer: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtcmedia: create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("webrtcmedia: set local answer: %w", err)
	}
	return answer.SDP, nil
}

// ReceiveCandidate feeds a trickled remote candidate into the PC —
// §4.4's `receive_candidate(mline, sdp)`.
func (s *Source) ReceiveCandidate(mline uint16, candidate string) error {
	return s.pc.AddICECandidate(pionwebrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMLineIndex: &mline,
	})
}

// ReceiveEndOfCandidates signals that the remote side has finished
// trickling candidates for this m-line. pion has no explicit per-mline
// end-of-candidates call; an empty-candidate AddICECandidate is the
// documented way to deliver it.
func (s *Source) ReceiveEndOfCandidates(mline uint16) error {
	return s.pc.AddICECandidate(pionwebrtc.ICECandidateInit{
		Candidate:     "",
		SDPMLineIndex: &mline,
	})
}

func (s *Source) attachTrack(track *pionwebrtc.TrackRemote) error {
	switch track.Kind() {
	case pionwebrtc.RTPCodecTypeAudio:
		s.mu.Lock()
		if s.haveAudio {
			s.mu.Unlock()
			return ErrDuplicateKind
		}
		s.haveAudio = true
		s.mu.Unlock()
		go s.readAudio(track)
	case pionwebrtc.RTPCodecTypeVideo:
		s.mu.Lock()
		if s.haveVideo {
			s.mu.Unlock()
			return ErrDuplicateKind
		}
		s.haveVideo = true
		s.mu.Unlock()
		go s.readVideo(track)
	}
	return nil
}

func (s *Source) readAudio(track *pionwebrtc.TrackRemote) {
	decoder, err := opus.NewDecoder(48000, 2)
	if err != nil {
		s.log.Errorw("webrtcmedia: opus decoder init failed", "error", err)
		return
	}
	buf := make([]byte, 1500)
	pcm := make([]int16, 48000/50*2) // 20ms @ 48kHz stereo upper bound
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		samples, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}
		if s.audioSink != nil {
			frame := make([]int16, samples*2)
			copy(frame, pcm[:samples*2])
			s.audioSink.PushPCM(frame)
		}
	}
}

func (s *Source) readVideo(track *pionwebrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if s.videoSink != nil {
			s.videoSink.PushFrame(pkt.Payload, pkt.Marker)
		}
	}
}

// Close tears down the peer connection.
func (s *Source) Close() error {
	return s.pc.Close()
}
