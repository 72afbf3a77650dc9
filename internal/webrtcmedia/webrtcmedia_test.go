package webrtcmedia_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/webrtcmedia"
)

type noopLogger struct{}

func (noopLogger) Debugw(string, ...any)         {}
func (noopLogger) Infow(string, ...any)          {}
func (noopLogger) Warnw(string, ...any)          {}
func (noopLogger) Errorw(string, ...any)         {}
func (l noopLogger) With(...any) commons.Logger  { return l }

type collectingAudioSink struct{ frames int }

func (s *collectingAudioSink) PushPCM(samples []int16) { s.frames++ }

type collectingVideoSink struct{ frames int }

func (s *collectingVideoSink) PushFrame(payload []byte, keyframe bool) { s.frames++ }

func TestNewSourceBuildsPeerConnection(t *testing.T) {
	src, err := webrtcmedia.NewSource(noopLogger{}, &collectingAudioSink{}, &collectingVideoSink{}, nil)
	require.NoError(t, err)
	require.NotNil(t, src)
	require.NoError(t, src.Close())
}

func TestNewSinkBuildsSendonlyTransceiver(t *testing.T) {
	var gotOffer string
	sink, err := webrtcmedia.NewSink(noopLogger{}, func(sdp string) { gotOffer = sdp }, nil)
	require.NoError(t, err)
	defer sink.Close()

	offer, err := sink.Negotiate()
	require.NoError(t, err)
	require.NotEmpty(t, offer)
	require.Contains(t, offer, "sendonly")
	_ = gotOffer
}

func TestSourceReceiveOfferProducesAnswer(t *testing.T) {
	recv, err := webrtcmedia.NewSource(noopLogger{}, &collectingAudioSink{}, &collectingVideoSink{}, nil)
	require.NoError(t, err)
	defer recv.Close()

	send, err := webrtcmedia.NewSink(noopLogger{}, nil, nil)
	require.NoError(t, err)
	defer send.Close()

	offer, err := send.Negotiate()
	require.NoError(t, err)

	answer, err := recv.ReceiveOffer(offer)
	require.NoError(t, err)
	require.NotEmpty(t, answer)

	require.NoError(t, send.SetAnswer(answer))
}
