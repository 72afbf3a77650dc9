package sdpneg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/sdpneg"
)

const offerSDP = `v=0
o=- 1 1 IN IP4 203.0.113.5
s=test
c=IN IP4 203.0.113.5
t=0 0
m=audio 10000 RTP/AVP 0 8 101
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
a=rtpmap:101 telephone-event/8000
a=sendrecv
`

func TestNegotiatePicksHighestPriorityCodec(t *testing.T) {
	offer, err := sdpneg.ParseOffer(offerSDP)
	require.NoError(t, err)

	answer, err := sdpneg.Negotiate(offer, sdpneg.Session{ID: "0", Version: 0}, "198.51.100.1", 20000)
	require.NoError(t, err)
	require.Equal(t, "PCMA", answer.Codec.Name) // G722 absent from offer, PCMA next in priority
	require.Equal(t, 101, answer.TelephoneEventPT)
	require.Equal(t, 1, answer.Session.Version)
}

func TestNegotiateRejectsMissingTelephoneEvent(t *testing.T) {
	offer, err := sdpneg.ParseOffer(`v=0
c=IN IP4 203.0.113.5
m=audio 10000 RTP/AVP 0
a=rtpmap:0 PCMU/8000
a=sendrecv
`)
	require.NoError(t, err)
	_, err = sdpneg.Negotiate(offer, sdpneg.Session{ID: "0"}, "198.51.100.1", 20000)
	require.ErrorIs(t, err, sdpneg.ErrInvalidOffer)
}

func TestNegotiateRejectsMultipleMediaScopes(t *testing.T) {
	offer, err := sdpneg.ParseOffer(offerSDP + "m=video 10002 RTP/AVP 96\r\n")
	require.NoError(t, err)
	_, err = sdpneg.Negotiate(offer, sdpneg.Session{ID: "0"}, "198.51.100.1", 20000)
	require.ErrorIs(t, err, sdpneg.ErrInvalidOffer)
}

func TestDirectionCollapsesOnUnspecifiedAddress(t *testing.T) {
	unspecified := `v=0
c=IN IP4 0.0.0.0
m=audio 10000 RTP/AVP 0 101
a=rtpmap:0 PCMU/8000
a=rtpmap:101 telephone-event/8000
a=sendrecv
`
	offer, err := sdpneg.ParseOffer(unspecified)
	require.NoError(t, err)
	answer, err := sdpneg.Negotiate(offer, sdpneg.Session{ID: "0"}, "198.51.100.1", 20000)
	require.NoError(t, err)
	require.Equal(t, sdpneg.RecvOnly, answer.Direction)
}

func TestDirectionFlipsSendonlyRecvonly(t *testing.T) {
	offer, err := sdpneg.ParseOffer(offerSDP)
	require.NoError(t, err)
	offer.Direction = sdpneg.RecvOnly
	answer, err := sdpneg.Negotiate(offer, sdpneg.Session{ID: "0"}, "198.51.100.1", 20000)
	require.NoError(t, err)
	require.Equal(t, sdpneg.SendOnly, answer.Direction)
}

func TestRenderIncludesNegotiatedFields(t *testing.T) {
	answer := sdpneg.Answer{
		Session:          sdpneg.Session{ID: "42", Version: 3},
		Codec:            sdpneg.Codec{Name: "PCMA", PayloadType: 8, ClockRate: 8000},
		TelephoneEventPT: 101,
		LocalIP:          "198.51.100.1",
		LocalPort:        20000,
		Direction:        sdpneg.SendRecv,
	}
	text := sdpneg.Render(answer)
	require.Contains(t, text, "m=audio 20000 RTP/AVP 8 101")
	require.Contains(t, text, "a=rtpmap:8 PCMA/8000")
	require.Contains(t, text, "a=sendrecv")
}
