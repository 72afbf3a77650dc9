package sipmedia_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/sdpneg"
	"github.com/talkbridge/mediabridge/internal/sipmedia"
)

type testLogger struct{}

func (testLogger) Debugw(string, ...any) {}
func (testLogger) Infow(string, ...any)  {}
func (testLogger) Warnw(string, ...any)  {}
func (testLogger) Errorw(string, ...any) {}
func (l testLogger) With(...any) commons.Logger { return l }

type collectingSink struct{ frames [][]int16 }

func (s *collectingSink) PushPCM(samples []int16) { s.frames = append(s.frames, samples) }

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	return conn
}

func TestHoldDropsOutgoingPackets(t *testing.T) {
	rtpConn := listenUDP(t)
	rtcpConn := listenUDP(t)
	defer rtpConn.Close()
	defer rtcpConn.Close()

	codec := sdpneg.Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000}
	bin := sipmedia.New(testLogger{}, rtpConn, rtcpConn, codec, 101, nil)
	defer bin.Close()

	bin.SetRemoteAddr("127.0.0.1", 9999, 1)
	require.False(t, bin.IsHolding())

	bin.SetHold(true)
	require.True(t, bin.IsHolding())
	require.NoError(t, bin.SendPCM(make([]int16, 160)))
}

func TestDestinationUpdateIgnoresStaleVersion(t *testing.T) {
	rtpConn := listenUDP(t)
	rtcpConn := listenUDP(t)
	defer rtpConn.Close()
	defer rtcpConn.Close()

	codec := sdpneg.Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000}
	bin := sipmedia.New(testLogger{}, rtpConn, rtcpConn, codec, 101, nil)
	defer bin.Close()

	bin.SetRemoteAddr("203.0.113.9", 20000, 5)
	bin.SetRemoteAddr("203.0.113.10", 20000, 3) // stale, must be ignored
	bin.SetRemoteAddr("203.0.113.10", 20000, 5) // not an advance, ignored
}

func TestZeroAddressRedirectsToDiscard(t *testing.T) {
	rtpConn := listenUDP(t)
	rtcpConn := listenUDP(t)
	defer rtpConn.Close()
	defer rtcpConn.Close()

	codec := sdpneg.Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000}
	bin := sipmedia.New(testLogger{}, rtpConn, rtcpConn, codec, 101, nil)
	defer bin.Close()

	bin.SetRemoteAddr("0.0.0.0", 20000, 1)
	require.NoError(t, bin.SendPCM(make([]int16, 160)))
}

func TestSendRoundTripDecodesIntoSink(t *testing.T) {
	aRtp, aRtcp := listenUDP(t), listenUDP(t)
	bRtp, bRtcp := listenUDP(t), listenUDP(t)
	defer aRtp.Close()
	defer aRtcp.Close()
	defer bRtp.Close()
	defer bRtcp.Close()

	codec := sdpneg.Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000}
	sink := &collectingSink{}

	sender := sipmedia.New(testLogger{}, aRtp, aRtcp, codec, 101, nil)
	defer sender.Close()
	receiver := sipmedia.New(testLogger{}, bRtp, bRtcp, codec, 101, sink)
	defer receiver.Close()

	sender.SetRemoteAddr(bRtp.LocalAddr().(*net.UDPAddr).IP.String(), bRtp.LocalAddr().(*net.UDPAddr).Port, 1)

	frame := make([]int16, 160)
	for i := range frame {
		frame[i] = int16(i)
	}
	require.NoError(t, sender.SendPCM(frame))

	require.Eventually(t, func() bool {
		return len(sink.frames) > 0
	}, time.Second, 10*time.Millisecond)
}
