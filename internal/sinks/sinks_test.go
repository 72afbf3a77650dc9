package sinks_test

import (
	"bufio"
	"image"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/ids"
	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/sinks"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

type noopLogger struct{}

func (noopLogger) Debugw(string, ...any)        {}
func (noopLogger) Infow(string, ...any)         {}
func (noopLogger) Warnw(string, ...any)         {}
func (noopLogger) Errorw(string, ...any)        {}
func (l noopLogger) With(...any) commons.Logger { return l }

func TestAudioStreamWritesToConnectedClient(t *testing.T) {
	s, err := sinks.NewAudioStream(noopLogger{})
	require.NoError(t, err)
	defer s.Close()

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond) // let accept() register the conn

	s.Push(audiomixer.Frame{Samples: []int16{1, 2, 3, 4}})

	buf := make([]byte, 8)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
}

func TestVideoStreamWritesRawPixels(t *testing.T) {
	res := layout.Size{Width: 4, Height: 2}
	s, err := sinks.NewVideoStream(noopLogger{}, res)
	require.NoError(t, err)
	defer s.Close()

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	img := image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
	s.Push(videocompositor.CompositeFrame{Image: img})

	buf := make([]byte, len(img.Pix))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	require.NoError(t, err)
}

func TestFakeSinkCountsFrames(t *testing.T) {
	s := sinks.NewFakeSink()
	s.PushAudio(audiomixer.Frame{Samples: make([]int16, 4)})
	s.PushVideo(videocompositor.CompositeFrame{Image: image.NewRGBA(image.Rect(0, 0, 1, 1))})

	a, v := s.Counts()
	require.Equal(t, uint64(1), a)
	require.Equal(t, uint64(1), v)
	require.NoError(t, s.OnPlay())
	require.NoError(t, s.OnExit())
}

func TestBlinderSilencesAudioAndVideoWhenBlind(t *testing.T) {
	fake := sinks.NewFakeSink()
	b := sinks.NewBlinderSink(fake)

	b.Blind(true)
	b.PushAudio(audiomixer.Frame{Samples: []int16{1, 2, 3}})
	a, v := fake.Counts()
	require.Equal(t, uint64(1), a)
	require.Equal(t, uint64(0), v)

	b.PushVideo(videocompositor.CompositeFrame{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))})
	_, v = fake.Counts()
	require.Equal(t, uint64(1), v)

	require.NoError(t, b.OnPlay())
	require.NoError(t, b.OnExit())
}

func TestDisplaySinkStatusProtocol(t *testing.T) {
	d, err := sinks.NewDisplaySink(noopLogger{})
	require.NoError(t, err)
	defer d.Close()

	d.PushAudio(audiomixer.Frame{Samples: make([]int16, 960)})
	d.PushVideo(videocompositor.CompositeFrame{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))})

	conn, err := net.Dial("tcp", d.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("STATUS\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "audio=1 video=1\n", line)
}

func TestRTMPParametersSubstitutesRoom(t *testing.T) {
	p := sinks.RTMPParameters{LocationTemplate: "rtmp://live.example.com/$room"}
	require.Equal(t, "rtmp://live.example.com/room-42", p.Location("room-42"))
}

func TestDashSegmentTypeString(t *testing.T) {
	require.Equal(t, "auto", sinks.SegmentAuto.String())
	require.Equal(t, "mp4", sinks.SegmentMP4.String())
	require.Equal(t, "webm", sinks.SegmentWebM.String())
}

func TestPumpForwardsMixerAndCompositorFramesToSink(t *testing.T) {
	mixer := audiomixer.New()
	defer mixer.Close()
	comp := videocompositor.New(layout.NewGrid(), layout.Size{Width: 16, Height: 16})
	defer comp.Close()

	id := ids.NewStreamId(uuid.New(), ids.Camera)
	audioSrc, err := mixer.LinkStream(id)
	require.NoError(t, err)
	audioSrc.SetVolume(1.0)
	sink, ok := mixer.Sink(id)
	require.True(t, ok)
	sink.PushPCM([]int16{1, 2, 3, 4})

	fake := sinks.NewFakeSink()
	stop := make(chan struct{})
	defer close(stop)
	require.NoError(t, sinks.Pump("fake", mixer, comp, fake, stop))

	require.Eventually(t, func() bool {
		a, v := fake.Counts()
		return a > 0 && v > 0
	}, time.Second, 5*time.Millisecond)
}
