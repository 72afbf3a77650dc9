package audiomixer_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/ids"
)

func waitFrame(t *testing.T, ch <-chan audiomixer.Frame) audiomixer.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mixed frame")
		return audiomixer.Frame{}
	}
}

func TestLinkPushMixSumsInputs(t *testing.T) {
	m := audiomixer.New()
	defer m.Close()

	id1 := ids.NewStreamId(uuid.New(), ids.Camera)
	id2 := ids.NewStreamId(uuid.New(), ids.Camera)

	src1, err := m.LinkStream(id1)
	require.NoError(t, err)
	src2, err := m.LinkStream(id2)
	require.NoError(t, err)

	push1 := src1.(interface{ PushPCM(samples []int16) })
	push2 := src2.(interface{ PushPCM(samples []int16) })

	n := audiomixer.SampleRate / 50 * audiomixer.Channels
	frame1 := make([]int16, n)
	frame2 := make([]int16, n)
	for i := range frame1 {
		frame1[i] = 100
		frame2[i] = 200
	}

	sink := m.RegisterSink("test")
	push1.PushPCM(frame1)
	push2.PushPCM(frame2)

	f := waitFrame(t, sink)
	require.Len(t, f.Samples, n)
	require.EqualValues(t, 300, f.Samples[0])
}

func TestSetVolumeZeroMutesInput(t *testing.T) {
	m := audiomixer.New()
	defer m.Close()

	id := ids.NewStreamId(uuid.New(), ids.Camera)
	src, err := m.LinkStream(id)
	require.NoError(t, err)
	src.SetVolume(0)

	push := src.(interface{ PushPCM(samples []int16) })
	n := audiomixer.SampleRate / 50 * audiomixer.Channels
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = 1000
	}

	sink := m.RegisterSink("test")
	push.PushPCM(frame)

	f := waitFrame(t, sink)
	require.EqualValues(t, 0, f.Samples[0])
}

func TestUnlinkStreamStopsContribution(t *testing.T) {
	m := audiomixer.New()
	defer m.Close()

	id := ids.NewStreamId(uuid.New(), ids.Camera)
	src, err := m.LinkStream(id)
	require.NoError(t, err)

	push := src.(interface{ PushPCM(samples []int16) })
	n := audiomixer.SampleRate / 50 * audiomixer.Channels
	frame := make([]int16, n)
	frame[0] = 500

	m.UnlinkStream(id)

	sink := m.RegisterSink("test")
	push.PushPCM(frame) // unlinked: dropped silently, no panic

	f := waitFrame(t, sink)
	require.EqualValues(t, 0, f.Samples[0])
}

func TestUnregisterSinkClosesChannel(t *testing.T) {
	m := audiomixer.New()
	defer m.Close()

	sink := m.RegisterSink("test")
	m.UnregisterSink("test")

	_, open := <-sink
	require.False(t, open)
}
