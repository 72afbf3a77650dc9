package trackplayer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/trackplayer"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]int16
}

func (f *fakeSink) PushPCM(samples []int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]int16, len(samples))
	copy(cp, samples)
	f.frames = append(f.frames, cp)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSink) anyNonZero() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, frame := range f.frames {
		for _, s := range frame {
			if s != 0 {
				return true
			}
		}
	}
	return false
}

func (f *fakeSink) anyNonZeroFrom(start int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := start; i < len(f.frames); i++ {
		for _, s := range f.frames[i] {
			if s != 0 {
				return true
			}
		}
	}
	return false
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestPlayProducesNonSilentFrames(t *testing.T) {
	sink := &fakeSink{}
	p := trackplayer.New(sink)
	defer p.Close()

	p.Play(trackplayer.WelcomeConferenceId, nil)
	waitUntil(t, func() bool { return sink.anyNonZero() })
}

func TestPlayFinishesAndNotifiesThenGoesSilent(t *testing.T) {
	sink := &fakeSink{}
	p := trackplayer.New(sink)
	defer p.Close()

	done := make(chan struct{})
	p.Play(trackplayer.Unmuted, done) // 300ms clip

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("finished notifier never fired")
	}

	waitUntil(t, func() bool { return sink.count() > 0 })

	// The clip's last (possibly partial) frame may be pushed just after the
	// notifier fires; every frame after that one is silence.
	n := sink.count()
	waitUntil(t, func() bool { return sink.count() >= n+3 })
	require.False(t, sink.anyNonZeroFrom(n+1))
}

func TestReplacingTrackFiresInterruptedNotifier(t *testing.T) {
	sink := &fakeSink{}
	p := trackplayer.New(sink)
	defer p.Close()

	first := make(chan struct{})
	p.Play(trackplayer.WelcomeUsage, first) // 1200ms clip, won't finish naturally
	time.Sleep(50 * time.Millisecond)
	p.Play(trackplayer.Silence, nil)

	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("interrupted notifier never fired")
	}
}

func TestSilenceKeepsPushingZeroFrames(t *testing.T) {
	sink := &fakeSink{}
	p := trackplayer.New(sink)
	defer p.Close()

	waitUntil(t, func() bool { return sink.count() >= 3 })
	require.False(t, sink.anyNonZero())
}
