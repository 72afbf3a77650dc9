package sinks

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/soheilhy/cmux"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

const statusLine = "STATUS\r\n"

// DisplaySink is system.rs/test.rs's debug sink: it shares one TCP port
// between a tiny status protocol and a line-oriented frame feed for
// whatever test harness connects, using cmux to sniff which one a given
// connection is. This is the one sink in the family where a real client
// handshake is expected, which is what makes cmux's connection-sniffing
// the right tool here — unlike the ffmpeg-facing raw streams in
// rawstream.go, which must stay readable by a plain, handshake-free
// ffmpeg `-i tcp://...` client.
type DisplaySink struct {
	log commons.Logger
	ln  net.Listener
	mux cmux.CMux

	mu        sync.Mutex
	audioN    uint64
	videoN    uint64
	consumers map[net.Conn]struct{}
}

func NewDisplaySink(log commons.Logger) (*DisplaySink, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sinks: listen display: %w", err)
	}
	m := cmux.New(ln)
	statusLn := m.Match(cmux.PrefixMatcher(statusLine))
	dataLn := m.Match(cmux.Any())

	s := &DisplaySink{log: log, ln: ln, mux: m, consumers: make(map[net.Conn]struct{})}
	go s.acceptStatus(statusLn)
	go s.acceptData(dataLn)
	go func() {
		if err := m.Serve(); err != nil {
			log.Debugw("sinks: display cmux stopped", "error", err)
		}
	}()
	return s, nil
}

// Addr is the status+data multiplexed port.
func (s *DisplaySink) Addr() string { return s.ln.Addr().String() }

func (s *DisplaySink) acceptStatus(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go s.handleStatus(conn)
	}
}

func (s *DisplaySink) handleStatus(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	if _, err := r.ReadString('\n'); err != nil {
		return
	}
	s.mu.Lock()
	a, v := s.audioN, s.videoN
	s.mu.Unlock()
	fmt.Fprintf(conn, "audio=%d video=%d\n", a, v)
}

func (s *DisplaySink) acceptData(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.consumers[conn] = struct{}{}
		s.mu.Unlock()
	}
}

func (s *DisplaySink) PushAudio(frame audiomixer.Frame) {
	s.mu.Lock()
	s.audioN++
	n := s.audioN
	conns := s.snapshotConnsLocked()
	s.mu.Unlock()
	s.broadcastLine(fmt.Sprintf("A %d %d\n", n, len(frame.Samples)), conns)
}

func (s *DisplaySink) PushVideo(frame videocompositor.CompositeFrame) {
	s.mu.Lock()
	s.videoN++
	n := s.videoN
	conns := s.snapshotConnsLocked()
	s.mu.Unlock()
	b := frame.Image.Bounds()
	s.broadcastLine(fmt.Sprintf("V %d %dx%d\n", n, b.Dx(), b.Dy()), conns)
}

func (s *DisplaySink) snapshotConnsLocked() []net.Conn {
	out := make([]net.Conn, 0, len(s.consumers))
	for c := range s.consumers {
		out = append(out, c)
	}
	return out
}

func (s *DisplaySink) broadcastLine(line string, conns []net.Conn) {
	for _, c := range conns {
		if _, err := c.Write([]byte(line)); err != nil {
			s.mu.Lock()
			delete(s.consumers, c)
			s.mu.Unlock()
			c.Close()
		}
	}
}

func (s *DisplaySink) OnPlay() error { return nil }
func (s *DisplaySink) OnExit() error { return nil }
func (s *DisplaySink) Close() error  { return s.ln.Close() }

// FakeSink discards every frame, counting them only; the default C10
// test sink when no display is available, grounded on test.rs's FakeSink.
type FakeSink struct {
	mu     sync.Mutex
	audioN uint64
	videoN uint64
}

func NewFakeSink() *FakeSink { return &FakeSink{} }

func (s *FakeSink) PushAudio(audiomixer.Frame) {
	s.mu.Lock()
	s.audioN++
	s.mu.Unlock()
}

func (s *FakeSink) PushVideo(videocompositor.CompositeFrame) {
	s.mu.Lock()
	s.videoN++
	s.mu.Unlock()
}

func (s *FakeSink) Counts() (audio, video uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioN, s.videoN
}

func (s *FakeSink) OnPlay() error { return nil }
func (s *FakeSink) OnExit() error { return nil }
func (s *FakeSink) Close() error  { return nil }

// NewTestSink picks DisplaySink or FakeSink depending on whether USE_DISPLAY
// is set in the environment, mirroring test.rs's own env::var check.
func NewTestSink(log commons.Logger) (Sink, error) {
	if _, ok := os.LookupEnv("USE_DISPLAY"); ok {
		log.Infow("sinks: USE_DISPLAY set, using display sink")
		return NewDisplaySink(log)
	}
	log.Infow("sinks: using fake sink")
	return NewFakeSink(), nil
}
