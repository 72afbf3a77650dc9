package sinks

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

// AudioStream serves one continuous S16LE/48kHz/stereo PCM byte stream to
// the most recently connected client (a new connection replaces and closes
// the previous one) — ffmpeg's `-f s16le -i tcp://...` raw
// input mode reads exactly this, no container framing needed. Mirrors the
// TCP-listener half of matroska.rs with the muxing step removed (see
// sinks.go's package doc).
type AudioStream struct {
	log commons.Logger
	ln  net.Listener

	mu   sync.Mutex
	conn net.Conn
}

func NewAudioStream(log commons.Logger) (*AudioStream, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sinks: listen audio stream: %w", err)
	}
	s := &AudioStream{log: log, ln: ln}
	go s.accept()
	return s, nil
}

// Addr is the tcp://host:port ffmpeg should be pointed at.
func (s *AudioStream) Addr() string { return s.ln.Addr().String() }

func (s *AudioStream) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.conn = conn
		s.mu.Unlock()
	}
}

// Push writes one frame's samples as little-endian S16LE, silently dropping
// the frame if nothing is connected yet; a late-connecting ffmpeg is
// expected to just pick up the stream mid-flight like a live capture.
func (s *AudioStream) Push(frame audiomixer.Frame) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	buf := make([]byte, len(frame.Samples)*2)
	for i, v := range frame.Samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	if _, err := conn.Write(buf); err != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		s.log.Debugw("sinks: audio stream write failed", "error", err)
	}
}

func (s *AudioStream) Close() error { return s.ln.Close() }

// VideoStream is AudioStream's video counterpart: raw RGBA rows, one frame
// per tick, consumed by ffmpeg's `-f rawvideo -pix_fmt rgba -s WxH`.
type VideoStream struct {
	log commons.Logger
	ln  net.Listener
	res layout.Size

	mu   sync.Mutex
	conn net.Conn
}

func NewVideoStream(log commons.Logger, res layout.Size) (*VideoStream, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sinks: listen video stream: %w", err)
	}
	s := &VideoStream{log: log, ln: ln, res: res}
	go s.accept()
	return s, nil
}

func (s *VideoStream) Addr() string { return s.ln.Addr().String() }

func (s *VideoStream) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.conn = conn
		s.mu.Unlock()
	}
}

func (s *VideoStream) Push(frame videocompositor.CompositeFrame) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(frame.Image.Pix); err != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		s.log.Debugw("sinks: video stream write failed", "error", err)
	}
}

func (s *VideoStream) Close() error { return s.ln.Close() }
