package sipmedia

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/zaf/g711"

	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/sdpneg"
)

// ErrRtpWatchdog fires when 10s elapse without RTP traffic on either leg.
var ErrRtpWatchdog = errors.New("sipmedia: rtp watchdog timeout")

const watchdogTimeout = 10 * time.Second

// EventKind distinguishes the two event types the bin posts to the
// orchestrator, matching spec §4.3/§4.14's "internally emits DTMF(digit)
// and RtpTimeout events via a channel".
type EventKind int

const (
	EventDtmf EventKind = iota
	EventRtpTimeout
)

type Event struct {
	Kind EventKind
	Dtmf DtmfEvent
}

// RawAudioSink receives decoded PCM frames from the receive path (wired to
// the audio mixer's per-stream input in the full pipeline).
type RawAudioSink interface {
	PushPCM(samples []int16)
}

// Bin is one SIP peer's RTP in/out leg: decode to raw audio, pay/depay,
// hold/unhold, destination update, DTMF depayload. Grounded on spec §4.3
// and the teacher's UDP/codec plumbing in sip/infra.
type Bin struct {
	log commons.Logger

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	mu          sync.Mutex
	remoteAddr  *net.UDPAddr
	remoteVer   int
	codec       sdpneg.Codec
	telephoneEventPT int
	holding     bool

	depay DtmfDepayloader
	sink  RawAudioSink

	events chan Event

	lastSendAt    atomic.Int64
	lastRecvAt    atomic.Int64
	sendSeq       uint16
	sendTimestamp uint32

	closeOnce sync.Once
	done      chan struct{}
}

// New starts a bin bound to rtpConn/rtcpConn (already bound by the port
// pool), targeting the negotiated answer's codec and telephone-event PT.
func New(log commons.Logger, rtpConn, rtcpConn *net.UDPConn, codec sdpneg.Codec, telephoneEventPT int, sink RawAudioSink) *Bin {
	b := &Bin{
		log:              log,
		rtpConn:          rtpConn,
		rtcpConn:         rtcpConn,
		remoteVer:        -1, // so offer o= sess-version 0 still applies on the first SetRemoteAddr call
		codec:            codec,
		telephoneEventPT: telephoneEventPT,
		sink:             sink,
		events:           make(chan Event, 32),
		done:             make(chan struct{}),
	}
	now := time.Now().UnixNano()
	b.lastSendAt.Store(now)
	b.lastRecvAt.Store(now)

	go b.receiveLoop()
	go b.watchdogLoop()
	return b
}

// Events exposes the DTMF/RtpTimeout channel.
func (b *Bin) Events() <-chan Event { return b.events }

// SetRemoteAddr updates the destination for the send path on a reINVITE,
// but only if remoteVersion advanced — spec §4.3's "destination update on
// reINVITE only if remote_version advanced". Address 0.0.0.0 redirects the
// send path to 127.0.0.1:9 (the SIP "hold via discard" trick), per §4.3.
func (b *Bin) SetRemoteAddr(host string, port int, remoteVersion int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remoteVersion <= b.remoteVer {
		return
	}
	b.remoteVer = remoteVersion
	if host == "0.0.0.0" {
		b.remoteAddr = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
		return
	}
	b.remoteAddr = &net.UDPAddr{IP: net.ParseIP(host), Port: port}
}

// SetHold toggles the send-path valve. When held, outgoing PCM is dropped
// rather than sent.
func (b *Bin) SetHold(hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holding = hold
}

func (b *Bin) IsHolding() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.holding
}

// SendPCM encodes and transmits one 20ms (or caller-sized) PCM frame over
// RTP to the current remote address, unless holding.
func (b *Bin) SendPCM(samples []int16) error {
	b.mu.Lock()
	holding := b.holding
	remote := b.remoteAddr
	codec := b.codec
	b.mu.Unlock()

	if holding || remote == nil {
		return nil
	}

	payload, err := encode(codec, samples)
	if err != nil {
		return err
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    uint8(codec.PayloadType),
			SequenceNumber: b.sendSeq,
			Timestamp:      b.sendTimestamp,
			SSRC:           0x4d425247, // "MBRG"
		},
		Payload: payload,
	}
	b.sendSeq++
	b.sendTimestamp += uint32(len(samples))

	buf, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := b.rtpConn.WriteToUDP(buf, remote); err != nil {
		return err
	}
	b.lastSendAt.Store(time.Now().UnixNano())
	return nil
}

func (b *Bin) receiveLoop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-b.done:
			return
		default:
		}
		b.rtpConn.SetReadDeadline(time.Now().Add(watchdogTimeout))
		n, _, err := b.rtpConn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue // watchdogLoop independently enforces the 10s bound
			}
			return
		}
		b.lastRecvAt.Store(time.Now().UnixNano())

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		b.mu.Lock()
		telPT := b.telephoneEventPT
		codec := b.codec
		b.mu.Unlock()

		switch int(pkt.PayloadType) {
		case telPT:
			if ev, ok := b.depay.Process(pkt.Timestamp, pkt.Payload); ok {
				b.postEvent(Event{Kind: EventDtmf, Dtmf: ev})
			}
		case codec.PayloadType:
			samples, err := decode(codec, pkt.Payload)
			if err == nil && b.sink != nil {
				b.sink.PushPCM(samples)
			}
		default:
			// unknown PT: route to a sink with an enormous clock-rate
			// equivalent, i.e. silently discard, matching §4.3's "deliberately
			// enormous clock-rate" jitter-buffer-discard policy.
		}
	}
}

func (b *Bin) watchdogLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			recvGap := time.Duration(now - b.lastRecvAt.Load())
			sendGap := time.Duration(now - b.lastSendAt.Load())
			if recvGap >= watchdogTimeout || sendGap >= watchdogTimeout {
				b.postEvent(Event{Kind: EventRtpTimeout})
				return
			}
		}
	}
}

func (b *Bin) postEvent(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.log.Warnw("sipmedia: event channel full, dropping", "kind", ev.Kind)
	}
}

// Close stops the bin's goroutines. The underlying sockets are owned and
// released by the port pool, not closed here.
func (b *Bin) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		close(b.events)
	})
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func encode(codec sdpneg.Codec, samples []int16) ([]byte, error) {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	switch codec.Name {
	case "PCMU":
		return g711.EncodeUlaw(pcm), nil
	case "PCMA":
		return g711.EncodeAlaw(pcm), nil
	default:
		return nil, fmt.Errorf("sipmedia: unsupported send codec %q", codec.Name)
	}
}

func decode(codec sdpneg.Codec, payload []byte) ([]int16, error) {
	var pcm []byte
	switch codec.Name {
	case "PCMU":
		pcm = g711.DecodeUlaw(payload)
	case "PCMA":
		pcm = g711.DecodeAlaw(payload)
	default:
		return nil, fmt.Errorf("sipmedia: unsupported receive codec %q", codec.Name)
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}
