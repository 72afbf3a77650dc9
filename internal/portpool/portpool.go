// Package portpool hands out disjoint (rtp, rtcp) UDP socket pairs from a
// configured port range, reclaiming them on release. Grounded on
// original_source/obelisk-main/src/media/port_pool.rs — same pair-pool
// shape (pseudo-random pick over the free pair space, local failed-pair
// tracking on bind failure) — adapted to a single-process, mutex-guarded
// Go struct instead of the teacher's Redis-distributed
// sip/infra/rtp_port_allocator.go, since the spec describes a process-local
// pool guarded by "a short mutex" (§4.1, §5), not a cross-instance one.
package portpool

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
)

// ErrExhausted is returned when no pair in the configured range is free.
var ErrExhausted = errors.New("portpool: exhausted")

// SocketPair is one reserved (rtp, rtcp) UDP socket pair.
type SocketPair struct {
	RtpConn  *net.UDPConn
	RtpPort  int
	RtcpConn *net.UDPConn
	RtcpPort int

	pair int
}

// Pool manages a range of even/odd port pairs for SIP RTP/RTCP sockets.
type Pool struct {
	host      string
	portStart int
	pairCount int

	mu         sync.Mutex
	usedPairs  map[int]struct{}
	deadPairs  map[int]struct{}
	rng        *rand.Rand
}

// New builds a pool over [start, end]; pairCount = (end-start+1)/2.
func New(host string, start, end int) (*Pool, error) {
	if end <= start {
		return nil, fmt.Errorf("portpool: invalid range [%d, %d]", start, end)
	}
	pairs := (end - start + 1) / 2
	if pairs <= 0 {
		return nil, fmt.Errorf("portpool: range [%d, %d] yields no pairs", start, end)
	}
	return &Pool{
		host:      host,
		portStart: start,
		pairCount: pairs,
		usedPairs: make(map[int]struct{}),
		deadPairs: make(map[int]struct{}),
		rng:       rand.New(rand.NewSource(randSeed())),
	}, nil
}

// Acquire binds and returns a fresh RTP/RTCP socket pair, or ErrExhausted if
// every pair is either in use or known locally dead from a prior bind
// failure. Bind failures during one Acquire call mark their pair dead for
// the pool's lifetime, mirroring the Rust original's failed_pairs handling:
// a pair that failed to bind once is never retried, avoiding contention
// under heavy load.
func (p *Pool) Acquire() (*SocketPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		pair, ok := p.pickFreePair()
		if !ok {
			return nil, ErrExhausted
		}

		rtpPort := p.portStart + pair*2
		rtcpPort := rtpPort + 1

		rtpConn, err := p.bind(rtpPort)
		if err != nil {
			p.deadPairs[pair] = struct{}{}
			continue
		}
		rtcpConn, err := p.bind(rtcpPort)
		if err != nil {
			rtpConn.Close()
			p.deadPairs[pair] = struct{}{}
			continue
		}

		p.usedPairs[pair] = struct{}{}
		return &SocketPair{
			RtpConn:  rtpConn,
			RtpPort:  rtpPort,
			RtcpConn: rtcpConn,
			RtcpPort: rtcpPort,
			pair:     pair,
		}, nil
	}
}

// Release closes both sockets of sp and returns its pair to the pool. A nil
// sp is ignored.
func (p *Pool) Release(sp *SocketPair) {
	if sp == nil {
		return
	}
	sp.RtpConn.Close()
	sp.RtcpConn.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.usedPairs, sp.pair)
}

func (p *Pool) pickFreePair() (int, bool) {
	var free []int
	for i := 0; i < p.pairCount; i++ {
		if _, used := p.usedPairs[i]; used {
			continue
		}
		if _, dead := p.deadPairs[i]; dead {
			continue
		}
		free = append(free, i)
	}
	if len(free) == 0 {
		return 0, false
	}
	return free[p.rng.Intn(len(free))], true
}

func (p *Pool) bind(port int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(p.host), Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
