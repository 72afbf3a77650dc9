// Package sipsession implements the gateway's SIP user agent (C13):
// registration with digest auth, NAT keep-alive, STUN-based public address
// discovery, and inbound INVITE/reINVITE handling via a SIP media bin whose
// DTMF events it forwards to the call's owner (the DTMF-driven dial-in
// state machine itself lives in internal/orchestrator). Grounded on the teacher's
// flowpbx-flowpbx/internal/sip package (sipgo server/client wiring,
// trunk registration, and in-dialog BYE construction), adapted from a
// multi-trunk PBX to a single registrar/UA pair per spec §4.13.
package sipsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/config"
	"github.com/talkbridge/mediabridge/internal/controller"
	"github.com/talkbridge/mediabridge/internal/portpool"
)

const registerRetryLimit = 10 // §5's "bounded retry (at most 10)"

// UA is the gateway's single SIP user agent: one registration against
// cfg.Registrar (if configured) and one listening transport for inbound
// INVITEs.
type UA struct {
	log  commons.Logger
	cfg  config.SIPConfig
	pool *portpool.Pool
	ctrl *controller.Client

	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	publicHost string

	onIncomingCall func(*Call)

	mu       sync.Mutex
	calls    map[string]*Call // keyed by Call-ID
	regTag   string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds the SIP stack but does not yet listen or register; call Start
// for that. onIncomingCall is invoked on a goroutine of its own for every
// inbound INVITE this UA accepts.
func New(log commons.Logger, cfg config.SIPConfig, pool *portpool.Pool, ctrl *controller.Client, onIncomingCall func(*Call)) (*UA, error) {
	slogger := slog.Default().With("component", "sip")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("mediabridge-gateway"),
		sipgo.WithUserAgentHostname(cfg.ListenHost),
	)
	if err != nil {
		return nil, fmt.Errorf("sipsession: creating user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(slogger))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("sipsession: creating server: %w", err)
	}

	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(cfg.ListenHost),
		sipgo.WithClientLogger(slogger),
	)
	if err != nil {
		srv.Close()
		ua.Close()
		return nil, fmt.Errorf("sipsession: creating client: %w", err)
	}

	u := &UA{
		log:            log,
		cfg:            cfg,
		pool:           pool,
		ctrl:           ctrl,
		ua:             ua,
		srv:            srv,
		client:         client,
		publicHost:     cfg.ListenHost,
		onIncomingCall: onIncomingCall,
		calls:          make(map[string]*Call),
		regTag:         sip.GenerateTagN(8),
	}

	srv.OnInvite(u.handleInvite)
	srv.OnAck(u.handleAck)
	srv.OnBye(u.handleBye)

	return u, nil
}

// Start discovers the public address (STUN, or the bound host), begins
// listening for inbound SIP, and — if a registrar is configured — starts
// the registration and NAT keep-alive loops. It returns once the listener
// is up; the loops continue on background goroutines until Close.
func (u *UA) Start(ctx context.Context) error {
	if u.cfg.StunServer != "" {
		if host, err := discoverPublicHost(ctx, u.cfg.StunServer); err != nil {
			u.log.Warnw("sipsession: stun discovery failed, falling back to bound host",
				"stun_server", u.cfg.StunServer, "error", err)
		} else {
			u.publicHost = host
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel

	listenAddr := net.JoinHostPort(u.cfg.ListenHost, strconv.Itoa(u.cfg.ListenPort))
	ready := make(chan error, 1)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		ready <- nil
		if err := u.srv.ListenAndServe(loopCtx, "udp", listenAddr); err != nil && loopCtx.Err() == nil {
			u.log.Errorw("sipsession: listener stopped", "error", err)
		}
	}()
	<-ready
	// ListenAndServe binds asynchronously; give it a moment before the
	// first REGISTER so the Contact header's port reflects a live socket.
	time.Sleep(50 * time.Millisecond)

	if u.cfg.Registrar != "" {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			u.registerLoop(loopCtx)
		}()
	}

	u.log.Infow("sipsession: listening", "addr", listenAddr, "public_host", u.publicHost)
	return nil
}

// Close broadcasts shutdown to active calls (spec §4.13's "allow up to 10s
// for them to terminate"), sends a final de-registration, and tears down
// the transport.
func (u *UA) Close() {
	if u.cancel != nil {
		u.cancel()
	}

	u.mu.Lock()
	calls := make([]*Call, 0, len(u.calls))
	for _, c := range u.calls {
		calls = append(calls, c)
	}
	u.mu.Unlock()

	grace := make(chan struct{})
	go func() {
		for _, c := range calls {
			c.hangup(u.client)
		}
		close(grace)
	}()
	select {
	case <-grace:
	case <-time.After(10 * time.Second):
		u.log.Warnw("sipsession: shutdown grace period elapsed with calls still active", "count", len(calls))
	}

	if u.cfg.Registrar != "" {
		deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := u.sendRegister(deregisterCtx, 0); err != nil {
			u.log.Warnw("sipsession: final de-registration failed", "error", err)
		}
		cancel()
	}

	u.wg.Wait()
	u.client.Close()
	u.srv.Close()
	u.ua.Close()
}

func (u *UA) removeCall(callID string) {
	u.mu.Lock()
	delete(u.calls, callID)
	u.mu.Unlock()
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
