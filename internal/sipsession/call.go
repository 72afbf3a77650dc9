package sipsession

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/portpool"
	"github.com/talkbridge/mediabridge/internal/sdpneg"
	"github.com/talkbridge/mediabridge/internal/sipmedia"
)

// CallEventKind distinguishes the three things a Call surfaces to its owner
// (the orchestrator, C14): a DTMF digit, the RTP watchdog firing, or the
// call terminating.
// Grounded on spec §4.3/§4.13's "internally emits DTMF(digit) and
// RtpTimeout events".
type CallEventKind int

const (
	CallEventDtmf CallEventKind = iota
	CallEventMediaTimeout
	CallEventTerminated
)

type CallEvent struct {
	Kind CallEventKind
	Dtmf sipmedia.DtmfEvent
}

// audioProxy lets a Call's sipmedia.Bin be constructed before the
// orchestrator has decided what the receive path feeds into (a webrtcmedia
// sink, the audio mixer, ...); SetSink swaps the live target without
// reaching back into sipmedia.Bin's internals.
type audioProxy struct {
	mu   sync.Mutex
	sink sipmedia.RawAudioSink
}

func (p *audioProxy) PushPCM(samples []int16) {
	p.mu.Lock()
	s := p.sink
	p.mu.Unlock()
	if s != nil {
		s.PushPCM(samples)
	}
}

func (p *audioProxy) setSink(s sipmedia.RawAudioSink) {
	p.mu.Lock()
	p.sink = s
	p.mu.Unlock()
}

// Call is one accepted inbound SIP dialog: its RTP media bin (C3) plus
// enough dialog state to build an in-dialog BYE on shutdown or on the
// orchestrator's decision to hang up (e.g. after the RTP watchdog fires).
type Call struct {
	log commons.Logger
	ua  *UA

	id        string
	inviteReq *sip.Request

	sp  *portpool.SocketPair
	bin *sipmedia.Bin
	aux *audioProxy

	mu      sync.Mutex
	session sdpneg.Session

	events    chan CallEvent
	closed    atomic.Bool
	closeOnce sync.Once
}

// Id returns the dialog's Call-ID, useful for logging/correlation.
func (c *Call) Id() string { return c.id }

// SetAudioSink rebinds the bin's receive-path destination — used once the
// orchestrator has wired this call's leg into the rest of the pipeline
// (e.g. a webrtcmedia.Sink encoding into the gateway's WebRTC publish).
func (c *Call) SetAudioSink(sink sipmedia.RawAudioSink) {
	c.aux.setSink(sink)
}

// SendPCM forwards one outbound PCM frame to the bin's RTP send path.
func (c *Call) SendPCM(samples []int16) error {
	return c.bin.SendPCM(samples)
}

// SetHold toggles the SIP-level hold valve (§4.3 hold/unhold).
func (c *Call) SetHold(hold bool) {
	c.bin.SetHold(hold)
}

// Events exposes DTMF and media-timeout notifications for this call.
func (c *Call) Events() <-chan CallEvent { return c.events }

// Hangup sends an in-dialog BYE and tears down local resources — the
// orchestrator's way of ending a call it decided to end (e.g. the
// conference's session_ended), as opposed to the remote hanging up first.
func (c *Call) Hangup() {
	c.hangup(c.ua.client)
}

// newCall wires a fresh sipmedia.Bin on top of an acquired port pair and
// starts the event-forwarding goroutine; it does not talk to the network
// itself (the caller sends the SIP response once this returns the answer).
func newCall(log commons.Logger, ua *UA, id string, inviteReq *sip.Request, sp *portpool.SocketPair, answer *sdpneg.Answer) *Call {
	aux := &audioProxy{}
	bin := sipmedia.New(log, sp.RtpConn, sp.RtcpConn, answer.Codec, answer.TelephoneEventPT, aux)

	c := &Call{
		log:       log,
		ua:        ua,
		id:        id,
		inviteReq: inviteReq,
		sp:        sp,
		bin:       bin,
		aux:       aux,
		session:   answer.Session,
		events:    make(chan CallEvent, 16),
	}
	go c.forwardBinEvents()
	return c
}

func (c *Call) forwardBinEvents() {
	for ev := range c.bin.Events() {
		switch ev.Kind {
		case sipmedia.EventDtmf:
			c.emit(CallEvent{Kind: CallEventDtmf, Dtmf: ev.Dtmf})
		case sipmedia.EventRtpTimeout:
			c.emit(CallEvent{Kind: CallEventMediaTimeout})
		}
	}
}

func (c *Call) emit(ev CallEvent) {
	if c.closed.Load() {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warnw("sipsession: call event channel full, dropping", "call_id", c.id, "kind", ev.Kind)
	}
}

// applyReinvite negotiates a new answer for an in-dialog re-INVITE and
// updates the bin's remote destination — §4.3/§4.13's reINVITE handling.
func (c *Call) applyReinvite(offer sdpneg.Offer) (*sdpneg.Answer, error) {
	c.mu.Lock()
	localSession := c.session
	c.mu.Unlock()

	answer, err := sdpneg.Negotiate(offer, localSession, c.ua.publicHost, c.sp.RtpPort)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = answer.Session
	c.mu.Unlock()

	c.bin.SetRemoteAddr(offer.ConnectionIP, offer.Port, offer.OriginVersion)
	return answer, nil
}

// terminate tears down local resources once (idempotent): the bin, the
// port pair, and the event channel. It does not itself send BYE — hangup
// does that against a live dialog; terminate also runs when we receive the
// remote's BYE.
func (c *Call) terminate() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.bin.Close()
		c.ua.pool.Release(c.sp)
		c.emit(CallEvent{Kind: CallEventTerminated})
		close(c.events)
	})
}

// hangup sends an in-dialog BYE reversing From/To relative to the original
// INVITE (we are the UAS, so our reply's To became the dialog's local
// party) and tears down local resources, per §4.13's graceful-shutdown
// "allow up to 10s for them to terminate calls". Grounded on the teacher's
// buildReverseDialogBYE (flowpbx-flowpbx/internal/sip/server.go).
func (c *Call) hangup(client *sipgo.Client) {
	if c.closed.Load() {
		return
	}
	bye := buildReverseDialogBYE(c.inviteReq)
	if tx, err := client.TransactionRequest(context.Background(), bye); err == nil {
		go func() {
			select {
			case <-tx.Responses():
			case <-tx.Done():
			}
			tx.Terminate()
		}()
	} else {
		c.log.Warnw("sipsession: sending bye failed", "call_id", c.id, "error", err)
	}
	c.terminate()
}

func buildReverseDialogBYE(inviteReq *sip.Request) *sip.Request {
	recipient := inviteReq.Recipient
	if contact := inviteReq.Contact(); contact != nil {
		recipient = contact.Address
	}

	bye := sip.NewRequest(sip.BYE, *recipient.Clone())
	bye.SipVersion = inviteReq.SipVersion

	if h := inviteReq.To(); h != nil {
		from := h.AsFrom()
		bye.AppendHeader(&from)
	}
	if h := inviteReq.From(); h != nil {
		to := h.AsTo()
		bye.AppendHeader(&to)
	}
	if h := inviteReq.CallID(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}

	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 2, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)
	bye.SetTransport(inviteReq.Transport())
	bye.SetSource(inviteReq.Source())
	return bye
}

// --- INVITE/ACK/BYE server callbacks ---

func contentTypeIsSDP(req *sip.Request) bool {
	ct := req.GetHeader("Content-Type")
	return ct != nil && ct.Value() == "application/sdp"
}

func respond(log commons.Logger, tx sip.ServerTransaction, req *sip.Request, code sip.StatusCode, reason string, body []byte) {
	res := sip.NewResponseFromRequest(req, code, reason, body)
	if body != nil {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	if err := tx.Respond(res); err != nil {
		log.Warnw("sipsession: responding failed", "code", code, "error", err)
	}
}

// handleInvite implements §4.13's "Incoming INVITE" and "ReINVITE" steps:
// 100 Trying, reject non-SDP bodies, build/update the SIP media bin,
// answer with 200 OK, 500 on failure.
func (u *UA) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}

	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		u.log.Warnw("sipsession: sending 100 trying failed", "call_id", callID, "error", err)
		return
	}

	u.mu.Lock()
	call, isReinvite := u.calls[callID]
	u.mu.Unlock()

	if isReinvite {
		u.handleReinvite(req, tx, call)
		return
	}

	if !contentTypeIsSDP(req) {
		respond(u.log, tx, req, 488, "Not Acceptable Here", nil)
		return
	}

	offer, err := sdpneg.ParseOffer(string(req.Body()))
	if err != nil {
		u.log.Warnw("sipsession: parsing invite offer failed", "call_id", callID, "error", err)
		respond(u.log, tx, req, 500, "Invalid SDP", nil)
		return
	}

	sp, err := u.pool.Acquire()
	if err != nil {
		u.log.Errorw("sipsession: port pool exhausted", "call_id", callID, "error", err)
		respond(u.log, tx, req, 500, "No Media Resources", nil)
		return
	}

	localSession := sdpneg.Session{ID: randomHex(8), Version: 0}
	answer, err := sdpneg.Negotiate(offer, localSession, u.publicHost, sp.RtpPort)
	if err != nil {
		u.pool.Release(sp)
		u.log.Warnw("sipsession: negotiating sdp failed", "call_id", callID, "error", err)
		respond(u.log, tx, req, 500, "Negotiation Failed", nil)
		return
	}

	call := newCall(u.log, u, callID, req, sp, answer)
	call.bin.SetRemoteAddr(offer.ConnectionIP, offer.Port, offer.OriginVersion)

	u.mu.Lock()
	u.calls[callID] = call
	u.mu.Unlock()

	respond(u.log, tx, req, 200, "OK", []byte(sdpneg.Render(*answer)))

	if u.onIncomingCall != nil {
		go u.onIncomingCall(call)
	}
}

// handleReinvite implements §4.13's "delegate to SipBin::update; 406 for
// non-SDP bodies".
func (u *UA) handleReinvite(req *sip.Request, tx sip.ServerTransaction, call *Call) {
	if !contentTypeIsSDP(req) {
		respond(u.log, tx, req, 406, "Not Acceptable", nil)
		return
	}

	offer, err := sdpneg.ParseOffer(string(req.Body()))
	if err != nil {
		respond(u.log, tx, req, 500, "Invalid SDP", nil)
		return
	}

	answer, err := call.applyReinvite(offer)
	if err != nil {
		respond(u.log, tx, req, 500, "Negotiation Failed", nil)
		return
	}

	respond(u.log, tx, req, 200, "OK", []byte(sdpneg.Render(*answer)))
}

func (u *UA) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	// ACK confirms an already-negotiated dialog; nothing further to do —
	// the media bin is already live from the 200 OK response.
}

func (u *UA) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}

	u.mu.Lock()
	call, ok := u.calls[callID]
	delete(u.calls, callID)
	u.mu.Unlock()

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		u.log.Warnw("sipsession: responding to bye failed", "call_id", callID, "error", err)
	}

	if ok {
		call.terminate()
	}
}

