package sipsession

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pion/stun/v3"
)

// registerLoop sends an initial REGISTER, then re-registers at 80% of the
// granted expiry, and separately drives the NAT keep-alive ping — both
// grounded on the teacher's TrunkRegistrar.registerLoop, collapsed to a
// single registrar rather than a per-trunk set.
func (u *UA) registerLoop(ctx context.Context) {
	const defaultExpiry = 3600

	pingDelta := time.Duration(u.cfg.NatPingDeltaS) * time.Second
	if pingDelta <= 0 {
		pingDelta = 30 * time.Second
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.natPingLoop(ctx, pingDelta)
	}()

	expiry := defaultExpiry
	for {
		granted, err := u.sendRegister(ctx, expiry)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			u.log.Warnw("sipsession: register failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		u.log.Infow("sipsession: registered", "expires", granted)

		refresh := time.Duration(float64(granted)*0.8) * time.Second
		if refresh <= 0 {
			refresh = 30 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(refresh):
		}
	}
}

// natPingLoop sends a bare CRLF keep-alive to the registrar's transport
// every pingDelta, per §4.13.
func (u *UA) natPingLoop(ctx context.Context, pingDelta time.Duration) {
	ticker := time.NewTicker(pingDelta)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.sendNatPing(); err != nil {
				u.log.Warnw("sipsession: nat ping failed", "error", err)
			}
		}
	}
}

func (u *UA) sendNatPing() error {
	conn, err := net.Dial("udp", u.cfg.Registrar)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte("\r\n"))
	return err
}

// sendRegister sends a REGISTER request with digest-auth handling, per
// the teacher's TrunkRegistrar.sendRegister. expiry of 0 requests
// de-registration. It returns the server-granted expiry, defaulting to the
// requested expiry when the response carries none, and retries the
// digest challenge at most registerRetryLimit times (§5).
func (u *UA) sendRegister(ctx context.Context, expiry int) (int, error) {
	var recipient sip.Uri
	if err := sip.ParseUri("sip:"+u.cfg.Registrar, &recipient); err != nil {
		return 0, fmt.Errorf("sipsession: parsing registrar uri: %w", err)
	}

	buildReq := func() *sip.Request {
		req := sip.NewRequest(sip.REGISTER, recipient)
		req.SetTransport("UDP")

		aor := fmt.Sprintf("<sip:%s@%s>", u.cfg.Username, u.cfg.Registrar)
		from := sip.NewHeader("From", aor+";tag="+u.regTag)
		req.AppendHeader(from)
		req.AppendHeader(sip.NewHeader("To", aor))

		contact := fmt.Sprintf("<sip:%s@%s:%d>", u.cfg.Username, u.publicHost, u.cfg.ListenPort)
		req.AppendHeader(sip.NewHeader("Contact", contact))
		req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", expiry)))
		return req
	}

	req := buildReq()
	tx, err := u.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return 0, fmt.Errorf("sipsession: sending register: %w", err)
	}
	res, err := awaitResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return 0, fmt.Errorf("sipsession: awaiting register response: %w", err)
	}

	attempts := 0
	for (res.StatusCode == 401 || res.StatusCode == 407) && attempts < registerRetryLimit {
		attempts++

		authHeader, authzHeader := "WWW-Authenticate", "Authorization"
		if res.StatusCode == 407 {
			authHeader, authzHeader = "Proxy-Authenticate", "Proxy-Authorization"
		}
		chalHdr := res.GetHeader(authHeader)
		if chalHdr == nil {
			return 0, fmt.Errorf("sipsession: %d response missing %s", res.StatusCode, authHeader)
		}
		chal, err := digest.ParseChallenge(chalHdr.Value())
		if err != nil {
			return 0, fmt.Errorf("sipsession: parsing digest challenge: %w", err)
		}
		cred, err := digest.Digest(chal, digest.Options{
			Method:   sip.REGISTER.String(),
			URI:      "sip:" + u.cfg.Registrar,
			Username: u.cfg.Username,
			Password: u.cfg.Password,
		})
		if err != nil {
			return 0, fmt.Errorf("sipsession: computing digest: %w", err)
		}

		authReq := buildReq()
		authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

		authTx, err := u.client.TransactionRequest(ctx, authReq,
			sipgo.ClientRequestIncreaseCSEQ, sipgo.ClientRequestAddVia)
		if err != nil {
			return 0, fmt.Errorf("sipsession: sending authenticated register: %w", err)
		}
		res, err = awaitResponse(ctx, authTx)
		authTx.Terminate()
		if err != nil {
			return 0, fmt.Errorf("sipsession: awaiting authenticated register response: %w", err)
		}
	}

	if res.StatusCode != 200 {
		return 0, fmt.Errorf("sipsession: register failed with status %d %s", res.StatusCode, res.Reason)
	}

	granted := expiry
	if h := res.GetHeader("Expires"); h != nil {
		if parsed, err := parseExpires(h.Value()); err == nil && parsed > 0 {
			granted = parsed
		}
	}
	return granted, nil
}

func parseExpires(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n)
	return n, err
}

func awaitResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

// discoverPublicHost performs a STUN binding request to learn this
// process's server-reflexive address, per §4.13's "STUN-based public
// address discovery when a STUN server is configured". Grounded on the
// pion/stun usage pattern elsewhere in the retrieved pack, updated to the
// v3 client API actually pinned in go.mod (stun.NewClient(conn) +
// client.Do(msg, callback), not the older NewClient(proto, addr, timeout)
// shape).
func discoverPublicHost(ctx context.Context, server string) (string, error) {
	conn, err := net.Dial("udp4", server)
	if err != nil {
		return "", fmt.Errorf("dialing stun server: %w", err)
	}
	defer conn.Close()

	client, err := stun.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("creating stun client: %w", err)
	}
	defer client.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = conn.SetDeadline(deadline)

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var host string
	var doErr error
	done := make(chan struct{})
	err = client.Do(message, func(ev stun.Event) {
		defer close(done)
		if ev.Error != nil {
			doErr = ev.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if getErr := xorAddr.GetFrom(ev.Message); getErr != nil {
			doErr = getErr
			return
		}
		host = xorAddr.IP.String()
	})
	if err != nil {
		return "", fmt.Errorf("sending stun binding request: %w", err)
	}
	<-done
	if doErr != nil {
		return "", doErr
	}
	return host, nil
}
