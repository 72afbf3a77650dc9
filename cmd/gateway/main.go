// Command gateway is the SIP↔WebRTC dial-in binary (§6's "gateway — reads
// config.toml, binds UDP for SIP, exits on SIGINT/SIGTERM"): it starts the
// SIP user agent (internal/sipsession.UA) and hands every accepted inbound
// call to the gateway orchestrator (internal/orchestrator.Gateway), which
// drives §4.13's DTMF dial-in state machine through to a published WebRTC
// stream in the target room.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/talkbridge/mediabridge/internal/collab"
	"github.com/talkbridge/mediabridge/internal/config"
	"github.com/talkbridge/mediabridge/internal/controller"
	"github.com/talkbridge/mediabridge/internal/logging"
	"github.com/talkbridge/mediabridge/internal/orchestrator"
	"github.com/talkbridge/mediabridge/internal/portpool"
	"github.com/talkbridge/mediabridge/internal/sipsession"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the gateway's TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gateway: loading config:", err)
		os.Exit(1)
	}

	zlog, err := logging.Build(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gateway: building logger:", err)
		os.Exit(1)
	}
	defer zlog.Sync()
	log := logging.Wrap(zlog)

	pool, err := portpool.New(cfg.SIP.ListenHost, cfg.Media.PortRangeStart, cfg.Media.PortRangeEnd)
	if err != nil {
		log.Errorw("gateway: building port pool failed", "error", err)
		os.Exit(1)
	}

	tokens := oidcTokenSource(cfg.Controller)
	ctrl := controller.New(log, cfg.Controller.BaseURL, tokens)

	gw := orchestrator.NewGateway(log, ctrl, cfg.Gateway, cfg.Controller.SignalingURL)

	ua, err := sipsession.New(log, cfg.SIP, pool, ctrl, gw.OnIncomingCall)
	if err != nil {
		log.Errorw("gateway: building sip user agent failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ua.Start(ctx); err != nil {
		log.Errorw("gateway: starting sip user agent failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infow("gateway: shutdown signal received")

	cancel()
	gw.Close()
	ua.Close()
}

func oidcTokenSource(cfg config.ControllerConfig) collab.TokenSource {
	if cfg.OidcTokenURL == "" || cfg.OidcClientID == "" {
		return nil
	}
	return collab.NewOAuth2ClientCredentials(cfg.OidcTokenURL, cfg.OidcClientID, cfg.OidcClientSecret, cfg.OidcScopes)
}
