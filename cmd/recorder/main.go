// Command recorder is the conference recorder binary (§6's "recorder —
// reads config.toml, consumes RabbitMQ, exits on SIGINT/SIGTERM"): it wires
// the media engine (audiomixer, videocompositor, talk façade, MP4 sink)
// and the session orchestrator (internal/orchestrator.Recorder) around a
// signaling connection opened per recording job.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/collab"
	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/config"
	"github.com/talkbridge/mediabridge/internal/controller"
	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/logging"
	"github.com/talkbridge/mediabridge/internal/orchestrator"
	"github.com/talkbridge/mediabridge/internal/signaling"
	"github.com/talkbridge/mediabridge/internal/sinks"
	"github.com/talkbridge/mediabridge/internal/talk"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

// recorderDisplayName is the name the recorder registers under when it
// joins a room's signaling session; the controller has no notion of a
// recorder's "real" identity.
const recorderDisplayName = "Recorder"

func main() {
	configPath := flag.String("config", "config.toml", "path to the recorder's TOML config")
	room := flag.String("room", "", "room id to record; a single job replayed through collab.StaticJobSource (§4.18 — no AMQP client exists in the retrieved pack, see DESIGN.md)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "recorder: loading config:", err)
		os.Exit(1)
	}

	zlog, err := logging.Build(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "recorder: building logger:", err)
		os.Exit(1)
	}
	defer zlog.Sync()
	log := logging.Wrap(zlog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infow("recorder: shutdown signal received")
		cancel()
	}()

	ctrl := controller.New(log, cfg.Controller.BaseURL, oidcTokenSource(cfg.Controller))

	jobs := jobSource(*room)
	jobCh, err := jobs.Jobs(ctx)
	if err != nil {
		log.Errorw("recorder: job source failed", "error", err)
		os.Exit(1)
	}

	exitCode := 0
	for job := range jobCh {
		log.Infow("recorder: starting session", "room", job.Room)
		if err := runSession(ctx, log, ctrl, cfg, job); err != nil {
			log.Errorw("recorder: session ended with error", "room", job.Room, "error", err)
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

func oidcTokenSource(cfg config.ControllerConfig) collab.TokenSource {
	if cfg.OidcTokenURL == "" || cfg.OidcClientID == "" {
		return nil
	}
	return collab.NewOAuth2ClientCredentials(cfg.OidcTokenURL, cfg.OidcClientID, cfg.OidcClientSecret, cfg.OidcScopes)
}

// jobSource builds the recorder's work queue: a single replayed job for
// the "run against one room from the CLI" deployment collab.go documents,
// or an empty (immediately-closing) source if no room was given.
func jobSource(room string) collab.JobSource {
	if room == "" {
		return collab.NewStaticJobSource()
	}
	return collab.NewStaticJobSource(collab.RecordingJob{Room: room})
}

// runSession builds one room's media engine and orchestrator, runs it to
// completion (roster emptied, session_ended, or ctx canceled), and tears
// everything down. One job, one session, per §6's RabbitMQ framing note
// ("ack-on-receive, one session per message").
func runSession(ctx context.Context, log commons.Logger, ctrl *controller.Client, cfg *config.Config, job collab.RecordingJob) error {
	ticket, err := ctrl.StartRecording(ctx, job.Room)
	if err != nil {
		return fmt.Errorf("recorder: recording/start: %w", err)
	}

	sig, err := signaling.Dial(ctx, log, cfg.Controller.SignalingURL, ticket)
	if err != nil {
		return fmt.Errorf("recorder: signaling dial: %w", err)
	}
	if err := sig.Join(recorderDisplayName); err != nil {
		_ = sig.Close()
		return fmt.Errorf("recorder: join: %w", err)
	}

	res := layout.Size{Width: cfg.Media.CanvasWidth, Height: cfg.Media.CanvasHeight}
	engine := layout.NewGrid()

	mixer := audiomixer.New()
	defer mixer.Close()
	comp := videocompositor.New(engine, res)
	defer comp.Close()

	t := talk.New(mixer, comp, cfg.Media.MaxVisibles)

	filename := filepath.Join(cfg.Recorder.OutputDir, job.Room+".mp4")
	mp4, err := sinks.NewMp4Sink(log, res, filename)
	if err != nil {
		_ = sig.Close()
		return fmt.Errorf("recorder: mp4 sink: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	if err := sinks.Pump("mp4", mixer, comp, mp4, stop); err != nil {
		_ = sig.Close()
		_ = mp4.Close()
		return fmt.Errorf("recorder: mp4 pump: %w", err)
	}
	defer mp4.Close()

	params := orchestrator.RecorderParams{
		RoomID:   job.Room,
		DumpPath: cfg.Recorder.DumpPath,
		Filename: filename,
	}
	rec := orchestrator.NewRecorder(log, sig, t, mixer, comp, ctrl, mp4, params)
	return rec.Run(ctx)
}
