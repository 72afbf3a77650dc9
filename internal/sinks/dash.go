package sinks

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

// SegmentType selects the DASH segment container, mirroring dash.rs's
// SegmentType enum.
type SegmentType int

const (
	SegmentAuto SegmentType = iota
	SegmentMP4
	SegmentWebM
)

func (t SegmentType) String() string {
	switch t {
	case SegmentMP4:
		return "mp4"
	case SegmentWebM:
		return "webm"
	default:
		return "auto"
	}
}

// DashUpdateCallback receives the base names of newly written segment
// files, mirroring dash.rs's update_callback(files: &[&OsStr]).
type DashUpdateCallback func(files []string)

// DashParameters configures one DashSink; zero values take the defaults
// dash.rs hardcodes (0x100000 bit/s, i.e. 1 Mibit/s; 5s segments, auto
// container).
type DashParameters struct {
	OutputDir   string // empty: a temp directory is created
	BitrateBps  int
	SegDuration float64
	SegType     SegmentType
	OnUpdate    DashUpdateCallback
}

// DashSink writes an MPEG-DASH manifest plus segments to a directory and
// notifies a callback as ffmpeg finishes each one, grounded on dash.rs. The
// original watches its output directory with inotify(MOVED_TO|CLOSE); here
// fsnotify's Create/Write/Rename cover the same "a new segment file just
// became readable" signal on every platform the pack targets.
type DashSink struct {
	log     commons.Logger
	audio   *AudioStream
	video   *VideoStream
	res     layout.Size
	params  DashParameters
	process *exec.Cmd
	watcher *fsnotify.Watcher
	outDir  string
}

func NewDashSink(log commons.Logger, res layout.Size, params DashParameters) (*DashSink, error) {
	if params.OnUpdate == nil {
		params.OnUpdate = func(files []string) {}
	}
	if params.SegDuration == 0 {
		params.SegDuration = 5.0
	}
	if params.BitrateBps == 0 {
		params.BitrateBps = 0x0010_0000
	}
	audio, err := NewAudioStream(log)
	if err != nil {
		return nil, err
	}
	video, err := NewVideoStream(log, res)
	if err != nil {
		audio.Close()
		return nil, err
	}
	return &DashSink{log: log, audio: audio, video: video, res: res, params: params}, nil
}

func (s *DashSink) PushAudio(frame audiomixer.Frame) { s.audio.Push(frame) }

func (s *DashSink) PushVideo(frame videocompositor.CompositeFrame) { s.video.Push(frame) }

func (s *DashSink) OutputDir() string { return s.outDir }

func (s *DashSink) OnPlay() error {
	if s.process != nil {
		return nil
	}

	outDir := s.params.OutputDir
	if outDir == "" {
		dir, err := os.MkdirTemp("", "dash-*")
		if err != nil {
			return fmt.Errorf("sinks: dash temp dir: %w", err)
		}
		outDir = dir
	}
	s.outDir = outDir
	mpdPath := filepath.Join(outDir, "dash.mpd")

	proc, err := spawnFFmpeg(s.log, []string{
		"-v", "warning", "-y", "-nostdin",
		"-f", "s16le", "-ar", strconv.Itoa(audiomixer.SampleRate), "-ac", strconv.Itoa(audiomixer.Channels),
		"-i", "tcp://" + s.audio.Addr(),
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.res.Width, s.res.Height), "-r", "30",
		"-i", "tcp://" + s.video.Addr(),
		"-map", "0:a", "-map", "1:v",
		"-c:a", "aac", "-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-b:v", strconv.Itoa(s.params.BitrateBps),
		"-use_timeline", "1", "-use_template", "1",
		"-adaptation_sets", "id=0,streams=v id=1,streams=a",
		"-seg_duration", strconv.FormatFloat(s.params.SegDuration, 'f', -1, 64),
		"-dash_segment_type", s.params.SegType.String(),
		"-f", "dash", mpdPath,
	})
	if err != nil {
		return err
	}
	s.process = proc

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sinks: dash fsnotify: %w", err)
	}
	if err := watcher.Add(outDir); err != nil {
		watcher.Close()
		return fmt.Errorf("sinks: dash watch %s: %w", outDir, err)
	}
	s.watcher = watcher
	go s.watchLoop()
	return nil
}

func (s *DashSink) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			// ffmpeg writes each segment to a ".tmp" sibling, then renames
			// it into place; dash.rs only reports the rename that drops
			// the ".tmp" suffix, so filter the same way here.
			if strings.HasSuffix(ev.Name, ".tmp") {
				continue
			}
			s.params.OnUpdate([]string{filepath.Base(ev.Name)})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warnw("sinks: dash watcher error", "error", err)
		}
	}
}

func (s *DashSink) OnExit() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.audio.Close()
	s.video.Close()
	if s.process != nil {
		return s.process.Wait()
	}
	return nil
}

func (s *DashSink) Close() error { return s.OnExit() }
