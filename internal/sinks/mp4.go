package sinks

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

// Mp4Sink writes one finished MP4 file via an external ffmpeg process,
// grounded on mp4.rs. The Rust version's Matroska-sink-plus-ffmpeg-child
// shape is kept; only the intermediate container changes, from a real
// Matroska mux to the two raw streams AudioStream/VideoStream expose (see
// sinks.go).
type Mp4Sink struct {
	log      commons.Logger
	audio    *AudioStream
	video    *VideoStream
	res      layout.Size
	filename string
	process  *exec.Cmd
}

func NewMp4Sink(log commons.Logger, res layout.Size, filename string) (*Mp4Sink, error) {
	audio, err := NewAudioStream(log)
	if err != nil {
		return nil, err
	}
	video, err := NewVideoStream(log, res)
	if err != nil {
		audio.Close()
		return nil, err
	}
	return &Mp4Sink{log: log, audio: audio, video: video, res: res, filename: filename}, nil
}

func (s *Mp4Sink) PushAudio(frame audiomixer.Frame) { s.audio.Push(frame) }

func (s *Mp4Sink) PushVideo(frame videocompositor.CompositeFrame) { s.video.Push(frame) }

// OnPlay starts the ffmpeg child once, mirroring mp4.rs's on_play which
// checks for an already-running process rather than spawning a second one.
func (s *Mp4Sink) OnPlay() error {
	if s.process != nil {
		if s.process.ProcessState != nil {
			return fmt.Errorf("sinks: ffmpeg for %s exited early: %s", s.filename, s.process.ProcessState)
		}
		return nil
	}
	proc, err := spawnFFmpeg(s.log, []string{
		"-v", "warning", "-y", "-nostdin",
		"-f", "s16le", "-ar", strconv.Itoa(audiomixer.SampleRate), "-ac", strconv.Itoa(audiomixer.Channels),
		"-i", "tcp://" + s.audio.Addr(),
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.res.Width, s.res.Height), "-r", "30",
		"-i", "tcp://" + s.video.Addr(),
		"-map", "0:a", "-map", "1:v",
		"-c:a", "aac", "-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-f", "mp4", s.filename,
	})
	if err != nil {
		return err
	}
	s.process = proc
	return nil
}

// OnExit closes both raw streams and waits for ffmpeg to finish writing the
// moov atom. The DUMP.mp4 fallback for a failed finalize lives one layer up
// in the orchestrator (C14), which owns deciding whether this file is
// usable.
func (s *Mp4Sink) OnExit() error {
	s.audio.Close()
	s.video.Close()
	if s.process != nil {
		return s.process.Wait()
	}
	return nil
}

func (s *Mp4Sink) Close() error { return s.OnExit() }
