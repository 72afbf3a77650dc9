package sinks

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/talkbridge/mediabridge/internal/audiomixer"
	"github.com/talkbridge/mediabridge/internal/commons"
	"github.com/talkbridge/mediabridge/internal/layout"
	"github.com/talkbridge/mediabridge/internal/videocompositor"
)

const (
	defaultAudioRate    = 48000
	defaultAudioBitrate = 96000
	defaultVideoBitrate = 6000
)

// SpeedPreset is an x264 speed preset name, grounded on rtmp.rs's
// SpeedPreset enum (itself libx264's own preset list).
type SpeedPreset string

const (
	PresetUltrafast SpeedPreset = "ultrafast"
	PresetSuperfast SpeedPreset = "superfast"
	PresetVeryfast  SpeedPreset = "veryfast"
	PresetFaster    SpeedPreset = "faster"
	PresetFast      SpeedPreset = "fast"
	PresetMedium    SpeedPreset = "medium"
	PresetSlow      SpeedPreset = "slow"
	PresetSlower    SpeedPreset = "slower"
	PresetVeryslow  SpeedPreset = "veryslow"
	PresetPlacebo   SpeedPreset = "placebo"
)

// RTMPParameters configures one RTMPSink. LocationTemplate may embed
// "$room", substituted with the sink's room at dial time so one template
// covers every room's destination the way §4.10 describes.
type RTMPParameters struct {
	LocationTemplate string
	AudioBitrate     int
	AudioRate        int
	VideoBitrate     int
	VideoSpeedPreset SpeedPreset
}

// Location substitutes $room into LocationTemplate.
func (p RTMPParameters) Location(room string) string {
	return strings.ReplaceAll(p.LocationTemplate, "$room", room)
}

// RTMPSink re-encodes the mixed A/V and pushes it to an RTMP destination,
// grounded on rtmp.rs. Same raw-stream substitution as Mp4Sink/DashSink for
// the reason given in sinks.go.
type RTMPSink struct {
	log     commons.Logger
	audio   *AudioStream
	video   *VideoStream
	res     layout.Size
	params  RTMPParameters
	room    string
	process *exec.Cmd
}

func NewRTMPSink(log commons.Logger, res layout.Size, room string, params RTMPParameters) (*RTMPSink, error) {
	if params.AudioRate == 0 {
		params.AudioRate = defaultAudioRate
	}
	if params.AudioBitrate == 0 {
		params.AudioBitrate = defaultAudioBitrate
	}
	if params.VideoBitrate == 0 {
		params.VideoBitrate = defaultVideoBitrate
	}
	if params.VideoSpeedPreset == "" {
		params.VideoSpeedPreset = PresetMedium
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
	return &RTMPSink{log: log, audio: audio, video: video, res: res, params: params, room: room}, nil
}

func (s *RTMPSink) PushAudio(frame audiomixer.Frame) { s.audio.Push(frame) }

func (s *RTMPSink) PushVideo(frame videocompositor.CompositeFrame) { s.video.Push(frame) }

func (s *RTMPSink) OnPlay() error {
	if s.process != nil {
		return nil
	}
	proc, err := spawnFFmpeg(s.log, []string{
		"-v", "warning", "-y", "-nostdin",
		"-f", "s16le", "-ar", strconv.Itoa(audiomixer.SampleRate), "-ac", strconv.Itoa(audiomixer.Channels),
		"-i", "tcp://" + s.audio.Addr(),
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.res.Width, s.res.Height), "-r", "30",
		"-i", "tcp://" + s.video.Addr(),
		"-c:v", "libx264", "-preset", string(s.params.VideoSpeedPreset), "-tune", "zerolatency",
		"-b:v", strconv.Itoa(s.params.VideoBitrate) + "k",
		"-c:a", "aac", "-b:a", strconv.Itoa(s.params.AudioBitrate),
		"-ar", strconv.Itoa(s.params.AudioRate),
		"-f", "flv", s.params.Location(s.room),
	})
	if err != nil {
		return err
	}
	s.process = proc
	return nil
}

func (s *RTMPSink) OnExit() error {
	s.audio.Close()
	s.video.Close()
	if s.process != nil {
		return s.process.Wait()
	}
	return nil
}

func (s *RTMPSink) Close() error { return s.OnExit() }
