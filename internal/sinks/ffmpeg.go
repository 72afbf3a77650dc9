package sinks

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"

	"github.com/talkbridge/mediabridge/internal/commons"
)

// spawnFFmpeg starts an ffmpeg child with args and forwards its stderr to
// log line by line; every sink in this package that owns a real encoder
// (MP4, DASH, RTMP) shares this helper instead of re-implementing process
// plumbing three times.
func spawnFFmpeg(log commons.Logger, args []string) (*exec.Cmd, error) {
	cmd := exec.Command("ffmpeg", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sinks: ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sinks: spawn ffmpeg: %w", err)
	}
	go logPipe(log, stderr)
	return cmd, nil
}

func logPipe(log commons.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debugw("ffmpeg", "line", scanner.Text())
	}
}
