// Package ffmpeg adapts the host media pipeline (ffprobe/ffmpeg) to the
// MediaLoader and VideoResource ports.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/songlift/extraction-service/internal/domain/port"
)

type Loader struct {
	// jpegQuality is ffmpeg's mjpeg -q:v scale (2..31, lower is better).
	// 4 approximates JPEG quality 0.85: text stays legible, files stay small.
	jpegQuality int
	seekTimeout time.Duration
	logger      *zap.Logger
}

func NewLoader(jpegQuality int, seekTimeout time.Duration, logger *zap.Logger) *Loader {
	if jpegQuality <= 0 {
		jpegQuality = 4
	}
	return &Loader{jpegQuality: jpegQuality, seekTimeout: seekTimeout, logger: logger}
}

// Load probes the video's metadata. A probe failure, an unparsable
// duration or zero pixel dimensions all mean the container never became
// decodable. The returned resource owns the file at path and removes it
// on Release.
func (l *Loader) Load(ctx context.Context, path string) (port.VideoResource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	info, err := parseProbeOutput(string(output))
	if err != nil {
		return nil, err
	}

	l.logger.Debug("video probed",
		zap.String("path", path),
		zap.Float64("duration_secs", info.DurationSeconds),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
	)

	return &resource{
		path:        path,
		info:        *info,
		jpegQuality: l.jpegQuality,
		seekTimeout: l.seekTimeout,
	}, nil
}

// parseProbeOutput reads the nokey ffprobe output: width, height and
// duration on separate lines. Some containers report duration as "N/A";
// that is treated as zero duration, not as a probe failure, since the
// stream itself decoded.
func parseProbeOutput(out string) (*port.MediaInfo, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return nil, fmt.Errorf("ffprobe returned incomplete metadata: %q", out)
	}

	width, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse width %q: %w", fields[0], err)
	}
	height, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("parse height %q: %w", fields[1], err)
	}

	duration := 0.0
	if len(fields) >= 3 && fields[2] != "N/A" {
		duration, err = strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", fields[2], err)
		}
	}

	return &port.MediaInfo{
		DurationSeconds: duration,
		Width:           width,
		Height:          height,
	}, nil
}

type resource struct {
	path        string
	info        port.MediaInfo
	jpegQuality int
	seekTimeout time.Duration
}

func (r *resource) Info() port.MediaInfo {
	return r.info
}

// CaptureAt decodes one frame at the given timestamp to mjpeg on stdout.
// No scaling filter is applied: frames keep the video's native resolution
// so playlist text stays readable downstream.
func (r *resource) CaptureAt(ctx context.Context, timestampSeconds float64) ([]byte, error) {
	if r.seekTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.seekTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", strconv.FormatFloat(timestampSeconds, 'f', 3, 64),
		"-i", r.path,
		"-frames:v", "1",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(r.jpegQuality),
		"-f", "image2",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg seek to %.3fs: %w: %s", timestampSeconds, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("no frame decoded at %.3fs", timestampSeconds)
	}

	return stdout.Bytes(), nil
}

func (r *resource) Release() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove video file: %w", err)
	}
	return nil
}
