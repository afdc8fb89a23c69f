// Package sampler turns an arbitrary video file into a bounded, ordered
// sequence of encoded still frames. It seeks strictly sequentially at a
// fixed cadence, captures at native resolution and releases the
// underlying video resource exactly once on every exit path.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/songlift/extraction-service/internal/domain/entity"
	"github.com/songlift/extraction-service/internal/domain/port"
)

var (
	// ErrVideoLoad means the video's metadata never became available:
	// corrupt container, unsupported codec or zero pixel dimensions.
	ErrVideoLoad = errors.New("video metadata could not be loaded")
	// ErrFrameCapture means a seek or raster capture failed mid-sequence.
	// The remaining sequence is aborted; partial output must be discarded.
	ErrFrameCapture = errors.New("frame capture failed")
)

const (
	defaultIntervalSeconds = 2.0
	defaultMaxFrames       = 300
	frameMimeType          = "image/jpeg"
)

// Config holds the sampling cadence and cap. Both are tuned defaults,
// not protocol constants.
type Config struct {
	IntervalSeconds float64
	MaxFrames       int
}

// Progress reports sampling advancement for the user-facing status line.
type Progress struct {
	Percent        int
	FramesCaptured int
}

type ProgressFunc func(Progress)

type Sampler struct {
	loader port.MediaLoader
	cfg    Config
	logger *zap.Logger
}

func New(loader port.MediaLoader, cfg Config, logger *zap.Logger) *Sampler {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = defaultIntervalSeconds
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = defaultMaxFrames
	}
	return &Sampler{loader: loader, cfg: cfg, logger: logger}
}

// Stream is the ordered, finite, non-restartable frame sequence produced
// by one Sample call. Frames() closes when the sequence ends; Err() and
// Info() are valid only after that.
type Stream struct {
	frames chan entity.SampledFrame
	done   chan struct{}
	err    error
	info   port.MediaInfo
}

func (s *Stream) Frames() <-chan entity.SampledFrame {
	return s.frames
}

func (s *Stream) Err() error {
	<-s.done
	return s.err
}

func (s *Stream) Info() port.MediaInfo {
	<-s.done
	return s.info
}

func (s *Stream) finish(err error) {
	s.err = err
	close(s.frames)
	close(s.done)
}

// Sample loads the video at path and produces its frame sequence. The
// sampler takes ownership of the loaded resource and releases it exactly
// once, whether sampling succeeds, fails or is cancelled. Each frame is
// delivered only after its seek-and-capture has settled; seeks are never
// issued concurrently.
func (s *Sampler) Sample(ctx context.Context, path string, onProgress ProgressFunc) *Stream {
	stream := &Stream{
		frames: make(chan entity.SampledFrame),
		done:   make(chan struct{}),
	}

	go func() {
		res, err := s.loader.Load(ctx, path)
		if err != nil {
			stream.finish(fmt.Errorf("%w: %s", ErrVideoLoad, err))
			return
		}

		var releaseOnce sync.Once
		release := func() {
			releaseOnce.Do(func() {
				if rerr := res.Release(); rerr != nil {
					s.logger.Warn("failed to release video resource", zap.Error(rerr))
				}
			})
		}
		defer release()

		info := res.Info()
		stream.info = info
		if info.Width <= 0 || info.Height <= 0 {
			release()
			stream.finish(fmt.Errorf("%w: video reports %dx%d pixel dimensions", ErrVideoLoad, info.Width, info.Height))
			return
		}

		s.logger.Info("sampling video",
			zap.Float64("duration_secs", info.DurationSeconds),
			zap.Int("width", info.Width),
			zap.Int("height", info.Height),
			zap.Float64("interval_secs", s.cfg.IntervalSeconds),
			zap.Int("max_frames", s.cfg.MaxFrames),
		)

		seq := 0
		for t := 0.0; t <= info.DurationSeconds && seq < s.cfg.MaxFrames; t += s.cfg.IntervalSeconds {
			select {
			case <-ctx.Done():
				release()
				stream.finish(ctx.Err())
				return
			default:
			}

			data, err := res.CaptureAt(ctx, t)
			if err != nil {
				release()
				stream.finish(fmt.Errorf("%w at %.1fs (frame %d): %s", ErrFrameCapture, t, seq, err))
				return
			}

			frame := entity.SampledFrame{
				SequenceIndex:    seq,
				TimestampSeconds: t,
				EncodedImage:     data,
				MimeType:         frameMimeType,
			}

			select {
			case stream.frames <- frame:
			case <-ctx.Done():
				release()
				stream.finish(ctx.Err())
				return
			}
			seq++

			if onProgress != nil {
				onProgress(Progress{
					Percent:        progressPercent(t, info.DurationSeconds),
					FramesCaptured: seq,
				})
			}
		}

		release()
		stream.finish(nil)
	}()

	return stream
}

func progressPercent(t, duration float64) int {
	if duration <= 0 {
		return 100
	}
	pct := int(t / duration * 100)
	if pct > 100 {
		pct = 100
	}
	return pct
}
