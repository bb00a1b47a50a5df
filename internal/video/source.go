// Package video provides random access to the decoded frames of a single
// video file.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/framewise/framewise/internal/metrics"
	"github.com/framewise/framewise/internal/pipeline"
)

var (
	ErrFileNotFound      = errors.New("video file not found")
	ErrUnsupportedFormat = errors.New("unsupported video format")
	ErrOutOfRange        = errors.New("frame index out of range")
)

// seekFPS is used to place seeks when the container reports no rate.
const seekFPS = 30.0

// Extensions lists the file types offered by file pickers and folder scans.
var Extensions = []string{".mp4", ".mov", ".m4v", ".avi", ".mkv"}

type Info struct {
	Path       string  `json:"path"`
	FrameCount int     `json:"frame_count"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Codec      string  `json:"codec,omitempty"`
	Duration   float64 `json:"duration"`
}

// Source is an opened video. Seek is safe for concurrent use.
type Source struct {
	ffmpeg pipeline.FFmpeg
	info   Info
	logger *slog.Logger

	mu        sync.Mutex
	lastIndex int
	lastFrame image.Image
}

// Open probes path and returns a Source. It fails with ErrFileNotFound
// when the file is missing and ErrUnsupportedFormat when it cannot be
// read as a video with at least one frame.
func Open(ctx context.Context, ff pipeline.FFmpeg, path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	stat, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("cannot stat video: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, path)
	}

	probe, err := ff.Probe(ctx, abs)
	if err != nil {
		if errors.Is(err, pipeline.ErrBinaryNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if probe.FrameCount <= 0 {
		return nil, fmt.Errorf("%w: %s reports no frames", ErrUnsupportedFormat, filepath.Base(path))
	}

	info := Info{
		Path:       abs,
		FrameCount: probe.FrameCount,
		FPS:        probe.FrameRate,
		Width:      probe.Width,
		Height:     probe.Height,
		Codec:      probe.Codec,
		Duration:   probe.Duration,
	}
	if info.FPS <= 0 && info.Duration > 0 {
		info.FPS = math.Round(float64(info.FrameCount)/info.Duration*1000) / 1000
	}

	logger.Info("video opened",
		"video", filepath.Base(abs),
		"frames", info.FrameCount,
		"fps", info.FPS,
		"width", info.Width,
		"height", info.Height,
		"probe", probe.Source,
	)

	return &Source{ffmpeg: ff, info: info, logger: logger, lastIndex: -1}, nil
}

func (s *Source) Info() Info         { return s.info }
func (s *Source) Path() string       { return s.info.Path }
func (s *Source) FrameCount() int    { return s.info.FrameCount }
func (s *Source) FPS() float64       { return s.info.FPS }
func (s *Source) InRange(i int) bool { return i >= 0 && i < s.info.FrameCount }

// TimeAt returns the presentation time of index in seconds, or 0 when the
// frame rate is unknown.
func (s *Source) TimeAt(index int) float64 {
	return TimeAt(index, s.info.FPS)
}

func TimeAt(index int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(index) / fps
}

// Seek decodes frame index. The most recently decoded frame is cached.
func (s *Source) Seek(ctx context.Context, index int) (image.Image, error) {
	if !s.InRange(index) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, index, s.info.FrameCount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastFrame != nil && s.lastIndex == index {
		metrics.FrameCacheHitsTotal.Inc()
		return s.lastFrame, nil
	}

	start := time.Now()
	img, err := s.ffmpeg.ExtractFrame(ctx, s.info.Path, seekTime(index, s.info.FPS))
	metrics.FramesDecodedTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Warn("frame decode failed", "frame", index, "error", err)
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	metrics.FrameDecodeDuration.Observe(time.Since(start).Seconds())

	s.lastIndex = index
	s.lastFrame = img
	return img, nil
}

// seekTime lands half a frame before index so rounding in the container
// timestamps cannot skip to the next frame.
func seekTime(index int, fps float64) float64 {
	if fps <= 0 {
		fps = seekFPS
	}
	return math.Max(0, (float64(index)-0.5)/fps)
}

// Close drops the cached frame.
func (s *Source) Close() error {
	s.mu.Lock()
	s.lastFrame = nil
	s.lastIndex = -1
	s.mu.Unlock()
	return nil
}
