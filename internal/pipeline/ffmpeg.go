// Package pipeline wraps the external ffmpeg/ffprobe binaries and the
// in-process MP4 box parser used to probe and decode video frames.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024

var (
	ErrBinaryNotFound = errors.New("binary not found")
	ErrNoVideoStream  = errors.New("no video stream")
	ErrNoFrame        = errors.New("no frame decoded")
)

// FFmpeg is the media backend used by the video source and the library
// runner.
type FFmpeg interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	ExtractFrame(ctx context.Context, path string, seconds float64) (image.Image, error)
}

type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	FrameCount int
	// Source names the prober that produced the result: "mp4" or "ffprobe".
	Source string
}

type Config struct {
	FFmpegPath    string // empty = auto-detect
	FFprobePath   string // empty = auto-detect
	ProbeTimeout  time.Duration
	DecodeTimeout time.Duration
	Logger        *slog.Logger
}

func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ProbeTimeout:  30 * time.Second,
		DecodeTimeout: 20 * time.Second,
		Logger:        logger,
	}
}

// RealFFmpeg runs the ffmpeg and ffprobe binaries as subprocesses. MP4
// containers are probed in-process first.
type RealFFmpeg struct {
	cfg Config
}

func NewRealFFmpeg(cfg Config) *RealFFmpeg {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.DecodeTimeout <= 0 {
		cfg.DecodeTimeout = 20 * time.Second
	}
	return &RealFFmpeg{cfg: cfg}
}

func (f *RealFFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if IsMP4(path) {
		res, err := ProbeMP4(path)
		if err == nil && res.FrameCount > 0 {
			return res, nil
		}
		f.cfg.Logger.Debug("mp4 probe fell back to ffprobe", "path", filepath.Base(path), "error", err)
	}

	ffprobe, err := ResolveBinary(f.cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	out, err := f.run(ctx, ffprobe, probeArgs(path, false)...)
	if err != nil {
		return nil, err
	}
	res, err := ParseFFprobe(out)
	if err != nil {
		return nil, err
	}
	if res.FrameCount > 0 {
		return res, nil
	}

	// Neither the container nor the duration gave a count; count packets.
	out, err = f.run(ctx, ffprobe, probeArgs(path, true)...)
	if err != nil {
		return nil, err
	}
	return ParseFFprobe(out)
}

// ExtractFrame decodes the first frame at or after seconds as an image.
func (f *RealFFmpeg) ExtractFrame(ctx context.Context, path string, seconds float64) (image.Image, error) {
	ffmpeg, err := ResolveBinary(f.cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.DecodeTimeout)
	defer cancel()

	if seconds < 0 {
		seconds = 0
	}
	out, err := f.run(ctx, ffmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(seconds, 'f', 6, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w at %.3fs", ErrNoFrame, seconds)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode ffmpeg output: %w", err)
	}
	return img, nil
}

func (f *RealFFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	start := time.Now()

	var stdout, stderrBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		tail := strings.TrimSpace(stderrBuf.String())
		f.cfg.Logger.Warn("media command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(tail, 512),
		)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(bin), ctx.Err())
		}
		return nil, fmt.Errorf("%s exited %d: %s", filepath.Base(bin), exitCode, truncate(tail, 512))
	}

	f.cfg.Logger.Debug("media command succeeded",
		"bin", filepath.Base(bin),
		"duration_ms", elapsed.Milliseconds(),
	)
	return stdout.Bytes(), nil
}

func probeArgs(path string, countPackets bool) []string {
	args := []string{"-v", "error", "-select_streams", "v:0"}
	if countPackets {
		args = append(args, "-count_packets")
	}
	return append(args,
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames,nb_read_packets,duration:format=duration",
		"-of", "json",
		path,
	)
}

// ResolveBinary finds an executable: the configured path, then PATH, then
// common install locations.
func ResolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("%w: configured %s %q", ErrBinaryNotFound, name, preferred)
	}

	execName := name
	if runtime.GOOS == "windows" {
		execName = name + ".exe"
	}
	if p, err := exec.LookPath(execName); err == nil {
		return p, nil
	}

	for _, dir := range commonDirs() {
		p := filepath.Join(dir, execName)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s (not on PATH or in common locations)", ErrBinaryNotFound, name)
}

func commonDirs() []string {
	if runtime.GOOS == "windows" {
		return []string{
			`C:\ffmpeg\bin`,
			`C:\Program Files\ffmpeg\bin`,
			`C:\Program Files (x86)\ffmpeg\bin`,
		}
	}
	return []string{
		"/usr/bin",
		"/usr/local/bin",
		"/opt/homebrew/bin",
		"/snap/bin",
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
