// Package session holds the state of the one review the agent is working
// on: the open video, its annotation store and the review file it was
// loaded from or saved to. All HTTP handlers and the tray share one
// Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/framewise/framewise/internal/markup"
	"github.com/framewise/framewise/internal/metrics"
	"github.com/framewise/framewise/internal/pipeline"
	"github.com/framewise/framewise/internal/review"
	"github.com/framewise/framewise/internal/video"
)

var (
	ErrNoVideo  = errors.New("no video is open")
	ErrNoReview = errors.New("no review is open")
	ErrNoPath   = errors.New("no review path given")
)

// ReviewRecorder remembers saved and loaded review files.
type ReviewRecorder interface {
	RecordReview(ctx context.Context, path, videoPath string, annotatedFrames int) error
}

type Options struct {
	FFmpeg   pipeline.FFmpeg
	Renderer *markup.Renderer
	Recorder ReviewRecorder // optional
	Logger   *slog.Logger
}

type Session struct {
	ffmpeg   pipeline.FFmpeg
	renderer *markup.Renderer
	recorder ReviewRecorder
	logger   *slog.Logger

	mu         sync.Mutex
	source     *video.Source
	store      *review.Store
	reviewPath string
	current    int
}

func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = markup.New(review.Style{})
	}
	return &Session{
		ffmpeg:   opts.FFmpeg,
		renderer: renderer,
		recorder: opts.Recorder,
		logger:   logger,
	}
}

// OpenVideo opens path and starts an empty review for it.
func (s *Session) OpenVideo(ctx context.Context, path string) (video.Info, error) {
	src, err := video.Open(ctx, s.ffmpeg, path, s.logger)
	if err != nil {
		return video.Info{}, err
	}
	info := src.Info()

	s.mu.Lock()
	s.replace(src, review.NewStore(review.New(info.Path, info.FPS, info.FrameCount)), "")
	s.mu.Unlock()

	return info, nil
}

// LoadReview loads a review file and opens the video it references. On
// failure the current session is left as it was.
func (s *Session) LoadReview(ctx context.Context, path string) (*review.Review, error) {
	r, err := review.Load(path)
	metrics.ReviewsTotal.WithLabelValues("load", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	src, err := video.Open(ctx, s.ffmpeg, r.VideoPath, s.logger)
	if err != nil {
		return nil, fmt.Errorf("open reviewed video: %w", err)
	}
	info := src.Info()
	r.FPS = info.FPS
	r.FrameCount = info.FrameCount

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	store := review.NewStore(r)

	s.mu.Lock()
	s.replace(src, store, abs)
	annotated := len(store.ReviewedFrames())
	s.mu.Unlock()

	s.logger.Info("review loaded",
		"review", filepath.Base(abs),
		"video", filepath.Base(r.VideoPath),
		"annotated_frames", annotated,
	)
	s.record(ctx, abs, r.VideoPath, annotated)
	return r, nil
}

// SaveReview writes the review to path, or to the path it was last loaded
// from or saved to when path is empty. ".json" is appended when missing.
// It returns the path written.
func (s *Session) SaveReview(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	if s.store == nil {
		s.mu.Unlock()
		return "", ErrNoReview
	}
	if path == "" {
		path = s.reviewPath
	}
	if path == "" {
		s.mu.Unlock()
		return "", ErrNoPath
	}
	if !strings.HasSuffix(path, ".json") {
		path += ".json"
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	r := s.store.Review()
	err := review.Save(r, path)
	metrics.ReviewsTotal.WithLabelValues("save", metrics.Result(err)).Inc()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.reviewPath = path
	videoPath := r.VideoPath
	annotated := len(s.store.ReviewedFrames())
	s.mu.Unlock()

	s.logger.Info("review saved", "review", filepath.Base(path), "annotated_frames", annotated)
	s.record(ctx, path, videoPath, annotated)
	return path, nil
}

func (s *Session) record(ctx context.Context, path, videoPath string, annotated int) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordReview(ctx, path, videoPath, annotated); err != nil {
		s.logger.Warn("failed to record review", "error", err)
	}
}

// FrameView is a decoded frame with its annotation.
type FrameView struct {
	Index      int
	Seconds    float64
	Image      image.Image
	Annotation review.FrameAnnotation
}

// Frame decodes index and makes it the current frame.
func (s *Session) Frame(ctx context.Context, index int) (*FrameView, error) {
	return s.frame(ctx, index, true)
}

// Peek decodes index without moving the current frame.
func (s *Session) Peek(ctx context.Context, index int) (*FrameView, error) {
	return s.frame(ctx, index, false)
}

func (s *Session) frame(ctx context.Context, index int, makeCurrent bool) (*FrameView, error) {
	s.mu.Lock()
	src, store := s.source, s.store
	s.mu.Unlock()
	if src == nil {
		return nil, ErrNoVideo
	}

	img, err := src.Seek(ctx, index)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The session may have switched videos while decoding.
	if s.source != src {
		return nil, ErrNoVideo
	}
	if makeCurrent {
		s.current = index
	}
	return &FrameView{
		Index:      index,
		Seconds:    src.TimeAt(index),
		Image:      img,
		Annotation: store.Peek(index),
	}, nil
}

// RenderFrame decodes index and draws its markups over it.
func (s *Session) RenderFrame(ctx context.Context, index int) (image.Image, error) {
	fv, err := s.Frame(ctx, index)
	if err != nil {
		return nil, err
	}
	return s.Render(fv), nil
}

// Render draws the markups of fv over its image.
func (s *Session) Render(fv *FrameView) image.Image {
	if len(fv.Annotation.Markups) == 0 {
		return fv.Image
	}
	return s.renderer.Render(fv.Image, fv.Annotation.Markups)
}

func (s *Session) Annotation(index int) (review.FrameAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFrame(index); err != nil {
		return review.FrameAnnotation{}, err
	}
	return s.store.Peek(index), nil
}

func (s *Session) AddMarkup(index int, m review.Markup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFrame(index); err != nil {
		return err
	}
	if err := s.store.AddMarkup(index, m); err != nil {
		return err
	}
	metrics.MarkupsAddedTotal.WithLabelValues(string(m.Kind())).Inc()
	return nil
}

func (s *Session) RemoveMarkup(index, pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFrame(index); err != nil {
		return err
	}
	return s.store.RemoveMarkup(index, pos)
}

func (s *Session) ClearMarkups(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFrame(index); err != nil {
		return err
	}
	return s.store.ClearMarkups(index)
}

func (s *Session) SetComment(index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFrame(index); err != nil {
		return err
	}
	return s.store.SetComment(index, text)
}

// checkFrame must be called with mu held.
func (s *Session) checkFrame(index int) error {
	if s.store == nil || s.source == nil {
		return ErrNoReview
	}
	if !s.source.InRange(index) {
		return fmt.Errorf("%w: %d not in [0, %d)", video.ErrOutOfRange, index, s.source.FrameCount())
	}
	return nil
}

// Checkpoint is a reviewed frame.
type Checkpoint struct {
	Index   int     `json:"index"`
	Seconds float64 `json:"seconds"`
	Label   string  `json:"label"`
	Comment string  `json:"comment,omitempty"`
	Markups int     `json:"markups"`
}

// Checkpoints lists the frames that carry a comment or markups.
func (s *Session) Checkpoints() ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, ErrNoReview
	}
	return BuildCheckpoints(s.store, s.store.Review().FPS), nil
}

// BuildCheckpoints lists the reviewed frames of store.
func BuildCheckpoints(store *review.Store, fps float64) []Checkpoint {
	indices := store.ReviewedFrames()
	out := make([]Checkpoint, 0, len(indices))
	for _, idx := range indices {
		fa := store.Peek(idx)
		out = append(out, Checkpoint{
			Index:   idx,
			Seconds: video.TimeAt(idx, fps),
			Label:   Label(idx, fps),
			Comment: fa.Comment,
			Markups: len(fa.Markups),
		})
	}
	return out
}

// Label formats a checkpoint as "Frame N (T.TTs)", or "Frame N (-)" when
// the frame rate is unknown.
func Label(index int, fps float64) string {
	if fps <= 0 {
		return fmt.Sprintf("Frame %d (-)", index)
	}
	return fmt.Sprintf("Frame %d (%.2fs)", index, float64(index)/fps)
}

type State struct {
	Video           *video.Info `json:"video,omitempty"`
	ReviewPath      string      `json:"review_path,omitempty"`
	CurrentFrame    int         `json:"current_frame"`
	AnnotatedFrames int         `json:"annotated_frames"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{ReviewPath: s.reviewPath, CurrentFrame: s.current}
	if s.source != nil {
		info := s.source.Info()
		st.Video = &info
	}
	if s.store != nil {
		st.AnnotatedFrames = len(s.store.ReviewedFrames())
	}
	return st
}

// VideoPath returns the path of the open video.
func (s *Session) VideoPath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return "", ErrNoVideo
	}
	return s.source.Path(), nil
}

// Snapshot returns a copy of the open review.
func (s *Session) Snapshot() (*review.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, ErrNoReview
	}
	r := s.store.Review()
	cp := review.New(r.VideoPath, r.FPS, r.FrameCount)
	for idx := range r.Frames {
		cp.Frames[idx] = s.store.Peek(idx)
	}
	return cp, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replace(nil, nil, "")
	return nil
}

// replace must be called with mu held.
func (s *Session) replace(src *video.Source, store *review.Store, reviewPath string) {
	if s.source != nil {
		s.source.Close()
	}
	s.source = src
	s.store = store
	s.reviewPath = reviewPath
	s.current = 0
}
