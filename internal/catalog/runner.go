package catalog

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/framewise/framewise/internal/logging"
	"github.com/framewise/framewise/internal/markup"
	"github.com/framewise/framewise/internal/metrics"
	"github.com/framewise/framewise/internal/pipeline"
)

type RunnerConfig struct {
	ThumbnailDir    string
	ThumbnailWidth  int
	ThumbnailHeight int
	PollInterval    time.Duration
}

// Runner processes pending library jobs one at a time.
type Runner struct {
	service *Service
	repo    Repository
	ffmpeg  pipeline.FFmpeg
	doctor  *pipeline.CachedDoctor
	cfg     RunnerConfig
	logger  *slog.Logger
	running atomic.Bool
	paused  atomic.Bool
}

func NewRunner(service *Service, repo Repository, ff pipeline.FFmpeg, doctor *pipeline.CachedDoctor, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = markup.ThumbnailWidth
	}
	if cfg.ThumbnailHeight <= 0 {
		cfg.ThumbnailHeight = markup.ThumbnailHeight
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		service: service,
		repo:    repo,
		ffmpeg:  ff,
		doctor:  doctor,
		cfg:     cfg,
		logger:  logger,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				for r.ProcessNext(ctx) {
					if ctx.Err() != nil || r.paused.Load() {
						break
					}
				}
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ProcessNext runs the oldest pending job and reports whether there was one.
func (r *Runner) ProcessNext(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}
	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	log := logging.WithJobID(r.logger, job.ID)
	log.Info("processing job", "type", job.Type)

	var jobErr error
	switch job.Type {
	case JobTypeScan:
		jobErr = r.service.ExecuteScan(ctx, job.ID, job.TargetPath)
	case JobTypeThumbnail:
		jobErr = r.processThumbnailJob(ctx, job)
	default:
		jobErr = fmt.Errorf("unknown job type %q", job.Type)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, jobErr.Error())
	}

	status := JobStatusCompleted
	if jobErr != nil {
		status = JobStatusFailed
		log.Error("job failed", "type", job.Type, "error", jobErr)
	}
	metrics.JobsProcessedTotal.WithLabelValues(job.Type, status).Inc()
	return true
}

// processThumbnailJob probes the video, decodes its first frame and
// writes a letterboxed JPEG into the thumbnail directory.
func (r *Runner) processThumbnailJob(ctx context.Context, job *Job) error {
	fail := func(err error) error {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		if job.VideoID != "" {
			r.repo.UpdateVideoStatus(ctx, job.VideoID, VideoStatusFailed, err.Error())
		}
		return err
	}

	if r.ffmpeg == nil {
		return fail(fmt.Errorf("ffmpeg not configured"))
	}

	v, err := r.repo.GetVideo(ctx, job.VideoID)
	if err != nil {
		return fail(err)
	}
	if v == nil {
		err := fmt.Errorf("video not found")
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return err
	}

	if r.doctor != nil {
		caps, err := r.doctor.Get(ctx)
		if err != nil {
			return fail(fmt.Errorf("doctor probe failed: %w", err))
		}
		if !caps.CanDecode() {
			return fail(pipeline.ErrBinaryNotFound)
		}
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")
	log := logging.WithVideo(logging.WithJobID(r.logger, job.ID), v.ID)

	probe, err := r.ffmpeg.Probe(ctx, v.Path)
	if err != nil {
		return fail(fmt.Errorf("probe: %w", err))
	}
	r.repo.UpdateJobProgress(ctx, job.ID, 33)

	frame, err := r.ffmpeg.ExtractFrame(ctx, v.Path, 0)
	if err != nil {
		return fail(fmt.Errorf("decode first frame: %w", err))
	}
	r.repo.UpdateJobProgress(ctx, job.ID, 66)

	thumbPath, err := r.writeThumbnail(v.ID, frame)
	if err != nil {
		return fail(err)
	}

	fps := probe.FrameRate
	if fps <= 0 && probe.Duration > 0 && probe.FrameCount > 0 {
		fps = float64(probe.FrameCount) / probe.Duration
	}
	v.FrameCount = probe.FrameCount
	v.FPS = fps
	v.Width = probe.Width
	v.Height = probe.Height
	v.Codec = probe.Codec
	v.ThumbnailPath = thumbPath
	if err := r.repo.UpdateVideoMedia(ctx, v); err != nil {
		return fail(err)
	}

	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	log.Info("thumbnail created", "frames", v.FrameCount, "fps", v.FPS)
	return nil
}

func (r *Runner) writeThumbnail(videoID string, frame image.Image) (string, error) {
	if err := os.MkdirAll(r.cfg.ThumbnailDir, 0755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}

	thumb := markup.Thumbnail(frame, r.cfg.ThumbnailWidth, r.cfg.ThumbnailHeight)
	path := filepath.Join(r.cfg.ThumbnailDir, videoID+".jpg")
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create thumbnail: %w", err)
	}
	if err := markup.EncodeJPEG(f, thumb, markup.JPEGQuality); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning || j.Status == JobStatusPending {
			count++
		}
	}
	return count
}
