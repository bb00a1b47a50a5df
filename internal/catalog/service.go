package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/framewise/framewise/internal/watcher"
)

const fingerprintSize = 64 * 1024

var (
	ErrNotDirectory = errors.New("path is not a directory")
	ErrNotVideo     = errors.New("not a video file")
)

type LibraryService interface {
	AddVideos(ctx context.Context, paths []string) ([]*Video, error)
	RemoveVideo(ctx context.Context, id string) error
	GetVideos(ctx context.Context) ([]*Video, error)
	GetVideo(ctx context.Context, id string) (*Video, error)
	CountVideos(ctx context.Context) (int, error)
	TotalSize(ctx context.Context) (int64, error)
	ScanFolder(ctx context.Context, path string) (*Job, error)
	GetJobs(ctx context.Context, limit int) ([]*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	RecentReviews(ctx context.Context, limit int) ([]*ReviewRecord, error)
	RecordReview(ctx context.Context, path, videoPath string, annotatedFrames int) error
}

type Service struct {
	repo    Repository
	logger  *slog.Logger
	watcher watcher.Watcher
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetWatcher makes the service watch every library file it adds and
// routes the watcher's events to HandleFileEvent. Existing library rows
// are watched immediately.
func (s *Service) SetWatcher(ctx context.Context, w watcher.Watcher) error {
	s.watcher = w
	w.OnChange(func(path string, event watcher.EventType) {
		if err := s.HandleFileEvent(context.Background(), path, event); err != nil && s.logger != nil {
			s.logger.Warn("failed to handle file event", "path", path, "event", event.String(), "error", err)
		}
	})

	videos, err := s.repo.ListVideos(ctx)
	if err != nil {
		return err
	}
	for _, v := range videos {
		if err := w.Watch(ctx, v.Path); err != nil && s.logger != nil {
			s.logger.Warn("failed to watch video", "path", v.Path, "error", err)
		}
	}
	return nil
}

// HandleFileEvent keeps a library row in step with its file. A deleted
// file marks the video failed. A file that reappears or changes is
// re-fingerprinted, and a failed video gets another thumbnail attempt.
func (s *Service) HandleFileEvent(ctx context.Context, path string, event watcher.EventType) error {
	switch event {
	case watcher.EventDelete:
		v, err := s.repo.GetVideoByPath(ctx, path)
		if err != nil || v == nil {
			return err
		}
		if s.logger != nil {
			s.logger.Info("video file missing", "video_id", v.ID, "path", path)
		}
		return s.repo.UpdateVideoStatus(ctx, v.ID, VideoStatusFailed, "file missing")

	case watcher.EventCreate, watcher.EventModify:
		before, err := s.repo.GetVideoByPath(ctx, path)
		if err != nil {
			return err
		}
		v, err := s.addFile(ctx, path)
		if err != nil || v == nil {
			return err
		}
		if before != nil && before.Fingerprint == v.Fingerprint && v.Status == VideoStatusFailed {
			if err := s.repo.UpdateVideoStatus(ctx, v.ID, VideoStatusPending, ""); err != nil {
				return err
			}
			_, err := s.queueJob(ctx, JobTypeThumbnail, v.ID, "")
			return err
		}
	}
	return nil
}

// AddVideos adds each path that is an existing regular file. Directories
// and missing paths are skipped. New or changed videos get a thumbnail job.
func (s *Service) AddVideos(ctx context.Context, paths []string) ([]*Video, error) {
	var added []*Video
	for _, p := range paths {
		v, err := s.addFile(ctx, p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrNotVideo) {
				if s.logger != nil {
					s.logger.Debug("skipping path", "path", p, "error", err)
				}
				continue
			}
			return added, err
		}
		if v != nil {
			added = append(added, v)
		}
	}
	return added, nil
}

// addFile returns (nil, nil) for directories.
func (s *Service) addFile(ctx context.Context, path string) (*Video, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotVideo
	}

	fingerprint, err := computeFingerprint(absPath)
	if err != nil {
		return nil, err
	}

	v, changed, err := s.repo.UpsertVideo(ctx, &Video{
		ID:          NewID(),
		Path:        absPath,
		Filename:    filepath.Base(absPath),
		Size:        info.Size(),
		Mtime:       info.ModTime(),
		Fingerprint: fingerprint,
	})
	if err != nil {
		return nil, err
	}

	if s.watcher != nil {
		if err := s.watcher.Watch(ctx, absPath); err != nil && s.logger != nil {
			s.logger.Warn("failed to watch video", "path", absPath, "error", err)
		}
	}

	if changed {
		if _, err := s.queueJob(ctx, JobTypeThumbnail, v.ID, ""); err != nil {
			return v, err
		}
		if s.logger != nil {
			s.logger.Info("video added", "video_id", v.ID, "path", absPath)
		}
	}
	return v, nil
}

// RemoveVideo drops a video from the library along with its jobs and
// cached thumbnail. The file itself is untouched.
func (s *Service) RemoveVideo(ctx context.Context, id string) error {
	v, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if v.ThumbnailPath != "" {
		if err := os.Remove(v.ThumbnailPath); err != nil && !errors.Is(err, os.ErrNotExist) && s.logger != nil {
			s.logger.Warn("failed to remove thumbnail", "path", v.ThumbnailPath, "error", err)
		}
	}
	if s.watcher != nil {
		s.watcher.Unwatch(v.Path)
	}
	return s.repo.DeleteVideo(ctx, id)
}

func (s *Service) GetVideos(ctx context.Context) ([]*Video, error) {
	return s.repo.ListVideos(ctx)
}

func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	return s.repo.GetVideo(ctx, id)
}

func (s *Service) CountVideos(ctx context.Context) (int, error) {
	return s.repo.CountVideos(ctx)
}

func (s *Service) TotalSize(ctx context.Context) (int64, error) {
	return s.repo.TotalVideoSize(ctx)
}

func (s *Service) GetJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

// ScanFolder queues a scan of a directory. The runner performs it.
func (s *Service) ScanFolder(ctx context.Context, path string) (*Job, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	job, err := s.queueJob(ctx, JobTypeScan, "", absPath)
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("scan job created", "job_id", job.ID, "path", absPath)
	}
	return job, nil
}

func (s *Service) queueJob(ctx context.Context, jobType, videoID, target string) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         NewID(),
		Type:       jobType,
		Status:     JobStatusPending,
		VideoID:    videoID,
		TargetPath: target,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ExecuteScan walks path for video files, skipping hidden directories,
// and adds them to the library.
func (s *Service) ExecuteScan(ctx context.Context, jobID, path string) error {
	s.repo.UpdateJobStatus(ctx, jobID, JobStatusRunning, "")
	if s.logger != nil {
		s.logger.Info("starting scan", "job_id", jobID, "path", path)
	}

	var files []string
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			return nil
		}
		if d.IsDir() && p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() && IsVideoFile(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		s.repo.UpdateJobStatus(ctx, jobID, JobStatusFailed, err.Error())
		return err
	}

	total := len(files)
	if s.logger != nil {
		s.logger.Info("found video files", "count", total)
	}

	for i, filePath := range files {
		select {
		case <-ctx.Done():
			s.repo.UpdateJobStatus(context.Background(), jobID, JobStatusFailed, "cancelled")
			return ctx.Err()
		default:
		}

		if _, err := s.addFile(ctx, filePath); err != nil && s.logger != nil {
			s.logger.Warn("failed to add video", "path", filePath, "error", err)
		}
		s.repo.UpdateJobProgress(ctx, jobID, (i+1)*100/total)
	}

	s.repo.UpdateJobStatus(ctx, jobID, JobStatusCompleted, "")
	if s.logger != nil {
		s.logger.Info("scan completed", "job_id", jobID, "files", total)
	}
	return nil
}

// RecordReview remembers a saved or loaded review file.
func (s *Service) RecordReview(ctx context.Context, path, videoPath string, annotatedFrames int) error {
	return s.repo.UpsertReview(ctx, &ReviewRecord{
		Path:            path,
		VideoPath:       videoPath,
		AnnotatedFrames: annotatedFrames,
		LastOpenedAt:    time.Now(),
	})
}

func (s *Service) RecentReviews(ctx context.Context, limit int) ([]*ReviewRecord, error) {
	return s.repo.ListReviews(ctx, limit)
}

func computeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, fingerprintSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
