package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/framewise/framewise/internal/video"
)

// Video is a file in the review library.
type Video struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	Filename      string    `json:"filename"`
	Size          int64     `json:"size"`
	Mtime         time.Time `json:"mtime"`
	Fingerprint   string    `json:"fingerprint"`
	FrameCount    int       `json:"frame_count"`
	FPS           float64   `json:"fps"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Codec         string    `json:"codec,omitempty"`
	ThumbnailPath string    `json:"-"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	VideoStatusPending = "pending"
	VideoStatusReady   = "ready"
	VideoStatusFailed  = "failed"
)

const (
	JobTypeScan      = "scan"
	JobTypeThumbnail = "thumbnail"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	VideoID    string    `json:"video_id,omitempty"`
	TargetPath string    `json:"target_path,omitempty"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReviewRecord is a review file the agent has loaded or saved.
type ReviewRecord struct {
	Path            string    `json:"path"`
	VideoPath       string    `json:"video_path"`
	AnnotatedFrames int       `json:"annotated_frames"`
	LastOpenedAt    time.Time `json:"last_opened_at"`
}

func NewID() string {
	return uuid.NewString()
}

// IsVideoFile reports whether filename has one of the library's video
// extensions.
func IsVideoFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range video.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
