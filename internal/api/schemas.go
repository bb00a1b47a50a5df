package api

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/framewise/framewise/internal/catalog"
	"github.com/framewise/framewise/internal/pipeline"
	"github.com/framewise/framewise/internal/review"
	"github.com/framewise/framewise/internal/session"
	"github.com/framewise/framewise/internal/video"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string          `json:"state"`
	LastError    string          `json:"last_error,omitempty"`
	Session      SessionResponse `json:"session"`
	VideosCount  int             `json:"videos_count"`
	LibrarySize  string          `json:"library_size"`
	JobsActive   int             `json:"jobs_active"`
	ActiveJob    *JobResponse    `json:"active_job,omitempty"`
	RunnerPaused bool            `json:"runner_paused"`
	Decoder      *DecoderStatus  `json:"decoder,omitempty"`
}

type DecoderStatus struct {
	CanDecode   bool             `json:"can_decode"`
	FFmpeg      pipeline.DepInfo `json:"ffmpeg"`
	FFprobe     pipeline.DepInfo `json:"ffprobe"`
	LastProbeAt string           `json:"last_probe_at,omitempty"`
}

type SessionResponse struct {
	Video           *video.Info `json:"video,omitempty"`
	ReviewPath      string      `json:"review_path,omitempty"`
	CurrentFrame    int         `json:"current_frame"`
	AnnotatedFrames int         `json:"annotated_frames"`
}

type AddVideosRequest struct {
	Paths []string `json:"paths"`
}

type VideoResponse struct {
	ID           string  `json:"id"`
	Path         string  `json:"path"`
	Filename     string  `json:"filename"`
	Size         int64   `json:"size"`
	SizeHuman    string  `json:"size_human"`
	FrameCount   int     `json:"frame_count"`
	FPS          float64 `json:"fps"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	Codec        string  `json:"codec,omitempty"`
	Status       string  `json:"status"`
	Error        string  `json:"error,omitempty"`
	HasThumbnail bool    `json:"has_thumbnail"`
	Added        string  `json:"added"`
	CreatedAt    string  `json:"created_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type ScanRequest struct {
	Path string `json:"path"`
}

type ScanResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	VideoID    string `json:"video_id,omitempty"`
	TargetPath string `json:"target_path,omitempty"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ReviewResponse struct {
	Path            string `json:"path"`
	VideoPath       string `json:"video_path"`
	AnnotatedFrames int    `json:"annotated_frames"`
	LastOpenedAt    string `json:"last_opened_at"`
	LastOpened      string `json:"last_opened"`
}

type ReviewsResponse struct {
	Reviews []ReviewResponse `json:"reviews"`
}

// OpenVideoRequest names the video by path or by library ID.
type OpenVideoRequest struct {
	Path    string `json:"path,omitempty"`
	VideoID string `json:"video_id,omitempty"`
}

type ReviewPathRequest struct {
	Path string `json:"path"`
}

type ReviewLoadResponse struct {
	Path            string      `json:"path"`
	Video           *video.Info `json:"video,omitempty"`
	AnnotatedFrames int         `json:"annotated_frames"`
}

type ReviewSaveResponse struct {
	Path            string `json:"path"`
	AnnotatedFrames int    `json:"annotated_frames"`
}

type AnnotationResponse struct {
	Index      int                    `json:"index"`
	Label      string                 `json:"label"`
	Annotation review.FrameAnnotation `json:"annotation"`
}

type CommentRequest struct {
	Comment string `json:"comment"`
}

type CheckpointsResponse struct {
	Checkpoints []session.Checkpoint `json:"checkpoints"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToResponse(st session.State) SessionResponse {
	return SessionResponse{
		Video:           st.Video,
		ReviewPath:      st.ReviewPath,
		CurrentFrame:    st.CurrentFrame,
		AnnotatedFrames: st.AnnotatedFrames,
	}
}

func VideoToResponse(v *catalog.Video) VideoResponse {
	return VideoResponse{
		ID:           v.ID,
		Path:         v.Path,
		Filename:     v.Filename,
		Size:         v.Size,
		SizeHuman:    humanize.Bytes(uint64(max(v.Size, 0))),
		FrameCount:   v.FrameCount,
		FPS:          v.FPS,
		Width:        v.Width,
		Height:       v.Height,
		Codec:        v.Codec,
		Status:       v.Status,
		Error:        v.Error,
		HasThumbnail: v.ThumbnailPath != "",
		Added:        humanize.Time(v.CreatedAt),
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Type:       j.Type,
		Status:     j.Status,
		VideoID:    j.VideoID,
		TargetPath: j.TargetPath,
		Progress:   j.Progress,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
}

func ReviewToResponse(rec *catalog.ReviewRecord) ReviewResponse {
	return ReviewResponse{
		Path:            rec.Path,
		VideoPath:       rec.VideoPath,
		AnnotatedFrames: rec.AnnotatedFrames,
		LastOpenedAt:    rec.LastOpenedAt.Format(time.RFC3339),
		LastOpened:      humanize.Time(rec.LastOpenedAt),
	}
}

func DecoderToResponse(caps *pipeline.Capabilities) *DecoderStatus {
	if caps == nil {
		return nil
	}
	return &DecoderStatus{
		CanDecode:   caps.CanDecode(),
		FFmpeg:      caps.FFmpeg,
		FFprobe:     caps.FFprobe,
		LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
	}
}
