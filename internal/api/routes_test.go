package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/framewise/framewise/internal/catalog"
	"github.com/framewise/framewise/internal/export"
	"github.com/framewise/framewise/internal/pipeline"
	"github.com/framewise/framewise/internal/playback"
	"github.com/framewise/framewise/internal/review"
	"github.com/framewise/framewise/internal/session"
	"github.com/framewise/framewise/internal/video"
)

func TestHealthRoute_NoAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRouter_RejectsRemoteClients(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	expectError(t, rr, http.StatusForbidden, CodeForbidden)
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/status", "/videos", "/jobs", "/reviews", "/session/"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = "127.0.0.1:4000"
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want %d", target, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("metrics output missing go runtime collector")
	}
}

func TestStatusHandler_Idle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "idle" {
		t.Errorf("state = %q, want idle", resp.State)
	}
	if resp.VideosCount != 0 || resp.JobsActive != 0 {
		t.Errorf("videos = %d, jobs = %d, want 0, 0", resp.VideosCount, resp.JobsActive)
	}
	if resp.Decoder != nil {
		t.Errorf("decoder = %+v, want nil without a doctor", resp.Decoder)
	}
	if resp.Session.Video != nil {
		t.Errorf("session video = %+v, want nil", resp.Session.Video)
	}
}

func TestStatusHandler_WithLibraryAndSession(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t)

	rr := env.do(t, http.MethodPost, "/videos", AddVideosRequest{Paths: []string{env.video}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/status", nil)
	var resp StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.VideosCount != 1 {
		t.Errorf("videos = %d, want 1", resp.VideosCount)
	}
	if resp.LibrarySize != "2.0 kB" {
		t.Errorf("library size = %q, want %q", resp.LibrarySize, "2.0 kB")
	}
	if resp.JobsActive != 1 {
		t.Errorf("jobs active = %d, want 1 (queued thumbnail)", resp.JobsActive)
	}
	if resp.Session.Video == nil || resp.Session.Video.FrameCount != 100 {
		t.Errorf("session video = %+v, want 100 frames", resp.Session.Video)
	}
}

func TestStatusHandler_WithDoctor(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Doctor = pipeline.NewCachedDoctor(missingBinaries{}, env.cfg.Logger)
	if _, err := env.cfg.Doctor.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	handler := NewRouter(env.cfg)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var resp StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Decoder == nil {
		t.Fatal("decoder status missing")
	}
	if resp.Decoder.CanDecode {
		t.Error("can_decode = true, want false with missing binaries")
	}
	if resp.Decoder.FFmpeg.Error == "" {
		t.Error("ffmpeg error missing")
	}
}

type missingBinaries struct{}

func (missingBinaries) RunDoctor(ctx context.Context) (*pipeline.Capabilities, error) {
	return &pipeline.Capabilities{
		FFmpeg:   pipeline.DepInfo{Error: "ffmpeg not found"},
		FFprobe:  pipeline.DepInfo{Error: "ffprobe not found"},
		ProbedAt: time.Now(),
	}, nil
}

func TestVideosRoutes(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/videos", AddVideosRequest{Paths: []string{env.video, filepath.Join(env.dir, "missing.mp4")}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rr.Code, rr.Body.String())
	}
	var added VideosResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &added); err != nil {
		t.Fatal(err)
	}
	if len(added.Videos) != 1 {
		t.Fatalf("added %d videos, want 1", len(added.Videos))
	}
	v := added.Videos[0]
	if v.Filename != "clip.mp4" || v.Status != catalog.VideoStatusPending {
		t.Errorf("video = %+v", v)
	}

	rr = env.do(t, http.MethodGet, "/videos", nil)
	var listed VideosResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Videos) != 1 || listed.Videos[0].ID != v.ID {
		t.Fatalf("listed = %+v", listed.Videos)
	}

	rr = env.do(t, http.MethodGet, "/videos/"+v.ID+"/thumbnail", nil)
	expectError(t, rr, http.StatusNotFound, CodeNotFound)

	rr = env.do(t, http.MethodDelete, "/videos/"+v.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/videos", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Videos) != 0 {
		t.Errorf("videos after delete = %d, want 0", len(listed.Videos))
	}
}

func TestAddVideos_BadRequest(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/videos", "not json")
	expectError(t, rr, http.StatusBadRequest, CodeBadRequest)

	rr = env.do(t, http.MethodPost, "/videos", AddVideosRequest{})
	expectError(t, rr, http.StatusBadRequest, CodeBadRequest)
}

func TestThumbnailRoute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	videos, err := env.cfg.Library.AddVideos(ctx, []string{env.video})
	if err != nil || len(videos) != 1 {
		t.Fatalf("AddVideos = %v, %v", videos, err)
	}
	thumb := filepath.Join(env.dir, "thumb.jpg")
	if err := os.WriteFile(thumb, []byte("jpeg"), 0644); err != nil {
		t.Fatal(err)
	}
	v := videos[0]
	v.FrameCount, v.FPS, v.Width, v.Height, v.Codec, v.ThumbnailPath = 100, 25, 64, 36, "h264", thumb
	if err := env.repo.UpdateVideoMedia(ctx, v); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/videos/"+videos[0].ID+"/thumbnail", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", got)
	}
	if rr.Body.String() != "jpeg" {
		t.Errorf("body = %q", rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/videos/nope/thumbnail", nil)
	expectError(t, rr, http.StatusNotFound, CodeNotFound)
}

func TestScanRoute(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/videos/scan", ScanRequest{Path: env.dir})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp ScanResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	rr = env.do(t, http.MethodGet, "/jobs/"+resp.JobID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("job status = %d", rr.Code)
	}
	var job JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.Type != catalog.JobTypeScan || job.Status != catalog.JobStatusPending {
		t.Errorf("job = %+v", job)
	}

	rr = env.do(t, http.MethodGet, "/jobs", nil)
	var jobs JobsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs.Jobs) != 1 {
		t.Errorf("jobs = %d, want 1", len(jobs.Jobs))
	}
}

func TestScanRoute_Errors(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/videos/scan", ScanRequest{Path: filepath.Join(env.dir, "missing")})
	expectError(t, rr, http.StatusNotFound, CodeFileNotFound)

	rr = env.do(t, http.MethodPost, "/videos/scan", ScanRequest{Path: env.video})
	expectError(t, rr, http.StatusBadRequest, CodeBadRequest)

	rr = env.do(t, http.MethodPost, "/videos/scan", ScanRequest{})
	expectError(t, rr, http.StatusBadRequest, CodeBadRequest)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/jobs/missing", nil)
	expectError(t, rr, http.StatusNotFound, CodeNotFound)
}

func TestReviewsRoute(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t)

	path := filepath.Join(env.dir, "notes.json")
	rr := env.do(t, http.MethodPost, "/session/review/save", ReviewPathRequest{Path: path})
	if rr.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/reviews?limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp ReviewsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Reviews) != 1 {
		t.Fatalf("reviews = %d, want 1", len(resp.Reviews))
	}
	if resp.Reviews[0].Path != path || resp.Reviews[0].VideoPath != env.video {
		t.Errorf("review = %+v", resp.Reviews[0])
	}
}

func TestQueryInt(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=-3", 50},
		{"limit=abc", 50},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/jobs?"+tc.query, nil)
		if got := queryInt(req, "limit", 50); got != tc.want {
			t.Errorf("queryInt(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: x.mp4", video.ErrFileNotFound), http.StatusNotFound, CodeFileNotFound},
		{review.ErrFileNotFound, http.StatusNotFound, CodeFileNotFound},
		{fmt.Errorf("%w: clip.mp4", playback.ErrFileNotFound), http.StatusNotFound, CodeFileNotFound},
		{playback.ErrNotFile, http.StatusUnsupportedMediaType, CodeUnsupportedFormat},
		{video.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, CodeUnsupportedFormat},
		{review.ErrInvalidFormat, http.StatusUnprocessableEntity, CodeInvalidFormat},
		{video.ErrOutOfRange, http.StatusRequestedRangeNotSatisfiable, CodeOutOfRange},
		{review.ErrInvalidFrame, http.StatusRequestedRangeNotSatisfiable, CodeOutOfRange},
		{session.ErrNoVideo, http.StatusConflict, CodeNoSession},
		{session.ErrNoReview, http.StatusConflict, CodeNoSession},
		{pipeline.ErrBinaryNotFound, http.StatusServiceUnavailable, CodeDecoderMissing},
		{review.ErrInvalidMarkup, http.StatusBadRequest, CodeBadRequest},
		{session.ErrNoPath, http.StatusBadRequest, CodeBadRequest},
		{export.ErrInvalidOutputDir, http.StatusBadRequest, CodeBadRequest},
		{catalog.ErrNotDirectory, http.StatusBadRequest, CodeBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tc := range cases {
		status, code := errorStatus(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("errorStatus(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestWriteServiceError_HidesInternalErrors(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()

	writeServiceError(rr, env.cfg.Logger, errors.New("secret path /home/me"))

	if bytes.Contains(rr.Body.Bytes(), []byte("secret")) {
		t.Errorf("body leaks internal error: %s", rr.Body.String())
	}
	expectError(t, rr, http.StatusInternalServerError, CodeInternal)
}
