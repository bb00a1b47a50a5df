package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/framewise/framewise/internal/catalog"
	"github.com/framewise/framewise/internal/db"
	"github.com/framewise/framewise/internal/pipeline"
	"github.com/framewise/framewise/internal/playback"
	"github.com/framewise/framewise/internal/session"
)

const testToken = "test-token-0123456789"

// fakeFFmpeg reports a 100-frame, 25 fps, 64x36 video whose frames are
// solid black.
type fakeFFmpeg struct{}

func (fakeFFmpeg) Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error) {
	return &pipeline.ProbeResult{Duration: 4, Width: 64, Height: 36, FrameRate: 25, FrameCount: 100, Codec: "h264"}, nil
}

func (fakeFFmpeg) ExtractFrame(ctx context.Context, path string, seconds float64) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for y := 0; y < 36; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}
	return img, nil
}

type testEnv struct {
	cfg     ServerConfig
	handler http.Handler
	repo    catalog.Repository
	dir     string
	video   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := catalog.NewService(repo, logger)
	sess := session.New(session.Options{FFmpeg: fakeFFmpeg{}, Recorder: svc, Logger: logger})

	videoPath := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(videoPath, bytes.Repeat([]byte("v"), 2048), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := ServerConfig{
		Version:        "test",
		Session:        sess,
		Library:        svc,
		Repository:     repo,
		PlaybackServer: playback.NewServer(logger),
		Logger:         logger,
		StartTime:      time.Now(),
	}
	return &testEnv{cfg: cfg, handler: NewRouter(cfg), repo: repo, dir: dir, video: videoPath}
}

// do sends an authenticated loopback request through the router.
func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) openVideo(t *testing.T) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/session/video", OpenVideoRequest{Path: e.video})
	if rr.Code != http.StatusOK {
		t.Fatalf("open video status = %d: %s", rr.Code, rr.Body.String())
	}
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v: %q", err, rr.Body.String())
	}
	return body
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d: %s", rr.Code, status, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != code {
		t.Fatalf("code = %v, want %s", body["code"], code)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Fatal("error message is empty")
	}
}
