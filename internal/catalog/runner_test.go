package catalog

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/framewise/framewise/internal/pipeline"
)

type fakeFFmpeg struct {
	probeCalls   atomic.Int32
	extractCalls atomic.Int32
	probeErr     error
	extractErr   error
	probe        pipeline.ProbeResult
}

func (f *fakeFFmpeg) Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error) {
	f.probeCalls.Add(1)
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	p := f.probe
	return &p, nil
}

func (f *fakeFFmpeg) ExtractFrame(ctx context.Context, path string, seconds float64) (image.Image, error) {
	f.extractCalls.Add(1)
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	for y := 0; y < 180; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{0, 200, 0, 255})
		}
	}
	return img, nil
}

type fakeProber struct {
	caps *pipeline.Capabilities
}

func (f *fakeProber) RunDoctor(ctx context.Context) (*pipeline.Capabilities, error) {
	return f.caps, nil
}

func setupRunnerTest(t *testing.T, ff *fakeFFmpeg, caps *pipeline.Capabilities) (*Runner, *Service, Repository, string) {
	t.Helper()

	database, repo := setupTestDB(t)
	t.Cleanup(func() { database.Close() })

	svc := NewService(repo, nil)
	thumbDir := filepath.Join(t.TempDir(), "thumbnails")

	var doctor *pipeline.CachedDoctor
	if caps != nil {
		doctor = pipeline.NewCachedDoctor(&fakeProber{caps: caps}, nil)
	}

	runner := NewRunner(svc, repo, ff, doctor, RunnerConfig{ThumbnailDir: thumbDir}, nil)
	return runner, svc, repo, thumbDir
}

func decodeCaps() *pipeline.Capabilities {
	return &pipeline.Capabilities{
		FFmpeg:  pipeline.DepInfo{Available: true, Path: "/usr/bin/ffmpeg"},
		FFprobe: pipeline.DepInfo{Available: true, Path: "/usr/bin/ffprobe"},
	}
}

func addClip(t *testing.T, svc *Service) *Video {
	t.Helper()
	clip := writeFile(t, filepath.Join(t.TempDir(), "clip.mp4"), "video bytes")
	added, err := svc.AddVideos(context.Background(), []string{clip})
	if err != nil || len(added) != 1 {
		t.Fatalf("AddVideos() = %v, %v", added, err)
	}
	return added[0]
}

func TestRunner_ThumbnailJob(t *testing.T) {
	ff := &fakeFFmpeg{probe: pipeline.ProbeResult{
		Duration: 4, Width: 320, Height: 180, Codec: "h264", FrameRate: 25, FrameCount: 100,
	}}
	runner, svc, repo, thumbDir := setupRunnerTest(t, ff, decodeCaps())
	ctx := context.Background()
	v := addClip(t, svc)

	if !runner.ProcessNext(ctx) {
		t.Fatal("ProcessNext() found no job")
	}
	if runner.ProcessNext(ctx) {
		t.Error("queue should be empty after one job")
	}

	got, err := repo.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != VideoStatusReady {
		t.Errorf("status = %s, want ready (error %q)", got.Status, got.Error)
	}
	if got.FrameCount != 100 || got.FPS != 25 || got.Width != 320 || got.Codec != "h264" {
		t.Errorf("media = %+v", got)
	}
	if got.ThumbnailPath != filepath.Join(thumbDir, v.ID+".jpg") {
		t.Errorf("thumbnail path = %s", got.ThumbnailPath)
	}

	f, err := os.Open(got.ThumbnailPath)
	if err != nil {
		t.Fatalf("thumbnail not written: %v", err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 160 || b.Dy() != 90 {
		t.Errorf("thumbnail size = %dx%d, want 160x90", b.Dx(), b.Dy())
	}

	jobs, _ := repo.ListJobs(ctx, 10)
	if len(jobs) != 1 || jobs[0].Status != JobStatusCompleted || jobs[0].Progress != 100 {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestRunner_ThumbnailJob_FPSFromDuration(t *testing.T) {
	ff := &fakeFFmpeg{probe: pipeline.ProbeResult{Duration: 10, FrameCount: 300}}
	runner, svc, repo, _ := setupRunnerTest(t, ff, nil)
	ctx := context.Background()
	v := addClip(t, svc)

	runner.ProcessNext(ctx)

	got, _ := repo.GetVideo(ctx, v.ID)
	if got.FPS != 30 {
		t.Errorf("fps = %v, want 30", got.FPS)
	}
}

func TestRunner_ThumbnailJob_ProbeFails(t *testing.T) {
	ff := &fakeFFmpeg{probeErr: errors.New("moov atom not found")}
	runner, svc, repo, _ := setupRunnerTest(t, ff, decodeCaps())
	ctx := context.Background()
	v := addClip(t, svc)

	runner.ProcessNext(ctx)

	got, _ := repo.GetVideo(ctx, v.ID)
	if got.Status != VideoStatusFailed || got.Error == "" {
		t.Errorf("video = %+v, want failed with error", got)
	}
	jobs, _ := repo.ListJobs(ctx, 10)
	if jobs[0].Status != JobStatusFailed {
		t.Errorf("job status = %s, want failed", jobs[0].Status)
	}
	if ff.extractCalls.Load() != 0 {
		t.Error("frame extraction should not run after a failed probe")
	}
}

func TestRunner_ThumbnailJob_NoFFmpeg(t *testing.T) {
	ff := &fakeFFmpeg{}
	caps := &pipeline.Capabilities{}
	runner, svc, repo, _ := setupRunnerTest(t, ff, caps)
	ctx := context.Background()
	addClip(t, svc)

	runner.ProcessNext(ctx)

	if ff.probeCalls.Load() != 0 {
		t.Error("probe should not run without ffmpeg")
	}
	jobs, _ := repo.ListJobs(ctx, 10)
	if jobs[0].Status != JobStatusFailed {
		t.Errorf("job status = %s, want failed", jobs[0].Status)
	}
}

func TestRunner_ScanJobQueuesThumbnails(t *testing.T) {
	ff := &fakeFFmpeg{probe: pipeline.ProbeResult{FrameRate: 24, FrameCount: 48}}
	runner, svc, repo, _ := setupRunnerTest(t, ff, nil)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), "a")
	writeFile(t, filepath.Join(dir, "b.mov"), "b")

	if _, err := svc.ScanFolder(ctx, dir); err != nil {
		t.Fatal(err)
	}

	processed := 0
	for runner.ProcessNext(ctx) {
		processed++
		if processed > 10 {
			t.Fatal("runner did not drain the queue")
		}
	}
	if processed != 3 {
		t.Errorf("processed %d jobs, want 3 (scan + 2 thumbnails)", processed)
	}

	videos, _ := repo.ListVideos(ctx)
	for _, v := range videos {
		if v.Status != VideoStatusReady {
			t.Errorf("%s status = %s", v.Filename, v.Status)
		}
	}
}

func TestRunner_UnknownJobType(t *testing.T) {
	runner, _, repo, _ := setupRunnerTest(t, &fakeFFmpeg{}, nil)
	ctx := context.Background()

	job := &Job{ID: NewID(), Type: "transcode", Status: JobStatusPending}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	runner.ProcessNext(ctx)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestRunner_PauseResume(t *testing.T) {
	runner, _, _, _ := setupRunnerTest(t, &fakeFFmpeg{}, nil)

	if runner.IsPaused() {
		t.Error("runner should start unpaused")
	}
	runner.Pause()
	if !runner.IsPaused() {
		t.Error("Pause() had no effect")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("Resume() had no effect")
	}
	if runner.IsRunning() {
		t.Error("runner is not started")
	}
}

func TestRunner_GetActiveJobCount(t *testing.T) {
	runner, svc, _, _ := setupRunnerTest(t, &fakeFFmpeg{}, nil)
	addClip(t, svc)
	addClip(t, svc)

	if n := runner.GetActiveJobCount(context.Background()); n != 2 {
		t.Errorf("GetActiveJobCount() = %d, want 2", n)
	}
}
