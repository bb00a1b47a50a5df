package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/framewise/framewise/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pendingJobs(t *testing.T, repo Repository, jobType string) []*Job {
	t.Helper()
	jobs, err := repo.ListPendingJobs(context.Background())
	if err != nil {
		t.Fatalf("ListPendingJobs() error = %v", err)
	}
	var out []*Job
	for _, j := range jobs {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

func TestService_AddVideos(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	dir := t.TempDir()
	clip := writeFile(t, filepath.Join(dir, "clip.mp4"), "not really a video")

	added, err := svc.AddVideos(context.Background(), []string{
		clip,
		dir,
		filepath.Join(dir, "missing.mp4"),
	})
	if err != nil {
		t.Fatalf("AddVideos() error = %v", err)
	}
	if len(added) != 1 {
		t.Fatalf("added %d videos, want 1", len(added))
	}

	v := added[0]
	if v.Path != clip || v.Filename != "clip.mp4" {
		t.Errorf("video = %+v", v)
	}
	if v.Status != VideoStatusPending {
		t.Errorf("status = %s, want pending", v.Status)
	}
	if v.Size != int64(len("not really a video")) {
		t.Errorf("size = %d", v.Size)
	}
	if v.Fingerprint == "" {
		t.Error("fingerprint is empty")
	}

	jobs := pendingJobs(t, repo, JobTypeThumbnail)
	if len(jobs) != 1 || jobs[0].VideoID != v.ID {
		t.Errorf("thumbnail jobs = %+v", jobs)
	}
}

func TestService_AddVideos_Idempotent(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	clip := writeFile(t, filepath.Join(t.TempDir(), "clip.mov"), "frames")
	ctx := context.Background()

	first, err := svc.AddVideos(ctx, []string{clip})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.AddVideos(ctx, []string{clip})
	if err != nil {
		t.Fatal(err)
	}
	if first[0].ID != second[0].ID {
		t.Errorf("re-adding changed the ID: %s != %s", first[0].ID, second[0].ID)
	}
	if n, _ := svc.CountVideos(ctx); n != 1 {
		t.Errorf("CountVideos() = %d, want 1", n)
	}
	if jobs := pendingJobs(t, repo, JobTypeThumbnail); len(jobs) != 1 {
		t.Errorf("unchanged file queued %d thumbnail jobs, want 1", len(jobs))
	}

	writeFile(t, clip, "different frames")
	if _, err := svc.AddVideos(ctx, []string{clip}); err != nil {
		t.Fatal(err)
	}
	if jobs := pendingJobs(t, repo, JobTypeThumbnail); len(jobs) != 2 {
		t.Errorf("changed file should queue another thumbnail job, have %d", len(jobs))
	}
}

func TestService_RemoveVideo(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()
	dir := t.TempDir()
	clip := writeFile(t, filepath.Join(dir, "clip.mp4"), "x")
	thumb := writeFile(t, filepath.Join(dir, "thumb.jpg"), "jpeg")

	added, err := svc.AddVideos(ctx, []string{clip})
	if err != nil {
		t.Fatal(err)
	}
	v := added[0]
	v.ThumbnailPath = thumb
	if err := repo.UpdateVideoMedia(ctx, v); err != nil {
		t.Fatal(err)
	}

	if err := svc.RemoveVideo(ctx, v.ID); err != nil {
		t.Fatalf("RemoveVideo() error = %v", err)
	}
	if got, _ := svc.GetVideo(ctx, v.ID); got != nil {
		t.Error("video still present after RemoveVideo")
	}
	if _, err := os.Stat(thumb); !os.IsNotExist(err) {
		t.Error("thumbnail should be removed")
	}
	if _, err := os.Stat(clip); err != nil {
		t.Error("video file itself must not be touched")
	}
	if jobs := pendingJobs(t, repo, JobTypeThumbnail); len(jobs) != 0 {
		t.Errorf("jobs should cascade, have %d", len(jobs))
	}

	if err := svc.RemoveVideo(ctx, "unknown"); err != nil {
		t.Errorf("RemoveVideo(unknown) error = %v", err)
	}
}

func TestService_ScanFolder(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp4"), "a")
	writeFile(t, filepath.Join(dir, "nested", "b.MKV"), "b")
	writeFile(t, filepath.Join(dir, "notes.txt"), "c")
	writeFile(t, filepath.Join(dir, ".hidden", "c.mp4"), "d")

	job, err := svc.ScanFolder(ctx, dir)
	if err != nil {
		t.Fatalf("ScanFolder() error = %v", err)
	}
	if job.Type != JobTypeScan || job.TargetPath != dir || job.Status != JobStatusPending {
		t.Errorf("job = %+v", job)
	}

	if err := svc.ExecuteScan(ctx, job.ID, job.TargetPath); err != nil {
		t.Fatalf("ExecuteScan() error = %v", err)
	}

	videos, err := svc.GetVideos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) != 2 {
		t.Fatalf("scanned %d videos, want 2: %+v", len(videos), videos)
	}
	if videos[0].Filename != "a.mp4" || videos[1].Filename != "b.MKV" {
		t.Errorf("videos = %s, %s", videos[0].Filename, videos[1].Filename)
	}

	got, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobStatusCompleted || got.Progress != 100 {
		t.Errorf("scan job = %+v", got)
	}

	size, err := svc.TotalSize(ctx)
	if err != nil || size != 2 {
		t.Errorf("TotalSize() = %d, %v", size, err)
	}
}

func TestService_ScanFolder_NotDirectory(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	file := writeFile(t, filepath.Join(t.TempDir(), "clip.mp4"), "x")

	if _, err := svc.ScanFolder(context.Background(), file); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("ScanFolder(file) error = %v, want ErrNotDirectory", err)
	}
	if _, err := svc.ScanFolder(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("ScanFolder() should fail for a missing path")
	}
}

func TestService_RecordReview(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	if err := svc.RecordReview(ctx, "/reviews/a.json", "/videos/a.mp4", 1); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordReview(ctx, "/reviews/b.json", "/videos/b.mp4", 2); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordReview(ctx, "/reviews/a.json", "/videos/a.mp4", 5); err != nil {
		t.Fatal(err)
	}

	recs, err := svc.RecentReviews(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d reviews, want 2", len(recs))
	}
	if recs[0].Path != "/reviews/a.json" || recs[0].AnnotatedFrames != 5 {
		t.Errorf("most recent review = %+v", recs[0])
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := map[string]bool{
		"clip.mp4":    true,
		"CLIP.MOV":    true,
		"a.m4v":       true,
		"b.avi":       true,
		"c.mkv":       true,
		"notes.txt":   false,
		"review.json": false,
		"noext":       false,
	}
	for name, want := range tests {
		if got := IsVideoFile(name); got != want {
			t.Errorf("IsVideoFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRepository_Config(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	if v, err := repo.GetConfig(ctx, "auth_token"); err != nil || v != "" {
		t.Errorf("GetConfig(missing) = %q, %v", v, err)
	}
	if err := repo.SetConfig(ctx, "auth_token", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetConfig(ctx, "auth_token", "def"); err != nil {
		t.Fatal(err)
	}
	if v, _ := repo.GetConfig(ctx, "auth_token"); v != "def" {
		t.Errorf("GetConfig() = %q, want def", v)
	}
}
