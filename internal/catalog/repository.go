package catalog

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	UpsertVideo(ctx context.Context, v *Video) (*Video, bool, error)
	GetVideo(ctx context.Context, id string) (*Video, error)
	GetVideoByPath(ctx context.Context, path string) (*Video, error)
	ListVideos(ctx context.Context) ([]*Video, error)
	DeleteVideo(ctx context.Context, id string) error
	CountVideos(ctx context.Context) (int, error)
	TotalVideoSize(ctx context.Context) (int64, error)
	UpdateVideoMedia(ctx context.Context, v *Video) error
	UpdateVideoStatus(ctx context.Context, id, status, errorMsg string) error

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error

	UpsertReview(ctx context.Context, rec *ReviewRecord) error
	ListReviews(ctx context.Context, limit int) ([]*ReviewRecord, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// timestampLayout is fixed-width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const videoColumns = `id, path, filename, size, mtime, fingerprint, frame_count, fps, width, height,
	codec, thumbnail_path, status, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*Video, error) {
	var v Video
	var mtime, createdAt, updatedAt string
	var codec, thumb, errMsg sql.NullString

	err := row.Scan(&v.ID, &v.Path, &v.Filename, &v.Size, &mtime, &v.Fingerprint,
		&v.FrameCount, &v.FPS, &v.Width, &v.Height, &codec, &thumb, &v.Status, &errMsg,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	v.Codec = codec.String
	v.ThumbnailPath = thumb.String
	v.Error = errMsg.String
	v.Mtime, _ = time.Parse(time.RFC3339, mtime)
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &v, nil
}

// UpsertVideo inserts v or refreshes the stat fields of the row with the
// same path. It returns the stored row and whether its content changed
// (new row or different fingerprint).
func (r *SQLiteRepository) UpsertVideo(ctx context.Context, v *Video) (*Video, bool, error) {
	existing, err := r.GetVideoByPath(ctx, v.Path)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if existing == nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO videos (id, path, filename, size, mtime, fingerprint, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, v.ID, v.Path, v.Filename, v.Size, v.Mtime.UTC().Format(time.RFC3339), v.Fingerprint,
			VideoStatusPending, now, now)
		if err != nil {
			return nil, false, err
		}
		stored, err := r.GetVideo(ctx, v.ID)
		return stored, true, err
	}

	changed := existing.Fingerprint != v.Fingerprint
	status := existing.Status
	if changed {
		status = VideoStatusPending
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE videos SET size = ?, mtime = ?, fingerprint = ?, status = ?, updated_at = ? WHERE id = ?
	`, v.Size, v.Mtime.UTC().Format(time.RFC3339), v.Fingerprint, status, now, existing.ID)
	if err != nil {
		return nil, false, err
	}
	stored, err := r.GetVideo(ctx, existing.ID)
	return stored, changed, err
}

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLiteRepository) GetVideoByPath(ctx context.Context, path string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE path = ?`, path)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLiteRepository) ListVideos(ctx context.Context) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY filename COLLATE NOCASE, path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLiteRepository) DeleteVideo(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CountVideos(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM videos").Scan(&count)
	return count, err
}

func (r *SQLiteRepository) TotalVideoSize(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(size), 0) FROM videos").Scan(&total)
	return total, err
}

// UpdateVideoMedia stores probe results and the thumbnail path and marks
// the video ready.
func (r *SQLiteRepository) UpdateVideoMedia(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET frame_count = ?, fps = ?, width = ?, height = ?, codec = ?,
			thumbnail_path = ?, status = ?, error = NULL, updated_at = ?
		WHERE id = ?
	`, v.FrameCount, v.FPS, v.Width, v.Height, nullString(v.Codec), nullString(v.ThumbnailPath),
		VideoStatusReady, time.Now().UTC().Format(time.RFC3339), v.ID)
	return err
}

func (r *SQLiteRepository) UpdateVideoStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

const jobColumns = `id, type, status, video_id, target_path, progress, error, created_at, updated_at`

func scanJob(row scanner) (*Job, error) {
	var j Job
	var videoID, target, errMsg sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&j.ID, &j.Type, &j.Status, &videoID, &target, &j.Progress, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.VideoID = videoID.String
	j.TargetPath = target.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, video_id, target_path, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.VideoID), nullString(j.TargetPath),
		j.Progress, nullString(j.Error),
		j.CreatedAt.UTC().Format(timestampLayout), j.UpdatedAt.UTC().Format(timestampLayout))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), time.Now().UTC().Format(timestampLayout), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, time.Now().UTC().Format(timestampLayout), id)
	return err
}

func (r *SQLiteRepository) UpsertReview(ctx context.Context, rec *ReviewRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reviews (path, video_path, annotated_frames, last_opened_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			video_path = excluded.video_path,
			annotated_frames = excluded.annotated_frames,
			last_opened_at = excluded.last_opened_at
	`, rec.Path, rec.VideoPath, rec.AnnotatedFrames, rec.LastOpenedAt.UTC().Format(timestampLayout))
	return err
}

func (r *SQLiteRepository) ListReviews(ctx context.Context, limit int) ([]*ReviewRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT path, video_path, annotated_frames, last_opened_at
		FROM reviews ORDER BY last_opened_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ReviewRecord
	for rows.Next() {
		var rec ReviewRecord
		var opened string
		if err := rows.Scan(&rec.Path, &rec.VideoPath, &rec.AnnotatedFrames, &opened); err != nil {
			return nil, err
		}
		rec.LastOpenedAt = parseTime(opened)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, key, value)
	return err
}

// parseTime accepts both RFC3339 timestamps and sqlite's datetime('now')
// format, which markInterruptedJobs writes.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
