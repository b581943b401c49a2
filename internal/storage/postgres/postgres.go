package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/openscribe/scribe-service/internal/apperr"
	"github.com/openscribe/scribe-service/internal/config"
	"github.com/openscribe/scribe-service/internal/types"
)

type Postgres struct {
	Db *sql.DB
}

func NewPostgres(cfg *config.Config) (*Postgres, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.PGSQL.Host, cfg.PGSQL.Port, cfg.PGSQL.User, cfg.PGSQL.Password, cfg.PGSQL.DBName, cfg.PGSQL.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		return nil, err
	}

	log.Println("Connected to Postgres database")

	pg := &Postgres{Db: db}
	err = pg.CreateTables()
	if err != nil {
		log.Fatal("Failed to create tables:", err)
	}

	return pg, nil
}

func (p *Postgres) CreateTables() error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			plan VARCHAR(32) NOT NULL DEFAULT 'free',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS upload_sessions (
			id UUID PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			object_key VARCHAR(512) NOT NULL,
			store_upload_id VARCHAR(512) NOT NULL,
			content_type VARCHAR(255),
			file_size_bytes BIGINT NOT NULL,
			part_size_bytes BIGINT NOT NULL,
			total_parts INTEGER NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'open',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP NOT NULL
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS upload_parts (
			session_id UUID NOT NULL REFERENCES upload_sessions(id) ON DELETE CASCADE,
			part_number INTEGER NOT NULL,
			etag VARCHAR(255) NOT NULL,
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, part_number)
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS transcription_jobs (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			media_object_key VARCHAR(512) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'queued',
			quota_reserved BOOLEAN NOT NULL DEFAULT FALSE,
			quota_released BOOLEAN NOT NULL DEFAULT FALSE,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS transcript_segments (
			id UUID PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES transcription_jobs(id) ON DELETE CASCADE,
			sequence_index INTEGER NOT NULL,
			original_text TEXT NOT NULL,
			current_text TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			start_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			end_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_edited_by VARCHAR(64),
			last_edited_at TIMESTAMP,
			UNIQUE (job_id, sequence_index)
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_status ON transcription_jobs (user_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON upload_sessions (status, created_at);`,
	}

	for _, q := range queries {
		if _, err := p.Db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) CreateUploadSession(ctx context.Context, session *types.UploadSession) error {
	query := `
	INSERT INTO upload_sessions (id, owner_id, object_key, store_upload_id, content_type, file_size_bytes, part_size_bytes, total_parts, status, created_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := p.Db.ExecContext(ctx, query,
		session.ID, session.OwnerID, session.ObjectKey, session.StoreUploadID,
		session.ContentType, session.FileSizeBytes, session.PartSizeBytes,
		session.TotalParts, session.Status, session.CreatedAt, session.ExpiresAt)
	return err
}

func (p *Postgres) GetUploadSession(ctx context.Context, id string) (*types.UploadSession, error) {
	query := `
	SELECT id, owner_id, object_key, store_upload_id, COALESCE(content_type, ''), file_size_bytes, part_size_bytes, total_parts, status, created_at, expires_at
	FROM upload_sessions WHERE id = $1
	`

	var s types.UploadSession
	err := p.Db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.OwnerID, &s.ObjectKey, &s.StoreUploadID, &s.ContentType,
		&s.FileSizeBytes, &s.PartSizeBytes, &s.TotalParts, &s.Status,
		&s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("upload session", id)
	}
	if err != nil {
		return nil, err
	}

	s.UploadedParts = make(map[int]string)
	rows, err := p.Db.QueryContext(ctx, `SELECT part_number, etag FROM upload_parts WHERE session_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var num int
		var etag string
		if err := rows.Scan(&num, &etag); err != nil {
			return nil, err
		}
		s.UploadedParts[num] = etag
	}

	return &s, rows.Err()
}

func (p *Postgres) RecordUploadPart(ctx context.Context, id string, partNumber int, eTag string) error {
	// Re-recording the same part overwrites the tag so client retries stay
	// idempotent.
	query := `
	INSERT INTO upload_parts (session_id, part_number, etag)
	VALUES ($1, $2, $3)
	ON CONFLICT (session_id, part_number) DO UPDATE SET etag = EXCLUDED.etag, recorded_at = CURRENT_TIMESTAMP
	`

	_, err := p.Db.ExecContext(ctx, query, id, partNumber, eTag)
	return err
}

func (p *Postgres) TransitionUploadSession(ctx context.Context, id string, from, to types.UploadSessionStatus) (bool, error) {
	query := `UPDATE upload_sessions SET status = $1 WHERE id = $2 AND status = $3`

	res, err := p.Db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *Postgres) ListStaleUploadSessions(ctx context.Context, cutoff time.Time, limit int) ([]types.UploadSession, error) {
	query := `
	SELECT id, owner_id, object_key, store_upload_id, status
	FROM upload_sessions
	WHERE status IN ('open', 'completing') AND expires_at < $1
	ORDER BY created_at
	LIMIT $2
	`

	rows, err := p.Db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.UploadSession
	for rows.Next() {
		var s types.UploadSession
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.ObjectKey, &s.StoreUploadID, &s.Status); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func (p *Postgres) GetUserPlan(ctx context.Context, userID string) (types.PlanType, error) {
	var plan types.PlanType
	err := p.Db.QueryRowContext(ctx, `SELECT plan FROM users WHERE id = $1`, userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown users get the free tier; the identity system owns the
		// user record lifecycle.
		return types.PlanFree, nil
	}
	if err != nil {
		return "", err
	}
	return plan, nil
}

func (p *Postgres) CreateJob(ctx context.Context, job *types.TranscriptionJob) error {
	query := `
	INSERT INTO transcription_jobs (id, user_id, media_object_key, status, quota_reserved, duration_seconds, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := p.Db.ExecContext(ctx, query,
		job.ID, job.UserID, job.MediaObjectKey, job.Status,
		job.QuotaReserved, job.DurationSeconds, job.CreatedAt)
	return err
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*types.TranscriptionJob, error) {
	query := `
	SELECT id, user_id, media_object_key, status, quota_reserved, quota_released, duration_seconds, COALESCE(error_message, ''), created_at, started_at, completed_at
	FROM transcription_jobs WHERE id = $1
	`

	var j types.TranscriptionJob
	err := p.Db.QueryRowContext(ctx, query, id).Scan(
		&j.ID, &j.UserID, &j.MediaObjectKey, &j.Status, &j.QuotaReserved,
		&j.QuotaReleased, &j.DurationSeconds, &j.ErrorMessage, &j.CreatedAt,
		&j.StartedAt, &j.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("job", id)
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (p *Postgres) ListJobs(ctx context.Context, userID string) ([]types.TranscriptionJob, error) {
	query := `
	SELECT id, user_id, media_object_key, status, quota_reserved, quota_released, duration_seconds, COALESCE(error_message, ''), created_at, started_at, completed_at
	FROM transcription_jobs WHERE user_id = $1
	ORDER BY created_at DESC
	`

	rows, err := p.Db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.TranscriptionJob
	for rows.Next() {
		var j types.TranscriptionJob
		if err := rows.Scan(&j.ID, &j.UserID, &j.MediaObjectKey, &j.Status,
			&j.QuotaReserved, &j.QuotaReleased, &j.DurationSeconds,
			&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

func (p *Postgres) HasOpenJobForMedia(ctx context.Context, userID, objectKey string) (bool, error) {
	query := `
	SELECT EXISTS (
		SELECT 1 FROM transcription_jobs
		WHERE user_id = $1 AND media_object_key = $2 AND status IN ('pending', 'queued', 'processing')
	)
	`

	var exists bool
	err := p.Db.QueryRowContext(ctx, query, userID, objectKey).Scan(&exists)
	return exists, err
}

func (p *Postgres) TransitionJob(ctx context.Context, id string, from []types.JobStatus, to types.JobStatus, errMsg string) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	query := `
	UPDATE transcription_jobs
	SET status = $1,
	    error_message = NULLIF($2, ''),
	    started_at = CASE WHEN $1 = 'processing' THEN CURRENT_TIMESTAMP ELSE started_at END,
	    completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN CURRENT_TIMESTAMP ELSE completed_at END
	WHERE id = $3 AND status = ANY($4)
	`

	res, err := p.Db.ExecContext(ctx, query, to, errMsg, id, pq.Array(statuses))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *Postgres) MarkQuotaReleased(ctx context.Context, jobID string) (bool, error) {
	query := `
	UPDATE transcription_jobs SET quota_released = TRUE
	WHERE id = $1 AND quota_reserved = TRUE AND quota_released = FALSE
	`

	res, err := p.Db.ExecContext(ctx, query, jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *Postgres) InsertSegments(ctx context.Context, jobID string, segments []types.SegmentInput) error {
	tx, err := p.Db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
	INSERT INTO transcript_segments (id, job_id, sequence_index, original_text, current_text, start_seconds, end_seconds)
	VALUES ($1, $2, $3, $4, $4, $5, $6)
	`

	for _, seg := range segments {
		id := newSegmentID()
		if _, err := tx.ExecContext(ctx, query, id, jobID, seg.SequenceIndex, seg.Text, seg.StartSeconds, seg.EndSeconds); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func newSegmentID() string {
	return uuid.New().String()
}

func (p *Postgres) GetSegment(ctx context.Context, jobID, segmentID string) (*types.TranscriptSegment, error) {
	query := `
	SELECT id, job_id, sequence_index, original_text, current_text, version, start_seconds, end_seconds, COALESCE(last_edited_by, ''), last_edited_at
	FROM transcript_segments WHERE id = $1 AND job_id = $2
	`

	var s types.TranscriptSegment
	err := p.Db.QueryRowContext(ctx, query, segmentID, jobID).Scan(
		&s.ID, &s.JobID, &s.SequenceIndex, &s.OriginalText, &s.CurrentText,
		&s.Version, &s.StartSeconds, &s.EndSeconds, &s.LastEditedBy, &s.LastEditedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("segment", segmentID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) ListSegments(ctx context.Context, jobID string) ([]types.TranscriptSegment, error) {
	query := `
	SELECT id, job_id, sequence_index, original_text, current_text, version, start_seconds, end_seconds, COALESCE(last_edited_by, ''), last_edited_at
	FROM transcript_segments WHERE job_id = $1
	ORDER BY sequence_index
	`

	rows, err := p.Db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []types.TranscriptSegment
	for rows.Next() {
		var s types.TranscriptSegment
		if err := rows.Scan(&s.ID, &s.JobID, &s.SequenceIndex, &s.OriginalText,
			&s.CurrentText, &s.Version, &s.StartSeconds, &s.EndSeconds,
			&s.LastEditedBy, &s.LastEditedAt); err != nil {
			return nil, err
		}
		segments = append(segments, s)
	}

	return segments, rows.Err()
}

func (p *Postgres) UpdateSegmentText(ctx context.Context, jobID, segmentID, newText, editorID string, expectedVersion int64) (*types.TranscriptSegment, error) {
	query := `
	UPDATE transcript_segments
	SET current_text = $1, version = version + 1, last_edited_by = $2, last_edited_at = CURRENT_TIMESTAMP
	WHERE id = $3 AND job_id = $4 AND version = $5
	RETURNING id, job_id, sequence_index, original_text, current_text, version, start_seconds, end_seconds, COALESCE(last_edited_by, ''), last_edited_at
	`

	var s types.TranscriptSegment
	err := p.Db.QueryRowContext(ctx, query, newText, editorID, segmentID, jobID, expectedVersion).Scan(
		&s.ID, &s.JobID, &s.SequenceIndex, &s.OriginalText, &s.CurrentText,
		&s.Version, &s.StartSeconds, &s.EndSeconds, &s.LastEditedBy, &s.LastEditedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the segment is missing or the version is stale; re-read to
		// tell the caller which.
		current, getErr := p.GetSegment(ctx, jobID, segmentID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.StaleVersion(current.Version)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) RevertSegmentText(ctx context.Context, jobID, segmentID, editorID string) (*types.TranscriptSegment, error) {
	query := `
	UPDATE transcript_segments
	SET current_text = original_text, version = version + 1, last_edited_by = $1, last_edited_at = CURRENT_TIMESTAMP
	WHERE id = $2 AND job_id = $3
	RETURNING id, job_id, sequence_index, original_text, current_text, version, start_seconds, end_seconds, COALESCE(last_edited_by, ''), last_edited_at
	`

	var s types.TranscriptSegment
	err := p.Db.QueryRowContext(ctx, query, editorID, segmentID, jobID).Scan(
		&s.ID, &s.JobID, &s.SequenceIndex, &s.OriginalText, &s.CurrentText,
		&s.Version, &s.StartSeconds, &s.EndSeconds, &s.LastEditedBy, &s.LastEditedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("segment", segmentID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
