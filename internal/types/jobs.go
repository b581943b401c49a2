package types

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job can transition no further.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TranscriptionJob is a single transcription request over a finalized
// media object. QuotaReserved records that admission consumed a concurrency
// slot; QuotaReleased flips exactly once when a terminal state gives it back.
type TranscriptionJob struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	MediaObjectKey  string     `json:"media_object_key"`
	Status          JobStatus  `json:"status"`
	QuotaReserved   bool       `json:"-"`
	QuotaReleased   bool       `json:"-"`
	DurationSeconds float64    `json:"duration_seconds"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TranscriptSegment is one ordered piece of engine output. OriginalText is
// written once at ingestion and never changes; CurrentText starts equal to
// it and moves with edits. Version grows by one on every edit or revert.
type TranscriptSegment struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	SequenceIndex int        `json:"sequence_index"`
	OriginalText  string     `json:"original_text"`
	CurrentText   string     `json:"current_text"`
	Version       int64      `json:"version"`
	StartSeconds  float64    `json:"start_seconds"`
	EndSeconds    float64    `json:"end_seconds"`
	LastEditedBy  string     `json:"last_edited_by,omitempty"`
	LastEditedAt  *time.Time `json:"last_edited_at,omitempty"`
}

type CreateJobRequest struct {
	UploadID        string  `json:"upload_id,omitempty"`
	MediaObjectKey  string  `json:"media_object_key,omitempty"`
	DurationSeconds float64 `json:"duration_seconds" validate:"required,gt=0"`
}

type UpdateSegmentRequest struct {
	Text            string `json:"text" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"gte=0"`
}

type TranslateRequest struct {
	TargetLanguage string `json:"target_language" validate:"required,min=2,max=8"`
}

// SegmentInput is what the engine hands back per segment on completion.
type SegmentInput struct {
	SequenceIndex int     `json:"sequence_index"`
	Text          string  `json:"text"`
	StartSeconds  float64 `json:"start_seconds"`
	EndSeconds    float64 `json:"end_seconds"`
}
