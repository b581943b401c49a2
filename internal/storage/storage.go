package storage

import (
	"context"
	"time"

	"github.com/openscribe/scribe-service/internal/types"
)

// Storage is the full persistence surface. Services depend on narrow
// slices of it; the postgres implementation satisfies the whole thing.
type Storage interface {
	// Upload sessions
	CreateUploadSession(ctx context.Context, session *types.UploadSession) error
	GetUploadSession(ctx context.Context, id string) (*types.UploadSession, error)
	RecordUploadPart(ctx context.Context, id string, partNumber int, eTag string) error
	// TransitionUploadSession flips status from->to and reports whether
	// this call won the transition.
	TransitionUploadSession(ctx context.Context, id string, from, to types.UploadSessionStatus) (bool, error)
	ListStaleUploadSessions(ctx context.Context, cutoff time.Time, limit int) ([]types.UploadSession, error)

	// Users
	GetUserPlan(ctx context.Context, userID string) (types.PlanType, error)

	// Jobs
	CreateJob(ctx context.Context, job *types.TranscriptionJob) error
	GetJob(ctx context.Context, id string) (*types.TranscriptionJob, error)
	ListJobs(ctx context.Context, userID string) ([]types.TranscriptionJob, error)
	HasOpenJobForMedia(ctx context.Context, userID, objectKey string) (bool, error)
	// TransitionJob moves a job to status `to` only if its current status
	// is one of `from`, and reports whether this call won.
	TransitionJob(ctx context.Context, id string, from []types.JobStatus, to types.JobStatus, errMsg string) (bool, error)
	// MarkQuotaReleased flips the released flag exactly once per job.
	MarkQuotaReleased(ctx context.Context, jobID string) (bool, error)

	// Segments
	InsertSegments(ctx context.Context, jobID string, segments []types.SegmentInput) error
	GetSegment(ctx context.Context, jobID, segmentID string) (*types.TranscriptSegment, error)
	ListSegments(ctx context.Context, jobID string) ([]types.TranscriptSegment, error)
	// UpdateSegmentText applies an edit guarded by the expected version.
	UpdateSegmentText(ctx context.Context, jobID, segmentID, newText, editorID string, expectedVersion int64) (*types.TranscriptSegment, error)
	// RevertSegmentText restores the original text unconditionally.
	RevertSegmentText(ctx context.Context, jobID, segmentID, editorID string) (*types.TranscriptSegment, error)
}
