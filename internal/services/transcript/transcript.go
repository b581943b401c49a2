package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openscribe/scribe-service/internal/apperr"
	"github.com/openscribe/scribe-service/internal/events"
	"github.com/openscribe/scribe-service/internal/storage"
	"github.com/openscribe/scribe-service/internal/types"
)

// maxSegmentTextLen caps a single segment edit. Transcription engines
// emit segments of a few sentences at most, so anything near this size
// is garbage input.
const maxSegmentTextLen = 10000

// SegmentCache serves transcript reads from a faster tier. Nil means
// every read goes straight to storage.
type SegmentCache interface {
	GetSegments(ctx context.Context, jobID string) ([]types.TranscriptSegment, error)
	Invalidate(ctx context.Context, jobID string)
}

// Service owns transcript reads and the segment edit ledger. Every edit
// keeps the engine's original text untouched so a revert is always
// possible, no matter how many edits have been applied since.
type Service struct {
	storage   storage.Storage
	publisher events.Publisher
	cache     SegmentCache
}

func NewService(st storage.Storage, publisher events.Publisher, cache SegmentCache) *Service {
	return &Service{storage: st, publisher: publisher, cache: cache}
}

// ListSegments returns the transcript for a completed job in sequence
// order. Jobs that never produced a transcript yield a conflict rather
// than an empty list so callers can tell the two apart.
func (s *Service) ListSegments(ctx context.Context, userID, jobID string) ([]types.TranscriptSegment, error) {
	if _, err := s.completedOwnedJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	if s.cache != nil {
		return s.cache.GetSegments(ctx, jobID)
	}
	return s.storage.ListSegments(ctx, jobID)
}

func (s *Service) GetSegment(ctx context.Context, userID, jobID, segmentID string) (*types.TranscriptSegment, error) {
	if _, err := s.completedOwnedJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	return s.storage.GetSegment(ctx, jobID, segmentID)
}

// UpdateSegment applies a text edit guarded by the version the caller
// last saw. A concurrent edit bumps the version and the stale caller
// gets a conflict carrying the current version so the client can
// refetch and retry.
func (s *Service) UpdateSegment(ctx context.Context, userID, jobID, segmentID string, req types.UpdateSegmentRequest) (*types.TranscriptSegment, error) {
	if _, err := s.completedOwnedJob(ctx, userID, jobID); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, apperr.Validation("text", "Segment text cannot be empty")
	}
	if len(text) > maxSegmentTextLen {
		return nil, apperr.Validation("text", "Segment text is too long")
	}
	if req.ExpectedVersion < 1 {
		return nil, apperr.Validation("expected_version", "Expected version must be at least 1")
	}

	segment, err := s.storage.UpdateSegmentText(ctx, jobID, segmentID, text, userID, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, jobID)
	}
	slog.Info("Segment edited",
		slog.String("job_id", jobID),
		slog.String("segment_id", segmentID),
		slog.Int64("version", segment.Version))
	s.publisher.PublishSegmentEdited(userID, jobID, segmentID, segment.Version, false)
	return segment, nil
}

// RevertSegment restores the engine's original text. The revert is
// itself a ledger event: it bumps the version and stamps the editor,
// even when the segment already holds the original text.
func (s *Service) RevertSegment(ctx context.Context, userID, jobID, segmentID string) (*types.TranscriptSegment, error) {
	if _, err := s.completedOwnedJob(ctx, userID, jobID); err != nil {
		return nil, err
	}

	segment, err := s.storage.RevertSegmentText(ctx, jobID, segmentID, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, jobID)
	}
	slog.Info("Segment reverted",
		slog.String("job_id", jobID),
		slog.String("segment_id", segmentID),
		slog.Int64("version", segment.Version))
	s.publisher.PublishSegmentEdited(userID, jobID, segmentID, segment.Version, true)
	return segment, nil
}

// completedOwnedJob loads the job, checks ownership, and rejects
// transcripts that do not exist yet.
func (s *Service) completedOwnedJob(ctx context.Context, userID, jobID string) (*types.TranscriptionJob, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, apperr.Unauthorized(fmt.Sprintf("job %s belongs to another user", jobID))
	}
	if job.Status == types.JobFailed {
		return nil, apperr.Transcription(jobID, job.ErrorMessage)
	}
	if job.Status != types.JobCompleted {
		return nil, apperr.Conflict("Transcript is only available for completed jobs")
	}
	return job, nil
}
