// Package jobs owns the transcription job state machine: admission through
// the quota guard, handoff to the engine queue, and the single quota
// release on whichever terminal state a job reaches.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openscribe/scribe-service/internal/apperr"
	"github.com/openscribe/scribe-service/internal/events"
	"github.com/openscribe/scribe-service/internal/quota"
	"github.com/openscribe/scribe-service/internal/storage"
	"github.com/openscribe/scribe-service/internal/types"
)

// PlanResolver resolves a user's plan tier and limits.
type PlanResolver interface {
	Resolve(ctx context.Context, userID string) (types.PlanType, types.PlanLimits, error)
}

// Enqueuer hands admitted work to the external engine and translator.
type Enqueuer interface {
	EnqueueTranscription(ctx context.Context, jobID string, priority bool) error
	EnqueueTranslation(ctx context.Context, jobID, targetLanguage string) error
}

type Service struct {
	storage   storage.Storage
	guard     *quota.Guard
	resolver  PlanResolver
	queue     Enqueuer
	publisher events.Publisher
}

func NewService(st storage.Storage, guard *quota.Guard, resolver PlanResolver, queue Enqueuer, publisher events.Publisher) *Service {
	return &Service{
		storage:   st,
		guard:     guard,
		resolver:  resolver,
		queue:     queue,
		publisher: publisher,
	}
}

// CreateJob admits a new transcription job. The quota reservation happens
// before the job record exists; if anything after the reservation fails the
// slot is given back immediately.
func (s *Service) CreateJob(ctx context.Context, userID string, req types.CreateJobRequest) (*types.TranscriptionJob, error) {
	objectKey, sizeBytes, err := s.resolveMediaObject(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	open, err := s.storage.HasOpenJobForMedia(ctx, userID, objectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate jobs: %w", err)
	}
	if open {
		return nil, apperr.Conflict(fmt.Sprintf("a job for %s is already pending or processing", objectKey))
	}

	_, limits, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	reservation, err := s.guard.TryReserve(ctx, userID, limits, req.DurationSeconds, sizeBytes)
	if err != nil {
		return nil, err
	}

	job := &types.TranscriptionJob{
		ID:              uuid.New().String(),
		UserID:          userID,
		MediaObjectKey:  objectKey,
		Status:          types.JobQueued,
		QuotaReserved:   true,
		DurationSeconds: req.DurationSeconds,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.storage.CreateJob(ctx, job); err != nil {
		if relErr := reservation.Release(ctx); relErr != nil {
			slog.Error("Failed to release reservation after create failure",
				slog.String("user_id", userID),
				slog.String("error", relErr.Error()))
		}
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if err := s.queue.EnqueueTranscription(ctx, job.ID, limits.Priority); err != nil {
		// The engine will never see this job; fail it and give the slot
		// back rather than leaving it queued forever.
		if failErr := s.FailJob(ctx, job.ID, "failed to enqueue for transcription"); failErr != nil {
			slog.Error("Failed to fail unenqueued job",
				slog.String("job_id", job.ID),
				slog.String("error", failErr.Error()))
		}
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	s.publisher.PublishJobStatus(userID, job.ID, types.JobQueued, "")

	slog.Info("Transcription job created",
		slog.String("job_id", job.ID),
		slog.String("user_id", userID),
		slog.String("object_key", objectKey))

	return job, nil
}

func (s *Service) resolveMediaObject(ctx context.Context, userID string, req types.CreateJobRequest) (string, int64, error) {
	if req.UploadID != "" {
		session, err := s.storage.GetUploadSession(ctx, req.UploadID)
		if err != nil {
			return "", 0, err
		}
		if session.OwnerID != userID {
			return "", 0, apperr.Unauthorized(fmt.Sprintf("upload session %s belongs to another user", req.UploadID))
		}
		if session.Status != types.UploadCompleted {
			return "", 0, apperr.Conflict(fmt.Sprintf("upload session is %s, not completed", session.Status))
		}
		return session.ObjectKey, session.FileSizeBytes, nil
	}
	if req.MediaObjectKey != "" {
		return req.MediaObjectKey, 0, nil
	}
	return "", 0, apperr.Validation("media_object_key", "either upload_id or media_object_key must be provided")
}

// MarkProcessing records that the engine picked the job up.
func (s *Service) MarkProcessing(ctx context.Context, jobID string) error {
	won, err := s.storage.TransitionJob(ctx, jobID, []types.JobStatus{types.JobQueued}, types.JobProcessing, "")
	if err != nil {
		return err
	}
	if !won {
		return apperr.Conflict(fmt.Sprintf("job %s is not queued", jobID))
	}

	job, err := s.storage.GetJob(ctx, jobID)
	if err == nil {
		s.publisher.PublishJobStatus(job.UserID, jobID, types.JobProcessing, "")
	}
	return nil
}

// CompleteJob ingests the engine's segments and finishes the job. If a
// concurrent cancel won the transition first, the engine output is
// rejected with a conflict instead of being applied silently.
func (s *Service) CompleteJob(ctx context.Context, jobID string, segments []types.SegmentInput) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != types.JobProcessing {
		return apperr.Conflict(fmt.Sprintf("job %s is not processing; completion rejected", jobID))
	}

	// Segments go in while the job is still processing. An insert
	// failure must leave the job non-terminal so the engine can retry
	// the callback; a terminal job without a transcript cannot be
	// repaired.
	if err := s.storage.InsertSegments(ctx, jobID, segments); err != nil {
		return fmt.Errorf("failed to store segments for job %s: %w", jobID, err)
	}

	won, err := s.storage.TransitionJob(ctx, jobID, []types.JobStatus{types.JobProcessing}, types.JobCompleted, "")
	if err != nil {
		return err
	}
	if !won {
		return apperr.Conflict(fmt.Sprintf("job %s is not processing; completion rejected", jobID))
	}

	job, err = s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	s.releaseQuota(ctx, job)
	s.publisher.PublishJobStatus(job.UserID, jobID, types.JobCompleted, "")

	slog.Info("Transcription job completed",
		slog.String("job_id", jobID),
		slog.Int("segments", len(segments)))

	return nil
}

// FailJob records an engine-side failure.
func (s *Service) FailJob(ctx context.Context, jobID, message string) error {
	won, err := s.storage.TransitionJob(ctx, jobID,
		[]types.JobStatus{types.JobPending, types.JobQueued, types.JobProcessing},
		types.JobFailed, message)
	if err != nil {
		return err
	}
	if !won {
		return apperr.Conflict(fmt.Sprintf("job %s is already terminal", jobID))
	}

	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	s.releaseQuota(ctx, job)
	s.publisher.PublishJobStatus(job.UserID, jobID, types.JobFailed, message)

	return nil
}

// Cancel cancels a job on the user's behalf. Cancelling an already terminal
// job is a no-op so duplicate cancel requests do not error.
func (s *Service) Cancel(ctx context.Context, userID, jobID string) error {
	job, err := s.getOwnedJob(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	won, err := s.storage.TransitionJob(ctx, jobID,
		[]types.JobStatus{types.JobPending, types.JobQueued, types.JobProcessing},
		types.JobCancelled, "")
	if err != nil {
		return err
	}
	if !won {
		// Lost to a concurrent terminal transition; treat like cancelling
		// an already finished job.
		return nil
	}

	job, err = s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	s.releaseQuota(ctx, job)
	s.publisher.PublishJobStatus(userID, jobID, types.JobCancelled, "")

	slog.Info("Transcription job cancelled", slog.String("job_id", jobID))
	return nil
}

// EnqueueTranslation queues a completed job for translation by the external
// translator.
func (s *Service) EnqueueTranslation(ctx context.Context, userID, jobID, targetLanguage string) error {
	job, err := s.getOwnedJob(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.Status != types.JobCompleted {
		return apperr.Conflict(fmt.Sprintf("job %s is %s, not completed", jobID, job.Status))
	}

	_, limits, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	if !limits.AllowTranslation {
		return apperr.PlanLimitExceeded("allow_translation", "translation is not available on your current plan")
	}

	return s.queue.EnqueueTranslation(ctx, jobID, targetLanguage)
}

func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*types.TranscriptionJob, error) {
	return s.getOwnedJob(ctx, userID, jobID)
}

func (s *Service) ListJobs(ctx context.Context, userID string) ([]types.TranscriptionJob, error) {
	return s.storage.ListJobs(ctx, userID)
}

func (s *Service) getOwnedJob(ctx context.Context, userID, jobID string) (*types.TranscriptionJob, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, apperr.Unauthorized(fmt.Sprintf("job %s belongs to another user", jobID))
	}
	return job, nil
}

// releaseQuota gives the concurrency slot back exactly once per job. The
// persisted released flag is the guard: only the caller that flips it
// decrements the counter. A job reaching a terminal state without its
// reservation being released would strand a slot, so a flag-flip failure
// is an invariant violation and is logged loudly.
func (s *Service) releaseQuota(ctx context.Context, job *types.TranscriptionJob) {
	if !job.QuotaReserved {
		return
	}

	won, err := s.storage.MarkQuotaReleased(ctx, job.ID)
	if err != nil {
		slog.Error("INVARIANT VIOLATION: failed to mark quota released for terminal job",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			slog.String("error", err.Error()))
		return
	}
	if !won {
		// Someone else already released it.
		return
	}

	if err := s.guard.ReleaseActive(ctx, job.UserID); err != nil {
		slog.Error("INVARIANT VIOLATION: failed to release quota slot for terminal job",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			slog.String("error", err.Error()))
	}
}
