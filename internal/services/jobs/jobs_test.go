package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/openscribe/scribe-service/internal/apperr"
	"github.com/openscribe/scribe-service/internal/quota"
	"github.com/openscribe/scribe-service/internal/storage/memory"
	"github.com/openscribe/scribe-service/internal/types"
)

type fakeResolver struct {
	limits types.PlanLimits
}

func (f *fakeResolver) Resolve(ctx context.Context, userID string) (types.PlanType, types.PlanLimits, error) {
	return types.PlanPro, f.limits, nil
}

type fakeQueue struct {
	mu             sync.Mutex
	transcriptions []string
	translations   []string
	failEnqueue    bool
}

func (f *fakeQueue) EnqueueTranscription(ctx context.Context, jobID string, priority bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnqueue {
		return errors.New("queue unavailable")
	}
	f.transcriptions = append(f.transcriptions, jobID)
	return nil
}

func (f *fakeQueue) EnqueueTranslation(ctx context.Context, jobID, targetLanguage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translations = append(f.translations, jobID+":"+targetLanguage)
	return nil
}

// flakySegmentStore fails a configured number of segment inserts before
// letting them through.
type flakySegmentStore struct {
	*memory.Memory
	mu          sync.Mutex
	failInserts int
}

func (f *flakySegmentStore) InsertSegments(ctx context.Context, jobID string, segments []types.SegmentInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInserts > 0 {
		f.failInserts--
		return errors.New("segment store unavailable")
	}
	return f.Memory.InsertSegments(ctx, jobID, segments)
}

type fakePublisher struct {
	mu       sync.Mutex
	statuses []types.JobStatus
}

func (f *fakePublisher) PublishJobStatus(userID, jobID string, status types.JobStatus, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakePublisher) PublishSegmentEdited(userID, jobID, segmentID string, version int64, reverted bool) {
}

func (f *fakePublisher) PublishUploadCompleted(userID, uploadID, objectKey string) {}

type fixture struct {
	service *Service
	storage *memory.Memory
	guard   *quota.Guard
	queue   *fakeQueue
	pub     *fakePublisher
	cleanup func()
}

func setup(t *testing.T, limits types.PlanLimits) *fixture {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	st := memory.New()
	guard := quota.NewGuard(redisClient)
	q := &fakeQueue{}
	pub := &fakePublisher{}
	svc := NewService(st, guard, &fakeResolver{limits: limits}, q, pub)

	return &fixture{
		service: svc,
		storage: st,
		guard:   guard,
		queue:   q,
		pub:     pub,
		cleanup: func() {
			redisClient.Close()
			mr.Close()
		},
	}
}

func defaultLimits() types.PlanLimits {
	return types.PlanLimits{
		DailyTranscriptionLimit: 10,
		MaxMinutesPerFile:       60,
		MaxFileSizeBytes:        100 << 20,
		MaxConcurrentJobs:       2,
		Priority:                true,
		AllowTranslation:        true,
	}
}

func createRequest(key string) types.CreateJobRequest {
	return types.CreateJobRequest{MediaObjectKey: key, DurationSeconds: 600}
}

func TestCreateJob_Admitted(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, "user-1", createRequest("users/user-1/media/a.mp3"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != types.JobQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if !job.QuotaReserved {
		t.Fatal("job must carry its quota reservation")
	}
	if len(f.queue.transcriptions) != 1 || f.queue.transcriptions[0] != job.ID {
		t.Fatalf("job not handed to engine queue: %v", f.queue.transcriptions)
	}

	stats, err := f.guard.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if stats.ActiveJobs != 1 || stats.JobsCreatedToday != 1 {
		t.Fatalf("unexpected usage after admit: %+v", stats)
	}
}

func TestCreateJob_DailyLimitReached(t *testing.T) {
	limits := defaultLimits()
	limits.DailyTranscriptionLimit = 1
	f := setup(t, limits)
	defer f.cleanup()
	ctx := context.Background()

	if _, err := f.service.CreateJob(ctx, "user-1", createRequest("users/user-1/media/a.mp3")); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := f.service.CreateJob(ctx, "user-1", createRequest("users/user-1/media/b.mp3"))
	var planErr *apperr.PlanLimitExceededError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected PlanLimitExceededError, got %v", err)
	}

	// The denied job must not exist.
	jobs, err := f.service.ListJobs(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job after denial, got %d", len(jobs))
	}
}

func TestCreateJob_ConcurrencyLimit(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	for i, key := range []string{"k1", "k2"} {
		if _, err := f.service.CreateJob(ctx, "user-1", createRequest(key)); err != nil {
			t.Fatalf("create %d: %v", i+1, err)
		}
	}

	_, err := f.service.CreateJob(ctx, "user-1", createRequest("k3"))
	var planErr *apperr.PlanLimitExceededError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected PlanLimitExceededError, got %v", err)
	}
}

func TestCreateJob_DuplicateMediaRejected(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	if _, err := f.service.CreateJob(ctx, "user-1", createRequest("k1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := f.service.CreateJob(ctx, "user-1", createRequest("k1"))
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for duplicate media, got %v", err)
	}
}

func TestCreateJob_FromUploadSession(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	session := &types.UploadSession{
		ID:            "session-1",
		OwnerID:       "user-1",
		ObjectKey:     "users/user-1/media/a.mp3",
		FileSizeBytes: 5 << 20,
		Status:        types.UploadCompleted,
	}
	if err := f.storage.CreateUploadSession(ctx, session); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	job, err := f.service.CreateJob(ctx, "user-1", types.CreateJobRequest{
		UploadID:        "session-1",
		DurationSeconds: 600,
	})
	if err != nil {
		t.Fatalf("create from session: %v", err)
	}
	if job.MediaObjectKey != session.ObjectKey {
		t.Fatalf("object key = %q, want %q", job.MediaObjectKey, session.ObjectKey)
	}

	var unauthorized *apperr.UnauthorizedError
	_, err = f.service.CreateJob(ctx, "user-2", types.CreateJobRequest{
		UploadID:        "session-1",
		DurationSeconds: 600,
	})
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError for foreign session, got %v", err)
	}
}

func TestCreateJob_OpenSessionRejected(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	session := &types.UploadSession{
		ID:      "session-1",
		OwnerID: "user-1",
		Status:  types.UploadOpen,
	}
	if err := f.storage.CreateUploadSession(ctx, session); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	_, err := f.service.CreateJob(ctx, "user-1", types.CreateJobRequest{
		UploadID:        "session-1",
		DurationSeconds: 600,
	})
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for open session, got %v", err)
	}
}

func TestCancel_ReleasesSlotOnce(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, "user-1", createRequest("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.service.Cancel(ctx, "user-1", job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Duplicate cancel is a tolerated no-op.
	if err := f.service.Cancel(ctx, "user-1", job.ID); err != nil {
		t.Fatalf("duplicate cancel: %v", err)
	}

	stats, err := f.guard.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if stats.ActiveJobs != 0 {
		t.Fatalf("active jobs = %d, want 0 after single release", stats.ActiveJobs)
	}
	// Daily count stays consumed.
	if stats.JobsCreatedToday != 1 {
		t.Fatalf("jobs created today = %d, want 1", stats.JobsCreatedToday)
	}
}

func TestCompleteJob_IngestsSegmentsAndReleases(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, "user-1", createRequest("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.service.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	segments := []types.SegmentInput{
		{SequenceIndex: 0, Text: "hello", StartSeconds: 0, EndSeconds: 2},
		{SequenceIndex: 1, Text: "world", StartSeconds: 2, EndSeconds: 4},
	}
	if err := f.service.CompleteJob(ctx, job.ID, segments); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stored, err := f.storage.ListSegments(ctx, job.ID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d segments, want 2", len(stored))
	}
	if stored[0].OriginalText != "hello" || stored[0].CurrentText != "hello" {
		t.Fatalf("segment text not initialized from engine output: %+v", stored[0])
	}

	stats, err := f.guard.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if stats.ActiveJobs != 0 {
		t.Fatalf("active jobs = %d, want 0 after completion", stats.ActiveJobs)
	}
}

func TestCompleteJob_SegmentInsertFailureLeavesJobRetryable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	st := &flakySegmentStore{Memory: memory.New(), failInserts: 1}
	guard := quota.NewGuard(redisClient)
	svc := NewService(st, guard, &fakeResolver{limits: defaultLimits()}, &fakeQueue{}, &fakePublisher{})
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "user-1", createRequest("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	segments := []types.SegmentInput{
		{SequenceIndex: 0, Text: "hello", StartSeconds: 0, EndSeconds: 2},
	}
	if err := svc.CompleteJob(ctx, job.ID, segments); err == nil {
		t.Fatal("completion should surface the segment insert failure")
	}

	// The job must stay non-terminal with its slot held so the engine
	// can retry the callback.
	stored, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != types.JobProcessing {
		t.Fatalf("status = %s, want processing after failed insert", stored.Status)
	}
	stats, err := guard.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if stats.ActiveJobs != 1 {
		t.Fatalf("active jobs = %d, want 1 while the job is retryable", stats.ActiveJobs)
	}

	// The retry lands the transcript and releases the slot.
	if err := svc.CompleteJob(ctx, job.ID, segments); err != nil {
		t.Fatalf("retried completion: %v", err)
	}
	stored, err = st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != types.JobCompleted {
		t.Fatalf("status = %s, want completed after retry", stored.Status)
	}
	got, err := st.ListSegments(ctx, job.ID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d segments, want 1", len(got))
	}
	stats, err = guard.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if stats.ActiveJobs != 0 {
		t.Fatalf("active jobs = %d, want 0 after completion", stats.ActiveJobs)
	}
}

func TestCancelVersusCompletion_FirstTransitionWins(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, "user-1", createRequest("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.service.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	// User cancel lands first; engine completion must be rejected, not
	// silently applied.
	if err := f.service.Cancel(ctx, "user-1", job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err = f.service.CompleteJob(ctx, job.ID, []types.SegmentInput{{SequenceIndex: 0, Text: "late"}})
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for late completion, got %v", err)
	}

	got, err := f.service.GetJob(ctx, "user-1", job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.JobCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	// Exactly one release despite two terminal attempts.
	stats, err := f.guard.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if stats.ActiveJobs != 0 {
		t.Fatalf("active jobs = %d, want 0", stats.ActiveJobs)
	}
}

func TestFailJob_ReleasesSlot(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, "user-1", createRequest("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.service.FailJob(ctx, job.ID, "engine crashed"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, err := f.service.GetJob(ctx, "user-1", job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.JobFailed || got.ErrorMessage != "engine crashed" {
		t.Fatalf("unexpected job after failure: %+v", got)
	}

	stats, err := f.guard.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if stats.ActiveJobs != 0 {
		t.Fatalf("active jobs = %d, want 0", stats.ActiveJobs)
	}
}

func TestEnqueueTranslation_Gating(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, "user-1", createRequest("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Not completed yet.
	err = f.service.EnqueueTranslation(ctx, "user-1", job.ID, "de")
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError before completion, got %v", err)
	}

	if err := f.service.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := f.service.CompleteJob(ctx, job.ID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := f.service.EnqueueTranslation(ctx, "user-1", job.ID, "de"); err != nil {
		t.Fatalf("enqueue translation: %v", err)
	}
	if len(f.queue.translations) != 1 || f.queue.translations[0] != job.ID+":de" {
		t.Fatalf("translation not enqueued: %v", f.queue.translations)
	}
}

func TestEnqueueTranslation_PlanGated(t *testing.T) {
	limits := defaultLimits()
	limits.AllowTranslation = false
	f := setup(t, limits)
	defer f.cleanup()
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, "user-1", createRequest("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.service.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := f.service.CompleteJob(ctx, job.ID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err = f.service.EnqueueTranslation(ctx, "user-1", job.ID, "de")
	var planErr *apperr.PlanLimitExceededError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected PlanLimitExceededError, got %v", err)
	}
}

func TestCreateJob_EnqueueFailureFailsJobAndReleases(t *testing.T) {
	f := setup(t, defaultLimits())
	defer f.cleanup()
	f.queue.failEnqueue = true
	ctx := context.Background()

	_, err := f.service.CreateJob(ctx, "user-1", createRequest("k1"))
	if err == nil {
		t.Fatal("create should fail when the queue is down")
	}

	// The slot must come back so the user is not stuck.
	deadline := time.Now().Add(time.Second)
	for {
		stats, err := f.guard.Snapshot(ctx, "user-1")
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if stats.ActiveJobs == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("active jobs = %d, want 0 after enqueue failure", stats.ActiveJobs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
