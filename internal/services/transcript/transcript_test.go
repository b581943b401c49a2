package transcript

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/openscribe/scribe-service/internal/apperr"
	"github.com/openscribe/scribe-service/internal/storage/memory"
	"github.com/openscribe/scribe-service/internal/types"
)

type recordingPublisher struct {
	mu    sync.Mutex
	edits []editedEvent
}

type editedEvent struct {
	segmentID string
	version   int64
	reverted  bool
}

func (r *recordingPublisher) PublishJobStatus(userID, jobID string, status types.JobStatus, errMsg string) {
}

func (r *recordingPublisher) PublishSegmentEdited(userID, jobID, segmentID string, version int64, reverted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, editedEvent{segmentID: segmentID, version: version, reverted: reverted})
}

func (r *recordingPublisher) PublishUploadCompleted(userID, uploadID, objectKey string) {}

// seedTranscript creates a completed job with two segments and returns
// the service plus the first segment.
func seedTranscript(t *testing.T) (*Service, *memory.Memory, *recordingPublisher, *types.TranscriptSegment) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()

	job := &types.TranscriptionJob{
		ID:             "job-1",
		UserID:         "user-1",
		MediaObjectKey: "users/user-1/media/a.mp3",
		Status:         types.JobCompleted,
	}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	segments := []types.SegmentInput{
		{SequenceIndex: 0, Text: "hello world", StartSeconds: 0, EndSeconds: 2},
		{SequenceIndex: 1, Text: "second segment", StartSeconds: 2, EndSeconds: 4},
	}
	if err := st.InsertSegments(ctx, job.ID, segments); err != nil {
		t.Fatalf("seed segments: %v", err)
	}

	pub := &recordingPublisher{}
	svc := NewService(st, pub, nil)

	listed, err := svc.ListSegments(ctx, "user-1", "job-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("seeded %d segments, want 2", len(listed))
	}
	return svc, st, pub, &listed[0]
}

func TestUpdateSegment_PreservesOriginal(t *testing.T) {
	svc, _, pub, seg := seedTranscript(t)
	ctx := context.Background()

	updated, err := svc.UpdateSegment(ctx, "user-1", "job-1", seg.ID, types.UpdateSegmentRequest{
		Text:            "hello, world!",
		ExpectedVersion: seg.Version,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CurrentText != "hello, world!" {
		t.Fatalf("current text = %q", updated.CurrentText)
	}
	if updated.OriginalText != "hello world" {
		t.Fatalf("original text changed to %q", updated.OriginalText)
	}
	if updated.Version != seg.Version+1 {
		t.Fatalf("version = %d, want %d", updated.Version, seg.Version+1)
	}
	if updated.LastEditedBy != "user-1" || updated.LastEditedAt == nil {
		t.Fatalf("edit not stamped: %+v", updated)
	}

	// Second edit on top keeps the original too.
	updated, err = svc.UpdateSegment(ctx, "user-1", "job-1", seg.ID, types.UpdateSegmentRequest{
		Text:            "Hello, World!",
		ExpectedVersion: updated.Version,
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if updated.OriginalText != "hello world" {
		t.Fatalf("original text lost after second edit: %q", updated.OriginalText)
	}

	if len(pub.edits) != 2 || pub.edits[0].reverted || pub.edits[1].reverted {
		t.Fatalf("unexpected edit events: %+v", pub.edits)
	}
}

func TestUpdateSegment_StaleVersionRejected(t *testing.T) {
	svc, _, _, seg := seedTranscript(t)
	ctx := context.Background()

	first, err := svc.UpdateSegment(ctx, "user-1", "job-1", seg.ID, types.UpdateSegmentRequest{
		Text:            "edit one",
		ExpectedVersion: seg.Version,
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}

	// A second writer still holding the old version must lose.
	_, err = svc.UpdateSegment(ctx, "user-1", "job-1", seg.ID, types.UpdateSegmentRequest{
		Text:            "edit two",
		ExpectedVersion: seg.Version,
	})
	var conflict *apperr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentVersion != first.Version {
		t.Fatalf("conflict carries version %d, want %d", conflict.CurrentVersion, first.Version)
	}

	// The losing edit must not have been applied.
	got, err := svc.GetSegment(ctx, "user-1", "job-1", seg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentText != "edit one" {
		t.Fatalf("current text = %q, stale edit leaked through", got.CurrentText)
	}
}

func TestUpdateSegment_Validation(t *testing.T) {
	svc, _, _, seg := seedTranscript(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  types.UpdateSegmentRequest
	}{
		{"EmptyText", types.UpdateSegmentRequest{Text: "   ", ExpectedVersion: seg.Version}},
		{"ZeroVersion", types.UpdateSegmentRequest{Text: "ok", ExpectedVersion: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpdateSegment(ctx, "user-1", "job-1", seg.ID, tc.req)
			var v *apperr.ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRevertSegment_RestoresOriginal(t *testing.T) {
	svc, _, pub, seg := seedTranscript(t)
	ctx := context.Background()

	updated, err := svc.UpdateSegment(ctx, "user-1", "job-1", seg.ID, types.UpdateSegmentRequest{
		Text:            "mangled",
		ExpectedVersion: seg.Version,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reverted, err := svc.RevertSegment(ctx, "user-1", "job-1", seg.ID)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.CurrentText != "hello world" {
		t.Fatalf("current text = %q after revert", reverted.CurrentText)
	}
	if reverted.Version != updated.Version+1 {
		t.Fatalf("revert version = %d, want %d", reverted.Version, updated.Version+1)
	}

	last := pub.edits[len(pub.edits)-1]
	if !last.reverted {
		t.Fatalf("revert event not flagged: %+v", last)
	}
}

func TestRevertSegment_RecordedEvenWhenUnedited(t *testing.T) {
	svc, _, _, seg := seedTranscript(t)
	ctx := context.Background()

	// Reverting a segment that still holds the original text is a
	// recorded ledger event, not a silent no-op.
	reverted, err := svc.RevertSegment(ctx, "user-1", "job-1", seg.ID)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Version != seg.Version+1 {
		t.Fatalf("version = %d, want %d", reverted.Version, seg.Version+1)
	}
	if reverted.LastEditedBy != "user-1" {
		t.Fatalf("revert not stamped: %+v", reverted)
	}
}

func TestTranscript_AccessControl(t *testing.T) {
	svc, st, _, seg := seedTranscript(t)
	ctx := context.Background()

	var unauthorized *apperr.UnauthorizedError
	if _, err := svc.ListSegments(ctx, "user-2", "job-1"); !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError for foreign user, got %v", err)
	}
	if _, err := svc.UpdateSegment(ctx, "user-2", "job-1", seg.ID, types.UpdateSegmentRequest{
		Text:            "x",
		ExpectedVersion: 1,
	}); !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError for foreign edit, got %v", err)
	}

	// Incomplete jobs have no transcript yet.
	pending := &types.TranscriptionJob{ID: "job-2", UserID: "user-1", Status: types.JobProcessing}
	if err := st.CreateJob(ctx, pending); err != nil {
		t.Fatalf("seed pending job: %v", err)
	}
	var conflict *apperr.ConflictError
	if _, err := svc.ListSegments(ctx, "user-1", "job-2"); !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for incomplete job, got %v", err)
	}

	// Failed jobs surface the engine error instead of a generic conflict.
	failed := &types.TranscriptionJob{
		ID:           "job-3",
		UserID:       "user-1",
		Status:       types.JobFailed,
		ErrorMessage: "engine crashed",
	}
	if err := st.CreateJob(ctx, failed); err != nil {
		t.Fatalf("seed failed job: %v", err)
	}
	var trErr *apperr.TranscriptionError
	if _, err := svc.ListSegments(ctx, "user-1", "job-3"); !errors.As(err, &trErr) {
		t.Fatalf("expected TranscriptionError for failed job, got %v", err)
	}
	if trErr.JobID != "job-3" {
		t.Fatalf("error carries job %q, want job-3", trErr.JobID)
	}
}
