// Package memory is an in-memory Storage implementation with the same
// conditional-update semantics as the postgres backend. It backs service
// tests and local development without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openscribe/scribe-service/internal/apperr"
	"github.com/openscribe/scribe-service/internal/types"
)

type Memory struct {
	mu       sync.Mutex
	sessions map[string]*types.UploadSession
	jobs     map[string]*types.TranscriptionJob
	segments map[string]*types.TranscriptSegment
	plans    map[string]types.PlanType
}

func New() *Memory {
	return &Memory{
		sessions: make(map[string]*types.UploadSession),
		jobs:     make(map[string]*types.TranscriptionJob),
		segments: make(map[string]*types.TranscriptSegment),
		plans:    make(map[string]types.PlanType),
	}
}

// SetUserPlan assigns a plan tier, standing in for the billing system.
func (m *Memory) SetUserPlan(userID string, plan types.PlanType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[userID] = plan
}

func (m *Memory) GetUserPlan(ctx context.Context, userID string) (types.PlanType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if plan, ok := m.plans[userID]; ok {
		return plan, nil
	}
	return types.PlanFree, nil
}

func (m *Memory) CreateUploadSession(ctx context.Context, session *types.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	if cp.UploadedParts == nil {
		cp.UploadedParts = make(map[int]string)
	}
	m.sessions[session.ID] = &cp
	return nil
}

func (m *Memory) GetUploadSession(ctx context.Context, id string) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, apperr.NotFound("upload session", id)
	}
	cp := *session
	cp.UploadedParts = make(map[int]string, len(session.UploadedParts))
	for k, v := range session.UploadedParts {
		cp.UploadedParts[k] = v
	}
	return &cp, nil
}

func (m *Memory) RecordUploadPart(ctx context.Context, id string, partNumber int, eTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return apperr.NotFound("upload session", id)
	}
	session.UploadedParts[partNumber] = eTag
	return nil
}

func (m *Memory) TransitionUploadSession(ctx context.Context, id string, from, to types.UploadSessionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return false, apperr.NotFound("upload session", id)
	}
	if session.Status != from {
		return false, nil
	}
	session.Status = to
	return true, nil
}

func (m *Memory) ListStaleUploadSessions(ctx context.Context, cutoff time.Time, limit int) ([]types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []types.UploadSession
	for _, s := range m.sessions {
		if (s.Status == types.UploadOpen || s.Status == types.UploadCompleting) && s.ExpiresAt.Before(cutoff) {
			stale = append(stale, *s)
			if len(stale) == limit {
				break
			}
		}
	}
	return stale, nil
}

func (m *Memory) CreateJob(ctx context.Context, job *types.TranscriptionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*types.TranscriptionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job", id)
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) ListJobs(ctx context.Context, userID string) ([]types.TranscriptionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []types.TranscriptionJob
	for _, j := range m.jobs {
		if j.UserID == userID {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs, nil
}

func (m *Memory) HasOpenJobForMedia(ctx context.Context, userID, objectKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.UserID == userID && j.MediaObjectKey == objectKey && !j.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) TransitionJob(ctx context.Context, id string, from []types.JobStatus, to types.JobStatus, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, apperr.NotFound("job", id)
	}
	allowed := false
	for _, s := range from {
		if job.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = to
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}
	if to == types.JobProcessing {
		job.StartedAt = &now
	}
	if to.Terminal() {
		job.CompletedAt = &now
	}
	return true, nil
}

func (m *Memory) MarkQuotaReleased(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, apperr.NotFound("job", jobID)
	}
	if !job.QuotaReserved || job.QuotaReleased {
		return false, nil
	}
	job.QuotaReleased = true
	return true, nil
}

func (m *Memory) InsertSegments(ctx context.Context, jobID string, segments []types.SegmentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range segments {
		seg := &types.TranscriptSegment{
			ID:            uuid.New().String(),
			JobID:         jobID,
			SequenceIndex: in.SequenceIndex,
			OriginalText:  in.Text,
			CurrentText:   in.Text,
			Version:       1,
			StartSeconds:  in.StartSeconds,
			EndSeconds:    in.EndSeconds,
		}
		m.segments[seg.ID] = seg
	}
	return nil
}

func (m *Memory) GetSegment(ctx context.Context, jobID, segmentID string) (*types.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSegmentLocked(jobID, segmentID)
}

func (m *Memory) getSegmentLocked(jobID, segmentID string) (*types.TranscriptSegment, error) {
	seg, ok := m.segments[segmentID]
	if !ok || seg.JobID != jobID {
		return nil, apperr.NotFound("segment", segmentID)
	}
	cp := *seg
	return &cp, nil
}

func (m *Memory) ListSegments(ctx context.Context, jobID string) ([]types.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var segments []types.TranscriptSegment
	for _, s := range m.segments {
		if s.JobID == jobID {
			segments = append(segments, *s)
		}
	}
	sort.Slice(segments, func(i, k int) bool { return segments[i].SequenceIndex < segments[k].SequenceIndex })
	return segments, nil
}

func (m *Memory) UpdateSegmentText(ctx context.Context, jobID, segmentID, newText, editorID string, expectedVersion int64) (*types.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[segmentID]
	if !ok || seg.JobID != jobID {
		return nil, apperr.NotFound("segment", segmentID)
	}
	if seg.Version != expectedVersion {
		return nil, apperr.StaleVersion(seg.Version)
	}
	now := time.Now().UTC()
	seg.CurrentText = newText
	seg.Version++
	seg.LastEditedBy = editorID
	seg.LastEditedAt = &now
	cp := *seg
	return &cp, nil
}

func (m *Memory) RevertSegmentText(ctx context.Context, jobID, segmentID, editorID string) (*types.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[segmentID]
	if !ok || seg.JobID != jobID {
		return nil, apperr.NotFound("segment", segmentID)
	}
	now := time.Now().UTC()
	seg.CurrentText = seg.OriginalText
	seg.Version++
	seg.LastEditedBy = editorID
	seg.LastEditedAt = &now
	cp := *seg
	return &cp, nil
}
