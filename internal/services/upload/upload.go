// Package upload coordinates chunked multipart uploads against the object
// store: one session per file, presigned URLs per part, finalize at most
// once.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openscribe/scribe-service/internal/apperr"
	"github.com/openscribe/scribe-service/internal/objectstore"
	"github.com/openscribe/scribe-service/internal/storage"
	"github.com/openscribe/scribe-service/internal/types"
)

const (
	storeRetries    = 3
	storeRetryDelay = 200 * time.Millisecond
)

// Notifier pushes upload events to the owning user.
type Notifier interface {
	PublishUploadCompleted(userID, uploadID, objectKey string)
}

type Coordinator struct {
	store    objectstore.Store
	sessions storage.Storage
	notifier Notifier

	partSizeBytes int64
	sessionTTL    time.Duration
	presignTTL    time.Duration

	// Per-session completion locks: finalize must never run twice for the
	// same uploadId inside this process.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCoordinator(store objectstore.Store, sessions storage.Storage, notifier Notifier, partSizeBytes int64, sessionTTL, presignTTL time.Duration) *Coordinator {
	return &Coordinator{
		store:         store,
		sessions:      sessions,
		notifier:      notifier,
		partSizeBytes: partSizeBytes,
		sessionTTL:    sessionTTL,
		presignTTL:    presignTTL,
		locks:         make(map[string]*sync.Mutex),
	}
}

// InitiateUpload opens a multipart session and returns the part layout.
// File size is checked against the plan here as well as at job admission,
// since size is known long before duration.
func (c *Coordinator) InitiateUpload(ctx context.Context, ownerID string, req types.InitUploadRequest, limits types.PlanLimits) (*types.InitUploadResponse, error) {
	if req.FileSizeBytes <= 0 {
		return nil, apperr.Validation("file_size_bytes", "must be greater than zero")
	}
	if req.FileSizeBytes > limits.MaxFileSizeBytes {
		return nil, apperr.Validation("file_size_bytes",
			fmt.Sprintf("file size %d exceeds plan limit of %d bytes", req.FileSizeBytes, limits.MaxFileSizeBytes))
	}

	totalParts := int(math.Ceil(float64(req.FileSizeBytes) / float64(c.partSizeBytes)))
	objectKey := objectstore.ObjectKey(ownerID, req.ContentType)

	storeUploadID, err := c.store.InitiateMultipart(ctx, objectKey, req.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate store upload: %w", err)
	}

	session := &types.UploadSession{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		ObjectKey:     objectKey,
		StoreUploadID: storeUploadID,
		ContentType:   req.ContentType,
		FileSizeBytes: req.FileSizeBytes,
		PartSizeBytes: c.partSizeBytes,
		TotalParts:    totalParts,
		Status:        types.UploadOpen,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     time.Now().UTC().Add(c.sessionTTL),
	}

	if err := c.sessions.CreateUploadSession(ctx, session); err != nil {
		// The store-side upload would otherwise leak until the sweep.
		if abortErr := c.store.AbortMultipart(ctx, objectKey, storeUploadID); abortErr != nil {
			slog.Error("Failed to abort orphaned store upload",
				slog.String("object_key", objectKey),
				slog.String("error", abortErr.Error()))
		}
		return nil, fmt.Errorf("failed to persist upload session: %w", err)
	}

	// Presign every part up front so small uploads need no further
	// round trips. Clients can still refetch a URL if one expires.
	partURLs := make([]string, 0, totalParts)
	for n := 1; n <= totalParts; n++ {
		var url string
		err = withRetry(ctx, func() error {
			var presignErr error
			url, presignErr = c.store.PresignPartURL(ctx, objectKey, storeUploadID, n, c.presignTTL)
			return presignErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to presign part %d: %w", n, err)
		}
		partURLs = append(partURLs, url)
	}

	slog.Info("Upload session opened",
		slog.String("upload_id", session.ID),
		slog.String("owner_id", ownerID),
		slog.Int("total_parts", totalParts))

	return &types.InitUploadResponse{
		UploadID:      session.ID,
		ObjectKey:     objectKey,
		PartSizeBytes: c.partSizeBytes,
		TotalParts:    totalParts,
		PartURLs:      partURLs,
	}, nil
}

// GetPartUploadURL presigns a PUT URL for one part.
func (c *Coordinator) GetPartUploadURL(ctx context.Context, ownerID, uploadID string, partNumber int) (*types.PartURLResponse, error) {
	session, err := c.openSession(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	if partNumber < 1 || partNumber > session.TotalParts {
		return nil, apperr.Validation("part_number",
			fmt.Sprintf("part number %d out of range [1, %d]", partNumber, session.TotalParts))
	}

	var url string
	err = withRetry(ctx, func() error {
		var presignErr error
		url, presignErr = c.store.PresignPartURL(ctx, session.ObjectKey, session.StoreUploadID, partNumber, c.presignTTL)
		return presignErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign part %d: %w", partNumber, err)
	}

	return &types.PartURLResponse{
		PartNumber: partNumber,
		URL:        url,
		ExpiresAt:  time.Now().Add(c.presignTTL).Unix(),
	}, nil
}

// RecordPartComplete stores the ETag the client got back from the object
// store. Re-recording a part overwrites its tag, so retries are harmless.
func (c *Coordinator) RecordPartComplete(ctx context.Context, ownerID, uploadID string, partNumber int, eTag string) error {
	session, err := c.openSession(ctx, ownerID, uploadID)
	if err != nil {
		return err
	}
	if partNumber < 1 || partNumber > session.TotalParts {
		return apperr.Validation("part_number",
			fmt.Sprintf("part number %d out of range [1, %d]", partNumber, session.TotalParts))
	}
	if eTag == "" {
		return apperr.Validation("etag", "must not be empty")
	}

	return c.sessions.RecordUploadPart(ctx, uploadID, partNumber, eTag)
}

// CompleteUpload finalizes the multipart upload once every part has a
// recorded tag. Completion for a given session is serialized; a duplicate
// call observes the finished session and returns the same object key.
func (c *Coordinator) CompleteUpload(ctx context.Context, ownerID, uploadID string) (string, error) {
	lock := c.sessionLock(uploadID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.getOwnedSession(ctx, ownerID, uploadID)
	if err != nil {
		return "", err
	}

	switch session.Status {
	case types.UploadCompleted:
		return session.ObjectKey, nil
	case types.UploadCompleting:
		// Another process holds the finalize; do not start a second one.
		return "", apperr.Conflict("upload completion already in progress")
	case types.UploadAborted, types.UploadExpired:
		return "", apperr.Conflict(fmt.Sprintf("upload session is %s", session.Status))
	}

	missing := missingParts(session)
	if len(missing) > 0 {
		return "", apperr.Conflict(fmt.Sprintf("upload incomplete: %d of %d parts missing", len(missing), session.TotalParts))
	}

	won, err := c.sessions.TransitionUploadSession(ctx, uploadID, types.UploadOpen, types.UploadCompleting)
	if err != nil {
		return "", fmt.Errorf("failed to begin completion: %w", err)
	}
	if !won {
		current, err := c.sessions.GetUploadSession(ctx, uploadID)
		if err != nil {
			return "", err
		}
		if current.Status == types.UploadCompleted {
			return current.ObjectKey, nil
		}
		return "", apperr.Conflict("upload completion already in progress")
	}

	parts := make([]objectstore.Part, 0, len(session.UploadedParts))
	for num, etag := range session.UploadedParts {
		parts = append(parts, objectstore.Part{Number: num, ETag: etag})
	}

	err = withRetry(ctx, func() error {
		return c.store.CompleteMultipart(ctx, session.ObjectKey, session.StoreUploadID, parts)
	})
	if err != nil {
		// Put the session back so the client can retry completion.
		if _, backErr := c.sessions.TransitionUploadSession(ctx, uploadID, types.UploadCompleting, types.UploadOpen); backErr != nil {
			slog.Error("Failed to reopen session after finalize failure",
				slog.String("upload_id", uploadID),
				slog.String("error", backErr.Error()))
		}
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	if _, err := c.sessions.TransitionUploadSession(ctx, uploadID, types.UploadCompleting, types.UploadCompleted); err != nil {
		return "", fmt.Errorf("failed to mark session completed: %w", err)
	}

	c.dropLock(uploadID)

	if c.notifier != nil {
		c.notifier.PublishUploadCompleted(ownerID, uploadID, session.ObjectKey)
	}

	slog.Info("Upload completed",
		slog.String("upload_id", uploadID),
		slog.String("object_key", session.ObjectKey))

	return session.ObjectKey, nil
}

// AbortUpload cancels a session from any non-terminal state. Aborting an
// already aborted or expired session is a no-op.
func (c *Coordinator) AbortUpload(ctx context.Context, ownerID, uploadID string) error {
	lock := c.sessionLock(uploadID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.getOwnedSession(ctx, ownerID, uploadID)
	if err != nil {
		return err
	}

	switch session.Status {
	case types.UploadAborted, types.UploadExpired:
		return nil
	case types.UploadCompleted:
		return apperr.Conflict("upload already completed")
	}

	won, err := c.sessions.TransitionUploadSession(ctx, uploadID, session.Status, types.UploadAborted)
	if err != nil {
		return fmt.Errorf("failed to abort session: %w", err)
	}
	if !won {
		// Lost a race; re-read and treat a terminal result as done.
		current, err := c.sessions.GetUploadSession(ctx, uploadID)
		if err != nil {
			return err
		}
		if current.Status == types.UploadCompleted {
			return apperr.Conflict("upload already completed")
		}
		return nil
	}

	// Cleanup of store-side parts is best effort; the sweep catches leaks.
	if err := c.store.AbortMultipart(ctx, session.ObjectKey, session.StoreUploadID); err != nil {
		slog.Warn("Best-effort multipart abort failed",
			slog.String("upload_id", uploadID),
			slog.String("error", err.Error()))
	}

	c.dropLock(uploadID)

	slog.Info("Upload aborted", slog.String("upload_id", uploadID))
	return nil
}

// ExpireStale expires sessions past their deadline and releases their
// partial storage. Returns how many sessions were expired.
func (c *Coordinator) ExpireStale(ctx context.Context, batchSize int) (int, error) {
	stale, err := c.sessions.ListStaleUploadSessions(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	expired := 0
	for _, session := range stale {
		won, err := c.sessions.TransitionUploadSession(ctx, session.ID, session.Status, types.UploadExpired)
		if err != nil {
			slog.Error("Failed to expire session",
				slog.String("upload_id", session.ID),
				slog.String("error", err.Error()))
			continue
		}
		if !won {
			continue
		}

		if err := c.store.AbortMultipart(ctx, session.ObjectKey, session.StoreUploadID); err != nil {
			slog.Warn("Best-effort multipart abort failed during sweep",
				slog.String("upload_id", session.ID),
				slog.String("error", err.Error()))
		}
		c.dropLock(session.ID)
		expired++
	}

	return expired, nil
}

// openSession loads a session and lazily expires it if its deadline has
// passed. Only Open sessions come back.
func (c *Coordinator) openSession(ctx context.Context, ownerID, uploadID string) (*types.UploadSession, error) {
	session, err := c.getOwnedSession(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}

	if session.Status == types.UploadOpen && time.Now().UTC().After(session.ExpiresAt) {
		if _, err := c.sessions.TransitionUploadSession(ctx, uploadID, types.UploadOpen, types.UploadExpired); err != nil {
			return nil, err
		}
		c.dropLock(uploadID)
		return nil, apperr.NotFound("upload session", uploadID)
	}

	if session.Status != types.UploadOpen {
		return nil, apperr.NotFound("upload session", uploadID)
	}

	return session, nil
}

func (c *Coordinator) getOwnedSession(ctx context.Context, ownerID, uploadID string) (*types.UploadSession, error) {
	session, err := c.sessions.GetUploadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, apperr.Unauthorized(fmt.Sprintf("upload session %s belongs to another user", uploadID))
	}
	return session, nil
}

func missingParts(session *types.UploadSession) []int {
	var missing []int
	for n := 1; n <= session.TotalParts; n++ {
		if tag, ok := session.UploadedParts[n]; !ok || tag == "" {
			missing = append(missing, n)
		}
	}
	return missing
}

func (c *Coordinator) sessionLock(uploadID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[uploadID]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks[uploadID] = l
	return l
}

func (c *Coordinator) dropLock(uploadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, uploadID)
}

// withRetry runs fn with bounded retries and a short backoff for transient
// object-store failures.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= storeRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == storeRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * storeRetryDelay):
		}
	}
	return err
}
