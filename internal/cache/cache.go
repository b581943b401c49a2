// Package cache keeps hot read paths off Postgres. Completed
// transcripts are read far more often than they are edited, so segment
// lists live in Redis until an edit invalidates them.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/openscribe/scribe-service/internal/storage"
	"github.com/openscribe/scribe-service/internal/types"
)

const (
	transcriptKey = "transcript:job:%s" // transcript:job:jobID

	// Transcripts are immutable between edits, so a longer TTL is safe.
	transcriptCacheDuration = 10 * time.Minute
)

// TranscriptCache serves segment lists from Redis, falling back to
// storage on a miss. Cache failures degrade to direct reads.
type TranscriptCache struct {
	storage storage.Storage
	redis   *redis.Client
}

func NewTranscriptCache(st storage.Storage, redisClient *redis.Client) *TranscriptCache {
	return &TranscriptCache{
		storage: st,
		redis:   redisClient,
	}
}

// GetSegments returns the cached transcript or loads and caches it.
func (c *TranscriptCache) GetSegments(ctx context.Context, jobID string) ([]types.TranscriptSegment, error) {
	key := fmt.Sprintf(transcriptKey, jobID)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var segments []types.TranscriptSegment
		if err := json.Unmarshal([]byte(cached), &segments); err == nil {
			return segments, nil
		}
		// Corrupt entry; drop it and reload.
		c.redis.Del(ctx, key)
	}

	segments, err := c.storage.ListSegments(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(segments); err == nil {
		if err := c.redis.Set(ctx, key, data, transcriptCacheDuration).Err(); err != nil {
			slog.Warn("Failed to cache transcript", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}

	return segments, nil
}

// Invalidate drops the cached transcript after an edit or revert.
func (c *TranscriptCache) Invalidate(ctx context.Context, jobID string) {
	key := fmt.Sprintf(transcriptKey, jobID)
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		slog.Warn("Failed to invalidate transcript cache", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}
