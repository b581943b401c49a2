// Package queue hands finished admissions off to the external workers:
// transcription jobs to the engine, translation requests to the translator.
// Redis lists; priority plans get their own queue so the engine can drain
// it first.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	transcriptionPriorityKey = "queue:transcription:priority"
	transcriptionStandardKey = "queue:transcription:standard"
	translationKey           = "queue:translation"
)

type Queue struct {
	redis *redis.Client
}

func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{redis: redisClient}
}

// TranscriptionTask is the payload the engine pops.
type TranscriptionTask struct {
	JobID      string `json:"job_id"`
	EnqueuedAt string `json:"enqueued_at"`
}

// TranslationTask is the payload the translation worker pops.
type TranslationTask struct {
	JobID          string `json:"job_id"`
	TargetLanguage string `json:"target_language"`
	EnqueuedAt     string `json:"enqueued_at"`
}

func (q *Queue) EnqueueTranscription(ctx context.Context, jobID string, priority bool) error {
	task := TranscriptionTask{
		JobID:      jobID,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	key := transcriptionStandardKey
	if priority {
		key = transcriptionPriorityKey
	}

	if err := q.redis.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue transcription job %s: %w", jobID, err)
	}
	return nil
}

func (q *Queue) EnqueueTranslation(ctx context.Context, jobID, targetLanguage string) error {
	task := TranslationTask{
		JobID:          jobID,
		TargetLanguage: targetLanguage,
		EnqueuedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	if err := q.redis.LPush(ctx, translationKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue translation for job %s: %w", jobID, err)
	}
	return nil
}

// DequeueTranscription pops the next task, draining the priority queue
// before the standard one. A zero timeout blocks indefinitely.
func (q *Queue) DequeueTranscription(ctx context.Context, timeout time.Duration) (*TranscriptionTask, error) {
	res, err := q.redis.BRPop(ctx, timeout, transcriptionPriorityKey, transcriptionStandardKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue transcription task: %w", err)
	}

	// BRPop returns [key, value].
	var task TranscriptionTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("malformed transcription task: %w", err)
	}
	return &task, nil
}
