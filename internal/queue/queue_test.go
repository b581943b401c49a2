package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewQueue(client)
}

func TestDequeueTranscription_PriorityFirst(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.EnqueueTranscription(ctx, "job-standard", false); err != nil {
		t.Fatalf("enqueue standard: %v", err)
	}
	if err := q.EnqueueTranscription(ctx, "job-priority", true); err != nil {
		t.Fatalf("enqueue priority: %v", err)
	}

	first, err := q.DequeueTranscription(ctx, time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first == nil || first.JobID != "job-priority" {
		t.Fatalf("expected priority task first, got %+v", first)
	}
	if first.EnqueuedAt == "" {
		t.Error("expected enqueued_at to be set")
	}

	second, err := q.DequeueTranscription(ctx, time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if second == nil || second.JobID != "job-standard" {
		t.Fatalf("expected standard task second, got %+v", second)
	}
}

func TestEnqueueTranslation_Payload(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.EnqueueTranslation(ctx, "job-1", "de"); err != nil {
		t.Fatalf("enqueue translation: %v", err)
	}

	raw, err := q.redis.RPop(ctx, translationKey).Result()
	if err != nil {
		t.Fatalf("failed to pop translation task: %v", err)
	}

	var task TranslationTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		t.Fatalf("malformed task payload: %v", err)
	}
	if task.JobID != "job-1" || task.TargetLanguage != "de" {
		t.Errorf("unexpected task %+v", task)
	}
}
