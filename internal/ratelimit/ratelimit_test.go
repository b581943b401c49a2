package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
		DB:   0,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		t.Fatalf("Failed to connect to test Redis: %v", err)
	}

	cleanup := func() {
		redisClient.Close()
		mr.Close()
	}

	return redisClient, cleanup
}

func TestTokenBucket_AllowExhaustsBudget(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	bucket := NewTokenBucket(redisClient, 5, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := bucket.Allow(ctx, "user-1", "uploads")
		if err != nil {
			t.Fatalf("allow %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("request %d should be within budget", i+1)
		}
	}

	allowed, err := bucket.Allow(ctx, "user-1", "uploads")
	if err != nil {
		t.Fatalf("allow over budget: %v", err)
	}
	if allowed {
		t.Fatal("request past the budget should be denied")
	}

	remaining, err := bucket.GetRemaining(ctx, "user-1", "uploads")
	if err != nil {
		t.Fatalf("get remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0 after exhaustion", remaining)
	}
}

func TestTokenBucket_PeekDoesNotConsume(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	bucket := NewTokenBucket(redisClient, 4, 4)
	ctx := context.Background()

	// The same script serves consume and peek; peeking repeatedly must
	// not eat into the budget.
	for i := 0; i < 3; i++ {
		remaining, err := bucket.GetRemaining(ctx, "user-1", "edits")
		if err != nil {
			t.Fatalf("peek %d: %v", i+1, err)
		}
		if remaining != 4 {
			t.Fatalf("peek %d remaining = %d, want 4", i+1, remaining)
		}
	}

	for i := 0; i < 4; i++ {
		allowed, err := bucket.Allow(ctx, "user-1", "edits")
		if err != nil {
			t.Fatalf("allow %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("request %d should still have the full budget", i+1)
		}
	}
}

func TestTokenBucket_BucketsAreIndependent(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	bucket := NewTokenBucket(redisClient, 2, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := bucket.Allow(ctx, "user-1", "uploads"); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
	if allowed, _ := bucket.Allow(ctx, "user-1", "uploads"); allowed {
		t.Fatal("user-1 uploads budget should be exhausted")
	}

	// A different action and a different user keep their own budgets.
	if allowed, _ := bucket.Allow(ctx, "user-1", "edits"); !allowed {
		t.Fatal("user-1 edits budget should be untouched")
	}
	if allowed, _ := bucket.Allow(ctx, "user-2", "uploads"); !allowed {
		t.Fatal("user-2 uploads budget should be untouched")
	}
}

func TestTokenBucket_RefillAfterElapsedTime(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	bucket := NewTokenBucket(redisClient, 6, 6)
	ctx := context.Background()

	// An empty bucket refilled half a window ago gets half its rate
	// back.
	key := bucketKey("user-1", "uploads")
	past := time.Now().Add(-30 * time.Second).Unix()
	if err := redisClient.HSet(ctx, key, "tokens", 0, "last_refill", past).Err(); err != nil {
		t.Fatalf("seed bucket: %v", err)
	}

	remaining, err := bucket.GetRemaining(ctx, "user-1", "uploads")
	if err != nil {
		t.Fatalf("get remaining: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("remaining = %d, want 3 after half a window", remaining)
	}

	// A full window (or more) refills to capacity, never beyond.
	past = time.Now().Add(-2 * time.Minute).Unix()
	if err := redisClient.HSet(ctx, key, "tokens", 0, "last_refill", past).Err(); err != nil {
		t.Fatalf("seed bucket: %v", err)
	}

	remaining, err = bucket.GetRemaining(ctx, "user-1", "uploads")
	if err != nil {
		t.Fatalf("get remaining: %v", err)
	}
	if remaining != 6 {
		t.Fatalf("remaining = %d, want capacity after a full window", remaining)
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	bucket := NewTokenBucket(redisClient, 5, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := bucket.Allow(ctx, "user-1", "uploads"); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}

	if err := bucket.Reset(ctx, "user-1", "uploads"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	remaining, err := bucket.GetRemaining(ctx, "user-1", "uploads")
	if err != nil {
		t.Fatalf("get remaining: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("remaining = %d, want full budget after reset", remaining)
	}
}
