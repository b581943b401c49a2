// Package quota admission-controls transcription jobs against plan limits.
// The check-and-increment runs as a single Redis Lua script per attempt, so
// two concurrent reservations can never both take the last slot.
package quota

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/openscribe/scribe-service/internal/apperr"
	"github.com/openscribe/scribe-service/internal/types"
)

const (
	activeKeyPattern  = "quota:active:%s"       // quota:active:userID
	dailyKeyPattern   = "quota:daily:%s:%s"     // quota:daily:userID:2006-01-02
	minutesKeyPattern = "quota:minutes:%s:%s"   // quota:minutes:userID:2006-01

	dailyKeyTTL   = 48 * time.Hour
	minutesKeyTTL = 40 * 24 * time.Hour
)

// Limit names carried by PlanLimitExceededError.
const (
	LimitFileSize       = "max_file_size"
	LimitFileDuration   = "max_minutes_per_file"
	LimitConcurrentJobs = "max_concurrent_jobs"
	LimitDailyJobs      = "daily_transcription_limit"
)

type Guard struct {
	redis *redis.Client
}

func NewGuard(redisClient *redis.Client) *Guard {
	return &Guard{redis: redisClient}
}

// Reservation is a single-use token for one admitted job. Release gives the
// concurrency slot back; the daily count is never refunded because it tracks
// jobs created, not jobs running.
type Reservation struct {
	UserID   string
	guard    *Guard
	released atomic.Bool
}

// Release decrements the user's active job count. Calling it twice is a
// programming error; the second call is rejected without decrementing.
func (r *Reservation) Release(ctx context.Context) error {
	if !r.released.CompareAndSwap(false, true) {
		return fmt.Errorf("reservation for user %s already released", r.UserID)
	}
	return r.guard.ReleaseActive(ctx, r.UserID)
}

// reserveScript checks the concurrency and daily limits and increments both
// counters atomically. ARGV: maxConcurrent, dailyLimit (0 = unlimited),
// minutes, dailyTTL, minutesTTL.
const reserveScript = `
	local active_key = KEYS[1]
	local daily_key = KEYS[2]
	local minutes_key = KEYS[3]
	local max_concurrent = tonumber(ARGV[1])
	local daily_limit = tonumber(ARGV[2])
	local minutes = tonumber(ARGV[3])
	local daily_ttl = tonumber(ARGV[4])
	local minutes_ttl = tonumber(ARGV[5])

	local active = tonumber(redis.call('GET', active_key) or '0')
	if active + 1 > max_concurrent then
		return {0, 'concurrent'}
	end

	local daily = tonumber(redis.call('GET', daily_key) or '0')
	if daily_limit > 0 and daily + 1 > daily_limit then
		return {0, 'daily'}
	end

	redis.call('INCR', active_key)
	redis.call('INCR', daily_key)
	redis.call('EXPIRE', daily_key, daily_ttl)
	redis.call('INCRBY', minutes_key, minutes)
	redis.call('EXPIRE', minutes_key, minutes_ttl)
	return {1}
`

// releaseScript decrements the active count without going below zero.
const releaseScript = `
	local active_key = KEYS[1]
	local active = tonumber(redis.call('GET', active_key) or '0')
	if active > 0 then
		redis.call('DECR', active_key)
	end
	return active
`

// TryReserve checks limits in order (file size, file duration, concurrency,
// daily count) and returns the first violation. On success both counters are
// already incremented and the returned reservation is bound to the job.
func (g *Guard) TryReserve(ctx context.Context, userID string, limits types.PlanLimits, fileDurationSeconds float64, fileSizeBytes int64) (*Reservation, error) {
	if fileSizeBytes > limits.MaxFileSizeBytes {
		return nil, apperr.PlanLimitExceeded(LimitFileSize,
			fmt.Sprintf("file size %d bytes exceeds plan limit of %d bytes", fileSizeBytes, limits.MaxFileSizeBytes))
	}

	maxSeconds := float64(limits.MaxMinutesPerFile * 60)
	if fileDurationSeconds > maxSeconds {
		return nil, apperr.PlanLimitExceeded(LimitFileDuration,
			fmt.Sprintf("file duration %.1fs exceeds plan limit of %d minutes", fileDurationSeconds, limits.MaxMinutesPerFile))
	}

	now := time.Now().UTC()
	keys := []string{
		fmt.Sprintf(activeKeyPattern, userID),
		fmt.Sprintf(dailyKeyPattern, userID, now.Format("2006-01-02")),
		fmt.Sprintf(minutesKeyPattern, userID, now.Format("2006-01")),
	}
	// Minutes are the billing unit, so partial minutes charge as whole
	// ones. A 59 second file costs one minute, not zero.
	minutes := int64(math.Ceil(fileDurationSeconds / 60))

	result, err := g.redis.Eval(ctx, reserveScript, keys,
		limits.MaxConcurrentJobs, limits.DailyTranscriptionLimit, minutes,
		int64(dailyKeyTTL.Seconds()), int64(minutesKeyTTL.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("quota reservation failed: %w", err)
	}

	reply, ok := result.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("unexpected result type from quota script")
	}

	if code, _ := reply[0].(int64); code != 1 {
		reason := ""
		if len(reply) > 1 {
			reason, _ = reply[1].(string)
		}
		switch reason {
		case "daily":
			return nil, apperr.PlanLimitExceeded(LimitDailyJobs,
				fmt.Sprintf("daily transcription limit of %d files reached", limits.DailyTranscriptionLimit))
		default:
			return nil, apperr.PlanLimitExceeded(LimitConcurrentJobs,
				fmt.Sprintf("concurrent job limit of %d reached, wait for a job to finish", limits.MaxConcurrentJobs))
		}
	}

	res := &Reservation{UserID: userID, guard: g}
	return res, nil
}

// ReleaseActive gives one concurrency slot back for the user. Callers are
// responsible for exactly-once semantics: either through a Reservation or
// through a persisted released flag on the job.
func (g *Guard) ReleaseActive(ctx context.Context, userID string) error {
	key := fmt.Sprintf(activeKeyPattern, userID)
	if err := g.redis.Eval(ctx, releaseScript, []string{key}).Err(); err != nil {
		return fmt.Errorf("quota release failed: %w", err)
	}
	return nil
}

// Snapshot returns the user's current usage without side effects.
func (g *Guard) Snapshot(ctx context.Context, userID string) (types.UsageStats, error) {
	now := time.Now().UTC()

	active, err := g.getCounter(ctx, fmt.Sprintf(activeKeyPattern, userID))
	if err != nil {
		return types.UsageStats{}, err
	}
	daily, err := g.getCounter(ctx, fmt.Sprintf(dailyKeyPattern, userID, now.Format("2006-01-02")))
	if err != nil {
		return types.UsageStats{}, err
	}
	minutes, err := g.getCounter(ctx, fmt.Sprintf(minutesKeyPattern, userID, now.Format("2006-01")))
	if err != nil {
		return types.UsageStats{}, err
	}

	return types.UsageStats{
		UsedMinutesThisMonth: minutes,
		JobsCreatedToday:     daily,
		ActiveJobs:           active,
	}, nil
}

func (g *Guard) getCounter(ctx context.Context, key string) (int64, error) {
	val, err := g.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return val, nil
}
