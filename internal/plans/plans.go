// Package plans resolves a user's plan tier into the immutable limit
// snapshot the admission gate consumes. Tier definitions are static; the
// billing system owns which tier a user is on.
package plans

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/openscribe/scribe-service/internal/types"
)

var definitions = map[types.PlanType]types.PlanLimits{
	types.PlanFree: {
		DailyTranscriptionLimit: 3,
		MaxMinutesPerFile:       30,
		MaxFileSizeBytes:        200 << 20, // 200 MB
		MaxConcurrentJobs:       1,
		Priority:                false,
		AllowTranslation:        false,
	},
	types.PlanPro: {
		DailyTranscriptionLimit: 50,
		MaxMinutesPerFile:       180,
		MaxFileSizeBytes:        2 << 30, // 2 GB
		MaxConcurrentJobs:       3,
		Priority:                true,
		AllowTranslation:        true,
	},
	types.PlanBusiness: {
		DailyTranscriptionLimit: 0, // unlimited
		MaxMinutesPerFile:       360,
		MaxFileSizeBytes:        5 << 30, // 5 GB
		MaxConcurrentJobs:       10,
		Priority:                true,
		AllowTranslation:        true,
	},
}

// Limits returns the limit snapshot for a tier, falling back to free for
// anything unknown.
func Limits(plan types.PlanType) types.PlanLimits {
	if limits, ok := definitions[plan]; ok {
		return limits
	}
	return definitions[types.PlanFree]
}

// PlanSource looks up which tier a user is on.
type PlanSource interface {
	GetUserPlan(ctx context.Context, userID string) (types.PlanType, error)
}

const (
	planCacheKey = "plan:user:%s"
	planCacheTTL = 5 * time.Minute
)

// Resolver caches per-user plan lookups in Redis so the hot admission path
// does not hit the database on every request.
type Resolver struct {
	source PlanSource
	redis  *redis.Client
}

func NewResolver(source PlanSource, redisClient *redis.Client) *Resolver {
	return &Resolver{source: source, redis: redisClient}
}

// Resolve returns the user's tier and its limits.
func (r *Resolver) Resolve(ctx context.Context, userID string) (types.PlanType, types.PlanLimits, error) {
	key := fmt.Sprintf(planCacheKey, userID)

	if cached, err := r.redis.Get(ctx, key).Result(); err == nil && cached != "" {
		plan := types.PlanType(cached)
		return plan, Limits(plan), nil
	}

	plan, err := r.source.GetUserPlan(ctx, userID)
	if err != nil {
		return "", types.PlanLimits{}, fmt.Errorf("failed to resolve plan for user %s: %w", userID, err)
	}

	r.redis.Set(ctx, key, string(plan), planCacheTTL)

	return plan, Limits(plan), nil
}

// Invalidate drops the cached tier, for when billing reports a change.
func (r *Resolver) Invalidate(ctx context.Context, userID string) error {
	return r.redis.Del(ctx, fmt.Sprintf(planCacheKey, userID)).Err()
}
