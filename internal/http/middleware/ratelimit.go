package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/openscribe/scribe-service/internal/ratelimit"
	"github.com/openscribe/scribe-service/internal/utils/response"
)

// Per-minute request budgets by action. Quota enforcement happens in
// the services; these only protect the API surface from hammering.
const (
	ActionUploads = "uploads"
	ActionJobs    = "jobs"
	ActionEdits   = "edits"
)

type RateLimitConfig struct {
	redisClient *redis.Client
	limiters    map[string]*ratelimit.TokenBucket
	limits      map[string]int64
}

func NewRateLimitConfig(redisClient *redis.Client) *RateLimitConfig {
	config := &RateLimitConfig{
		redisClient: redisClient,
		limiters:    make(map[string]*ratelimit.TokenBucket),
		limits:      make(map[string]int64),
	}

	// Part URL requests arrive once per part, so uploads get the
	// widest budget.
	config.addLimiter(ActionUploads, 120)
	config.addLimiter(ActionJobs, 30)
	config.addLimiter(ActionEdits, 60)

	return config
}

func (rlc *RateLimitConfig) addLimiter(action string, perMinute int64) {
	rlc.limiters[action] = ratelimit.NewTokenBucket(rlc.redisClient, perMinute, perMinute)
	rlc.limits[action] = perMinute
}

func (rlc *RateLimitConfig) RateLimitMiddleware(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(
					errors.New("user not authenticated")))
				return
			}

			limiter, exists := rlc.limiters[action]
			if !exists {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), userID, action)
			if err != nil {
				response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(
					fmt.Errorf("rate limit check failed: %w", err)))
				return
			}

			remaining, _ := limiter.GetRemaining(r.Context(), userID, action)
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rlc.limits[action], 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", "60")

			if !allowed {
				response.WriteJSON(w, http.StatusTooManyRequests, response.GeneralError(
					errors.New("rate limit exceeded")))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
