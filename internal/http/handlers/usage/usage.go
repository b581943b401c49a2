package usage

import (
	"context"
	"errors"
	"net/http"

	"github.com/openscribe/scribe-service/internal/http/middleware"
	"github.com/openscribe/scribe-service/internal/types"
	"github.com/openscribe/scribe-service/internal/utils/response"
)

// PlanResolver yields the caller's plan tier and limits.
type PlanResolver interface {
	Resolve(ctx context.Context, userID string) (types.PlanType, types.PlanLimits, error)
}

// UsageSource yields the caller's current consumption counters.
type UsageSource interface {
	Snapshot(ctx context.Context, userID string) (types.UsageStats, error)
}

type UsageHandlers struct {
	resolver PlanResolver
	usage    UsageSource
}

func NewUsageHandlers(resolver PlanResolver, usage UsageSource) *UsageHandlers {
	return &UsageHandlers{resolver: resolver, usage: usage}
}

// Me reports the caller's plan, limits, and current usage
// @Summary Get current usage
// @Description Returns the caller's plan tier, its limits, and live usage counters
// @Tags usage
// @Produce json
// @Success 200 {object} types.UsageResponse "Usage snapshot"
// @Failure 401 {object} response.Response "Unauthorized"
// @Security BearerAuth
// @Router /usage/me [get]
func (h *UsageHandlers) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		plan, limits, err := h.resolver.Resolve(r.Context(), userID)
		if err != nil {
			response.Error(w, err)
			return
		}

		stats, err := h.usage.Snapshot(r.Context(), userID)
		if err != nil {
			response.Error(w, err)
			return
		}

		resp := types.UsageResponse{
			PlanType: plan,
			Usage:    stats,
			Limits:   limits,
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Usage fetched", resp))
	}
}
