package jobs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openscribe/scribe-service/internal/types"
	"github.com/openscribe/scribe-service/internal/utils/response"
)

// Engine callbacks. These routes sit behind the engine token, not user
// auth, because the transcription engine acts on jobs it was handed
// regardless of who owns them.

type completeCallbackRequest struct {
	Segments []types.SegmentInput `json:"segments"`
}

type failCallbackRequest struct {
	Error string `json:"error"`
}

// EngineStarted marks a dequeued job as processing
// @Summary Engine callback: job picked up
// @Tags engine
// @Param job_id path string true "Job ID"
// @Success 200 {object} response.Response "Job marked processing"
// @Failure 409 {object} response.Response "Job no longer queued"
// @Router /internal/jobs/{job_id}/started [post]
func (h *JobHandlers) EngineStarted() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.jobs.MarkProcessing(r.Context(), r.PathValue("job_id")); err != nil {
			response.Error(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Job marked processing", nil))
	}
}

// EngineComplete ingests the transcript and finishes the job
// @Summary Engine callback: transcription finished
// @Tags engine
// @Accept json
// @Param job_id path string true "Job ID"
// @Success 200 {object} response.Response "Job completed"
// @Failure 409 {object} response.Response "Job was cancelled or already finished"
// @Router /internal/jobs/{job_id}/complete [post]
func (h *JobHandlers) EngineComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completeCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		if err := h.jobs.CompleteJob(r.Context(), r.PathValue("job_id"), req.Segments); err != nil {
			response.Error(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Job completed", nil))
	}
}

// EngineFail records an engine failure
// @Summary Engine callback: transcription failed
// @Tags engine
// @Accept json
// @Param job_id path string true "Job ID"
// @Success 200 {object} response.Response "Job marked failed"
// @Router /internal/jobs/{job_id}/fail [post]
func (h *JobHandlers) EngineFail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req failCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}
		if req.Error == "" {
			req.Error = "transcription failed"
		}

		if err := h.jobs.FailJob(r.Context(), r.PathValue("job_id"), req.Error); err != nil {
			response.Error(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, response.RequestOK("Job marked failed", nil))
	}
}
