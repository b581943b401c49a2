package jobs

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/openscribe/scribe-service/internal/http/middleware"
	jobService "github.com/openscribe/scribe-service/internal/services/jobs"
	"github.com/openscribe/scribe-service/internal/services/transcript"
	"github.com/openscribe/scribe-service/internal/types"
	"github.com/openscribe/scribe-service/internal/utils/response"
)

type JobHandlers struct {
	jobs        *jobService.Service
	transcripts *transcript.Service
}

func NewJobHandlers(jobs *jobService.Service, transcripts *transcript.Service) *JobHandlers {
	return &JobHandlers{jobs: jobs, transcripts: transcripts}
}

// Create submits a transcription job
// @Summary Create a transcription job
// @Description Admits a job against the caller's plan quota and queues it for transcription
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body types.CreateJobRequest true "Job parameters"
// @Success 201 {object} types.TranscriptionJob "Job queued"
// @Failure 400 {object} response.Response "Bad request"
// @Failure 401 {object} response.Response "Unauthorized"
// @Failure 409 {object} response.Response "Media already has a running job"
// @Failure 429 {object} response.Response "Plan limit exceeded"
// @Security BearerAuth
// @Router /jobs [post]
func (h *JobHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		var req types.CreateJobRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if errors.Is(err, io.EOF) {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("request body cannot be empty")))
			return
		} else if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		validate := validator.New()
		if err := validate.Struct(req); err != nil {
			if ve, ok := err.(validator.ValidationErrors); ok {
				response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(ve))
				return
			}
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		job, err := h.jobs.CreateJob(r.Context(), userID, req)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusCreated, response.RequestOK("Job queued", job))
	}
}

// List returns the caller's jobs
// @Summary List transcription jobs
// @Tags jobs
// @Produce json
// @Success 200 {array} types.TranscriptionJob "Jobs"
// @Failure 401 {object} response.Response "Unauthorized"
// @Security BearerAuth
// @Router /jobs [get]
func (h *JobHandlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		jobs, err := h.jobs.ListJobs(r.Context(), userID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Jobs fetched", jobs))
	}
}

// Get returns one job
// @Summary Get a transcription job
// @Tags jobs
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {object} types.TranscriptionJob "Job"
// @Failure 404 {object} response.Response "Job not found"
// @Security BearerAuth
// @Router /jobs/{job_id} [get]
func (h *JobHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		job, err := h.jobs.GetJob(r.Context(), userID, r.PathValue("job_id"))
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Job fetched", job))
	}
}

// Cancel stops a job that has not finished
// @Summary Cancel a transcription job
// @Description Cancels a pending, queued, or processing job. Cancelling a finished job is a no-op.
// @Tags jobs
// @Param job_id path string true "Job ID"
// @Success 200 {object} response.Response "Job cancelled"
// @Failure 404 {object} response.Response "Job not found"
// @Security BearerAuth
// @Router /jobs/{job_id}/cancel [post]
func (h *JobHandlers) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		if err := h.jobs.Cancel(r.Context(), userID, r.PathValue("job_id")); err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Job cancelled", nil))
	}
}

// Segments returns the transcript of a completed job
// @Summary Get transcript segments
// @Tags transcripts
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {array} types.TranscriptSegment "Segments in sequence order"
// @Failure 404 {object} response.Response "Job not found"
// @Failure 409 {object} response.Response "Job not completed"
// @Security BearerAuth
// @Router /jobs/{job_id}/segments [get]
func (h *JobHandlers) Segments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		segments, err := h.transcripts.ListSegments(r.Context(), userID, r.PathValue("job_id"))
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Segments fetched", segments))
	}
}

// EditSegment updates one segment's text
// @Summary Edit a transcript segment
// @Description Applies a text edit guarded by the version the client last saw. Stale versions get a 409 carrying the current version.
// @Tags transcripts
// @Accept json
// @Produce json
// @Param job_id path string true "Job ID"
// @Param segment_id path string true "Segment ID"
// @Param request body types.UpdateSegmentRequest true "New text and expected version"
// @Success 200 {object} types.TranscriptSegment "Updated segment"
// @Failure 400 {object} response.Response "Bad request"
// @Failure 404 {object} response.Response "Segment not found"
// @Failure 409 {object} response.Response "Version conflict"
// @Security BearerAuth
// @Router /jobs/{job_id}/segments/{segment_id} [patch]
func (h *JobHandlers) EditSegment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		var req types.UpdateSegmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		segment, err := h.transcripts.UpdateSegment(r.Context(), userID, r.PathValue("job_id"), r.PathValue("segment_id"), req)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Segment updated", segment))
	}
}

// RevertSegment restores a segment's original text
// @Summary Revert a transcript segment
// @Description Restores the original engine text. The revert is recorded as an edit and bumps the version.
// @Tags transcripts
// @Produce json
// @Param job_id path string true "Job ID"
// @Param segment_id path string true "Segment ID"
// @Success 200 {object} types.TranscriptSegment "Reverted segment"
// @Failure 404 {object} response.Response "Segment not found"
// @Security BearerAuth
// @Router /jobs/{job_id}/segments/{segment_id}/revert [post]
func (h *JobHandlers) RevertSegment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		segment, err := h.transcripts.RevertSegment(r.Context(), userID, r.PathValue("job_id"), r.PathValue("segment_id"))
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Segment reverted", segment))
	}
}

// Translate queues a translation of a completed transcript
// @Summary Request a transcript translation
// @Description Queues translation of a completed transcript. Requires a plan with translation enabled.
// @Tags transcripts
// @Accept json
// @Param job_id path string true "Job ID"
// @Param request body types.TranslateRequest true "Target language"
// @Success 202 {object} response.Response "Translation queued"
// @Failure 404 {object} response.Response "Job not found"
// @Failure 409 {object} response.Response "Job not completed"
// @Failure 429 {object} response.Response "Plan does not include translation"
// @Security BearerAuth
// @Router /jobs/{job_id}/translate [post]
func (h *JobHandlers) Translate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		var req types.TranslateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		validate := validator.New()
		if err := validate.Struct(req); err != nil {
			if ve, ok := err.(validator.ValidationErrors); ok {
				response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(ve))
				return
			}
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
			return
		}

		if err := h.jobs.EnqueueTranslation(r.Context(), userID, r.PathValue("job_id"), req.TargetLanguage); err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusAccepted, response.RequestOK("Translation queued", nil))
	}
}
