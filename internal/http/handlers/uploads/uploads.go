package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/openscribe/scribe-service/internal/http/middleware"
	"github.com/openscribe/scribe-service/internal/services/upload"
	"github.com/openscribe/scribe-service/internal/types"
	"github.com/openscribe/scribe-service/internal/utils/response"
)

// PlanResolver supplies the caller's plan limits for upload admission.
type PlanResolver interface {
	Resolve(ctx context.Context, userID string) (types.PlanType, types.PlanLimits, error)
}

type UploadHandlers struct {
	coordinator *upload.Coordinator
	resolver    PlanResolver
}

func NewUploadHandlers(coordinator *upload.Coordinator, resolver PlanResolver) *UploadHandlers {
	return &UploadHandlers{coordinator: coordinator, resolver: resolver}
}

// Initiate opens a multipart upload session
// @Summary Start a multipart upload
// @Description Opens an upload session and returns the part layout
// @Tags uploads
// @Accept json
// @Produce json
// @Param request body types.InitUploadRequest true "Upload parameters"
// @Success 201 {object} types.InitUploadResponse "Upload session created"
// @Failure 400 {object} response.Response "Bad request"
// @Failure 401 {object} response.Response "Unauthorized"
// @Failure 429 {object} response.Response "Plan limit exceeded"
// @Security BearerAuth
// @Router /uploads [post]
func (h *UploadHandlers) Initiate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		var req types.InitUploadRequest
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

		_, limits, err := h.resolver.Resolve(r.Context(), userID)
		if err != nil {
			response.Error(w, err)
			return
		}

		resp, err := h.coordinator.InitiateUpload(r.Context(), userID, req, limits)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusCreated, response.RequestOK("Upload session created", resp))
	}
}

// PartURL returns a presigned URL for one part
// @Summary Get a part upload URL
// @Description Returns a short-lived presigned URL for uploading one part directly to object storage
// @Tags uploads
// @Produce json
// @Param upload_id path string true "Upload session ID"
// @Param part_number path int true "Part number (1-based)"
// @Success 200 {object} types.PartURLResponse "Presigned URL"
// @Failure 400 {object} response.Response "Bad request"
// @Failure 404 {object} response.Response "Session not found"
// @Security BearerAuth
// @Router /uploads/{upload_id}/parts/{part_number}/url [get]
func (h *UploadHandlers) PartURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		uploadID := r.PathValue("upload_id")
		partNumber, err := strconv.Atoi(r.PathValue("part_number"))
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("part_number must be an integer")))
			return
		}

		resp, err := h.coordinator.GetPartUploadURL(r.Context(), userID, uploadID, partNumber)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Part URL generated", resp))
	}
}

// RecordPart records a finished part upload
// @Summary Record an uploaded part
// @Description Stores the ETag the object store returned for a part. Re-recording a part overwrites the previous ETag.
// @Tags uploads
// @Accept json
// @Param upload_id path string true "Upload session ID"
// @Param part_number path int true "Part number (1-based)"
// @Param request body types.PartCompleteRequest true "Part ETag"
// @Success 200 {object} response.Response "Part recorded"
// @Failure 400 {object} response.Response "Bad request"
// @Failure 404 {object} response.Response "Session not found"
// @Security BearerAuth
// @Router /uploads/{upload_id}/parts/{part_number}/complete [post]
func (h *UploadHandlers) RecordPart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		uploadID := r.PathValue("upload_id")
		partNumber, err := strconv.Atoi(r.PathValue("part_number"))
		if err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("part_number must be an integer")))
			return
		}

		var req types.PartCompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(errors.New("invalid request body")))
			return
		}

		if err := h.coordinator.RecordPartComplete(r.Context(), userID, uploadID, partNumber, req.ETag); err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Part recorded", nil))
	}
}

// Complete finalizes the upload
// @Summary Complete a multipart upload
// @Description Assembles the uploaded parts into the final object. Fails with a conflict if parts are missing.
// @Tags uploads
// @Produce json
// @Param upload_id path string true "Upload session ID"
// @Success 200 {object} map[string]string "Object key of the assembled file"
// @Failure 404 {object} response.Response "Session not found"
// @Failure 409 {object} response.Response "Parts missing or completion in progress"
// @Security BearerAuth
// @Router /uploads/{upload_id}/complete [post]
func (h *UploadHandlers) Complete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		uploadID := r.PathValue("upload_id")
		objectKey, err := h.coordinator.CompleteUpload(r.Context(), userID, uploadID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Upload completed", map[string]string{
			"object_key": objectKey,
		}))
	}
}

// Abort cancels the upload
// @Summary Abort a multipart upload
// @Description Aborts the session and discards uploaded parts. Aborting an already aborted or expired session is a no-op.
// @Tags uploads
// @Param upload_id path string true "Upload session ID"
// @Success 204 "Upload aborted"
// @Failure 404 {object} response.Response "Session not found"
// @Failure 409 {object} response.Response "Upload already completed"
// @Security BearerAuth
// @Router /uploads/{upload_id}/abort [post]
func (h *UploadHandlers) Abort() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(errors.New("user not authenticated")))
			return
		}

		uploadID := r.PathValue("upload_id")
		if err := h.coordinator.AbortUpload(r.Context(), userID, uploadID); err != nil {
			response.Error(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
