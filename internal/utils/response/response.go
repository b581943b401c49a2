package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/openscribe/scribe-service/internal/apperr"
)

type Response struct {
	Status  string      `json:"status"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(data)
}

func GeneralError(err error) Response {
	return Response{
		Status: StatusError,
		Error:  err.Error(),
	}
}

func ValidationError(errs validator.ValidationErrors) Response {
	var errorMessages string
	for _, err := range errs {
		errorMessages += err.Field() + ": " + err.Tag() + "; "
	}

	return Response{
		Status: StatusError,
		Error:  errorMessages,
	}
}

func RequestOK(message string, data interface{}) Response {
	return Response{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
	}
}

// Error maps service errors to HTTP status codes and writes the
// standard error envelope. Unrecognized errors become a 500 without
// leaking internals.
func Error(w http.ResponseWriter, err error) {
	var (
		validation    *apperr.ValidationError
		notFound      *apperr.NotFoundError
		conflict      *apperr.ConflictError
		planLimit     *apperr.PlanLimitExceededError
		unauthorized  *apperr.UnauthorizedError
		transcription *apperr.TranscriptionError
	)

	switch {
	case errors.As(err, &validation):
		WriteJSON(w, http.StatusBadRequest, GeneralError(err))
	case errors.As(err, &unauthorized):
		WriteJSON(w, http.StatusForbidden, GeneralError(err))
	case errors.As(err, &notFound):
		WriteJSON(w, http.StatusNotFound, GeneralError(err))
	case errors.As(err, &conflict):
		WriteJSON(w, http.StatusConflict, GeneralError(err))
	case errors.As(err, &planLimit):
		WriteJSON(w, http.StatusTooManyRequests, GeneralError(err))
	case errors.As(err, &transcription):
		WriteJSON(w, http.StatusUnprocessableEntity, GeneralError(err))
	default:
		WriteJSON(w, http.StatusInternalServerError, Response{
			Status: StatusError,
			Error:  "internal server error",
		})
	}
}
