// Package apperr defines the closed set of error kinds the service returns.
// Handlers map these to HTTP status codes; everything else is a 500.
package apperr

import "fmt"

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports an unknown session, job, or segment.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports an operation that lost a race or arrived in the
// wrong state: incomplete multipart completion, duplicate finalize, stale
// edit version, invalid job transition.
type ConflictError struct {
	Message string
	// CurrentVersion is set for stale edit conflicts so the caller can
	// re-fetch and retry.
	CurrentVersion int64
}

func (e *ConflictError) Error() string { return e.Message }

func Conflict(message string) *ConflictError {
	return &ConflictError{Message: message}
}

func StaleVersion(currentVersion int64) *ConflictError {
	return &ConflictError{
		Message:        fmt.Sprintf("stale version, current is %d", currentVersion),
		CurrentVersion: currentVersion,
	}
}

// PlanLimitExceededError reports a quota denial and carries which limit
// was hit.
type PlanLimitExceededError struct {
	Limit   string
	Message string
}

func (e *PlanLimitExceededError) Error() string { return e.Message }

func PlanLimitExceeded(limit, message string) *PlanLimitExceededError {
	return &PlanLimitExceededError{Limit: limit, Message: message}
}

// TranscriptionError surfaces an engine-side failure onto a job.
type TranscriptionError struct {
	JobID   string
	Message string
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed for job %s: %s", e.JobID, e.Message)
}

func Transcription(jobID, message string) *TranscriptionError {
	return &TranscriptionError{JobID: jobID, Message: message}
}

// UnauthorizedError reports that the caller does not own the referenced
// resource.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

func Unauthorized(message string) *UnauthorizedError {
	return &UnauthorizedError{Message: message}
}
