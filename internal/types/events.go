package types

import "time"

// EventType represents the type of real-time event
type EventType string

const (
	EventJobStatus      EventType = "job.status"
	EventSegmentEdited  EventType = "segment.edited"
	EventUploadComplete EventType = "upload.completed"
)

// Event represents a real-time event that can be sent over WebSocket
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// JobStatusEvent is pushed to the owning user on every lifecycle change.
type JobStatusEvent struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	ChangedAt string    `json:"changed_at"`
}

// SegmentEditedEvent is pushed when a segment is edited or reverted.
type SegmentEditedEvent struct {
	JobID     string `json:"job_id"`
	SegmentID string `json:"segment_id"`
	Version   int64  `json:"version"`
	Reverted  bool   `json:"reverted"`
	EditedAt  string `json:"edited_at"`
}

// UploadCompletedEvent is pushed when a multipart upload finalizes.
type UploadCompletedEvent struct {
	UploadID  string `json:"upload_id"`
	ObjectKey string `json:"object_key"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
