package events

import (
	"time"

	"github.com/openscribe/scribe-service/internal/types"
)

// Publisher pushes real-time notifications to resource owners.
type Publisher interface {
	PublishJobStatus(userID, jobID string, status types.JobStatus, errMsg string)
	PublishSegmentEdited(userID, jobID, segmentID string, version int64, reverted bool)
	PublishUploadCompleted(userID, uploadID, objectKey string)
}

// UserHub is the slice of the WebSocket hub the publisher needs.
type UserHub interface {
	SendToUser(userID string, event *types.Event)
	IsUserConnected(userID string) bool
}

// EventPublisher implements Publisher over the WebSocket hub.
type EventPublisher struct {
	hub UserHub
}

func NewEventPublisher(hub UserHub) *EventPublisher {
	return &EventPublisher{hub: hub}
}

// PublishJobStatus notifies the job owner about a lifecycle change.
func (p *EventPublisher) PublishJobStatus(userID, jobID string, status types.JobStatus, errMsg string) {
	if !p.hub.IsUserConnected(userID) {
		return
	}

	eventData := &types.JobStatusEvent{
		JobID:     jobID,
		Status:    status,
		Error:     errMsg,
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	}

	p.hub.SendToUser(userID, types.NewEvent(types.EventJobStatus, eventData))
}

// PublishSegmentEdited notifies the owner that a segment changed, so other
// open sessions can refresh before their next edit.
func (p *EventPublisher) PublishSegmentEdited(userID, jobID, segmentID string, version int64, reverted bool) {
	if !p.hub.IsUserConnected(userID) {
		return
	}

	eventData := &types.SegmentEditedEvent{
		JobID:     jobID,
		SegmentID: segmentID,
		Version:   version,
		Reverted:  reverted,
		EditedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	p.hub.SendToUser(userID, types.NewEvent(types.EventSegmentEdited, eventData))
}

// PublishUploadCompleted notifies the owner that a multipart upload
// finalized.
func (p *EventPublisher) PublishUploadCompleted(userID, uploadID, objectKey string) {
	if !p.hub.IsUserConnected(userID) {
		return
	}

	eventData := &types.UploadCompletedEvent{
		UploadID:  uploadID,
		ObjectKey: objectKey,
	}

	p.hub.SendToUser(userID, types.NewEvent(types.EventUploadComplete, eventData))
}
