package types

import "time"

type UploadSessionStatus string

const (
	UploadOpen       UploadSessionStatus = "open"
	UploadCompleting UploadSessionStatus = "completing"
	UploadCompleted  UploadSessionStatus = "completed"
	UploadAborted    UploadSessionStatus = "aborted"
	UploadExpired    UploadSessionStatus = "expired"
)

// UploadSession tracks one multipart upload against the object store.
// Parts are numbered 1..TotalParts; a part is done once an ETag has been
// recorded for it. Completed is only reachable when every part has a tag.
type UploadSession struct {
	ID            string              `json:"id"`
	OwnerID       string              `json:"owner_id"`
	ObjectKey     string              `json:"object_key"`
	StoreUploadID string              `json:"-"`
	ContentType   string              `json:"content_type"`
	FileSizeBytes int64               `json:"file_size_bytes"`
	PartSizeBytes int64               `json:"part_size_bytes"`
	TotalParts    int                 `json:"total_parts"`
	UploadedParts map[int]string      `json:"uploaded_parts"`
	Status        UploadSessionStatus `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
}

// Terminal reports whether the session can no longer accept parts.
func (s UploadSessionStatus) Terminal() bool {
	return s == UploadCompleted || s == UploadAborted || s == UploadExpired
}

type InitUploadRequest struct {
	FileSizeBytes   int64   `json:"file_size_bytes" validate:"required,gt=0"`
	ContentType     string  `json:"content_type" validate:"required"`
	DurationSeconds float64 `json:"duration_seconds" validate:"gte=0"`
}

type InitUploadResponse struct {
	UploadID      string   `json:"upload_id"`
	ObjectKey     string   `json:"object_key"`
	PartSizeBytes int64    `json:"part_size_bytes"`
	TotalParts    int      `json:"total_parts"`
	PartURLs      []string `json:"part_urls"`
}

type PartCompleteRequest struct {
	ETag string `json:"etag" validate:"required"`
}

type PartURLResponse struct {
	PartNumber int    `json:"part_number"`
	URL        string `json:"url"`
	ExpiresAt  int64  `json:"expires_at"`
}
