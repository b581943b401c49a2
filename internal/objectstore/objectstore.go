package objectstore

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/openscribe/scribe-service/internal/config"
)

// Part is one completed multipart chunk.
type Part struct {
	Number int
	ETag   string
}

// Store is the slice of object-store behaviour the upload coordinator
// needs. *MinioStore implements it; tests substitute a fake.
type Store interface {
	InitiateMultipart(ctx context.Context, objectKey, contentType string) (uploadID string, err error)
	PresignPartURL(ctx context.Context, objectKey, uploadID string, partNumber int, expiry time.Duration) (string, error)
	CompleteMultipart(ctx context.Context, objectKey, uploadID string, parts []Part) error
	AbortMultipart(ctx context.Context, objectKey, uploadID string) error
}

// MinioStore talks to a MinIO/S3-compatible object store.
type MinioStore struct {
	core       *minio.Core
	bucketName string
}

// NewMinioStore creates the store client and ensures the bucket exists.
func NewMinioStore(cfg *config.Config) (*MinioStore, error) {
	core, err := minio.NewCore(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKeyID, cfg.MinIO.SecretAccessKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &MinioStore{
		core:       core,
		bucketName: cfg.MinIO.BucketName,
	}

	if err := store.ensureBucket(); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return store, nil
}

func (s *MinioStore) ensureBucket() error {
	ctx := context.Background()

	exists, err := s.core.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		err = s.core.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ObjectKey creates a unique object key for an upload under the owner's
// folder.
func ObjectKey(ownerID, contentType string) string {
	extensions, err := mime.ExtensionsByType(contentType)
	var ext string
	if err == nil && len(extensions) > 0 {
		ext = extensions[0]
	} else {
		switch contentType {
		case "audio/mpeg":
			ext = ".mp3"
		case "audio/wav":
			ext = ".wav"
		case "video/mp4":
			ext = ".mp4"
		case "video/webm":
			ext = ".webm"
		default:
			ext = ""
		}
	}

	return fmt.Sprintf("users/%s/media/%s%s", ownerID, uuid.New().String(), ext)
}

func (s *MinioStore) InitiateMultipart(ctx context.Context, objectKey, contentType string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucketName, objectKey, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to initiate multipart upload: %w", err)
	}
	return uploadID, nil
}

// PresignPartURL returns a time-limited PUT URL for one part so the client
// uploads bytes directly to the store.
func (s *MinioStore) PresignPartURL(ctx context.Context, objectKey, uploadID string, partNumber int, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(partNumber))

	presignedURL, err := s.core.Presign(ctx, "PUT", s.bucketName, objectKey, expiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign part %d: %w", partNumber, err)
	}
	return presignedURL.String(), nil
}

func (s *MinioStore) CompleteMultipart(ctx context.Context, objectKey, uploadID string, parts []Part) error {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

	completeParts := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completeParts[i] = minio.CompletePart{PartNumber: p.Number, ETag: p.ETag}
	}

	_, err := s.core.CompleteMultipartUpload(ctx, s.bucketName, objectKey, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

func (s *MinioStore) AbortMultipart(ctx context.Context, objectKey, uploadID string) error {
	return s.core.AbortMultipartUpload(ctx, s.bucketName, objectKey, uploadID)
}
