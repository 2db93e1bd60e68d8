package blob

import (
	"context"
	"time"
)

// Presigner issues short lived, pre-authorized upload URLs
type Presigner interface {
	// PresignPutObject returns a URL for a single PUT of key with the given content type
	PresignPutObject(ctx context.Context, key, contentType string, expires time.Duration) (string, error)

	// PresignUploadPart returns a URL for uploading one part of a multipart session
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error)
}

// MultipartAPI holds the session verbs of the multipart protocol
type MultipartAPI interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// Backend is everything the transports need from the object store
type Backend interface {
	Presigner
	MultipartAPI
}

type CompletedPart struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}
