package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConcurrentParts = 3
	DefaultMaxPartRetries     = 3
	abortTimeout              = 30 * time.Second
)

var errMissingETag = errors.New("storage returned no etag for part")

// ProgressFunc receives floor(uploaded / total * 100)
type ProgressFunc func(percent int, uploaded, total int64)

type MultipartOptions struct {
	ChunkSize          int64
	MaxConcurrentParts int
	MaxRetries         int
	Backoff            Backoff
	PresignTimeout     time.Duration
	PartTimeout        time.Duration
	Progress           ProgressFunc
}

func (o MultipartOptions) withDefaults() MultipartOptions {
	if o.MaxConcurrentParts <= 0 {
		o.MaxConcurrentParts = DefaultMaxConcurrentParts
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff.Base <= 0 {
		o.Backoff = Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second}
	}
	return o
}

// Multipart uploads large payloads as independently retried parts
type Multipart struct {
	api       MultipartAPI
	transport *Transport
	opts      MultipartOptions
}

func NewMultipart(api MultipartAPI, transport *Transport, opts MultipartOptions) *Multipart {
	return &Multipart{
		api:       api,
		transport: transport,
		opts:      opts.withDefaults(),
	}
}

type multipartSession struct {
	key      string
	uploadID string
	size     int64
	parts    []*UploadPart

	mu       sync.Mutex
	uploaded int64
}

func (s *multipartSession) setStatus(part *UploadPart, status PartStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	part.Status = status
}

func (s *multipartSession) complete(part *UploadPart, etag string) (int64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	part.ETag = etag
	part.Status = PartCompleted
	s.uploaded += part.Size
	return s.uploaded, int(s.uploaded * 100 / s.size)
}

func (s *multipartSession) allCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parts {
		if p.Status != PartCompleted {
			return false
		}
	}
	return true
}

// Upload stores src under key and returns its public URL.
// Any unrecoverable failure aborts the remote session before returning.
func (m *Multipart) Upload(ctx context.Context, key, contentType string, src ChunkSource) (string, error) {
	size := src.Size()
	if size <= 0 {
		return "", fmt.Errorf("multipart upload of empty payload %s", key)
	}
	chunkSize := selectChunkSize(size, m.opts.ChunkSize)

	uploadID, err := m.transport.presign(ctx, key, m.opts.PresignTimeout, func(ctx context.Context) (string, error) {
		return m.api.CreateMultipartUpload(ctx, key, contentType)
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload: %w", err)
	}

	session := &multipartSession{
		key:      key,
		uploadID: uploadID,
		size:     size,
		parts:    PlanParts(size, chunkSize),
	}

	slog.Debug("multipart upload start", "key", key, "uploadId", uploadID, "size", humanize.IBytes(uint64(size)),
		"parts", len(session.parts), "chunkSize", humanize.IBytes(uint64(chunkSize)))

	if err := m.uploadParts(ctx, session, src); err != nil {
		m.abort(ctx, session)
		return "", err
	}

	if err := m.api.CompleteMultipartUpload(ctx, key, uploadID, completedParts(session.parts)); err != nil {
		m.abort(ctx, session)
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}

	slog.Debug("multipart upload complete", "key", key, "uploadId", uploadID)
	return m.transport.PublicURL(key), nil
}

// uploadParts admits pending parts whenever a slot frees up
func (m *Multipart) uploadParts(ctx context.Context, session *multipartSession, src ChunkSource) error {
	sem := semaphore.NewWeighted(int64(m.opts.MaxConcurrentParts))
	g, gctx := errgroup.WithContext(ctx)

	for _, part := range session.parts {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		if gctx.Err() != nil {
			sem.Release(1)
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return m.uploadPartWithRetry(gctx, session, part, src)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !session.allCompleted() {
		return fmt.Errorf("multipart upload %s: not all parts completed", session.key)
	}
	return nil
}

func (m *Multipart) uploadPartWithRetry(ctx context.Context, session *multipartSession, part *UploadPart, src ChunkSource) error {
	for {
		session.setStatus(part, PartUploading)

		etag, err := m.uploadPart(ctx, session, part, src)
		if err == nil {
			uploaded, percent := session.complete(part, etag)
			if m.opts.Progress != nil {
				m.opts.Progress(percent, uploaded, session.size)
			}
			return nil
		}

		session.setStatus(part, PartFailed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !isPartRetryable(err) || part.RetryCount >= m.opts.MaxRetries {
			return NewPartUploadError(session.key, part.PartNumber, part.RetryCount+1, err)
		}

		delay := m.opts.Backoff.Delay(part.RetryCount)
		part.RetryCount++
		slog.Warn("multipart part retry", "key", session.key, "part", part.PartNumber, "retry", part.RetryCount, "delay", delay, "error", err)

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

func (m *Multipart) uploadPart(ctx context.Context, session *multipartSession, part *UploadPart, src ChunkSource) (string, error) {
	url, err := m.transport.presign(ctx, session.key, m.opts.PresignTimeout, func(ctx context.Context) (string, error) {
		return m.transport.presigner.PresignUploadPart(ctx, session.key, session.uploadID, part.PartNumber, partExpiry)
	})
	if err != nil {
		return "", err
	}

	data, err := src.ReadChunk(ctx, part.Start, part.End)
	if err != nil {
		return "", &sourceError{err: err}
	}

	etag, err := m.transport.put(ctx, session.key, url, "application/octet-stream", data, m.opts.PartTimeout)
	if err != nil {
		return "", err
	}
	if etag == "" {
		return "", errMissingETag
	}
	return etag, nil
}

// abort is best effort: failures are logged, never returned
func (m *Multipart) abort(ctx context.Context, session *multipartSession) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := m.api.AbortMultipartUpload(abortCtx, session.key, session.uploadID); err != nil {
		slog.Warn("multipart abort", "key", session.key, "uploadId", session.uploadID, "error", err)
		return
	}
	slog.Debug("multipart aborted", "key", session.key, "uploadId", session.uploadID)
}

type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return "read chunk: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

func isPartRetryable(err error) bool {
	var srcErr *sourceError
	if errors.As(err, &srcErr) || errors.Is(err, errMissingETag) {
		return false
	}
	return IsRetryable(err)
}
