package blob

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/s3paste/internal/version"
)

const (
	uploadExpiry         = 5 * time.Minute
	partExpiry           = 2 * uploadExpiry
	defaultSocketTimeout = 2 * time.Minute
	maxErrorBodyLen      = 512
)

type TransportOption func(*Transport)

// WithHTTPClient replaces the client used for presigned PUTs
func WithHTTPClient(client *req.Client) TransportOption {
	return func(t *Transport) {
		t.client = client
	}
}

// WithSocketTimeout bounds every request at the client level, independent of per-call timers
func WithSocketTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.client.SetTimeout(d)
		}
	}
}

// Transport uploads whole objects through presigned PUT URLs.
// It does not retry; callers own the retry policy.
type Transport struct {
	presigner Presigner
	client    *req.Client
	publicURL URLPolicy
}

func NewTransport(presigner Presigner, publicURL URLPolicy, opts ...TransportOption) *Transport {
	t := &Transport{
		presigner: presigner,
		publicURL: publicURL,
		client: req.C().
			SetUserAgent(version.UserAgent()).
			SetTimeout(defaultSocketTimeout),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PutObject presigns a PUT for key and uploads payload to it.
// It returns the public URL of the stored object.
func (t *Transport) PutObject(ctx context.Context, key, contentType string, payload []byte, presignTimeout, uploadTimeout time.Duration) (string, error) {
	url, err := t.presign(ctx, key, presignTimeout, func(ctx context.Context) (string, error) {
		return t.presigner.PresignPutObject(ctx, key, contentType, uploadExpiry)
	})
	if err != nil {
		return "", err
	}

	if _, err := t.put(ctx, key, url, contentType, payload, uploadTimeout); err != nil {
		return "", err
	}

	return t.publicURL(key), nil
}

// PublicURL exposes the URL policy the transport was built with
func (t *Transport) PublicURL(key string) string {
	return t.publicURL(key)
}

func (t *Transport) presign(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	url, timedOut, err := raceTimeout(ctx, timeout, fn)
	if timedOut {
		return "", NewPresignTimeoutError(key, timeout)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", NewPresignTimeoutError(key, timeout)
		}
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url, nil
}

// put sends body to a presigned URL and returns the entity tag of the stored bytes
func (t *Transport) put(ctx context.Context, key, url, contentType string, body []byte, timeout time.Duration) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, timedOut, err := raceTimeout(ctx, timeout, func(ctx context.Context) (*req.Response, error) {
		return t.client.R().
			SetContext(ctx).
			SetContentType(contentType).
			SetBodyBytes(body).
			Put(url)
	})
	if timedOut {
		return "", NewUploadTimeoutError(key, timeout)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if isTimeout(err) {
			return "", NewUploadTimeoutError(key, timeout)
		}
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	if !resp.IsSuccessState() {
		return "", NewUploadFailedError(key, resp.StatusCode, truncate(resp.String(), maxErrorBodyLen))
	}

	return strings.Trim(resp.Header.Get("ETag"), "\""), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
