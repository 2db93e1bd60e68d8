package blob

import (
	"context"
	"fmt"
	"time"
)

const DefaultMultipartThreshold = int64(10 * 1024 * 1024)

type ClientConfig struct {
	// Payloads larger than this go through the multipart transport
	MultipartThreshold int64
	PresignTimeout     time.Duration
	UploadTimeout      time.Duration
	Multipart          MultipartOptions
}

// Client picks the simple or the multipart transport by payload size
type Client struct {
	transport *Transport
	multipart *Multipart
	config    ClientConfig
}

func NewClient(backend Backend, publicURL URLPolicy, cfg ClientConfig, opts ...TransportOption) *Client {
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = DefaultMultipartThreshold
	}
	if cfg.Multipart.PresignTimeout == 0 {
		cfg.Multipart.PresignTimeout = cfg.PresignTimeout
	}
	if cfg.Multipart.PartTimeout == 0 {
		cfg.Multipart.PartTimeout = cfg.UploadTimeout
	}

	transport := NewTransport(backend, publicURL, opts...)
	return &Client{
		transport: transport,
		multipart: NewMultipart(backend, transport, cfg.Multipart),
		config:    cfg,
	}
}

// NewS3Client wires a Client to an S3 compatible store described by profile
func NewS3Client(ctx context.Context, profile *S3Config, cfg ClientConfig, opts ...TransportOption) (*Client, error) {
	backend, err := NewS3BackendWithConfig(ctx, profile)
	if err != nil {
		return nil, err
	}
	return NewClient(backend, PublicURLPolicy(profile), cfg, opts...), nil
}

// Upload stores payload under key and returns its public URL
func (c *Client) Upload(ctx context.Context, key, contentType string, payload []byte) (string, error) {
	return c.UploadSource(ctx, key, contentType, BytesSource(payload))
}

// UploadSource is Upload for payloads that are not fully in memory
func (c *Client) UploadSource(ctx context.Context, key, contentType string, src ChunkSource) (string, error) {
	if src.Size() > c.config.MultipartThreshold {
		return c.multipart.Upload(ctx, key, contentType, src)
	}

	data, err := src.ReadChunk(ctx, 0, src.Size())
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	return c.transport.PutObject(ctx, key, contentType, data, c.config.PresignTimeout, c.config.UploadTimeout)
}

// PublicURL returns the URL a stored key resolves to
func (c *Client) PublicURL(key string) string {
	return c.transport.PublicURL(key)
}
