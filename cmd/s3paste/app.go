package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/openmined/s3paste/internal/blob"
	"github.com/openmined/s3paste/internal/cache"
	"github.com/openmined/s3paste/internal/config"
	"github.com/openmined/s3paste/internal/pipeline"
	"github.com/openmined/s3paste/internal/utils"
)

// session is one pipeline plus the resources it holds open
type session struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	close    func() error
}

func newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	store, closeStore, err := cfg.OpenQueueStore()
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	client, err := blob.NewS3Client(ctx, &cfg.S3, cfg.ClientConfig())
	if err != nil {
		closeStore()
		return nil, err
	}

	slog.Debug("storage",
		"endpoint", cfg.S3.EndpointURL(),
		"bucket", cfg.S3.BucketName,
		"access_key_id", utils.MaskSecret(cfg.S3.AccessKeyID),
		"multipart_threshold", humanize.IBytes(uint64(cfg.Upload.MultipartThreshold)),
		"queue", cfg.Queue.Backend,
	)

	p := pipeline.New(client, store,
		pipeline.WithConfig(cfg.PipelineConfig()),
		pipeline.WithCache(cache.New(cache.WithCapacity(cfg.Upload.CacheCapacity))),
		pipeline.WithEventHandler(printEvent),
	)

	return &session{cfg: cfg, pipeline: p, close: closeStore}, nil
}

func printEvent(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventUploaded:
		fmt.Println(green("✔"), ev.ID, ev.URL)
	case pipeline.EventFailed:
		fmt.Println(red("✘"), ev.ID, ev.Err)
	case pipeline.EventQueued:
		fmt.Println(cyan("+"), ev.ID, gray("queued"))
	case pipeline.EventRetry:
		fmt.Println(cyan("↻"), ev.ID, gray("retrying"))
	}
}
