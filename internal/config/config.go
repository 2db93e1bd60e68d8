package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/s3paste/internal/blob"
	"github.com/openmined/s3paste/internal/pipeline"
	"github.com/openmined/s3paste/internal/placeholder"
	"github.com/openmined/s3paste/internal/queue"
	"github.com/openmined/s3paste/internal/scheduler"
	"github.com/openmined/s3paste/internal/utils"
	"github.com/spf13/viper"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".s3paste")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "s3paste.log")
	DefaultQueuePath   = filepath.Join(DefaultConfigDir, "queue.json")
)

const (
	QueueBackendFile   = "file"
	QueueBackendSQLite = "sqlite"
	QueueBackendMemory = "memory"

	RetryModeDirect = "direct"
	RetryModeQueued = "queued"
)

type Config struct {
	S3     blob.S3Config `mapstructure:"s3"`
	Upload UploadConfig  `mapstructure:"upload"`
	Queue  QueueConfig   `mapstructure:"queue"`
	Labels LabelConfig   `mapstructure:"labels"`
	Path   string        `mapstructure:"-"`
}

type UploadConfig struct {
	MultipartThreshold int64         `mapstructure:"multipart_threshold"`
	ChunkSize          int64         `mapstructure:"chunk_size"`
	MaxConcurrentParts int           `mapstructure:"max_concurrent_parts"`
	MaxPartRetries     int           `mapstructure:"max_part_retries"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	PresignTimeout     time.Duration `mapstructure:"presign_timeout"`
	UploadTimeout      time.Duration `mapstructure:"upload_timeout"`
	DateFormat         string        `mapstructure:"date_format"`
	TempDir            string        `mapstructure:"temp_dir"`
	CacheCapacity      int           `mapstructure:"cache_capacity"`
	RetryMode          string        `mapstructure:"retry_mode"`
}

type QueueConfig struct {
	Backend  string        `mapstructure:"backend"`
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

type LabelConfig struct {
	Uploading string `mapstructure:"uploading"`
	Failed    string `mapstructure:"failed"`
	Retry     string `mapstructure:"retry"`
}

// Defaults returns a config with every tunable set and no storage profile
func Defaults() *Config {
	return &Config{
		S3: blob.S3Config{
			UseSSL: true,
		},
		Upload: UploadConfig{
			MultipartThreshold: blob.DefaultMultipartThreshold,
			ChunkSize:          blob.MinPartSize,
			MaxConcurrentParts: blob.DefaultMaxConcurrentParts,
			MaxPartRetries:     blob.DefaultMaxPartRetries,
			BackoffBase:        500 * time.Millisecond,
			BackoffMax:         10 * time.Second,
			PresignTimeout:     10 * time.Second,
			UploadTimeout:      60 * time.Second,
			DateFormat:         "YYYY/MM",
			TempDir:            filepath.Join(os.TempDir(), "s3paste"),
			RetryMode:          RetryModeDirect,
		},
		Queue: QueueConfig{
			Backend:  QueueBackendFile,
			Path:     DefaultQueuePath,
			Interval: scheduler.DefaultInterval,
		},
		Labels: LabelConfig{
			Uploading: placeholder.DefaultUploadingLabel,
			Failed:    placeholder.DefaultFailedLabel,
			Retry:     placeholder.DefaultRetryLabel,
		},
	}
}

// SetDefaults registers every key with v, so environment variables are picked up
// for keys that are absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	defaults := map[string]any{
		"s3.endpoint":                 d.S3.Endpoint,
		"s3.access_key_id":            d.S3.AccessKeyID,
		"s3.secret_access_key":        d.S3.SecretAccessKey,
		"s3.bucket_name":              d.S3.BucketName,
		"s3.region":                   d.S3.Region,
		"s3.use_ssl":                  d.S3.UseSSL,
		"s3.base_url":                 d.S3.BaseURL,
		"s3.key_prefix":               d.S3.KeyPrefix,
		"upload.multipart_threshold":  d.Upload.MultipartThreshold,
		"upload.chunk_size":           d.Upload.ChunkSize,
		"upload.max_concurrent_parts": d.Upload.MaxConcurrentParts,
		"upload.max_part_retries":     d.Upload.MaxPartRetries,
		"upload.backoff_base":         d.Upload.BackoffBase,
		"upload.backoff_max":          d.Upload.BackoffMax,
		"upload.presign_timeout":      d.Upload.PresignTimeout,
		"upload.upload_timeout":       d.Upload.UploadTimeout,
		"upload.date_format":          d.Upload.DateFormat,
		"upload.temp_dir":             d.Upload.TempDir,
		"upload.cache_capacity":       d.Upload.CacheCapacity,
		"upload.retry_mode":           d.Upload.RetryMode,
		"queue.backend":               d.Queue.Backend,
		"queue.path":                  d.Queue.Path,
		"queue.interval":              d.Queue.Interval,
		"labels.uploading":            d.Labels.Uploading,
		"labels.failed":               d.Labels.Failed,
		"labels.retry":                d.Labels.Retry,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

// Load decodes the values held by v into a Config
func Load(v *viper.Viper) (*Config, error) {
	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	return cfg, nil
}

// Validate checks the config and resolves paths. The storage profile is only checked
// when requireStorage is set, so queue inspection works without credentials.
func (c *Config) Validate(requireStorage bool) error {
	if requireStorage {
		if err := c.S3.Validate(); err != nil {
			return err
		}
	}

	switch c.Queue.Backend {
	case QueueBackendFile, QueueBackendSQLite, QueueBackendMemory:
	default:
		return fmt.Errorf("queue backend %q: must be one of file, sqlite, memory", c.Queue.Backend)
	}

	switch c.Upload.RetryMode {
	case RetryModeDirect, RetryModeQueued:
	default:
		return fmt.Errorf("retry mode %q: must be direct or queued", c.Upload.RetryMode)
	}

	if c.Upload.ChunkSize < blob.MinPartSize {
		return fmt.Errorf("chunk size %d: must be at least %d", c.Upload.ChunkSize, blob.MinPartSize)
	}
	if c.Upload.MultipartThreshold <= 0 {
		return fmt.Errorf("multipart threshold must be positive")
	}
	if c.Upload.PresignTimeout <= 0 || c.Upload.UploadTimeout <= 0 {
		return fmt.Errorf("presign and upload timeouts must be positive")
	}
	if c.Upload.MaxPartRetries < 0 {
		return fmt.Errorf("max part retries must not be negative")
	}

	if c.Queue.Backend != QueueBackendMemory {
		path, err := utils.ResolvePath(c.Queue.Path)
		if err != nil {
			return fmt.Errorf("queue path: %w", err)
		}
		c.Queue.Path = path
	}

	tempDir, err := utils.ResolvePath(c.Upload.TempDir)
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	c.Upload.TempDir = tempDir

	return nil
}

func (c *Config) ClientConfig() blob.ClientConfig {
	return blob.ClientConfig{
		MultipartThreshold: c.Upload.MultipartThreshold,
		PresignTimeout:     c.Upload.PresignTimeout,
		UploadTimeout:      c.Upload.UploadTimeout,
		Multipart: blob.MultipartOptions{
			ChunkSize:          c.Upload.ChunkSize,
			MaxConcurrentParts: c.Upload.MaxConcurrentParts,
			MaxRetries:         c.Upload.MaxPartRetries,
			Backoff:            blob.Backoff{Base: c.Upload.BackoffBase, Max: c.Upload.BackoffMax},
		},
	}
}

func (c *Config) PipelineConfig() pipeline.Config {
	retryMode := pipeline.RetryDirect
	if c.Upload.RetryMode == RetryModeQueued {
		retryMode = pipeline.RetryQueued
	}
	return pipeline.Config{
		KeyPrefix:         c.S3.KeyPrefix,
		DateFormat:        c.Upload.DateFormat,
		TempDir:           c.Upload.TempDir,
		RetryMode:         retryMode,
		SchedulerInterval: c.Queue.Interval,
		Labels: placeholder.Encoder{
			UploadingLabel: c.Labels.Uploading,
			FailedLabel:    c.Labels.Failed,
			RetryLabel:     c.Labels.Retry,
		},
	}
}

func noClose() error { return nil }

// OpenQueueStore opens the configured queue backend. Close releases it.
func (c *Config) OpenQueueStore() (queue.Store, func() error, error) {
	switch c.Queue.Backend {
	case QueueBackendSQLite:
		store, err := queue.OpenSQLiteStore(c.Queue.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case QueueBackendMemory:
		return queue.NewMemoryStore(), noClose, nil
	default:
		store, err := queue.NewFileStore(c.Queue.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, noClose, nil
	}
}
