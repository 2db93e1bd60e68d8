package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/s3paste/internal/blob"
	"github.com/openmined/s3paste/internal/placeholder"
)

// Mode selects how a captured asset is delivered
type Mode int

const (
	// Direct uploads right away and marks the placeholder failed on error
	Direct Mode = iota
	// Queued appends the upload to the durable queue for the scheduler
	Queued
)

func (m Mode) String() string {
	if m == Queued {
		return "queued"
	}
	return "direct"
}

// RetryMode selects how a failed placeholder is re-armed
type RetryMode int

const (
	RetryDirect RetryMode = iota
	RetryQueued
)

func (m RetryMode) String() string {
	if m == RetryQueued {
		return "queued"
	}
	return "direct"
}

type Config struct {
	KeyPrefix  string
	DateFormat string
	// Previews are written here so queued uploads survive a restart
	TempDir           string
	RetryMode         RetryMode
	SchedulerInterval time.Duration
	Labels            placeholder.Encoder
	KeyFunc           blob.KeyFunc
}

func (c Config) withDefaults() Config {
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "s3paste")
	}
	if c.KeyFunc == nil {
		c.KeyFunc = blob.ObjectKey
	}
	if c.Labels.UploadingLabel == "" {
		c.Labels.UploadingLabel = placeholder.DefaultUploadingLabel
	}
	if c.Labels.FailedLabel == "" {
		c.Labels.FailedLabel = placeholder.DefaultFailedLabel
	}
	if c.Labels.RetryLabel == "" {
		c.Labels.RetryLabel = placeholder.DefaultRetryLabel
	}
	return c
}
