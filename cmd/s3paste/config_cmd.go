package main

import (
	"fmt"
	"io"

	"github.com/openmined/s3paste/internal/config"
	"github.com/openmined/s3paste/internal/db"
	"github.com/openmined/s3paste/internal/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged config file, environment and flags. Secrets are masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mustConfig(false)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	})
	return configCmd
}

func printConfig(w io.Writer, cfg *config.Config) error {
	path := cfg.Path
	if path == "" {
		path = "(none, defaults and environment only)"
	}
	if _, err := fmt.Fprintf(w, "# %s\n", path); err != nil {
		return err
	}

	view := map[string]any{
		"s3": map[string]any{
			"endpoint":          cfg.S3.Endpoint,
			"access_key_id":     utils.MaskSecret(cfg.S3.AccessKeyID),
			"secret_access_key": utils.MaskSecret(cfg.S3.SecretAccessKey),
			"bucket_name":       cfg.S3.BucketName,
			"region":            cfg.S3.Region,
			"use_ssl":           cfg.S3.UseSSL,
			"base_url":          cfg.S3.BaseURL,
			"key_prefix":        cfg.S3.KeyPrefix,
		},
		"upload": map[string]any{
			"multipart_threshold":  cfg.Upload.MultipartThreshold,
			"chunk_size":           cfg.Upload.ChunkSize,
			"max_concurrent_parts": cfg.Upload.MaxConcurrentParts,
			"max_part_retries":     cfg.Upload.MaxPartRetries,
			"backoff_base":         cfg.Upload.BackoffBase.String(),
			"backoff_max":          cfg.Upload.BackoffMax.String(),
			"presign_timeout":      cfg.Upload.PresignTimeout.String(),
			"upload_timeout":       cfg.Upload.UploadTimeout.String(),
			"date_format":          cfg.Upload.DateFormat,
			"temp_dir":             cfg.Upload.TempDir,
			"cache_capacity":       cfg.Upload.CacheCapacity,
			"retry_mode":           cfg.Upload.RetryMode,
		},
		"queue": map[string]any{
			"backend":  cfg.Queue.Backend,
			"path":     cfg.Queue.Path,
			"interval": cfg.Queue.Interval.String(),
		},
		"sqlite_driver": db.Driver(),
		"labels": map[string]any{
			"uploading": cfg.Labels.Uploading,
			"failed":    cfg.Labels.Failed,
			"retry":     cfg.Labels.Retry,
		},
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}
