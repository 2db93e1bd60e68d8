package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openmined/s3paste/internal/document"
	"github.com/openmined/s3paste/internal/pipeline"
	"github.com/openmined/s3paste/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newEnqueueCmd())
}

func newUploadCmd() *cobra.Command {
	var docPath string
	var queued bool

	cmd := &cobra.Command{
		Use:   "upload <file|glob>... --doc <note.md>",
		Short: "Upload files and link them at the end of a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := pipeline.Direct
			if queued {
				mode = pipeline.Queued
			}
			return runCapture(cmd, args, docPath, mode)
		},
	}
	cmd.Flags().StringVarP(&docPath, "doc", "d", "", "Markdown note the link is written to")
	cmd.Flags().BoolVarP(&queued, "queue", "q", false, "Queue the upload for the daemon instead of uploading now")
	cmd.MarkFlagRequired("doc")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	var docPath string

	cmd := &cobra.Command{
		Use:   "enqueue <file|glob>... --doc <note.md>",
		Short: "Insert placeholders into a note and queue the uploads for the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd, args, docPath, pipeline.Queued)
		},
	}
	cmd.Flags().StringVarP(&docPath, "doc", "d", "", "Markdown note the placeholder is written to")
	cmd.MarkFlagRequired("doc")
	return cmd
}

func runCapture(cmd *cobra.Command, patterns []string, docPath string, mode pipeline.Mode) error {
	files, err := expandFiles(patterns)
	if err != nil {
		return err
	}

	cfg, err := mustConfig(true)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	doc, err := document.Open(docPath)
	if err != nil {
		return err
	}

	s, err := newSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.close()

	// each link goes on its own line at the end of the note
	doc.SelectEnd()

	var errs []error
	for _, filePath := range files {
		data, err := os.ReadFile(filePath)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		_, err = s.pipeline.Capture(cmd.Context(), doc, pipeline.Asset{
			Data:     data,
			Filename: filepath.Base(filePath),
			MimeType: utils.SniffContentType(filePath, data),
			DocPath:  doc.Path(),
		}, mode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(filePath), err))
		}
	}
	return errors.Join(errs...)
}

// expandFiles resolves every argument, expanding "**" style globs
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			path, err := utils.ResolvePath(pattern)
			if err != nil {
				return nil, err
			}
			files = append(files, path)
			continue
		}

		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("glob %q matched no files", pattern)
		}
		for _, match := range matches {
			path, err := utils.ResolvePath(match)
			if err != nil {
				return nil, err
			}
			files = append(files, path)
		}
	}
	return files, nil
}
