package main

import (
	"errors"
	"fmt"

	"github.com/openmined/s3paste/internal/document"
	"github.com/openmined/s3paste/internal/placeholder"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newRetryCmd())
}

func newRetryCmd() *cobra.Command {
	var docPath, id string
	var line, ch int
	var all bool

	cmd := &cobra.Command{
		Use:   "retry --doc <note.md> (--id <upload id> | --line N --ch M | --all)",
		Short: "Retry failed uploads, by id, by the position of a retry link, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" && !all && !cmd.Flag("line").Changed {
				return errors.New("one of --id, --line or --all is required")
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

			handler := s.pipeline.RetryHandler(doc, doc.Path())
			switch {
			case id != "":
				return s.pipeline.Retry(cmd.Context(), doc, doc.Path(), id)
			case all:
				ids, err := handler.HandleAll(cmd.Context(), doc)
				if len(ids) == 0 && err == nil {
					fmt.Println(gray("no failed uploads in"), doc.Path())
				}
				return err
			}

			// lines and columns are 1-based on the command line
			pos := placeholder.Position{Line: line - 1, Ch: ch - 1}
			clicked, triggered, err := handler.HandleClick(cmd.Context(), doc, pos)
			if err != nil {
				return err
			}
			if !triggered {
				return fmt.Errorf("no retry link at %d:%d", line, ch)
			}
			fmt.Println(gray("retried"), clicked)
			return nil
		},
	}
	cmd.Flags().StringVarP(&docPath, "doc", "d", "", "Markdown note holding the failed placeholder")
	cmd.Flags().StringVar(&id, "id", "", "Upload id to retry")
	cmd.Flags().BoolVar(&all, "all", false, "Retry every failed upload in the note")
	cmd.Flags().IntVar(&line, "line", 0, "Line of the retry link (1-based)")
	cmd.Flags().IntVar(&ch, "ch", 1, "Byte column of the retry link (1-based)")
	cmd.MarkFlagRequired("doc")
	return cmd
}
