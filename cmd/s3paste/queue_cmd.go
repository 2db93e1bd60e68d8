package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/s3paste/internal/queue"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newQueueCmd())
}

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the upload queue",
	}
	queueCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending uploads, head first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mustConfig(false)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			store, closeStore, err := cfg.OpenQueueStore()
			if err != nil {
				return err
			}
			defer closeStore()

			items, err := queue.New(store).List(cmd.Context())
			if err != nil {
				return err
			}
			return printQueue(cmd.OutOrStdout(), items, time.Now())
		},
	})
	queueCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>...",
		Short: "Drop pending uploads, e.g. a head whose placeholder was deleted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mustConfig(false)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			store, closeStore, err := cfg.OpenQueueStore()
			if err != nil {
				return err
			}
			defer closeStore()

			return removeQueued(cmd.Context(), cmd.OutOrStdout(), queue.New(store), args)
		},
	})
	return queueCmd
}

func removeQueued(ctx context.Context, w io.Writer, q *queue.Queue, ids []string) error {
	var errs []error
	for _, id := range ids {
		removed, err := q.Remove(ctx, id)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		case !removed:
			errs = append(errs, fmt.Errorf("%s: not queued", id))
		default:
			fmt.Fprintf(w, "removed %s\n", id)
		}
	}
	return errors.Join(errs...)
}

func printQueue(w io.Writer, items []queue.Item, now time.Time) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "queue is empty")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSIZE\tAGE\tDOCUMENT")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			item.ID,
			item.Filename,
			humanize.IBytes(uint64(item.Size)),
			humanize.RelTime(item.CreatedAt, now, "ago", "from now"),
			item.DocPath,
		)
	}
	return tw.Flush()
}
