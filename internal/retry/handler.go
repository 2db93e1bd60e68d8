// Package retry turns a click on the retry link of a failed placeholder into a new upload attempt.
package retry

import (
	"context"
	"errors"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/s3paste/internal/placeholder"
)

// RearmFunc starts another attempt for the given upload id
type RearmFunc func(ctx context.Context, id string) error

type Handler struct {
	Rearm RearmFunc
}

func NewHandler(rearm RearmFunc) *Handler {
	return &Handler{Rearm: rearm}
}

// HandleClick re-arms the upload whose retry link is under pos.
// Clicks anywhere else, including on other "(#)" links or on uploading placeholders, are ignored.
func (h *Handler) HandleClick(ctx context.Context, doc placeholder.Document, pos placeholder.Position) (string, bool, error) {
	if pos.Line < 0 || pos.Line >= doc.LineCount() {
		return "", false, nil
	}

	match, ok := FailedAt(doc.Line(pos.Line), pos.Ch)
	if !ok {
		return "", false, nil
	}

	slog.Info("retry requested", "id", match.ID, "line", pos.Line)
	if h.Rearm == nil {
		return match.ID, false, nil
	}
	if err := h.Rearm(ctx, match.ID); err != nil {
		return match.ID, true, err
	}
	return match.ID, true, nil
}

// HandleCursor is HandleClick at the document cursor, for hosts that move the cursor on click
func (h *Handler) HandleCursor(ctx context.Context, doc placeholder.Document) (string, bool, error) {
	return h.HandleClick(ctx, doc, doc.Cursor())
}

// HandleAll re-arms every failed upload in doc and returns the ids it tried
func (h *Handler) HandleAll(ctx context.Context, doc placeholder.Document) ([]string, error) {
	ids := FailedIDs(doc)
	if h.Rearm == nil {
		return ids, nil
	}

	var errs []error
	for _, id := range ids {
		if err := h.Rearm(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return ids, errors.Join(errs...)
}

// FailedIDs lists the ids of failed placeholders in document order, each once
func FailedIDs(doc placeholder.Document) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var ids []string
	for i := 0; i < doc.LineCount(); i++ {
		for _, p := range placeholder.DecodeAll(doc.Line(i)) {
			if p.Status == placeholder.StatusFailed && seen.Add(p.ID) {
				ids = append(ids, p.ID)
			}
		}
	}
	return ids
}

// FailedAt returns the failed placeholder whose retry link covers byte offset ch of line.
func FailedAt(line string, ch int) (placeholder.Placeholder, bool) {
	for _, p := range placeholder.DecodeAll(line) {
		if p.Status != placeholder.StatusFailed || !p.HasRetryLink() {
			continue
		}
		if ch >= p.RetryStart && ch < p.RetryEnd {
			return p, true
		}
	}
	return placeholder.Placeholder{}, false
}
