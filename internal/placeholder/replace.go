package placeholder

import (
	"errors"
	"strings"
)

// ErrPlaceholderNotFound is returned when a transition cannot find its anchor.
// The document is never modified in that case.
var ErrPlaceholderNotFound = errors.New("placeholder: not found")

// Replacer receives a matched placeholder and returns its replacement.
// Returning ok=false skips this occurrence and scanning continues.
type Replacer func(match Placeholder) (replacement string, ok bool)

// Skip is a Replacer result helper for leaving a match untouched
func Skip() (string, bool) {
	return "", false
}

// FindAndReplace replaces the first placeholder for id accepted by replacer.
// Lines are scanned top to bottom; only the matched span is rewritten.
func FindAndReplace(doc Document, id string, replacer Replacer) bool {
	needle := "id=" + id
	for i := 0; i < doc.LineCount(); i++ {
		line := doc.Line(i)
		if !strings.Contains(line, needle) {
			continue
		}
		if !strings.Contains(line, "status="+string(StatusUploading)) && !strings.Contains(line, "status="+string(StatusFailed)) {
			continue
		}
		for _, match := range DecodeAll(line) {
			if match.ID != id {
				continue
			}
			replacement, ok := replacer(match)
			if !ok {
				continue
			}
			doc.SetLine(i, line[:match.Start]+replacement+line[match.End:])
			return true
		}
	}
	return false
}

// Find returns the first placeholder for id and the line it is on
func Find(doc Document, id string) (Placeholder, int, bool) {
	needle := "id=" + id
	for i := 0; i < doc.LineCount(); i++ {
		line := doc.Line(i)
		if !strings.Contains(line, needle) {
			continue
		}
		for _, match := range DecodeAll(line) {
			if match.ID == id {
				return match, i, true
			}
		}
	}
	return Placeholder{}, -1, false
}

// MarkDone swaps the placeholder for the final image reference
func MarkDone(doc Document, id, alt, url string) error {
	changed := FindAndReplace(doc, id, func(Placeholder) (string, bool) {
		return EncodeDone(alt, url), true
	})
	if !changed {
		return ErrPlaceholderNotFound
	}
	return nil
}

// MarkFailed turns the placeholder into a failed one with a retry link.
// The preview reference of an uploading placeholder is kept as the stale ref.
func MarkFailed(doc Document, id string) error {
	return defaultEncoder.MarkFailed(doc, id)
}

// MarkUploading re-arms a failed placeholder
func MarkUploading(doc Document, id, previewRef string) error {
	return defaultEncoder.MarkUploading(doc, id, previewRef)
}

func (e Encoder) MarkFailed(doc Document, id string) error {
	changed := FindAndReplace(doc, id, func(m Placeholder) (string, bool) {
		return e.EncodeFailedWithRef(id, m.Ref), true
	})
	if !changed {
		return ErrPlaceholderNotFound
	}
	return nil
}

func (e Encoder) MarkUploading(doc Document, id, previewRef string) error {
	changed := FindAndReplace(doc, id, func(m Placeholder) (string, bool) {
		if m.Status != StatusFailed {
			return Skip()
		}
		ref := previewRef
		if ref == "" {
			ref = m.Ref
		}
		return e.EncodeUploading(id, ref), true
	})
	if !changed {
		return ErrPlaceholderNotFound
	}
	return nil
}
