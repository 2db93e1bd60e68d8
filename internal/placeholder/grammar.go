// Package placeholder owns the inline text that stands in for an asset while it
// is uploading or after its upload failed.
//
// Grammar (one line, no newlines anywhere):
//
//	uploading := "![" LABEL " ob-s3:id=" ID " status=uploading](" REF ")"
//	failed    := "![" LABEL " ob-s3:id=" ID " status=failed](" REF ")" [ " [" RETRY "](#)" ]
//	ID        := [A-Za-z0-9]{16}
//	LABEL     := [^\]\n]*
//	RETRY     := [^\]\n]*
//	REF       := [^)\n]*
//
// The "id=" and "status=" tokens are the parsed contract and are byte-exact.
// Labels are metadata for the reader and are never used for matching.
package placeholder

import (
	"regexp"
	"strings"
)

type Status string

const (
	StatusUploading Status = "uploading"
	StatusFailed    Status = "failed"
)

const (
	Marker = "ob-s3:id="

	DefaultUploadingLabel = "⏳ Uploading"
	DefaultFailedLabel    = "❌ Upload failed"
	DefaultRetryLabel     = "🔄 Retry"
)

var pattern = regexp.MustCompile(
	`!\[([^\]\n]*) ob-s3:id=([A-Za-z0-9]{16}) ` +
		`(?:status=(uploading)\]\(([^)\n]*)\)` +
		`|status=(failed)\]\(([^)\n]*)\)(?: \[([^\]\n]*)\]\(#\))?)`,
)

// Placeholder is one decoded occurrence. Offsets are byte offsets into the
// text that was decoded; RetryStart/RetryEnd are -1 when there is no retry link.
type Placeholder struct {
	ID         string
	Status     Status
	Label      string
	Ref        string
	RetryLabel string
	Text       string
	Start      int
	End        int
	RetryStart int
	RetryEnd   int
}

// HasRetryLink reports whether the failed placeholder still carries its retry affordance
func (p Placeholder) HasRetryLink() bool {
	return p.RetryStart >= 0
}

// Encoder renders placeholders with configurable human labels
type Encoder struct {
	UploadingLabel string
	FailedLabel    string
	RetryLabel     string
}

var defaultEncoder = Encoder{
	UploadingLabel: DefaultUploadingLabel,
	FailedLabel:    DefaultFailedLabel,
	RetryLabel:     DefaultRetryLabel,
}

func (e Encoder) EncodeUploading(id, previewRef string) string {
	return "![" + cleanLabel(e.UploadingLabel) + " " + Marker + id + " status=" + string(StatusUploading) +
		"](" + cleanRef(previewRef) + ")"
}

func (e Encoder) EncodeFailed(id string) string {
	return e.EncodeFailedWithRef(id, "")
}

// EncodeFailedWithRef keeps a stale reference (usually the preview) in the failed placeholder
func (e Encoder) EncodeFailedWithRef(id, staleRef string) string {
	return "![" + cleanLabel(e.FailedLabel) + " " + Marker + id + " status=" + string(StatusFailed) +
		"](" + cleanRef(staleRef) + ") [" + cleanLabel(e.RetryLabel) + "](#)"
}

func EncodeUploading(id, previewRef string) string {
	return defaultEncoder.EncodeUploading(id, previewRef)
}

func EncodeFailed(id string) string {
	return defaultEncoder.EncodeFailed(id)
}

func EncodeFailedWithRef(id, staleRef string) string {
	return defaultEncoder.EncodeFailedWithRef(id, staleRef)
}

// EncodeDone renders the final markdown image reference for a finished upload
func EncodeDone(alt, url string) string {
	return "![" + cleanLabel(alt) + "](" + cleanRef(url) + ")"
}

// Decode returns the first placeholder found in text
func Decode(text string) (Placeholder, bool) {
	loc := pattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return Placeholder{}, false
	}
	return fromMatch(text, loc), true
}

// DecodeAll returns every placeholder in text, in order of appearance
func DecodeAll(text string) []Placeholder {
	if !strings.Contains(text, Marker) {
		return nil
	}
	locs := pattern.FindAllStringSubmatchIndex(text, -1)
	out := make([]Placeholder, 0, len(locs))
	for _, loc := range locs {
		out = append(out, fromMatch(text, loc))
	}
	return out
}

func fromMatch(text string, loc []int) Placeholder {
	group := func(n int) string {
		if loc[2*n] < 0 {
			return ""
		}
		return text[loc[2*n]:loc[2*n+1]]
	}

	p := Placeholder{
		ID:         group(2),
		Label:      group(1),
		Text:       text[loc[0]:loc[1]],
		Start:      loc[0],
		End:        loc[1],
		RetryStart: -1,
		RetryEnd:   -1,
	}

	if loc[6] >= 0 {
		p.Status = StatusUploading
		p.Ref = decodeRef(group(4))
		return p
	}

	p.Status = StatusFailed
	p.Ref = decodeRef(group(6))
	if loc[14] >= 0 {
		p.RetryLabel = group(7)
		// span of "[RETRY](#)", the bracket sits right before the label
		p.RetryStart = loc[14] - 1
		p.RetryEnd = loc[1]
	}
	return p
}

func cleanLabel(s string) string {
	return strings.NewReplacer("]", "", "[", "", "\n", " ", "\r", "").Replace(s)
}

// cleanRef escapes parentheses so the ref cannot close the link early; decodeRef reverses it
func cleanRef(s string) string {
	return strings.NewReplacer(")", "%29", "(", "%28", "\n", "", "\r", "").Replace(s)
}

func decodeRef(s string) string {
	return strings.NewReplacer("%29", ")", "%28", "(").Replace(s)
}
