package blob

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// KeyFunc names the object an upload is stored under.
// Implementations must include uploadID so every upload owns its key.
type KeyFunc func(originalName, ext, prefix, uploadID, dateFormat string) string

// URLPolicy maps a stored key to the URL written into the document
type URLPolicy func(key string) string

// ObjectKey is the default KeyFunc: prefix/<date>/<name>-<id>.<ext>
func ObjectKey(originalName, ext, prefix, uploadID, dateFormat string) string {
	return objectKeyAt(time.Now(), originalName, ext, prefix, uploadID, dateFormat)
}

func objectKeyAt(now time.Time, originalName, ext, prefix, uploadID, dateFormat string) string {
	base := sanitizeName(strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName)))
	if base == "" || base == "." {
		base = "image"
	}
	name := base + "-" + uploadID
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}

	segments := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		segments = append(segments, p)
	}
	if d := strings.Trim(formatDate(now, dateFormat), "/"); d != "" {
		segments = append(segments, d)
	}
	segments = append(segments, name)
	return path.Join(segments...)
}

// formatDate expands YYYY, MM and DD tokens
func formatDate(t time.Time, layout string) string {
	return strings.NewReplacer(
		"YYYY", t.Format("2006"),
		"MM", t.Format("01"),
		"DD", t.Format("02"),
	).Replace(layout)
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// PublicURLPolicy builds the URL policy of a profile.
// With a base URL the key is appended to it, otherwise a path style bucket URL is used.
func PublicURLPolicy(cfg *S3Config) URLPolicy {
	return func(key string) string {
		escaped := escapeKey(key)
		if cfg.BaseURL != "" {
			return strings.TrimRight(cfg.BaseURL, "/") + "/" + escaped
		}
		return cfg.EndpointURL() + "/" + url.PathEscape(cfg.BucketName) + "/" + escaped
	}
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
