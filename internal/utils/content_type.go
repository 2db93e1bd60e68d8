package utils

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var imageExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
	"image/bmp":     "bmp",
	"image/avif":    "avif",
}

// DetectContentType guesses the mime type of an asset from its file name
func DetectContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for mimeType, e := range imageExtensions {
		if "."+e == ext {
			return mimeType
		}
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

// ExtensionFor returns the file extension (without dot) for an asset.
// The name's own extension wins, then the mime type, then "bin".
func ExtensionFor(name, mimeType string) string {
	if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	base, _, _ := strings.Cut(mimeType, ";")
	if ext, ok := imageExtensions[strings.TrimSpace(base)]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

// SniffContentType prefers the file name and falls back to the leading bytes of data
func SniffContentType(name string, data []byte) string {
	if mimeType := DetectContentType(name); mimeType != "application/octet-stream" {
		return mimeType
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	mimeType, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return mimeType
}
