package queue

import "time"

// Item is one pending upload. The payload itself lives in the cache or at PreviewRef.
type Item struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	PreviewRef string    `json:"previewRef"`
	CreatedAt  time.Time `json:"createdAt"`
	Size       int64     `json:"size,omitempty"`
	DocPath    string    `json:"docPath,omitempty"`
}
