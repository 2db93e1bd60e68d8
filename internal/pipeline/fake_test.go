package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/s3paste/internal/blob"
	"github.com/openmined/s3paste/internal/document"
	"github.com/stretchr/testify/require"
)

const cdnBase = "https://cdn.example.com/"

// objectStore answers presigned PUTs and keeps what it received
type objectStore struct {
	srv *httptest.Server

	mu          sync.Mutex
	objects     map[string][]byte
	contentType map[string]string
	puts        atomic.Int32

	slow atomic.Bool
}

func newObjectStore(t *testing.T) *objectStore {
	t.Helper()
	s := &objectStore{
		objects:     make(map[string][]byte),
		contentType: make(map[string]string),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *objectStore) handle(w http.ResponseWriter, r *http.Request) {
	s.puts.Add(1)
	if s.slow.Load() {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	s.mu.Lock()
	s.objects[key] = body
	s.contentType[key] = r.Header.Get("Content-Type")
	s.mu.Unlock()

	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func (s *objectStore) object(key string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, s.contentType[key], ok
}

func (s *objectStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

func (s *objectStore) PresignPutObject(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return s.srv.URL + "/" + key, nil
}

func (s *objectStore) PresignUploadPart(_ context.Context, key, _ string, _ int32, _ time.Duration) (string, error) {
	return s.srv.URL + "/" + key, nil
}

func (s *objectStore) CreateMultipartUpload(context.Context, string, string) (string, error) {
	return "", errors.New("multipart not supported")
}

func (s *objectStore) CompleteMultipartUpload(context.Context, string, string, []blob.CompletedPart) error {
	return errors.New("multipart not supported")
}

func (s *objectStore) AbortMultipartUpload(context.Context, string, string) error {
	return nil
}

func (s *objectStore) client(uploadTimeout time.Duration) *blob.Client {
	return blob.NewClient(s, func(key string) string { return cdnBase + key }, blob.ClientConfig{
		PresignTimeout: time.Second,
		UploadTimeout:  uploadTimeout,
	})
}

type uploaderFunc func(ctx context.Context, key, contentType string, src blob.ChunkSource) (string, error)

func (f uploaderFunc) UploadSource(ctx context.Context, key, contentType string, src blob.ChunkSource) (string, error) {
	return f(ctx, key, contentType, src)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func pngBytes(n int) []byte {
	data := make([]byte, n)
	copy(data, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	for i := 8; i < n; i++ {
		data[i] = byte(i % 251)
	}
	return data
}

func openDoc(t *testing.T, path string) *document.File {
	t.Helper()
	doc, err := document.Open(path)
	require.NoError(t, err)
	return doc
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func appendToFile(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(text)
	require.NoError(t, err)
}
