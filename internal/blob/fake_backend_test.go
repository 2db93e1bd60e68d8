package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeStore is an httptest server plus an in-memory Backend pointing at it
type fakeStore struct {
	srv *httptest.Server

	mu          sync.Mutex
	objects     map[string][]byte
	contentType map[string]string
	parts       map[int32][]byte
	attempts    map[int32]int
	completed   []CompletedPart
	aborted     int
	created     int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	// failPart returns the status to answer for an attempt, 0 means success
	failPart     func(part int32, attempt int) int
	presignDelay time.Duration
	putDelay     time.Duration
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	f := &fakeStore{
		objects:     make(map[string][]byte),
		contentType: make(map[string]string),
		parts:       make(map[int32][]byte),
		attempts:    make(map[int32]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeStore) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.putDelay > 0 {
		select {
		case <-time.After(f.putDelay):
		case <-r.Context().Done():
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if partStr := r.URL.Query().Get("partNumber"); partStr != "" {
		n, _ := strconv.Atoi(partStr)
		part := int32(n)

		f.mu.Lock()
		f.attempts[part]++
		attempt := f.attempts[part]
		f.mu.Unlock()

		if f.failPart != nil {
			if status := f.failPart(part, attempt); status != 0 {
				w.WriteHeader(status)
				_, _ = w.Write([]byte("injected failure"))
				return
			}
		}

		f.mu.Lock()
		f.parts[part] = body
		f.mu.Unlock()
		w.Header().Set("ETag", fmt.Sprintf("\"etag-%d\"", part))
		w.WriteHeader(http.StatusOK)
		return
	}

	f.mu.Lock()
	f.objects[r.URL.Path] = body
	f.contentType[r.URL.Path] = r.Header.Get("Content-Type")
	f.mu.Unlock()
	w.Header().Set("ETag", "\"object-etag\"")
	w.WriteHeader(http.StatusOK)
}

func (f *fakeStore) PresignPutObject(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return f.srv.URL + "/" + key, nil
}

func (f *fakeStore) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s?uploadId=%s&partNumber=%d", f.srv.URL, key, uploadID, partNumber), nil
}

func (f *fakeStore) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return "upload-1", nil
}

func (f *fakeStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = parts
	return nil
}

func (f *fakeStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	return nil
}

func (f *fakeStore) wait(ctx context.Context) error {
	if f.presignDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.presignDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeStore) assembled() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for i := int32(1); i <= int32(len(f.parts)); i++ {
		out = append(out, f.parts[i]...)
	}
	return out
}

func testURLPolicy(key string) string {
	return "https://cdn.example.com/" + key
}

var _ Backend = (*fakeStore)(nil)
