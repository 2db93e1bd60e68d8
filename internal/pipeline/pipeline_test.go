package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/s3paste/internal/blob"
	"github.com/openmined/s3paste/internal/cache"
	"github.com/openmined/s3paste/internal/placeholder"
	"github.com/openmined/s3paste/internal/queue"
	"github.com/openmined/s3paste/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, uploader Uploader, store queue.Store, opts ...Option) (*Pipeline, *eventLog) {
	t.Helper()
	events := &eventLog{}
	base := []Option{
		WithConfig(Config{TempDir: t.TempDir()}),
		WithEventHandler(events.handle),
	}
	return New(uploader, store, append(base, opts...)...), events
}

func TestCapture_DirectSuccess(t *testing.T) {
	store := newObjectStore(t)
	doc := placeholder.NewLines("# Notes\n")
	doc.SetCursor(placeholder.Position{Line: 1, Ch: 0})

	var during string
	client := store.client(5 * time.Second)
	uploader := uploaderFunc(func(ctx context.Context, key, ct string, src blob.ChunkSource) (string, error) {
		during = doc.String()
		return client.UploadSource(ctx, key, ct, src)
	})

	p, events := newTestPipeline(t, uploader, queue.NewMemoryStore())
	payload := pngBytes(2048)

	id, err := p.Capture(context.Background(), doc, Asset{Data: payload, Filename: "shot.png", MimeType: "image/png"}, Direct)
	require.NoError(t, err)
	assert.True(t, utils.IsUploadID(id))

	// while uploading, the document holds the uploading placeholder for this id
	match, ok := placeholder.Decode(during)
	require.True(t, ok)
	assert.Equal(t, id, match.ID)
	assert.Equal(t, placeholder.StatusUploading, match.Status)

	key := "shot-" + id + ".png"
	data, contentType, ok := store.object(key)
	require.True(t, ok)
	assert.Equal(t, payload, data)
	assert.Equal(t, "image/png", contentType)

	assert.Equal(t, "# Notes\n![shot]("+cdnBase+key+")", doc.String())
	assert.NotContains(t, doc.String(), "status=uploading")
	assert.Equal(t, 0, p.Cache().Len())
	assert.NoDirExists(t, filepath.Dir(match.Ref), "preview is cleaned up after success")
	assert.Equal(t, []EventKind{EventUploading, EventUploaded}, events.kinds())
}

func TestCapture_TimeoutThenClickRetry(t *testing.T) {
	store := newObjectStore(t)
	store.slow.Store(true)

	doc := placeholder.NewLines("before\n\nafter")
	doc.SetCursor(placeholder.Position{Line: 1, Ch: 0})
	p, events := newTestPipeline(t, store.client(100*time.Millisecond), queue.NewMemoryStore())

	id, err := p.Capture(context.Background(), doc, Asset{Data: pngBytes(2048), Filename: "diagram.png"}, Direct)
	var timeoutErr *blob.UploadTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, blob.CodeUploadTimeout, blob.ErrorCode(err))

	line := doc.Line(1)
	failed, ok := placeholder.Decode(line)
	require.True(t, ok)
	assert.Equal(t, id, failed.ID)
	assert.Equal(t, placeholder.StatusFailed, failed.Status)
	require.True(t, failed.HasRetryLink())
	assert.Equal(t, "before", doc.Line(0))
	assert.Equal(t, "after", doc.Line(2))

	// clicking next to the placeholder does nothing
	handler := p.RetryHandler(doc, "")
	_, triggered, err := handler.HandleClick(context.Background(), doc, placeholder.Position{Line: 0, Ch: 2})
	require.NoError(t, err)
	assert.False(t, triggered)

	store.slow.Store(false)
	clicked, triggered, err := handler.HandleClick(context.Background(), doc, placeholder.Position{Line: 1, Ch: failed.RetryStart + 1})
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Equal(t, id, clicked)

	key := "diagram-" + id + ".png"
	url := cdnBase + key
	assert.Equal(t, "before\n![diagram]("+url+")\nafter", doc.String())
	assert.Equal(t, 1, strings.Count(doc.String(), url))
	assert.NotContains(t, doc.String(), placeholder.Marker)

	_, _, stored := store.object(key)
	assert.True(t, stored)
	assert.Equal(t, []EventKind{EventUploading, EventFailed, EventRetry, EventUploaded}, events.kinds())
}

func TestCapture_Validation(t *testing.T) {
	p, _ := newTestPipeline(t, nil, queue.NewMemoryStore())
	doc := placeholder.NewLines("")

	_, err := p.Capture(context.Background(), doc, Asset{}, Direct)
	assert.ErrorIs(t, err, ErrEmptyAsset)

	_, err = p.Capture(context.Background(), doc, Asset{Data: []byte("x")}, Queued)
	assert.ErrorIs(t, err, ErrNoDocument)

	assert.Equal(t, "", doc.String(), "rejected captures leave the document alone")
}

func TestCapture_DefaultFilename(t *testing.T) {
	var gotKey, gotType string
	uploader := uploaderFunc(func(_ context.Context, key, ct string, _ blob.ChunkSource) (string, error) {
		gotKey, gotType = key, ct
		return cdnBase + key, nil
	})
	p, _ := newTestPipeline(t, uploader, queue.NewMemoryStore())
	doc := placeholder.NewLines("")

	id, err := p.Capture(context.Background(), doc, Asset{Data: pngBytes(64), MimeType: "image/png"}, Direct)
	require.NoError(t, err)
	assert.Equal(t, "pasted-image-"+id+".png", gotKey)
	assert.Equal(t, "image/png", gotType)
}

func TestQueued_ProcessOne(t *testing.T) {
	store := newObjectStore(t)
	docPath := filepath.Join(t.TempDir(), "note.md")
	require.NoError(t, os.WriteFile(docPath, []byte("title\n"), 0o644))

	p, events := newTestPipeline(t, store.client(5*time.Second), queue.NewMemoryStore())
	doc := openDoc(t, docPath)
	doc.SetCursor(placeholder.Position{Line: 1, Ch: 0})

	id, err := p.Capture(context.Background(), doc, Asset{Data: pngBytes(2048), Filename: "a.png", DocPath: docPath}, Queued)
	require.NoError(t, err)
	assert.Equal(t, int32(0), store.puts.Load(), "queued capture does not upload")

	saved := readFile(t, docPath)
	assert.Contains(t, saved, placeholder.Marker+id+" status=uploading")

	n, err := p.Queue().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, p.ProcessOne(context.Background()))
	assert.Equal(t, "title\n![a]("+cdnBase+"a-"+id+".png)", readFile(t, docPath))

	n, err = p.Queue().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// empty queue is a no-op
	require.NoError(t, p.ProcessOne(context.Background()))
	assert.Equal(t, int32(1), store.puts.Load())
	assert.Equal(t, []EventKind{EventUploading, EventQueued, EventDequeued, EventUploaded}, events.kinds())
}

func TestQueued_SurvivesRestart(t *testing.T) {
	store := newObjectStore(t)
	dir := t.TempDir()
	docPath := filepath.Join(dir, "note.md")
	tempDir := filepath.Join(dir, "previews")
	queueStore, err := queue.NewFileStore(filepath.Join(dir, "queue.json"))
	require.NoError(t, err)

	cfg := Config{TempDir: tempDir}
	payload := pngBytes(4096)

	first := New(store.client(5*time.Second), queueStore, WithConfig(cfg))
	id, err := first.Capture(context.Background(), openDoc(t, docPath), Asset{Data: payload, Filename: "b.png", DocPath: docPath}, Queued)
	require.NoError(t, err)

	// new session: empty cache, same queue file and preview directory
	second := New(store.client(5*time.Second), queueStore, WithConfig(cfg), WithCache(cache.New()))
	head, ok, err := second.Queue().PeekFirst(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, head.ID)

	require.NoError(t, second.ProcessOne(context.Background()))

	data, _, ok := store.object("b-" + id + ".png")
	require.True(t, ok)
	assert.Equal(t, payload, data)
	assert.NotContains(t, readFile(t, docPath), placeholder.Marker)
}

func TestProcessOne_FailureKeepsHead(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "note.md")
	failing := uploaderFunc(func(context.Context, string, string, blob.ChunkSource) (string, error) {
		return "", blob.NewUploadFailedError("k", 503, "slow down")
	})
	p, events := newTestPipeline(t, failing, queue.NewMemoryStore())

	id, err := p.Capture(context.Background(), openDoc(t, docPath), Asset{Data: pngBytes(128), Filename: "c.png", DocPath: docPath}, Queued)
	require.NoError(t, err)

	err = p.ProcessOne(context.Background())
	var failedErr *blob.UploadFailedError
	require.ErrorAs(t, err, &failedErr)

	head, ok, err := p.Queue().PeekFirst(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, head.ID)
	assert.Contains(t, readFile(t, docPath), placeholder.Marker+id+" status=uploading")
	assert.Contains(t, events.kinds(), EventFailed)
}

func TestProcessOne_PlaceholderMissingKeepsHead(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "note.md")
	var calls int
	uploader := uploaderFunc(func(context.Context, string, string, blob.ChunkSource) (string, error) {
		calls++
		return "https://x", nil
	})
	p, events := newTestPipeline(t, uploader, queue.NewMemoryStore())

	id, err := p.Capture(context.Background(), openDoc(t, docPath), Asset{Data: pngBytes(128), Filename: "d.png", DocPath: docPath}, Queued)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(docPath, []byte("the user deleted it\n"), 0o644))

	err = p.ProcessOne(context.Background())
	assert.ErrorIs(t, err, placeholder.ErrPlaceholderNotFound)
	assert.Equal(t, 0, calls)
	assert.Equal(t, "the user deleted it\n", readFile(t, docPath))

	n, err := p.Queue().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// later ticks stay quiet until the item is removed
	require.NoError(t, p.ProcessOne(context.Background()))
	require.NoError(t, p.ProcessOne(context.Background()))
	assert.Equal(t, []EventKind{EventUploading, EventQueued, EventFailed}, events.kinds())
	assert.Equal(t, id, events.events[2].ID)
	assert.ErrorIs(t, events.events[2].Err, placeholder.ErrPlaceholderNotFound)

	removed, err := p.Queue().Remove(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, p.ProcessOne(context.Background()))
	assert.Equal(t, 0, calls)
}

func TestProcessOne_KeepsEditsMadeDuringUpload(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "note.md")
	uploader := uploaderFunc(func(_ context.Context, key, _ string, _ blob.ChunkSource) (string, error) {
		appendToFile(t, docPath, "\nuser typed this while uploading")
		return cdnBase + key, nil
	})
	p, _ := newTestPipeline(t, uploader, queue.NewMemoryStore())

	id, err := p.Capture(context.Background(), openDoc(t, docPath), Asset{Data: pngBytes(128), Filename: "a.png", DocPath: docPath}, Queued)
	require.NoError(t, err)

	require.NoError(t, p.ProcessOne(context.Background()))
	assert.Equal(t, "![a]("+cdnBase+"a-"+id+".png)\nuser typed this while uploading", readFile(t, docPath))
}

func TestCapture_DirectKeepsEditsMadeDuringUpload(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "note.md")
	uploader := uploaderFunc(func(_ context.Context, key, _ string, _ blob.ChunkSource) (string, error) {
		appendToFile(t, docPath, "\nuser typed this while uploading")
		return cdnBase + key, nil
	})
	p, _ := newTestPipeline(t, uploader, queue.NewMemoryStore())

	doc := openDoc(t, docPath)
	id, err := p.Capture(context.Background(), doc, Asset{Data: pngBytes(128), Filename: "a.png"}, Direct)
	require.NoError(t, err)

	want := "![a](" + cdnBase + "a-" + id + ".png)\nuser typed this while uploading"
	assert.Equal(t, want, readFile(t, docPath))
	assert.Equal(t, want, doc.String())
}

func TestCapture_DirectFailureKeepsEditsMadeDuringUpload(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "note.md")
	uploader := uploaderFunc(func(context.Context, string, string, blob.ChunkSource) (string, error) {
		appendToFile(t, docPath, "\nuser typed this while uploading")
		return "", errors.New("connection reset")
	})
	p, _ := newTestPipeline(t, uploader, queue.NewMemoryStore())

	id, err := p.Capture(context.Background(), openDoc(t, docPath), Asset{Data: pngBytes(128), Filename: "a.png"}, Direct)
	require.Error(t, err)

	saved := readFile(t, docPath)
	failed, ok := placeholder.Decode(saved)
	require.True(t, ok)
	assert.Equal(t, id, failed.ID)
	assert.Equal(t, placeholder.StatusFailed, failed.Status)
	assert.True(t, strings.HasSuffix(saved, "\nuser typed this while uploading"))
}

func TestProcessOne_PayloadGoneDropsItem(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "note.md")
	queueStore := queue.NewMemoryStore()
	cfg := Config{TempDir: filepath.Join(dir, "previews")}

	first := New(nil, queueStore, WithConfig(cfg))
	id, err := first.Capture(context.Background(), openDoc(t, docPath), Asset{Data: pngBytes(128), Filename: "e.png", DocPath: docPath}, Queued)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(cfg.TempDir))

	second := New(nil, queueStore, WithConfig(cfg))
	err = second.ProcessOne(context.Background())
	assert.ErrorIs(t, err, ErrPayloadMissing)

	n, err := second.Queue().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	failed, ok := placeholder.Decode(readFile(t, docPath))
	require.True(t, ok)
	assert.Equal(t, id, failed.ID)
	assert.Equal(t, placeholder.StatusFailed, failed.Status)
}

func TestRetry_Queued(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "note.md")
	fail := true
	uploader := uploaderFunc(func(_ context.Context, key, _ string, _ blob.ChunkSource) (string, error) {
		if fail {
			return "", errors.New("connection reset")
		}
		return cdnBase + key, nil
	})
	p, _ := newTestPipeline(t, uploader, queue.NewMemoryStore(), WithConfig(Config{RetryMode: RetryQueued}))
	p.cfg.TempDir = t.TempDir()

	doc := openDoc(t, docPath)
	id, err := p.Capture(context.Background(), doc, Asset{Data: pngBytes(128), Filename: "f.png", DocPath: docPath}, Direct)
	require.Error(t, err)
	assert.Contains(t, readFile(t, docPath), "status=failed")

	require.NoError(t, p.Retry(context.Background(), doc, docPath, id))
	assert.Contains(t, readFile(t, docPath), placeholder.Marker+id+" status=uploading")

	items, err := p.Queue().List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "f.png", items[0].Filename)
	assert.Equal(t, docPath, items[0].DocPath)

	fail = false
	require.NoError(t, p.ProcessOne(context.Background()))
	assert.Equal(t, "![f]("+cdnBase+"f-"+id+".png)", readFile(t, docPath))
}

func TestRetry_PreviewUnderParenthesizedDir(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "notes (draft)")
	payload := pngBytes(512)
	fail := true
	var got []byte
	uploader := uploaderFunc(func(ctx context.Context, key, _ string, src blob.ChunkSource) (string, error) {
		if fail {
			return "", errors.New("connection reset")
		}
		data, err := src.ReadChunk(ctx, 0, src.Size())
		if err != nil {
			return "", err
		}
		got = data
		return cdnBase + key, nil
	})
	p, _ := newTestPipeline(t, uploader, queue.NewMemoryStore(), WithConfig(Config{TempDir: tempDir}))

	doc := placeholder.NewLines("")
	id, err := p.Capture(context.Background(), doc, Asset{Data: payload, Filename: "g.png"}, Direct)
	require.Error(t, err)

	// a restarted session only has the preview path from the document
	p.Cache().Remove(id)
	fail = false
	require.NoError(t, p.Retry(context.Background(), doc, "", id))
	assert.Equal(t, payload, got)
	assert.Equal(t, "![g]("+cdnBase+"g-"+id+".png)", doc.String())
}

func TestRetry_RequiresFailedPlaceholder(t *testing.T) {
	p, _ := newTestPipeline(t, nil, queue.NewMemoryStore())
	id := "0123456789abcdef"

	doc := placeholder.NewLines(placeholder.EncodeUploading(id, "/tmp/x.png"))
	err := p.Retry(context.Background(), doc, "", id)
	assert.ErrorIs(t, err, placeholder.ErrPlaceholderNotFound)

	err = p.Retry(context.Background(), placeholder.NewLines("nothing here"), "", id)
	assert.ErrorIs(t, err, placeholder.ErrPlaceholderNotFound)
}

func TestPipeline_SchedulerDrainsQueue(t *testing.T) {
	store := newObjectStore(t)
	docPath := filepath.Join(t.TempDir(), "note.md")
	p, _ := newTestPipeline(t, store.client(5*time.Second), queue.NewMemoryStore())

	doc := openDoc(t, docPath)
	doc.SelectEnd()
	for _, name := range []string{"one.png", "two.png"} {
		_, err := p.Capture(context.Background(), doc, Asset{Data: pngBytes(256), Filename: name, DocPath: docPath}, Queued)
		require.NoError(t, err)
	}

	p.scheduler.Tick(context.Background())
	p.scheduler.Tick(context.Background())

	n, err := p.Queue().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, store.keys(), 2)
	assert.NotContains(t, readFile(t, docPath), placeholder.Marker)
}

func TestPipeline_Upload(t *testing.T) {
	store := newObjectStore(t)
	p, _ := newTestPipeline(t, store.client(5*time.Second), queue.NewMemoryStore())

	url, err := p.Upload(context.Background(), "raw/key.bin", "application/octet-stream", []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, cdnBase+"raw/key.bin", url)

	data, _, ok := store.object("raw/key.bin")
	require.True(t, ok)
	assert.Equal(t, "raw", string(data))
}

func TestCapture_SniffsUnlabelledClipboardData(t *testing.T) {
	var gotKey, gotType string
	uploader := uploaderFunc(func(_ context.Context, key, ct string, _ blob.ChunkSource) (string, error) {
		gotKey, gotType = key, ct
		return cdnBase + key, nil
	})
	p, _ := newTestPipeline(t, uploader, queue.NewMemoryStore())

	id, err := p.Capture(context.Background(), placeholder.NewLines(""), Asset{Data: pngBytes(512)}, Direct)
	require.NoError(t, err)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, "pasted-image-"+id+".png", gotKey)
}
