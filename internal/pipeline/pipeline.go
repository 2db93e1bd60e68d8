// Package pipeline wires capture, placeholders, the payload cache, the durable
// queue and the transports into one object owned by the host session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/s3paste/internal/blob"
	"github.com/openmined/s3paste/internal/cache"
	"github.com/openmined/s3paste/internal/document"
	"github.com/openmined/s3paste/internal/placeholder"
	"github.com/openmined/s3paste/internal/queue"
	"github.com/openmined/s3paste/internal/retry"
	"github.com/openmined/s3paste/internal/scheduler"
	"github.com/openmined/s3paste/internal/utils"
)

var (
	ErrPayloadMissing = errors.New("pipeline: payload not available")
	ErrEmptyAsset     = errors.New("pipeline: empty asset")
	ErrNoDocument     = errors.New("pipeline: queued uploads need a document path")
)

// Uploader stores a payload under key and returns its public URL. *blob.Client implements it.
type Uploader interface {
	UploadSource(ctx context.Context, key, contentType string, src blob.ChunkSource) (string, error)
}

// DocumentResolver opens the document a queued item belongs to
type DocumentResolver func(ctx context.Context, path string) (placeholder.Document, error)

// Saver is implemented by documents that must be written back after a change
type Saver interface {
	Save() error
}

// Transactor is implemented by documents that other writers may change while an upload runs.
// Transact must apply fn to the current content and save it as one step.
type Transactor interface {
	Transact(ctx context.Context, fn func(placeholder.Document) error) error
}

// Asset is a captured binary, usually a pasted or dropped image
type Asset struct {
	Data     []byte
	Filename string
	MimeType string
	// DocPath names the document the placeholder is inserted into. Required for Queued.
	DocPath string
}

type Option func(*Pipeline)

func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.cfg = cfg
	}
}

func WithCache(c *cache.PayloadCache) Option {
	return func(p *Pipeline) {
		p.cache = c
	}
}

func WithDocumentResolver(r DocumentResolver) Option {
	return func(p *Pipeline) {
		p.resolve = r
	}
}

func WithEventHandler(h EventHandler) Option {
	return func(p *Pipeline) {
		p.onEvent = h
	}
}

type Pipeline struct {
	cfg       Config
	uploader  Uploader
	cache     *cache.PayloadCache
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	resolve   DocumentResolver
	onEvent   EventHandler

	mu sync.Mutex
	// head item already reported as stalled
	stalled string
}

func New(uploader Uploader, store queue.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		uploader: uploader,
		resolve:  openDocument,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cfg = p.cfg.withDefaults()
	if p.cache == nil {
		p.cache = cache.New()
	}

	p.queue = queue.New(store, queue.WithHooks(queue.Hooks{
		OnAdded: func(item queue.Item) {
			p.emit(Event{Kind: EventQueued, ID: item.ID})
		},
		OnRemoved: func(item queue.Item) {
			p.emit(Event{Kind: EventDequeued, ID: item.ID})
		},
	}))
	p.scheduler = scheduler.New(p.cfg.SchedulerInterval, p.ProcessOne)
	return p
}

func (p *Pipeline) Queue() *queue.Queue {
	return p.queue
}

func (p *Pipeline) Cache() *cache.PayloadCache {
	return p.cache
}

// Start runs the scheduler until ctx is done or Stop is called
func (p *Pipeline) Start(ctx context.Context) {
	p.scheduler.Start(ctx)
}

func (p *Pipeline) Stop() {
	p.scheduler.Stop()
}

// Kick processes the queue head now instead of waiting for the next tick
func (p *Pipeline) Kick() {
	p.scheduler.Kick()
}

// Capture inserts an uploading placeholder at the document selection and delivers the asset.
// In Direct mode the upload runs now and its error is returned after the placeholder is marked failed.
// In Queued mode the upload is appended to the durable queue and left to the scheduler.
func (p *Pipeline) Capture(ctx context.Context, doc placeholder.Document, asset Asset, mode Mode) (string, error) {
	if len(asset.Data) == 0 {
		return "", ErrEmptyAsset
	}
	if mode == Queued && asset.DocPath == "" {
		return "", ErrNoDocument
	}

	id := utils.NewUploadID()
	item := newItem(id, asset)

	previewRef, err := p.writePreview(id, item.Filename, asset.Data)
	if err != nil {
		if mode == Queued {
			return "", fmt.Errorf("write preview: %w", err)
		}
		slog.Warn("write preview", "id", id, "error", err)
	}
	item.PreviewRef = previewRef

	text := p.cfg.Labels.EncodeUploading(id, previewRef)
	err = edit(ctx, doc, func(d placeholder.Document) error {
		d.InsertAtSelection(text)
		return nil
	})
	if err != nil {
		p.finish(id, previewRef)
		return "", fmt.Errorf("insert placeholder: %w", err)
	}
	p.cache.Put(id, cache.Payload{Data: asset.Data, MimeType: item.MimeType, Filename: item.Filename})

	slog.Info("capture", "id", id, "file", item.Filename, "size", humanize.IBytes(uint64(item.Size)), "mode", mode)
	p.emit(Event{Kind: EventUploading, ID: id})

	if mode == Queued {
		if err := p.queue.Enqueue(ctx, item); err != nil {
			return id, errors.Join(err, p.markFailed(ctx, doc, id, err))
		}
		return id, nil
	}

	return id, p.deliver(ctx, doc, item, blob.BytesSource(asset.Data))
}

// ProcessOne uploads the head of the queue. The item is removed only after the
// upload succeeded and the document was updated; any other failure keeps it at the head.
// A head whose placeholder is gone is reported once and then skipped quietly
// until it is removed from the queue.
func (p *Pipeline) ProcessOne(ctx context.Context) error {
	item, ok, err := p.queue.PeekFirst(ctx)
	if err != nil || !ok {
		return err
	}

	doc, err := p.resolve(ctx, item.DocPath)
	if err != nil {
		return fmt.Errorf("open document %s: %w", item.DocPath, err)
	}
	if _, _, found := placeholder.Find(doc, item.ID); !found {
		return p.reportStalled(item, fmt.Errorf("%w: %s in %s", placeholder.ErrPlaceholderNotFound, item.ID, item.DocPath))
	}
	p.setStalled("")

	src, err := p.payloadFor(item.ID, item.PreviewRef)
	if errors.Is(err, ErrPayloadMissing) {
		// no later tick can succeed without the bytes
		if markErr := p.markFailed(ctx, doc, item.ID, err); markErr != nil {
			err = errors.Join(err, markErr)
		}
		if _, rmErr := p.queue.Remove(ctx, item.ID); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return err
	}
	if err != nil {
		return err
	}

	url, err := p.upload(ctx, item, src)
	if err != nil {
		p.emit(Event{Kind: EventFailed, ID: item.ID, Err: err})
		return fmt.Errorf("upload %s: %w", item.ID, err)
	}

	err = edit(ctx, doc, func(d placeholder.Document) error {
		return placeholder.MarkDone(d, item.ID, altText(item.Filename), url)
	})
	if err != nil {
		return fmt.Errorf("update document %s: %w", item.DocPath, err)
	}
	if _, err := p.queue.Remove(ctx, item.ID); err != nil {
		return err
	}

	p.finish(item.ID, item.PreviewRef)
	p.emit(Event{Kind: EventUploaded, ID: item.ID, URL: url})
	return nil
}

// Retry re-arms a failed placeholder. docPath is only needed with RetryQueued.
func (p *Pipeline) Retry(ctx context.Context, doc placeholder.Document, docPath, id string) error {
	if p.cfg.RetryMode == RetryQueued && docPath == "" {
		return ErrNoDocument
	}

	var item queue.Item
	err := edit(ctx, doc, func(d placeholder.Document) error {
		match, _, ok := placeholder.Find(d, id)
		if !ok || match.Status != placeholder.StatusFailed {
			return fmt.Errorf("%w: no failed upload %s", placeholder.ErrPlaceholderNotFound, id)
		}
		item = p.itemFor(id, match.Ref)
		return p.cfg.Labels.MarkUploading(d, id, "")
	})
	if err != nil {
		return err
	}
	slog.Info("retry", "id", id, "mode", p.cfg.RetryMode)
	p.emit(Event{Kind: EventRetry, ID: id})

	if p.cfg.RetryMode == RetryQueued {
		item.DocPath = docPath
		if err := p.queue.Enqueue(ctx, item); err != nil {
			return errors.Join(err, p.markFailed(ctx, doc, id, err))
		}
		return nil
	}

	src, err := p.payloadFor(id, item.PreviewRef)
	if err != nil {
		return errors.Join(err, p.markFailed(ctx, doc, id, err))
	}
	return p.deliver(ctx, doc, item, src)
}

// RetryHandler returns a click handler that re-arms failed placeholders in doc
func (p *Pipeline) RetryHandler(doc placeholder.Document, docPath string) *retry.Handler {
	return retry.NewHandler(func(ctx context.Context, id string) error {
		return p.Retry(ctx, doc, docPath, id)
	})
}

// Upload stores payload under key, picking the simple or multipart transport by size
func (p *Pipeline) Upload(ctx context.Context, key, contentType string, payload []byte) (string, error) {
	return p.uploader.UploadSource(ctx, key, contentType, blob.BytesSource(payload))
}

func (p *Pipeline) deliver(ctx context.Context, doc placeholder.Document, item queue.Item, src blob.ChunkSource) error {
	url, err := p.upload(ctx, item, src)
	if err != nil {
		return errors.Join(err, p.markFailed(ctx, doc, item.ID, err))
	}

	err = edit(ctx, doc, func(d placeholder.Document) error {
		return placeholder.MarkDone(d, item.ID, altText(item.Filename), url)
	})
	if err != nil {
		return fmt.Errorf("uploaded to %s: %w", url, err)
	}
	p.finish(item.ID, item.PreviewRef)
	p.emit(Event{Kind: EventUploaded, ID: item.ID, URL: url})
	return nil
}

func (p *Pipeline) upload(ctx context.Context, item queue.Item, src blob.ChunkSource) (string, error) {
	ext := utils.ExtensionFor(item.Filename, item.MimeType)
	key := p.cfg.KeyFunc(item.Filename, ext, p.cfg.KeyPrefix, item.ID, p.cfg.DateFormat)

	start := time.Now()
	url, err := p.uploader.UploadSource(ctx, key, item.MimeType, src)
	if err != nil {
		slog.Error("upload", "id", item.ID, "key", key, "code", blob.ErrorCode(err), "error", err)
		return "", err
	}
	slog.Info("upload", "id", item.ID, "key", key, "size", humanize.IBytes(uint64(src.Size())), "took", time.Since(start))
	return url, nil
}

// markFailed flips the placeholder to failed and emits the failure.
// A placeholder the user already removed is only logged; the returned error is a document write failure.
func (p *Pipeline) markFailed(ctx context.Context, doc placeholder.Document, id string, cause error) error {
	err := edit(ctx, doc, func(d placeholder.Document) error {
		return p.cfg.Labels.MarkFailed(d, id)
	})
	if errors.Is(err, placeholder.ErrPlaceholderNotFound) {
		slog.Warn("mark failed", "id", id, "error", err)
		err = nil
	}
	p.emit(Event{Kind: EventFailed, ID: id, Err: cause})
	return err
}

func (p *Pipeline) reportStalled(item queue.Item, err error) error {
	if !p.setStalled(item.ID) {
		slog.Debug("queue head stalled", "id", item.ID, "doc", item.DocPath)
		return nil
	}
	slog.Warn("queue head stalled, run `s3paste queue remove` to drop it", "id", item.ID, "doc", item.DocPath)
	p.emit(Event{Kind: EventFailed, ID: item.ID, Err: err})
	return err
}

// setStalled records id as the stalled head and reports whether it changed
func (p *Pipeline) setStalled(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.stalled != id
	p.stalled = id
	return changed
}

// payloadFor prefers the cached bytes and falls back to the preview file
func (p *Pipeline) payloadFor(id, previewRef string) (blob.ChunkSource, error) {
	if payload, ok := p.cache.Take(id); ok {
		return blob.BytesSource(payload.Data), nil
	}
	if previewRef == "" {
		return nil, fmt.Errorf("%w: %s", ErrPayloadMissing, id)
	}
	src, err := blob.NewFileSource(previewRef)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPayloadMissing, previewRef)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (p *Pipeline) itemFor(id, previewRef string) queue.Item {
	item := queue.Item{
		ID:         id,
		PreviewRef: previewRef,
		CreatedAt:  time.Now().UTC(),
	}
	if payload, ok := p.cache.Take(id); ok {
		item.Filename = payload.Filename
		item.MimeType = payload.MimeType
		item.Size = payload.Size()
		return item
	}
	if previewRef != "" {
		item.Filename = filepath.Base(previewRef)
	}
	if item.Filename == "" || item.Filename == "." {
		item.Filename = "image"
	}
	item.MimeType = utils.DetectContentType(item.Filename)
	return item
}

// writePreview stores the bytes at <TempDir>/<id>/<filename> and returns the path
func (p *Pipeline) writePreview(id, filename string, data []byte) (string, error) {
	path := filepath.Join(p.cfg.TempDir, id, previewName(filename))
	if err := utils.EnsureParent(path); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Pipeline) finish(id, previewRef string) {
	p.cache.Remove(id)
	if previewRef == "" || filepath.Dir(filepath.Dir(previewRef)) != filepath.Clean(p.cfg.TempDir) {
		return
	}
	if err := os.RemoveAll(filepath.Dir(previewRef)); err != nil {
		slog.Warn("remove preview", "id", id, "error", err)
	}
}

func (p *Pipeline) emit(ev Event) {
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}

func newItem(id string, asset Asset) queue.Item {
	filename := filepath.Base(asset.Filename)
	if asset.Filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = "pasted-image"
	}
	mimeType := asset.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = utils.SniffContentType(filename, asset.Data)
	}
	if filepath.Ext(filename) == "" {
		filename += "." + utils.ExtensionFor(filename, mimeType)
	}
	return queue.Item{
		ID:        id,
		Filename:  filename,
		MimeType:  mimeType,
		CreatedAt: time.Now().UTC(),
		Size:      int64(len(asset.Data)),
		DocPath:   asset.DocPath,
	}
}

func previewName(filename string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '(', ')', '[', ']', '\n', '\r':
			return '_'
		}
		return r
	}, filename)
}

func altText(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

// edit applies fn to doc and writes it back, under the document's own lock when it has one
func edit(ctx context.Context, doc placeholder.Document, fn func(placeholder.Document) error) error {
	if t, ok := doc.(Transactor); ok {
		return t.Transact(ctx, fn)
	}
	if err := fn(doc); err != nil {
		return err
	}
	if s, ok := doc.(Saver); ok {
		return s.Save()
	}
	return nil
}

func openDocument(_ context.Context, path string) (placeholder.Document, error) {
	if path == "" {
		return nil, ErrNoDocument
	}
	doc, err := document.Open(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
