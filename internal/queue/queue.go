// Package queue is the durable FIFO of pending uploads.
// The whole list is re-read from the store before every operation, so a queue
// built over the same store after a restart sees exactly what was left behind.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Hooks are notified after a change has been persisted
type Hooks struct {
	OnAdded   func(Item)
	OnRemoved func(Item)
}

type Option func(*Queue)

func WithHooks(h Hooks) Option {
	return func(q *Queue) {
		q.hooks = h
	}
}

// Queue is safe for concurrent use. mu orders callers sharing this Queue,
// Store.Update orders writers across processes.
type Queue struct {
	store Store
	hooks Hooks
	mu    sync.Mutex
}

func New(store Store, opts ...Option) *Queue {
	q := &Queue{store: store}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends item to the tail. An item whose ID is already queued is ignored.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var added bool
	var n int
	err := q.mutate(ctx, func(items []Item) ([]Item, bool) {
		if indexOf(items, item.ID) >= 0 {
			return items, false
		}
		added, n = true, len(items)+1
		return append(items, item), true
	})
	if err != nil {
		return err
	}
	if !added {
		slog.Debug("queue enqueue skipped, already queued", "id", item.ID)
		return nil
	}

	slog.Debug("queue enqueue", "id", item.ID, "len", n)
	if q.hooks.OnAdded != nil {
		q.hooks.OnAdded(item)
	}
	return nil
}

// PeekFirst returns the head without removing it
func (q *Queue) PeekFirst(ctx context.Context) (Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil || len(items) == 0 {
		return Item{}, false, err
	}
	return items[0], true, nil
}

// DequeueFirst removes and returns the head
func (q *Queue) DequeueFirst(ctx context.Context) (Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var head Item
	var ok bool
	err := q.mutate(ctx, func(items []Item) ([]Item, bool) {
		if len(items) == 0 {
			return items, false
		}
		head, ok = items[0], true
		return items[1:], true
	})
	if err != nil || !ok {
		return Item{}, false, err
	}

	q.removed(head)
	return head, true, nil
}

// Remove deletes the item with the given id wherever it is in the queue.
// Returns false when no such item is queued.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var item Item
	var found bool
	err := q.mutate(ctx, func(items []Item) ([]Item, bool) {
		idx := indexOf(items, id)
		if idx < 0 {
			return items, false
		}
		item, found = items[idx], true
		return append(items[:idx:idx], items[idx+1:]...), true
	})
	if err != nil || !found {
		return false, err
	}

	q.removed(item)
	return true, nil
}

// List returns a snapshot in FIFO order
func (q *Queue) List(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.List(ctx)
	return len(items), err
}

func (q *Queue) removed(item Item) {
	slog.Debug("queue remove", "id", item.ID)
	if q.hooks.OnRemoved != nil {
		q.hooks.OnRemoved(item)
	}
}

func (q *Queue) load(ctx context.Context) ([]Item, error) {
	data, err := q.store.Load(ctx)
	if err != nil {
		return nil, &IOError{Op: "load", Err: err}
	}
	return decode(data)
}

// mutate applies fn to the stored list as one store update.
// fn reports whether it changed the list; unchanged lists are not written back.
func (q *Queue) mutate(ctx context.Context, fn func([]Item) ([]Item, bool)) error {
	err := q.store.Update(ctx, func(data []byte) ([]byte, error) {
		items, err := decode(data)
		if err != nil {
			return nil, err
		}
		next, changed := fn(items)
		if !changed {
			return nil, nil
		}
		encoded, err := jsonMarshal(next)
		if err != nil {
			return nil, &IOError{Op: "encode", Err: err}
		}
		return encoded, nil
	})
	if err == nil {
		return nil
	}

	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: "update", Err: err}
}

func decode(data []byte) ([]Item, error) {
	if len(data) == 0 {
		return []Item{}, nil
	}

	var items []Item
	if err := jsonUnmarshal(data, &items); err != nil {
		return nil, &IOError{Op: "decode", Err: err}
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

func indexOf(items []Item, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
