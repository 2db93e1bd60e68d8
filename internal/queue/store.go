package queue

import (
	"context"
	"sync"
)

// UpdateFunc receives the stored blob and returns its replacement.
// Returning nil bytes leaves the stored blob as it is.
type UpdateFunc func(current []byte) ([]byte, error)

// Store persists the encoded queue as a single blob.
// Load returns nil bytes when nothing has been saved yet.
// Update must run the read, fn and the write as one step that no other writer,
// in this process or another one, can interleave with.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Update(ctx context.Context, fn UpdateFunc) error
}

// MemoryStore keeps the encoded queue in memory
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, nil
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemoryStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	if s.data != nil {
		current = append([]byte(nil), s.data...)
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	s.data = append([]byte(nil), next...)
	return nil
}
