package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/s3paste/internal/utils"
)

const lockRetryDelay = 10 * time.Millisecond

// FileStore keeps the queue in a JSON file next to a lock file.
// Writes go to a temp file that is renamed over the original, so readers never see a partial list.
// Update holds the exclusive lock from the read to the rename, so a second process
// (e.g. `enqueue` next to a running daemon) cannot overwrite a change it has not seen.
type FileStore struct {
	path string
	lock *flock.Flock
}

func NewFileStore(path string) (*FileStore, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", s.lock.Path())
	}
	defer s.lock.Unlock()

	return s.read()
}

func (s *FileStore) Save(ctx context.Context, data []byte) error {
	return s.Update(ctx, func([]byte) ([]byte, error) {
		return data, nil
	})
}

func (s *FileStore) Update(ctx context.Context, fn UpdateFunc) error {
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", s.lock.Path())
	}
	defer s.lock.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	return s.write(next)
}

func (s *FileStore) read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (s *FileStore) write(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
