package blob

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ChunkSource provides byte ranges of a logical payload.
// ReadChunk may be called concurrently for disjoint ranges.
type ChunkSource interface {
	Size() int64
	ReadChunk(ctx context.Context, start, end int64) ([]byte, error)
}

// BytesSource serves ranges of an in-memory buffer
type BytesSource []byte

func (b BytesSource) Size() int64 {
	return int64(len(b))
}

func (b BytesSource) ReadChunk(_ context.Context, start, end int64) ([]byte, error) {
	if start < 0 || end > int64(len(b)) || start > end {
		return nil, fmt.Errorf("range [%d, %d) out of bounds for %d bytes", start, end, len(b))
	}
	return b[start:end], nil
}

// FileSource reads ranges from a file on disk
type FileSource struct {
	path string
	size int64
}

func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &FileSource{path: path, size: info.Size()}, nil
}

func (f *FileSource) Size() int64 {
	return f.size
}

func (f *FileSource) ReadChunk(_ context.Context, start, end int64) ([]byte, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, end-start)
	if _, err := io.ReadFull(io.NewSectionReader(file, start, end-start), buf); err != nil {
		return nil, fmt.Errorf("read [%d, %d) of %s: %w", start, end, f.path, err)
	}
	return buf, nil
}

// ChunkFunc returns the bytes in [start, end)
type ChunkFunc func(ctx context.Context, start, end int64) ([]byte, error)

// FuncSource adapts a caller supplied chunk provider
type FuncSource struct {
	size int64
	fn   ChunkFunc
}

func NewFuncSource(size int64, fn ChunkFunc) *FuncSource {
	return &FuncSource{size: size, fn: fn}
}

func (s *FuncSource) Size() int64 {
	return s.size
}

func (s *FuncSource) ReadChunk(ctx context.Context, start, end int64) ([]byte, error) {
	data, err := s.fn(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != end-start {
		return nil, fmt.Errorf("chunk provider returned %d bytes for [%d, %d)", len(data), start, end)
	}
	return data, nil
}

var (
	_ ChunkSource = BytesSource(nil)
	_ ChunkSource = (*FileSource)(nil)
	_ ChunkSource = (*FuncSource)(nil)
)
