// Package document is a Document backed by a markdown file on disk.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/s3paste/internal/placeholder"
	"github.com/openmined/s3paste/internal/utils"
)

const lockRetryDelay = 10 * time.Millisecond

// File holds the whole file in memory. Nothing is written until Save.
// Other processes (the daemon, another capture) may write the same file; Transact
// is the way to change it without losing their edits.
type File struct {
	*placeholder.Lines
	path  string
	mode  os.FileMode
	dirty bool
	lock  *flock.Flock
	atEnd bool
}

var _ placeholder.Document = (*File)(nil)

// Open loads path. A missing file opens as an empty document and is created on Save.
func Open(path string) (*File, error) {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	f := &File{
		path: path,
		mode: 0o644,
		lock: flock.New(lockPath(path)),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// lock files are hidden siblings; the note itself is replaced on every save
func lockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = nil
	case err != nil:
		return fmt.Errorf("read document: %w", err)
	default:
		if info, statErr := os.Stat(f.path); statErr == nil {
			f.mode = info.Mode().Perm()
		}
	}

	var cursor placeholder.Position
	if f.Lines != nil {
		cursor = f.Cursor()
	}
	f.Lines = placeholder.NewLines(string(data))
	f.Lines.SetCursor(cursor)
	f.dirty = false
	return nil
}

func (f *File) Path() string {
	return f.path
}

// Transact re-reads the file under an exclusive lock, applies fn to the fresh content and
// saves the result before releasing the lock. Unsaved in-memory edits are discarded.
// Nothing is written when fn fails.
func (f *File) Transact(ctx context.Context, fn func(placeholder.Document) error) error {
	if err := utils.EnsureParent(f.path); err != nil {
		return err
	}
	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", f.path)
	}
	defer f.lock.Unlock()

	if err := f.load(); err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return f.Save()
}

func (f *File) SetLine(i int, text string) {
	f.Lines.SetLine(i, text)
	f.dirty = true
}

// InsertAtSelection inserts at the cursor, or on a new last line after SelectEnd
func (f *File) InsertAtSelection(text string) {
	if f.atEnd {
		text = f.moveToEnd(text)
	}
	f.Lines.InsertAtSelection(text)
	f.dirty = true
}

// SelectEnd sends every later insertion to a new line at the end of the file,
// wherever the end is at the time of the insertion
func (f *File) SelectEnd() {
	f.atEnd = true
}

// AppendLine adds text as a new last line and moves the cursor to its end
func (f *File) AppendLine(text string) {
	f.Lines.InsertAtSelection(f.moveToEnd(text))
	f.dirty = true
}

// moveToEnd puts the cursor at the end of the last line and returns text,
// prefixed with a newline when that line is not blank
func (f *File) moveToEnd(text string) string {
	last := f.LineCount() - 1
	lastLine := f.Line(last)
	f.SetCursor(placeholder.Position{Line: last, Ch: len(lastLine)})
	if strings.TrimSpace(lastLine) != "" {
		return "\n" + text
	}
	return text
}

func (f *File) Dirty() bool {
	return f.dirty
}

// Save writes the document back if it changed. The file is replaced atomically.
// Save alone does not take the lock; use Transact when other writers may be active.
func (f *File) Save() error {
	if !f.dirty {
		return nil
	}
	if err := utils.EnsureParent(f.path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(f.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("save document: %w", err)
	}
	if err := tmp.Chmod(f.mode); err != nil {
		tmp.Close()
		return fmt.Errorf("save document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	f.dirty = false
	return nil
}
