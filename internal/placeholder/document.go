package placeholder

import "strings"

// Position is a cursor location: zero-based line and byte offset within the line
type Position struct {
	Line int
	Ch   int
}

// Document is the minimal surface needed from the host editor.
// It is assumed to have a single writer.
type Document interface {
	LineCount() int
	Line(i int) string
	SetLine(i int, text string)
	Cursor() Position
	InsertAtSelection(text string)
}

// Lines is an in-memory Document
type Lines struct {
	lines  []string
	cursor Position
}

var _ Document = (*Lines)(nil)

func NewLines(text string) *Lines {
	return &Lines{lines: strings.Split(text, "\n")}
}

func (d *Lines) LineCount() int {
	return len(d.lines)
}

func (d *Lines) Line(i int) string {
	if i < 0 || i >= len(d.lines) {
		return ""
	}
	return d.lines[i]
}

// SetLine replaces line i. A cursor on that line stays within the new text.
func (d *Lines) SetLine(i int, text string) {
	if i < 0 || i >= len(d.lines) {
		return
	}
	d.lines[i] = text
	if d.cursor.Line == i {
		d.cursor.Ch = min(d.cursor.Ch, len(text))
	}
}

func (d *Lines) Cursor() Position {
	return d.cursor
}

// SetCursor moves the cursor, clamping it to the document bounds
func (d *Lines) SetCursor(pos Position) {
	pos.Line = max(0, min(pos.Line, len(d.lines)-1))
	pos.Ch = max(0, min(pos.Ch, len(d.lines[pos.Line])))
	d.cursor = pos
}

// InsertAtSelection inserts text at the cursor and leaves the cursor after it
func (d *Lines) InsertAtSelection(text string) {
	d.SetCursor(d.cursor)
	pos := d.cursor
	line := d.lines[pos.Line]
	head, tail := line[:pos.Ch], line[pos.Ch:]

	inserted := strings.Split(text, "\n")
	inserted[0] = head + inserted[0]
	last := len(inserted) - 1
	newCh := len(inserted[last])
	inserted[last] += tail

	lines := make([]string, 0, len(d.lines)+last)
	lines = append(lines, d.lines[:pos.Line]...)
	lines = append(lines, inserted...)
	lines = append(lines, d.lines[pos.Line+1:]...)
	d.lines = lines
	d.cursor = Position{Line: pos.Line + last, Ch: newCh}
}

func (d *Lines) String() string {
	return strings.Join(d.lines, "\n")
}
