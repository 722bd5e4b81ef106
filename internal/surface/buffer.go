// Package surface provides the in-memory text surfaces the coordinator
// writes to. A Buffer stores its content as highlight runs so that front
// ends can render removed spans inline, and implements caret.Surface so
// that cursor positions can be carried across rewrites.
package surface

import (
	"strings"
	"sync"

	"linkcleaner/internal/caret"
	"linkcleaner/internal/highlight"
)

// Buffer is a segmented text surface safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	runs     []highlight.Run
	focused  bool
	sel      caret.Point
	hasSel   bool
	revision uint64
}

// NewBuffer returns an empty, unfocused buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// SetDocument replaces the content with the runs of doc.
func (b *Buffer) SetDocument(doc highlight.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.runs = append([]highlight.Run(nil), doc.Runs...)
	b.revision++
}

// SetText replaces the content with a single unmarked run.
func (b *Buffer) SetText(text string) {
	b.SetDocument(highlight.Plain(text))
}

// Text returns the logical text, markup ignored.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sb strings.Builder
	for _, r := range b.runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// Document returns a copy of the current runs.
func (b *Buffer) Document() highlight.Document {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return highlight.Document{Runs: append([]highlight.Run(nil), b.runs...)}
}

// Revision increments on every content replacement.
func (b *Buffer) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}

// SetFocused records whether the front end has given this surface focus.
// Losing focus drops the selection.
func (b *Buffer) SetFocused(focused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.focused = focused
	if !focused {
		b.hasSel = false
	}
}

// Focused implements caret.Surface.
func (b *Buffer) Focused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.focused
}

// Segments implements caret.Surface.
func (b *Buffer) Segments() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	segs := make([]string, len(b.runs))
	for i, r := range b.runs {
		segs[i] = r.Text
	}
	return segs
}

// Selection implements caret.Surface.
func (b *Buffer) Selection() (caret.Point, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sel, b.hasSel
}

// Select implements caret.Surface.
func (b *Buffer) Select(p caret.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sel, b.hasSel = p, true
}

// SetCaret places the caret at a logical rune offset, the form front ends
// that track a flat cursor report it in.
func (b *Buffer) SetCaret(offset int) {
	b.Select(caret.Locate(b.Segments(), offset))
}

// CaretOffset returns the caret as a logical rune offset.
func (b *Buffer) CaretOffset() (int, bool) {
	b.mu.RLock()
	sel, ok := b.sel, b.hasSel
	b.mu.RUnlock()
	if !ok {
		return 0, false
	}

	segs := b.Segments()
	if sel.Segment >= len(segs) {
		return caret.Length(segs), true
	}
	return caret.Length(segs[:sel.Segment]) + sel.Offset, true
}
