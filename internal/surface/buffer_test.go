package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcleaner/internal/caret"
	"linkcleaner/internal/highlight"
)

func TestBufferDocument(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, "", b.Text())
	assert.Zero(t, b.Revision())

	b.SetDocument(highlight.Align("a?utm_id=1", "a"))
	assert.Equal(t, "a?utm_id=1", b.Text())
	assert.Equal(t, []string{"a", "?utm_id=1"}, b.Segments())
	assert.Equal(t, uint64(1), b.Revision())

	b.SetText("plain")
	assert.Equal(t, []string{"plain"}, b.Segments())
	assert.Equal(t, uint64(2), b.Revision())
}

func TestBufferCaretSurvivesHighlight(t *testing.T) {
	b := NewBuffer()
	b.SetText("visit https://x.com/a?utm_source=x&id=1")
	b.SetFocused(true)
	b.SetCaret(5)

	pos, ok := caret.Capture(b)
	require.True(t, ok)

	b.SetDocument(highlight.Align(b.Text(), "visit https://x.com/a?id=1"))
	caret.Restore(b, pos)

	off, ok := b.CaretOffset()
	require.True(t, ok)
	assert.Equal(t, 5, off)
}

func TestBufferBlurDropsSelection(t *testing.T) {
	b := NewBuffer()
	b.SetText("abc")
	b.SetFocused(true)
	b.SetCaret(2)
	b.SetFocused(false)

	_, ok := b.Selection()
	assert.False(t, ok)
	_, ok = caret.Capture(b)
	assert.False(t, ok)
}
