package caret

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSurface struct {
	focused bool
	segs    []string
	sel     Point
	hasSel  bool
}

func (f *fakeSurface) Focused() bool            { return f.focused }
func (f *fakeSurface) Segments() []string       { return f.segs }
func (f *fakeSurface) Selection() (Point, bool) { return f.sel, f.hasSel }
func (f *fakeSurface) Select(p Point)           { f.sel, f.hasSel = p, true }

func TestCaptureAcrossSegments(t *testing.T) {
	s := &fakeSurface{
		focused: true,
		segs:    []string{"visit https://x.com/a?", "utm_source=x&", "id=1"},
		sel:     Point{Segment: 2, Offset: 2},
		hasSel:  true,
	}
	pos, ok := Capture(s)
	assert.True(t, ok)
	assert.Equal(t, 22+13+2, pos.Offset)
}

func TestCaptureCountsRunes(t *testing.T) {
	s := &fakeSurface{focused: true, segs: []string{"Grüße", " ✓"}, sel: Point{1, 1}, hasSel: true}
	pos, ok := Capture(s)
	assert.True(t, ok)
	assert.Equal(t, 6, pos.Offset)
}

func TestCaptureWithoutFocus(t *testing.T) {
	s := &fakeSurface{segs: []string{"abc"}, sel: Point{0, 1}, hasSel: true}
	_, ok := Capture(s)
	assert.False(t, ok)
}

func TestCaptureSelectionOutside(t *testing.T) {
	s := &fakeSurface{focused: true, segs: []string{"abc"}}
	_, ok := Capture(s)
	assert.False(t, ok, "no selection")

	s.sel, s.hasSel = Point{Segment: 3}, true
	_, ok = Capture(s)
	assert.False(t, ok, "segment out of range")

	s.sel = Point{Segment: 0, Offset: 9}
	_, ok = Capture(s)
	assert.False(t, ok, "offset out of range")
}

func TestCaptureEmptySurface(t *testing.T) {
	s := &fakeSurface{focused: true, hasSel: true}
	pos, ok := Capture(s)
	assert.True(t, ok)
	assert.Equal(t, 0, pos.Offset)
}

func TestRestoreClampsToEnd(t *testing.T) {
	s := &fakeSurface{focused: true, segs: []string{"ab", "cd"}}
	Restore(s, Position{Offset: 40})
	assert.Equal(t, Point{Segment: 1, Offset: 2}, s.sel)

	Restore(s, Position{Offset: -3})
	assert.Equal(t, Point{Segment: 0, Offset: 0}, s.sel)
}

func TestRestoreAfterResegmentation(t *testing.T) {
	s := &fakeSurface{focused: true, segs: []string{"visit https://x.com/a?id=1"}}
	Restore(s, Position{Offset: 24})
	assert.Equal(t, Point{Segment: 0, Offset: 24}, s.sel)

	s.segs = []string{"visit https://x.com/a?", "id=1"}
	Restore(s, Position{Offset: 24})
	assert.Equal(t, Point{Segment: 1, Offset: 2}, s.sel)
}

func TestCaptureRestoreIdempotent(t *testing.T) {
	segs := []string{"héllo ", "wörld", "", "!"}
	s := &fakeSurface{focused: true, segs: segs}
	total := Length(segs)

	for off := 0; off <= total; off++ {
		Restore(s, Position{Offset: off})
		pos, ok := Capture(s)
		assert.True(t, ok)
		assert.Equal(t, off, pos.Offset)

		Restore(s, pos)
		again, ok := Capture(s)
		assert.True(t, ok)
		assert.Equal(t, pos, again)
	}
}
