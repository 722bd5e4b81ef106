// Package caret saves and restores a cursor position across content
// replacement in a surface whose text is split into segments.
//
// Positions are rune offsets into the concatenation of all segments, so
// they survive any re-segmentation of the same logical text (for example
// when inline highlight markup changes).
package caret

import "unicode/utf8"

// Point addresses a caret inside a surface: Offset runes into Segment.
type Point struct {
	Segment int
	Offset  int
}

// Surface is a focusable text surface composed of text segments.
type Surface interface {
	// Focused reports whether the surface currently holds input focus.
	Focused() bool
	// Segments returns the text of each segment in document order.
	Segments() []string
	// Selection returns the start of the active selection. ok is false
	// when there is no selection inside this surface.
	Selection() (p Point, ok bool)
	// Select collapses the selection to p.
	Select(p Point)
}

// Position is a caret offset in runes over the surface's logical text.
type Position struct {
	Offset int
}

// Capture returns the caret position of s. ok is false when s is not
// focused or the selection lies outside its content; callers must then
// skip Restore.
func Capture(s Surface) (Position, bool) {
	if !s.Focused() {
		return Position{}, false
	}
	sel, ok := s.Selection()
	if !ok {
		return Position{}, false
	}

	segs := s.Segments()
	if len(segs) == 0 {
		if sel.Segment == 0 && sel.Offset == 0 {
			return Position{}, true
		}
		return Position{}, false
	}
	if sel.Segment < 0 || sel.Segment >= len(segs) {
		return Position{}, false
	}
	if sel.Offset < 0 || sel.Offset > utf8.RuneCountInString(segs[sel.Segment]) {
		return Position{}, false
	}

	offset := sel.Offset
	for _, seg := range segs[:sel.Segment] {
		offset += utf8.RuneCountInString(seg)
	}
	return Position{Offset: offset}, true
}

// Restore places the caret of s at p. Offsets past the end of the content
// clamp to the end; Restore never fails on a stale position.
func Restore(s Surface, p Position) {
	s.Select(Locate(s.Segments(), p.Offset))
}

// Locate maps a logical rune offset onto segs. A boundary offset resolves
// to the end of the earlier segment.
func Locate(segs []string, offset int) Point {
	if offset < 0 {
		offset = 0
	}
	if len(segs) == 0 {
		return Point{}
	}

	acc := 0
	for i, seg := range segs {
		n := utf8.RuneCountInString(seg)
		if offset <= acc+n {
			return Point{Segment: i, Offset: offset - acc}
		}
		acc += n
	}

	last := len(segs) - 1
	return Point{Segment: last, Offset: utf8.RuneCountInString(segs[last])}
}

// Length returns the rune length of the concatenated segments.
func Length(segs []string) int {
	n := 0
	for _, seg := range segs {
		n += utf8.RuneCountInString(seg)
	}
	return n
}
