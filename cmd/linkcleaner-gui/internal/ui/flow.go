package ui

import (
	"image"
	"strings"

	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/widget/material"

	"linkcleaner/cmd/linkcleaner-gui/internal/theme"
	"linkcleaner/internal/highlight"
)

// token is the unit the flow layout wraps on: a word with its trailing
// spaces, or a line break.
type token struct {
	Text    string
	Removed bool
	Break   bool
}

// tokenize splits runs at spaces and line breaks. Tokens never span two
// runs, so a removed query string inside a URL stays its own token.
func tokenize(doc highlight.Document) []token {
	var toks []token
	for _, run := range doc.Runs {
		lines := strings.Split(run.Text, "\n")
		for i, line := range lines {
			if i > 0 {
				toks = append(toks, token{Break: true})
			}
			for line != "" {
				end := strings.IndexByte(line, ' ')
				if end < 0 {
					end = len(line)
				} else {
					for end < len(line) && line[end] == ' ' {
						end++
					}
				}
				toks = append(toks, token{Text: line[:end], Removed: run.Removed})
				line = line[end:]
			}
		}
	}
	return toks
}

// HighlightView renders a document with removed runs struck through in
// the theme's Removed color.
type HighlightView struct {
	theme *theme.Theme
}

// NewHighlightView creates a view.
func NewHighlightView(t *theme.Theme) *HighlightView {
	return &HighlightView{theme: t}
}

// Layout flows the tokens left to right, wrapping at the maximum width.
func (v *HighlightView) Layout(gtx layout.Context, doc highlight.Document) layout.Dimensions {
	maxX := gtx.Constraints.Max.X
	minLine := gtx.Sp(v.theme.Config.FontBody) * 4 / 3

	x, y, lineH := 0, 0, 0
	for _, tok := range tokenize(doc) {
		if tok.Break {
			y += max(lineH, minLine)
			x, lineH = 0, 0
			continue
		}

		lbl := material.Body1(v.theme.Theme, tok.Text)
		lbl.TextSize = v.theme.Config.FontBody
		lbl.Color = v.theme.Palette.Text
		if tok.Removed {
			lbl.Color = v.theme.Palette.Removed
		}

		cgtx := gtx
		cgtx.Constraints = layout.Constraints{Max: image.Pt(maxX, gtx.Constraints.Max.Y)}
		macro := op.Record(gtx.Ops)
		dims := lbl.Layout(cgtx)
		call := macro.Stop()

		if x > 0 && x+dims.Size.X > maxX {
			y += max(lineH, minLine)
			x, lineH = 0, 0
		}

		off := op.Offset(image.Pt(x, y)).Push(gtx.Ops)
		call.Add(gtx.Ops)
		if tok.Removed {
			v.strike(gtx, dims.Size)
		}
		off.Pop()

		x += dims.Size.X
		lineH = max(lineH, dims.Size.Y)
	}
	return layout.Dimensions{Size: image.Pt(maxX, y+lineH)}
}

func (v *HighlightView) strike(gtx layout.Context, size image.Point) {
	mid := size.Y / 2
	thickness := max(gtx.Dp(1), 1)
	rect := clip.Rect{Min: image.Pt(0, mid), Max: image.Pt(size.X, mid+thickness)}.Op()
	paint.FillShape(gtx.Ops, v.theme.Palette.Removed, rect)
}
