// Package ui lays out the linkcleaner window on top of the coordinator.
package ui

import (
	"image"

	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"linkcleaner/cmd/linkcleaner-gui/internal/theme"
	"linkcleaner/internal/coordinator"
)

// Window is the single-page linkcleaner UI. Layout must be called from
// the window's event goroutine.
type Window struct {
	theme      *theme.Theme
	coord      *coordinator.Coordinator
	hasMonitor bool
	source     string

	input     widget.Editor
	output    widget.Editor
	copyBtn   widget.Clickable
	monitor   widget.Bool
	highlight *HighlightView
	scroll    widget.List

	// lastSent is the input text last handed to the coordinator; editor
	// changes that match it are echoes of our own SetText.
	lastSent   string
	lastClip   uint64
	lastOutput string
}

// NewWindow creates the UI. source describes where text is cleaned, for
// the status line.
func NewWindow(t *theme.Theme, coord *coordinator.Coordinator, hasMonitor bool, source string) *Window {
	w := &Window{
		theme:      t,
		coord:      coord,
		hasMonitor: hasMonitor,
		source:     source,
		highlight:  NewHighlightView(t),
		scroll:     widget.List{List: layout.List{Axis: layout.Vertical}},
	}
	w.output.ReadOnly = true
	return w
}

// Layout handles input and draws one frame.
func (w *Window) Layout(gtx layout.Context) layout.Dimensions {
	s := w.coord.Snapshot()
	w.sync(s)
	w.update(gtx, s)

	paint.Fill(gtx.Ops, w.theme.Palette.Background)

	sections := []layout.Widget{
		w.layoutHeader,
		func(gtx layout.Context) layout.Dimensions {
			return w.panel(gtx, "Eingabe", func(gtx layout.Context) layout.Dimensions {
				ed := material.Editor(w.theme.Theme, &w.input, "Text mit Links einfügen…")
				ed.Color = w.theme.Palette.Text
				ed.HintColor = w.theme.Palette.TextMuted
				return ed.Layout(gtx)
			})
		},
		func(gtx layout.Context) layout.Dimensions {
			return w.panel(gtx, "Markierung", func(gtx layout.Context) layout.Dimensions {
				return w.highlight.Layout(gtx, s.Document)
			})
		},
		func(gtx layout.Context) layout.Dimensions {
			return w.panel(gtx, "Ergebnis", func(gtx layout.Context) layout.Dimensions {
				ed := material.Editor(w.theme.Theme, &w.output, "")
				ed.Color = w.theme.Palette.Text
				return ed.Layout(gtx)
			})
		},
		func(gtx layout.Context) layout.Dimensions { return w.layoutActions(gtx, s) },
		func(gtx layout.Context) layout.Dimensions { return w.layoutNotice(gtx, s) },
	}

	return layout.UniformInset(w.theme.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return material.List(w.theme.Theme, &w.scroll).Layout(gtx, len(sections), func(gtx layout.Context, i int) layout.Dimensions {
			return layout.Inset{Bottom: w.theme.Config.Spacing}.Layout(gtx, sections[i])
		})
	})
}

// sync copies coordinator state into the widgets that mirror it.
func (w *Window) sync(s coordinator.State) {
	if s.ClipboardID != w.lastClip {
		w.lastClip = s.ClipboardID
		text := s.Document.Text()
		w.lastSent = text
		w.input.SetText(text)
		w.restoreCaret()
	}
	if s.Output != w.lastOutput {
		w.lastOutput = s.Output
		w.output.SetText(s.Output)
	}
	w.monitor.Value = s.MonitorEnabled
}

// restoreCaret moves the editor caret to the one the coordinator kept on
// its input surface, if any.
func (w *Window) restoreCaret() {
	if off, ok := w.coord.Input().CaretOffset(); ok {
		w.input.SetCaret(off, off)
	}
}

// update forwards widget events to the coordinator.
func (w *Window) update(gtx layout.Context, s coordinator.State) {
	changed := false
	for {
		ev, ok := w.input.Update(gtx)
		if !ok {
			break
		}
		if _, ok := ev.(widget.ChangeEvent); ok {
			changed = true
		}
	}
	if text := w.input.Text(); changed && text != w.lastSent {
		w.lastSent = text
		start, _ := w.input.Selection()
		w.coord.SetInputAt(text, gtx.Focused(&w.input), start)
	}

	if w.copyBtn.Clicked(gtx) && s.HasOutput {
		w.coord.Copy()
	}
	if w.hasMonitor && w.monitor.Update(gtx) {
		w.coord.ToggleMonitor(w.monitor.Value)
	}
}

func (w *Window) layoutHeader(gtx layout.Context) layout.Dimensions {
	return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			title := material.H6(w.theme.Theme, "Link Cleaner")
			title.Color = w.theme.Palette.Primary
			title.TextSize = w.theme.Config.FontTitle
			return title.Layout(gtx)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Caption(w.theme.Theme, w.source)
			l.Color = w.theme.Palette.TextMuted
			l.TextSize = w.theme.Config.FontCaption
			return l.Layout(gtx)
		}),
	)
}

func (w *Window) layoutActions(gtx layout.Context, s coordinator.State) layout.Dimensions {
	return layout.Flex{Axis: layout.Horizontal, Alignment: layout.Middle}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			label := "Kopieren"
			if s.CopyFeedbackActive {
				label = "Kopiert ✓"
			}
			btn := material.Button(w.theme.Theme, &w.copyBtn, label)
			if s.CopyFeedbackActive {
				btn.Background = w.theme.Palette.Success
			}
			if !s.HasOutput {
				gtx = gtx.Disabled()
			}
			return btn.Layout(gtx)
		}),
		layout.Flexed(1, layout.Spacer{Width: unit.Dp(1)}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Body2(w.theme.Theme, "Zwischenablage bereinigen")
			l.Color = w.theme.Palette.Text
			if !w.hasMonitor {
				l.Color = w.theme.Palette.TextMuted
			}
			return l.Layout(gtx)
		}),
		layout.Rigid(layout.Spacer{Width: w.theme.Config.Spacing}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			if !w.hasMonitor {
				gtx = gtx.Disabled()
			}
			return material.Switch(w.theme.Theme, &w.monitor, "Zwischenablage bereinigen").Layout(gtx)
		}),
	)
}

func (w *Window) layoutNotice(gtx layout.Context, s coordinator.State) layout.Dimensions {
	msg := s.Notice.Message
	col := w.theme.Palette.TextMuted
	switch {
	case s.Notice.Kind == coordinator.NoticeError:
		col = w.theme.Palette.Error
	case msg == "" && s.HighlightFailed:
		msg = "Ergebnis ist keine reine Kürzung der Eingabe, Markierung ausgeblendet"
	case msg == "" && !w.hasMonitor:
		msg = "Dienst nicht erreichbar: lokale Bereinigung, keine Überwachung"
	}
	l := material.Caption(w.theme.Theme, msg)
	l.Color = col
	l.TextSize = w.theme.Config.FontCaption
	return l.Layout(gtx)
}

// panel draws a titled surface around content.
func (w *Window) panel(gtx layout.Context, title string, content layout.Widget) layout.Dimensions {
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			l := material.Caption(w.theme.Theme, title)
			l.Color = w.theme.Palette.TextMuted
			l.TextSize = w.theme.Config.FontCaption
			return layout.Inset{Bottom: unit.Dp(4)}.Layout(gtx, l.Layout)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return layout.Stack{}.Layout(gtx,
				layout.Expanded(func(gtx layout.Context) layout.Dimensions {
					r := gtx.Dp(w.theme.Config.CornerRadius)
					rect := clip.UniformRRect(image.Rectangle{Max: gtx.Constraints.Min}, r).Op(gtx.Ops)
					paint.FillShape(gtx.Ops, w.theme.Palette.Surface, rect)
					return layout.Dimensions{Size: gtx.Constraints.Min}
				}),
				layout.Stacked(func(gtx layout.Context) layout.Dimensions {
					gtx.Constraints.Min.X = gtx.Constraints.Max.X
					return layout.UniformInset(w.theme.Config.Spacing).Layout(gtx, content)
				}),
			)
		}),
	)
}
