// Package highlight aligns a text with its sanitized counterpart and
// describes the result as alternating kept and removed runs.
//
// The alignment is a greedy two-pointer scan, not a general diff. It is
// only meaningful when the sanitized text was produced from the original
// by deleting substrings; AlignChecked verifies that precondition and
// degrades to an unhighlighted document when it does not hold.
package highlight

import "strings"

// Run is a contiguous span of text that was either kept or removed.
type Run struct {
	Text    string `json:"text"`
	Removed bool   `json:"removed"`
}

// Document is the ordered list of runs produced by Align.
type Document struct {
	Runs []Run `json:"runs"`
}

// Align scans original and cleaned left to right. Matching characters are
// kept; an unmatched original character is assumed removed. Adjacent runs
// of the same kind are merged.
func Align(original, cleaned string) Document {
	src := []rune(original)
	dst := []rune(cleaned)

	var (
		doc     Document
		pending strings.Builder
		removed bool
		j       int
	)

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		doc.Runs = append(doc.Runs, Run{Text: pending.String(), Removed: removed})
		pending.Reset()
	}

	for i := 0; i < len(src); i++ {
		keep := j < len(dst) && src[i] == dst[j]
		if keep {
			j++
		}
		if pending.Len() > 0 && removed == keep {
			flush()
		}
		removed = !keep
		pending.WriteRune(src[i])
	}
	flush()

	return doc
}

// IsSubsequence reports whether cleaned can be obtained from original by
// deleting characters only.
func IsSubsequence(original, cleaned string) bool {
	dst := []rune(cleaned)
	j := 0
	for _, r := range original {
		if j == len(dst) {
			break
		}
		if r == dst[j] {
			j++
		}
	}
	return j == len(dst)
}

// AlignChecked is Align guarded by IsSubsequence. When cleaned is not a
// subsequence of original the alignment would be wrong, so the original is
// returned as a single kept run and ok is false.
func AlignChecked(original, cleaned string) (doc Document, ok bool) {
	if !IsSubsequence(original, cleaned) {
		return Plain(original), false
	}
	return Align(original, cleaned), true
}

// Plain returns a document with text as one kept run.
func Plain(text string) Document {
	if text == "" {
		return Document{}
	}
	return Document{Runs: []Run{{Text: text}}}
}

// Text concatenates every run, reproducing the original text.
func (d Document) Text() string {
	var b strings.Builder
	for _, r := range d.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Kept concatenates the kept runs. For a subsequence input this equals the
// sanitized text.
func (d Document) Kept() string {
	var b strings.Builder
	for _, r := range d.Runs {
		if !r.Removed {
			b.WriteString(r.Text)
		}
	}
	return b.String()
}

// Removed returns the text of each removed run in order.
func (d Document) Removed() []string {
	var out []string
	for _, r := range d.Runs {
		if r.Removed {
			out = append(out, r.Text)
		}
	}
	return out
}

// Segments returns the run texts, the shape an editing surface stores
// when it renders the document with inline markup.
func (d Document) Segments() []string {
	out := make([]string, len(d.Runs))
	for i, r := range d.Runs {
		out[i] = r.Text
	}
	return out
}
