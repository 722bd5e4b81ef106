package web

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"linkcleaner/internal/highlight"
)

// highlightPolicy admits only the markup renderHTML produces.
func highlightPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("del", "span")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("del", "span")
	return p
}

// renderHTML renders removed runs as <del> and kept runs as plain escaped
// text, wrapped in a highlight span.
func renderHTML(doc highlight.Document, policy *bluemonday.Policy) string {
	var b strings.Builder
	b.WriteString(`<span class="highlight">`)
	for _, run := range doc.Runs {
		if run.Removed {
			b.WriteString(`<del class="removed">`)
			b.WriteString(html.EscapeString(run.Text))
			b.WriteString(`</del>`)
			continue
		}
		b.WriteString(html.EscapeString(run.Text))
	}
	b.WriteString(`</span>`)
	return policy.Sanitize(b.String())
}
