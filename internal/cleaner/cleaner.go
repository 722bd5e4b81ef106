// Package cleaner removes tracking parameters from links embedded in
// free text.
//
// The cleaner only ever deletes substrings of its input: surviving query
// parameters keep their order and raw encoding, and nothing is
// re-serialized. Its output is therefore always a subsequence of its
// input, which is what the highlight alignment relies on.
package cleaner

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Report summarizes one cleaning pass.
type Report struct {
	Output        string `json:"output"`
	URLsFound     int    `json:"urls_found"`
	URLsModified  int    `json:"urls_modified"`
	ParamsRemoved int    `json:"params_removed"`
}

// Changed reports whether any link was modified.
func (r Report) Changed() bool { return r.URLsModified > 0 }

var urlPattern = regexp.MustCompile(`https?://[^\s\x{0B}\x{85}\p{Z}]+`)

var defaultParams = []string{
	"gclid", "fbclid", "mc_cid", "mc_eid", "ref", "ref_src", "ref_url",
	"igshid", "igsh", "si", "tag", "linkcode",
}

// Cleaner holds the parameter rules. The zero value is not usable; use New.
type Cleaner struct {
	params   map[string]struct{}
	prefixes []string
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithExtraParams adds parameter names (matched case-insensitively) to
// the removal list.
func WithExtraParams(names ...string) Option {
	return func(c *Cleaner) {
		for _, n := range names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				c.params[n] = struct{}{}
			}
		}
	}
}

// WithExtraPrefixes adds parameter name prefixes to the removal list.
func WithExtraPrefixes(prefixes ...string) Option {
	return func(c *Cleaner) {
		for _, p := range prefixes {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				c.prefixes = append(c.prefixes, p)
			}
		}
	}
}

// New returns a Cleaner with the default rules plus opts.
func New(opts ...Option) *Cleaner {
	c := &Cleaner{
		params:   make(map[string]struct{}, len(defaultParams)),
		prefixes: []string{"utm_"},
	}
	for _, p := range defaultParams {
		c.params[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var std = New()

// Clean cleans text with the default rules.
func Clean(text string) string {
	return std.Clean(text)
}

// CleanWithReport cleans text with the default rules and reports what
// changed.
func CleanWithReport(text string) Report {
	return std.CleanWithReport(text)
}

// Clean returns text with tracking parameters removed.
func (c *Cleaner) Clean(text string) string {
	return c.CleanWithReport(text).Output
}

// Sanitize implements the sequencer's Sanitizer contract.
func (c *Cleaner) Sanitize(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.Clean(text), nil
}

// CleanWithReport returns the cleaned text and counters.
func (c *Cleaner) CleanWithReport(text string) Report {
	var (
		out  strings.Builder
		rep  Report
		last int
	)
	out.Grow(len(text))

	for _, m := range urlPattern.FindAllStringIndex(text, -1) {
		rep.URLsFound++
		out.WriteString(text[last:m[0]])

		link, trailing := splitTrailing(text[m[0]:m[1]])
		cleaned, modified, removed := c.cleanURL(link)
		if modified {
			rep.URLsModified++
			rep.ParamsRemoved += removed
		}
		out.WriteString(cleaned)
		out.WriteString(trailing)

		last = m[1]
	}
	out.WriteString(text[last:])

	rep.Output = out.String()
	return rep
}

// splitTrailing separates sentence punctuation glued to the end of a link.
// A closing parenthesis is only split off while it is unbalanced.
func splitTrailing(candidate string) (link, trailing string) {
	cut := len(candidate)
	for cut > 0 {
		r, size := utf8.DecodeLastRuneInString(candidate[:cut])
		if !strings.ContainsRune(`.,:;!?)]}"'`, r) {
			break
		}
		if r == ')' && strings.Count(candidate[:cut], ")") <= strings.Count(candidate[:cut], "(") {
			break
		}
		cut -= size
	}
	return candidate[:cut], candidate[cut:]
}

func (c *Cleaner) cleanURL(raw string) (string, bool, int) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw, false, 0
	}

	rest, fragment := raw, ""
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		rest, fragment = rest[:i], rest[i:]
	}
	base, query, hasQuery := strings.Cut(rest, "?")

	modified := false
	if stripped, ok := stripAmazonRef(base, u.Hostname()); ok {
		base = stripped
		modified = true
	}

	removed := 0
	if hasQuery {
		pairs := strings.Split(query, "&")
		kept := pairs[:0]
		for _, pair := range pairs {
			if pair == "" {
				continue
			}
			if c.shouldRemove(pair) {
				removed++
				continue
			}
			kept = append(kept, pair)
		}
		if removed > 0 {
			modified = true
			query = strings.Join(kept, "&")
		}
	}

	if !modified {
		return raw, false, 0
	}

	var b strings.Builder
	b.WriteString(base)
	if hasQuery && query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	b.WriteString(fragment)
	return b.String(), true, removed
}

func (c *Cleaner) shouldRemove(pair string) bool {
	key, _, _ := strings.Cut(pair, "=")
	if decoded, err := url.QueryUnescape(key); err == nil {
		key = decoded
	}
	key = strings.ToLower(key)

	for _, p := range c.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	_, ok := c.params[key]
	return ok
}

// stripAmazonRef drops the "/ref=..." path suffix Amazon appends to
// product links. base is scheme, authority and path without query.
func stripAmazonRef(base, host string) (string, bool) {
	if !strings.Contains(strings.ToLower(host), "amazon.") {
		return base, false
	}

	_, afterScheme, ok := strings.Cut(base, "://")
	if !ok {
		return base, false
	}
	slash := strings.IndexByte(afterScheme, '/')
	if slash < 0 {
		return base, false
	}
	pathStart := len(base) - len(afterScheme) + slash
	path := base[pathStart:]

	i := strings.Index(path, "/ref=")
	if i <= 0 {
		return base, false
	}
	return base[:pathStart+i], true
}
