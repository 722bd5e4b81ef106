package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"linkcleaner/internal/highlight"
)

func TestTokenize(t *testing.T) {
	doc := highlight.Align("see https://x.com/?si=1 now\nbye", "see https://x.com/ now\nbye")

	assert.Equal(t, []token{
		{Text: "see "},
		{Text: "https://x.com/"},
		{Text: "?si=1", Removed: true},
		{Text: " "},
		{Text: "now"},
		{Break: true},
		{Text: "bye"},
	}, tokenize(doc))
}

func TestTokenizeKeepsRepeatedSpaces(t *testing.T) {
	toks := tokenize(highlight.Plain("a   b"))
	assert.Equal(t, []token{{Text: "a   "}, {Text: "b"}}, toks)
}

func TestTokenizeEmptyLines(t *testing.T) {
	toks := tokenize(highlight.Plain("a\n\nb"))
	assert.Equal(t, []token{{Text: "a"}, {Break: true}, {Break: true}, {Text: "b"}}, toks)
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, tokenize(highlight.Document{}))
	assert.Empty(t, tokenize(highlight.Plain("")))
}
