package highlight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignTrackingParameter(t *testing.T) {
	doc := Align("visit https://x.com/a?utm_source=x&id=1", "visit https://x.com/a?id=1")

	require.Len(t, doc.Runs, 3)
	assert.Equal(t, Run{Text: "visit https://x.com/a?"}, doc.Runs[0])
	assert.Equal(t, Run{Text: "utm_source=x&", Removed: true}, doc.Runs[1])
	assert.Equal(t, Run{Text: "id=1"}, doc.Runs[2])
	assert.Equal(t, "visit https://x.com/a?id=1", doc.Kept())
}

func TestAlignIdentity(t *testing.T) {
	for _, s := range []string{"a", "hello world", "ümlaut ß 日本語", "https://example.com/?a=1"} {
		doc := Align(s, s)
		assert.Equal(t, []Run{{Text: s}}, doc.Runs, s)
	}
}

func TestAlignEmpty(t *testing.T) {
	assert.Empty(t, Align("", "").Runs)
	assert.Empty(t, Align("", "anything").Runs)

	doc := Align("everything goes", "")
	assert.Equal(t, []Run{{Text: "everything goes", Removed: true}}, doc.Runs)
}

func TestAlignTrailingRemoved(t *testing.T) {
	doc := Align("https://youtu.be/abc?si=xyz", "https://youtu.be/abc")
	require.Len(t, doc.Runs, 2)
	assert.Equal(t, "?si=xyz", doc.Runs[1].Text)
	assert.True(t, doc.Runs[1].Removed)
}

func TestAlignMultibyte(t *testing.T) {
	doc := Align("Grüße ?utm=ä und mehr", "Grüße und mehr")
	assert.Equal(t, "Grüße und mehr", doc.Kept())
	assert.Equal(t, "Grüße ?utm=ä und mehr", doc.Text())
}

func TestAlignRoundTrip(t *testing.T) {
	original := "Zwei Links: (https://youtu.be/X?si=abc), und https://example.com/?utm_source=x. Ende."
	runes := []rune(original)

	// Every subsequence formed by dropping characters at a fixed stride
	// must round-trip through Kept.
	for stride := 1; stride <= 7; stride++ {
		for offset := 0; offset < stride; offset++ {
			var b strings.Builder
			for i, r := range runes {
				if i%stride == offset && stride > 1 {
					continue
				}
				b.WriteRune(r)
			}
			cleaned := b.String()
			doc := Align(original, cleaned)
			assert.Equal(t, cleaned, doc.Kept(), "stride=%d offset=%d", stride, offset)
			assert.Equal(t, original, doc.Text())
		}
	}
}

func TestAlignRunsAlternate(t *testing.T) {
	doc := Align("aXbYYc", "abc")
	for i := 1; i < len(doc.Runs); i++ {
		assert.NotEqual(t, doc.Runs[i-1].Removed, doc.Runs[i].Removed, "adjacent runs must differ")
	}
	assert.Equal(t, []string{"X", "YY"}, doc.Removed())
}

func TestIsSubsequence(t *testing.T) {
	assert.True(t, IsSubsequence("abc", ""))
	assert.True(t, IsSubsequence("abc", "ac"))
	assert.True(t, IsSubsequence("abc", "abc"))
	assert.False(t, IsSubsequence("abc", "ca"))
	assert.False(t, IsSubsequence("abc", "abcd"))
	assert.False(t, IsSubsequence("", "a"))
}

func TestAlignCheckedFallback(t *testing.T) {
	doc, ok := AlignChecked("https://a.com/?x=1", "https://b.com/")
	assert.False(t, ok)
	assert.Equal(t, []Run{{Text: "https://a.com/?x=1"}}, doc.Runs)

	doc, ok = AlignChecked("https://a.com/?utm_id=1", "https://a.com/")
	assert.True(t, ok)
	assert.Equal(t, []string{"?utm_id=1"}, doc.Removed())
}

func TestSegments(t *testing.T) {
	doc := Align("ab-cd", "abcd")
	assert.Equal(t, []string{"ab", "-", "cd"}, doc.Segments())
}
