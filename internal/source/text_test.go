package source

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Tom & Jerry say hi", PlainText("<p>Tom &amp; <b>Jerry</b></p>\n<p>say   hi</p>"))
	assert.Equal(t, "visible", PlainText("<script>alert(1)</script>visible"))
	assert.Equal(t, "", PlainText("  "))
	assert.Equal(t, "café", PlainText("caf&eacute;"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", Truncate("short", 10))
	got := Truncate("the quick brown fox jumps over the lazy dog", 20)
	assert.Equal(t, "the quick brown fox...", got)

	long := strings.Repeat("é", 50)
	got = Truncate(long, 10)
	assert.Equal(t, 13, utf8.RuneCountInString(got))
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	conv := newConverter()
	out := Markdown(conv, `<p>Read <a href="https://example.com">this</a></p>`, BodyRunes)
	assert.Contains(t, out, "[this](https://example.com)")
	assert.Equal(t, "", Markdown(conv, "", BodyRunes))
}

func TestYouTubeID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":        "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=test123&t=10s":      "test123",
		"https://youtu.be/dQw4w9WgXcQ":                       "dQw4w9WgXcQ",
		"https://m.youtube.com/shorts/abcDEF12345":           "abcDEF12345",
		"https://www.youtube.com/embed/abcDEF12345?autoplay": "abcDEF12345",
		"https://example.com/watch?v=dQw4w9WgXcQ":            "",
		"https://www.youtube.com/channel/UC123":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, YouTubeID(in), in)
	}
	assert.Equal(t, "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg", ThumbnailFor("https://youtu.be/dQw4w9WgXcQ"))
	assert.Equal(t, "", ThumbnailFor("https://example.com"))
}
