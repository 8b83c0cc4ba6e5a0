package source

import (
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// PlainText strips markup, decodes entities and collapses whitespace.
func PlainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + fragment + "</div>"))
	if err != nil {
		return collapse(fragment)
	}
	doc.Find("script, style").Remove()
	return collapse(doc.Text())
}

// Truncate cuts s to at most n runes, breaking on a word when possible.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}

// Markdown converts an HTML fragment into bounded markdown, falling back to
// plain text when conversion fails.
func Markdown(conv *md.Converter, fragment string, n int) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	out, err := conv.ConvertString(fragment)
	if err != nil {
		out = PlainText(fragment)
	}
	return Truncate(strings.TrimSpace(out), n)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func newConverter() *md.Converter {
	return md.NewConverter("", true, nil)
}
