package delivery

import (
	"fmt"
	"strings"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// Escape neutralizes legacy Telegram Markdown control characters.
func Escape(s string) string {
	return markdownEscaper.Replace(s)
}

// RenderMarkdown formats artifact as a Markdown message. cal decides the
// date in the heading.
func RenderMarkdown(a digest.Artifact, cal digest.Calendar) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Daily digest: %s* (%s)\n", Escape(a.Category), cal.DateString(a.GeneratedAt))

	switch {
	case a.NothingNotable:
		b.WriteString("\nNothing notable in the last window.\n")
		return b.String()
	case a.Fallback:
		fmt.Fprintf(&b, "\nSummary unavailable. %d articles from %d sources were collected.\n",
			a.ArticleCount, a.SourceCount)
		return b.String()
	}

	if len(a.Digest) > 0 {
		b.WriteString("\n")
		for _, line := range a.Digest {
			fmt.Fprintf(&b, "• %s\n", Escape(line))
		}
	}
	if len(a.Signals) > 0 {
		b.WriteString("\n*Signals*\n")
		for _, s := range a.Signals {
			fmt.Fprintf(&b, "• *%s*: %s", Escape(s.Title), Escape(s.Summary))
			if s.Link != "" {
				fmt.Fprintf(&b, " (%s)", s.Link)
			}
			b.WriteString("\n")
		}
	}
	if len(a.Insights) > 0 {
		b.WriteString("\n*Worth noting*\n")
		for _, in := range a.Insights {
			fmt.Fprintf(&b, "• *%s*: %s\n", Escape(in.Theme), Escape(in.Note))
		}
	}
	if len(a.Rollup) > 0 {
		b.WriteString("\n*This week*\n")
		for _, line := range a.Rollup {
			fmt.Fprintf(&b, "• %s\n", Escape(line))
		}
	}
	fmt.Fprintf(&b, "\n_%d articles, %d sources_\n", a.ArticleCount, a.SourceCount)
	return b.String()
}
