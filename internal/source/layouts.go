package source

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Layout extracts raw items from a parsed page. Implementations may return
// incomplete or duplicate items; ScrapeAdapter filters them.
type Layout func(doc *goquery.Document, cfg ScrapeConfig) []Item

var (
	layoutsMu sync.RWMutex
	layouts   = map[string]Layout{
		"selectors":       selectorLayout,
		"hackernews":      hackerNewsLayout,
		"github-trending": githubTrendingLayout,
	}
)

// RegisterLayout adds or replaces a named layout.
func RegisterLayout(name string, layout Layout) {
	layoutsMu.Lock()
	defer layoutsMu.Unlock()
	layouts[name] = layout
}

// LookupLayout resolves a layout by name.
func LookupLayout(name string) (Layout, error) {
	layoutsMu.RLock()
	defer layoutsMu.RUnlock()
	if l, ok := layouts[name]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("layout %q is not registered", name)
}

// Layouts lists registered layout names.
func Layouts() []string {
	layoutsMu.RLock()
	defer layoutsMu.RUnlock()
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func selectorLayout(doc *goquery.Document, cfg ScrapeConfig) []Item {
	sel := cfg.Selectors
	if sel.Item == "" {
		return nil
	}
	var items []Item
	doc.Find(sel.Item).Each(func(_ int, s *goquery.Selection) {
		titleSel := s
		if sel.Title != "" {
			titleSel = s.Find(sel.Title).First()
		}
		linkSel := titleSel
		if sel.Link != "" {
			linkSel = s.Find(sel.Link).First()
		}
		link, ok := linkSel.Attr("href")
		if !ok {
			link, _ = s.Attr("href")
		}
		item := Item{
			Title: collapse(titleSel.Text()),
			Link:  strings.TrimSpace(link),
		}
		if sel.Excerpt != "" {
			item.Excerpt = collapse(s.Find(sel.Excerpt).First().Text())
		}
		if sel.Image != "" {
			img := s.Find(sel.Image).First()
			if src, ok := img.Attr("src"); ok {
				item.ImageURL = src
			} else if src, ok := img.Attr("data-src"); ok {
				item.ImageURL = src
			}
		}
		if sel.Date != "" {
			item.PublishedAt = parseDate(s.Find(sel.Date).First(), sel.DateFormat)
		}
		items = append(items, item)
	})
	return items
}

func parseDate(s *goquery.Selection, layout string) time.Time {
	raw, ok := s.Attr("datetime")
	if !ok {
		raw = collapse(s.Text())
	}
	if raw == "" {
		return time.Time{}
	}
	formats := []string{time.RFC3339, time.RFC1123Z, time.RFC1123, time.DateOnly, "January 2, 2006", "Jan 2, 2006"}
	if layout != "" {
		formats = append([]string{layout}, formats...)
	}
	for _, f := range formats {
		if t, err := time.Parse(f, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// hackerNewsLayout reads the news.ycombinator.com front page.
func hackerNewsLayout(doc *goquery.Document, _ ScrapeConfig) []Item {
	var items []Item
	doc.Find("tr.athing").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find(".titleline > a").First()
		href, _ := anchor.Attr("href")
		item := Item{Title: collapse(anchor.Text()), Link: strings.TrimSpace(href)}
		if age, ok := row.Next().Find("span.age").Attr("title"); ok {
			stamp := strings.Fields(age)
			if len(stamp) > 0 {
				if t, err := time.Parse("2006-01-02T15:04:05", stamp[0]); err == nil {
					item.PublishedAt = t.UTC()
				}
			}
		}
		items = append(items, item)
	})
	return items
}

// githubTrendingLayout reads github.com/trending.
func githubTrendingLayout(doc *goquery.Document, _ ScrapeConfig) []Item {
	var items []Item
	doc.Find("article.Box-row").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find("h2 a").First()
		href, _ := anchor.Attr("href")
		name := strings.ReplaceAll(collapse(anchor.Text()), " / ", "/")
		items = append(items, Item{
			Title:   name,
			Link:    strings.TrimSpace(href),
			Excerpt: collapse(row.Find("p").First().Text()),
		})
	})
	return items
}
