package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

// FeedAdapter reads RSS, Atom or JSON feeds.
type FeedAdapter struct {
	cfg     FeedConfig
	fetcher fetcher.Fetcher
	conv    *md.Converter
	logger  *zap.Logger
}

// NewFeedAdapter builds a FeedAdapter.
func NewFeedAdapter(cfg FeedConfig, f fetcher.Fetcher, logger *zap.Logger) *FeedAdapter {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedAdapter{
		cfg:     cfg,
		fetcher: f,
		conv:    newConverter(),
		logger:  logger.With(zap.String("source", cfg.Name)),
	}
}

// Info implements Adapter.
func (a *FeedAdapter) Info() Info {
	return Info{Name: a.cfg.Name, Topic: a.cfg.Topic, Kind: parseKind(a.cfg.Kind)}
}

// Fetch downloads and parses the feed, keeping the MaxItems most recent
// entries in their original feed order.
func (a *FeedAdapter) Fetch(ctx context.Context) ([]Item, error) {
	resp, err := a.fetcher.Fetch(ctx, fetcher.Request{URL: a.cfg.URL})
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", a.cfg.Name, err)
	}

	base := feedBase(resp.URL, a.cfg.URL, feed.Link)
	items := make([]Item, 0, len(feed.Items))
	for _, entry := range mostRecent(feed.Items, a.cfg.MaxItems) {
		item, ok := a.convert(entry, base)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *FeedAdapter) convert(entry *gofeed.Item, base *url.URL) (Item, bool) {
	title := PlainText(entry.Title)
	link := strings.TrimSpace(entry.Link)
	if link == "" && strings.HasPrefix(entry.GUID, "http") {
		link = entry.GUID
	}
	if title == "" || link == "" {
		a.logger.Warn("Skipping malformed feed entry",
			zap.String("title", title), zap.String("url", link))
		return Item{}, false
	}
	if base != nil {
		if ref, err := url.Parse(link); err == nil {
			link = base.ResolveReference(ref).String()
		}
	}

	rich := entry.Content
	if strings.TrimSpace(rich) == "" {
		rich = entry.Description
	}
	summary := entry.Description
	if strings.TrimSpace(summary) == "" {
		summary = entry.Content
	}

	return Item{
		Title:       title,
		Link:        link,
		PublishedAt: entryTime(entry),
		Excerpt:     Truncate(PlainText(summary), ExcerptRunes),
		Body:        Markdown(a.conv, rich, BodyRunes),
		ImageURL:    feedMedia(entry),
	}, true
}

func entryTime(entry *gofeed.Item) time.Time {
	switch {
	case entry.PublishedParsed != nil:
		return entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		return entry.UpdatedParsed.UTC()
	default:
		return time.Time{}
	}
}

// mostRecent picks the n newest entries and returns them in feed order.
// Undated entries rank last.
func mostRecent(entries []*gofeed.Item, n int) []*gofeed.Item {
	if len(entries) <= n {
		return entries
	}
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return entryTime(entries[idx[i]]).After(entryTime(entries[idx[j]]))
	})
	keep := idx[:n]
	sort.Ints(keep)
	out := make([]*gofeed.Item, 0, n)
	for _, i := range keep {
		out = append(out, entries[i])
	}
	return out
}

func feedBase(candidates ...string) *url.URL {
	for _, c := range candidates {
		if u, err := url.Parse(c); err == nil && u.IsAbs() {
			return u
		}
	}
	return nil
}
