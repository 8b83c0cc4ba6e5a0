package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

// ScrapeAdapter parses a page with a registered layout.
type ScrapeAdapter struct {
	cfg     ScrapeConfig
	fetcher fetcher.Fetcher
	layout  Layout
	logger  *zap.Logger
}

// NewScrapeAdapter resolves cfg.Layout and builds the adapter. Sources with
// Render set should be given a headless fetcher.
func NewScrapeAdapter(cfg ScrapeConfig, f fetcher.Fetcher, logger *zap.Logger) (*ScrapeAdapter, error) {
	if cfg.Layout == "" {
		cfg.Layout = "selectors"
	}
	layout, err := LookupLayout(cfg.Layout)
	if err != nil {
		return nil, fmt.Errorf("scrape source %s: %w", cfg.Name, err)
	}
	if cfg.MinTitleLength <= 0 {
		cfg.MinTitleLength = DefaultMinTitleLength
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeAdapter{
		cfg:     cfg,
		fetcher: f,
		layout:  layout,
		logger:  logger.With(zap.String("source", cfg.Name)),
	}, nil
}

// Info implements Adapter.
func (a *ScrapeAdapter) Info() Info {
	return Info{Name: a.cfg.Name, Topic: a.cfg.Topic, Kind: parseKind(a.cfg.Kind)}
}

// Fetch retrieves the page and returns well-formed, unique items in page order.
func (a *ScrapeAdapter) Fetch(ctx context.Context) ([]Item, error) {
	resp, err := a.fetcher.Fetch(ctx, fetcher.Request{URL: a.cfg.URL})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", a.cfg.Name, err)
	}
	base := feedBase(resp.URL, a.cfg.URL)
	return a.clean(a.layout(doc, a.cfg), base), nil
}

func (a *ScrapeAdapter) clean(raw []Item, base *url.URL) []Item {
	seenTitles := make(map[string]struct{}, len(raw))
	seenLinks := make(map[string]struct{}, len(raw))
	out := make([]Item, 0, len(raw))
	for _, item := range raw {
		item.Title = collapse(item.Title)
		if item.Title == "" || strings.TrimSpace(item.Link) == "" {
			a.logger.Debug("Skipping entry without title or link", zap.String("url", item.Link))
			continue
		}
		if utf8.RuneCountInString(item.Title) < a.cfg.MinTitleLength {
			a.logger.Debug("Skipping entry with short title", zap.String("title", item.Title))
			continue
		}
		link, err := Canonicalize(item.Link, base)
		if err != nil {
			a.logger.Debug("Skipping entry with unusable link", zap.Error(err))
			continue
		}
		titleKey := strings.ToLower(item.Title)
		if _, dup := seenTitles[titleKey]; dup {
			continue
		}
		if _, dup := seenLinks[link]; dup {
			continue
		}
		seenTitles[titleKey] = struct{}{}
		seenLinks[link] = struct{}{}

		item.Link = link
		item.Excerpt = Truncate(PlainText(item.Excerpt), ExcerptRunes)
		if item.ImageURL != "" && base != nil {
			if ref, err := url.Parse(item.ImageURL); err == nil {
				item.ImageURL = base.ResolveReference(ref).String()
			}
		}
		if item.ImageURL == "" {
			item.ImageURL = ThumbnailFor(item.Link)
		}
		out = append(out, item)
		if len(out) == a.cfg.MaxItems {
			break
		}
	}
	return out
}
