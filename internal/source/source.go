// Package source turns configured feeds and scraped pages into digest
// records. Each source fails in isolation.
package source

import (
	"context"
	"time"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

// Text bounds applied to every item.
const (
	ExcerptRunes = 300
	BodyRunes    = 2000
)

// Item is the common output of every adapter.
type Item struct {
	Title       string
	Link        string
	PublishedAt time.Time
	Excerpt     string
	Body        string
	ImageURL    string
}

// Info labels the records an adapter produces.
type Info struct {
	Name  string
	Topic string
	Kind  digest.Kind
}

// Adapter fetches one source. An error means the whole source failed.
type Adapter interface {
	Info() Info
	Fetch(ctx context.Context) ([]Item, error)
}

// FeedConfig describes a structured feed.
type FeedConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Topic    string `mapstructure:"topic"`
	Kind     string `mapstructure:"kind"`
	MaxItems int    `mapstructure:"max_items"`
}

// Selectors drive the config-driven "selectors" layout.
type Selectors struct {
	Item       string `mapstructure:"item"`
	Title      string `mapstructure:"title"`
	Link       string `mapstructure:"link"`
	Excerpt    string `mapstructure:"excerpt"`
	Date       string `mapstructure:"date"`
	DateFormat string `mapstructure:"date_format"`
	Image      string `mapstructure:"image"`
}

// ScrapeConfig describes a page scraped with a named layout.
type ScrapeConfig struct {
	Name           string    `mapstructure:"name"`
	URL            string    `mapstructure:"url"`
	Topic          string    `mapstructure:"topic"`
	Kind           string    `mapstructure:"kind"`
	Layout         string    `mapstructure:"layout"`
	Render         bool      `mapstructure:"render"`
	MinTitleLength int       `mapstructure:"min_title_length"`
	MaxItems       int       `mapstructure:"max_items"`
	Selectors      Selectors `mapstructure:"selectors"`
}

// Defaults applied when a source leaves them unset.
const (
	DefaultMaxItems       = 10
	DefaultMinTitleLength = 10
)

func parseKind(raw string) digest.Kind {
	switch digest.Kind(raw) {
	case digest.KindEnrichedMedia:
		return digest.KindEnrichedMedia
	case digest.KindStandard:
		return digest.KindStandard
	default:
		return ""
	}
}
