// Package digest defines core types shared across subsystems.
package digest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared by stores and services.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")
)

// AggregateCategory is the pseudo-category covering every topic. It is cached
// but never archived.
const AggregateCategory = "all"

// Kind distinguishes plain articles from items carrying rich media.
type Kind string

// Record kinds.
const (
	KindStandard      Kind = "standard"
	KindEnrichedMedia Kind = "enriched-media"
)

// Record is a normalized content item. Link is the canonical identity.
type Record struct {
	Link        string    `json:"link"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	Topic       string    `json:"topic"`
	Kind        Kind      `json:"kind"`
	Excerpt     string    `json:"excerpt"`
	Body        string    `json:"body,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Validate checks the fields required for an upsert.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Link) == "" {
		return fmt.Errorf("%w: link is required", ErrInvalidRecord)
	}
	return nil
}

// RecordFilter narrows a content store query. Zero values mean "no filter".
type RecordFilter struct {
	Source  string
	Topic   string
	Since   time.Time
	Until   time.Time
	Keyword string
	Limit   int
}

// DefaultQueryCap bounds the size of any record query result.
const DefaultQueryCap = 200

// EffectiveLimit clamps the requested limit to ceiling (DefaultQueryCap when
// ceiling is not positive).
func (f RecordFilter) EffectiveLimit(ceiling int) int {
	if ceiling <= 0 {
		ceiling = DefaultQueryCap
	}
	if f.Limit > 0 && f.Limit < ceiling {
		return f.Limit
	}
	return ceiling
}

// Signal is a structured observation surfaced by the summarizer.
type Signal struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Source   string `json:"source,omitempty"`
	Link     string `json:"link,omitempty"`
	Strength string `json:"strength,omitempty"`
}

// Insight is a themed "worth noting" entry.
type Insight struct {
	Theme string   `json:"theme"`
	Note  string   `json:"note"`
	Links []string `json:"links,omitempty"`
}

// DateRange is the publication window a generation covered.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Artifact is the structured summary produced for one category.
type Artifact struct {
	Category       string    `json:"category"`
	Digest         []string  `json:"digest"`
	Signals        []Signal  `json:"signals"`
	Insights       []Insight `json:"insights"`
	Rollup         []string  `json:"rollup,omitempty"`
	NothingNotable bool      `json:"nothing_notable"`
	Fallback       bool      `json:"fallback,omitempty"`
	ArticleCount   int       `json:"article_count"`
	SourceCount    int       `json:"source_count"`
	GeneratedAt    time.Time `json:"generated_at"`
	Range          DateRange `json:"range"`
}

// Empty reports whether the artifact carries no themes or signals.
func (a Artifact) Empty() bool {
	return len(a.Digest) == 0 && len(a.Signals) == 0 && len(a.Insights) == 0
}

// NothingNotableArtifact is delivered when the recent window holds no records.
func NothingNotableArtifact(category string, now time.Time, window DateRange) Artifact {
	return Artifact{
		Category:       category,
		Digest:         []string{},
		Signals:        []Signal{},
		Insights:       []Insight{},
		NothingNotable: true,
		GeneratedAt:    now,
		Range:          window,
	}
}

// FallbackArtifact has the same shape as a generated artifact but marks that
// summarization did not happen.
func FallbackArtifact(category string, records []Record, now time.Time, window DateRange) Artifact {
	return Artifact{
		Category:     category,
		Digest:       []string{},
		Signals:      []Signal{},
		Insights:     []Insight{},
		Fallback:     true,
		ArticleCount: len(records),
		SourceCount:  DistinctSources(records),
		GeneratedAt:  now,
		Range:        window,
	}
}

// DistinctSources counts the distinct origin labels in records.
func DistinctSources(records []Record) int {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		seen[r.Source] = struct{}{}
	}
	return len(seen)
}

// Matches reports whether keyword appears (case-insensitively) in any text
// field of the artifact. An empty keyword matches everything.
func (a Artifact) Matches(keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return true
	}
	has := func(s string) bool { return strings.Contains(strings.ToLower(s), kw) }
	for _, d := range a.Digest {
		if has(d) {
			return true
		}
	}
	for _, r := range a.Rollup {
		if has(r) {
			return true
		}
	}
	for _, s := range a.Signals {
		if has(s.Title) || has(s.Summary) {
			return true
		}
	}
	for _, in := range a.Insights {
		if has(in.Theme) || has(in.Note) {
			return true
		}
	}
	return false
}

// ArchivedArtifact is an artifact persisted under an archive row identity.
type ArchivedArtifact struct {
	ID string `json:"id"`
	// GeneratedOn is the civil date of the row's first generation.
	GeneratedOn string   `json:"generated_on,omitempty"`
	Artifact    Artifact `json:"artifact"`
}

// HistoryFilter narrows archive browsing queries. Before is exclusive.
type HistoryFilter struct {
	Category string
	Keyword  string
	Before   time.Time
	Limit    int
	Offset   int
}

// History page bounds.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// EffectiveLimit returns Limit bounded to [1, MaxHistoryLimit].
func (f HistoryFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return f.Limit
	}
}

// DeliveryState is the outcome of a delivery attempt.
type DeliveryState string

// Delivery outcomes.
const (
	DeliverySent   DeliveryState = "sent"
	DeliveryFailed DeliveryState = "failed"
)

// DeliveryStatus is returned by every deliverer; failures carry a reason.
type DeliveryStatus struct {
	State  DeliveryState `json:"state"`
	Reason string        `json:"reason,omitempty"`
}

// Sent builds a successful status.
func Sent() DeliveryStatus {
	return DeliveryStatus{State: DeliverySent}
}

// Failed builds a failed status with a reason.
func Failed(reason string) DeliveryStatus {
	return DeliveryStatus{State: DeliveryFailed, Reason: reason}
}

// OK reports whether the delivery succeeded.
func (s DeliveryStatus) OK() bool {
	return s.State == DeliverySent
}

// RunState is the process-lifetime snapshot exposed on the status surface.
type RunState struct {
	Running         bool       `json:"running"`
	LastRunID       string     `json:"last_run_id,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastRecordCount int        `json:"last_record_count"`
	LastDelivery    string     `json:"last_delivery,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}
