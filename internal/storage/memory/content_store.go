package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

// ContentStore is an in-memory digest.ContentStore keyed by canonical link.
type ContentStore struct {
	mu       sync.RWMutex
	records  map[string]digest.Record
	queryCap int
}

// NewContentStore constructs a ContentStore. queryCap bounds Query results.
func NewContentStore(queryCap int) *ContentStore {
	if queryCap <= 0 {
		queryCap = digest.DefaultQueryCap
	}
	return &ContentStore{
		records:  make(map[string]digest.Record),
		queryCap: queryCap,
	}
}

// Upsert inserts or overwrites a record, preserving FirstSeenAt.
func (s *ContentStore) Upsert(_ context.Context, record digest.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.Link]; ok {
		record.FirstSeenAt = existing.FirstSeenAt
	}
	s.records[record.Link] = record
	return nil
}

// Query returns matching records, newest publication first.
func (s *ContentStore) Query(_ context.Context, filter digest.RecordFilter) ([]digest.Record, error) {
	keyword := strings.ToLower(strings.TrimSpace(filter.Keyword))
	s.mu.RLock()
	out := make([]digest.Record, 0)
	for _, r := range s.records {
		if matches(r, filter, keyword) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].Link < out[j].Link
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if limit := filter.EffectiveLimit(s.queryCap); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(r digest.Record, f digest.RecordFilter, keyword string) bool {
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.Topic != "" && r.Topic != f.Topic {
		return false
	}
	if !f.Since.IsZero() && r.PublishedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.PublishedAt.After(f.Until) {
		return false
	}
	if keyword != "" &&
		!strings.Contains(strings.ToLower(r.Title), keyword) &&
		!strings.Contains(strings.ToLower(r.Excerpt), keyword) {
		return false
	}
	return true
}

// Sweep deletes records published before horizon.
func (s *ContentStore) Sweep(_ context.Context, horizon time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for link, r := range s.records {
		if r.PublishedAt.Before(horizon) {
			delete(s.records, link)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *ContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
