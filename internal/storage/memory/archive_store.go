package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

// ArchiveStore is an in-memory digest.ArchiveStore.
type ArchiveStore struct {
	mu   sync.RWMutex
	rows map[string]digest.ArchivedArtifact
}

// NewArchiveStore constructs an ArchiveStore.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{rows: make(map[string]digest.ArchivedArtifact)}
}

// FindLatest returns the newest row for category generated at or after since.
func (s *ArchiveStore) FindLatest(_ context.Context, category string, since time.Time) (digest.ArchivedArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  digest.ArchivedArtifact
		found bool
	)
	for _, row := range s.rows {
		a := row.Artifact
		if a.Category != category || a.GeneratedAt.Before(since) {
			continue
		}
		if !found || a.GeneratedAt.After(best.Artifact.GeneratedAt) {
			best, found = row, true
		}
	}
	if !found {
		return digest.ArchivedArtifact{}, digest.ErrNotFound
	}
	return best, nil
}

// FindCollision returns the newest row for category first generated on or
// after from.
func (s *ArchiveStore) FindCollision(_ context.Context, category, from string) (digest.ArchivedArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  digest.ArchivedArtifact
		found bool
	)
	for _, row := range s.rows {
		if row.Artifact.Category != category || row.GeneratedOn < from {
			continue
		}
		if !found || row.Artifact.GeneratedAt.After(best.Artifact.GeneratedAt) {
			best, found = row, true
		}
	}
	if !found {
		return digest.ArchivedArtifact{}, digest.ErrNotFound
	}
	return best, nil
}

// Insert adds a new row. GeneratedOn defaults to the UTC date of the
// artifact when the caller leaves it empty.
func (s *ArchiveStore) Insert(_ context.Context, row digest.ArchivedArtifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[row.ID]; exists {
		return "", fmt.Errorf("archive row %s already exists", row.ID)
	}
	if row.GeneratedOn == "" {
		row.GeneratedOn = row.Artifact.GeneratedAt.UTC().Format(time.DateOnly)
	}
	s.rows[row.ID] = row
	return row.ID, nil
}

// Update replaces an existing row's artifact. The first-generation date is
// kept.
func (s *ArchiveStore) Update(_ context.Context, row digest.ArchivedArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.rows[row.ID]
	if !exists {
		return digest.ErrNotFound
	}
	existing.Artifact = row.Artifact
	s.rows[row.ID] = existing
	return nil
}

// Get returns one row by ID.
func (s *ArchiveStore) Get(_ context.Context, id string) (digest.ArchivedArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return digest.ArchivedArtifact{}, digest.ErrNotFound
	}
	return row, nil
}

// List returns rows matching filter, newest first.
func (s *ArchiveStore) List(_ context.Context, filter digest.HistoryFilter) ([]digest.ArchivedArtifact, error) {
	s.mu.RLock()
	out := make([]digest.ArchivedArtifact, 0)
	for _, row := range s.rows {
		a := row.Artifact
		if filter.Category != "" && a.Category != filter.Category {
			continue
		}
		if !filter.Before.IsZero() && !a.GeneratedAt.Before(filter.Before) {
			continue
		}
		if !a.Matches(filter.Keyword) {
			continue
		}
		out = append(out, row)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Artifact.GeneratedAt.After(out[j].Artifact.GeneratedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []digest.ArchivedArtifact{}, nil
		}
		out = out[filter.Offset:]
	}
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of rows for category.
func (s *ArchiveStore) Count(category string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.rows {
		if row.Artifact.Category == category {
			n++
		}
	}
	return n
}
