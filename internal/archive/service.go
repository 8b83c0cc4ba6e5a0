// Package archive combines the volatile artifact cache with the persistent
// archive store. Freshness, collision and history scoping are all evaluated
// in civil days of the anchor timezone.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/cache"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/metrics"
)

// Windows are the day counts used for freshness and collision checks. They
// are independent knobs.
type Windows struct {
	// SameDay is used by the orchestrator to skip a redundant generation.
	SameDay int
	// Lookup bounds general cache-warm reads.
	Lookup int
	// Collision is the span, counted from a row's first generation, in which
	// a save updates that row.
	Collision int
}

// DefaultWindows returns the stock window lengths.
func DefaultWindows() Windows {
	return Windows{SameDay: 1, Lookup: 7, Collision: 1}
}

// Tier names reported by GetFresh and the cache metrics.
const (
	TierVolatile = "volatile"
	TierArchive  = "archive"
)

// Fresh is a hit returned by GetFresh.
type Fresh struct {
	Artifact digest.Artifact
	RowID    string
	Tier     string
}

// SaveResult describes what Save persisted.
type SaveResult struct {
	RowID    string
	Archived bool
	Updated  bool
	Skipped  string
}

// Service is the two-tier artifact cache. Construct it once at start-up.
type Service struct {
	cache   *cache.Cache
	store   digest.ArchiveStore
	cal     digest.Calendar
	clock   digest.Clock
	ids     digest.IDGenerator
	windows Windows
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires the service.
func New(c *cache.Cache, store digest.ArchiveStore, cal digest.Calendar, clock digest.Clock,
	ids digest.IDGenerator, windows Windows, logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultWindows()
	if windows.SameDay <= 0 {
		windows.SameDay = def.SameDay
	}
	if windows.Lookup <= 0 {
		windows.Lookup = def.Lookup
	}
	if windows.Collision <= 0 {
		windows.Collision = def.Collision
	}
	return &Service{
		cache:   c,
		store:   store,
		cal:     cal,
		clock:   clock,
		ids:     ids,
		windows: windows,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Windows returns the effective window configuration.
func (s *Service) Windows() Windows {
	return s.windows
}

// Calendar returns the anchor calendar.
func (s *Service) Calendar() digest.Calendar {
	return s.cal
}

// GetFresh returns the newest artifact for category generated within the
// last days civil days, checking the volatile tier first. An archive hit
// warms the volatile tier. ok is false when nothing fresh exists.
func (s *Service) GetFresh(ctx context.Context, category string, days int) (Fresh, bool, error) {
	now := s.clock.Now()
	if entry, ok := s.cache.Get(category); ok {
		if s.cal.Within(entry.Artifact.GeneratedAt, now, days) {
			metrics.ObserveCacheLookup(TierVolatile, "hit")
			return Fresh{Artifact: entry.Artifact, Tier: TierVolatile}, true, nil
		}
	}
	metrics.ObserveCacheLookup(TierVolatile, "miss")

	if category == digest.AggregateCategory {
		return Fresh{}, false, nil
	}
	row, err := s.store.FindLatest(ctx, category, s.cal.WindowStart(now, days))
	switch {
	case errors.Is(err, digest.ErrNotFound):
		metrics.ObserveCacheLookup(TierArchive, "miss")
		return Fresh{}, false, nil
	case err != nil:
		metrics.ObserveCacheLookup(TierArchive, "error")
		return Fresh{}, false, fmt.Errorf("find latest %s: %w", category, err)
	}
	metrics.ObserveCacheLookup(TierArchive, "hit")
	s.cache.Put(category, row.Artifact)
	return Fresh{Artifact: row.Artifact, RowID: row.ID, Tier: TierArchive}, true, nil
}

// Save caches artifact and, when archive is set, persists it. The aggregate
// category and structurally empty artifacts are never persisted. A row for
// the same category first generated inside the collision window is updated
// in place; its first-generation date stays put, so the window never slides.
func (s *Service) Save(ctx context.Context, artifact digest.Artifact, archive bool) (SaveResult, error) {
	category := artifact.Category
	s.cache.Put(category, artifact)

	log := s.logger.With(zap.String("category", category))
	switch {
	case !archive:
		return SaveResult{Skipped: "archiving not requested"}, nil
	case category == digest.AggregateCategory:
		log.Debug("aggregate category is not archived")
		metrics.ObserveArchiveWrite("skip")
		return SaveResult{Skipped: "aggregate category"}, nil
	case artifact.Empty():
		log.Info("skipping archive of empty artifact",
			zap.Bool("nothing_notable", artifact.NothingNotable),
			zap.Bool("fallback", artifact.Fallback))
		metrics.ObserveArchiveWrite("skip")
		return SaveResult{Skipped: "empty artifact"}, nil
	}

	unlock := s.lock(category)
	defer unlock()

	from := s.cal.DateString(s.cal.WindowStart(s.clock.Now(), s.windows.Collision))
	existing, err := s.store.FindCollision(ctx, category, from)
	switch {
	case err == nil:
		existing.Artifact = artifact
		if err := s.store.Update(ctx, existing); err != nil {
			metrics.ObserveArchiveWrite("error")
			return SaveResult{}, fmt.Errorf("update archive row %s: %w", existing.ID, err)
		}
		metrics.ObserveArchiveWrite("update")
		log.Info("archive row updated", zap.String("row_id", existing.ID))
		return SaveResult{RowID: existing.ID, Archived: true, Updated: true}, nil
	case !errors.Is(err, digest.ErrNotFound):
		metrics.ObserveArchiveWrite("error")
		return SaveResult{}, fmt.Errorf("find collision row: %w", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		metrics.ObserveArchiveWrite("error")
		return SaveResult{}, fmt.Errorf("new archive id: %w", err)
	}
	id, err = s.store.Insert(ctx, digest.ArchivedArtifact{
		ID:          id,
		GeneratedOn: s.cal.DateString(artifact.GeneratedAt),
		Artifact:    artifact,
	})
	if err != nil {
		metrics.ObserveArchiveWrite("error")
		return SaveResult{}, fmt.Errorf("insert archive row: %w", err)
	}
	metrics.ObserveArchiveWrite("insert")
	log.Info("archive row inserted", zap.String("row_id", id))
	return SaveResult{RowID: id, Archived: true}, nil
}

// lock serializes saves per category within this process.
func (s *Service) lock(category string) func() {
	s.mu.Lock()
	m, ok := s.locks[category]
	if !ok {
		m = &sync.Mutex{}
		s.locks[category] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Evict clears the volatile entry for category. The archive is untouched.
func (s *Service) Evict(category string) bool {
	return s.cache.Evict(category)
}

// EvictAll clears the volatile tier.
func (s *Service) EvictAll() {
	s.cache.Purge()
}

// ListHistory pages through archived artifacts generated before today.
func (s *Service) ListHistory(ctx context.Context, f digest.HistoryFilter) ([]digest.ArchivedArtifact, error) {
	today := s.cal.StartOfDay(s.clock.Now())
	if f.Before.IsZero() || f.Before.After(today) {
		f.Before = today
	}
	rows, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return rows, nil
}

// Search is ListHistory with a keyword.
func (s *Service) Search(ctx context.Context, keyword string, limit int) ([]digest.ArchivedArtifact, error) {
	return s.ListHistory(ctx, digest.HistoryFilter{Keyword: keyword, Limit: limit})
}

// GetByID returns an archived artifact. Rows generated today are reported as
// not found.
func (s *Service) GetByID(ctx context.Context, id string) (digest.ArchivedArtifact, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return digest.ArchivedArtifact{}, err
	}
	if !row.Artifact.GeneratedAt.Before(s.cal.StartOfDay(s.clock.Now())) {
		return digest.ArchivedArtifact{}, digest.ErrNotFound
	}
	return row, nil
}
