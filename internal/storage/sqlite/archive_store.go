package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

var _ digest.ArchiveStore = (*ArchiveStore)(nil)

const artifactSelect = "id, category, generated_on, generated_at, digest, signals, insights, rollup, " +
	"nothing_notable, fallback, article_count, source_count, window_start, window_end"

// ArchiveStore implements digest.ArchiveStore. generated_on holds the civil
// date under the calendar the store was built with.
type ArchiveStore struct {
	db  *sql.DB
	cal digest.Calendar
}

// NewArchiveStore wraps an opened database.
func NewArchiveStore(db *sql.DB, cal digest.Calendar) *ArchiveStore {
	return &ArchiveStore{db: db, cal: cal}
}

type columns struct {
	digest, signals, insights, rollup string
}

func encode(a digest.Artifact) (columns, error) {
	var c columns
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&c.digest, orEmpty(a.Digest)},
		{&c.signals, orEmpty(a.Signals)},
		{&c.insights, orEmpty(a.Insights)},
		{&c.rollup, orEmpty(a.Rollup)},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return c, fmt.Errorf("encode artifact: %w", err)
		}
		*f.dst = string(b)
	}
	return c, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *ArchiveStore) generatedOn(row digest.ArchivedArtifact) string {
	if row.GeneratedOn != "" {
		return row.GeneratedOn
	}
	return s.cal.DateString(row.Artifact.GeneratedAt)
}

// Insert stores row, folding a same-day insert for the category into the
// existing row. The returned ID is the row that holds the artifact.
func (s *ArchiveStore) Insert(ctx context.Context, row digest.ArchivedArtifact) (string, error) {
	if row.ID == "" {
		return "", fmt.Errorf("archive row id is required")
	}
	a := row.Artifact
	c, err := encode(a)
	if err != nil {
		return "", err
	}
	query, args, err := builder.Insert("artifacts").
		Columns("id", "category", "generated_on", "generated_at", "digest", "signals",
			"insights", "rollup", "nothing_notable", "fallback", "article_count",
			"source_count", "window_start", "window_end").
		Values(row.ID, a.Category, s.generatedOn(row), a.GeneratedAt.UnixNano(),
			c.digest, c.signals, c.insights, c.rollup, boolInt(a.NothingNotable),
			boolInt(a.Fallback), a.ArticleCount, a.SourceCount,
			a.Range.Start.UnixNano(), a.Range.End.UnixNano()).
		Suffix(`ON CONFLICT(category, generated_on) DO UPDATE SET
	generated_at = excluded.generated_at,
	digest = excluded.digest,
	signals = excluded.signals,
	insights = excluded.insights,
	rollup = excluded.rollup,
	nothing_notable = excluded.nothing_notable,
	fallback = excluded.fallback,
	article_count = excluded.article_count,
	source_count = excluded.source_count,
	window_start = excluded.window_start,
	window_end = excluded.window_end
RETURNING id`).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert: %w", err)
	}
	var id string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return id, nil
}

// Update overwrites the row identified by row.ID.
func (s *ArchiveStore) Update(ctx context.Context, row digest.ArchivedArtifact) error {
	a := row.Artifact
	c, err := encode(a)
	if err != nil {
		return err
	}
	query, args, err := builder.Update("artifacts").
		SetMap(map[string]any{
			"generated_at":    a.GeneratedAt.UnixNano(),
			"digest":          c.digest,
			"signals":         c.signals,
			"insights":        c.insights,
			"rollup":          c.rollup,
			"nothing_notable": boolInt(a.NothingNotable),
			"fallback":        boolInt(a.Fallback),
			"article_count":   a.ArticleCount,
			"source_count":    a.SourceCount,
			"window_start":    a.Range.Start.UnixNano(),
			"window_end":      a.Range.End.UnixNano(),
		}).
		Where(sq.Eq{"id": row.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	if n == 0 {
		return digest.ErrNotFound
	}
	return nil
}

// FindLatest returns the newest row for category generated at or after since.
func (s *ArchiveStore) FindLatest(ctx context.Context, category string, since time.Time) (digest.ArchivedArtifact, error) {
	query, args, err := builder.Select(artifactSelect).From("artifacts").
		Where(sq.Eq{"category": category}).
		Where(sq.GtOrEq{"generated_at": since.UnixNano()}).
		OrderBy("generated_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return digest.ArchivedArtifact{}, fmt.Errorf("build find latest: %w", err)
	}
	return s.one(ctx, query, args)
}

// FindCollision returns the newest row for category whose generated_on is on
// or after from. Update leaves generated_on untouched.
func (s *ArchiveStore) FindCollision(ctx context.Context, category, from string) (digest.ArchivedArtifact, error) {
	query, args, err := builder.Select(artifactSelect).From("artifacts").
		Where(sq.Eq{"category": category}).
		Where(sq.GtOrEq{"generated_on": from}).
		OrderBy("generated_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return digest.ArchivedArtifact{}, fmt.Errorf("build find collision: %w", err)
	}
	return s.one(ctx, query, args)
}

// Get returns the row with id.
func (s *ArchiveStore) Get(ctx context.Context, id string) (digest.ArchivedArtifact, error) {
	query, args, err := builder.Select(artifactSelect).From("artifacts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return digest.ArchivedArtifact{}, fmt.Errorf("build get: %w", err)
	}
	return s.one(ctx, query, args)
}

// List pages through rows newest first.
func (s *ArchiveStore) List(ctx context.Context, f digest.HistoryFilter) ([]digest.ArchivedArtifact, error) {
	b := builder.Select(artifactSelect).From("artifacts")
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": f.Category})
	}
	if !f.Before.IsZero() {
		b = b.Where(sq.Lt{"generated_at": f.Before.UnixNano()})
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		pattern := "%" + kw + "%"
		b = b.Where(sq.Or{
			sq.Like{"digest": pattern},
			sq.Like{"rollup": pattern},
			sq.Like{"signals": pattern},
			sq.Like{"insights": pattern},
		})
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query, args, err := b.OrderBy("generated_at DESC").
		Limit(uint64(f.EffectiveLimit())).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]digest.ArchivedArtifact, 0)
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

func (s *ArchiveStore) one(ctx context.Context, query string, args []any) (digest.ArchivedArtifact, error) {
	row, err := scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return digest.ArchivedArtifact{}, digest.ErrNotFound
	}
	return row, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (digest.ArchivedArtifact, error) {
	var (
		out                      digest.ArchivedArtifact
		generatedAt, start, end  int64
		nothingNotable, fallback int
		digestJSON, signalsJSON  string
		insightsJSON, rollupJSON string
	)
	a := &out.Artifact
	err := r.Scan(&out.ID, &a.Category, &out.GeneratedOn, &generatedAt, &digestJSON, &signalsJSON,
		&insightsJSON, &rollupJSON, &nothingNotable, &fallback, &a.ArticleCount,
		&a.SourceCount, &start, &end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, err
		}
		return out, fmt.Errorf("scan artifact: %w", err)
	}
	a.GeneratedAt = time.Unix(0, generatedAt).UTC()
	a.Range = digest.DateRange{Start: time.Unix(0, start).UTC(), End: time.Unix(0, end).UTC()}
	a.NothingNotable = nothingNotable != 0
	a.Fallback = fallback != 0

	for _, f := range []struct {
		src string
		dst any
	}{
		{digestJSON, &a.Digest},
		{signalsJSON, &a.Signals},
		{insightsJSON, &a.Insights},
		{rollupJSON, &a.Rollup},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return out, fmt.Errorf("decode artifact: %w", err)
		}
	}
	if len(a.Rollup) == 0 {
		a.Rollup = nil
	}
	return out, nil
}
