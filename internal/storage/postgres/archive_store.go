package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

var artifactColumns = []string{
	"id", "category", "generated_on", "generated_at", "digest", "signals", "insights",
	"rollup", "nothing_notable", "fallback", "article_count", "source_count",
	"window_start", "window_end",
}

// ArchiveStore implements digest.ArchiveStore on an artifacts table with a
// unique (category, generated_on) constraint.
type ArchiveStore struct {
	db    DB
	table string
	cal   digest.Calendar
}

// NewArchiveStore wraps db. cal determines the civil date stored in
// generated_on. table defaults to "artifacts".
func NewArchiveStore(db DB, table string, cal digest.Calendar) (*ArchiveStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "artifacts")
	if err != nil {
		return nil, err
	}
	return &ArchiveStore{db: db, table: table, cal: cal}, nil
}

type encodedArtifact struct {
	digest, signals, insights, rollup []byte
}

func encodeArtifact(a digest.Artifact) (encodedArtifact, error) {
	var (
		out encodedArtifact
		err error
	)
	if out.digest, err = json.Marshal(nonNil(a.Digest)); err != nil {
		return out, fmt.Errorf("encode digest: %w", err)
	}
	if out.signals, err = json.Marshal(nonNil(a.Signals)); err != nil {
		return out, fmt.Errorf("encode signals: %w", err)
	}
	if out.insights, err = json.Marshal(nonNil(a.Insights)); err != nil {
		return out, fmt.Errorf("encode insights: %w", err)
	}
	if out.rollup, err = json.Marshal(nonNil(a.Rollup)); err != nil {
		return out, fmt.Errorf("encode rollup: %w", err)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// generatedOn maps the civil date of t to a midnight-UTC value for the DATE column.
func (s *ArchiveStore) generatedOn(t time.Time) time.Time {
	local := t.In(s.cal.Location())
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Insert stores row. A second insert for the same category and civil day
// overwrites the existing row and returns its ID.
func (s *ArchiveStore) Insert(ctx context.Context, row digest.ArchivedArtifact) (string, error) {
	if row.ID == "" {
		return "", fmt.Errorf("archive row id is required")
	}
	a := row.Artifact
	enc, err := encodeArtifact(a)
	if err != nil {
		return "", err
	}
	query, args, err := psql.Insert(s.table).
		Columns(artifactColumns...).
		Values(row.ID, a.Category, s.generatedOn(a.GeneratedAt), a.GeneratedAt,
			enc.digest, enc.signals, enc.insights, enc.rollup,
			a.NothingNotable, a.Fallback, a.ArticleCount, a.SourceCount,
			a.Range.Start, a.Range.End).
		Suffix(`ON CONFLICT (category, generated_on) DO UPDATE SET
	generated_at = EXCLUDED.generated_at,
	digest = EXCLUDED.digest,
	signals = EXCLUDED.signals,
	insights = EXCLUDED.insights,
	rollup = EXCLUDED.rollup,
	nothing_notable = EXCLUDED.nothing_notable,
	fallback = EXCLUDED.fallback,
	article_count = EXCLUDED.article_count,
	source_count = EXCLUDED.source_count,
	window_start = EXCLUDED.window_start,
	window_end = EXCLUDED.window_end
RETURNING id`).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert: %w", err)
	}
	var id string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return id, nil
}

// Update overwrites the row identified by row.ID.
func (s *ArchiveStore) Update(ctx context.Context, row digest.ArchivedArtifact) error {
	a := row.Artifact
	enc, err := encodeArtifact(a)
	if err != nil {
		return err
	}
	query, args, err := psql.Update(s.table).
		SetMap(map[string]any{
			"generated_at":    a.GeneratedAt,
			"digest":          enc.digest,
			"signals":         enc.signals,
			"insights":        enc.insights,
			"rollup":          enc.rollup,
			"nothing_notable": a.NothingNotable,
			"fallback":        a.Fallback,
			"article_count":   a.ArticleCount,
			"source_count":    a.SourceCount,
			"window_start":    a.Range.Start,
			"window_end":      a.Range.End,
		}).
		Where(sq.Eq{"id": row.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return digest.ErrNotFound
	}
	return nil
}

// FindLatest returns the newest row for category generated at or after since.
func (s *ArchiveStore) FindLatest(ctx context.Context, category string, since time.Time) (digest.ArchivedArtifact, error) {
	query, args, err := psql.Select(artifactColumns...).From(s.table).
		Where(sq.Eq{"category": category}).
		Where(sq.GtOrEq{"generated_at": since}).
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
	day, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return digest.ArchivedArtifact{}, fmt.Errorf("parse collision date %q: %w", from, err)
	}
	query, args, err := psql.Select(artifactColumns...).From(s.table).
		Where(sq.Eq{"category": category}).
		Where(sq.GtOrEq{"generated_on": day}).
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
	query, args, err := psql.Select(artifactColumns...).From(s.table).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return digest.ArchivedArtifact{}, fmt.Errorf("build get: %w", err)
	}
	return s.one(ctx, query, args)
}

// List pages through rows newest first. The keyword is matched against the
// JSON text of the digest, rollup, signals and insights columns.
func (s *ArchiveStore) List(ctx context.Context, f digest.HistoryFilter) ([]digest.ArchivedArtifact, error) {
	b := psql.Select(artifactColumns...).From(s.table)
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": f.Category})
	}
	if !f.Before.IsZero() {
		b = b.Where(sq.Lt{"generated_at": f.Before})
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		pattern := "%" + kw + "%"
		b = b.Where(sq.Or{
			sq.ILike{"digest::text": pattern},
			sq.ILike{"rollup::text": pattern},
			sq.ILike{"signals::text": pattern},
			sq.ILike{"insights::text": pattern},
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
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]digest.ArchivedArtifact, 0)
	for rows.Next() {
		row, err := scanArtifact(rows)
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
	row, err := scanArtifact(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return digest.ArchivedArtifact{}, digest.ErrNotFound
	}
	return row, err
}

func scanArtifact(row pgx.Row) (digest.ArchivedArtifact, error) {
	var (
		out                      digest.ArchivedArtifact
		generatedOn              time.Time
		digestJSON, signalsJSON  []byte
		insightsJSON, rollupJSON []byte
		a                        = &out.Artifact
	)
	err := row.Scan(&out.ID, &a.Category, &generatedOn, &a.GeneratedAt,
		&digestJSON, &signalsJSON, &insightsJSON, &rollupJSON,
		&a.NothingNotable, &a.Fallback, &a.ArticleCount, &a.SourceCount,
		&a.Range.Start, &a.Range.End)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, err
		}
		return out, fmt.Errorf("scan artifact: %w", err)
	}
	out.GeneratedOn = generatedOn.Format(time.DateOnly)
	if err := decodeColumns(a, digestJSON, signalsJSON, insightsJSON, rollupJSON); err != nil {
		return out, err
	}
	return out, nil
}

func decodeColumns(a *digest.Artifact, digestJSON, signalsJSON, insightsJSON, rollupJSON []byte) error {
	if err := json.Unmarshal(digestJSON, &a.Digest); err != nil {
		return fmt.Errorf("decode digest: %w", err)
	}
	if err := json.Unmarshal(signalsJSON, &a.Signals); err != nil {
		return fmt.Errorf("decode signals: %w", err)
	}
	if err := json.Unmarshal(insightsJSON, &a.Insights); err != nil {
		return fmt.Errorf("decode insights: %w", err)
	}
	if err := json.Unmarshal(rollupJSON, &a.Rollup); err != nil {
		return fmt.Errorf("decode rollup: %w", err)
	}
	if len(a.Rollup) == 0 {
		a.Rollup = nil
	}
	return nil
}

// Close releases the pool.
func (s *ArchiveStore) Close() {
	s.db.Close()
}
