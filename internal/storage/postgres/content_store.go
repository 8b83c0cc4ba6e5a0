package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

var recordColumns = []string{
	"link", "title", "source", "topic", "kind", "excerpt", "body",
	"image_url", "published_at", "first_seen_at",
}

// ContentStore implements digest.ContentStore on a records table.
type ContentStore struct {
	db       DB
	table    string
	queryCap int
}

// NewContentStore wraps db. table defaults to "records".
func NewContentStore(db DB, table string, queryCap int) (*ContentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "records")
	if err != nil {
		return nil, err
	}
	if queryCap <= 0 {
		queryCap = digest.DefaultQueryCap
	}
	return &ContentStore{db: db, table: table, queryCap: queryCap}, nil
}

// Upsert inserts a record or overwrites its mutable fields. first_seen_at is
// never touched on conflict.
func (s *ContentStore) Upsert(ctx context.Context, r digest.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	query, args, err := psql.Insert(s.table).
		Columns(recordColumns...).
		Values(r.Link, r.Title, r.Source, r.Topic, string(r.Kind), r.Excerpt, r.Body,
			r.ImageURL, r.PublishedAt, r.FirstSeenAt).
		Suffix(`ON CONFLICT (link) DO UPDATE SET
	title = EXCLUDED.title,
	source = EXCLUDED.source,
	topic = EXCLUDED.topic,
	kind = EXCLUDED.kind,
	excerpt = EXCLUDED.excerpt,
	body = EXCLUDED.body,
	image_url = EXCLUDED.image_url,
	published_at = EXCLUDED.published_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Query returns matching records newest first, bounded by the query cap.
func (s *ContentStore) Query(ctx context.Context, f digest.RecordFilter) ([]digest.Record, error) {
	b := psql.Select(recordColumns...).From(s.table)
	if f.Source != "" {
		b = b.Where(sq.Eq{"source": f.Source})
	}
	if f.Topic != "" {
		b = b.Where(sq.Eq{"topic": f.Topic})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"published_at": f.Since})
	}
	if !f.Until.IsZero() {
		b = b.Where(sq.LtOrEq{"published_at": f.Until})
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		pattern := "%" + kw + "%"
		b = b.Where(sq.Or{sq.ILike{"title": pattern}, sq.ILike{"excerpt": pattern}})
	}
	query, args, err := b.OrderBy("published_at DESC", "link").
		Limit(uint64(f.EffectiveLimit(s.queryCap))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := make([]digest.Record, 0)
	for rows.Next() {
		var (
			r    digest.Record
			kind string
		)
		if err := rows.Scan(&r.Link, &r.Title, &r.Source, &r.Topic, &kind, &r.Excerpt, &r.Body,
			&r.ImageURL, &r.PublishedAt, &r.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = digest.Kind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Sweep deletes records published before horizon.
func (s *ContentStore) Sweep(ctx context.Context, horizon time.Time) (int64, error) {
	query, args, err := psql.Delete(s.table).Where(sq.Lt{"published_at": horizon}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sweep: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sweep records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the pool.
func (s *ContentStore) Close() {
	s.db.Close()
}
