package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

var _ digest.ContentStore = (*ContentStore)(nil)

// ContentStore implements digest.ContentStore. Timestamps are stored as Unix
// nanoseconds.
type ContentStore struct {
	db       *sql.DB
	queryCap int
}

// NewContentStore wraps an opened database.
func NewContentStore(db *sql.DB, queryCap int) *ContentStore {
	if queryCap <= 0 {
		queryCap = digest.DefaultQueryCap
	}
	return &ContentStore{db: db, queryCap: queryCap}
}

// Upsert inserts r or refreshes its mutable fields, keeping first_seen_at.
func (s *ContentStore) Upsert(ctx context.Context, r digest.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	query, args, err := builder.Insert("records").
		Columns("link", "title", "source", "topic", "kind", "excerpt", "body",
			"image_url", "published_at", "first_seen_at").
		Values(r.Link, r.Title, r.Source, r.Topic, string(r.Kind), r.Excerpt, r.Body,
			r.ImageURL, r.PublishedAt.UnixNano(), r.FirstSeenAt.UnixNano()).
		Suffix(`ON CONFLICT(link) DO UPDATE SET
	title = excluded.title,
	source = excluded.source,
	topic = excluded.topic,
	kind = excluded.kind,
	excerpt = excluded.excerpt,
	body = excluded.body,
	image_url = excluded.image_url,
	published_at = excluded.published_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Query returns matching records newest first.
func (s *ContentStore) Query(ctx context.Context, f digest.RecordFilter) ([]digest.Record, error) {
	b := builder.Select("link", "title", "source", "topic", "kind", "excerpt", "body",
		"image_url", "published_at", "first_seen_at").From("records")
	if f.Source != "" {
		b = b.Where(sq.Eq{"source": f.Source})
	}
	if f.Topic != "" {
		b = b.Where(sq.Eq{"topic": f.Topic})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"published_at": f.Since.UnixNano()})
	}
	if !f.Until.IsZero() {
		b = b.Where(sq.LtOrEq{"published_at": f.Until.UnixNano()})
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		pattern := "%" + kw + "%"
		// LIKE is case-insensitive for ASCII in SQLite.
		b = b.Where(sq.Or{sq.Like{"title": pattern}, sq.Like{"excerpt": pattern}})
	}
	query, args, err := b.OrderBy("published_at DESC", "link").
		Limit(uint64(f.EffectiveLimit(s.queryCap))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := make([]digest.Record, 0)
	for rows.Next() {
		var (
			r                    digest.Record
			kind                 string
			published, firstSeen int64
		)
		if err := rows.Scan(&r.Link, &r.Title, &r.Source, &r.Topic, &kind, &r.Excerpt, &r.Body,
			&r.ImageURL, &published, &firstSeen); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = digest.Kind(kind)
		r.PublishedAt = time.Unix(0, published).UTC()
		r.FirstSeenAt = time.Unix(0, firstSeen).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Sweep deletes records published before horizon.
func (s *ContentStore) Sweep(ctx context.Context, horizon time.Time) (int64, error) {
	query, args, err := builder.Delete("records").Where(sq.Lt{"published_at": horizon.UnixNano()}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sweep: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sweep records: %w", err)
	}
	return res.RowsAffected()
}
