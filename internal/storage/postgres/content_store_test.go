package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

func TestContentStoreUpsertKeepsFirstSeen(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock, "records", 50)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := digest.Record{
		Link:        "https://example.com/a",
		Title:       "A headline",
		Source:      "example",
		Topic:       "tech",
		Kind:        digest.KindStandard,
		Excerpt:     "short",
		PublishedAt: now,
		FirstSeenAt: now,
	}

	mock.ExpectExec(`INSERT INTO records .* ON CONFLICT \(link\) DO UPDATE SET`).
		WithArgs(rec.Link, rec.Title, rec.Source, rec.Topic, "standard", rec.Excerpt, "",
			"", rec.PublishedAt, rec.FirstSeenAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentStoreUpsertRejectsEmptyLink(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock, "", 0)
	require.NoError(t, err)

	err = store.Upsert(context.Background(), digest.Record{Title: "no link"})
	require.ErrorIs(t, err, digest.ErrInvalidRecord)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentStoreQueryAppliesFilters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock, "records", 25)
	require.NoError(t, err)

	since := time.Unix(1700000000, 0).UTC()
	published := since.Add(time.Hour)
	rows := mock.NewRows(recordColumns).
		AddRow("https://example.com/a", "Rust 2.0", "lobsters", "tech", "standard",
			"excerpt", "", "", published, since)

	mock.ExpectQuery(`SELECT .* FROM records WHERE source = \$1 AND published_at >= \$2 AND \(title ILIKE \$3 OR excerpt ILIKE \$4\) ORDER BY published_at DESC, link LIMIT 25`).
		WithArgs("lobsters", since, "%rust%", "%rust%").
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), digest.RecordFilter{
		Source:  "lobsters",
		Since:   since,
		Keyword: "rust",
		Limit:   500,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, digest.KindStandard, got[0].Kind)
	require.Equal(t, published, got[0].PublishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContentStoreQueryPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock, "records", 0)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err = store.Query(context.Background(), digest.RecordFilter{})
	require.ErrorContains(t, err, "connection reset")
}

func TestContentStoreSweepReturnsRowsAffected(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewContentStore(mock, "records", 0)
	require.NoError(t, err)

	horizon := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec(`DELETE FROM records WHERE published_at < \$1`).
		WithArgs(horizon).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.Sweep(context.Background(), horizon)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewContentStoreValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewContentStore(mock, "records; DROP TABLE x", 0)
	require.Error(t, err)

	_, err = NewContentStore(nil, "records", 0)
	require.Error(t, err)
}
