package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

func newArchiveStore(t *testing.T) (*ArchiveStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	cal, err := digest.LoadCalendar("America/New_York")
	require.NoError(t, err)
	store, err := NewArchiveStore(mock, "artifacts", cal)
	require.NoError(t, err)
	return store, mock
}

func artifactRow(mock pgxmock.PgxPoolIface, id string, at time.Time) *pgxmock.Rows {
	return mock.NewRows(artifactColumns).AddRow(
		id, "tech", at.Truncate(24*time.Hour), at,
		[]byte(`["Rust keeps growing"]`),
		[]byte(`[{"title":"GPU prices","summary":"falling"}]`),
		[]byte(`[]`),
		[]byte(`[]`),
		false, false, 12, 4,
		at.Add(-24*time.Hour), at,
	)
}

func TestArchiveStoreInsertUsesCivilDate(t *testing.T) {
	t.Parallel()
	store, mock := newArchiveStore(t)

	// 03:00 UTC on the 2nd is the evening of the 1st in New York.
	at := time.Date(2026, 6, 2, 3, 0, 0, 0, time.UTC)
	row := digest.ArchivedArtifact{
		ID: "row-1",
		Artifact: digest.Artifact{
			Category:    "tech",
			Digest:      []string{"one"},
			GeneratedAt: at,
		},
	}

	mock.ExpectQuery(`(?s)INSERT INTO artifacts .* ON CONFLICT \(category, generated_on\) DO UPDATE SET.*RETURNING id`).
		WithArgs("row-1", "tech", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), at,
			[]byte(`["one"]`), []byte(`[]`), []byte(`[]`), []byte(`[]`),
			false, false, 0, 0, time.Time{}, time.Time{}).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("row-0"))

	id, err := store.Insert(context.Background(), row)
	require.NoError(t, err)
	require.Equal(t, "row-0", id, "conflicting insert folds into the existing row")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveStoreUpdateMissingRow(t *testing.T) {
	t.Parallel()
	store, mock := newArchiveStore(t)

	mock.ExpectExec(`UPDATE artifacts SET .* WHERE id = \$12`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Update(context.Background(), digest.ArchivedArtifact{ID: "ghost"})
	require.ErrorIs(t, err, digest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveStoreFindLatest(t *testing.T) {
	t.Parallel()
	store, mock := newArchiveStore(t)

	since := time.Unix(1700000000, 0).UTC()
	at := since.Add(2 * time.Hour)

	mock.ExpectQuery(`SELECT .* FROM artifacts WHERE category = \$1 AND generated_at >= \$2 ORDER BY generated_at DESC LIMIT 1`).
		WithArgs("tech", since).
		WillReturnRows(artifactRow(mock, "row-9", at))

	got, err := store.FindLatest(context.Background(), "tech", since)
	require.NoError(t, err)
	require.Equal(t, "row-9", got.ID)
	require.Equal(t, []string{"Rust keeps growing"}, got.Artifact.Digest)
	require.Len(t, got.Artifact.Signals, 1)
	require.Equal(t, 12, got.Artifact.ArticleCount)
	require.Nil(t, got.Artifact.Rollup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveStoreFindLatestNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newArchiveStore(t)

	mock.ExpectQuery("SELECT").
		WillReturnRows(mock.NewRows(artifactColumns))

	_, err := store.FindLatest(context.Background(), "tech", time.Now())
	require.ErrorIs(t, err, digest.ErrNotFound)
}

func TestArchiveStoreFindCollisionFiltersOnGeneratedOn(t *testing.T) {
	t.Parallel()
	store, mock := newArchiveStore(t)

	at := time.Date(2026, 6, 3, 11, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM artifacts WHERE category = \$1 AND generated_on >= \$2 ORDER BY generated_at DESC LIMIT 1`).
		WithArgs("tech", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(artifactRow(mock, "row-5", at))

	got, err := store.FindCollision(context.Background(), "tech", "2026-06-01")
	require.NoError(t, err)
	require.Equal(t, "row-5", got.ID)
	require.Equal(t, "2026-06-03", got.GeneratedOn)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = store.FindCollision(context.Background(), "tech", "June 1")
	require.ErrorContains(t, err, "parse collision date")
}

func TestArchiveStoreGet(t *testing.T) {
	t.Parallel()
	store, mock := newArchiveStore(t)

	mock.ExpectQuery(`SELECT .* FROM artifacts WHERE id = \$1`).
		WithArgs("row-3").
		WillReturnRows(artifactRow(mock, "row-3", time.Unix(1700000000, 0).UTC()))

	got, err := store.Get(context.Background(), "row-3")
	require.NoError(t, err)
	require.Equal(t, "tech", got.Artifact.Category)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveStoreListFilters(t *testing.T) {
	t.Parallel()
	store, mock := newArchiveStore(t)

	before := time.Unix(1700000000, 0).UTC()
	rows := artifactRow(mock, "row-1", before.Add(-time.Hour))
	rows.AddRow(
		"row-2", "tech", before, before.Add(-48*time.Hour),
		[]byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`["weekly rust"]`),
		false, false, 3, 1, before, before,
	)

	mock.ExpectQuery(`SELECT .* FROM artifacts WHERE category = \$1 AND generated_at < \$2 AND \(digest::text ILIKE \$3 OR rollup::text ILIKE \$4 OR signals::text ILIKE \$5 OR insights::text ILIKE \$6\) ORDER BY generated_at DESC LIMIT 5 OFFSET 10`).
		WithArgs("tech", before, "%rust%", "%rust%", "%rust%", "%rust%").
		WillReturnRows(rows)

	got, err := store.List(context.Background(), digest.HistoryFilter{
		Category: "tech",
		Keyword:  "rust",
		Before:   before,
		Limit:    5,
		Offset:   10,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []string{"weekly rust"}, got[1].Artifact.Rollup)
	require.NoError(t, mock.ExpectationsWereMet())
}
