package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (w *captureWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func TestPutObjectAppliesPrefix(t *testing.T) {
	t.Parallel()

	var (
		gotKey, gotType string
		w               = &captureWriter{}
	)
	store, err := newStore(Config{Bucket: "digests", Prefix: "/snapshots/"},
		func(_ context.Context, bucket, key, contentType string) io.WriteCloser {
			require.Equal(t, "digests", bucket)
			gotKey, gotType = key, contentType
			return w
		})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "2026-06-01/run.json", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	require.Equal(t, "gs://digests/snapshots/2026-06-01/run.json", uri)
	require.Equal(t, "snapshots/2026-06-01/run.json", gotKey)
	require.Equal(t, "application/json", gotType)
	require.Equal(t, "{}", w.String())
	require.True(t, w.closed)
}

func TestPutObjectCloseError(t *testing.T) {
	t.Parallel()

	store, err := newStore(Config{Bucket: "b"}, func(context.Context, string, string, string) io.WriteCloser {
		return &captureWriter{closeErr: errors.New("quota exceeded")}
	})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "x.json", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "quota exceeded")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = newStore(Config{}, nil)
	require.Error(t, err)

	store, err := newStore(Config{Bucket: "b"}, nil)
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.Error(t, err)
}
