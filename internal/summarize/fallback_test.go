package summarize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvivaldelli/signal-daily-digest/internal/clock"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

func TestFallback(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	f := Fallback{Clock: clock.NewManual(now)}

	got, err := f.Summarize(context.Background(), "tech", []digest.Record{{Source: "a"}, {Source: "b"}})
	require.NoError(t, err)
	assert.True(t, got.Fallback)
	assert.Equal(t, 2, got.ArticleCount)
	assert.Equal(t, 2, got.SourceCount)
	assert.Equal(t, now, got.GeneratedAt)

	bullets, err := f.Rollup(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, bullets)
}
