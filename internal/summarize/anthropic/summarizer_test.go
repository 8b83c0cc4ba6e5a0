package anthropic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aktagon/llmkit/anthropic/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

func records() []digest.Record {
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	return []digest.Record{
		{Link: "https://a.example/1", Title: "Rust 2.0 announced", Source: "lobsters", Topic: "tech", Excerpt: "big release", PublishedAt: at},
		{Link: "https://b.example/2", Title: "GPU prices fall", Source: "hn", PublishedAt: at},
		{Link: "https://b.example/3", Title: "Another HN story", Source: "hn", PublishedAt: at},
	}
}

func TestSummarizeParsesReply(t *testing.T) {
	t.Parallel()

	var gotSchema, gotUser string
	var gotSettings types.RequestSettings
	s := newSummarizer(Config{Model: "test-model", MaxTokens: 100}, nil,
		func(_, user, schema string, settings types.RequestSettings) (string, error) {
			gotUser, gotSchema, gotSettings = user, schema, settings
			return "```json\n" + `{"digest":["Rust ships 2.0"],"signals":[{"title":"GPU","summary":"prices down","link":"https://b.example/2"}],"insights":null}` + "\n```", nil
		})

	got, err := s.Summarize(context.Background(), "tech", records())
	require.NoError(t, err)
	assert.Equal(t, []string{"Rust ships 2.0"}, got.Digest)
	require.Len(t, got.Signals, 1)
	assert.Equal(t, "prices down", got.Signals[0].Summary)
	assert.NotNil(t, got.Insights)
	assert.Equal(t, 3, got.ArticleCount)
	assert.Equal(t, 2, got.SourceCount)
	assert.Equal(t, "tech", got.Category)

	assert.Contains(t, gotSchema, `"signals"`)
	assert.Contains(t, gotUser, "Rust 2.0 announced")
	assert.Contains(t, gotUser, "link: https://a.example/1")
	assert.Equal(t, "test-model", gotSettings.Model)
	assert.Equal(t, 100, gotSettings.MaxTokens)
}

func TestSummarizeCapsRecords(t *testing.T) {
	t.Parallel()

	s := newSummarizer(Config{MaxRecords: 2}, nil, func(string, string, string, types.RequestSettings) (string, error) {
		return `{"digest":[],"signals":[],"insights":[]}`, nil
	})
	got, err := s.Summarize(context.Background(), "tech", records())
	require.NoError(t, err)
	assert.Equal(t, 2, got.ArticleCount)
}

func TestSummarizeErrors(t *testing.T) {
	t.Parallel()

	s := newSummarizer(Config{}, nil, func(string, string, string, types.RequestSettings) (string, error) {
		return "", errors.New("overloaded")
	})
	_, err := s.Summarize(context.Background(), "tech", records())
	require.ErrorContains(t, err, "overloaded")

	s = newSummarizer(Config{}, nil, func(string, string, string, types.RequestSettings) (string, error) {
		return "not json", nil
	})
	_, err = s.Summarize(context.Background(), "tech", records())
	require.ErrorContains(t, err, "parse summary")
}

func TestSummarizeHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	s := newSummarizer(Config{}, nil, func(string, string, string, types.RequestSettings) (string, error) {
		<-release
		return "{}", nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Summarize(ctx, "tech", records())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRollup(t *testing.T) {
	t.Parallel()

	var gotUser string
	s := newSummarizer(Config{}, nil, func(_, user, _ string, _ types.RequestSettings) (string, error) {
		gotUser = user
		return `{"bullets":["Rust keeps coming up","GPU supply easing"]}`, nil
	})
	history := []digest.ArchivedArtifact{{
		ID: "r1",
		Artifact: digest.Artifact{
			Category:    "tech",
			Digest:      []string{"Rust ships 2.0"},
			GeneratedAt: time.Date(2026, 5, 30, 12, 0, 0, 0, time.UTC),
		},
	}}
	bullets, err := s.Rollup(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rust keeps coming up", "GPU supply easing"}, bullets)
	assert.Contains(t, gotUser, "## 2026-05-30 (tech)")

	bullets, err = s.Rollup(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, bullets)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, nil)
	require.Error(t, err)
}
