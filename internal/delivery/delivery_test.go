package delivery

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
	"github.com/tvivaldelli/signal-daily-digest/internal/retry"
)

type stubChannel struct {
	name  string
	errs  []error
	calls int
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(context.Context, digest.Artifact) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

var fastPolicy = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}

func TestDeliverNotConfigured(t *testing.T) {
	t.Parallel()

	status := New(nil, fastPolicy, nil).Deliver(context.Background(), digest.Artifact{})
	assert.Equal(t, digest.Failed(ReasonNotConfigured), status)
}

func TestDeliverAllChannelsSent(t *testing.T) {
	t.Parallel()

	a := &stubChannel{name: "a"}
	b := &stubChannel{name: "b", errs: []error{errors.New("blip")}}
	status := New([]Channel{a, b}, fastPolicy, nil).Deliver(context.Background(), digest.Artifact{})
	assert.True(t, status.OK())
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 2, b.calls)
}

func TestDeliverJoinsFailures(t *testing.T) {
	t.Parallel()

	ok := &stubChannel{name: "ok"}
	bad := &stubChannel{name: "bad", errs: []error{
		&fetcher.StatusError{URL: "x", StatusCode: http.StatusForbidden},
	}}
	down := &stubChannel{name: "down", errs: []error{errors.New("e1"), errors.New("e2")}}

	status := New([]Channel{bad, ok, down}, fastPolicy, nil).Deliver(context.Background(), digest.Artifact{})
	require.False(t, status.OK())
	assert.Contains(t, status.Reason, "bad: ")
	assert.Contains(t, status.Reason, "down: ")
	assert.NotContains(t, status.Reason, "ok: ")
	assert.Equal(t, 1, bad.calls, "permanent status is not retried")
	assert.Equal(t, 2, down.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestRunIDContext(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", RunID(context.Background()))
	assert.Equal(t, "r1", RunID(WithRunID(context.Background(), "r1")))
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	cal := digest.NewCalendar(nil)
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	empty := RenderMarkdown(digest.NothingNotableArtifact("tech", at, digest.DateRange{}), cal)
	assert.Contains(t, empty, "Nothing notable")
	assert.Contains(t, empty, "2026-06-01")

	fb := RenderMarkdown(digest.FallbackArtifact("tech", []digest.Record{{Source: "a"}}, at, digest.DateRange{}), cal)
	assert.Contains(t, fb, "Summary unavailable. 1 articles from 1 sources")

	full := RenderMarkdown(digest.Artifact{
		Category:    "tech",
		Digest:      []string{"a*b"},
		Insights:    []digest.Insight{{Theme: "Tooling", Note: "Bazel"}},
		Rollup:      []string{"weekly"},
		GeneratedAt: at,
	}, cal)
	assert.Contains(t, full, `a\*b`)
	assert.Contains(t, full, "*Worth noting*")
	assert.Contains(t, full, "*This week*\n• weekly")
}
