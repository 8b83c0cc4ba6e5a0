package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "digest-agent", Timeout: time.Second}, nil)
	collector := f.buildCollector(fetcher.Request{URL: "https://example.com"}, time.Unix(0, 0), &fetcher.Response{}, new(error))
	if collector.UserAgent != "digest-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be ignored by default")
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected revisits to be allowed")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	req := fetcher.Request{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result fetcher.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if result.StatusCode != http.StatusOK || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("Service Unavailable"))
	var se *fetcher.StatusError
	if !errors.As(fetchErr, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status error, got %v", fetchErr)
	}
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte("<rss></rss>"))
	}))
	defer srv.Close()

	waiter := &countingWaiter{}
	f := New(Config{Timeout: 2 * time.Second}, waiter)

	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL + "/feed"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<rss></rss>", string(resp.Body))

	// Same URL again: revisits must not be rejected.
	_, err = f.Fetch(context.Background(), fetcher.Request{URL: srv.URL + "/feed"})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), fetcher.Request{URL: srv.URL + "/missing"})
	var se *fetcher.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.False(t, fetcher.IsRetryable(err))

	assert.Equal(t, int32(3), atomic.LoadInt32(&waiter.calls))
}

type countingWaiter struct {
	calls int32
}

func (w *countingWaiter) Wait(context.Context, string) error {
	atomic.AddInt32(&w.calls, 1)
	return nil
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
