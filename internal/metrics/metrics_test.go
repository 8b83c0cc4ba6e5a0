package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if sourceFetchTotal == nil || runsTotal == nil || cacheLookupsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	ObserveSourceFetch("metrics-test-feed", "ok", 120*time.Millisecond)
	if val := testutil.ToFloat64(sourceFetchTotal.WithLabelValues("metrics-test-feed", "ok")); val != 1 {
		t.Errorf("expected one fetch observation, got %f", val)
	}

	AddRecordsUpserted("metrics-test-feed", 4)
	AddRecordsUpserted("metrics-test-feed", 0)
	if val := testutil.ToFloat64(recordsUpsertedTotal.WithLabelValues("metrics-test-feed")); val != 4 {
		t.Errorf("expected 4 upserts, got %f", val)
	}

	before := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("archive", "hit"))
	ObserveCacheLookup("archive", "hit")
	if val := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("archive", "hit")); val != before+1 {
		t.Errorf("expected archive hit to increase, got %f", val)
	}

	IncFetchInFlight()
	DecFetchInFlight()
	if val := testutil.ToFloat64(fetchInFlight); val != 0 {
		t.Errorf("expected in-flight gauge to return to 0, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
