package digest

import (
	"errors"
	"testing"
	"time"
)

func TestRecordValidate(t *testing.T) {
	t.Parallel()

	if err := (Record{Link: "https://example.com/a"}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	err := (Record{Link: "   "}).Validate()
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestRecordFilterEffectiveLimit(t *testing.T) {
	t.Parallel()

	if got := (RecordFilter{}).EffectiveLimit(0); got != DefaultQueryCap {
		t.Fatalf("expected default cap, got %d", got)
	}
	if got := (RecordFilter{Limit: 10}).EffectiveLimit(50); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	if got := (RecordFilter{Limit: 500}).EffectiveLimit(50); got != 50 {
		t.Fatalf("expected cap 50, got %d", got)
	}
}

func TestArtifactVariants(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	window := DateRange{Start: now.Add(-24 * time.Hour), End: now}

	empty := NothingNotableArtifact("daily", now, window)
	if !empty.NothingNotable || empty.ArticleCount != 0 || !empty.Empty() {
		t.Fatalf("unexpected nothing-notable artifact: %+v", empty)
	}

	records := []Record{{Source: "a"}, {Source: "b"}, {Source: "a"}}
	fb := FallbackArtifact("daily", records, now, window)
	if !fb.Fallback || fb.ArticleCount != 3 || fb.SourceCount != 2 {
		t.Fatalf("unexpected fallback artifact: %+v", fb)
	}
	if fb.Digest == nil || fb.Signals == nil || fb.Insights == nil {
		t.Fatal("fallback artifact must carry empty, non-nil lists")
	}
	if !fb.Empty() {
		t.Fatal("fallback artifact should be structurally empty")
	}

	full := Artifact{Digest: []string{"x"}}
	if full.Empty() {
		t.Fatal("artifact with digest should not be empty")
	}
}

func TestDeliveryStatus(t *testing.T) {
	t.Parallel()

	if !Sent().OK() {
		t.Fatal("Sent() should be OK")
	}
	st := Failed("boom")
	if st.OK() || st.Reason != "boom" || st.State != DeliveryFailed {
		t.Fatalf("unexpected failed status: %+v", st)
	}
}

func TestArtifactMatches(t *testing.T) {
	t.Parallel()

	a := Artifact{
		Digest:   []string{"Rust adoption grows"},
		Signals:  []Signal{{Title: "GPU prices", Summary: "falling fast"}},
		Insights: []Insight{{Theme: "Tooling", Note: "Bazel migration stories"}},
	}
	for _, kw := range []string{"", "rust", "FALLING", "bazel", "tooling"} {
		if !a.Matches(kw) {
			t.Fatalf("expected %q to match", kw)
		}
	}
	if a.Matches("kubernetes") {
		t.Fatal("unexpected match")
	}
}

func TestHistoryFilterEffectiveLimit(t *testing.T) {
	t.Parallel()

	if got := (HistoryFilter{}).EffectiveLimit(); got != DefaultHistoryLimit {
		t.Fatalf("expected default, got %d", got)
	}
	if got := (HistoryFilter{Limit: 1000}).EffectiveLimit(); got != MaxHistoryLimit {
		t.Fatalf("expected max, got %d", got)
	}
	if got := (HistoryFilter{Limit: 5}).EffectiveLimit(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}
