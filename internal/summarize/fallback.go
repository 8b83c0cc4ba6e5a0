// Package summarize holds summarizers that need no external service.
package summarize

import (
	"context"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

// Fallback stands in when no summarization backend is configured. Its
// artifacts carry the fallback flag and empty lists.
type Fallback struct {
	Clock digest.Clock
}

// Summarize returns a fallback artifact for records.
func (f Fallback) Summarize(_ context.Context, category string, records []digest.Record) (digest.Artifact, error) {
	return digest.FallbackArtifact(category, records, f.Clock.Now(), digest.DateRange{}), nil
}

// Rollup returns no bullets.
func (Fallback) Rollup(context.Context, []digest.ArchivedArtifact) ([]string, error) {
	return nil, nil
}
