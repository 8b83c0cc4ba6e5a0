package digest

import (
	"context"
	"time"
)

// ContentStore persists normalized records keyed by canonical link.
type ContentStore interface {
	Upsert(ctx context.Context, record Record) error
	Query(ctx context.Context, filter RecordFilter) ([]Record, error)
	Sweep(ctx context.Context, horizon time.Time) (int64, error)
}

// ArchiveStore persists generated artifacts. Rows are identified by ID.
type ArchiveStore interface {
	// FindLatest returns the newest row for category generated at or after
	// since, or ErrNotFound.
	FindLatest(ctx context.Context, category string, since time.Time) (ArchivedArtifact, error)
	// FindCollision returns the newest row for category first generated on
	// or after the civil date from (YYYY-MM-DD), or ErrNotFound. Update never
	// moves a row's first-generation date.
	FindCollision(ctx context.Context, category, from string) (ArchivedArtifact, error)
	// Insert adds a row and returns the ID it was stored under. Stores with a
	// per-day uniqueness constraint may fold a conflicting insert into the
	// existing row and return that row's ID.
	Insert(ctx context.Context, row ArchivedArtifact) (string, error)
	Update(ctx context.Context, row ArchivedArtifact) error
	Get(ctx context.Context, id string) (ArchivedArtifact, error)
	List(ctx context.Context, filter HistoryFilter) ([]ArchivedArtifact, error)
}

// Summarizer turns a window of records into an artifact.
type Summarizer interface {
	Summarize(ctx context.Context, category string, records []Record) (Artifact, error)
}

// RollupSummarizer condenses recent archived artifacts into bullets.
type RollupSummarizer interface {
	Rollup(ctx context.Context, history []ArchivedArtifact) ([]string, error)
}

// Deliverer sends an artifact somewhere. It reports failures as a status.
type Deliverer interface {
	Deliver(ctx context.Context, artifact Artifact) DeliveryStatus
}

// LogEntry is one line of the append-only artifact log.
type LogEntry struct {
	RunID        string         `json:"run_id"`
	Category     string         `json:"category"`
	LoggedAt     time.Time      `json:"logged_at"`
	Delivery     DeliveryStatus `json:"delivery"`
	ArchiveRowID string         `json:"archive_row_id,omitempty"`
	ArchiveError string         `json:"archive_error,omitempty"`
	Artifact     Artifact       `json:"artifact"`
}

// ArtifactLog appends completed-run entries. It never rewrites prior entries.
type ArtifactLog interface {
	Append(ctx context.Context, entry LogEntry) error
}

// Heartbeat keeps the hosting process visibly active during a run.
type Heartbeat interface {
	// Start begins the heartbeat; the returned func stops it and is safe to
	// call more than once.
	Start(ctx context.Context) (stop func())
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and row IDs.
type IDGenerator interface {
	NewID() (string, error)
}
