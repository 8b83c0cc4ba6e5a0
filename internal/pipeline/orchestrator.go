// Package pipeline runs fetch, query, generate, deliver and archive as one
// run, and tracks the process-lifetime run state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/archive"
	"github.com/tvivaldelli/signal-daily-digest/internal/delivery"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/metrics"
	"github.com/tvivaldelli/signal-daily-digest/internal/source"
)

// Run outcomes recorded in metrics.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomePartial = "partial"
)

// Category is one artifact produced per run. An empty Topic covers every
// record.
type Category struct {
	Name  string
	Topic string
}

// RollupConfig controls the weekly rollup.
type RollupConfig struct {
	Enabled bool
	Weekday time.Weekday
	// History is how many archived artifacts feed the rollup.
	History int
}

// Config tunes a run.
type Config struct {
	Categories []Category
	// Window is how far back records are considered for generation.
	Window time.Duration
	// RecordLimit caps the records handed to the summarizer.
	RecordLimit int
	Rollup      RollupConfig
	// RunTimeout bounds triggered background runs.
	RunTimeout time.Duration
	// Retention is how long records are kept by Sweep.
	Retention time.Duration
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Categories:  []Category{{Name: "daily"}},
		Window:      24 * time.Hour,
		RecordLimit: 100,
		Rollup:      RollupConfig{Enabled: true, Weekday: time.Sunday, History: 7},
		RunTimeout:  15 * time.Minute,
		Retention:   30 * 24 * time.Hour,
	}
}

// Fetcher collects records from every source.
type Fetcher interface {
	FetchAll(ctx context.Context) source.Batch
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Fetcher    Fetcher
	Store      digest.ContentStore
	Archive    *archive.Service
	Summarizer digest.Summarizer
	Rollup     digest.RollupSummarizer
	Deliverer  digest.Deliverer
	Log        digest.ArtifactLog
	Heartbeat  digest.Heartbeat
	Clock      digest.Clock
	IDs        digest.IDGenerator
	Logger     *zap.Logger
}

// Options alter a single run.
type Options struct {
	// Force regenerates even when today's artifact already exists.
	Force bool
}

// CategoryResult is the outcome for one category.
type CategoryResult struct {
	Category     string
	Records      int
	Reused       bool
	Delivery     digest.DeliveryStatus
	ArchiveRowID string
	ArchiveErr   error
	Err          error
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Fetched    int
	Upserted   int
	Failed     int
	Categories []CategoryResult
	Err        error
}

// Orchestrator executes runs. Overlapping runs are allowed; every write they
// make is idempotent.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	wg sync.WaitGroup

	mu     sync.Mutex
	state  digest.RunState
	active int
}

// New validates deps and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Store == nil:
		return nil, errors.New("content store is required")
	case deps.Archive == nil:
		return nil, errors.New("archive service is required")
	case deps.Summarizer == nil:
		return nil, errors.New("summarizer is required")
	case deps.Deliverer == nil:
		return nil, errors.New("deliverer is required")
	case deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("clock and id generator are required")
	}
	def := DefaultConfig()
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.RecordLimit <= 0 {
		cfg.RecordLimit = def.RecordLimit
	}
	if cfg.Rollup.History <= 0 {
		cfg.Rollup.History = def.Rollup.History
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Heartbeat == nil {
		deps.Heartbeat = noopHeartbeat{}
	}
	if deps.Log == nil {
		deps.Log = discardLog{}
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: deps.Logger}, nil
}

// State returns a snapshot of the run state.
func (o *Orchestrator) State() digest.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state
	s.Running = o.active > 0
	return s
}

// SetNextRun records the next scheduled fire time.
func (o *Orchestrator) SetNextRun(t time.Time) {
	o.mu.Lock()
	o.state.NextRunAt = &t
	o.mu.Unlock()
}

// Trigger starts a run in the background and returns its ID immediately. The
// run is detached from ctx cancellation and bounded by the run timeout.
func (o *Orchestrator) Trigger(ctx context.Context, opts Options) (string, error) {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("new run id: %w", err)
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RunTimeout)
		defer cancel()
		_ = o.run(runCtx, runID, opts)
	}()
	return runID, nil
}

// Run executes a run synchronously.
func (o *Orchestrator) Run(ctx context.Context, opts Options) Summary {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return Summary{Err: fmt.Errorf("new run id: %w", err)}
	}
	return o.run(ctx, runID, opts)
}

// Wait blocks until background runs finish or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, runID string, opts Options) (summary Summary) {
	started := time.Now()
	log := o.log.With(zap.String("run_id", runID))
	summary.RunID = runID

	o.mu.Lock()
	o.active++
	o.mu.Unlock()

	stop := o.deps.Heartbeat.Start(ctx)
	defer func() {
		stop()
		if r := recover(); r != nil {
			summary.Err = fmt.Errorf("run panicked: %v", r)
			log.Error("run panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		o.finish(runID, summary)
		outcome := OutcomeOK
		switch {
		case summary.Err != nil:
			outcome = OutcomeError
		case summary.Failed > 0:
			outcome = OutcomePartial
		}
		metrics.ObserveRun(outcome, time.Since(started))
		log.Info("run finished",
			zap.String("outcome", outcome),
			zap.Int("fetched", summary.Fetched),
			zap.Duration("duration", time.Since(started)))
	}()

	log.Info("run started", zap.Bool("force", opts.Force))
	o.fetch(ctx, log, &summary)

	var errs []error
	for _, cat := range o.cfg.Categories {
		res := o.generate(ctx, runID, cat, opts, log.With(zap.String("category", cat.Name)))
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cat.Name, res.Err))
		}
		summary.Categories = append(summary.Categories, res)
	}
	summary.Err = errors.Join(errs...)
	return summary
}

func (o *Orchestrator) fetch(ctx context.Context, log *zap.Logger, summary *Summary) {
	batch := o.deps.Fetcher.FetchAll(ctx)
	summary.Fetched = len(batch.Records)
	summary.Failed = batch.Failed()

	perSource := make(map[string]int)
	for _, rec := range batch.Records {
		if err := o.deps.Store.Upsert(ctx, rec); err != nil {
			log.Warn("upsert failed", zap.String("url", rec.Link), zap.Error(err))
			continue
		}
		summary.Upserted++
		perSource[rec.Source]++
	}
	for src, n := range perSource {
		metrics.AddRecordsUpserted(src, n)
	}
	log.Info("fetch phase complete",
		zap.Int("sources", len(batch.Reports)),
		zap.Int("failed_sources", summary.Failed),
		zap.Int("records", summary.Fetched),
		zap.Int("upserted", summary.Upserted))
}

func (o *Orchestrator) generate(ctx context.Context, runID string, cat Category, opts Options, log *zap.Logger) CategoryResult {
	res := CategoryResult{Category: cat.Name}
	now := o.deps.Clock.Now()
	window := digest.DateRange{Start: now.Add(-o.cfg.Window), End: now}

	records, err := o.deps.Store.Query(ctx, digest.RecordFilter{
		Topic: cat.Topic,
		Since: window.Start,
		Until: window.End,
		Limit: o.cfg.RecordLimit,
	})
	if err != nil {
		res.Err = fmt.Errorf("query records: %w", err)
		log.Error("query failed", zap.Error(err))
		return res
	}
	res.Records = len(records)

	artifact, reused := o.produce(ctx, cat, records, window, opts, log)
	res.Reused = reused
	if !artifact.NothingNotable && !reused {
		o.addRollup(ctx, &artifact, now, log)
	}

	res.Delivery = o.deps.Deliverer.Deliver(delivery.WithRunID(ctx, runID), artifact)
	if !res.Delivery.OK() {
		log.Warn("delivery failed", zap.String("reason", res.Delivery.Reason))
	}

	// Archive regardless of delivery outcome.
	saved, err := o.deps.Archive.Save(ctx, artifact, true)
	if err != nil {
		res.ArchiveErr = err
		log.Error("archive failed; artifact kept in log only", zap.Error(err))
	}
	res.ArchiveRowID = saved.RowID

	entry := digest.LogEntry{
		RunID:        runID,
		Category:     cat.Name,
		LoggedAt:     o.deps.Clock.Now(),
		Delivery:     res.Delivery,
		ArchiveRowID: saved.RowID,
		Artifact:     artifact,
	}
	if err != nil {
		entry.ArchiveError = err.Error()
	}
	if err := o.deps.Log.Append(ctx, entry); err != nil {
		log.Error("artifact log append failed", zap.Error(err))
	}
	return res
}

// produce returns the artifact to deliver and whether it was reused from
// today's cache or archive.
func (o *Orchestrator) produce(ctx context.Context, cat Category, records []digest.Record,
	window digest.DateRange, opts Options, log *zap.Logger,
) (digest.Artifact, bool) {
	now := window.End
	if len(records) == 0 {
		log.Info("no records in window; sending nothing-notable notice")
		return digest.NothingNotableArtifact(cat.Name, now, window), false
	}

	if !opts.Force {
		fresh, ok, err := o.deps.Archive.GetFresh(ctx, cat.Name, o.deps.Archive.Windows().SameDay)
		switch {
		case err != nil:
			log.Warn("freshness lookup failed", zap.Error(err))
		case ok && !fresh.Artifact.Empty():
			log.Info("reusing artifact generated today", zap.String("tier", fresh.Tier))
			return fresh.Artifact, true
		}
	}

	artifact, err := o.deps.Summarizer.Summarize(ctx, cat.Name, records)
	if err != nil {
		log.Warn("summarization failed; using fallback artifact", zap.Error(err))
		artifact = digest.FallbackArtifact(cat.Name, records, now, window)
	}
	artifact.Category = cat.Name
	artifact.GeneratedAt = now
	artifact.Range = window
	if artifact.ArticleCount == 0 {
		artifact.ArticleCount = len(records)
		artifact.SourceCount = digest.DistinctSources(records)
	}
	return artifact, false
}

func (o *Orchestrator) addRollup(ctx context.Context, artifact *digest.Artifact, now time.Time, log *zap.Logger) {
	rc := o.cfg.Rollup
	if !rc.Enabled || o.deps.Rollup == nil {
		return
	}
	cal := o.deps.Archive.Calendar()
	if now.In(cal.Location()).Weekday() != rc.Weekday {
		return
	}
	history, err := o.deps.Archive.ListHistory(ctx, digest.HistoryFilter{
		Category: artifact.Category,
		Limit:    rc.History,
	})
	if err != nil {
		log.Warn("rollup history lookup failed", zap.Error(err))
		return
	}
	bullets, err := o.deps.Rollup.Rollup(ctx, history)
	if err != nil {
		log.Warn("rollup failed", zap.Error(err))
		return
	}
	artifact.Rollup = bullets
	log.Info("rollup merged", zap.Int("bullets", len(bullets)), zap.Int("history", len(history)))
}

func (o *Orchestrator) finish(runID string, summary Summary) {
	now := o.deps.Clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active--
	o.state.LastRunID = runID
	o.state.LastRunAt = &now
	o.state.LastRecordCount = summary.Fetched
	o.state.LastDelivery = deliverySummary(summary.Categories)
	if summary.Err != nil {
		o.state.LastError = summary.Err.Error()
	} else {
		o.state.LastError = ""
	}
}

func deliverySummary(results []CategoryResult) string {
	if len(results) == 0 {
		return ""
	}
	var failed []string
	for _, r := range results {
		if r.Err == nil && !r.Delivery.OK() {
			failed = append(failed, r.Category+": "+r.Delivery.Reason)
		}
	}
	if len(failed) == 0 {
		return string(digest.DeliverySent)
	}
	return string(digest.DeliveryFailed) + " (" + strings.Join(failed, "; ") + ")"
}

// Sweep deletes records older than the retention horizon.
func (o *Orchestrator) Sweep(ctx context.Context) (int64, error) {
	horizon := o.deps.Clock.Now().Add(-o.cfg.Retention)
	n, err := o.deps.Store.Sweep(ctx, horizon)
	if err != nil {
		return 0, fmt.Errorf("sweep records: %w", err)
	}
	metrics.AddRecordsSwept(n)
	o.log.Info("retention sweep complete", zap.Int64("removed", n), zap.Time("horizon", horizon))
	return n, nil
}

type noopHeartbeat struct{}

func (noopHeartbeat) Start(context.Context) func() { return func() {} }

type discardLog struct{}

func (discardLog) Append(context.Context, digest.LogEntry) error { return nil }
