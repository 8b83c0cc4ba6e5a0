package source

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
	"github.com/tvivaldelli/signal-daily-digest/internal/limiter"
	"github.com/tvivaldelli/signal-daily-digest/internal/metrics"
	"github.com/tvivaldelli/signal-daily-digest/internal/retry"
)

// Report summarizes one source's contribution to a batch.
type Report struct {
	Source   string
	Records  int
	Err      error
	Duration time.Duration
}

// Batch is the outcome of fetching every source.
type Batch struct {
	Records []digest.Record
	Reports []Report
}

// Failed counts sources that contributed nothing because of an error.
func (b Batch) Failed() int {
	n := 0
	for _, r := range b.Reports {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// RunnerConfig tunes the fetch phase.
type RunnerConfig struct {
	// AttemptTimeout bounds a single fetch attempt. Zero leaves it to the fetcher.
	AttemptTimeout time.Duration
	Retry          retry.Policy
}

// Runner fetches all adapters through a shared limiter.
type Runner struct {
	adapters []Adapter
	limiter  *limiter.Limiter
	cfg      RunnerConfig
	clock    digest.Clock
	logger   *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(adapters []Adapter, lim *limiter.Limiter, cfg RunnerConfig, clock digest.Clock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		adapters: adapters,
		limiter:  lim,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Sources returns the configured adapter count.
func (r *Runner) Sources() int {
	return len(r.adapters)
}

// FetchAll runs every adapter. A failing source contributes no records and
// never affects its siblings; records keep per-source order.
func (r *Runner) FetchAll(ctx context.Context) Batch {
	results := limiter.Map(ctx, r.limiter, r.adapters, r.fetchOne)

	now := r.clock.Now()
	var batch Batch
	for i, res := range results {
		info := r.adapters[i].Info()
		report := res.Value.Report
		report.Source = info.Name
		report.Err = res.Err
		if res.Err == nil {
			records := r.toRecords(info, res.Value.items, now)
			report.Records = len(records)
			batch.Records = append(batch.Records, records...)
		}
		batch.Reports = append(batch.Reports, report)
	}
	return batch
}

type fetchResult struct {
	Report
	items []Item
}

func (r *Runner) fetchOne(ctx context.Context, a Adapter) (fetchResult, error) {
	info := a.Info()
	logger := r.logger.With(zap.String("source", info.Name))
	metrics.IncFetchInFlight()
	defer metrics.DecFetchInFlight()

	policy := r.cfg.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Debug("Retrying source", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}

	start := time.Now()
	items, err := retry.Do(ctx, policy, func(ctx context.Context) ([]Item, error) {
		if r.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
		}
		items, err := a.Fetch(ctx)
		if err != nil && !fetcher.IsRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return items, err
	})
	elapsed := time.Since(start)
	res := fetchResult{Report: Report{Duration: elapsed}, items: items}
	switch {
	case err != nil:
		metrics.ObserveSourceFetch(info.Name, "failed", elapsed)
		logger.Warn("Source failed; continuing without it", zap.Duration("elapsed", elapsed), zap.Error(err))
		return res, err
	case len(items) == 0:
		metrics.ObserveSourceFetch(info.Name, "empty", elapsed)
		logger.Info("Source returned no items")
	default:
		metrics.ObserveSourceFetch(info.Name, "ok", elapsed)
		logger.Debug("Source fetched", zap.Int("items", len(items)), zap.Duration("elapsed", elapsed))
	}
	return res, nil
}

func (r *Runner) toRecords(info Info, items []Item, now time.Time) []digest.Record {
	seen := make(map[string]struct{}, len(items))
	records := make([]digest.Record, 0, len(items))
	for _, item := range items {
		link, err := Canonicalize(item.Link, nil)
		if err != nil {
			r.logger.Warn("Skipping item with invalid link",
				zap.String("source", info.Name), zap.String("url", item.Link), zap.Error(err))
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		kind := info.Kind
		if kind == "" {
			kind = digest.KindStandard
			if item.ImageURL != "" {
				kind = digest.KindEnrichedMedia
			}
		}
		published := item.PublishedAt
		if published.IsZero() {
			published = now
		}
		records = append(records, digest.Record{
			Link:        link,
			Title:       item.Title,
			Source:      info.Name,
			Topic:       info.Topic,
			Kind:        kind,
			Excerpt:     item.Excerpt,
			Body:        item.Body,
			ImageURL:    item.ImageURL,
			PublishedAt: published,
			FirstSeenAt: now,
		})
	}
	return records
}
