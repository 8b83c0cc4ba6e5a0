// Package app builds the digest service from configuration and owns the
// lifetime of its long-lived clients.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/api"
	"github.com/tvivaldelli/signal-daily-digest/internal/archive"
	"github.com/tvivaldelli/signal-daily-digest/internal/artifactlog"
	"github.com/tvivaldelli/signal-daily-digest/internal/cache"
	"github.com/tvivaldelli/signal-daily-digest/internal/clock"
	"github.com/tvivaldelli/signal-daily-digest/internal/config"
	"github.com/tvivaldelli/signal-daily-digest/internal/delivery"
	pubsubdelivery "github.com/tvivaldelli/signal-daily-digest/internal/delivery/pubsub"
	"github.com/tvivaldelli/signal-daily-digest/internal/delivery/telegram"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
	collyfetcher "github.com/tvivaldelli/signal-daily-digest/internal/fetcher/colly"
	headlessfetcher "github.com/tvivaldelli/signal-daily-digest/internal/fetcher/headless"
	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher/promote"
	"github.com/tvivaldelli/signal-daily-digest/internal/id/uuid"
	"github.com/tvivaldelli/signal-daily-digest/internal/keepalive"
	"github.com/tvivaldelli/signal-daily-digest/internal/limiter"
	"github.com/tvivaldelli/signal-daily-digest/internal/logging"
	"github.com/tvivaldelli/signal-daily-digest/internal/metrics"
	"github.com/tvivaldelli/signal-daily-digest/internal/pipeline"
	"github.com/tvivaldelli/signal-daily-digest/internal/policy/ratelimit"
	"github.com/tvivaldelli/signal-daily-digest/internal/retry"
	"github.com/tvivaldelli/signal-daily-digest/internal/scheduler"
	"github.com/tvivaldelli/signal-daily-digest/internal/source"
	gcsstorage "github.com/tvivaldelli/signal-daily-digest/internal/storage/gcs"
	localstorage "github.com/tvivaldelli/signal-daily-digest/internal/storage/local"
	memorystorage "github.com/tvivaldelli/signal-daily-digest/internal/storage/memory"
	pgstore "github.com/tvivaldelli/signal-daily-digest/internal/storage/postgres"
	sqlitestore "github.com/tvivaldelli/signal-daily-digest/internal/storage/sqlite"
	"github.com/tvivaldelli/signal-daily-digest/internal/summarize"
	"github.com/tvivaldelli/signal-daily-digest/internal/summarize/anthropic"
)

// Scheduled job names.
const (
	JobPipeline = "pipeline"
	JobSweep    = "sweep"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	cal    digest.Calendar

	orchestrator *pipeline.Orchestrator
	archive      *archive.Service
	records      digest.ContentStore
	apiServer    *api.Server
	scheduler    *scheduler.Scheduler

	headless     *headlessfetcher.Fetcher
	pool         pgstore.DB
	sqlite       *sql.DB
	pubsubClient *pubsub.Client
	topic        *pubsub.Topic
	storage      *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger, cal: digest.NewCalendar(loc)}
	defer func() {
		if err != nil {
			a.closeInfrastructure()
		}
	}()
	logger.Info("building application dependencies",
		zap.String("timezone", loc.String()),
		zap.String("store", cfg.Store.Driver))

	clk := clock.System{}
	ids := uuid.New()

	archiveStore, err := a.setupStores(ctx)
	if err != nil {
		return nil, err
	}
	a.archive = archive.New(
		cache.New(cache.Config{
			Capacity: cfg.Cache.Capacity,
			TTL:      time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		}, clk),
		archiveStore,
		a.cal,
		clk,
		ids,
		archive.Windows{
			SameDay:   cfg.Cache.SameDayDays,
			Lookup:    cfg.Cache.LookupDays,
			Collision: cfg.Cache.CollisionDays,
		},
		logger.Named("archive"),
	)

	runner, err := a.setupSources(clk)
	if err != nil {
		return nil, err
	}
	summarizer, rollup := a.setupSummarizer(clk)
	deliverer, err := a.setupDelivery(ctx)
	if err != nil {
		return nil, err
	}
	artifactLog, err := a.setupArtifactLog(ctx)
	if err != nil {
		return nil, err
	}

	var heartbeat digest.Heartbeat = keepalive.Noop{}
	if cfg.Keepalive.URL != "" {
		heartbeat = keepalive.NewProbe(cfg.Keepalive.URL,
			time.Duration(cfg.Keepalive.IntervalSeconds)*time.Second, logger.Named("keepalive"))
		logger.Info("keepalive probe enabled", zap.String("url", cfg.Keepalive.URL))
	}

	pipeCfg, err := pipelineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.orchestrator, err = pipeline.New(pipeCfg, pipeline.Deps{
		Fetcher:    runner,
		Store:      a.records,
		Archive:    a.archive,
		Summarizer: summarizer,
		Rollup:     rollup,
		Deliverer:  deliverer,
		Log:        artifactLog,
		Heartbeat:  heartbeat,
		Clock:      clk,
		IDs:        ids,
		Logger:     logger.Named("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.orchestrator, a.records, a.archive, api.Config{
		Token:          cfg.Auth.TriggerToken,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		QueryCap:       cfg.Store.QueryCap,
	}, logger.Named("api"))
	if cfg.Auth.TriggerToken == "" {
		logger.Warn("auth.trigger_token is empty; /trigger and cache eviction will reject every request")
	}
	return a, nil
}

func (a *App) setupStores(ctx context.Context) (digest.ArchiveStore, error) {
	switch a.cfg.Store.Driver {
	case config.DriverSQLite:
		db, err := sqlitestore.Open(a.cfg.Store.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.sqlite = db
		a.records = sqlitestore.NewContentStore(db, a.cfg.Store.QueryCap)
		a.logger.Info("using sqlite store", zap.String("path", a.cfg.Store.SQLite.Path))
		return sqlitestore.NewArchiveStore(db, a.cal), nil
	case config.DriverPostgres:
		pg := a.cfg.Store.Postgres
		pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
			DSN:             pg.DSN,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: time.Duration(pg.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		a.pool = pool
		records, err := pgstore.NewContentStore(pool, pg.RecordsTable, a.cfg.Store.QueryCap)
		if err != nil {
			return nil, fmt.Errorf("postgres content store init failed: %w", err)
		}
		a.records = records
		archiveStore, err := pgstore.NewArchiveStore(pool, pg.ArtifactsTable, a.cal)
		if err != nil {
			return nil, fmt.Errorf("postgres archive store init failed: %w", err)
		}
		a.logger.Info("using postgres store",
			zap.String("records_table", pg.RecordsTable),
			zap.String("artifacts_table", pg.ArtifactsTable))
		return archiveStore, nil
	default:
		a.logger.Warn("using in-memory store; records and archive are lost on restart")
		a.records = memorystorage.NewContentStore(a.cfg.Store.QueryCap)
		return memorystorage.NewArchiveStore(), nil
	}
}

func (a *App) setupSources(clk digest.Clock) (*source.Runner, error) {
	fc := a.cfg.Fetch
	policy := ratelimit.New(ratelimit.Config{DefaultRPS: fc.PerHostRPS, DefaultBurst: fc.PerHostBurst})
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     fc.UserAgent,
		RespectRobots: fc.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	}, policy)
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", fc.UserAgent),
		zap.Float64("per_host_rps", fc.PerHostRPS))

	var rendered fetcher.Fetcher = headlessfetcher.NewNoop()
	if fc.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       fc.Headless.MaxParallel,
			UserAgent:         fc.UserAgent,
			NavigationTimeout: time.Duration(fc.Headless.NavTimeoutSec) * time.Second,
			WaitSelector:      fc.Headless.WaitSelector,
			Settle:            time.Duration(fc.Headless.SettleMs) * time.Millisecond,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed; render sources will fail", zap.Error(err))
		} else {
			a.headless = hf
			rendered = hf
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", fc.Headless.MaxParallel))
		}
	}

	adapters := make([]source.Adapter, 0, len(a.cfg.Feeds)+len(a.cfg.Scrapes))
	for _, feed := range a.cfg.Feeds {
		adapters = append(adapters, source.NewFeedAdapter(feed, plain, a.logger.Named("feed")))
	}
	var scrapeDefault fetcher.Fetcher = plain
	if a.headless != nil && fc.Headless.AutoPromote {
		scrapeDefault = promote.New(plain, rendered,
			promote.Detector{Threshold: fc.Headless.PromoteThreshold}, a.logger.Named("promote"))
	}
	for _, sc := range a.cfg.Scrapes {
		f := scrapeDefault
		if sc.Render {
			f = rendered
		}
		adapter, err := source.NewScrapeAdapter(sc, f, a.logger.Named("scrape"))
		if err != nil {
			return nil, fmt.Errorf("scrape source %s: %w", sc.Name, err)
		}
		adapters = append(adapters, adapter)
	}
	if len(adapters) == 0 {
		a.logger.Warn("no sources configured; runs will only report nothing notable")
	}

	return source.NewRunner(adapters, limiter.New(fc.Concurrency), source.RunnerConfig{
		AttemptTimeout: a.cfg.FetchTimeout(),
		Retry: retry.Policy{
			MaxAttempts: fc.MaxAttempts,
			BaseDelay:   time.Duration(fc.BackoffInitialMs) * time.Millisecond,
			MaxDelay:    time.Duration(fc.BackoffMaxMs) * time.Millisecond,
		},
	}, clk, a.logger.Named("sources")), nil
}

func (a *App) setupSummarizer(clk digest.Clock) (digest.Summarizer, digest.RollupSummarizer) {
	sc := a.cfg.Summarizer
	s, err := anthropic.New(anthropic.Config{
		APIKey:      sc.APIKey,
		Model:       sc.Model,
		MaxTokens:   sc.MaxTokens,
		Temperature: sc.Temperature,
		MaxRecords:  sc.MaxRecords,
	}, a.logger.Named("summarizer"))
	if err != nil {
		a.logger.Warn("summarizer unavailable; artifacts will be fallbacks", zap.Error(err))
		fb := summarize.Fallback{Clock: clk}
		return fb, fb
	}
	a.logger.Info("using anthropic summarizer", zap.String("model", sc.Model))
	return s, s
}

func (a *App) setupDelivery(ctx context.Context) (*delivery.Service, error) {
	dc := a.cfg.Delivery
	var channels []delivery.Channel
	if dc.Telegram.Enabled() {
		ch, err := telegram.New(telegram.Config{
			BotToken: dc.Telegram.BotToken,
			ChatID:   dc.Telegram.ChatID,
			Timeout:  time.Duration(dc.Telegram.TimeoutSeconds) * time.Second,
		}, a.cal)
		if err != nil {
			return nil, fmt.Errorf("telegram delivery init failed: %w", err)
		}
		channels = append(channels, ch)
		a.logger.Info("telegram delivery enabled")
	}
	if dc.PubSub.Enabled() {
		client, err := pubsub.NewClient(ctx, dc.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.topic = client.Topic(dc.PubSub.TopicName)
		ch, err := pubsubdelivery.New(a.topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub delivery init failed: %w", err)
		}
		channels = append(channels, ch)
		a.logger.Info("Pub/Sub delivery enabled",
			zap.String("project", dc.PubSub.ProjectID),
			zap.String("topic", dc.PubSub.TopicName))
	}
	if len(channels) == 0 {
		a.logger.Warn("no delivery channel configured; every delivery will report failed")
	}
	return delivery.New(channels, retry.Policy{
		MaxAttempts: dc.MaxAttempts,
		BaseDelay:   time.Duration(dc.BackoffSeconds) * time.Second,
	}, a.logger.Named("delivery")), nil
}

func (a *App) setupArtifactLog(ctx context.Context) (digest.ArtifactLog, error) {
	lc := a.cfg.ArtifactLog
	var sinks artifactlog.Multi
	if lc.Path != "" {
		f, err := artifactlog.NewFile(lc.Path)
		if err != nil {
			return nil, fmt.Errorf("artifact log init failed: %w", err)
		}
		sinks = append(sinks, f)
		a.logger.Info("artifact log file", zap.String("path", lc.Path))
	}
	if lc.BlobDir != "" {
		store, err := localstorage.New(localstorage.Config{BaseDir: lc.BlobDir})
		if err != nil {
			return nil, fmt.Errorf("local artifact mirror init failed: %w", err)
		}
		sinks = append(sinks, artifactlog.NewBlob(store, lc.Prefix, a.cal))
		a.logger.Info("artifact mirror on local disk", zap.String("dir", lc.BlobDir))
	}
	if lc.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: lc.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact mirror init failed: %w", err)
		}
		sinks = append(sinks, artifactlog.NewBlob(store, lc.Prefix, a.cal))
		a.logger.Info("artifact mirror on GCS", zap.String("bucket", lc.GCSBucket))
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func pipelineConfig(cfg config.Config) (pipeline.Config, error) {
	pc := cfg.Pipeline
	out := pipeline.Config{
		Window:      time.Duration(pc.WindowHours) * time.Hour,
		RecordLimit: pc.RecordLimit,
		RunTimeout:  time.Duration(pc.RunTimeoutMinutes) * time.Minute,
		Retention:   time.Duration(pc.RetentionDays) * 24 * time.Hour,
		Rollup: pipeline.RollupConfig{
			Enabled: pc.Rollup.Enabled,
			History: pc.Rollup.History,
		},
	}
	if pc.Rollup.Enabled {
		day, err := cfg.RollupWeekday()
		if err != nil {
			return pipeline.Config{}, err
		}
		out.Rollup.Weekday = day
	}
	for _, c := range pc.Categories {
		out.Categories = append(out.Categories, pipeline.Category{Name: c.Name, Topic: c.Topic})
	}
	return out, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Orchestrator exposes the pipeline for one-shot commands.
func (a *App) Orchestrator() *pipeline.Orchestrator {
	return a.orchestrator
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Schedule registers the pipeline and sweep jobs. Fired runs go through
// Trigger so they share the run timeout and shutdown drain with HTTP runs.
func (a *App) Schedule() (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.cal.Location(), func(job string, next time.Time) {
		if job == JobPipeline {
			a.orchestrator.SetNextRun(next)
		}
		a.logger.Debug("next scheduled fire", zap.String("job", job), zap.Time("next", next))
	}, a.logger.Named("scheduler"))

	if err := sched.Add(JobPipeline, a.cfg.Pipeline.Schedule, func(ctx context.Context) {
		if _, err := a.orchestrator.Trigger(ctx, pipeline.Options{}); err != nil {
			a.logger.Error("scheduled run failed to start", zap.Error(err))
		}
	}); err != nil {
		return nil, err
	}
	if a.cfg.Pipeline.SweepSchedule != "" {
		if err := sched.Add(JobSweep, a.cfg.Pipeline.SweepSchedule, func(ctx context.Context) {
			if _, err := a.orchestrator.Sweep(ctx); err != nil {
				a.logger.Warn("scheduled sweep failed", zap.Error(err))
			}
		}); err != nil {
			return nil, err
		}
	}
	a.scheduler = sched
	return sched, nil
}

// Serve runs the HTTP server and scheduler until ctx is canceled, then
// drains background runs.
func (a *App) Serve(ctx context.Context) error {
	sched, err := a.Schedule()
	if err != nil {
		return err
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	sched.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := time.Duration(a.cfg.Server.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop timed out", zap.Error(err))
	}
	if err := a.orchestrator.Wait(shutdownCtx); err != nil {
		a.logger.Warn("background runs still active at shutdown", zap.Error(err))
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.topic != nil {
		a.topic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
}
