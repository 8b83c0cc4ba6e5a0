// Package scheduler fires recurring jobs on cron expressions evaluated in the
// anchor timezone.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// NextFunc is told the next fire time of a job after it is registered and
// after every fire.
type NextFunc func(job string, next time.Time)

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	onNext NextFunc

	mu  sync.RWMutex
	ctx context.Context
}

// New creates a scheduler in loc. onNext may be nil.
func New(loc *time.Location, onNext NextFunc, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger: logger,
		onNext: onNext,
		ctx:    context.Background(),
	}
}

// Add registers fn under name with a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, fn func(context.Context)) error {
	var id cron.EntryID
	id, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("scheduled job firing", zap.String("job", name))
		fn(s.context())
		s.notify(name, id)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	sched, err := cron.ParseStandard(spec)
	if err == nil && s.onNext != nil {
		s.onNext(name, sched.Next(time.Now().In(s.cron.Location())))
	}
	return nil
}

func (s *Scheduler) notify(name string, id cron.EntryID) {
	if s.onNext == nil {
		return
	}
	if next := s.cron.Entry(id).Next; !next.IsZero() {
		s.onNext(name, next)
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// Start runs the scheduler in the background. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop prevents new fires and waits for running jobs or ctx, whichever
// comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries reports each job's next fire time, in registration order.
func (s *Scheduler) Entries() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
