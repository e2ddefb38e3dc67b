// Package scheduler runs the engine's periodic maintenance on cron specs:
// market discovery, match-set refresh, fee refresh, dedup cleanup and stats.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

// JobStats records the outcome of a job's runs.
type JobStats struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
	Took     time.Duration `json:"took"`
}

type job struct {
	name string
	spec string
	fn   JobFunc
	mu   sync.Mutex // serializes scheduled and triggered runs
}

// Scheduler wraps a cron runner. Specs accept an optional seconds field and
// descriptors such as "@every 3m".
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time

	baseMu sync.RWMutex
	base   context.Context

	mu    sync.Mutex
	jobs  map[string]*job
	stats map[string]*JobStats
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		logger: logger,
		now:    time.Now,
		base:   context.Background(),
		jobs:   make(map[string]*job),
		stats:  make(map[string]*JobStats),
	}
}

// Add registers fn under name on spec. A name may be added once.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	if _, err := s.cron.AddFunc(spec, func() { s.run(s.context(), j, false) }); err != nil {
		return fmt.Errorf("scheduler: add %s %q: %w", name, spec, err)
	}
	s.jobs[name] = j
	s.stats[name] = &JobStats{Name: name, Spec: spec}
	return nil
}

// Trigger runs the named job now and waits for it.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.run(ctx, j, true)
}

// TriggerAsync queues the named job to run now under the scheduler's context
// without waiting. A run already in progress is waited for, not skipped, so
// the job always observes state from after the call.
func (s *Scheduler) TriggerAsync(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	go func() { _ = s.run(s.context(), j, true) }()
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.baseMu.Lock()
	s.base = ctx
	s.baseMu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Stats())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) context() context.Context {
	s.baseMu.RLock()
	defer s.baseMu.RUnlock()
	return s.base
}

// run executes j. A scheduled run is skipped while the previous one is
// still going; a triggered run waits for it.
func (s *Scheduler) run(ctx context.Context, j *job, wait bool) error {
	if wait {
		j.mu.Lock()
	} else if !j.mu.TryLock() {
		s.logger.Debug("job still running, skipped", slog.String("job", j.name))
		return nil
	}
	defer j.mu.Unlock()

	start := s.now()
	err := j.fn(ctx)
	took := s.now().Sub(start)

	s.mu.Lock()
	st := s.stats[j.name]
	st.Runs++
	st.LastRun = start
	st.Took = took
	st.LastErr = ""
	if err != nil {
		st.Failures++
		st.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("job failed",
			slog.String("job", j.name),
			slog.Duration("took", took),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.logger.Debug("job done", slog.String("job", j.name), slog.Duration("took", took))
	return nil
}

// Stats returns per-job counters sorted by name.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err.Error())...)
}
