// Package scheduler runs the periodic maintenance passes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/propstrack/maintenance-server/internal/metrics"
)

// Job is one unit of scheduled work. It returns how many items it removed.
type Job func(ctx context.Context) (int, error)

// Scheduler triggers jobs on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	metrics *metrics.Metrics
	logger  zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	jobs    map[string]Job
}

// New creates a scheduler. Each run is bounded by timeout when it is positive.
func New(m *metrics.Metrics, logger zerolog.Logger, timeout time.Duration) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		metrics: m,
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]Job),
	}
}

// Add schedules fn as job with a standard five-field cron spec.
func (s *Scheduler) Add(job, spec string, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[job]; ok {
		return fmt.Errorf("job %s already scheduled", job)
	}
	id, err := s.cron.AddFunc(spec, func() { s.RunNow(job) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", job, spec, err)
	}
	s.entries[job] = id
	s.jobs[job] = fn
	s.logger.Info().Str("job", job).Str("spec", spec).Msg("Job scheduled")
	return nil
}

// Next returns the next activation of job.
func (s *Scheduler) Next(job string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[job]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// RunNow runs job synchronously and records its outcome.
func (s *Scheduler) RunNow(job string) error {
	s.mu.Lock()
	fn, ok := s.jobs[job]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not scheduled", job)
	}

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	deleted, err := fn(ctx)
	s.metrics.ObserveJob(job, err)

	if err != nil {
		s.logger.Error().Err(err).Str("job", job).Int("deleted", deleted).Msg("Scheduled job failed")
		return err
	}
	s.logger.Info().
		Str("job", job).
		Int("deleted", deleted).
		Dur("duration", time.Since(start)).
		Msg("Scheduled job finished")
	return nil
}

// Start starts the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
