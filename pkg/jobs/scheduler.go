package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 30 * time.Second

// Sweeper drops expired entries and reports how many it removed.
// rbac.MemoryCache and middleware.FixedWindowLimiter implement it.
type Sweeper interface {
	Sweep() int
}

// AuditCleaner deletes audit events older than cutoff.
type AuditCleaner interface {
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReplicaPruner drops unreachable read replicas.
type ReplicaPruner interface {
	RemoveUnhealthyReplicas(ctx context.Context) int
}

// Scheduler runs periodic maintenance on a cron.Cron. Overlapping runs of
// the same job are skipped and panics are logged rather than crashing the
// process.
type Scheduler struct {
	cron    *cron.Cron
	logger  logrus.FieldLogger
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobTimeout overrides DefaultJobTimeout.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithClock overrides the clock used to compute retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger logrus.FieldLogger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "jobs")

	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		timeout: DefaultJobTimeout,
		now:     time.Now,
		jobs:    make(map[string]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Every returns the cron spec for a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add registers fn under name on a cron schedule. Each run gets its own
// context bounded by the job timeout.
func (s *Scheduler) Add(name, schedule string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	run := func() { s.run(name, fn) }
	if _, err := s.cron.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.jobs[name] = run

	s.logger.WithFields(logrus.Fields{"job": name, "schedule": schedule}).Info("Scheduled job")
	return nil
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	log := s.logger.WithField("job", name)
	defer observability.RecoverPanic(log, name)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		log.WithError(err).Error("Job failed")
		return
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Job complete")
}

// AddSweep schedules sw.Sweep every interval.
func (s *Scheduler) AddSweep(name string, interval time.Duration, sw Sweeper) error {
	return s.Add(name, Every(interval), func(context.Context) error {
		if removed := sw.Sweep(); removed > 0 {
			s.logger.WithFields(logrus.Fields{"job": name, "removed": removed}).Debug("Swept expired entries")
		}
		return nil
	})
}

// AddAuditRetention schedules deletion of audit events older than retention.
func (s *Scheduler) AddAuditRetention(schedule string, retention time.Duration, cleaner AuditCleaner) error {
	return s.Add("audit-retention", schedule, func(ctx context.Context) error {
		cutoff := s.now().Add(-retention)
		deleted, err := cleaner.Cleanup(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("audit cleanup: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
		}).Info("Audit retention cleanup complete")
		return nil
	})
}

// AddReplicaCheck schedules pruning of unreachable read replicas.
func (s *Scheduler) AddReplicaCheck(interval time.Duration, pruner ReplicaPruner) error {
	return s.Add("replica-health", Every(interval), func(ctx context.Context) error {
		pruner.RemoveUnhealthyReplicas(ctx)
		return nil
	})
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	run, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	run()
	return nil
}

// Jobs lists registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("jobs", len(s.Jobs())).Info("Job scheduler started")
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Job scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
