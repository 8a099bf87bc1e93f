// Package jobs runs the periodic maintenance work. Every job is guarded by
// a task lock so that a fleet of hosts runs each cycle once.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alertflow/alertflow/internal/metrics"
	"github.com/alertflow/alertflow/internal/slack"
	"github.com/alertflow/alertflow/internal/tasklock"
	"github.com/alertflow/alertflow/internal/utils"
)

// Outcomes recorded per cycle
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeLocked  = "locked"
)

const maxNoticeText = 500

// Job is one named periodic unit of work. Run returns a short description
// that is stored on the lock row.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (string, error)
}

// Scheduler runs registered jobs on their intervals
type Scheduler struct {
	locks   *tasklock.Manager
	lockTTL time.Duration
	chat    *slack.Notifier
	metrics *metrics.Metrics
	log     *zap.Logger
	jobs    []Job
	now     func() time.Time
}

// NewScheduler creates a scheduler. lockTTL bounds how long one cycle may
// hold its lock before other hosts consider it stale.
func NewScheduler(locks *tasklock.Manager, lockTTL time.Duration, chat *slack.Notifier, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scheduler{
		locks:   locks,
		lockTTL: lockTTL,
		chat:    chat,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// WithClock replaces the time source, mainly for tests
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Register adds a job. Jobs must be registered before Start.
func (s *Scheduler) Register(jobs ...Job) {
	s.jobs = append(s.jobs, jobs...)
}

// Jobs returns the registered jobs
func (s *Scheduler) Jobs() []Job {
	return s.jobs
}

// Start runs every job on its own ticker until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.log.Info("job started", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx, job)
		case <-ctx.Done():
			s.log.Info("job stopped", zap.String("job", job.Name))
			return
		}
	}
}

// RunOnce runs a single cycle of job under its lock and returns the outcome.
// A cycle whose slot was already started by another host is skipped.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) string {
	outcome := s.runOnce(ctx, job)
	s.metrics.JobRuns.WithLabelValues(job.Name, outcome).Inc()
	return outcome
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) string {
	now := s.now()
	log := s.log.With(zap.String("job", job.Name))

	lock := s.locks.Lock(job.Name)
	if err := lock.Acquire(ctx, now.Add(s.lockTTL)); err != nil {
		if errors.Is(err, tasklock.ErrAlreadyLocked) {
			log.Debug("job locked by another holder")
			return OutcomeLocked
		}
		log.Error("failed to acquire job lock", zap.Error(err))
		return OutcomeFailed
	}

	slot := now.Truncate(job.Interval)
	if prev := lock.PreviousStart(); prev != nil && !prev.Before(slot) {
		s.release(ctx, lock, OutcomeSkipped, log)
		log.Debug("cycle already ran", zap.Time("slot", slot))
		return OutcomeSkipped
	}

	if err := lock.MarkStart(ctx, &now); err != nil {
		log.Warn("failed to mark job start", zap.Error(err))
	}

	desc, err := job.Run(ctx)
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
		desc = fmt.Sprintf("error: %v", err)
		log.Error("job failed", zap.Error(err))
		s.chat.PostOnce(ctx, "job:"+job.Name, slack.Notice{
			Title:    fmt.Sprintf("Job %s failed", job.Name),
			Text:     utils.TruncateText(err.Error(), maxNoticeText),
			Severity: slack.SeverityDanger,
			Fields: []slack.Field{
				{Title: "Host", Value: tasklock.HostIP()},
				{Title: "Started", Value: now.Format(time.RFC3339)},
				{Title: "Elapsed", Value: utils.FormatDuration(s.now().Sub(now))},
			},
		})
	} else if desc != "" {
		log.Info("job finished", zap.String("result", desc), zap.Duration("took", s.now().Sub(now)))
	}

	s.release(ctx, lock, desc, log)
	return outcome
}

func (s *Scheduler) release(ctx context.Context, lock *tasklock.Lock, desc string, log *zap.Logger) {
	// Release even when the cycle's context was cancelled.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := lock.Release(ctx, desc); err != nil {
		log.Error("failed to release job lock", zap.Error(err))
	}
}
