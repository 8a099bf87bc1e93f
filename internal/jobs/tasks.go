package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/notification"
	"github.com/alertflow/alertflow/internal/services"
)

// Lock names of the built-in jobs
const (
	ResolveJobName   = "alert-resolve"
	NotifyJobName    = "alert-email-notification"
	PurgeJobName     = "website-prealert-purge"
	ReconcileJobName = "alert-lifetime-reconcile"
)

// ResolveJob moves expired firing alerts to the resolved table
func ResolveJob(alerts *services.AlertService, interval time.Duration) Job {
	return Job{
		Name:     ResolveJobName,
		Interval: interval,
		Run: func(ctx context.Context) (string, error) {
			res, err := alerts.ResolveExpired(ctx)
			desc := fmt.Sprintf("resolved=%d awaiting_ticket=%d already_resolved=%d extended=%d",
				res.Resolved, res.AwaitingTicket, res.AlreadyResolved, res.Extended)
			return desc, err
		},
	}
}

// NotifyJob runs one notification cycle
func NotifyJob(engine *notification.Engine, interval time.Duration) Job {
	return Job{
		Name:     NotifyJobName,
		Interval: interval,
		Run: func(ctx context.Context) (string, error) {
			res, err := engine.Run(ctx)
			desc := fmt.Sprintf("candidates=%d recipients=%d sent=%d throttled=%d dropped=%d",
				res.Candidates, res.Recipients, res.Sent, res.Throttled, res.Dropped)
			return desc, err
		},
	}
}

// PurgeJob deletes long-expired website pre-alerts
func PurgeJob(quorum *services.QuorumService, interval time.Duration) Job {
	return Job{
		Name:     PurgeJobName,
		Interval: interval,
		Run: func(ctx context.Context) (string, error) {
			n, err := quorum.Purge()
			return fmt.Sprintf("purged=%d", n), err
		},
	}
}

// ReconcileJob closes lifetime rows left open for alerts that already resolved
func ReconcileJob(lifetimes *services.LifetimeService, interval time.Duration) Job {
	return Job{
		Name:     ReconcileJobName,
		Interval: interval,
		Run: func(ctx context.Context) (string, error) {
			n, err := lifetimes.Reconcile()
			return fmt.Sprintf("closed=%d", n), err
		},
	}
}

// Deps are the services the built-in jobs run against
type Deps struct {
	Alerts    *services.AlertService
	Quorum    *services.QuorumService
	Lifetimes *services.LifetimeService
	Engine    *notification.Engine
}

// Defaults returns the built-in jobs on the schedule from policy.
// Reconciliation shares the purge interval.
func Defaults(d Deps, sched config.Schedule) []Job {
	return []Job{
		ResolveJob(d.Alerts, sched.Sweep),
		NotifyJob(d.Engine, sched.Notify),
		PurgeJob(d.Quorum, sched.Purge),
		ReconcileJob(d.Lifetimes, sched.Purge),
	}
}
