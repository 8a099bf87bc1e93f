// Package notification mails firing alerts to their owners, throttled per
// recipient against the notification ledger.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/metrics"
	"github.com/alertflow/alertflow/internal/services"
	"github.com/alertflow/alertflow/internal/workers"
)

const (
	digestHour  = 8
	dailyMinAge = 24 * time.Hour
	dailyMaxAge = 72 * time.Hour
)

// Dispatcher hands mail delivery to background workers without blocking
type Dispatcher interface {
	TrySubmit(task workers.Task) error
}

// RunResult summarises one notification run
type RunResult struct {
	Candidates int
	Recipients int
	Sent       int
	Throttled  int
	Dropped    int
}

// Engine runs the notification cycle
type Engine struct {
	db       *gorm.DB
	owners   *services.OwnershipService
	throttle *Throttle
	composer *Composer
	mailer   Mailer
	dispatch Dispatcher
	metrics  *metrics.Metrics
	log      *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewEngine wires a notification engine
func NewEngine(
	db *gorm.DB,
	owners *services.OwnershipService,
	mailer Mailer,
	dispatch Dispatcher,
	limits config.ThrottleLimits,
	loc *time.Location,
	portalURL string,
	m *metrics.Metrics,
	log *zap.Logger,
) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Engine{
		db:       db,
		owners:   owners,
		throttle: NewThrottle(db, limits, loc),
		composer: NewComposer(portalURL, loc),
		mailer:   mailer,
		dispatch: dispatch,
		metrics:  m,
		log:      log,
		loc:      loc,
		now:      time.Now,
	}
}

// Slots reports whether now is the daily digest slot and the weekly rollup
// slot.
func Slots(now time.Time) (daily, weekly bool) {
	daily = now.Hour() == digestHour && now.Minute() == 0
	weekly = daily && now.Weekday() == time.Monday
	return daily, weekly
}

// SelectCandidates returns the firing alerts due for mail at now, ordered by
// instance then start. Never-notified alerts always qualify; notified ones
// only in the digest slots.
func (e *Engine) SelectCandidates(now time.Time) ([]database.Alert, error) {
	var firing []database.Alert
	err := e.db.Where("status = ?", database.AlertStatusFiring).
		Order("instance ASC, start ASC").
		Find(&firing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list firing alerts: %w", err)
	}

	daily, weekly := Slots(now.In(e.loc))
	out := firing[:0]
	for _, a := range firing {
		if a.FirstNotification == nil {
			out = append(out, a)
			continue
		}
		age := now.Sub(a.Start)
		switch {
		case daily && age >= dailyMinAge && age <= dailyMaxAge:
			out = append(out, a)
		case weekly && age > dailyMaxAge:
			out = append(out, a)
		}
	}
	return out, nil
}

// ResolveRecipients expands alerts into (recipient, alert) pairs. Lookup
// failures skip the alert.
func (e *Engine) ResolveRecipients(resolver *services.RecipientResolver, candidates []database.Alert) ([]Delivery, error) {
	var out []Delivery
	var errs error
	for _, a := range candidates {
		rec, err := resolver.Resolve(&a)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("alert %s: %w", a.ID, err))
			continue
		}
		for _, email := range rec.Emails {
			out = append(out, Delivery{Email: email, Unit: rec.Unit, Alert: a})
		}
	}
	return out, errs
}

// Run executes one notification cycle
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	now := e.now()
	var res RunResult

	candidates, err := e.SelectCandidates(now)
	if err != nil {
		return res, err
	}
	res.Candidates = len(candidates)
	if len(candidates) == 0 {
		return res, nil
	}

	deliveries, errs := e.ResolveRecipients(e.owners.NewResolver(), candidates)
	batches := GroupByRecipient(deliveries)
	res.Recipients = len(batches)

	stamp := now.Truncate(time.Minute)
	windows := e.throttle.Windows(now)
	for _, b := range batches {
		if ctx.Err() != nil {
			return res, multierr.Append(errs, ctx.Err())
		}

		counts, err := e.throttle.Counts(b.Email, now)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !e.throttle.Permit(counts) {
			res.Throttled++
			e.metrics.RecipientsThrottle.Inc()
			e.log.Debug("recipient throttled",
				zap.String("email", b.Email),
				zap.Int("daily", counts.Daily),
				zap.Int("four_hourly", counts.FourHourly),
				zap.Int("hourly", counts.Hourly))
			continue
		}

		msg, err := e.composer.Compose(b, e.throttle.QuietUntil(counts, windows))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if err := e.dispatch.TrySubmit(e.sendTask(msg)); err != nil {
			if errors.Is(err, workers.ErrQueueFull) || errors.Is(err, workers.ErrPoolClosed) {
				res.Dropped++
				e.metrics.MailQueueFull.Inc()
				e.log.Warn("mail queue unavailable, recipient retried next run",
					zap.String("email", b.Email), zap.Error(err))
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}

		if err := e.Record(b, stamp); err != nil {
			e.log.Warn("failed to record notification", zap.String("email", b.Email), zap.Error(err))
		}
		res.Sent++
		e.metrics.NotificationsSent.Inc()
	}
	return res, errs
}

func (e *Engine) sendTask(msg Message) workers.Task {
	return func(ctx context.Context) {
		if err := e.mailer.Send(ctx, msg); err != nil {
			e.metrics.MailFailures.Inc()
			e.log.Warn("mail delivery failed",
				zap.Strings("to", msg.To),
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
	}
}

// Record writes one ledger row per alert in b at stamp and marks the alerts
// notified.
func (e *Engine) Record(b Batch, stamp time.Time) error {
	stamp = stamp.UTC()
	return e.db.Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(b.Alerts))
		for _, a := range b.Alerts {
			row := &database.EmailNotification{AlertID: a.ID, Email: b.Email, Timestamp: stamp}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
				return fmt.Errorf("failed to insert ledger row: %w", err)
			}
			ids = append(ids, a.ID)
		}
		return tx.Model(&database.Alert{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"first_notification": gorm.Expr("COALESCE(first_notification, ?)", stamp),
			"last_notification":  stamp,
		}).Error
	})
}
