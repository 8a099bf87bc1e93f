package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alertflow/alertflow/internal/alerts"
	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/metrics"
)

// ErrAlertNotFound is returned when an alert id matches no firing or
// resolved row visible to the caller.
var ErrAlertNotFound = errors.New("alert not found")

// Resolution reasons reported in metrics and logs
const (
	ReasonExpired = "expired"
	ReasonTicket  = "ticket"
)

// AlertService is the firing/resolved state machine
type AlertService struct {
	db        *gorm.DB
	log       *zap.Logger
	metrics   *metrics.Metrics
	policy    config.Policy
	quorum    *QuorumService
	lifetimes *LifetimeService
	now       func() time.Time
}

// NewAlertService creates a new AlertService
func NewAlertService(
	db *gorm.DB,
	policy config.Policy,
	quorum *QuorumService,
	lifetimes *LifetimeService,
	m *metrics.Metrics,
	log *zap.Logger,
) *AlertService {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &AlertService{
		db:        db,
		log:       log,
		metrics:   m,
		policy:    policy,
		quorum:    quorum,
		lifetimes: lifetimes,
		now:       time.Now,
	}
}

// IngestResult summarises one ingested batch
type IngestResult struct {
	Accepted int
	Staged   int
	Promoted int
	Rejected int
	Errors   error
}

// Ingest classifies a batch and feeds it through the state machine. A bad
// event is rejected on its own and the rest of the batch continues. Website
// reports are staged and promoted once quorum is reached.
func (s *AlertService) Ingest(ctx context.Context, events []alerts.RawEvent) IngestResult {
	var res IngestResult
	for _, e := range events {
		if ctx.Err() != nil {
			res.Errors = multierr.Append(res.Errors, ctx.Err())
			return res
		}
		c, err := alerts.Classify(e)
		if err != nil {
			res.Rejected++
			s.metrics.EventsRejected.WithLabelValues(rejectReason(err)).Inc()
			s.log.Warn("rejected event", zap.Error(err), zap.Any("labels", e.Labels))
			continue
		}

		if c.Type == database.AlertTypeWebsite {
			if err := s.quorum.UpsertPreAlert(c, e.Labels); err != nil {
				res.Errors = multierr.Append(res.Errors, err)
				continue
			}
			res.Staged++
			continue
		}

		if _, err := s.UpsertFiring(c, e.Labels); err != nil {
			res.Errors = multierr.Append(res.Errors, err)
			continue
		}
		res.Accepted++
		s.metrics.EventsIngested.WithLabelValues(string(c.Type)).Inc()
	}

	// Every batch re-checks staged groups: a disabled probe lowers the
	// quorum without any new website report arriving.
	promoted, err := s.quorum.PromoteQuorum()
	if err != nil {
		res.Errors = multierr.Append(res.Errors, err)
	}
	for _, c := range promoted {
		if _, err := s.UpsertFiring(c, map[string]string{urlHashLabel: c.URLHash}); err != nil {
			res.Errors = multierr.Append(res.Errors, err)
			continue
		}
		res.Promoted++
		s.metrics.QuorumPromotions.Inc()
		s.metrics.EventsIngested.WithLabelValues(string(c.Type)).Inc()
	}
	return res
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, alerts.ErrInvalidCluster):
		return "invalid_cluster"
	case errors.Is(err, alerts.ErrMissingField):
		return "missing_field"
	default:
		return "other"
	}
}

// EndWindow returns how far a sighting pushes the alert's predicted end.
// Urgent clusters get the short window; a fingerprint that resolved often in
// the lookback period is treated as flapping and gets the long one.
func (s *AlertService) EndWindow(tx *gorm.DB, cluster, fingerprint string, now time.Time) time.Duration {
	w := s.policy.EndWindow
	if s.policy.IsUrgentCluster(cluster) {
		return w.Urgent
	}
	var n int64
	err := tx.Model(&database.ResolvedAlert{}).
		Where("fingerprint = ? AND start >= ?", fingerprint, now.Add(-w.NoisyLookback)).
		Count(&n).Error
	if err != nil {
		s.log.Warn("failed to count recent resolutions", zap.String("fingerprint", fingerprint), zap.Error(err))
		return w.Default
	}
	if n >= int64(w.NoisyThreshold) {
		return w.Noisy
	}
	return w.Default
}

// UpsertFiring inserts a new firing alert or extends the existing one with
// the same fingerprint. The returned bool is true when a row was created.
func (s *AlertService) UpsertFiring(c alerts.Classification, labels map[string]string) (bool, error) {
	now := s.now()
	var created *database.Alert

	err := s.db.Transaction(func(tx *gorm.DB) error {
		end := now.Add(s.EndWindow(tx, c.Cluster, c.Fingerprint, now))

		row := &database.Alert{
			Fingerprint: c.Fingerprint,
			Start:       now,
			AlertAttrs:  attrsFrom(c, labels, end),
		}
		row.CreatedAt = now
		row.UpdatedAt = now
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return fmt.Errorf("failed to create alert: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			created = row
			return nil
		}

		var existing database.Alert
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("fingerprint = ?", c.Fingerprint).
			First(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to load firing alert: %w", err)
		}
		if existing.End.After(end) {
			end = existing.End
		}
		return tx.Model(&existing).Updates(map[string]interface{}{
			"end_time":    end,
			"description": c.Description,
			"count":       gorm.Expr("count + ?", 1),
			"updated_at":  now,
		}).Error
	})
	if err != nil {
		return false, err
	}

	if created != nil {
		// the alert stays firing if this fails; it is not retried
		if err := s.lifetimes.Open(created.ID, created.Start); err != nil {
			s.log.Warn("failed to open alert lifetime", zap.String("alert_id", created.ID), zap.Error(err))
		}
		return true, nil
	}
	return false, nil
}

// SweepResult summarises one auto-resolve pass
type SweepResult struct {
	Resolved        int
	AwaitingTicket  int
	AlreadyResolved int
	Extended        int
}

// ResolveExpired moves every firing alert whose end has elapsed to the
// resolved table. Log alerts without a ticket stay firing. Per-alert
// failures are collected and the sweep continues.
func (s *AlertService) ResolveExpired(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var res SweepResult

	var expired []database.Alert
	if err := s.db.Where("end_time <= ?", now).Order("end_time ASC").Find(&expired).Error; err != nil {
		return res, fmt.Errorf("failed to list expired alerts: %w", err)
	}

	var errs error
	for i := range expired {
		if ctx.Err() != nil {
			return res, multierr.Append(errs, ctx.Err())
		}
		a := &expired[i]
		if a.IsLog() && a.TicketID == nil {
			res.AwaitingTicket++
			continue
		}
		moved, inserted, err := s.resolveExpired(a.ID, now)
		if errors.Is(err, errAlertExtended) {
			res.Extended++
			s.log.Debug("alert extended before the sweep reached it", zap.String("alert_id", a.ID))
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !inserted {
			res.AlreadyResolved++
		}
		res.Resolved++
		s.metrics.AlertsResolved.WithLabelValues(ReasonExpired).Inc()
		s.closeLifetime(moved.ID, moved.End, database.LifetimeResolved)
	}
	return res, errs
}

// errAlertExtended marks a sweep candidate that was re-sighted, or already
// moved, between listing and locking.
var errAlertExtended = errors.New("alert no longer expired")

// resolveExpired moves one alert if it is still firing and still expired at
// now, judged on the row read under lock. It returns the row that was moved.
func (s *AlertService) resolveExpired(id string, now time.Time) (*database.Alert, bool, error) {
	var moved database.Alert
	inserted := true
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND end_time <= ?", id, now).
			First(&moved).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errAlertExtended
		}
		if err != nil {
			return fmt.Errorf("failed to lock expired alert %s: %w", id, err)
		}
		recovery := now
		if moved.Recovery != nil {
			recovery = *moved.Recovery
		}
		inserted, err = s.moveLocked(tx, &moved, recovery)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return &moved, inserted, nil
}

// MoveToResolved inserts the resolved copy of a and deletes it from the
// firing table in one transaction. The copy is built from the row as locked
// inside the transaction, not from a. An existing resolved row with the same
// identity is accepted; the bool is false in that case.
func (s *AlertService) MoveToResolved(a *database.Alert, recovery time.Time) (bool, error) {
	inserted := true
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var fresh database.Alert
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", a.ID).First(&fresh).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrAlertNotFound, a.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock firing alert %s: %w", a.ID, err)
		}
		inserted, err = s.moveLocked(tx, &fresh, recovery)
		return err
	})
	return inserted, err
}

func (s *AlertService) moveLocked(tx *gorm.DB, a *database.Alert, recovery time.Time) (bool, error) {
	r := a.ToResolved()
	r.Recovery = &recovery
	r.UpdatedAt = s.now()
	result, err := database.InsertResolved(tx, r)
	if err != nil {
		return false, fmt.Errorf("failed to insert resolved alert %s: %w", a.ID, err)
	}
	if result == database.AlreadyExists {
		s.log.Debug("resolved alert already present", zap.String("alert_id", a.ID), zap.String("fingerprint", a.Fingerprint))
	}
	if err := tx.Where("id = ?", a.ID).Delete(&database.Alert{}).Error; err != nil {
		return false, fmt.Errorf("failed to delete firing alert %s: %w", a.ID, err)
	}
	return result == database.Inserted, nil
}

// CloseByTicket handles a resolution attached to a ticket. Every firing
// alert linked to the ticket is stamped recovered and its lifetime closed as
// a work order; log alerts leave the firing set immediately, other types
// leave on their next expiry sweep.
func (s *AlertService) CloseByTicket(ticketID string) (int, error) {
	now := s.now()

	var linked []database.Alert
	if err := s.db.Where("ticket_id = ?", ticketID).Find(&linked).Error; err != nil {
		return 0, fmt.Errorf("failed to list alerts for ticket %s: %w", ticketID, err)
	}

	var errs error
	closed := 0
	for i := range linked {
		a := &linked[i]
		err := s.db.Model(a).Updates(map[string]interface{}{
			"recovery":   now,
			"status":     database.AlertStatusResolved,
			"updated_at": now,
		}).Error
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to stamp alert %s: %w", a.ID, err))
			continue
		}
		a.Recovery = &now
		a.Status = database.AlertStatusResolved

		if a.IsLog() {
			if _, err := s.MoveToResolved(a, now); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			s.metrics.AlertsResolved.WithLabelValues(ReasonTicket).Inc()
		}
		s.closeLifetime(a.ID, now, database.LifetimeWorkOrder)
		closed++
	}
	return closed, errs
}

func (s *AlertService) closeLifetime(alertID string, end time.Time, status database.LifetimeStatus) {
	if _, err := s.lifetimes.Close(alertID, end, status); err != nil {
		s.log.Warn("failed to close alert lifetime", zap.String("alert_id", alertID), zap.Error(err))
	}
}

// GetFiring returns the firing alert with the given fingerprint
func (s *AlertService) GetFiring(fingerprint string) (*database.Alert, error) {
	var a database.Alert
	if err := s.db.Where("fingerprint = ?", fingerprint).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return &a, nil
}
