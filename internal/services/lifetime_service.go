package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alertflow/alertflow/internal/database"
)

// LifetimeService maintains the alert duration ledger. Only the state
// machine writes to it.
type LifetimeService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewLifetimeService creates a new LifetimeService
func NewLifetimeService(db *gorm.DB, log *zap.Logger) *LifetimeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LifetimeService{db: db, log: log}
}

// Open records the start of an alert's life. Opening twice is a no-op.
func (s *LifetimeService) Open(alertID string, start time.Time) error {
	row := &database.AlertLifetime{
		AlertID: alertID,
		Start:   start,
		Status:  database.LifetimeFiring,
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return fmt.Errorf("failed to open lifetime for alert %s: %w", alertID, err)
	}
	return nil
}

// Close writes the terminal end and status. Only a row whose end is still
// NULL is touched, so concurrent or repeated closes leave the first result in
// place. The bool reports whether this call closed the row.
func (s *LifetimeService) Close(alertID string, end time.Time, status database.LifetimeStatus) (bool, error) {
	res := s.db.Model(&database.AlertLifetime{}).
		Where("alert_id = ? AND end_time IS NULL", alertID).
		Updates(map[string]interface{}{
			"end_time": end,
			"status":   status,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to close lifetime for alert %s: %w", alertID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Get returns the lifetime row of an alert
func (s *LifetimeService) Get(alertID string) (*database.AlertLifetime, error) {
	var row database.AlertLifetime
	if err := s.db.Where("alert_id = ?", alertID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Reconcile closes lifetime rows left open by a crash between moving an
// alert to the resolved table and closing its lifetime. Rows whose alert is
// still firing are left alone. Returns the number of rows closed.
func (s *LifetimeService) Reconcile() (int, error) {
	var open []database.AlertLifetime
	err := s.db.Where("end_time IS NULL").
		Where("alert_id NOT IN (?)", s.db.Model(&database.Alert{}).Select("id")).
		Where("alert_id IN (?)", s.db.Model(&database.ResolvedAlert{}).Select("id")).
		Find(&open).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned lifetimes: %w", err)
	}

	closed := 0
	for _, lt := range open {
		var resolved database.ResolvedAlert
		if err := s.db.Where("id = ?", lt.AlertID).First(&resolved).Error; err != nil {
			s.log.Warn("resolved alert vanished during reconcile", zap.String("alert_id", lt.AlertID), zap.Error(err))
			continue
		}

		end, status := resolved.End, database.LifetimeResolved
		if resolved.TicketID != nil && resolved.Recovery != nil {
			end, status = *resolved.Recovery, database.LifetimeWorkOrder
		}
		ok, err := s.Close(lt.AlertID, end, status)
		if err != nil {
			s.log.Warn("failed to reconcile lifetime", zap.String("alert_id", lt.AlertID), zap.Error(err))
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}
