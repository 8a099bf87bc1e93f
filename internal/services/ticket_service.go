package services

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alertflow/alertflow/internal/database"
)

var (
	// ErrTicketExists is returned when an alert is already linked to a ticket
	ErrTicketExists = errors.New("alert already has a ticket")
	// ErrTicketNotFound is returned for an unknown ticket id
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketClosed is returned when resolving a ticket twice
	ErrTicketClosed = errors.New("ticket already resolved")
)

// CreateTicketInput describes a new work order
type CreateTicketInput struct {
	AlertIDs   []string
	Title      string
	Resolution string
	Submitter  string
}

// TicketService links work orders to firing alerts and releases them when a
// resolution is attached.
type TicketService struct {
	db     *gorm.DB
	alerts *AlertService
	log    *zap.Logger
	now    func() time.Time
}

// NewTicketService creates a new TicketService
func NewTicketService(db *gorm.DB, alertService *AlertService, log *zap.Logger) *TicketService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TicketService{db: db, alerts: alertService, log: log, now: time.Now}
}

// Create opens a ticket for the given firing alerts. Every alert must exist
// and be unticketed. A ticket created with a resolution is resolved at once.
func (s *TicketService) Create(in CreateTicketInput) (*database.Ticket, error) {
	ids := uniqueStrings(in.AlertIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no alerts given", ErrAlertNotFound)
	}

	ticket := &database.Ticket{
		Title:     in.Title,
		Submitter: in.Submitter,
		Status:    database.TicketOpen,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var linked []database.Alert
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).Find(&linked).Error; err != nil {
			return fmt.Errorf("failed to load alerts: %w", err)
		}
		if len(linked) != len(ids) {
			return ErrAlertNotFound
		}
		for _, a := range linked {
			if a.TicketID != nil {
				return fmt.Errorf("%w: %s", ErrTicketExists, a.ID)
			}
		}

		if err := tx.Create(ticket).Error; err != nil {
			return fmt.Errorf("failed to create ticket: %w", err)
		}
		res := tx.Model(&database.Alert{}).
			Where("id IN ? AND ticket_id IS NULL", ids).
			Update("ticket_id", ticket.ID)
		if res.Error != nil {
			return fmt.Errorf("failed to link alerts: %w", res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return ErrTicketExists
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("submitter", in.Submitter),
		zap.Int("alerts", len(ids)))

	if in.Resolution != "" {
		return s.Resolve(ticket.ID, in.Resolution)
	}
	return ticket, nil
}

// Resolve attaches a resolution and releases the linked alerts
func (s *TicketService) Resolve(ticketID, resolution string) (*database.Ticket, error) {
	now := s.now()
	var ticket database.Ticket

	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", ticketID).First(&ticket).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		if ticket.Status == database.TicketClosed {
			return ErrTicketClosed
		}
		ticket.Resolution = resolution
		ticket.Status = database.TicketClosed
		ticket.ResolvedAt = &now
		return tx.Save(&ticket).Error
	})
	if err != nil {
		return nil, err
	}

	n, err := s.alerts.CloseByTicket(ticket.ID)
	if err != nil {
		// the ticket stays closed; linked log alerts are picked up by the sweep
		s.log.Warn("failed to close some alerts for ticket", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	s.log.Info("ticket resolved", zap.String("ticket_id", ticket.ID), zap.Int("alerts_closed", n))
	return &ticket, nil
}

// Get returns a ticket by id
func (s *TicketService) Get(ticketID string) (*database.Ticket, error) {
	var t database.Ticket
	if err := s.db.Where("id = ?", ticketID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
