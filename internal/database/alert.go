package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AlertAttrs holds the columns shared by pre-alerts, firing alerts and
// resolved alerts.
type AlertAttrs struct {
	Name              string        `gorm:"type:varchar(100)" json:"name"`
	Type              AlertType     `gorm:"type:varchar(20);not null;index" json:"type"`
	Instance          string        `gorm:"type:varchar(100);not null;default:'';index" json:"instance"`
	Port              string        `gorm:"type:varchar(100);not null;default:''" json:"port"`
	Cluster           string        `gorm:"type:varchar(100);index" json:"cluster"`
	Severity          AlertSeverity `gorm:"type:varchar(20)" json:"severity"`
	Summary           string        `gorm:"type:text;not null" json:"summary"`
	Description       string        `gorm:"type:text;not null" json:"description"`
	Labels            Labels        `gorm:"type:text" json:"labels"`
	End               time.Time     `gorm:"column:end_time;not null;index" json:"end"`
	Recovery          *time.Time    `json:"recovery"`
	Status            AlertStatus   `gorm:"type:varchar(20);not null;default:'firing'" json:"status"`
	Count             int           `gorm:"not null;default:1" json:"count"`
	TicketID          *string       `gorm:"type:varchar(36);index" json:"ticket_id"`
	FirstNotification *time.Time    `json:"first_notification"`
	LastNotification  *time.Time    `json:"last_notification"`
	CreatedAt         time.Time     `gorm:"index" json:"creation"`
	UpdatedAt         time.Time     `json:"modification"`
}

// PreAlert stages one website probe report until every enabled probe agrees.
// Fingerprint is unique per probe report; Summary is the content signature
// reports are grouped by.
type PreAlert struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Fingerprint string    `gorm:"type:varchar(40);not null;uniqueIndex" json:"fingerprint"`
	Start       time.Time `gorm:"not null;index" json:"start"`
	AlertAttrs
}

// Alert is a firing alert. Exactly one row exists per fingerprint.
type Alert struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Fingerprint string    `gorm:"type:varchar(40);not null;uniqueIndex" json:"fingerprint"`
	Start       time.Time `gorm:"not null;index" json:"start"`
	AlertAttrs
}

// ResolvedAlert is an alert moved out of the firing set. The same fingerprint
// can resolve many times, so uniqueness is on (fingerprint, start).
type ResolvedAlert struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Fingerprint string    `gorm:"type:varchar(40);not null;uniqueIndex:idx_resolved_fingerprint_start" json:"fingerprint"`
	Start       time.Time `gorm:"not null;uniqueIndex:idx_resolved_fingerprint_start" json:"start"`
	AlertAttrs
}

// BeforeCreate assigns a UUID when none was set
func (p *PreAlert) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// BeforeCreate assigns a UUID when none was set
func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// IsLog reports whether the alert needs a ticket before it may resolve
func (a *Alert) IsLog() bool {
	return a.Type == AlertTypeLog
}

// ToResolved copies the alert into its resolved shape, keeping the ID.
func (a *Alert) ToResolved() *ResolvedAlert {
	r := &ResolvedAlert{
		ID:          a.ID,
		Fingerprint: a.Fingerprint,
		Start:       a.Start,
		AlertAttrs:  a.AlertAttrs,
	}
	r.Status = AlertStatusResolved
	return r
}

// InsertResult tells whether an insert-or-ignore created a row
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyExists
)

func (r InsertResult) String() string {
	if r == AlreadyExists {
		return "already_exists"
	}
	return "inserted"
}

// InsertResolved inserts r unless a row with the same ID or the same
// (fingerprint, start) already exists.
func InsertResolved(tx *gorm.DB, r *ResolvedAlert) (InsertResult, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(r)
	if res.Error != nil {
		return Inserted, res.Error
	}
	if res.RowsAffected == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

func (PreAlert) TableName() string {
	return "alert_prepare"
}

func (Alert) TableName() string {
	return "alert_firing"
}

func (ResolvedAlert) TableName() string {
	return "alert_resolved"
}
