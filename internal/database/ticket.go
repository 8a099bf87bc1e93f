package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TicketStatus is open until a resolution is attached
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Ticket is an operator work order. Alerts reference it through Alert.TicketID.
type Ticket struct {
	ID         string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title      string       `gorm:"type:varchar(255);not null" json:"title"`
	Resolution string       `gorm:"type:text" json:"resolution"`
	Submitter  string       `gorm:"type:varchar(128);not null;index" json:"submitter"`
	Status     TicketStatus `gorm:"type:varchar(20);not null;default:'open'" json:"status"`
	ResolvedAt *time.Time   `json:"resolved_at"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was set
func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

func (Ticket) TableName() string {
	return "tickets"
}
