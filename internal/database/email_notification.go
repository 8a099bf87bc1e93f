package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailNotification is an append-only ledger row: one alert mailed to one
// recipient at a minute-truncated timestamp.
type EmailNotification struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AlertID   string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_notification_alert_email_ts" json:"alert_id"`
	Email     string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_notification_alert_email_ts;index:idx_notification_email_ts,priority:1" json:"email"`
	Timestamp time.Time `gorm:"column:sent_at;not null;uniqueIndex:idx_notification_alert_email_ts;index:idx_notification_email_ts,priority:2" json:"timestamp"`
}

// BeforeCreate assigns a UUID when none was set
func (n *EmailNotification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}

func (EmailNotification) TableName() string {
	return "alert_email_notifications"
}
