package database

import "time"

// LifetimeStatus records how an alert left the firing set
type LifetimeStatus string

const (
	LifetimeFiring    LifetimeStatus = "firing"
	LifetimeResolved  LifetimeStatus = "resolved"
	LifetimeWorkOrder LifetimeStatus = "work_order"
)

// AlertLifetime is the duration ledger row of one alert. End stays NULL while
// the alert fires and is written exactly once.
type AlertLifetime struct {
	AlertID   string         `gorm:"primaryKey;type:varchar(36)" json:"alert_id"`
	Start     time.Time      `gorm:"not null" json:"start"`
	End       *time.Time     `gorm:"column:end_time;index" json:"end"`
	Status    LifetimeStatus `gorm:"type:varchar(20);not null;default:'firing'" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Duration returns the time from start to end, or zero while open.
func (l *AlertLifetime) Duration() time.Duration {
	if l.End == nil {
		return 0
	}
	return l.End.Sub(l.Start)
}

func (AlertLifetime) TableName() string {
	return "alert_lifetimes"
}
