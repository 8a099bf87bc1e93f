package database

import (
	"time"
)

// AlertType is derived from the monitor cluster an event was reported by
type AlertType string

const (
	AlertTypeMetric  AlertType = "metric"
	AlertTypeLog     AlertType = "log"
	AlertTypeWebsite AlertType = "webmonitor"
)

// AlertSeverity represents normalized severity levels
type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// ValidSeverity reports whether s is one of the accepted severities
func ValidSeverity(s string) bool {
	switch AlertSeverity(s) {
	case AlertSeverityWarning, AlertSeverityError, AlertSeverityCritical:
		return true
	}
	return false
}

// AlertStatus represents normalized alert status
type AlertStatus string

const (
	AlertStatusFiring   AlertStatus = "firing"
	AlertStatusResolved AlertStatus = "resolved"
)

// Operator is a person who can own monitor units, receive alert mail and
// query the alert API.
type Operator struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:128;not null" json:"username"`
	Email        string    `gorm:"size:255;not null" json:"email"`
	PasswordHash string    `gorm:"size:255" json:"-"`
	IsAdmin      bool      `gorm:"not null" json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DataCenter groups monitor units; its operators administer every unit in it.
type DataCenter struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Name      string     `gorm:"size:255;not null" json:"name"`
	Operators []Operator `gorm:"many2many:data_center_operators;" json:"operators,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// MonitorUnit is a monitored host cluster identified by its job tag
// (e.g. "db1_node_metric").
type MonitorUnit struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	Name         string      `gorm:"size:255;not null" json:"name"`
	JobTag       string      `gorm:"uniqueIndex;size:255;not null" json:"job_tag"`
	DataCenterID *uint       `gorm:"index" json:"data_center_id"`
	DataCenter   *DataCenter `gorm:"foreignKey:DataCenterID" json:"data_center,omitempty"`
	Operators    []Operator  `gorm:"many2many:monitor_unit_operators;" json:"operators,omitempty"`
	SortWeight   int         `json:"sort_weight"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// MonitorWebsite is a probed URL; URLHash is the identity website alerts carry.
type MonitorWebsite struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	Name         string      `gorm:"size:255" json:"name"`
	URL          string      `gorm:"type:text;not null" json:"url"`
	URLHash      string      `gorm:"size:64;not null;index" json:"url_hash"`
	OwnerID      uint        `gorm:"index" json:"owner_id"`
	Owner        Operator    `gorm:"foreignKey:OwnerID" json:"-"`
	DataCenterID *uint       `gorm:"index" json:"data_center_id"`
	DataCenter   *DataCenter `gorm:"foreignKey:DataCenterID" json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ProbePoint is a website probe location; enabled probes form the quorum.
type ProbePoint struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func (Operator) TableName() string {
	return "operators"
}

func (DataCenter) TableName() string {
	return "data_centers"
}

func (MonitorUnit) TableName() string {
	return "monitor_units"
}

func (MonitorWebsite) TableName() string {
	return "monitor_websites"
}

func (ProbePoint) TableName() string {
	return "probe_points"
}
