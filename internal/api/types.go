package api

import (
	"time"

	"github.com/alertflow/alertflow/internal/database"
)

// ========== Auth Types ==========

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// ========== Receiver Types ==========

// IngestResponse acknowledges a receiver batch. Processing is asynchronous.
type IngestResponse struct {
	Received int `json:"received"`
}

// ========== Alert Types ==========

// AlertResponse is a firing or resolved alert as returned by the query API.
type AlertResponse struct {
	ID                string                 `json:"id"`
	Fingerprint       string                 `json:"fingerprint"`
	Name              string                 `json:"name"`
	Type              database.AlertType     `json:"type"`
	Instance          string                 `json:"instance"`
	Port              string                 `json:"port"`
	Cluster           string                 `json:"cluster"`
	Severity          database.AlertSeverity `json:"severity"`
	Summary           string                 `json:"summary"`
	Description       string                 `json:"description"`
	Labels            map[string]string      `json:"labels"`
	Start             time.Time              `json:"start"`
	End               time.Time              `json:"end"`
	Recovery          *time.Time             `json:"recovery"`
	Status            database.AlertStatus   `json:"status"`
	Count             int                    `json:"count"`
	TicketID          *string                `json:"ticket_id"`
	FirstNotification *time.Time             `json:"first_notification"`
	LastNotification  *time.Time             `json:"last_notification"`
	CreatedAt         time.Time              `json:"creation"`
}

// AlertListResponse is one page of GET /api/v1/alerts.
type AlertListResponse struct {
	Alerts     []AlertResponse `json:"alerts"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ========== Ticket Types ==========

// CreateTicketRequest is the request body for POST /api/v1/tickets.
type CreateTicketRequest struct {
	Title      string   `json:"title" validate:"required,max=255"`
	AlertIDs   []string `json:"alert_ids" validate:"required,min=1,dive,required,max=36"`
	Resolution string   `json:"resolution"`
}

// ResolveTicketRequest is the request body for POST /api/v1/tickets/{id}/resolve.
type ResolveTicketRequest struct {
	Resolution string `json:"resolution" validate:"required"`
}

// TicketResponse is a work order.
type TicketResponse struct {
	ID         string                `json:"id"`
	Title      string                `json:"title"`
	Resolution string                `json:"resolution"`
	Submitter  string                `json:"submitter"`
	Status     database.TicketStatus `json:"status"`
	ResolvedAt *time.Time            `json:"resolved_at"`
	CreatedAt  time.Time             `json:"created_at"`
}

// ========== Notification Types ==========

// NotificationResponse is one ledger row.
type NotificationResponse struct {
	AlertID string    `json:"alert_id"`
	Email   string    `json:"email"`
	SentAt  time.Time `json:"sent_at"`
}

// ========== Task Lock Types ==========

// TaskLockResponse is the state of one job lock.
type TaskLockResponse struct {
	Task       string                  `json:"task"`
	Status     database.TaskLockStatus `json:"status"`
	Expired    bool                    `json:"expired"`
	ExpireTime *time.Time              `json:"expire_time"`
	StartTime  *time.Time              `json:"start_time"`
	EndTime    *time.Time              `json:"end_time"`
	Host       string                  `json:"host"`
	RunDesc    string                  `json:"run_desc"`
	NotifyTime *time.Time              `json:"notify_time"`
}
