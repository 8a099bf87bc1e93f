package api

import (
	"time"

	"github.com/alertflow/alertflow/internal/database"
)

// AlertToResponse converts a database Alert to its API shape.
func AlertToResponse(a database.Alert) AlertResponse {
	labels := map[string]string(a.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	return AlertResponse{
		ID:                a.ID,
		Fingerprint:       a.Fingerprint,
		Name:              a.Name,
		Type:              a.Type,
		Instance:          a.Instance,
		Port:              a.Port,
		Cluster:           a.Cluster,
		Severity:          a.Severity,
		Summary:           a.Summary,
		Description:       a.Description,
		Labels:            labels,
		Start:             a.Start,
		End:               a.End,
		Recovery:          a.Recovery,
		Status:            a.Status,
		Count:             a.Count,
		TicketID:          a.TicketID,
		FirstNotification: a.FirstNotification,
		LastNotification:  a.LastNotification,
		CreatedAt:         a.CreatedAt,
	}
}

// AlertsToResponses converts a slice of alerts, never returning nil.
func AlertsToResponses(alerts []database.Alert) []AlertResponse {
	out := make([]AlertResponse, len(alerts))
	for i, a := range alerts {
		out[i] = AlertToResponse(a)
	}
	return out
}

// TicketToResponse converts a database Ticket to its API shape.
func TicketToResponse(t database.Ticket) TicketResponse {
	return TicketResponse{
		ID:         t.ID,
		Title:      t.Title,
		Resolution: t.Resolution,
		Submitter:  t.Submitter,
		Status:     t.Status,
		ResolvedAt: t.ResolvedAt,
		CreatedAt:  t.CreatedAt,
	}
}

// NotificationsToResponses converts ledger rows.
func NotificationsToResponses(rows []database.EmailNotification) []NotificationResponse {
	out := make([]NotificationResponse, len(rows))
	for i, n := range rows {
		out[i] = NotificationResponse{AlertID: n.AlertID, Email: n.Email, SentAt: n.Timestamp}
	}
	return out
}

// TaskLockToResponse converts a lock row; now decides Expired.
func TaskLockToResponse(l database.TaskLock, now time.Time) TaskLockResponse {
	return TaskLockResponse{
		Task:       l.Task,
		Status:     l.Status,
		Expired:    l.Status == database.TaskLockRunning && l.ExpireTime != nil && l.ExpireTime.Before(now),
		ExpireTime: l.ExpireTime,
		StartTime:  l.StartTime,
		EndTime:    l.EndTime,
		Host:       l.Host,
		RunDesc:    l.RunDesc,
		NotifyTime: l.NotifyTime,
	}
}
