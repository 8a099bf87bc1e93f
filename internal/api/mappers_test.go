package api

import (
	"testing"
	"time"

	"github.com/alertflow/alertflow/internal/database"
)

func TestAlertToResponse(t *testing.T) {
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	ticket := "t-1"
	a := database.Alert{
		ID:          "a-1",
		Fingerprint: "fp",
		Start:       start,
		AlertAttrs: database.AlertAttrs{
			Name:     "DiskFull",
			Type:     database.AlertTypeMetric,
			Instance: "10.0.0.1",
			Cluster:  "db1_node_metric",
			Severity: database.AlertSeverityError,
			End:      start.Add(time.Hour),
			Status:   database.AlertStatusFiring,
			Count:    3,
			TicketID: &ticket,
		},
	}

	resp := AlertToResponse(a)
	if resp.ID != "a-1" || resp.Fingerprint != "fp" {
		t.Errorf("identity = %q/%q", resp.ID, resp.Fingerprint)
	}
	if resp.Count != 3 || resp.Cluster != "db1_node_metric" {
		t.Errorf("attrs not copied: %+v", resp)
	}
	if resp.TicketID == nil || *resp.TicketID != "t-1" {
		t.Errorf("TicketID = %v", resp.TicketID)
	}
	if resp.Labels == nil {
		t.Error("Labels should be an empty map, not nil")
	}
}

func TestAlertsToResponses_Empty(t *testing.T) {
	items := AlertsToResponses(nil)
	if items == nil || len(items) != 0 {
		t.Errorf("AlertsToResponses(nil) = %#v, want empty slice", items)
	}
}

func TestTaskLockToResponse_Expired(t *testing.T) {
	now := time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		lock database.TaskLock
		want bool
	}{
		{"running past expiry", database.TaskLock{Status: database.TaskLockRunning, ExpireTime: &past}, true},
		{"running before expiry", database.TaskLock{Status: database.TaskLockRunning, ExpireTime: &future}, false},
		{"released", database.TaskLock{Status: database.TaskLockNone, ExpireTime: &past}, false},
		{"never set", database.TaskLock{Status: database.TaskLockRunning}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TaskLockToResponse(tt.lock, now).Expired; got != tt.want {
				t.Errorf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotificationsToResponses(t *testing.T) {
	ts := time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)
	rows := []database.EmailNotification{{AlertID: "a-1", Email: "x@example.com", Timestamp: ts}}

	got := NotificationsToResponses(rows)
	if len(got) != 1 || got[0].AlertID != "a-1" || !got[0].SentAt.Equal(ts) {
		t.Errorf("NotificationsToResponses = %+v", got)
	}
}
