package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/testhelpers"
)

// seedAlerts creates n firing and n resolved alerts with interleaved
// creation times, newest last.
func seedAlerts(t *testing.T, env *testEnv, n int) {
	t.Helper()
	for i := 0; i < 2*n; i++ {
		start := testEpoch.Add(time.Duration(i) * time.Minute)
		a := testhelpers.NewAlertBuilder(fmt.Sprintf("fp-%02d", i), start).WithID(fmt.Sprintf("id-%02d", i)).Build()
		if i%2 == 0 {
			testhelpers.MustCreate(t, env.db, a)
			continue
		}
		if _, err := database.InsertResolved(env.db, a.ToResolved()); err != nil {
			t.Fatalf("seed resolved: %v", err)
		}
	}
}

func TestQueryService_ListAlerts_MergesNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	seedAlerts(t, env, 3)

	page, err := env.query.ListAlerts(Scope{All: true}, AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}

	var ids []string
	for _, a := range page.Alerts {
		ids = append(ids, a.ID)
	}
	want := []string{"id-05", "id-04", "id-03", "id-02", "id-01", "id-00"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if page.Alerts[0].Status != database.AlertStatusResolved || page.Alerts[1].Status != database.AlertStatusFiring {
		t.Error("status should reflect the source table")
	}
	if page.NextCursor != "" {
		t.Errorf("unexpected cursor %q", page.NextCursor)
	}
}

func TestQueryService_ListAlerts_Pagination(t *testing.T) {
	env := newTestEnv(t)
	seedAlerts(t, env, 5)

	var seen []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, err := env.query.ListAlerts(Scope{All: true}, AlertFilter{Limit: 3, Cursor: cursor})
		if err != nil {
			t.Fatalf("ListAlerts: %v", err)
		}
		for _, a := range page.Alerts {
			seen = append(seen, a.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 10 {
		t.Fatalf("saw %d alerts, want 10: %v", len(seen), seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] >= seen[i-1] {
			t.Errorf("out of order at %d: %v", i, seen)
		}
	}
}

func TestQueryService_ListAlerts_Filters(t *testing.T) {
	env := newTestEnv(t)
	seedAlerts(t, env, 3)
	other := testhelpers.NewAlertBuilder("fp-other", testEpoch.Add(time.Hour)).
		WithID("zz-other").WithCluster("db2_node_metric").WithSeverity(database.AlertSeverityCritical).Build()
	testhelpers.MustCreate(t, env.db, other)

	from := testEpoch.Add(2 * time.Minute)
	to := testEpoch.Add(4 * time.Minute)

	tests := []struct {
		name   string
		scope  Scope
		filter AlertFilter
		want   int
	}{
		{"firing only", Scope{All: true}, AlertFilter{Status: "firing"}, 4},
		{"resolved only", Scope{All: true}, AlertFilter{Status: "resolved"}, 3},
		{"severity", Scope{All: true}, AlertFilter{Severity: "critical"}, 1},
		{"cluster", Scope{All: true}, AlertFilter{Cluster: "db2_node_metric"}, 1},
		{"id prefix", Scope{All: true}, AlertFilter{IDPrefix: "id-0"}, 6},
		{"start range", Scope{All: true}, AlertFilter{StartFrom: &from, StartTo: &to}, 3},
		{"scoped to cluster", Scope{Clusters: []string{"db2_node_metric"}}, AlertFilter{}, 1},
		{"empty scope", Scope{}, AlertFilter{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := env.query.ListAlerts(tt.scope, tt.filter)
			if err != nil {
				t.Fatalf("ListAlerts: %v", err)
			}
			if len(page.Alerts) != tt.want {
				t.Errorf("got %d alerts, want %d", len(page.Alerts), tt.want)
			}
		})
	}
}

func TestQueryService_ListAlerts_InvalidCursor(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.query.ListAlerts(Scope{All: true}, AlertFilter{Cursor: "!!!"}); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("got %v, want ErrInvalidCursor", err)
	}
}

func TestQueryService_GetAlert(t *testing.T) {
	env := newTestEnv(t)
	seedAlerts(t, env, 1)

	a, err := env.query.GetAlert(Scope{All: true}, "id-01")
	if err != nil {
		t.Fatalf("GetAlert resolved: %v", err)
	}
	if a.Status != database.AlertStatusResolved {
		t.Errorf("status = %q", a.Status)
	}

	if _, err := env.query.GetAlert(Scope{Clusters: []string{"db2_node_metric"}}, "id-00"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("out of scope: got %v, want ErrAlertNotFound", err)
	}
	if _, err := env.query.GetAlert(Scope{All: true}, "missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("missing: got %v, want ErrAlertNotFound", err)
	}
}

func TestQueryService_ListNotifications(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		testhelpers.MustCreate(t, env.db, &database.EmailNotification{
			AlertID:   "a1",
			Email:     "alice@example.com",
			Timestamp: testEpoch.Add(time.Duration(i) * time.Hour),
		})
	}
	testhelpers.MustCreate(t, env.db, &database.EmailNotification{AlertID: "a1", Email: "bob@example.com", Timestamp: testEpoch})

	rows, err := env.query.ListNotifications("alice@example.com", testEpoch, testEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}
