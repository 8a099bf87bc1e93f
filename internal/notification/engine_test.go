package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/alertflow/alertflow/internal/alerts"
	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/services"
	"github.com/alertflow/alertflow/internal/testhelpers"
	"github.com/alertflow/alertflow/internal/workers"
)

// Monday
var monday0800 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// inlineDispatcher runs tasks synchronously
type inlineDispatcher struct{}

func (inlineDispatcher) TrySubmit(task workers.Task) error {
	task(context.Background())
	return nil
}

type fullDispatcher struct{}

func (fullDispatcher) TrySubmit(workers.Task) error {
	return workers.ErrQueueFull
}

func newTestEngine(t *testing.T, dispatch Dispatcher) (*Engine, *gorm.DB, *fakeMailer, *testhelpers.Clock) {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	policy := config.DefaultPolicy()
	mailer := &fakeMailer{}
	clock := testhelpers.NewClock(monday0800.Add(90 * time.Minute))

	e := NewEngine(db, services.NewOwnershipService(db, policy), mailer, dispatch, policy.Throttle, time.UTC, "https://alerts.example.com", nil, nil)
	e.now = clock.Now
	return e, db, mailer, clock
}

func seedUnit(t *testing.T, db *gorm.DB) *database.Operator {
	t.Helper()
	alice := testhelpers.NewOperatorBuilder("alice").Build()
	testhelpers.MustCreate(t, db, alice)
	testhelpers.MustCreate(t, db, testhelpers.NewMonitorUnit("Database 1", "db1_node_metric", *alice))
	return alice
}

func TestSlots(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		daily  bool
		weekly bool
	}{
		{"monday 08:00", monday0800, true, true},
		{"tuesday 08:00", monday0800.AddDate(0, 0, 1), true, false},
		{"monday 08:01", monday0800.Add(time.Minute), false, false},
		{"monday 09:00", monday0800.Add(time.Hour), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			daily, weekly := Slots(tt.now)
			if daily != tt.daily || weekly != tt.weekly {
				t.Errorf("Slots = %v, %v; want %v, %v", daily, weekly, tt.daily, tt.weekly)
			}
		})
	}
}

func TestEngine_SelectCandidates(t *testing.T) {
	e, db, _, _ := newTestEngine(t, inlineDispatcher{})

	notified := func(b *testhelpers.AlertBuilder) *database.Alert {
		ts := monday0800.Add(-time.Hour)
		return b.NotifiedAt(ts, ts).Build()
	}
	testhelpers.MustCreate(t, db,
		testhelpers.NewAlertBuilder("new", monday0800.Add(-2*time.Hour)).WithID("new").Build(),
		notified(testhelpers.NewAlertBuilder("young", monday0800.Add(-2*time.Hour)).WithID("young")),
		notified(testhelpers.NewAlertBuilder("day", monday0800.Add(-30*time.Hour)).WithID("day")),
		notified(testhelpers.NewAlertBuilder("week", monday0800.Add(-100*time.Hour)).WithID("week")),
	)
	stamped := testhelpers.NewAlertBuilder("closed", monday0800.Add(-2*time.Hour)).WithID("closed").Build()
	stamped.Status = database.AlertStatusResolved
	testhelpers.MustCreate(t, db, stamped)

	tests := []struct {
		name string
		now  time.Time
		want []string
	}{
		{"weekly slot", monday0800, []string{"week", "day", "new"}},
		{"daily slot", monday0800.AddDate(0, 0, 1), []string{"young", "day", "new"}},
		{"outside slots", monday0800.Add(time.Hour), []string{"new"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.SelectCandidates(tt.now)
			if err != nil {
				t.Fatalf("SelectCandidates: %v", err)
			}
			ids := map[string]bool{}
			for _, a := range got {
				ids[a.ID] = true
			}
			if len(ids) != len(tt.want) {
				t.Errorf("got %v, want %v", ids, tt.want)
			}
			for _, id := range tt.want {
				if !ids[id] {
					t.Errorf("missing %s in %v", id, ids)
				}
			}
		})
	}
}

func TestEngine_SelectCandidates_DailyWindowAtTuesday(t *testing.T) {
	e, db, _, _ := newTestEngine(t, inlineDispatcher{})
	tuesday := monday0800.AddDate(0, 0, 1)
	ts := tuesday.Add(-time.Hour)
	testhelpers.MustCreate(t, db,
		testhelpers.NewAlertBuilder("old", tuesday.Add(-100*time.Hour)).WithID("old").NotifiedAt(ts, ts).Build(),
		testhelpers.NewAlertBuilder("day", tuesday.Add(-48*time.Hour)).WithID("day").NotifiedAt(ts, ts).Build(),
	)

	got, _ := e.SelectCandidates(tuesday)
	if len(got) != 1 || got[0].ID != "day" {
		t.Errorf("got %+v, want only the 24-72h alert", got)
	}
}

func TestEngine_Run_SendsOneDigestPerRecipient(t *testing.T) {
	e, db, mailer, clock := newTestEngine(t, inlineDispatcher{})
	seedUnit(t, db)
	testhelpers.MustCreate(t, db,
		testhelpers.NewAlertBuilder("fp1", clock.Now().Add(-time.Minute)).WithID("a1").Build(),
		testhelpers.NewAlertBuilder("fp2", clock.Now().Add(-time.Minute)).WithID("a2").WithInstance("10.0.0.2").Build(),
	)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Sent != 1 || res.Recipients != 1 || res.Candidates != 2 {
		t.Errorf("result = %+v", res)
	}

	msgs := mailer.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Subject != "Host alert (10.0.0.1) and more" {
		t.Errorf("subject = %q", msgs[0].Subject)
	}
	if msgs[0].To[0] != "alice@example.com" {
		t.Errorf("to = %v", msgs[0].To)
	}
	for _, want := range []string{"Database 1", "10.0.0.2", "https://alerts.example.com"} {
		if !strings.Contains(msgs[0].HTML, want) {
			t.Errorf("body missing %q", want)
		}
	}

	stamp := clock.Now().Truncate(time.Minute)
	if n := testhelpers.CountRows(t, db, &database.EmailNotification{}, "email = ? AND sent_at = ?", "alice@example.com", stamp); n != 2 {
		t.Errorf("ledger rows = %d, want 2", n)
	}
	var a database.Alert
	db.Where("id = ?", "a1").First(&a)
	if a.FirstNotification == nil || !a.FirstNotification.Equal(stamp) || !a.LastNotification.Equal(stamp) {
		t.Errorf("notification stamps = %v / %v", a.FirstNotification, a.LastNotification)
	}

	// already notified and outside the digest slots
	clock.Advance(2 * time.Hour)
	res, _ = e.Run(context.Background())
	if res.Candidates != 0 || len(mailer.messages()) != 1 {
		t.Errorf("second run = %+v", res)
	}
}

func TestEngine_Run_ThrottledRecipientGetsNothing(t *testing.T) {
	e, db, mailer, clock := newTestEngine(t, inlineDispatcher{})
	seedUnit(t, db)
	testhelpers.MustCreate(t, db,
		testhelpers.NewAlertBuilder("fp1", clock.Now()).WithID("a1").Build(),
		&database.EmailNotification{AlertID: "earlier", Email: "alice@example.com", Timestamp: clock.Now().Add(-10 * time.Minute)},
	)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Throttled != 1 || res.Sent != 0 || len(mailer.messages()) != 0 {
		t.Errorf("result = %+v", res)
	}
	var a database.Alert
	db.Where("id = ?", "a1").First(&a)
	if a.FirstNotification != nil {
		t.Error("throttled alert must stay unnotified")
	}
}

func TestEngine_Run_QueueFullWritesNoLedger(t *testing.T) {
	e, db, _, clock := newTestEngine(t, fullDispatcher{})
	seedUnit(t, db)
	testhelpers.MustCreate(t, db, testhelpers.NewAlertBuilder("fp1", clock.Now()).WithID("a1").Build())

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Dropped != 1 || res.Sent != 0 {
		t.Errorf("result = %+v", res)
	}
	if n := testhelpers.CountRows(t, db, &database.EmailNotification{}, ""); n != 0 {
		t.Errorf("ledger rows = %d, want 0", n)
	}
}

func TestEngine_Run_DeliveryFailureKeepsLedger(t *testing.T) {
	e, db, mailer, clock := newTestEngine(t, inlineDispatcher{})
	mailer.err = errors.New("relay down")
	seedUnit(t, db)
	testhelpers.MustCreate(t, db, testhelpers.NewAlertBuilder("fp1", clock.Now()).WithID("a1").Build())

	res, _ := e.Run(context.Background())

	if res.Sent != 1 {
		t.Errorf("result = %+v", res)
	}
	if n := testhelpers.CountRows(t, db, &database.EmailNotification{}, ""); n != 1 {
		t.Errorf("ledger rows = %d, want 1", n)
	}
}

func TestEngine_Run_WebsiteSubject(t *testing.T) {
	e, db, mailer, clock := newTestEngine(t, inlineDispatcher{})
	bob := testhelpers.NewOperatorBuilder("bob").Build()
	testhelpers.MustCreate(t, db, bob)
	testhelpers.MustCreate(t, db, testhelpers.NewMonitorWebsite("https://example.com", "abc123", *bob))
	testhelpers.MustCreate(t, db, testhelpers.NewAlertBuilder("abc123", clock.Now()).
		WithID("w1").
		WithType(database.AlertTypeWebsite).
		WithCluster(alerts.WebsiteCluster).
		WithInstance("").
		WithSummary("site unreachable (instance https://example.com)").
		Build())

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := mailer.messages()
	if len(msgs) != 1 || msgs[0].Subject != "Website alert (https://example.com)" {
		t.Errorf("messages = %+v", msgs)
	}
	if !strings.Contains(msgs[0].HTML, services.WebsiteUnitName) {
		t.Error("website alerts are grouped under the website unit")
	}
}

func TestEngine_Run_ExcludedAndUnownedClusters(t *testing.T) {
	e, db, mailer, clock := newTestEngine(t, inlineDispatcher{})
	alice := seedUnit(t, db)
	testhelpers.MustCreate(t, db, testhelpers.NewMonitorUnit("Mail", "mail_metric", *alice))
	testhelpers.MustCreate(t, db,
		testhelpers.NewAlertBuilder("m1", clock.Now()).WithID("m1").WithCluster("mail_metric").Build(),
		testhelpers.NewAlertBuilder("x1", clock.Now()).WithID("x1").WithCluster("ghost_node_metric").Build(),
	)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Recipients != 0 || len(mailer.messages()) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestGroupByRecipient(t *testing.T) {
	a1 := *testhelpers.NewAlertBuilder("1", monday0800).WithID("1").Build()
	a2 := *testhelpers.NewAlertBuilder("2", monday0800).WithID("2").Build()
	a3 := *testhelpers.NewAlertBuilder("3", monday0800).WithID("3").WithInstance("10.0.0.9").Build()

	batches := GroupByRecipient([]Delivery{
		{Email: "a@x", Unit: "U1", Alert: a1},
		{Email: "b@x", Unit: "U1", Alert: a1},
		{Email: "a@x", Unit: "U1", Alert: a2},
		{Email: "a@x", Unit: "U2", Alert: a3},
	})

	if len(batches) != 2 || batches[0].Email != "a@x" {
		t.Fatalf("batches = %+v", batches)
	}
	a := batches[0]
	if len(a.Alerts) != 3 || len(a.Units) != 2 {
		t.Fatalf("a@x batch = %d alerts in %d units", len(a.Alerts), len(a.Units))
	}
	if len(a.Units[0].Instances) != 1 || len(a.Units[0].Instances[0].Alerts) != 2 {
		t.Errorf("same-instance alerts should share a group: %+v", a.Units[0].Instances)
	}
	if Subject(batches[1]) != "Host alert (10.0.0.1)" {
		t.Errorf("single alert subject = %q", Subject(batches[1]))
	}
}
