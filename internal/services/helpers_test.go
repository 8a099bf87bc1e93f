package services

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/metrics"
	"github.com/alertflow/alertflow/internal/testhelpers"
)

var testEpoch = time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	db        *gorm.DB
	clock     *testhelpers.Clock
	policy    config.Policy
	alerts    *AlertService
	quorum    *QuorumService
	lifetimes *LifetimeService
	tickets   *TicketService
	owners    *OwnershipService
	query     *QueryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPolicy(t, config.DefaultPolicy())
}

func newTestEnvWithPolicy(t *testing.T, policy config.Policy) *testEnv {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	clock := testhelpers.NewClock(testEpoch)

	quorum := NewQuorumService(db, nil)
	quorum.now = clock.Now
	lifetimes := NewLifetimeService(db, nil)
	alerts := NewAlertService(db, policy, quorum, lifetimes, metrics.New(), nil)
	alerts.now = clock.Now
	tickets := NewTicketService(db, alerts, nil)
	tickets.now = clock.Now

	return &testEnv{
		db:        db,
		clock:     clock,
		policy:    policy,
		alerts:    alerts,
		quorum:    quorum,
		lifetimes: lifetimes,
		tickets:   tickets,
		owners:    NewOwnershipService(db, policy),
		query:     NewQueryService(db),
	}
}

func (e *testEnv) enableProbes(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		testhelpers.MustCreate(t, e.db, &database.ProbePoint{Name: n, Enabled: true})
	}
}

func (e *testEnv) firingCount(t *testing.T) int64 {
	t.Helper()
	return testhelpers.CountRows(t, e.db, &database.Alert{}, "")
}

func (e *testEnv) resolvedCount(t *testing.T) int64 {
	t.Helper()
	return testhelpers.CountRows(t, e.db, &database.ResolvedAlert{}, "")
}
