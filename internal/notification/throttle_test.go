package notification

import (
	"testing"
	"time"

	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/testhelpers"
)

func TestWindowsAt(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		dayStart  time.Time
		fourStart time.Time
		hourStart time.Time
	}{
		{
			name:      "after day start",
			now:       time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC),
			dayStart:  time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC),
			fourStart: time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC),
			hourStart: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "before day start belongs to yesterday",
			now:       time.Date(2024, 5, 6, 6, 30, 0, 0, time.UTC),
			dayStart:  time.Date(2024, 5, 5, 7, 0, 0, 0, time.UTC),
			fourStart: time.Date(2024, 5, 6, 3, 0, 0, 0, time.UTC),
			hourStart: time.Date(2024, 5, 6, 6, 0, 0, 0, time.UTC),
		},
		{
			name:      "exactly at day start",
			now:       time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC),
			dayStart:  time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC),
			fourStart: time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC),
			hourStart: time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC),
		},
		{
			name:      "second four-hour bucket",
			now:       time.Date(2024, 5, 6, 12, 59, 0, 0, time.UTC),
			dayStart:  time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC),
			fourStart: time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC),
			hourStart: time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WindowsAt(tt.now, 7, time.UTC)
			if !w.DayStart.Equal(tt.dayStart) || !w.DayEnd.Equal(tt.dayStart.Add(24*time.Hour)) {
				t.Errorf("day = [%v, %v)", w.DayStart, w.DayEnd)
			}
			if !w.FourHourStart.Equal(tt.fourStart) || !w.FourHourEnd.Equal(tt.fourStart.Add(4*time.Hour)) {
				t.Errorf("four-hour = [%v, %v)", w.FourHourStart, w.FourHourEnd)
			}
			if !w.HourStart.Equal(tt.hourStart) || !w.HourEnd.Equal(tt.hourStart.Add(time.Hour)) {
				t.Errorf("hour = [%v, %v)", w.HourStart, w.HourEnd)
			}
		})
	}
}

func TestWindowsAt_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 23:30 UTC is 07:30 next day at UTC+8
	w := WindowsAt(time.Date(2024, 5, 5, 23, 30, 0, 0, time.UTC), 7, loc)

	want := time.Date(2024, 5, 6, 7, 0, 0, 0, loc)
	if !w.DayStart.Equal(want) {
		t.Errorf("DayStart = %v, want %v", w.DayStart, want)
	}
}

func TestThrottle_Permit(t *testing.T) {
	th := NewThrottle(nil, config.DefaultPolicy().Throttle, time.UTC)

	tests := []struct {
		name   string
		counts Counts
		want   bool
	}{
		{"nothing sent", Counts{}, true},
		{"daily cap reached", Counts{Daily: 4}, false},
		{"daily cap reached ignores other buckets", Counts{Daily: 4, FourHourly: 0, Hourly: 0}, false},
		{"one below daily cap", Counts{Daily: 3}, true},
		{"hourly cap reached", Counts{Daily: 1, FourHourly: 1, Hourly: 1}, false},
		{"four-hour cap reached", Counts{Daily: 2, FourHourly: 2}, false},
		{"one in four-hour bucket", Counts{Daily: 3, FourHourly: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Permit(tt.counts); got != tt.want {
				t.Errorf("Permit(%+v) = %v, want %v", tt.counts, got, tt.want)
			}
		})
	}
}

func TestThrottle_QuietUntil(t *testing.T) {
	th := NewThrottle(nil, config.DefaultPolicy().Throttle, time.UTC)
	w := WindowsAt(time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC), 7, time.UTC)

	tests := []struct {
		name   string
		counts Counts
		want   time.Time
	}{
		{"last mail of the day", Counts{Daily: 3}, w.DayEnd},
		{"last mail of the four-hour bucket", Counts{Daily: 1, FourHourly: 1}, w.FourHourEnd},
		{"otherwise hour end", Counts{}, w.HourEnd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.QuietUntil(tt.counts, w); !got.Equal(tt.want) {
				t.Errorf("QuietUntil = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThrottle_CountsDistinctSends(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	th := NewThrottle(db, config.DefaultPolicy().Throttle, time.UTC)
	now := time.Date(2024, 5, 6, 12, 30, 0, 0, time.UTC)

	rows := []database.EmailNotification{
		// one send covering two alerts
		{AlertID: "a1", Email: "alice@example.com", Timestamp: time.Date(2024, 5, 6, 12, 5, 0, 0, time.UTC)},
		{AlertID: "a2", Email: "alice@example.com", Timestamp: time.Date(2024, 5, 6, 12, 5, 0, 0, time.UTC)},
		// earlier in the same four-hour bucket
		{AlertID: "a3", Email: "alice@example.com", Timestamp: time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC)},
		// earlier today
		{AlertID: "a4", Email: "alice@example.com", Timestamp: time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)},
		// yesterday's business day
		{AlertID: "a5", Email: "alice@example.com", Timestamp: time.Date(2024, 5, 6, 6, 59, 0, 0, time.UTC)},
		// someone else
		{AlertID: "a1", Email: "bob@example.com", Timestamp: time.Date(2024, 5, 6, 12, 5, 0, 0, time.UTC)},
	}
	for i := range rows {
		testhelpers.MustCreate(t, db, &rows[i])
	}

	c, err := th.Counts("alice@example.com", now)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := Counts{Daily: 3, FourHourly: 2, Hourly: 1}
	if c != want {
		t.Errorf("Counts = %+v, want %+v", c, want)
	}
}
