package notification

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/database"
)

// Windows are the throttle buckets containing one instant. The hour and
// four-hour buckets are aligned to the business day start, not to midnight.
type Windows struct {
	DayStart, DayEnd           time.Time
	FourHourStart, FourHourEnd time.Time
	HourStart, HourEnd         time.Time
}

// WindowsAt computes the buckets containing now in loc
func WindowsAt(now time.Time, dayStartHour int, loc *time.Location) Windows {
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), dayStartHour, 0, 0, 0, loc)
	if local.Hour() < dayStartHour {
		dayStart = dayStart.AddDate(0, 0, -1)
	}

	elapsed := local.Sub(dayStart)
	hourStart := dayStart.Add(elapsed.Truncate(time.Hour))
	fourStart := dayStart.Add(elapsed.Truncate(4 * time.Hour))

	return Windows{
		DayStart:      dayStart,
		DayEnd:        dayStart.AddDate(0, 0, 1),
		FourHourStart: fourStart,
		FourHourEnd:   fourStart.Add(4 * time.Hour),
		HourStart:     hourStart,
		HourEnd:       hourStart.Add(time.Hour),
	}
}

// Counts is how many distinct sends a recipient received per bucket
type Counts struct {
	Daily      int
	FourHourly int
	Hourly     int
}

// Throttle evaluates per-recipient caps against the notification ledger
type Throttle struct {
	db     *gorm.DB
	limits config.ThrottleLimits
	loc    *time.Location
}

// NewThrottle creates a throttle using loc for day boundaries
func NewThrottle(db *gorm.DB, limits config.ThrottleLimits, loc *time.Location) *Throttle {
	if loc == nil {
		loc = time.Local
	}
	return &Throttle{db: db, limits: limits, loc: loc}
}

// Windows returns the buckets containing now
func (t *Throttle) Windows(now time.Time) Windows {
	return WindowsAt(now, t.limits.DayStartHour, t.loc)
}

// Counts returns the distinct send timestamps for email in each bucket. One
// send covering many alerts writes many ledger rows sharing one timestamp.
func (t *Throttle) Counts(email string, now time.Time) (Counts, error) {
	w := t.Windows(now)
	var c Counts
	for _, b := range []struct {
		from, to time.Time
		dst      *int
	}{
		{w.DayStart, w.DayEnd, &c.Daily},
		{w.FourHourStart, w.FourHourEnd, &c.FourHourly},
		{w.HourStart, w.HourEnd, &c.Hourly},
	} {
		var n int64
		err := t.db.Model(&database.EmailNotification{}).
			Where("email = ? AND sent_at >= ? AND sent_at < ?", email, b.from.UTC(), b.to.UTC()).
			Distinct("sent_at").
			Count(&n).Error
		if err != nil {
			return Counts{}, fmt.Errorf("failed to count notifications for %s: %w", email, err)
		}
		*b.dst = int(n)
	}
	return c, nil
}

// Permit reports whether every count is still below its cap
func (t *Throttle) Permit(c Counts) bool {
	return c.Daily < t.limits.Daily &&
		c.Hourly < t.limits.Hourly &&
		c.FourHourly < t.limits.FourHourly
}

// QuietUntil returns when the recipient may next receive mail, assuming the
// send about to happen goes out. The daily cap is checked first, then the
// four-hour cap; otherwise the hour bucket end applies.
func (t *Throttle) QuietUntil(c Counts, w Windows) time.Time {
	switch {
	case c.Daily+1 >= t.limits.Daily:
		return w.DayEnd
	case c.FourHourly+1 >= t.limits.FourHourly:
		return w.FourHourEnd
	default:
		return w.HourEnd
	}
}
