// Package tasklock implements a store-backed mutex so a scheduled job runs
// on at most one host at a time.
package tasklock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/metrics"
	"github.com/alertflow/alertflow/internal/utils"
)

var (
	// ErrAlreadyLocked is returned by Acquire while another holder runs
	ErrAlreadyLocked = errors.New("task is locked")
	// ErrNotHeld is returned when an operation needs the lock and this
	// handle does not hold it
	ErrNotHeld = errors.New("task lock not held")
	// ErrInvalidExpire is returned for an expiry that is not in the future
	ErrInvalidExpire = errors.New("lock expiry must be in the future")
)

const maxRunDesc = 254

// Notifier escalates a lock that expired without being released
type Notifier interface {
	NotifyUnreleased(ctx context.Context, lock database.TaskLock) error
}

// Manager hands out lock handles sharing one store and notifier
type Manager struct {
	db       *gorm.DB
	host     string
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewManager creates a Manager. loc decides what "today" means for the
// once-per-day stale notice.
func NewManager(db *gorm.DB, notifier Notifier, loc *time.Location, m *metrics.Metrics, log *zap.Logger) *Manager {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Manager{
		db:       db,
		host:     HostIP(),
		notifier: notifier,
		metrics:  m,
		log:      log,
		loc:      loc,
		now:      time.Now,
	}
}

// WithClock replaces the time source, mainly for tests
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Lock returns a handle for task. Handles are not safe for concurrent use.
func (m *Manager) Lock(task string) *Lock {
	return &Lock{m: m, task: task}
}

// List returns every lock row ordered by task name
func (m *Manager) List(ctx context.Context) ([]database.TaskLock, error) {
	var locks []database.TaskLock
	if err := m.db.WithContext(ctx).Order("task ASC").Find(&locks).Error; err != nil {
		return nil, fmt.Errorf("failed to list task locks: %w", err)
	}
	return locks, nil
}

// Lock is one host's handle on a named task lock
type Lock struct {
	m        *Manager
	task     string
	held     bool
	previous database.TaskLock
}

// Task returns the lock name
func (l *Lock) Task() string {
	return l.task
}

// Held reports whether this handle acquired the lock and has not released it
func (l *Lock) Held() bool {
	return l.held
}

// PreviousStart is the start_time recorded by the previous holder, as seen
// by the last Acquire call.
func (l *Lock) PreviousStart() *time.Time {
	return l.previous.StartTime
}

// Acquire takes the lock until expire. The row is read and written under a
// row lock so two hosts cannot both win. When the lock is held elsewhere
// and already expired, administrators are notified at most once per day.
func (l *Lock) Acquire(ctx context.Context, expire time.Time) error {
	now := l.m.now().UTC()
	if !expire.After(now) {
		return ErrInvalidExpire
	}

	var snapshot database.TaskLock
	locked := false
	err := l.m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := &database.TaskLock{Task: l.task, Status: database.TaskLockNone}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return fmt.Errorf("failed to create lock row: %w", err)
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("task = ?", l.task).First(&snapshot).Error; err != nil {
			return fmt.Errorf("failed to read lock row: %w", err)
		}
		if snapshot.Status == database.TaskLockRunning {
			locked = true
			return nil
		}
		res := tx.Model(&database.TaskLock{}).
			Where("task = ? AND status = ?", l.task, database.TaskLockNone).
			Updates(map[string]interface{}{
				"status":      database.TaskLockRunning,
				"expire_time": expire.UTC(),
				"notify_time": nil,
				"updated_at":  now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to take lock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			locked = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("acquire %s: %w", l.task, err)
	}

	if locked {
		l.m.metrics.LockContention.WithLabelValues(l.task).Inc()
		if isExpired(&snapshot, now) && !l.notifiedOn(&snapshot, now) {
			if err := l.NotifyUnreleased(ctx); err != nil {
				l.m.log.Warn("stale lock notice failed", zap.String("task", l.task), zap.Error(err))
			}
		}
		return ErrAlreadyLocked
	}

	l.previous = snapshot
	l.held = true
	return nil
}

// MarkStart records when and where the holder started its run. A nil start
// means now.
func (l *Lock) MarkStart(ctx context.Context, start *time.Time) error {
	if !l.held {
		return ErrNotHeld
	}
	ts := l.m.now().UTC()
	if start != nil {
		ts = start.UTC()
	}
	res := l.m.db.WithContext(ctx).Model(&database.TaskLock{}).
		Where("task = ? AND status = ?", l.task, database.TaskLockRunning).
		Updates(map[string]interface{}{
			"start_time": ts,
			"host":       l.m.host,
			"end_time":   nil,
			"run_desc":   "",
		})
	if res.Error != nil {
		return fmt.Errorf("mark start %s: %w", l.task, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release returns the lock to none and stores runDesc, truncated. The expiry
// and notice stamps are cleared. A failed write is retried once.
func (l *Lock) Release(ctx context.Context, runDesc string) error {
	if !l.held {
		return ErrNotHeld
	}
	desc := utils.TruncateRunes(runDesc, maxRunDesc)

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = l.m.db.WithContext(ctx).Model(&database.TaskLock{}).
			Where("task = ?", l.task).
			Updates(map[string]interface{}{
				"status":      database.TaskLockNone,
				"end_time":    l.m.now().UTC(),
				"run_desc":    desc,
				"expire_time": nil,
				"notify_time": nil,
			}).Error
		if err == nil {
			l.held = false
			return nil
		}
		l.m.log.Warn("release failed", zap.String("task", l.task), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("release %s: %w", l.task, err)
}

// NotifyUnreleased escalates the lock to administrators unless that already
// happened today. The notice is claimed by stamping notify_time first; the
// stamp is rolled back if the notifier fails.
func (l *Lock) NotifyUnreleased(ctx context.Context) error {
	if l.m.notifier == nil {
		return nil
	}
	now := l.m.now().UTC()
	db := l.m.db.WithContext(ctx)

	var snap database.TaskLock
	if err := db.Where("task = ?", l.task).First(&snap).Error; err != nil {
		return fmt.Errorf("failed to read lock %s: %w", l.task, err)
	}

	res := db.Model(&database.TaskLock{}).
		Where("task = ? AND status = ? AND (notify_time IS NULL OR notify_time < ?)",
			l.task, database.TaskLockRunning, l.dayStart(now).UTC()).
		Update("notify_time", now)
	if res.Error != nil {
		return fmt.Errorf("failed to claim stale notice for %s: %w", l.task, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	if err := l.m.notifier.NotifyUnreleased(ctx, snap); err != nil {
		rollback := db.Model(&database.TaskLock{}).
			Where("task = ? AND notify_time = ?", l.task, now).
			Update("notify_time", snap.NotifyTime)
		if rollback.Error != nil {
			l.m.log.Warn("failed to roll back notify_time", zap.String("task", l.task), zap.Error(rollback.Error))
		}
		return err
	}

	l.m.metrics.StaleLockNotices.WithLabelValues(l.task).Inc()
	l.m.log.Warn("task lock expired without release",
		zap.String("task", l.task),
		zap.String("host", snap.Host),
		zap.Timep("expire_time", snap.ExpireTime))
	return nil
}

// IsExpired reports whether the lock is running past its expiry
func (l *Lock) IsExpired(ctx context.Context) (bool, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return isExpired(snap, l.m.now()), nil
}

// Snapshot returns the current lock row
func (l *Lock) Snapshot(ctx context.Context) (*database.TaskLock, error) {
	var snap database.TaskLock
	err := l.m.db.WithContext(ctx).Where("task = ?", l.task).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &database.TaskLock{Task: l.task, Status: database.TaskLockNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock %s: %w", l.task, err)
	}
	return &snap, nil
}

func (l *Lock) dayStart(now time.Time) time.Time {
	local := now.In(l.m.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.m.loc)
}

func (l *Lock) notifiedOn(snap *database.TaskLock, now time.Time) bool {
	return snap.NotifyTime != nil && !snap.NotifyTime.Before(l.dayStart(now))
}

func isExpired(snap *database.TaskLock, now time.Time) bool {
	return snap.Status == database.TaskLockRunning &&
		snap.ExpireTime != nil &&
		snap.ExpireTime.Before(now)
}
