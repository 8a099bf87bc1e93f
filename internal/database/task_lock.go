package database

import "time"

// TaskLockStatus is the state of a named job lock
type TaskLockStatus string

const (
	TaskLockNone    TaskLockStatus = "none"
	TaskLockRunning TaskLockStatus = "running"
)

// TaskLock is one row per scheduled job name. At most one host holds it
// (status running) at a time.
type TaskLock struct {
	Task       string         `gorm:"primaryKey;type:varchar(64)" json:"task"`
	Status     TaskLockStatus `gorm:"type:varchar(16);not null;default:'none'" json:"status"`
	ExpireTime *time.Time     `json:"expire_time"`
	StartTime  *time.Time     `json:"start_time"`
	EndTime    *time.Time     `json:"end_time"`
	Host       string         `gorm:"type:varchar(64);not null;default:''" json:"host"`
	RunDesc    string         `gorm:"type:varchar(255);not null;default:''" json:"run_desc"`
	NotifyTime *time.Time     `json:"notify_time"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (TaskLock) TableName() string {
	return "task_locks"
}
