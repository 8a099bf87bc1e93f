package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/alertflow/alertflow/internal/database"
)

// ErrInvalidCursor is returned for a cursor this service did not issue
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// AlertFilter selects alerts across the firing and resolved tables.
// Zero values mean "no constraint".
type AlertFilter struct {
	IDPrefix    string
	Severity    string
	Status      string
	Type        string
	Cluster     string
	StartFrom   *time.Time
	StartTo     *time.Time
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Cursor      string
}

// AlertPage is one page of a merged alert listing
type AlertPage struct {
	Alerts     []database.Alert `json:"alerts"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

// EncodeCursor returns the opaque position after a
func EncodeCursor(a database.Alert) string {
	b, _ := json.Marshal(cursor{CreatedAt: a.CreatedAt, ID: a.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (*cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// QueryService lists alerts and notifications for API consumers
type QueryService struct {
	db *gorm.DB
}

// NewQueryService creates a new QueryService
func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{db: db}
}

// ListAlerts returns firing and resolved alerts visible in scope, newest
// creation first, as one homogeneous list.
func (s *QueryService) ListAlerts(scope Scope, f AlertFilter) (*AlertPage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var after *cursor
	if f.Cursor != "" {
		c, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		after = c
	}

	var merged []database.Alert
	status := database.AlertStatus(f.Status)

	if status == "" || status == database.AlertStatusFiring {
		var firing []database.Alert
		q := s.filtered(s.db.Model(&database.Alert{}), scope, f, after)
		if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&firing).Error; err != nil {
			return nil, fmt.Errorf("failed to query firing alerts: %w", err)
		}
		merged = append(merged, firing...)
	}

	if status == "" || status == database.AlertStatusResolved {
		var resolved []database.ResolvedAlert
		q := s.filtered(s.db.Model(&database.ResolvedAlert{}), scope, f, after)
		if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&resolved).Error; err != nil {
			return nil, fmt.Errorf("failed to query resolved alerts: %w", err)
		}
		for i := range resolved {
			merged = append(merged, resolvedAsAlert(&resolved[i]))
		}
	}

	sortNewestFirst(merged)

	page := &AlertPage{Alerts: merged}
	if len(merged) > limit {
		page.Alerts = merged[:limit]
		page.NextCursor = EncodeCursor(page.Alerts[limit-1])
	}
	if page.Alerts == nil {
		page.Alerts = []database.Alert{}
	}
	return page, nil
}

func (s *QueryService) filtered(q *gorm.DB, scope Scope, f AlertFilter, after *cursor) *gorm.DB {
	q = scope.Apply(q)
	if f.IDPrefix != "" {
		q = q.Where(`id LIKE ? ESCAPE '\'`, escapeLike(f.IDPrefix)+"%")
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Cluster != "" {
		q = q.Where("cluster = ?", f.Cluster)
	}
	if f.StartFrom != nil {
		q = q.Where("start >= ?", *f.StartFrom)
	}
	if f.StartTo != nil {
		q = q.Where("start <= ?", *f.StartTo)
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		q = q.Where("created_at <= ?", *f.CreatedTo)
	}
	if after != nil {
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}
	return q
}

// GetAlert finds an alert by id in either table, subject to scope
func (s *QueryService) GetAlert(scope Scope, id string) (*database.Alert, error) {
	var a database.Alert
	err := s.db.Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var r database.ResolvedAlert
		err = s.db.Where("id = ?", id).First(&r).Error
		if err == nil {
			a = resolvedAsAlert(&r)
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	if !scope.Allows(&a) {
		return nil, ErrAlertNotFound
	}
	return &a, nil
}

// ListNotifications returns the ledger rows of one recipient in [from, to]
func (s *QueryService) ListNotifications(email string, from, to time.Time) ([]database.EmailNotification, error) {
	var rows []database.EmailNotification
	err := s.db.Where("email = ? AND sent_at >= ? AND sent_at <= ?", email, from, to).
		Order("sent_at DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	return rows, nil
}

func resolvedAsAlert(r *database.ResolvedAlert) database.Alert {
	return database.Alert{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Start:       r.Start,
		AlertAttrs:  r.AlertAttrs,
	}
}

func sortNewestFirst(list []database.Alert) {
	// insertion sort keeps this stable and both inputs are already ordered
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && newer(list[j], list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func newer(a, b database.Alert) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
