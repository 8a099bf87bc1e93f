package services

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alertflow/alertflow/internal/alerts"
	"github.com/alertflow/alertflow/internal/database"
)

const (
	// PreAlertWindow is how long one probe report stays live
	PreAlertWindow = time.Hour
	// PreAlertRetention is how long expired probe reports are kept before purge
	PreAlertRetention = 24 * time.Hour
)

// QuorumService stages website probe reports and promotes a signature once
// every enabled probe has reported it within the live window.
type QuorumService struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// NewQuorumService creates a new QuorumService
func NewQuorumService(db *gorm.DB, log *zap.Logger) *QuorumService {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuorumService{db: db, log: log, now: time.Now}
}

// UpsertPreAlert stores or refreshes one probe report
func (s *QuorumService) UpsertPreAlert(c alerts.Classification, labels map[string]string) error {
	now := s.now()
	end := now.Add(PreAlertWindow)

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing database.PreAlert
		err := tx.Where("fingerprint = ?", c.Fingerprint).First(&existing).Error
		if err == nil {
			return tx.Model(&existing).Updates(map[string]interface{}{
				"end_time":    end,
				"description": c.Description,
				"count":       gorm.Expr("count + ?", 1),
				"updated_at":  now,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up pre-alert: %w", err)
		}

		row := &database.PreAlert{
			Fingerprint: c.Fingerprint,
			Start:       now,
			AlertAttrs:  attrsFrom(c, labels, end),
		}
		row.CreatedAt = now
		row.UpdatedAt = now
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to create pre-alert: %w", err)
		}
		return nil
	})
}

// ProbeCount returns the number of enabled probe points, at least one
func (s *QuorumService) ProbeCount() (int, error) {
	var n int64
	if err := s.db.Model(&database.ProbePoint{}).Where("enabled = ?", true).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count probe points: %w", err)
	}
	if n < 1 {
		return 1, nil
	}
	return int(n), nil
}

type signatureCount struct {
	Summary string
	N       int
}

// PromoteQuorum returns one website alert candidate for every signature whose
// live report count equals the probe count. Pre-alert rows are left to
// expire on their own so late reports are not lost.
func (s *QuorumService) PromoteQuorum() ([]alerts.Classification, error) {
	now := s.now()
	probes, err := s.ProbeCount()
	if err != nil {
		return nil, err
	}

	var groups []signatureCount
	err = s.db.Model(&database.PreAlert{}).
		Select("summary, COUNT(*) AS n").
		Where("end_time >= ?", now).
		Group("summary").
		Scan(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group pre-alerts: %w", err)
	}

	var promoted []alerts.Classification
	for _, g := range groups {
		if g.N != probes {
			continue
		}
		var first database.PreAlert
		err := s.db.Where("summary = ? AND end_time >= ?", g.Summary, now).
			Order("created_at ASC").First(&first).Error
		if err != nil {
			s.log.Warn("failed to load pre-alert group", zap.String("summary", g.Summary), zap.Error(err))
			continue
		}
		hash, desc := alerts.WebsiteIdentity(first.Labels[urlHashLabel], first.Description)
		if hash == "" {
			s.log.Warn("website pre-alert carries no url hash", zap.String("summary", g.Summary))
			continue
		}
		promoted = append(promoted, alerts.Classification{
			Fingerprint: hash,
			Type:        database.AlertTypeWebsite,
			Cluster:     alerts.WebsiteCluster,
			Instance:    first.Instance,
			Name:        first.Name,
			Severity:    first.Severity,
			Summary:     first.Summary,
			Description: desc,
			URLHash:     hash,
		})
	}
	return promoted, nil
}

// Purge deletes pre-alerts that expired more than PreAlertRetention ago
func (s *QuorumService) Purge() (int64, error) {
	cutoff := s.now().Add(-PreAlertRetention)
	res := s.db.Where("end_time < ?", cutoff).Delete(&database.PreAlert{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge pre-alerts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

const urlHashLabel = "url_hash"

func attrsFrom(c alerts.Classification, labels map[string]string, end time.Time) database.AlertAttrs {
	return database.AlertAttrs{
		Name:        c.Name,
		Type:        c.Type,
		Instance:    c.Instance,
		Cluster:     c.Cluster,
		Severity:    c.Severity,
		Summary:     c.Summary,
		Description: c.Description,
		Labels:      database.Labels(labels),
		End:         end,
		Status:      database.AlertStatusFiring,
		Count:       1,
	}
}
