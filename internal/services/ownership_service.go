package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/alertflow/alertflow/internal/alerts"
	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/database"
)

// WebsiteUnitName is the unit heading used for website alerts
const WebsiteUnitName = "Website monitoring"

// ErrUnitNotFound is returned when no monitor unit carries a cluster tag
var ErrUnitNotFound = errors.New("monitor unit not found")

// OwnershipService answers who manages which clusters and websites
type OwnershipService struct {
	db     *gorm.DB
	policy config.Policy
}

// NewOwnershipService creates a new OwnershipService
func NewOwnershipService(db *gorm.DB, policy config.Policy) *OwnershipService {
	return &OwnershipService{db: db, policy: policy}
}

// UnitForCluster returns the monitor unit owning cluster, with its operators
// and its data center's operators loaded. Log clusters resolve through their
// metric twin.
func (s *OwnershipService) UnitForCluster(cluster string) (*database.MonitorUnit, error) {
	tag := alerts.MetricClusterFor(strings.ToLower(cluster))
	var unit database.MonitorUnit
	err := s.db.Preload("Operators").Preload("DataCenter.Operators").
		Where("job_tag = ?", tag).First(&unit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, tag)
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// UnitEmails returns the unit's operators plus its data center's operators
func UnitEmails(unit *database.MonitorUnit) []string {
	var emails []string
	for _, op := range unit.Operators {
		emails = append(emails, op.Email)
	}
	if unit.DataCenter != nil {
		for _, op := range unit.DataCenter.Operators {
			emails = append(emails, op.Email)
		}
	}
	return uniqueSorted(emails)
}

// WebsiteOwners returns the emails of everyone watching a URL hash: the
// site owner and the operators of the site's data center.
func (s *OwnershipService) WebsiteOwners(urlHash string) ([]string, error) {
	var sites []database.MonitorWebsite
	err := s.db.Preload("Owner").Preload("DataCenter.Operators").
		Where("url_hash = ?", urlHash).Find(&sites).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load websites for %s: %w", urlHash, err)
	}
	var emails []string
	for _, site := range sites {
		if site.Owner.Email != "" {
			emails = append(emails, site.Owner.Email)
		}
		if site.DataCenter != nil {
			for _, op := range site.DataCenter.Operators {
				emails = append(emails, op.Email)
			}
		}
	}
	return uniqueSorted(emails), nil
}

// AdminEmails returns the emails of every admin operator
func (s *OwnershipService) AdminEmails() ([]string, error) {
	var ops []database.Operator
	if err := s.db.Where("is_admin = ?", true).Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed to load admin operators: %w", err)
	}
	emails := make([]string, 0, len(ops))
	for _, op := range ops {
		emails = append(emails, op.Email)
	}
	return uniqueSorted(emails), nil
}

// Scope is the set of alerts an operator may see
type Scope struct {
	All       bool
	Clusters  []string
	URLHashes []string
}

// Empty reports whether the scope admits nothing
func (sc Scope) Empty() bool {
	return !sc.All && len(sc.Clusters) == 0 && len(sc.URLHashes) == 0
}

// Apply restricts a query on an alert table to the scope
func (sc Scope) Apply(q *gorm.DB) *gorm.DB {
	switch {
	case sc.All:
		return q
	case sc.Empty():
		return q.Where("1 = 0")
	case len(sc.Clusters) == 0:
		return q.Where("fingerprint IN ?", sc.URLHashes)
	case len(sc.URLHashes) == 0:
		return q.Where("cluster IN ?", sc.Clusters)
	default:
		return q.Where("cluster IN ? OR fingerprint IN ?", sc.Clusters, sc.URLHashes)
	}
}

// Allows reports whether a single alert is visible within the scope
func (sc Scope) Allows(a *database.Alert) bool {
	if sc.All {
		return true
	}
	for _, c := range sc.Clusters {
		if c == a.Cluster {
			return true
		}
	}
	for _, h := range sc.URLHashes {
		if h == a.Fingerprint {
			return true
		}
	}
	return false
}

// Operator loads an operator by username
func (s *OwnershipService) Operator(username string) (*database.Operator, error) {
	var op database.Operator
	if err := s.db.Where("username = ?", username).First(&op).Error; err != nil {
		return nil, fmt.Errorf("failed to load operator %s: %w", username, err)
	}
	return &op, nil
}

// ScopeFor computes the visibility scope of an operator. Admins see
// everything; others see the clusters of units they or their data centers
// manage (plus the _log twin of each _metric tag) and their websites.
func (s *OwnershipService) ScopeFor(username string) (Scope, error) {
	op, err := s.Operator(username)
	if err != nil {
		return Scope{}, err
	}
	if op.IsAdmin {
		return Scope{All: true}, nil
	}

	dcIDs := s.db.Table("data_center_operators").Select("data_center_id").Where("operator_id = ?", op.ID)
	unitIDs := s.db.Table("monitor_unit_operators").Select("monitor_unit_id").Where("operator_id = ?", op.ID)

	var tags []string
	err = s.db.Model(&database.MonitorUnit{}).
		Where("id IN (?) OR data_center_id IN (?)", unitIDs, dcIDs).
		Pluck("job_tag", &tags).Error
	if err != nil {
		return Scope{}, fmt.Errorf("failed to load managed units: %w", err)
	}
	clusters := append([]string{}, tags...)
	for _, tag := range tags {
		if strings.HasSuffix(tag, "_metric") {
			clusters = append(clusters, strings.TrimSuffix(tag, "_metric")+"_log")
		}
	}

	var hashes []string
	err = s.db.Model(&database.MonitorWebsite{}).
		Where("owner_id = ? OR data_center_id IN (?)", op.ID, dcIDs).
		Pluck("url_hash", &hashes).Error
	if err != nil {
		return Scope{}, fmt.Errorf("failed to load managed websites: %w", err)
	}

	return Scope{
		Clusters:  uniqueSorted(clusters),
		URLHashes: uniqueSorted(hashes),
	}, nil
}

// Recipients is the resolved audience of one alert
type Recipients struct {
	Unit   string
	Emails []string
}

// RecipientResolver maps alerts to recipients for the duration of one
// notification run, remembering every cluster and URL hash it has looked up.
type RecipientResolver struct {
	owners   *OwnershipService
	clusters map[string]Recipients
	websites map[string]Recipients
}

// NewResolver returns a resolver with an empty cache
func (s *OwnershipService) NewResolver() *RecipientResolver {
	return &RecipientResolver{
		owners:   s,
		clusters: make(map[string]Recipients),
		websites: make(map[string]Recipients),
	}
}

// Resolve returns the recipients of a. Alerts from excluded clusters, and
// clusters with no monitor unit, resolve to nobody.
func (r *RecipientResolver) Resolve(a *database.Alert) (Recipients, error) {
	switch a.Type {
	case database.AlertTypeWebsite:
		if rec, ok := r.websites[a.Fingerprint]; ok {
			return rec, nil
		}
		emails, err := r.owners.WebsiteOwners(a.Fingerprint)
		if err != nil {
			return Recipients{}, err
		}
		rec := Recipients{Unit: WebsiteUnitName, Emails: emails}
		r.websites[a.Fingerprint] = rec
		return rec, nil

	case database.AlertTypeMetric, database.AlertTypeLog:
		if r.owners.policy.IsNotifyExcluded(a.Cluster) {
			return Recipients{}, nil
		}
		if rec, ok := r.clusters[a.Cluster]; ok {
			return rec, nil
		}
		unit, err := r.owners.UnitForCluster(a.Cluster)
		if errors.Is(err, ErrUnitNotFound) {
			r.clusters[a.Cluster] = Recipients{}
			return Recipients{}, nil
		}
		if err != nil {
			return Recipients{}, err
		}
		rec := Recipients{Unit: unit.Name, Emails: UnitEmails(unit)}
		r.clusters[a.Cluster] = rec
		return rec, nil
	}
	return Recipients{}, nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
