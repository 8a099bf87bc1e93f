package testhelpers

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/alertflow/alertflow/internal/alerts"
	"github.com/alertflow/alertflow/internal/database"
)

// ========================================
// Raw Event Builder
// ========================================

// RawEventBuilder builds receiver events for testing
type RawEventBuilder struct {
	event alerts.RawEvent
}

// NewEventBuilder creates a metric event for db1_node_metric with defaults
func NewEventBuilder() *RawEventBuilder {
	return &RawEventBuilder{
		event: alerts.RawEvent{
			Labels: map[string]string{
				"alertname":       "DiskFull",
				"monitor_cluster": "db1_node_metric",
				"instance":        "10.0.0.1:9100",
				"severity":        "error",
			},
			Annotations: alerts.Annotations{
				Summary:     "disk full",
				Description: "root filesystem above 95%",
			},
			StartsAt: time.Now(),
		},
	}
}

// NewWebsiteEventBuilder creates a website probe report for urlHash
func NewWebsiteEventBuilder(probe, urlHash string) *RawEventBuilder {
	return &RawEventBuilder{
		event: alerts.RawEvent{
			Labels: map[string]string{
				"alertname":       "SiteDown",
				"monitor_cluster": alerts.WebsiteCluster,
				"probe":           probe,
				"url_hash":        urlHash,
				"severity":        "critical",
			},
			Annotations: alerts.Annotations{
				Summary:     "site unreachable (instance https://example.com)",
				Description: "status 503 " + urlHash + " " + probe,
			},
			StartsAt: time.Now(),
		},
	}
}

// WithCluster sets the monitor_cluster label
func (b *RawEventBuilder) WithCluster(cluster string) *RawEventBuilder {
	return b.WithLabel("monitor_cluster", cluster)
}

// WithLabel adds or replaces a label
func (b *RawEventBuilder) WithLabel(key, value string) *RawEventBuilder {
	b.event.Labels[key] = value
	return b
}

// WithoutLabel removes a label
func (b *RawEventBuilder) WithoutLabel(key string) *RawEventBuilder {
	delete(b.event.Labels, key)
	return b
}

// WithSummary sets the summary annotation
func (b *RawEventBuilder) WithSummary(summary string) *RawEventBuilder {
	b.event.Annotations.Summary = summary
	return b
}

// WithDescription sets the description annotation
func (b *RawEventBuilder) WithDescription(desc string) *RawEventBuilder {
	b.event.Annotations.Description = desc
	return b
}

// Build returns a copy of the constructed event
func (b *RawEventBuilder) Build() alerts.RawEvent {
	e := b.event
	e.Labels = make(map[string]string, len(b.event.Labels))
	for k, v := range b.event.Labels {
		e.Labels[k] = v
	}
	return e
}

// ========================================
// Alert Builder
// ========================================

// AlertBuilder builds firing alert rows for testing
type AlertBuilder struct {
	alert database.Alert
}

// NewAlertBuilder creates a firing metric alert starting at start
func NewAlertBuilder(fingerprint string, start time.Time) *AlertBuilder {
	a := database.Alert{
		Fingerprint: fingerprint,
		Start:       start,
		AlertAttrs: database.AlertAttrs{
			Name:        "DiskFull",
			Type:        database.AlertTypeMetric,
			Instance:    "10.0.0.1",
			Cluster:     "db1_node_metric",
			Severity:    database.AlertSeverityError,
			Summary:     "disk full",
			Description: "root filesystem above 95%",
			End:         start.Add(time.Hour),
			Status:      database.AlertStatusFiring,
			Count:       1,
		},
	}
	a.CreatedAt = start
	a.UpdatedAt = start
	return &AlertBuilder{alert: a}
}

// WithID sets the alert ID
func (b *AlertBuilder) WithID(id string) *AlertBuilder {
	b.alert.ID = id
	return b
}

// WithType sets the alert type
func (b *AlertBuilder) WithType(typ database.AlertType) *AlertBuilder {
	b.alert.Type = typ
	return b
}

// WithCluster sets the cluster
func (b *AlertBuilder) WithCluster(cluster string) *AlertBuilder {
	b.alert.Cluster = cluster
	return b
}

// WithInstance sets the instance
func (b *AlertBuilder) WithInstance(instance string) *AlertBuilder {
	b.alert.Instance = instance
	return b
}

// WithSummary sets the summary
func (b *AlertBuilder) WithSummary(summary string) *AlertBuilder {
	b.alert.Summary = summary
	return b
}

// WithSeverity sets the severity
func (b *AlertBuilder) WithSeverity(sev database.AlertSeverity) *AlertBuilder {
	b.alert.Severity = sev
	return b
}

// WithEnd sets the predicted end
func (b *AlertBuilder) WithEnd(end time.Time) *AlertBuilder {
	b.alert.End = end
	return b
}

// WithTicket links the alert to a ticket
func (b *AlertBuilder) WithTicket(id string) *AlertBuilder {
	b.alert.TicketID = &id
	return b
}

// WithLabels sets the stored labels
func (b *AlertBuilder) WithLabels(labels map[string]string) *AlertBuilder {
	b.alert.Labels = database.Labels(labels)
	return b
}

// NotifiedAt sets first and last notification times
func (b *AlertBuilder) NotifiedAt(first, last time.Time) *AlertBuilder {
	b.alert.FirstNotification = &first
	b.alert.LastNotification = &last
	return b
}

// Build returns the constructed alert
func (b *AlertBuilder) Build() *database.Alert {
	a := b.alert
	return &a
}

// ========================================
// Operator Builder
// ========================================

// OperatorBuilder builds Operator instances for testing
type OperatorBuilder struct {
	op       database.Operator
	password string
}

// NewOperatorBuilder creates a non-admin operator
func NewOperatorBuilder(username string) *OperatorBuilder {
	return &OperatorBuilder{
		op: database.Operator{
			Username: username,
			Email:    username + "@example.com",
		},
	}
}

// WithEmail sets the email
func (b *OperatorBuilder) WithEmail(email string) *OperatorBuilder {
	b.op.Email = email
	return b
}

// WithPassword stores a bcrypt hash of password
func (b *OperatorBuilder) WithPassword(password string) *OperatorBuilder {
	b.password = password
	return b
}

// AsAdmin marks the operator as an administrator
func (b *OperatorBuilder) AsAdmin() *OperatorBuilder {
	b.op.IsAdmin = true
	return b
}

// Build returns the constructed operator
func (b *OperatorBuilder) Build() *database.Operator {
	op := b.op
	if b.password != "" {
		// MinCost keeps tests fast
		hash, err := bcrypt.GenerateFromPassword([]byte(b.password), bcrypt.MinCost)
		if err == nil {
			op.PasswordHash = string(hash)
		}
	}
	return &op
}

// ========================================
// Ownership Builders
// ========================================

// NewMonitorUnit returns a unit for jobTag owned by operators
func NewMonitorUnit(name, jobTag string, operators ...database.Operator) *database.MonitorUnit {
	return &database.MonitorUnit{
		Name:      name,
		JobTag:    jobTag,
		Operators: operators,
	}
}

// NewMonitorWebsite returns a website identified by urlHash and owned by owner
func NewMonitorWebsite(url, urlHash string, owner database.Operator) *database.MonitorWebsite {
	return &database.MonitorWebsite{
		Name:    url,
		URL:     url,
		URLHash: urlHash,
		OwnerID: owner.ID,
	}
}
