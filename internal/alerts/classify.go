package alerts

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/alertflow/alertflow/internal/database"
)

// WebsiteCluster is the cluster every promoted website alert is filed under
const WebsiteCluster = "webmonitor"

const (
	clusterLabel   = "monitor_cluster"
	jobLabel       = "job"
	volatileLabel  = "device"
	logSuffix      = "log"
	metricSuffix   = "metric"
	urlHashLabel   = "url_hash"
	severityLabel  = "severity"
	alertNameLabel = "alertname"
	instanceLabel  = "instance"
)

var logNamePattern = regexp.MustCompile(`\{"name":"(.*?)"\}`)

// Classification is everything derived from a raw event before it is stored
type Classification struct {
	Fingerprint string
	Type        database.AlertType
	Cluster     string
	Instance    string
	Name        string
	Severity    database.AlertSeverity
	Summary     string
	Description string
	URLHash     string
}

// Classify validates e and derives its identity and type. It is pure.
func Classify(e RawEvent) (Classification, error) {
	if err := e.Validate(); err != nil {
		return Classification{}, err
	}
	cluster, typ, err := ParseAlertType(e.Labels)
	if err != nil {
		return Classification{}, err
	}
	return Classification{
		Fingerprint: Fingerprint(e),
		Type:        typ,
		Cluster:     cluster,
		Instance:    ParseInstance(typ, e),
		Name:        e.Labels[alertNameLabel],
		Severity:    ParseSeverity(e.Labels),
		Summary:     e.Annotations.Summary,
		Description: e.Annotations.Description,
		URLHash:     e.Labels[urlHashLabel],
	}, nil
}

// Fingerprint hashes the summary together with every label except the
// volatile device label. Labels are encoded with sorted keys so the result
// does not depend on submission order.
func Fingerprint(e RawEvent) string {
	labels := make(map[string]string, len(e.Labels))
	for k, v := range e.Labels {
		if k == volatileLabel {
			continue
		}
		labels[k] = v
	}
	summary, _ := json.Marshal(e.Annotations.Summary)
	encoded, _ := json.Marshal(labels)

	h := sha1.New()
	h.Write(summary)
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil))
}

// ParseAlertType reads the cluster from monitor_cluster (falling back to job)
// and derives the alert type from its naming convention.
func ParseAlertType(labels map[string]string) (string, database.AlertType, error) {
	cluster := labels[clusterLabel]
	if cluster == "" {
		cluster = labels[jobLabel]
	}
	cluster = strings.ToLower(cluster)

	switch {
	case strings.Contains(cluster, WebsiteCluster):
		return cluster, database.AlertTypeWebsite, nil
	case strings.HasSuffix(cluster, logSuffix):
		return cluster, database.AlertTypeLog, nil
	case strings.HasSuffix(cluster, metricSuffix):
		return cluster, database.AlertTypeMetric, nil
	}
	return cluster, "", fmt.Errorf("%w: %q", ErrInvalidCluster, cluster)
}

// ParseInstance extracts the instance for the given alert type. Website
// alerts carry none; they are identified by URL hash instead.
func ParseInstance(typ database.AlertType, e RawEvent) string {
	switch typ {
	case database.AlertTypeMetric:
		return e.Labels[instanceLabel]
	case database.AlertTypeLog:
		if m := logNamePattern.FindStringSubmatch(e.Annotations.Description); m != nil {
			return m[1]
		}
	}
	return ""
}

// ParseSeverity returns the severity label when it is a known level and
// warning otherwise.
func ParseSeverity(labels map[string]string) database.AlertSeverity {
	s := labels[severityLabel]
	if database.ValidSeverity(s) {
		return database.AlertSeverity(s)
	}
	return database.AlertSeverityWarning
}

// MetricClusterFor maps a log cluster onto the metric cluster that owns the
// same hosts (x_log -> x_metric). Other clusters are returned unchanged.
func MetricClusterFor(cluster string) string {
	if strings.HasSuffix(cluster, "_"+logSuffix) {
		return strings.TrimSuffix(cluster, "_"+logSuffix) + "_" + metricSuffix
	}
	return cluster
}

// WebsiteIdentity splits a probe description into the URL hash used as the
// promoted alert's fingerprint and the description shown to operators. The
// probe appends "<url_hash> <probe>" to every description; a url_hash label
// takes precedence when present.
func WebsiteIdentity(urlHashLabelValue, description string) (string, string) {
	fields := strings.Fields(description)
	if len(fields) < 2 {
		return urlHashLabelValue, description
	}
	hash := fields[len(fields)-2]
	if urlHashLabelValue != "" {
		hash = urlHashLabelValue
	}
	return hash, strings.Join(fields[:len(fields)-2], " ")
}

var websiteInstancePattern = regexp.MustCompile(`\(instance ([^)]*)\)`)

// WebsiteInstance extracts "(instance <x>)" from a website alert summary.
func WebsiteInstance(summary string) string {
	if m := websiteInstancePattern.FindStringSubmatch(summary); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
