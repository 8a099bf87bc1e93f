package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alertflow/alertflow/internal/alerts"
)

// AlertmanagerAdapter handles Alertmanager-style receiver payloads
type AlertmanagerAdapter struct {
	alerts.BaseAdapter
}

// NewAlertmanagerAdapter creates a new Alertmanager adapter
func NewAlertmanagerAdapter() *AlertmanagerAdapter {
	return &AlertmanagerAdapter{
		BaseAdapter: alerts.BaseAdapter{SourceType: "alertmanager"},
	}
}

// AlertmanagerPayload represents the webhook envelope sent by Alertmanager
type AlertmanagerPayload struct {
	Alerts            []AlertmanagerAlert `json:"alerts"`
	Status            string              `json:"status"`
	GroupLabels       map[string]string   `json:"groupLabels"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
}

// AlertmanagerAlert represents a single alert in the payload
type AlertmanagerAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// ParsePayload accepts either a bare JSON list of alerts or the
// {"alerts": [...]} envelope.
func (a *AlertmanagerAdapter) ParsePayload(body []byte) ([]alerts.RawEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("failed to parse alertmanager payload: empty body")
	}

	var list []AlertmanagerAlert
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to parse alertmanager payload: %w", err)
		}
	} else {
		var payload AlertmanagerPayload
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse alertmanager payload: %w", err)
		}
		list = payload.Alerts
	}

	events := make([]alerts.RawEvent, 0, len(list))
	for _, alert := range list {
		events = append(events, a.parseAlert(alert))
	}
	return events, nil
}

func (a *AlertmanagerAdapter) parseAlert(alert AlertmanagerAlert) alerts.RawEvent {
	labels := make(map[string]string, len(alert.Labels))
	for k, v := range alert.Labels {
		labels[k] = v
	}
	return alerts.RawEvent{
		Labels: labels,
		Annotations: alerts.Annotations{
			Summary:     alert.Annotations["summary"],
			Description: alert.Annotations["description"],
		},
		StartsAt: alert.StartsAt,
	}
}
