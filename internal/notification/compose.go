package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/alertflow/alertflow/internal/alerts"
	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/services"
)

// Delivery pairs one alert with one recipient
type Delivery struct {
	Email string
	Unit  string
	Alert database.Alert
}

// InstanceGroup is the alerts of one host or site inside a unit
type InstanceGroup struct {
	Instance string
	Alerts   []database.Alert
}

// UnitGroup is the alerts of one monitor unit inside a batch
type UnitGroup struct {
	Unit      string
	Instances []InstanceGroup
}

// Batch is everything one recipient receives in one run
type Batch struct {
	Email  string
	Units  []UnitGroup
	Alerts []database.Alert
}

// GroupByRecipient folds deliveries into one batch per email. Batches come
// out in first-seen order, and so do units and instances within them.
func GroupByRecipient(deliveries []Delivery) []Batch {
	index := make(map[string]int)
	var batches []Batch
	for _, d := range deliveries {
		i, ok := index[d.Email]
		if !ok {
			i = len(batches)
			index[d.Email] = i
			batches = append(batches, Batch{Email: d.Email})
		}
		batches[i].add(d)
	}
	return batches
}

func (b *Batch) add(d Delivery) {
	b.Alerts = append(b.Alerts, d.Alert)

	u := -1
	for i := range b.Units {
		if b.Units[i].Unit == d.Unit {
			u = i
			break
		}
	}
	if u < 0 {
		b.Units = append(b.Units, UnitGroup{Unit: d.Unit})
		u = len(b.Units) - 1
	}
	unit := &b.Units[u]

	instance := displayInstance(d.Unit, &d.Alert)
	for i := range unit.Instances {
		if unit.Instances[i].Instance == instance {
			unit.Instances[i].Alerts = append(unit.Instances[i].Alerts, d.Alert)
			return
		}
	}
	unit.Instances = append(unit.Instances, InstanceGroup{Instance: instance, Alerts: []database.Alert{d.Alert}})
}

func displayInstance(unit string, a *database.Alert) string {
	if unit == services.WebsiteUnitName || a.Type == database.AlertTypeWebsite {
		return alerts.WebsiteInstance(a.Summary)
	}
	return a.Instance
}

// Subject names the first alert's host or site and hints at the rest
func Subject(b Batch) string {
	if len(b.Units) == 0 || len(b.Units[0].Instances) == 0 {
		return "Alert notification"
	}
	first := b.Units[0]
	kind := "Host alert"
	if first.Unit == services.WebsiteUnitName {
		kind = "Website alert"
	}
	s := fmt.Sprintf("%s (%s)", kind, first.Instances[0].Instance)
	if len(b.Alerts) > 1 {
		s += " and more"
	}
	return s
}

var bodyTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"ts": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}).Parse(`<html><body style="font-family: sans-serif">
<p>The following alerts are firing.</p>
{{range .Units}}
<h3>{{.Unit}}</h3>
<table border="1" cellpadding="4" cellspacing="0" style="border-collapse: collapse">
<tr><th>Instance</th><th>Alert</th><th>Severity</th><th>Summary</th><th>Description</th><th>Since</th><th>Count</th></tr>
{{range .Instances}}{{$instance := .Instance}}{{range .Alerts}}
<tr><td>{{$instance}}</td><td>{{.Name}}</td><td>{{.Severity}}</td><td>{{.Summary}}</td><td>{{.Description}}</td><td>{{ts .Start}}</td><td>{{.Count}}</td></tr>
{{end}}{{end}}
</table>
{{end}}
<p>To limit mail volume you will receive no further alert mail before {{ts .QuietUntil}}.</p>
{{if .PortalURL}}<p>All current alerts: <a href="{{.PortalURL}}">{{.PortalURL}}</a></p>{{end}}
</body></html>
`))

// Composer renders batches into messages
type Composer struct {
	portalURL string
	loc       *time.Location
}

// NewComposer creates a composer rendering times in loc
func NewComposer(portalURL string, loc *time.Location) *Composer {
	if loc == nil {
		loc = time.Local
	}
	return &Composer{portalURL: portalURL, loc: loc}
}

// Compose renders one batch. quietUntil is shown as the next possible mail.
func (c *Composer) Compose(b Batch, quietUntil time.Time) (Message, error) {
	units := make([]UnitGroup, len(b.Units))
	for i, u := range b.Units {
		units[i] = UnitGroup{Unit: u.Unit}
		for _, ig := range u.Instances {
			local := InstanceGroup{Instance: ig.Instance}
			for _, a := range ig.Alerts {
				a.Start = a.Start.In(c.loc)
				local.Alerts = append(local.Alerts, a)
			}
			units[i].Instances = append(units[i].Instances, local)
		}
	}

	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct {
		Units      []UnitGroup
		QuietUntil time.Time
		PortalURL  string
	}{units, quietUntil.In(c.loc), c.portalURL})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render mail for %s: %w", b.Email, err)
	}
	return Message{
		To:      []string{b.Email},
		Subject: Subject(b),
		HTML:    buf.String(),
	}, nil
}
