package notification

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/services"
	"github.com/alertflow/alertflow/internal/slack"
)

// StaleLockNotifier tells administrators that a task lock outlived its
// expiry without being released.
type StaleLockNotifier struct {
	owners *services.OwnershipService
	mailer Mailer
	chat   *slack.Notifier
	loc    *time.Location
	log    *zap.Logger
}

// NewStaleLockNotifier creates a notifier mailing every admin operator and
// posting to chat when a webhook is configured.
func NewStaleLockNotifier(owners *services.OwnershipService, mailer Mailer, chat *slack.Notifier, loc *time.Location, log *zap.Logger) *StaleLockNotifier {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StaleLockNotifier{owners: owners, mailer: mailer, chat: chat, loc: loc, log: log}
}

var staleTemplate = template.Must(template.New("stale").Parse(`<html><body>
<p>The task lock <b>{{.Task}}</b> is still held after its expiry.</p>
<ul>
<li>Host: {{.Host}}</li>
<li>Started: {{.Start}}</li>
<li>Expired: {{.Expire}}</li>
</ul>
<p>Check whether the job on that host is still alive before releasing the lock by hand.</p>
</body></html>
`))

// NotifyUnreleased mails the admins about lock. The mail result decides the
// returned error; a chat failure is only logged.
func (n *StaleLockNotifier) NotifyUnreleased(ctx context.Context, lock database.TaskLock) error {
	start, expire := n.format(lock.StartTime), n.format(lock.ExpireTime)

	if n.chat.Enabled() {
		err := n.chat.Post(ctx, slack.Notice{
			Title:    fmt.Sprintf("Task lock %s not released", lock.Task),
			Text:     "The lock expired while still marked running.",
			Severity: slack.SeverityDanger,
			Fields: []slack.Field{
				{Title: "Host", Value: lock.Host},
				{Title: "Started", Value: start},
				{Title: "Expired", Value: expire},
			},
		})
		if err != nil {
			n.log.Warn("stale lock chat notice failed", zap.String("task", lock.Task), zap.Error(err))
		}
	}

	admins, err := n.owners.AdminEmails()
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		n.log.Warn("no admin operators to notify about stale lock", zap.String("task", lock.Task))
		return nil
	}

	var body strings.Builder
	err = staleTemplate.Execute(&body, map[string]string{
		"Task":   lock.Task,
		"Host":   lock.Host,
		"Start":  start,
		"Expire": expire,
	})
	if err != nil {
		return fmt.Errorf("failed to render stale lock mail: %w", err)
	}
	return n.mailer.Send(ctx, Message{
		To:      admins,
		Subject: fmt.Sprintf("Task lock %s not released", lock.Task),
		HTML:    body.String(),
	})
}

func (n *StaleLockNotifier) format(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(n.loc).Format("2006-01-02 15:04:05")
}
