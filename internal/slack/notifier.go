package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Severity colours the attachment bar
type Severity string

const (
	SeverityInfo    Severity = "good"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Field is one key/value line of a notice
type Field struct {
	Title string
	Value string
}

// Notice is one chat message
type Notice struct {
	Title    string
	Text     string
	Severity Severity
	Fields   []Field
}

// Notifier posts notices to a Slack incoming webhook. A Notifier with an
// empty webhook URL is disabled and drops every notice.
type Notifier struct {
	webhookURL string
	client     *http.Client
	log        *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewNotifier creates a notifier for webhookURL
func NewNotifier(webhookURL string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
		lastSent:   make(map[string]time.Time),
		cooldown:   10 * time.Minute,
		now:        time.Now,
	}
}

// Enabled reports whether a webhook is configured
func (n *Notifier) Enabled() bool {
	return n != nil && n.webhookURL != ""
}

// Post sends a notice. It is a no-op when the notifier is disabled.
func (n *Notifier) Post(ctx context.Context, notice Notice) error {
	if !n.Enabled() {
		return nil
	}

	att := slack.Attachment{
		Color:      string(notice.Severity),
		Title:      notice.Title,
		Text:       notice.Text,
		Footer:     "alertflow",
		Ts:         json.Number(strconv.FormatInt(n.now().Unix(), 10)),
		MarkdownIn: []string{"text"},
	}
	for _, f := range notice.Fields {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: f.Title, Value: f.Value, Short: true})
	}
	msg := &slack.WebhookMessage{
		Text:        notice.Title,
		Attachments: []slack.Attachment{att},
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("failed to post slack notice: %w", err)
	}
	return nil
}

// PostOnce posts a notice unless one with the same key was posted within the
// cooldown. Failures are logged, not returned.
func (n *Notifier) PostOnce(ctx context.Context, key string, notice Notice) {
	if !n.Enabled() {
		return
	}
	n.mu.Lock()
	if last, ok := n.lastSent[key]; ok && n.now().Sub(last) < n.cooldown {
		n.mu.Unlock()
		return
	}
	n.lastSent[key] = n.now()
	n.mu.Unlock()

	if err := n.Post(ctx, notice); err != nil {
		n.log.Warn("slack notice failed", zap.String("key", key), zap.Error(err))
	}
}
