// Package notify posts run summaries and alerts to a Slack incoming webhook
// and exposes them to the agent as the send_notification tool.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/backoff"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var levelEmoji = map[Level]string{
	LevelInfo:    ":information_source:",
	LevelSuccess: ":white_check_mark:",
	LevelWarning: ":warning:",
	LevelError:   ":rotating_light:",
}

// Slack limits header text to 150 characters and section text to 3000.
const (
	maxHeaderLen  = 150
	maxSectionLen = 3000
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("slack notifications are not configured")

// Config holds Slack webhook settings.
type Config struct {
	WebhookURL string        `yaml:"webhook_url" json:"webhook_url"`
	Channel    string        `yaml:"channel" json:"channel"`
	Username   string        `yaml:"username" json:"username"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// Notification is one message to post.
type Notification struct {
	Title   string            `json:"title" jsonschema:"description=Short headline"`
	Message string            `json:"message" jsonschema:"description=Body text; Slack mrkdwn is supported"`
	Level   Level             `json:"level,omitempty" jsonschema:"enum=info,enum=success,enum=warning,enum=error"`
	Fields  map[string]string `json:"fields,omitempty" jsonschema:"description=Optional key/value facts shown under the message"`
}

// Notifier posts Block Kit messages to a Slack incoming webhook.
type Notifier struct {
	config     Config
	httpClient *http.Client
	retry      backoff.Policy
	logger     *slog.Logger
}

// New creates a Notifier.
func New(cfg Config, logger *slog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Username == "" {
		cfg.Username = "adpilot"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      backoff.Policy{Initial: time.Second, Max: 10 * time.Second, Factor: 2, MaxAttempts: 3},
		logger:     logger.With("component", "notify"),
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.config.WebhookURL != ""
}

// Notify posts msg. Rate-limited and 5xx responses are retried.
func (n *Notifier) Notify(ctx context.Context, msg Notification) error {
	if !n.Enabled() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(msg.Title) == "" && strings.TrimSpace(msg.Message) == "" {
		return errors.New("notification needs a title or a message")
	}
	payload := n.buildMessage(msg)

	return backoff.Do(ctx, n.retry, func(attempt int) error {
		err := slack.PostWebhookCustomHTTPContext(ctx, n.config.WebhookURL, n.httpClient, payload)
		if err == nil {
			return nil
		}
		var rl *slack.RateLimitedError
		if errors.As(err, &rl) {
			n.logger.Warn("slack rate limited", "retry_after", rl.RetryAfter, "attempt", attempt)
			return retryAfterError{err: err, wait: rl.RetryAfter}
		}
		var sc slack.StatusCodeError
		if errors.As(err, &sc) && sc.Code >= 500 {
			return err
		}
		return backoff.Permanent(err)
	})
}

type retryAfterError struct {
	err  error
	wait time.Duration
}

func (e retryAfterError) Error() string             { return e.err.Error() }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.wait }

func (n *Notifier) buildMessage(msg Notification) *slack.WebhookMessage {
	level := msg.Level
	if _, ok := levelEmoji[level]; !ok {
		level = LevelInfo
	}
	title := strings.TrimSpace(msg.Title)
	if title == "" {
		title = "adpilot"
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
			truncate(levelEmoji[level]+" "+title, maxHeaderLen), true, false)),
	}
	if body := strings.TrimSpace(msg.Message); body != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncate(body, maxSectionLen), false, false), nil, nil))
	}
	if len(msg.Fields) > 0 {
		keys := make([]string, 0, len(msg.Fields))
		for k := range msg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		// Slack renders at most 10 fields per section.
		keys = keys[:min(len(keys), 10)]
		fields := make([]*slack.TextBlockObject, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", k, msg.Fields[k]), false, false))
		}
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("%s | %s", level, time.Now().UTC().Format(time.RFC3339)), false, false)))

	return &slack.WebhookMessage{
		Username: n.config.Username,
		Channel:  n.config.Channel,
		Text:     truncate(title+": "+msg.Message, maxSectionLen),
		Blocks:   &slack.Blocks{BlockSet: blocks},
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// Register adds send_notification to reg.
func Register(reg *agent.ToolRegistry, n *Notifier) error {
	return reg.Register(agent.ToolSpec{
		ID:          agent.ToolSendNotification,
		Description: "Post a notification (title, message, level) to the team's Slack channel.",
		Schema:      agent.SchemaFor[Notification](),
		Handler: agent.Typed(func(ctx context.Context, msg Notification) (any, error) {
			if err := n.Notify(ctx, msg); err != nil {
				return nil, err
			}
			return map[string]any{"sent": true}, nil
		}),
	})
}
