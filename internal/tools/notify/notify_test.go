package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/backoff"
	"github.com/haasonsaas/adpilot/pkg/models"
)

type capture struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (c *capture) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloads[len(c.payloads)-1]
}

func newTestNotifier(t *testing.T, status func(n int32) int) (*Notifier, *capture, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	got := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		got.mu.Lock()
		got.payloads = append(got.payloads, body)
		got.mu.Unlock()
		w.WriteHeader(status(n))
	}))
	t.Cleanup(srv.Close)

	n := New(Config{WebhookURL: srv.URL, Channel: "#ads-ops"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.retry = backoff.Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2, MaxAttempts: 3}
	return n, got, &calls
}

func ok(int32) int { return http.StatusOK }

func TestNotifyBuildsBlocks(t *testing.T) {
	n, got, _ := newTestNotifier(t, ok)

	err := n.Notify(context.Background(), Notification{
		Title:   "Health check complete",
		Message: "*3* campaigns limited by budget",
		Level:   LevelWarning,
		Fields:  map[string]string{"account": "123-456-7890", "spend": "$1,204"},
	})
	if err != nil {
		t.Fatalf("Notify() = %v", err)
	}

	body := got.last()
	if body["channel"] != "#ads-ops" || body["username"] != "adpilot" {
		t.Errorf("payload = %v", body)
	}
	blocks, _ := body["blocks"].([]any)
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks: %v", len(blocks), blocks)
	}
	wantTypes := []string{"header", "section", "section", "context"}
	for i, b := range blocks {
		if typ := b.(map[string]any)["type"]; typ != wantTypes[i] {
			t.Errorf("block %d type = %v, want %s", i, typ, wantTypes[i])
		}
	}
	header := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.HasPrefix(header, ":warning: Health check complete") {
		t.Errorf("header = %q", header)
	}
	fields := blocks[2].(map[string]any)["fields"].([]any)
	if first := fields[0].(map[string]any)["text"]; first != "*account*\n123-456-7890" {
		t.Errorf("fields sorted wrong: %v", first)
	}
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	n, _, calls := newTestNotifier(t, func(n int32) int {
		if n == 1 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	})
	if err := n.Notify(context.Background(), Notification{Title: "x"}); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestNotifyDoesNotRetryClientErrors(t *testing.T) {
	n, _, calls := newTestNotifier(t, func(int32) int { return http.StatusNotFound })
	err := n.Notify(context.Background(), Notification{Message: "x"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestNotifyValidation(t *testing.T) {
	var unset *Notifier
	if err := unset.Notify(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("nil notifier err = %v", err)
	}
	if err := New(Config{}, nil).Notify(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unconfigured err = %v", err)
	}

	n, _, calls := newTestNotifier(t, ok)
	if err := n.Notify(context.Background(), Notification{Title: " "}); err == nil {
		t.Error("empty notification should fail")
	}
	if calls.Load() != 0 {
		t.Error("empty notification was posted")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 10); got != "héllo" {
		t.Errorf("short string changed: %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
}

func TestSendNotificationTool(t *testing.T) {
	n, got, _ := newTestNotifier(t, ok)
	reg := agent.NewToolRegistry()
	if err := Register(reg, n); err != nil {
		t.Fatal(err)
	}
	d := agent.NewDispatcher(reg, agent.DispatchConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	out := d.Dispatch(context.Background(), 0, []models.ToolCall{
		{ID: "1", Name: "send_notification", Input: json.RawMessage(`{"title":"Campaign created","message":"Spring Sale is live","level":"success"}`)},
		{ID: "2", Name: "send_notification", Input: json.RawMessage(`{"title":"x","message":"y","level":"loud"}`)},
	})

	if out[0].Result.IsError || out[0].Result.Content != `{"sent":true}` {
		t.Errorf("result = %+v", out[0].Result)
	}
	if !strings.Contains(got.last()["text"].(string), "Spring Sale is live") {
		t.Errorf("payload = %v", got.last())
	}
	if !out[1].Result.IsError {
		t.Errorf("unknown level should fail validation: %+v", out[1].Result)
	}
}
