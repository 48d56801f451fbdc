package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeBroadcaster struct {
	mu    sync.Mutex
	sent  []string
	count int
	err   error
}

func (f *fakeBroadcaster) Broadcast(msgType string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msgType)
	return nil
}

func (f *fakeBroadcaster) ClientCount() int { return f.count }

func TestRender(t *testing.T) {
	got := render("Approval needed: {reason} ({confidence})", map[string]any{
		"reason":     "blocked site",
		"confidence": 0.9,
	})
	want := "Approval needed: blocked site (0.9)"
	if got != want {
		t.Errorf("render = %q, want %q", got, want)
	}
}

func TestSendUsesTemplateDefaults(t *testing.T) {
	b := &fakeBroadcaster{count: 1}
	a := NewAgent(DefaultConfig(), b, nil)

	outcomes := a.Send(Message{
		Type: "approval_request",
		Data: map[string]any{"reason": "bad content", "application": "Browser"},
	})

	if len(outcomes) == 0 {
		t.Fatal("expected outcomes")
	}
	// in_app must succeed; desktop and email are unconfigured and fail
	// softly.
	var inAppOK bool
	for _, o := range outcomes {
		if o.Channel == ChannelInApp && o.OK {
			inAppOK = true
		}
	}
	if !inAppOK {
		t.Errorf("expected in_app delivery, got %+v", outcomes)
	}
	if len(b.sent) != 1 || b.sent[0] != "APPROVAL_REQUEST" {
		t.Errorf("unexpected broadcasts: %v", b.sent)
	}
}

func TestDeliveryFailureIsSoft(t *testing.T) {
	b := &fakeBroadcaster{err: errors.New("no clients")}
	a := NewAgent(DefaultConfig(), b, nil)

	outcomes := a.Send(Message{Type: "approval_result", Data: map[string]any{}})
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].OK {
		t.Error("expected failed outcome")
	}

	s := a.Stats()
	if s.TotalFail != 1 {
		t.Errorf("expected 1 failure, got %d", s.TotalFail)
	}
}

func TestQuietHoursSuppressNonEmergency(t *testing.T) {
	cfg := DefaultConfig()
	// Window covering the whole day so the test is time-independent.
	cfg.QuietHoursFrom = 0
	cfg.QuietHoursTo = 24

	b := &fakeBroadcaster{count: 1}
	a := NewAgent(cfg, b, nil)

	if out := a.Send(Message{Type: "approval_request", Data: map[string]any{}}); out != nil {
		t.Errorf("expected suppression, got %+v", out)
	}
	if a.Stats().Suppressed != 1 {
		t.Errorf("expected suppressed count 1, got %d", a.Stats().Suppressed)
	}

	// Emergency bypasses quiet hours.
	out := a.Send(Message{Type: "emergency_alert", Data: map[string]any{"reason": "x"}})
	if out == nil {
		t.Fatal("emergency must not be suppressed")
	}
}

func TestInQuietHoursWrapsMidnight(t *testing.T) {
	cfg := &Config{QuietHoursFrom: 22, QuietHoursTo: 7}

	at := func(h int) time.Time {
		return time.Date(2025, 6, 1, h, 30, 0, 0, time.UTC)
	}
	if !cfg.inQuietHours(at(23)) {
		t.Error("23:30 should be quiet")
	}
	if !cfg.inQuietHours(at(3)) {
		t.Error("03:30 should be quiet")
	}
	if cfg.inQuietHours(at(12)) {
		t.Error("12:30 should not be quiet")
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []webhookEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("bad webhook body: %v", err)
		}
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Webhooks = []WebhookConfig{
		{URL: srv.URL, Events: []string{"emergency_alert"}},
	}
	a := NewAgent(cfg, &fakeBroadcaster{count: 1}, nil)

	// Not subscribed: no webhook call.
	a.Send(Message{Type: "approval_result", Data: map[string]any{}})
	// Subscribed.
	a.Send(Message{Type: "emergency_alert", Data: map[string]any{"reason": "keyword"}})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 webhook call, got %d", len(received))
	}
	if received[0].Type != "emergency_alert" {
		t.Errorf("unexpected event type: %s", received[0].Type)
	}
	if received[0].Priority != PriorityEmergency {
		t.Errorf("unexpected priority: %s", received[0].Priority)
	}
}

func TestWebhookRejected4xxNoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := sendWebhook(WebhookConfig{URL: srv.URL}, Message{Type: "t"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected single attempt on 4xx, got %d", calls)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.yaml")
	content := `
sms_gateway_url: https://sms.example.com/send
quiet_hours_from: 22
quiet_hours_to: 7
webhooks:
  - url: https://hooks.example.com/x
    format: slack
    events: ["emergency_alert"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.SMSGatewayURL == "" || len(cfg.Webhooks) != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.QuietHoursFrom != 22 || cfg.QuietHoursTo != 7 {
		t.Errorf("unexpected quiet hours: %d-%d", cfg.QuietHoursFrom, cfg.QuietHoursTo)
	}

	missing, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("missing file should return defaults: %v", err)
	}
	if missing.QuietHoursFrom != -1 {
		t.Errorf("unexpected defaults: %+v", missing)
	}
}
