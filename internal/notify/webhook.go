package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

var httpClient = &http.Client{Timeout: requestTimeout}

// webhookEvent is the generic webhook body.
type webhookEvent struct {
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Priority  Priority       `json:"priority"`
	Data      map[string]any `json:"data,omitempty"`
}

// sendWebhook posts a message to a webhook endpoint with retry on 5xx.
func sendWebhook(cfg WebhookConfig, msg Message) error {
	body, err := formatPayload(cfg.Format, msg)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}

// matchesEvents reports whether the webhook subscribes to the message
// type. An empty list subscribes to everything.
func matchesEvents(events []string, msgType string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == msgType {
			return true
		}
	}
	return false
}

func formatPayload(format string, msg Message) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(msg)
	default:
		return json.Marshal(webhookEvent{
			Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			Type:      msg.Type,
			Subject:   msg.Subject,
			Body:      msg.Body,
			Priority:  msg.Priority,
			Data:      msg.Data,
		})
	}
}

func formatSlack(msg Message) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("pcagent: %s", msg.Subject),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Event:* %s", msg.Type)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", msg.Priority)},
					map[string]any{"type": "mrkdwn", "text": msg.Body},
				},
			},
		},
	}
	return json.Marshal(payload)
}
