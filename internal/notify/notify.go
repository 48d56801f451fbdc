// Package notify delivers approval-workflow events to a human through the
// secondary channels: desktop popup, email, SMS gateway, and webhooks.
// Delivery is best-effort per channel; a failed send is reported in the
// outcome and logged, never surfaced as fatal to the caller.
package notify

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Priority orders notifications. Emergency bypasses quiet hours.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Channel identifies a delivery mechanism.
type Channel string

const (
	ChannelDesktop Channel = "desktop"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
	ChannelInApp   Channel = "in_app"
)

// Message is the channel-agnostic notification payload.
type Message struct {
	Type     string         // template key, e.g. "approval_request"
	Subject  string         // empty = render from template
	Body     string         // empty = render from template
	Priority Priority       // empty = template default
	Channels []Channel      // empty = template default
	Data     map[string]any // template variables + structured payload
}

// Outcome reports one channel's delivery result.
type Outcome struct {
	Channel Channel `json:"channel"`
	OK      bool    `json:"ok"`
	Detail  string  `json:"detail,omitempty"`
}

// Template defines default rendering and routing per message type.
type Template struct {
	Subject  string    `yaml:"subject"`
	Body     string    `yaml:"body"`
	Priority Priority  `yaml:"priority"`
	Channels []Channel `yaml:"channels"`
}

// WebhookConfig defines one webhook destination.
type WebhookConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Format  string            `yaml:"format" json:"format"` // "generic", "slack"
	Events  []string          `yaml:"events" json:"events"` // message types, empty = all
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// EmailConfig carries SMTP settings. Unset host disables the channel.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Config carries notification settings.
type Config struct {
	DesktopCommand []string        `yaml:"desktop_command"` // argv; subject and body appended
	Email          EmailConfig     `yaml:"email"`
	SMSGatewayURL  string          `yaml:"sms_gateway_url"`
	Webhooks       []WebhookConfig `yaml:"webhooks"`
	QuietHoursFrom int             `yaml:"quiet_hours_from"` // hour of day, -1 disables
	QuietHoursTo   int             `yaml:"quiet_hours_to"`
}

// DefaultConfig returns a config with every external channel disabled and
// quiet hours off.
func DefaultConfig() *Config {
	return &Config{QuietHoursFrom: -1, QuietHoursTo: -1}
}

// LoadConfig loads notification settings from a YAML file. A missing file
// returns defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read notify config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse notify config %s: %w", path, err)
	}
	return cfg, nil
}

// defaultTemplates mirrors the workflow's event vocabulary.
func defaultTemplates() map[string]Template {
	return map[string]Template{
		"approval_request": {
			Subject:  "Approval needed: {reason}",
			Body:     "Content was blocked on {application}. Reason: {reason}. Confidence: {confidence}. Respond within {timeout_seconds}s.",
			Priority: PriorityHigh,
			Channels: []Channel{ChannelInApp, ChannelDesktop, ChannelEmail},
		},
		"emergency_alert": {
			Subject:  "EMERGENCY: {reason}",
			Body:     "High-risk content detected: {reason}. Immediate attention required.",
			Priority: PriorityEmergency,
			Channels: []Channel{ChannelInApp, ChannelDesktop, ChannelEmail, ChannelSMS},
		},
		"system_unlocked": {
			Subject:  "System unlocked",
			Body:     "Request {request_id} resolved: {resolution}.",
			Priority: PriorityMedium,
			Channels: []Channel{ChannelInApp, ChannelDesktop},
		},
		"approval_result": {
			Subject:  "Approval {resolution}",
			Body:     "Request {request_id} was {resolution} by {parent_id}.",
			Priority: PriorityMedium,
			Channels: []Channel{ChannelInApp},
		},
		"daily_summary": {
			Subject:  "Daily activity summary",
			Body:     "{summary}",
			Priority: PriorityLow,
			Channels: []Channel{ChannelEmail},
		},
	}
}

// render substitutes {key} placeholders from data.
func render(tmpl string, data map[string]any) string {
	out := tmpl
	for k, v := range data {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return out
}

// inQuietHours reports whether now falls inside the configured window.
// The window may wrap midnight (e.g. 22 to 7).
func (c *Config) inQuietHours(now time.Time) bool {
	if c.QuietHoursFrom < 0 || c.QuietHoursTo < 0 {
		return false
	}
	h := now.Hour()
	if c.QuietHoursFrom <= c.QuietHoursTo {
		return h >= c.QuietHoursFrom && h < c.QuietHoursTo
	}
	return h >= c.QuietHoursFrom || h < c.QuietHoursTo
}
