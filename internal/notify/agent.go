package notify

import (
	"fmt"
	"net/smtp"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Broadcaster pushes in-app messages to connected dashboard clients.
// The websocket hub satisfies this.
type Broadcaster interface {
	Broadcast(msgType string, data map[string]any) error
	ClientCount() int
}

// Agent renders templates and fans a message out to its channels.
type Agent struct {
	cfg       *Config
	templates map[string]Template
	inApp     Broadcaster
	log       *zap.Logger

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts notification outcomes per channel and priority.
type Stats struct {
	TotalSent  int              `json:"total_sent"`
	TotalFail  int              `json:"total_failed"`
	ByChannel  map[Channel]int  `json:"by_channel"`
	ByPriority map[Priority]int `json:"by_priority"`
	Suppressed int              `json:"suppressed_quiet_hours"`
}

// NewAgent creates a notification agent. The broadcaster may be nil when
// no dashboard channel is wired.
func NewAgent(cfg *Config, inApp Broadcaster, log *zap.Logger) *Agent {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		cfg:       cfg,
		templates: defaultTemplates(),
		inApp:     inApp,
		log:       log,
		stats: Stats{
			ByChannel:  make(map[Channel]int),
			ByPriority: make(map[Priority]int),
		},
	}
}

// Send renders and delivers one message. It always returns per-channel
// outcomes; delivery failures are embedded there, not returned as an
// error. Non-emergency messages inside quiet hours are suppressed whole.
func (a *Agent) Send(msg Message) []Outcome {
	tmpl, ok := a.templates[msg.Type]
	if !ok {
		tmpl = Template{Priority: PriorityMedium, Channels: []Channel{ChannelInApp}}
	}

	if msg.Priority == "" {
		msg.Priority = tmpl.Priority
	}
	if msg.Subject == "" {
		msg.Subject = render(tmpl.Subject, msg.Data)
	}
	if msg.Body == "" {
		msg.Body = render(tmpl.Body, msg.Data)
	}
	if len(msg.Channels) == 0 {
		msg.Channels = tmpl.Channels
	}

	if msg.Priority != PriorityEmergency && a.cfg.inQuietHours(time.Now()) {
		a.statsMu.Lock()
		a.stats.Suppressed++
		a.statsMu.Unlock()
		a.log.Info("notification suppressed by quiet hours",
			zap.String("type", msg.Type), zap.String("priority", string(msg.Priority)))
		return nil
	}

	var outcomes []Outcome
	for _, ch := range msg.Channels {
		out := a.deliver(ch, msg)
		outcomes = append(outcomes, out)
		a.observe(out, msg.Priority)
		if !out.OK {
			a.log.Warn("notification delivery failed",
				zap.String("channel", string(ch)),
				zap.String("type", msg.Type),
				zap.String("detail", out.Detail))
		}
	}

	// Webhooks subscribe by event type independent of template channels.
	for _, wh := range a.cfg.Webhooks {
		if !matchesEvents(wh.Events, msg.Type) {
			continue
		}
		out := Outcome{Channel: ChannelWebhook, OK: true}
		if err := sendWebhook(wh, msg); err != nil {
			out = Outcome{Channel: ChannelWebhook, OK: false, Detail: err.Error()}
			a.log.Warn("webhook delivery failed", zap.String("url", wh.URL), zap.Error(err))
		}
		outcomes = append(outcomes, out)
		a.observe(out, msg.Priority)
	}

	return outcomes
}

func (a *Agent) deliver(ch Channel, msg Message) Outcome {
	switch ch {
	case ChannelInApp:
		if a.inApp == nil {
			return Outcome{Channel: ch, OK: false, Detail: "no dashboard channel"}
		}
		if err := a.inApp.Broadcast(strings.ToUpper(msg.Type), msg.Data); err != nil {
			return Outcome{Channel: ch, OK: false, Detail: err.Error()}
		}
		return Outcome{Channel: ch, OK: true}

	case ChannelDesktop:
		return a.sendDesktop(msg)

	case ChannelEmail:
		return a.sendEmail(msg)

	case ChannelSMS:
		if a.cfg.SMSGatewayURL == "" {
			return Outcome{Channel: ch, OK: false, Detail: "sms gateway not configured"}
		}
		err := sendWebhook(WebhookConfig{URL: a.cfg.SMSGatewayURL}, msg)
		if err != nil {
			return Outcome{Channel: ch, OK: false, Detail: err.Error()}
		}
		return Outcome{Channel: ch, OK: true}

	default:
		return Outcome{Channel: ch, OK: false, Detail: "unknown channel"}
	}
}

// sendDesktop runs the configured desktop notifier command with subject
// and body appended (e.g. notify-send or osascript wrapper).
func (a *Agent) sendDesktop(msg Message) Outcome {
	if len(a.cfg.DesktopCommand) == 0 {
		return Outcome{Channel: ChannelDesktop, OK: false, Detail: "desktop command not configured"}
	}
	argv := append(append([]string{}, a.cfg.DesktopCommand...), msg.Subject, msg.Body)
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Run(); err != nil {
		return Outcome{Channel: ChannelDesktop, OK: false, Detail: err.Error()}
	}
	return Outcome{Channel: ChannelDesktop, OK: true}
}

func (a *Agent) sendEmail(msg Message) Outcome {
	ec := a.cfg.Email
	if ec.Host == "" || len(ec.To) == 0 {
		return Outcome{Channel: ChannelEmail, OK: false, Detail: "email not configured"}
	}

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n",
		ec.From, strings.Join(ec.To, ", "), msg.Subject)
	if msg.Priority == PriorityEmergency {
		headers += "X-Priority: 1\r\n"
	}
	body := []byte(headers + "\r\n" + msg.Body + "\r\n")

	addr := fmt.Sprintf("%s:%d", ec.Host, ec.Port)
	var auth smtp.Auth
	if ec.Username != "" {
		auth = smtp.PlainAuth("", ec.Username, ec.Password, ec.Host)
	}
	if err := smtp.SendMail(addr, auth, ec.From, ec.To, body); err != nil {
		return Outcome{Channel: ChannelEmail, OK: false, Detail: err.Error()}
	}
	return Outcome{Channel: ChannelEmail, OK: true}
}

func (a *Agent) observe(out Outcome, p Priority) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	if out.OK {
		a.stats.TotalSent++
		a.stats.ByChannel[out.Channel]++
		a.stats.ByPriority[p]++
	} else {
		a.stats.TotalFail++
	}
}

// Stats returns a snapshot of delivery counters.
func (a *Agent) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	out := Stats{
		TotalSent:  a.stats.TotalSent,
		TotalFail:  a.stats.TotalFail,
		Suppressed: a.stats.Suppressed,
		ByChannel:  make(map[Channel]int, len(a.stats.ByChannel)),
		ByPriority: make(map[Priority]int, len(a.stats.ByPriority)),
	}
	for k, v := range a.stats.ByChannel {
		out.ByChannel[k] = v
	}
	for k, v := range a.stats.ByPriority {
		out.ByPriority[k] = v
	}
	return out
}
