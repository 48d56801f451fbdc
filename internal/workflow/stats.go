package workflow

import (
	"time"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/approval"
)

// Stats summarizes request outcomes since the manager started.
type Stats struct {
	TotalRequests      int     `json:"total_requests"`
	Approved           int     `json:"approved"`
	Denied             int     `json:"denied"`
	Timeouts           int     `json:"timeouts"`
	Cancelled          int     `json:"cancelled"`
	EmergencyUnlocks   int     `json:"emergency_unlocks"`
	Responded          int     `json:"responded"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
}

// observeResolution updates outcome counters and the running average of
// parent response latency. Timeouts and cancellations carry no latency.
func (m *Manager) observeResolution(req *approval.Request, resolvedAt time.Time) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	switch req.Status {
	case approval.StatusApproved:
		m.stats.Approved++
	case approval.StatusDenied:
		m.stats.Denied++
	case approval.StatusTimeout:
		m.stats.Timeouts++
	case approval.StatusCancelled:
		m.stats.Cancelled++
	}

	if req.Status == approval.StatusApproved || req.Status == approval.StatusDenied {
		latency := resolvedAt.Sub(req.CreatedAt).Seconds()
		m.stats.Responded++
		m.stats.AvgResponseSeconds += (latency - m.stats.AvgResponseSeconds) / float64(m.stats.Responded)
	}
}

// Stats returns a snapshot of the outcome counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}
