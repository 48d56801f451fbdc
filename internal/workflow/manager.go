// Package workflow drives the approval request lifecycle: it creates a
// request, locks the screen, notifies the parent over the dashboard
// channel (or fallback channels when nobody is connected), supervises the
// timeout, and applies exactly one terminal decision per request.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/approval"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/audit"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/lockscreen"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/notify"
)

// ErrLockActive is returned by CreateAndLock while an earlier request is
// still pending. One lock at a time; the child cannot stack requests.
var ErrLockActive = errors.New("an approval request is already pending")

// supervisorTick bounds how stale a timeout decision can be.
const supervisorTick = 500 * time.Millisecond

// CreateParams describes the blocked activity that triggers a request.
type CreateParams struct {
	Reason          string
	Content         string
	ApplicationName string
	BlockedURL      string
	Keywords        []string
	Confidence      float64
	ChildID         string
	Timeout         time.Duration // zero means the store default
}

// Manager owns pending approval requests. All state transitions funnel
// through resolve, which is the single compare-and-set point.
type Manager struct {
	store    *approval.Store
	display  lockscreen.Display
	channel  notify.Broadcaster // parent dashboard, primary
	notifier *notify.Agent      // fallback channels
	auditLog *audit.Log         // optional
	log      *zap.Logger

	mu          sync.Mutex
	current     string // id of the request holding the lock, "" if none
	supervisors map[string]context.CancelFunc

	statsMu sync.Mutex
	stats   Stats
}

// New creates a workflow manager. The broadcaster, notifier, and audit
// log may be nil; the store and display are required.
func New(store *approval.Store, display lockscreen.Display, channel notify.Broadcaster, notifier *notify.Agent, auditLog *audit.Log, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:       store,
		display:     display,
		channel:     channel,
		notifier:    notifier,
		auditLog:    auditLog,
		log:         log,
		supervisors: make(map[string]context.CancelFunc),
	}
}

// CreateAndLock creates an approval request, persists it, locks the
// screen, and dispatches the parent notification. It returns the request
// id, or ErrLockActive if an earlier request is still pending.
func (m *Manager) CreateAndLock(ctx context.Context, p CreateParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Reconcile before rejecting: another process may have resolved the
	// request we think is current.
	if m.current != "" {
		if _, err := m.store.GetActive(m.current); err == nil {
			return "", fmt.Errorf("%w: %s", ErrLockActive, m.current)
		}
		m.clearCurrentLocked(m.current)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = approval.DefaultTimeoutSeconds * time.Second
	}

	req := &approval.Request{
		ID:              uuid.NewString(),
		Reason:          p.Reason,
		Content:         p.Content,
		ApplicationName: p.ApplicationName,
		BlockedURL:      p.BlockedURL,
		Keywords:        p.Keywords,
		Confidence:      p.Confidence,
		ChildID:         p.ChildID,
		Status:          approval.StatusPending,
		TimeoutSeconds:  int(timeout / time.Second),
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.store.Save(req); err != nil {
		return "", fmt.Errorf("persist approval request: %w", err)
	}

	id := req.ID
	if err := m.display.Show(p.Reason, timeout, lockscreen.Callbacks{
		OnApproved:  func() { m.ProcessResponse(id, true, "lockscreen") },
		OnTimeout:   func() { m.expire(id) },
		OnEmergency: func() { m.EmergencyUnlock(id) },
	}); err != nil {
		// The request stands even if the display is unreachable; the
		// supervisor still enforces the timeout.
		m.log.Warn("lock display unavailable", zap.String("request_id", id), zap.Error(err))
	}

	// Fire-and-forget: webhook retries and SMTP sends must never hold the
	// mutex terminal transitions need.
	go m.dispatch(req)

	m.current = id
	superCtx, cancel := context.WithCancel(ctx)
	m.supervisors[id] = cancel
	go m.supervise(superCtx, id)

	m.statsMu.Lock()
	m.stats.TotalRequests++
	m.statsMu.Unlock()

	m.record(audit.Entry{
		Event:     audit.EventApprovalCreated,
		RequestID: id,
		Reason:    p.Reason,
	})
	m.record(audit.Entry{Event: audit.EventLock, RequestID: id, Reason: p.Reason})

	m.log.Info("approval request created",
		zap.String("request_id", id),
		zap.String("reason", p.Reason),
		zap.Int("timeout_seconds", req.TimeoutSeconds))
	return id, nil
}

// dispatch pushes the request to the dashboard when one is connected,
// otherwise fans out over the fallback notification channels. Runs on its
// own goroutine; delivery failures are logged, never returned.
func (m *Manager) dispatch(req *approval.Request) {
	data := map[string]any{
		"request_id":      req.ID,
		"reason":          req.Reason,
		"content":         req.Content,
		"application":     req.ApplicationName,
		"blocked_url":     req.BlockedURL,
		"keywords":        req.Keywords,
		"confidence":      req.Confidence,
		"child_id":        req.ChildID,
		"timeout_seconds": req.TimeoutSeconds,
		"created_at":      req.CreatedAt.Format(time.RFC3339),
	}

	if m.channel != nil && m.channel.ClientCount() > 0 {
		if err := m.channel.Broadcast("APPROVAL_REQUEST", data); err == nil {
			return
		}
		m.log.Warn("dashboard dispatch failed, falling back", zap.String("request_id", req.ID))
	}

	if m.notifier != nil {
		m.notifier.Send(notify.Message{Type: "approval_request", Data: data})
	} else {
		m.log.Warn("no parent channel available for approval request",
			zap.String("request_id", req.ID))
	}
}

// ProcessResponse applies a parent decision. It returns false when the
// request was already resolved (or never existed); the first decision
// always wins.
func (m *Manager) ProcessResponse(id string, approved bool, parentID string) bool {
	status := approval.StatusDenied
	if approved {
		status = approval.StatusApproved
	}
	req, ok := m.resolve(id, status, parentID, map[string]any{
		"approved":  approved,
		"parent_id": parentID,
	})
	if !ok {
		return false
	}

	if approved {
		if err := m.display.Unlock(); err != nil {
			m.log.Warn("unlock failed", zap.String("request_id", id), zap.Error(err))
		}
		m.record(audit.Entry{Event: audit.EventUnlock, RequestID: id, ParentID: parentID})
		m.broadcastResult(req, "SYSTEM_UNLOCKED")
	} else {
		m.display.UpdateStatus("Request denied. The screen stays locked.")
		m.broadcastResult(req, "APPROVAL_RESULT")
	}

	m.log.Info("approval response applied",
		zap.String("request_id", id),
		zap.Bool("approved", approved),
		zap.String("parent_id", parentID))
	return true
}

// Cancel withdraws a pending request and dismisses the lock screen.
// Returns false when the request was already resolved.
func (m *Manager) Cancel(id string) bool {
	req, ok := m.resolve(id, approval.StatusCancelled, "", nil)
	if !ok {
		return false
	}
	if err := m.display.Unlock(); err != nil {
		m.log.Warn("unlock failed", zap.String("request_id", id), zap.Error(err))
	}
	m.broadcastResult(req, "APPROVAL_RESULT")
	m.log.Info("approval request cancelled", zap.String("request_id", id))
	return true
}

// EmergencyUnlock resolves a request through the emergency override and
// raises an emergency alert to every channel, quiet hours included. The
// request ends cancelled, not approved: no parent made a decision.
func (m *Manager) EmergencyUnlock(id string) bool {
	req, ok := m.resolve(id, approval.StatusCancelled, "",
		map[string]any{"emergency_unlock": true})
	if !ok {
		return false
	}
	if err := m.display.Unlock(); err != nil {
		m.log.Warn("unlock failed", zap.String("request_id", id), zap.Error(err))
	}

	m.statsMu.Lock()
	m.stats.EmergencyUnlocks++
	m.statsMu.Unlock()

	m.record(audit.Entry{Event: audit.EventEmergencyUnlock, RequestID: id})
	if m.notifier != nil {
		m.notifier.Send(notify.Message{
			Type:     "emergency_alert",
			Priority: notify.PriorityEmergency,
			Data: map[string]any{
				"request_id": id,
				"reason":     req.Reason,
			},
		})
	}
	m.broadcastResult(req, "SYSTEM_UNLOCKED")
	m.log.Warn("emergency unlock used", zap.String("request_id", id))
	return true
}

// expire marks a request timed out. The screen stays locked: no response
// is not consent.
func (m *Manager) expire(id string) {
	req, ok := m.resolve(id, approval.StatusTimeout, "", nil)
	if !ok {
		return
	}
	m.display.UpdateStatus("Request timed out. Ask again or wait for a parent.")
	m.broadcastResult(req, "APPROVAL_RESULT")
	m.log.Info("approval request timed out", zap.String("request_id", id))
}

// resolve is the single check-and-set for terminal transitions. It
// reloads the request from the store first so decisions made by another
// process are honored, applies the status atomically, archives, and
// stops the supervisor. Persistence faults are soft: a transient read
// error gets one retry, and a failed archive falls back to writing the
// terminal status in place so the decision is not lost.
func (m *Manager) resolve(id string, status approval.Status, parentID string, responseData map[string]any) (*approval.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.GetActive(id)
	if err != nil && !errors.Is(err, approval.ErrNotFound) {
		time.Sleep(50 * time.Millisecond)
		req, err = m.store.GetActive(id)
	}
	if err != nil {
		return nil, false
	}
	if req.Status.Terminal() {
		return nil, false
	}

	now := time.Now().UTC()
	req.Status = status
	req.RespondedAt = &now
	if parentID != "" {
		req.ParentID = parentID
	}
	if responseData != nil {
		req.ResponseData = responseData
	}

	if err := m.store.Archive(req); err != nil {
		m.log.Error("archive approval request",
			zap.String("request_id", id), zap.Error(err))
		if err := m.store.Save(req); err != nil {
			m.log.Error("save resolved approval request",
				zap.String("request_id", id), zap.Error(err))
		}
	}

	m.clearCurrentLocked(id)

	m.observeResolution(req, now)
	m.record(audit.Entry{
		Event:     audit.EventApprovalResolved,
		RequestID: id,
		Action:    string(status),
		ParentID:  parentID,
	})
	return req, true
}

// clearCurrentLocked stops the supervisor for id and releases the lock
// slot if id holds it. Caller holds m.mu.
func (m *Manager) clearCurrentLocked(id string) {
	if cancel, ok := m.supervisors[id]; ok {
		cancel()
		delete(m.supervisors, id)
	}
	if m.current == id {
		m.current = ""
	}
}

// supervise enforces the timeout for one request. The tick keeps the
// decision within half a second of the deadline.
func (m *Manager) supervise(ctx context.Context, id string) {
	ticker := time.NewTicker(supervisorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := m.store.GetActive(id)
			if err != nil {
				return // resolved elsewhere
			}
			if req.Expired(time.Now().UTC()) {
				m.expire(id)
				return
			}
		}
	}
}

func (m *Manager) broadcastResult(req *approval.Request, msgType string) {
	if m.channel == nil {
		return
	}
	// An empty dashboard is not an error here; results are also visible
	// through the store and the CLI.
	if err := m.channel.Broadcast(msgType, map[string]any{
		"request_id": req.ID,
		"status":     string(req.Status),
		"reason":     req.Reason,
	}); err != nil {
		m.log.Debug("result broadcast skipped", zap.String("request_id", req.ID), zap.Error(err))
	}
}

// Pending returns whether the given request is still awaiting a decision.
func (m *Manager) Pending(id string) bool {
	_, err := m.store.GetActive(id)
	return err == nil
}

// CurrentLock returns the id of the request currently holding the lock,
// or "" when the device is unlocked.
func (m *Manager) CurrentLock() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close stops all timeout supervisors. Pending requests stay pending in
// the store and are reconciled on the next start.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.supervisors {
		cancel()
		delete(m.supervisors, id)
	}
}

func (m *Manager) record(e audit.Entry) {
	if m.auditLog == nil {
		return
	}
	if err := m.auditLog.Record(e); err != nil {
		m.log.Warn("audit record failed", zap.String("event", e.Event), zap.Error(err))
	}
}
