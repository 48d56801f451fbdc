// Package lockscreen defines the boundary to the full-screen lock display.
// The display itself is an external collaborator (a separate UI process);
// this package only carries commands to it and callbacks from it.
package lockscreen

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Callbacks are invoked by the display at most once each, from any
// goroutine.
type Callbacks struct {
	OnApproved  func()
	OnTimeout   func()
	OnEmergency func()
}

// Display is the lock-display collaborator contract.
type Display interface {
	// Show requests a blocking screen with the given reason and timeout.
	// Fire-and-forget: it returns once the request is delivered, not when
	// the screen is up.
	Show(reason string, timeout time.Duration, cb Callbacks) error

	// UpdateStatus replaces the status line on an active display.
	// Best-effort; ignored when no display is active.
	UpdateStatus(text string) error

	// Unlock dismisses the display. Idempotent; safe when not locked.
	Unlock() error
}

// NoopDisplay satisfies Display without any UI. Used headless and in
// tests; it records state so callers can observe lock transitions.
type NoopDisplay struct {
	mu     sync.Mutex
	locked bool
	status string
	log    *zap.Logger
}

// NewNoopDisplay creates a display that only logs.
func NewNoopDisplay(log *zap.Logger) *NoopDisplay {
	if log == nil {
		log = zap.NewNop()
	}
	return &NoopDisplay{log: log}
}

func (d *NoopDisplay) Show(reason string, timeout time.Duration, cb Callbacks) error {
	d.mu.Lock()
	d.locked = true
	d.status = reason
	d.mu.Unlock()
	d.log.Info("lock display shown", zap.String("reason", reason), zap.Duration("timeout", timeout))
	return nil
}

func (d *NoopDisplay) UpdateStatus(text string) error {
	d.mu.Lock()
	if d.locked {
		d.status = text
	}
	d.mu.Unlock()
	d.log.Info("lock display status", zap.String("status", text))
	return nil
}

func (d *NoopDisplay) Unlock() error {
	d.mu.Lock()
	d.locked = false
	d.mu.Unlock()
	d.log.Info("lock display unlocked")
	return nil
}

// Locked reports whether the display is currently shown.
func (d *NoopDisplay) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// Status returns the current status line.
func (d *NoopDisplay) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
