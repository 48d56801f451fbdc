package lockscreen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Signal file names exchanged with the out-of-process lock UI. The UI
// cannot be called into directly, so commands and callbacks cross the
// process boundary as files in the control directory. This is a
// documented boundary mechanism, not a core algorithm.
const (
	lockFile      = "lock.json"
	statusFile    = "status.json"
	approveSignal = "approved.signal"
	timeoutSignal = "timeout.signal"
	emergency     = "emergency.signal"
)

// pollInterval is the fallback cadence for sentinel checks when fsnotify
// delivers nothing.
const pollInterval = time.Second

// lockCommand is the payload the UI reads to render the blocking screen.
type lockCommand struct {
	Reason         string    `json:"reason"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	IssuedAt       time.Time `json:"issued_at"`
}

// statusCommand updates the status line on an active screen.
type statusCommand struct {
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SignalDisplay drives an out-of-process lock UI through a control
// directory: lock/status commands are written as JSON files, and the UI
// reports approval, timeout, and emergency-unlock back as sentinel files
// picked up by an fsnotify watcher (with a poll fallback).
type SignalDisplay struct {
	dir string
	log *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSignalDisplay creates a display bridge rooted at dir.
func NewSignalDisplay(dir string, log *zap.Logger) (*SignalDisplay, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create lock control directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SignalDisplay{dir: dir, log: log}, nil
}

// DefaultDir returns the default lock control directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pcagent-lock")
	}
	return filepath.Join(home, ".pcagent", "lock")
}

// Show writes the lock command and starts watching for UI sentinels.
// A previous watch, if any, is stopped first: one screen at a time.
func (d *SignalDisplay) Show(reason string, timeout time.Duration, cb Callbacks) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()

	d.clearSignals()

	cmd := lockCommand{
		Reason:         reason,
		TimeoutSeconds: int(timeout / time.Second),
		IssuedAt:       time.Now().UTC(),
	}
	if err := d.writeJSON(lockFile, cmd); err != nil {
		cancel()
		return fmt.Errorf("write lock command: %w", err)
	}

	go d.watch(ctx, cb)
	return nil
}

// UpdateStatus is best-effort: without an active lock command it is a
// no-op.
func (d *SignalDisplay) UpdateStatus(text string) error {
	if _, err := os.Stat(filepath.Join(d.dir, lockFile)); err != nil {
		return nil
	}
	return d.writeJSON(statusFile, statusCommand{Text: text, UpdatedAt: time.Now().UTC()})
}

// Unlock removes the lock command and stops the sentinel watcher.
// Idempotent.
func (d *SignalDisplay) Unlock() error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	for _, name := range []string{lockFile, statusFile} {
		if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	d.clearSignals()
	return nil
}

// watch fires each callback at most once when its sentinel appears.
// fsnotify is primary; a 1s poll covers filesystems without inotify.
func (d *SignalDisplay) watch(ctx context.Context, cb Callbacks) {
	var approvedOnce, timeoutOnce, emergencyOnce sync.Once

	fire := func(name string) {
		path := filepath.Join(d.dir, name)
		if _, err := os.Stat(path); err != nil {
			return
		}
		_ = os.Remove(path)

		switch name {
		case approveSignal:
			approvedOnce.Do(func() {
				if cb.OnApproved != nil {
					cb.OnApproved()
				}
			})
		case timeoutSignal:
			timeoutOnce.Do(func() {
				if cb.OnTimeout != nil {
					cb.OnTimeout()
				}
			})
		case emergency:
			emergencyOnce.Do(func() {
				if cb.OnEmergency != nil {
					cb.OnEmergency()
				}
			})
		}
	}

	checkAll := func() {
		fire(approveSignal)
		fire(timeoutSignal)
		fire(emergency)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn("fsnotify unavailable, polling only", zap.Error(err))
		watcher = nil
	} else if err := watcher.Add(d.dir); err != nil {
		d.log.Warn("lock control watch failed, polling only", zap.Error(err))
		watcher.Close()
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if watcher != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkAll()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
					fire(filepath.Base(event.Name))
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkAll()
			}
		}
	}
}

func (d *SignalDisplay) clearSignals() {
	for _, name := range []string{approveSignal, timeoutSignal, emergency} {
		_ = os.Remove(filepath.Join(d.dir, name))
	}
}

func (d *SignalDisplay) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(d.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
