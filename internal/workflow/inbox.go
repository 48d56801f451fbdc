package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Response is a parent decision dropped into the inbox directory by
// another process (typically the CLI while the daemon holds the lock).
type Response struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	ParentID  string `json:"parent_id,omitempty"`
	Cancel    bool   `json:"cancel,omitempty"`
}

// DefaultInboxDir returns the standard response inbox location.
func DefaultInboxDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pcagent-responses")
	}
	return filepath.Join(home, ".pcagent", "responses")
}

// WriteResponse drops a decision file into the inbox for a running
// daemon to pick up. The write is atomic so the watcher never sees a
// partial file.
func WriteResponse(dir string, resp Response) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	final := filepath.Join(dir, uuid.NewString()+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return os.Rename(tmp, final)
}

// Inbox watches a directory for Response files and feeds them to the
// manager. Files are removed once processed, applied or not.
type Inbox struct {
	dir string
	mgr *Manager
	log *zap.Logger
}

// NewInbox creates an inbox over dir, creating it if needed.
func NewInbox(dir string, mgr *Manager, log *zap.Logger) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbox{dir: dir, mgr: mgr, log: log}, nil
}

// Run processes inbox files until ctx is cancelled. A one-second poll
// backs up the watcher so a missed event only delays a decision, never
// loses it.
func (in *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	in.sweep()

	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && strings.HasSuffix(ev.Name, ".json") {
				in.process(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.log.Warn("inbox watcher error", zap.Error(err))
		case <-poll.C:
			in.sweep()
		}
	}
}

// sweep processes every response file already sitting in the inbox.
func (in *Inbox) sweep() {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.log.Warn("read inbox", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		in.process(filepath.Join(in.dir, e.Name()))
	}
}

func (in *Inbox) process(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			in.log.Warn("read response file", zap.String("path", path), zap.Error(err))
		}
		return
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		in.log.Warn("malformed response file, discarding",
			zap.String("path", path), zap.Error(err))
		os.Remove(path)
		return
	}
	os.Remove(path)

	if resp.RequestID == "" {
		in.log.Warn("response file missing request_id", zap.String("path", path))
		return
	}

	var applied bool
	if resp.Cancel {
		applied = in.mgr.Cancel(resp.RequestID)
	} else {
		applied = in.mgr.ProcessResponse(resp.RequestID, resp.Approved, resp.ParentID)
	}
	in.log.Info("inbox response processed",
		zap.String("request_id", resp.RequestID),
		zap.Bool("cancel", resp.Cancel),
		zap.Bool("approved", resp.Approved),
		zap.Bool("applied", applied))
}
