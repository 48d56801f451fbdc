// Package approval persists parental approval requests. The store is the
// source of truth across process boundaries: the dashboard channel and the
// CLI may resolve requests from a different process than the workflow that
// created them, so every record is a standalone JSON file readable by any
// party, written atomically.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an end state. No transition
// leaves a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// DefaultTimeoutSeconds applies when a request is created without an
// explicit timeout. There is no unbounded wait anywhere in the workflow.
const DefaultTimeoutSeconds = 300

// Request is one unit of "a human must decide", tied to a lock event.
// A request is never deleted: terminal requests move to history.
type Request struct {
	ID              string         `json:"id"`
	Reason          string         `json:"reason"`
	Content         string         `json:"content,omitempty"`
	ApplicationName string         `json:"application_name"`
	BlockedURL      string         `json:"blocked_url,omitempty"`
	Keywords        []string       `json:"keywords,omitempty"`
	Confidence      float64        `json:"confidence"`
	ChildID         string         `json:"child_id"`
	ParentID        string         `json:"parent_id"`
	Status          Status         `json:"status"`
	TimeoutSeconds  int            `json:"timeout_seconds"`
	CreatedAt       time.Time      `json:"created_at"`
	RespondedAt     *time.Time     `json:"responded_at,omitempty"`
	ResponseData    map[string]any `json:"response_data,omitempty"`
}

// Expired reports whether the request has outlived its timeout at the
// given instant.
func (r *Request) Expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) >= time.Duration(r.TimeoutSeconds)*time.Second
}

// ErrNotFound is returned when no request carries the requested id.
var ErrNotFound = errors.New("approval request not found")

// validID matches UUIDs and similar filesystem-safe identifiers.
var validID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("request id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("request id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("request id contains invalid characters")
	}
	return nil
}

// Store keeps active requests under <dir>/active and archived requests
// under <dir>/history, one JSON file per request.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{"active", "history"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("cannot create approval directory: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default approval store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pcagent-approvals")
	}
	return filepath.Join(home, ".pcagent", "approvals")
}

// Save persists an active request, overwriting any previous record.
func (s *Store) Save(req *Request) error {
	if err := validateID(req.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.activePath(req.ID), req)
}

// Get returns the request with the given id, checking active records
// first and falling back to history.
func (s *Store) Get(id string) (*Request, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req, err := readRequest(s.activePath(id)); err == nil {
		return req, nil
	}
	if req, err := readRequest(s.historyPath(id)); err == nil {
		return req, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// GetActive returns the request only if it is still in the active set.
func (s *Store) GetActive(id string) (*Request, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := readRequest(s.activePath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Archive moves a request from the active set to history. The terminal
// record is written before the active file is removed so a crash between
// the two steps never loses the request.
func (s *Store) Archive(req *Request) error {
	if err := validateID(req.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.historyPath(req.ID), req); err != nil {
		return err
	}
	if err := os.Remove(s.activePath(req.ID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Active returns all pending requests, oldest first. A missing or empty
// directory means no active requests.
func (s *Store) Active() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(filepath.Join(s.dir, "active"))
}

// History returns up to limit archived requests, newest first. limit <= 0
// returns all.
func (s *Store) History(limit int) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs, err := s.list(filepath.Join(s.dir, "history"))
	if err != nil {
		return nil, err
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

func (s *Store) list(dir string) ([]Request, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reqs []Request
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		req, err := readRequest(filepath.Join(dir, e.Name()))
		if err != nil {
			// Tolerate partially written or foreign files.
			continue
		}
		reqs = append(reqs, *req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
	return reqs, nil
}

func (s *Store) activePath(id string) string {
	return filepath.Join(s.dir, "active", id+".json")
}

func (s *Store) historyPath(id string) string {
	return filepath.Join(s.dir, "history", id+".json")
}

func readRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty request file: %s", path)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func writeAtomic(path string, req *Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
