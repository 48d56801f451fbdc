package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/approval"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/lockscreen"
)

type fakeChannel struct {
	mu      sync.Mutex
	clients int
	types   []string
}

func (f *fakeChannel) Broadcast(msgType string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clients == 0 {
		return errors.New("no dashboard clients connected")
	}
	f.types = append(f.types, msgType)
	return nil
}

func (f *fakeChannel) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

func (f *fakeChannel) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.types))
	copy(out, f.types)
	return out
}

// waitFor polls until the channel has seen msgType. Request delivery
// runs on its own goroutine, so tests wait instead of asserting
// immediately after CreateAndLock.
func (f *fakeChannel) waitFor(t *testing.T, msgType string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, mt := range f.seen() {
			if mt == msgType {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dashboard never saw %s, got %v", msgType, f.seen())
}

func newTestManager(t *testing.T) (*Manager, *approval.Store, *lockscreen.NoopDisplay, *fakeChannel) {
	t.Helper()
	store, err := approval.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	display := lockscreen.NewNoopDisplay(nil)
	channel := &fakeChannel{clients: 1}
	mgr := New(store, display, channel, nil, nil, nil)
	t.Cleanup(mgr.Close)
	return mgr, store, display, channel
}

func testParams() CreateParams {
	return CreateParams{
		Reason:          "Blocked content requires approval",
		Content:         "violent game footage",
		ApplicationName: "browser",
		BlockedURL:      "https://example.com/clip",
		Keywords:        []string{"violence"},
		Confidence:      0.9,
		ChildID:         "child-1",
		Timeout:         30 * time.Second,
	}
}

func TestCreateAndLock(t *testing.T) {
	mgr, store, display, channel := newTestManager(t)

	id, err := mgr.CreateAndLock(context.Background(), testParams())
	if err != nil {
		t.Fatalf("CreateAndLock: %v", err)
	}
	if id == "" {
		t.Fatal("empty request id")
	}

	req, err := store.GetActive(id)
	if err != nil {
		t.Fatalf("request not persisted: %v", err)
	}
	if req.Status != approval.StatusPending {
		t.Errorf("status = %q, want pending", req.Status)
	}
	if !display.Locked() {
		t.Error("display should be locked")
	}
	if mgr.CurrentLock() != id {
		t.Errorf("CurrentLock = %q, want %q", mgr.CurrentLock(), id)
	}

	channel.waitFor(t, "APPROVAL_REQUEST")
}

func TestSecondRequestRejectedWhilePending(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	if _, err := mgr.CreateAndLock(context.Background(), testParams()); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := mgr.CreateAndLock(context.Background(), testParams()); !errors.Is(err, ErrLockActive) {
		t.Fatalf("second request err = %v, want ErrLockActive", err)
	}
}

func TestApproveUnlocksAndArchives(t *testing.T) {
	mgr, store, display, channel := newTestManager(t)

	id, err := mgr.CreateAndLock(context.Background(), testParams())
	if err != nil {
		t.Fatalf("CreateAndLock: %v", err)
	}
	channel.waitFor(t, "APPROVAL_REQUEST")

	if !mgr.ProcessResponse(id, true, "parent-1") {
		t.Fatal("approve should apply")
	}
	if display.Locked() {
		t.Error("display should be unlocked after approval")
	}
	if mgr.CurrentLock() != "" {
		t.Error("lock slot should be released")
	}

	if _, err := store.GetActive(id); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("request should have left the active set, got %v", err)
	}
	req, err := store.Get(id)
	if err != nil {
		t.Fatalf("archived request: %v", err)
	}
	if req.Status != approval.StatusApproved {
		t.Errorf("status = %q, want approved", req.Status)
	}
	if req.ParentID != "parent-1" {
		t.Errorf("parent_id = %q, want parent-1", req.ParentID)
	}
	if req.RespondedAt == nil {
		t.Error("responded_at should be set")
	}
	if v, ok := req.ResponseData["approved"].(bool); !ok || !v {
		t.Errorf("response data = %v, want approved=true", req.ResponseData)
	}
	if req.ResponseData["parent_id"] != "parent-1" {
		t.Errorf("response data = %v, want parent_id=parent-1", req.ResponseData)
	}

	seen := channel.seen()
	if len(seen) != 2 || seen[1] != "SYSTEM_UNLOCKED" {
		t.Errorf("dashboard saw %v, want SYSTEM_UNLOCKED last", seen)
	}
}

func TestDenyKeepsLocked(t *testing.T) {
	mgr, store, display, _ := newTestManager(t)

	id, _ := mgr.CreateAndLock(context.Background(), testParams())
	if !mgr.ProcessResponse(id, false, "parent-1") {
		t.Fatal("deny should apply")
	}
	if !display.Locked() {
		t.Error("display should stay locked after denial")
	}
	req, err := store.Get(id)
	if err != nil {
		t.Fatalf("archived request: %v", err)
	}
	if req.Status != approval.StatusDenied {
		t.Errorf("status = %q, want denied", req.Status)
	}
	if v, ok := req.ResponseData["approved"].(bool); !ok || v {
		t.Errorf("response data = %v, want approved=false", req.ResponseData)
	}
}

func TestFirstResponseWins(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)

	id, _ := mgr.CreateAndLock(context.Background(), testParams())
	if !mgr.ProcessResponse(id, true, "parent-1") {
		t.Fatal("first response should apply")
	}
	if mgr.ProcessResponse(id, false, "parent-2") {
		t.Error("second response should be rejected")
	}

	req, _ := store.Get(id)
	if req.Status != approval.StatusApproved {
		t.Errorf("status = %q, want approved from first response", req.Status)
	}
	if req.ParentID != "parent-1" {
		t.Errorf("parent_id = %q, want parent-1", req.ParentID)
	}
}

func TestTimeoutLeavesLocked(t *testing.T) {
	mgr, store, display, _ := newTestManager(t)

	id, err := mgr.CreateAndLock(context.Background(), CreateParams{
		Reason:  "timeout test",
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("CreateAndLock: %v", err)
	}

	deadline := time.Now().Add(4 * time.Second)
	for {
		req, err := store.Get(id)
		if err == nil && req.Status == approval.StatusTimeout {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("request did not time out")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if !display.Locked() {
		t.Error("display should stay locked after timeout")
	}
	if mgr.CurrentLock() != "" {
		t.Error("lock slot should be released for the next request")
	}
	if mgr.ProcessResponse(id, true, "parent-1") {
		t.Error("late response should be rejected after timeout")
	}

	// The timed-out request no longer blocks new ones.
	if _, err := mgr.CreateAndLock(context.Background(), testParams()); err != nil {
		t.Errorf("new request after timeout: %v", err)
	}
}

func TestCancel(t *testing.T) {
	mgr, store, display, _ := newTestManager(t)

	id, _ := mgr.CreateAndLock(context.Background(), testParams())
	if !mgr.Cancel(id) {
		t.Fatal("cancel should apply")
	}
	if display.Locked() {
		t.Error("display should be unlocked after cancel")
	}
	req, _ := store.Get(id)
	if req.Status != approval.StatusCancelled {
		t.Errorf("status = %q, want cancelled", req.Status)
	}
	if mgr.Cancel(id) {
		t.Error("second cancel should be rejected")
	}
}

func TestEmergencyUnlock(t *testing.T) {
	mgr, store, display, _ := newTestManager(t)

	id, _ := mgr.CreateAndLock(context.Background(), testParams())
	if !mgr.EmergencyUnlock(id) {
		t.Fatal("emergency unlock should apply")
	}
	if display.Locked() {
		t.Error("display should be unlocked")
	}

	req, _ := store.Get(id)
	if req.Status != approval.StatusCancelled {
		t.Errorf("status = %q, want cancelled", req.Status)
	}
	if v, ok := req.ResponseData["emergency_unlock"].(bool); !ok || !v {
		t.Errorf("response data = %v, want emergency_unlock marker", req.ResponseData)
	}
	if mgr.Stats().EmergencyUnlocks != 1 {
		t.Errorf("emergency unlocks = %d, want 1", mgr.Stats().EmergencyUnlocks)
	}
}

func TestDispatchSkipsEmptyDashboard(t *testing.T) {
	mgr, _, _, channel := newTestManager(t)
	channel.mu.Lock()
	channel.clients = 0
	channel.mu.Unlock()

	if _, err := mgr.CreateAndLock(context.Background(), testParams()); err != nil {
		t.Fatalf("CreateAndLock: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if seen := channel.seen(); len(seen) != 0 {
		t.Errorf("dashboard saw %v, want nothing with zero clients", seen)
	}
}

func TestStatsTrackOutcomes(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	ctx := context.Background()

	id1, _ := mgr.CreateAndLock(ctx, testParams())
	mgr.ProcessResponse(id1, true, "parent-1")

	id2, _ := mgr.CreateAndLock(ctx, testParams())
	mgr.ProcessResponse(id2, false, "parent-1")

	id3, _ := mgr.CreateAndLock(ctx, testParams())
	mgr.Cancel(id3)

	s := mgr.Stats()
	if s.TotalRequests != 3 {
		t.Errorf("total = %d, want 3", s.TotalRequests)
	}
	if s.Approved != 1 || s.Denied != 1 || s.Cancelled != 1 {
		t.Errorf("outcomes = %+v", s)
	}
	if s.Responded != 2 {
		t.Errorf("responded = %d, want 2", s.Responded)
	}
	if s.AvgResponseSeconds < 0 {
		t.Errorf("avg latency = %f", s.AvgResponseSeconds)
	}
}

// stallingChannel hangs APPROVAL_REQUEST broadcasts until its gate is
// closed, standing in for a dashboard or webhook that is slow to accept
// the delivery.
type stallingChannel struct {
	fakeChannel
	gate chan struct{}
}

func (s *stallingChannel) Broadcast(msgType string, data map[string]any) error {
	if msgType == "APPROVAL_REQUEST" {
		<-s.gate
	}
	return s.fakeChannel.Broadcast(msgType, data)
}

func TestDecisionsApplyWhileDeliveryStalls(t *testing.T) {
	store, err := approval.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	display := lockscreen.NewNoopDisplay(nil)
	channel := &stallingChannel{
		fakeChannel: fakeChannel{clients: 1},
		gate:        make(chan struct{}),
	}
	mgr := New(store, display, channel, nil, nil, nil)
	t.Cleanup(mgr.Close)
	t.Cleanup(func() { close(channel.gate) })

	created := make(chan string, 1)
	go func() {
		id, err := mgr.CreateAndLock(context.Background(), testParams())
		if err != nil {
			t.Errorf("CreateAndLock: %v", err)
		}
		created <- id
	}()

	var id string
	select {
	case id = <-created:
	case <-time.After(2 * time.Second):
		t.Fatal("CreateAndLock stalled behind a hung notification delivery")
	}

	decided := make(chan bool, 1)
	go func() { decided <- mgr.ProcessResponse(id, true, "parent-1") }()
	select {
	case ok := <-decided:
		if !ok {
			t.Fatal("approve should apply")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approve stalled behind a hung notification delivery")
	}

	if display.Locked() {
		t.Error("display should be unlocked while delivery is still in flight")
	}
}

func TestResolveSurvivesArchiveFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := approval.NewStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	display := lockscreen.NewNoopDisplay(nil)
	mgr := New(store, display, &fakeChannel{clients: 1}, nil, nil, nil)
	t.Cleanup(mgr.Close)

	id, err := mgr.CreateAndLock(context.Background(), testParams())
	if err != nil {
		t.Fatalf("CreateAndLock: %v", err)
	}

	// Break archiving: replace the history directory with a plain file.
	histDir := filepath.Join(dir, "history")
	if err := os.RemoveAll(histDir); err != nil {
		t.Fatalf("remove history dir: %v", err)
	}
	if err := os.WriteFile(histDir, []byte("not a directory"), 0644); err != nil {
		t.Fatalf("block history dir: %v", err)
	}

	if !mgr.ProcessResponse(id, true, "parent-1") {
		t.Fatal("approve should apply despite the archive failure")
	}
	if display.Locked() {
		t.Error("display should be unlocked")
	}
	if mgr.CurrentLock() != "" {
		t.Error("lock slot should be released")
	}

	// The decision fell back to the active record instead of being lost.
	req, err := store.GetActive(id)
	if err != nil {
		t.Fatalf("resolved request: %v", err)
	}
	if req.Status != approval.StatusApproved {
		t.Errorf("status = %q, want approved", req.Status)
	}

	if mgr.ProcessResponse(id, false, "parent-2") {
		t.Error("second response should still be rejected")
	}
}

func TestInboxAppliesResponse(t *testing.T) {
	mgr, store, display, _ := newTestManager(t)

	inboxDir := t.TempDir()
	inbox, err := NewInbox(inboxDir, mgr, nil)
	if err != nil {
		t.Fatalf("NewInbox: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inbox.Run(ctx)

	id, _ := mgr.CreateAndLock(context.Background(), testParams())

	if err := WriteResponse(inboxDir, Response{
		RequestID: id,
		Approved:  true,
		ParentID:  "parent-cli",
	}); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		req, err := store.Get(id)
		if err == nil && req.Status == approval.StatusApproved {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("inbox response was not applied")
		}
		time.Sleep(25 * time.Millisecond)
	}
	if display.Locked() {
		t.Error("display should be unlocked")
	}
}
