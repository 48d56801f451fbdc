package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeResponder struct {
	mu        sync.Mutex
	responses []string
	cancels   []string
	result    bool
}

func (f *fakeResponder) ProcessResponse(id string, approved bool, parentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, id)
	return f.result
}

func (f *fakeResponder) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return f.result
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastNoClients(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Broadcast("APPROVAL_REQUEST", nil); err != ErrNoClients {
		t.Fatalf("Broadcast with no clients = %v, want ErrNoClients", err)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()
	waitForClients(t, hub, 1)

	if err := hub.Broadcast("APPROVAL_REQUEST", map[string]any{"request_id": "req-1"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "APPROVAL_REQUEST" {
		t.Errorf("type = %q, want APPROVAL_REQUEST", env.Type)
	}
	if env.Data["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", env.Data["request_id"])
	}
	if env.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestApprovalResponseCommand(t *testing.T) {
	hub := NewHub(nil)
	resp := &fakeResponder{result: true}
	hub.SetCommandHandler(NewCommandHandler(resp, nil))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()
	waitForClients(t, hub, 1)

	cmd := map[string]any{
		"op": "approvalResponse",
		"data": map[string]any{
			"request_id": "req-7",
			"approved":   true,
			"parent_id":  "parent-1",
		},
	}
	if err := c.WriteJSON(cmd); err != nil {
		t.Fatalf("write: %v", err)
	}

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res commandResult
	if err := c.ReadJSON(&res); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !res.OK || res.RequestID != "req-7" {
		t.Errorf("result = %+v, want ok for req-7", res)
	}

	resp.mu.Lock()
	defer resp.mu.Unlock()
	if len(resp.responses) != 1 || resp.responses[0] != "req-7" {
		t.Errorf("responder saw %v, want [req-7]", resp.responses)
	}
}

func TestCancelCommandNotPending(t *testing.T) {
	hub := NewHub(nil)
	resp := &fakeResponder{result: false}
	hub.SetCommandHandler(NewCommandHandler(resp, nil))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()
	waitForClients(t, hub, 1)

	if err := c.WriteJSON(map[string]any{
		"op":   "cancelRequest",
		"data": map[string]any{"request_id": "gone"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res commandResult
	if err := c.ReadJSON(&res); err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.OK {
		t.Error("cancel of resolved request should not be ok")
	}
	if res.Error == "" {
		t.Error("expected error detail")
	}
}

func TestUnknownOp(t *testing.T) {
	hub := NewHub(nil)
	hub.SetCommandHandler(NewCommandHandler(&fakeResponder{}, nil))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()
	waitForClients(t, hub, 1)

	if err := c.WriteJSON(map[string]any{"op": "reboot"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res commandResult
	if err := c.ReadJSON(&res); err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.OK || res.Error != "unknown op" {
		t.Errorf("result = %+v, want unknown op error", res)
	}
}

func TestClientCountTracksDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForClients(t, hub, 2)

	c1.Close()
	waitForClients(t, hub, 1)
	c2.Close()
	waitForClients(t, hub, 0)
}
