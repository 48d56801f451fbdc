package ws

import (
	"time"

	"go.uber.org/zap"
)

// Responder is what the hub needs from the approval workflow: the result
// of a parent decision or a cancellation. Both return false when the
// request was already resolved.
type Responder interface {
	ProcessResponse(requestID string, approved bool, parentID string) bool
	Cancel(requestID string) bool
}

// CommandHandler routes inbound dashboard commands to the workflow.
type CommandHandler struct {
	responder Responder
	log       *zap.Logger
}

// NewCommandHandler wires a responder to inbound dashboard commands.
func NewCommandHandler(responder Responder, log *zap.Logger) *CommandHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandHandler{responder: responder, log: log}
}

type commandResult struct {
	Type      string `json:"type"`
	Op        string `json:"op"`
	RequestID string `json:"request_id,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Handle dispatches one decoded dashboard command and replies with an
// acknowledgement on the same connection.
func (h *CommandHandler) Handle(c *conn, cmd map[string]any) {
	op, _ := cmd["op"].(string)
	data, _ := cmd["data"].(map[string]any)

	res := commandResult{
		Type:      "COMMAND_RESULT",
		Op:        op,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	switch op {
	case "approvalResponse":
		id, _ := data["request_id"].(string)
		approved, _ := data["approved"].(bool)
		parentID, _ := data["parent_id"].(string)
		if id == "" {
			res.Error = "request_id required"
			break
		}
		res.RequestID = id
		res.OK = h.responder.ProcessResponse(id, approved, parentID)
		if !res.OK {
			res.Error = "request not pending"
		}
		h.log.Info("dashboard approval response",
			zap.String("request_id", id),
			zap.Bool("approved", approved),
			zap.Bool("applied", res.OK))

	case "cancelRequest":
		id, _ := data["request_id"].(string)
		if id == "" {
			res.Error = "request_id required"
			break
		}
		res.RequestID = id
		res.OK = h.responder.Cancel(id)
		if !res.OK {
			res.Error = "request not pending"
		}
		h.log.Info("dashboard cancel request",
			zap.String("request_id", id),
			zap.Bool("applied", res.OK))

	case "ping":
		res.OK = true

	default:
		res.Error = "unknown op"
		h.log.Warn("unknown dashboard op", zap.String("op", op))
	}

	c.reply(res)
}
