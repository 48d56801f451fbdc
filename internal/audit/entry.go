package audit

// Event names recorded in the audit trail.
const (
	EventJudgment         = "judgment"
	EventApprovalCreated  = "approval_created"
	EventApprovalResolved = "approval_resolved"
	EventLock             = "lock"
	EventUnlock           = "unlock"
	EventEmergencyUnlock  = "emergency_unlock"
)

// Entry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	Event      string `json:"event"`
	RequestID  string `json:"request_id,omitempty"`
	Action     string `json:"action,omitempty"`
	Category   string `json:"category,omitempty"`
	RuleIDs    string `json:"rule_ids,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	ConfigHash string `json:"config_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}
