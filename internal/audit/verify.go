package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult reports the outcome of an audit trail verification:
// whether the chain is intact, how many entries were checked, and a
// per-event tally of what the trail records.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Events    map[string]int `json:"events,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
}

// Verify walks a JSONL audit trail and checks each entry two ways: the
// prev_hash link back to the previous line, and the record itself
// (every entry must carry a timestamp and an event name). It stops at
// the first defect so ErrorLine points at the earliest tampering.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{Events: make(map[string]int)}
	want := GenesisHash
	sc := bufio.NewScanner(f)

	for sc.Scan() {
		res.Lines++
		// Copy since the scanner reuses its buffer.
		line := append([]byte(nil), sc.Bytes()...)

		if msg := checkEntry(line, want, res.Events); msg != "" {
			res.Error = msg
			res.ErrorLine = res.Lines
			res.Events = nil
			return res
		}
		want = HashLine(line)
	}
	if err := sc.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	if res.Lines == 0 {
		res.Events = nil
	}
	res.Valid = true
	return res
}

// checkEntry validates one line against the expected prev_hash and the
// entry invariants, tallying its event on success. Returns an empty
// string when the line is sound.
func checkEntry(line []byte, wantPrev string, events map[string]int) string {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return fmt.Sprintf("parse error: %v", err)
	}
	if e.PrevHash != wantPrev {
		return fmt.Sprintf("broken chain: prev_hash is %s, want %s", e.PrevHash, wantPrev)
	}
	if e.Timestamp == "" {
		return "entry has no timestamp"
	}
	if e.Event == "" {
		return "entry has no event name"
	}
	events[e.Event]++
	return ""
}
