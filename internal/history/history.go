// Package history implements Flow's append-only execution log: one JSON
// object per line, read back as a point-in-time snapshot.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StepOutcome is the per-step breakdown recorded for a multi-step cycle.
type StepOutcome struct {
	StepName     string `json:"step_name"`
	DurationSecs uint64 `json:"duration_secs"`
	ExitCode     int    `json:"exit_code"`
	Success      bool   `json:"success"`
}

// CycleOutcome is one record appended to the history log per cycle
// execution. Optional fields are pointers/nil-slices so they round-trip as
// absent, not null or zero, when unset — forward-compatible with readers
// that predate a field and writers that omit it.
type CycleOutcome struct {
	Iteration    uint32    `json:"iteration"`
	Cycle        string    `json:"cycle"`
	Timestamp    time.Time `json:"timestamp"`
	Outcome      string    `json:"outcome"`
	FilesChanged []string  `json:"files_changed"`
	TestsPassed  uint32    `json:"tests_passed"`
	DurationSecs uint64    `json:"duration_secs"`

	NumTurns              *uint32       `json:"num_turns,omitempty"`
	TotalCostUSD          *float64      `json:"total_cost_usd,omitempty"`
	PermissionDenialCount *uint32       `json:"permission_denial_count,omitempty"`
	PermissionDenials     []string      `json:"permission_denials,omitempty"`
	Steps                 []StepOutcome `json:"steps,omitempty"`
}

// Succeeded reports whether this entry counts as a success: its outcome
// string does not start with the literal "Failed".
func (c CycleOutcome) Succeeded() bool {
	return !hasPrefix(c.Outcome, "Failed")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Log is an append-only JSONL history file.
type Log struct {
	Path string
}

// New returns a Log backed by the given file path.
func New(path string) *Log {
	return &Log{Path: path}
}

// Append serializes entry and appends it as one line, creating the file and
// any write position as needed.
func (l *Log) Append(entry CycleOutcome) error {
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history log %s: %w", l.Path, err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write history log %s: %w", l.Path, err)
	}
	return nil
}

// ReadAll returns every entry in the log, in append order. A missing file
// reads as an empty slice, not an error. Unknown fields on each line are
// ignored.
func (l *Log) ReadAll() ([]CycleOutcome, error) {
	f, err := os.Open(l.Path)
	if os.IsNotExist(err) {
		return []CycleOutcome{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history log %s: %w", l.Path, err)
	}
	defer f.Close()

	entries := make([]CycleOutcome, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		var entry CycleOutcome
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("parse history log %s: %w", l.Path, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history log %s: %w", l.Path, err)
	}
	return entries, nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
