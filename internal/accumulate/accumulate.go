// Package accumulate folds a stream of parsed events into per-execution
// summary state.
package accumulate

import (
	"regexp"
	"strconv"

	"github.com/flowexec/flow/internal/stream"
)

// Accumulator is the per-execution fold of an agent's event stream. It is
// owned by the subprocess driver for the duration of one invocation.
type Accumulator struct {
	TextFragments []string
	ToolsUsed     []string
	ToolErrors    []string
	Result        *stream.Result
	SessionID     string
	FilesChanged  []string
	TestsPassed   uint64

	filesSeen map[string]bool
}

// New returns an empty Accumulator ready to process events.
func New() *Accumulator {
	return &Accumulator{filesSeen: make(map[string]bool)}
}

var testResultPattern = regexp.MustCompile(`test result.*?(\d+) passed`)

// Process folds one event into the accumulator's state.
func (a *Accumulator) Process(ev stream.Event) {
	if a.filesSeen == nil {
		a.filesSeen = make(map[string]bool)
	}
	switch e := ev.(type) {
	case stream.SystemInit:
		if a.SessionID == "" {
			a.SessionID = e.SessionID
		}
	case stream.AssistantText:
		a.TextFragments = append(a.TextFragments, e.Text)
	case stream.ToolUse:
		a.ToolsUsed = append(a.ToolsUsed, e.ToolName)
		if e.ToolName == "Edit" || e.ToolName == "Write" {
			if fp, ok := e.Input["file_path"].(string); ok && fp != "" && !a.filesSeen[fp] {
				a.filesSeen[fp] = true
				a.FilesChanged = append(a.FilesChanged, fp)
			}
		}
	case stream.ToolResult:
		if e.IsError {
			a.ToolErrors = append(a.ToolErrors, e.Content)
		} else {
			a.TestsPassed = saturatingAdd(a.TestsPassed, parsePassedCount(e.Content))
		}
	case stream.Result:
		result := e
		a.Result = &result
	}
}

func parsePassedCount(content string) uint64 {
	m := testResultPattern.FindStringSubmatch(content)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// PermissionDenialCount returns the length of the terminal Result's denial
// list, or 0 when no Result event has been seen yet.
func (a *Accumulator) PermissionDenialCount() int {
	if a.Result == nil {
		return 0
	}
	return len(a.Result.PermissionDenials)
}

// SuggestPermission maps a denied tool name to a configuration hint.
func SuggestPermission(toolName string) string {
	switch toolName {
	case "Read", "Glob", "Grep":
		return toolName
	}
	if hasPrefix(toolName, "Edit") {
		return "Edit(./**)"
	}
	if hasPrefix(toolName, "Write") {
		return "Write(./**)"
	}
	if hasPrefix(toolName, "Bash") {
		return "Bash(*)"
	}
	return toolName
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
