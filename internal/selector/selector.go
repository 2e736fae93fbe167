// Package selector implements the cycle selector: using the agent itself
// to pick the next cycle in an autonomous run.
package selector

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/history"
)

// TodoTask is one pending item parsed from the TODO file.
type TodoTask struct {
	Description string
	Priority    string // "P0".."P3", or "" when unannotated
}

// LogSummary is the digest of run history shown to the selector agent.
type LogSummary struct {
	TotalIterations int
	PerCycleCounts  map[string]int
	PerCycleSuccess map[string]float64
	CumulativeCost  float64
	RecentOutcomes  []string // newest-first
}

const maxRecentOutcomes = 5

// SummarizeLog builds a LogSummary from the full history.
func SummarizeLog(log []history.CycleOutcome) LogSummary {
	s := LogSummary{
		PerCycleCounts:  make(map[string]int),
		PerCycleSuccess: make(map[string]float64),
	}
	cycleSuccesses := make(map[string]int)

	for _, e := range log {
		if int(e.Iteration) > s.TotalIterations {
			s.TotalIterations = int(e.Iteration)
		}
		s.PerCycleCounts[e.Cycle]++
		if e.Succeeded() {
			cycleSuccesses[e.Cycle]++
		}
		if e.TotalCostUSD != nil {
			s.CumulativeCost += *e.TotalCostUSD
		}
	}
	for name, count := range s.PerCycleCounts {
		s.PerCycleSuccess[name] = float64(cycleSuccesses[name]) / float64(count)
	}

	for i := len(log) - 1; i >= 0 && len(s.RecentOutcomes) < maxRecentOutcomes; i-- {
		s.RecentOutcomes = append(s.RecentOutcomes, log[i].Outcome)
	}
	return s
}

// ParseTodoTasks extracts pending "- [ ] desc" lines and attaches a nearby
// "Priority: P<n>" annotation found within the next 5 lines (stopping
// early if another task line is hit first). Tasks whose description is
// empty after trimming are skipped.
func ParseTodoTasks(content string) []TodoTask {
	lines := strings.Split(content, "\n")
	var tasks []TodoTask

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "- [ ] ") {
			continue
		}
		desc := strings.TrimSpace(strings.TrimPrefix(trimmed, "- [ ] "))
		if desc == "" {
			continue
		}

		priority := ""
		for j := i + 1; j < len(lines) && j <= i+5; j++ {
			next := strings.TrimSpace(lines[j])
			if strings.HasPrefix(next, "- [") {
				break
			}
			if p, ok := extractPriority(next); ok {
				priority = p
				break
			}
		}

		tasks = append(tasks, TodoTask{Description: desc, Priority: priority})
	}
	return tasks
}

func extractPriority(line string) (string, bool) {
	var rest string
	switch {
	case strings.HasPrefix(line, "- Priority:"):
		rest = strings.TrimPrefix(line, "- Priority:")
	case strings.HasPrefix(line, "Priority:"):
		rest = strings.TrimPrefix(line, "Priority:")
	default:
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if len(rest) != 2 || rest[0] != 'P' {
		return "", false
	}
	if _, err := strconv.Atoi(rest[1:]); err != nil {
		return "", false
	}
	return rest, true
}

var priorityOrder = []string{"P0", "P1", "P2", "P3"}

// FormatTodoSummary groups tasks by priority in fixed P0..P3 order,
// printing only priorities with at least one task. Tasks with no priority,
// or a priority outside P0..P3, are not included in the output.
func FormatTodoSummary(tasks []TodoTask) string {
	if len(tasks) == 0 {
		return "(no pending tasks)"
	}
	buckets := make(map[string][]string)
	for _, t := range tasks {
		buckets[t.Priority] = append(buckets[t.Priority], t.Description)
	}

	var b strings.Builder
	for _, p := range priorityOrder {
		items := buckets[p]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", p)
		for _, desc := range items {
			fmt.Fprintf(&b, "  - %s\n", desc)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatLogSummary renders a LogSummary into the text block shown to the
// selector agent.
func FormatLogSummary(s LogSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total iterations: %d\n", s.TotalIterations)
	fmt.Fprintf(&b, "Cumulative cost: $%.2f\n", s.CumulativeCost)

	if len(s.PerCycleCounts) > 0 {
		b.WriteString("Per-cycle runs:\n")
		names := make([]string, 0, len(s.PerCycleCounts))
		for name := range s.PerCycleCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  - %s: %d run(s), %.0f%% success\n", name, s.PerCycleCounts[name], s.PerCycleSuccess[name]*100)
		}
	}

	if len(s.RecentOutcomes) > 0 {
		b.WriteString("Recent outcomes (newest first):\n")
		for _, o := range s.RecentOutcomes {
			fmt.Fprintf(&b, "  - %s\n", o)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

const selectionGuidance = `Selection guidance:
- Prefer P0 tasks over lower priorities.
- Prefer a balanced mix of cycles over repeating the same one.
- After a failure, recover via a lighter cycle rather than repeating the failing one.
- If permission denials are rising, favor a review cycle.`

// BuildPrompt composes the selector prompt. guidance overrides the
// built-in selection criteria text when non-empty (SelectorConfig.Prompt).
func BuildPrompt(logSummary string, todoSummary string, cycles []config.CycleConfig, guidance string) string {
	if guidance == "" {
		guidance = selectionGuidance
	}

	var b strings.Builder
	b.WriteString("## Run history\n")
	b.WriteString(logSummary)
	b.WriteString("\n\n## Pending tasks\n")
	b.WriteString(todoSummary)
	b.WriteString("\n\n## Available cycles\n")
	for _, c := range cycles {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	b.WriteString("\n")
	b.WriteString(guidance)
	b.WriteString("\n\nRespond with a JSON object: {\"cycle\": \"<name>\", \"reason\": \"<one sentence>\"}\n")
	return b.String()
}

type selectionResponse struct {
	Cycle  string `json:"cycle"`
	Reason string `json:"reason"`
}

// ParseSelection parses the selector agent's response into a chosen cycle
// name. It scans for a standalone JSON object line first, validating the
// chosen cycle actually exists in cfg; failing that, it falls back to
// substring-matching a configured cycle name in the response.
func ParseSelection(response string, cfg config.FlowConfig) (string, string, error) {
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
			continue
		}
		var parsed selectionResponse
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			continue
		}
		if parsed.Cycle == "" {
			continue
		}
		if _, ok := cfg.GetCycle(parsed.Cycle); ok {
			return parsed.Cycle, parsed.Reason, nil
		}
	}

	for _, c := range cfg.Cycles {
		if strings.Contains(response, c.Name) {
			return c.Name, "matched cycle name in response", nil
		}
	}
	return "", "", fmt.Errorf("selector: could not parse a cycle choice from response")
}
