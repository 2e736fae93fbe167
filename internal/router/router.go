// Package router implements the step-routing state machine for multi-step
// cycles: sequential advancement, or an LLM-decided next step.
package router

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decision is the closed set of routing outcomes.
type Decision interface {
	isDecision()
}

// Done means the cycle's step loop should stop.
type Done struct {
	Reason string
}

func (Done) isDecision() {}

// GoTo means the cycle should continue at the named step.
type GoTo struct {
	StepName string
	Reason   string
}

func (GoTo) isDecision() {}

// VisitTracker counts visits per step name within one cycle execution.
type VisitTracker struct {
	counts map[string]int
}

// NewVisitTracker returns an empty tracker.
func NewVisitTracker() *VisitTracker {
	return &VisitTracker{counts: make(map[string]int)}
}

// Record increments the visit count for name and returns the new count.
func (v *VisitTracker) Record(name string) int {
	v.counts[name]++
	return v.counts[name]
}

// Count returns the current visit count for name.
func (v *VisitTracker) Count(name string) int {
	return v.counts[name]
}

// WouldExceed reports whether name's current visit count is already at or
// above cap.
func (v *VisitTracker) WouldExceed(name string, cap int) bool {
	return v.counts[name] >= cap
}

// RouteSequential advances by one index. ok is false when the next index
// would run off the end of the step list.
func RouteSequential(currentIndex, total int) (nextIndex int, ok bool) {
	next := currentIndex + 1
	if next >= total {
		return 0, false
	}
	return next, true
}

type routerResponse struct {
	Next   string `json:"next"`
	Reason string `json:"reason"`
}

// ParseResponse parses the router agent's final result text into a
// Decision. It first scans for a standalone JSON object line with "next"
// and "reason" string fields; failing that, it falls back to substring
// scanning, preferring a literal "DONE" over any step name match.
func ParseResponse(response string, availableSteps []string) (Decision, error) {
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
			continue
		}
		var parsed routerResponse
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			continue
		}
		if parsed.Next == "" || parsed.Reason == "" {
			continue
		}
		if strings.EqualFold(parsed.Next, "done") {
			return Done{Reason: parsed.Reason}, nil
		}
		if contains(availableSteps, parsed.Next) {
			return GoTo{StepName: parsed.Next, Reason: parsed.Reason}, nil
		}
		// This candidate line didn't resolve to a usable decision; keep
		// scanning in case a later line parses better.
	}

	if strings.Contains(response, "DONE") {
		return Done{Reason: "Response contained DONE"}, nil
	}
	for _, step := range availableSteps {
		if strings.Contains(response, step) {
			return GoTo{StepName: step, Reason: "Response mentioned step name"}, nil
		}
	}
	return nil, fmt.Errorf("router: could not parse a routing decision from response")
}

// BuildPrompt composes the router prompt sent to the agent.
func BuildPrompt(completedStepName, resultText string, eligibleSteps []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You just completed step %q with this result:\n\n%s\n\n", completedStepName, resultText)
	b.WriteString("Available next steps:\n")
	for _, s := range eligibleSteps {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("\nRespond with a JSON object: {\"next\": \"<step name or DONE>\", \"reason\": \"<one sentence>\"}\n")
	return b.String()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
