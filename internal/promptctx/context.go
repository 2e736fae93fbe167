// Package promptctx builds the history-context block injected into a
// cycle's prompt and expands {{name}} template variables within it.
package promptctx

import (
	"fmt"
	"strings"

	"github.com/flowexec/flow/internal/history"
)

// Mode is the closed set of context-injection strategies a cycle can
// request.
type Mode int

const (
	// ModeNone injects nothing.
	ModeNone Mode = iota
	// ModeSummaries injects one bullet line per prior iteration.
	ModeSummaries
	// ModeFull injects a structured block per prior iteration.
	ModeFull
)

// Build renders the context block for the given mode over entries (already
// limited to whatever window the caller wants considered). Returns "" for
// ModeNone.
func Build(mode Mode, entries []history.CycleOutcome) string {
	switch mode {
	case ModeNone:
		return ""
	case ModeSummaries:
		return buildSummaries(entries)
	case ModeFull:
		return buildFull(entries)
	default:
		return ""
	}
}

func buildSummaries(entries []history.CycleOutcome) string {
	var b strings.Builder
	b.WriteString("## Previous Iteration Summaries\n")
	if len(entries) == 0 {
		b.WriteString("(no previous iterations)\n")
		return b.String()
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- Iteration %d [%s]: %s\n", e.Iteration, e.Cycle, e.Outcome)
	}
	return b.String()
}

func buildFull(entries []history.CycleOutcome) string {
	var b strings.Builder
	b.WriteString("## Full Iteration History\n")
	if len(entries) == 0 {
		b.WriteString("(no previous iterations)\n")
		return b.String()
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "### Iteration %d [%s]\n", e.Iteration, e.Cycle)
		fmt.Fprintf(&b, "Outcome: %s\n", e.Outcome)
		fmt.Fprintf(&b, "Duration: %ds\n", e.DurationSecs)
		if e.NumTurns != nil {
			fmt.Fprintf(&b, "Turns: %d\n", *e.NumTurns)
		}
		if e.TotalCostUSD != nil {
			fmt.Fprintf(&b, "Cost: $%.4f\n", *e.TotalCostUSD)
		}
		if len(e.FilesChanged) > 0 {
			fmt.Fprintf(&b, "Files changed: %s\n", strings.Join(e.FilesChanged, ", "))
		}
		if e.PermissionDenialCount != nil && *e.PermissionDenialCount > 0 {
			fmt.Fprintf(&b, "Permission denials: %d\n", *e.PermissionDenialCount)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Inject prepends block to prompt with a "\n\n---\n\n" separator, or returns
// prompt unchanged when block is empty.
func Inject(block, prompt string) string {
	if block == "" {
		return prompt
	}
	return block + "\n\n---\n\n" + prompt
}
