// Package doctor analyzes the history log and run configuration to surface
// actionable diagnostics: permission friction, flaky cycles, cost
// anomalies, and configuration lint.
package doctor

import (
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/flowexec/flow/internal/accumulate"
	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/history"
)

// MinAgentVersion is the floor D007 checks the agent binary against.
const MinAgentVersion = "1.0.0"

// Severity is the closed set of finding severities.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "Error"
	case SeverityWarning:
		return "Warning"
	case SeverityInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// Finding is one diagnostic result.
type Finding struct {
	Severity   Severity
	Code       string
	Message    string
	Suggestion string
}

// Report is the full set of findings from one diagnose pass.
type Report struct {
	Findings []Finding
}

// IsClean reports whether the report has no findings at all.
func (r Report) IsClean() bool { return len(r.Findings) == 0 }

// Count returns how many findings carry the given severity.
func (r Report) Count(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

const highCostThresholdUSD = 5.0

// Diagnose runs every check and returns findings sorted Error < Warning <
// Info, preserving each check's own internal ordering within a severity.
func Diagnose(cfg config.FlowConfig, log []history.CycleOutcome) Report {
	var findings []Finding
	findings = append(findings, checkPermissionDenials(log)...)
	findings = append(findings, checkCycleHealth(log)...)
	findings = append(findings, checkConfigLint(cfg)...)
	findings = append(findings, checkFrequencyTuning(cfg, log)...)

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity < findings[j].Severity
	})
	return Report{Findings: findings}
}

// D001: any permission denials recorded against a run.
func checkPermissionDenials(log []history.CycleOutcome) []Finding {
	var findings []Finding
	for _, entry := range log {
		if len(entry.PermissionDenials) == 0 {
			continue
		}
		uniqueTools := dedupeSorted(entry.PermissionDenials)

		suggestions := make([]string, len(uniqueTools))
		for i, tool := range uniqueTools {
			suggestions[i] = accumulate.SuggestPermission(tool)
		}

		findings = append(findings, Finding{
			Severity: SeverityError,
			Code:     "D001",
			Message: fmt.Sprintf("Cycle '%s' had %d permission denial(s) in iteration %d: %s",
				entry.Cycle, len(entry.PermissionDenials), entry.Iteration, joinComma(uniqueTools)),
			Suggestion: fmt.Sprintf("Add to cycles.toml permissions: %s", joinComma(suggestions)),
		})
	}
	return findings
}

// D002/D003: per-cycle failure rate and high-cost runs, grouped by the
// cycle's first appearance in the log for deterministic ordering.
func checkCycleHealth(log []history.CycleOutcome) []Finding {
	if len(log) == 0 {
		return nil
	}

	var order []string
	outcomes := make(map[string][]history.CycleOutcome)
	for _, e := range log {
		if _, ok := outcomes[e.Cycle]; !ok {
			order = append(order, e.Cycle)
		}
		outcomes[e.Cycle] = append(outcomes[e.Cycle], e)
	}

	var findings []Finding
	for _, cycleName := range order {
		entries := outcomes[cycleName]
		total := len(entries)

		failureCount := 0
		var highCostRuns []float64
		for _, e := range entries {
			if !e.Succeeded() {
				failureCount++
			}
			if e.TotalCostUSD != nil && *e.TotalCostUSD > highCostThresholdUSD {
				highCostRuns = append(highCostRuns, *e.TotalCostUSD)
			}
		}

		if total >= 2 && failureCount*2 > total {
			findings = append(findings, Finding{
				Severity:   SeverityWarning,
				Code:       "D002",
				Message:    fmt.Sprintf("Cycle '%s' failed %d/%d times", cycleName, failureCount, total),
				Suggestion: "Check cycle prompt and permissions. Run `flow --cycle <name>` manually to debug.",
			})
		}

		if len(highCostRuns) > 0 {
			max, sum := highCostRuns[0], 0.0
			for _, c := range highCostRuns {
				if c > max {
					max = c
				}
				sum += c
			}
			avg := sum / float64(len(highCostRuns))
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Code:     "D003",
				Message: fmt.Sprintf("Cycle '%s' had %d run(s) exceeding $5.00 (max $%.2f, avg $%.2f)",
					cycleName, len(highCostRuns), max, avg),
				Suggestion: "Consider breaking the task into smaller subtasks or adding constraints to the prompt.",
			})
		}
	}
	return findings
}

// D004/D005: static configuration lint.
func checkConfigLint(cfg config.FlowConfig) []Finding {
	var findings []Finding
	for _, c := range cfg.Cycles {
		if len(c.After) > 0 && c.MinInterval == nil {
			findings = append(findings, Finding{
				Severity:   SeverityInfo,
				Code:       "D004",
				Message:    fmt.Sprintf("Cycle '%s' triggers after %v but has no min_interval", c.Name, c.After),
				Suggestion: fmt.Sprintf("Add `min_interval = 3` to '%s' in cycles.toml to avoid redundant runs", c.Name),
			})
		}
		if len(c.Permissions) == 0 && len(cfg.Global.Permissions) == 0 {
			findings = append(findings, Finding{
				Severity:   SeverityWarning,
				Code:       "D005",
				Message:    fmt.Sprintf("Cycle '%s' has no permissions (global or cycle-level)", c.Name),
				Suggestion: "Add at least `Read` to global permissions in cycles.toml",
			})
		}
	}
	return findings
}

// D006: triggered cycles that keep firing back-to-back without a
// min_interval to space them out.
func checkFrequencyTuning(cfg config.FlowConfig, log []history.CycleOutcome) []Finding {
	if len(log) == 0 {
		return nil
	}

	var findings []Finding
	for _, c := range cfg.Cycles {
		if len(c.After) == 0 {
			continue
		}

		var runs []history.CycleOutcome
		for _, e := range log {
			if e.Cycle == c.Name {
				runs = append(runs, e)
			}
		}
		if len(runs) < 2 {
			continue
		}

		closeRuns := 0
		for i := 1; i < len(runs); i++ {
			gap := int(runs[i].Iteration) - int(runs[i-1].Iteration)
			if gap < 0 {
				gap = 0
			}
			if gap <= 1 {
				closeRuns++
			}
		}

		if closeRuns > 0 && (c.MinInterval == nil || *c.MinInterval <= 1) {
			findings = append(findings, Finding{
				Severity:   SeverityInfo,
				Code:       "D006",
				Message:    fmt.Sprintf("Cycle '%s' ran %d consecutive time(s) with <=1 iteration gap", c.Name, closeRuns),
				Suggestion: fmt.Sprintf("Consider setting `min_interval = 3` for '%s' to space out runs", c.Name),
			})
		}
	}
	return findings
}

// CheckAgentVersion is D007: compares a probed agent binary version (e.g.
// from "--version") against a known-good floor using semantic versioning.
// Either string failing semver validation means the check does not apply
// (some agent binaries don't report a semver string) and nil is returned.
func CheckAgentVersion(reportedVersion, minVersion string) *Finding {
	reported := normalizeSemver(reportedVersion)
	floor := normalizeSemver(minVersion)
	if !semver.IsValid(reported) || !semver.IsValid(floor) {
		return nil
	}
	if semver.Compare(reported, floor) >= 0 {
		return nil
	}
	return &Finding{
		Severity:   SeverityInfo,
		Code:       "D007",
		Message:    fmt.Sprintf("Agent binary reports version %s, below the recommended floor %s", reportedVersion, minVersion),
		Suggestion: "Upgrade the agent CLI to pick up stream-json and permission-flag fixes.",
	}
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// ProbeAgentVersion runs "<binary> --version" and extracts the first
// semver-shaped substring from its output (agent CLIs commonly print a
// banner like "1.2.3 (Claude Code)" rather than a bare version string).
// An error means the binary couldn't be run or printed no recognizable
// version; the doctor command then skips D007 rather than failing.
func ProbeAgentVersion(binary string) (string, error) {
	out, err := exec.Command(binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("doctor: probe %s --version: %w", binary, err)
	}
	match := versionPattern.FindString(strings.TrimSpace(string(out)))
	if match == "" {
		return "", fmt.Errorf("doctor: %s --version did not print a recognizable version", binary)
	}
	return match, nil
}

func normalizeSemver(v string) string {
	if v == "" {
		return v
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

func dedupeSorted(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, i := range items {
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	sort.Strings(out)
	return out
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
