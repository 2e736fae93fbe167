// Package agentcmd builds the argv for invoking the agent binary. It is
// pure: no environment or filesystem access.
package agentcmd

import "strconv"

// Options carries the per-invocation knobs that become CLI flags.
type Options struct {
	ResumeArgs   []string
	MaxTurns     int
	MaxCostUSD   float64
	hasMaxTurns  bool
	hasMaxCost   bool
}

// WithMaxTurns sets a positive turn cap on the returned Options.
func WithMaxTurns(o Options, n int) Options {
	o.MaxTurns = n
	o.hasMaxTurns = n > 0
	return o
}

// WithMaxCostUSD sets a positive cost cap on the returned Options.
func WithMaxCostUSD(o Options, v float64) Options {
	o.MaxCostUSD = v
	o.hasMaxCost = v > 0
	return o
}

// Build constructs the argv for the agent binary. The shape is fixed:
// <binary>, [resume args], "-p", prompt, "--verbose", "--output-format",
// "stream-json", ["--allowedTools", perm...], ["--max-turns", n],
// ["--max-budget-usd", x]. An empty permission list omits --allowedTools
// entirely.
func Build(binary, prompt string, permissions []string, opts Options) []string {
	argv := []string{binary}
	argv = append(argv, opts.ResumeArgs...)
	argv = append(argv, "-p", prompt, "--verbose", "--output-format", "stream-json")

	if len(permissions) > 0 {
		argv = append(argv, "--allowedTools")
		argv = append(argv, permissions...)
	}
	if opts.hasMaxTurns {
		argv = append(argv, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.hasMaxCost {
		argv = append(argv, "--max-budget-usd", strconv.FormatFloat(opts.MaxCostUSD, 'f', -1, 64))
	}
	return argv
}
