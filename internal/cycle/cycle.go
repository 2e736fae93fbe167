// Package cycle wires together config, permission, promptctx, session,
// agentcmd, driver, and router into the execution of one cycle: either a
// single prompt or a routed multi-step sequence.
package cycle

import (
	"fmt"

	"github.com/flowexec/flow/internal/agentcmd"
	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/driver"
	"github.com/flowexec/flow/internal/history"
	"github.com/flowexec/flow/internal/permission"
	"github.com/flowexec/flow/internal/promptctx"
	"github.com/flowexec/flow/internal/router"
	"github.com/flowexec/flow/internal/session"
)

// Options carries the per-execution inputs that are constant across
// whichever steps run within one cycle invocation.
type Options struct {
	Binary         string
	WorkingDir     string
	Global         config.GlobalConfig
	Builtins       promptctx.Builtins
	ContextEntries []history.CycleOutcome
}

// Result is the execution outcome of one cycle, shaped to convert directly
// into a history.CycleOutcome once the caller supplies iteration/timestamp.
type Result struct {
	Success               bool
	ExitCode              int
	Stderr                string
	DurationSecs          uint64
	FilesChanged          []string
	TestsPassed           uint32
	NumTurns              *uint32
	TotalCostUSD          *float64
	PermissionDenialCount *uint32
	PermissionDenials     []string
	Steps                 []history.StepOutcome
}

// Execute runs c to completion: a single agent invocation for a top-level
// prompt cycle, or a routed loop over c.Steps for a multi-step cycle.
func Execute(d *driver.Driver, c config.CycleConfig, opts Options) (Result, error) {
	if c.IsMultiStep() {
		return executeMultiStep(d, c, opts)
	}
	return executeSingleStep(d, c, opts)
}

func executeSingleStep(d *driver.Driver, c config.CycleConfig, opts Options) (Result, error) {
	contextBlock := promptctx.Build(c.Context, opts.ContextEntries)
	prompt := promptctx.ExpandWithBuiltins(c.Prompt, opts.Global.TemplateVars, opts.Builtins)
	prompt = promptctx.Inject(contextBlock, prompt)

	perms := permission.Resolve(opts.Global.Permissions, c.Permissions, nil)

	agentOpts := agentcmd.Options{}
	if c.MaxTurns != nil {
		agentOpts = agentcmd.WithMaxTurns(agentOpts, *c.MaxTurns)
	}
	if c.MaxCostUSD != nil {
		agentOpts = agentcmd.WithMaxCostUSD(agentOpts, *c.MaxCostUSD)
	}

	argv := agentcmd.Build(opts.Binary, prompt, perms, agentOpts)
	res, err := d.Run(argv, opts.WorkingDir)
	if err != nil {
		return Result{}, fmt.Errorf("cycle %q: %w", c.Name, err)
	}

	return resultFromDriverResult(res), nil
}

func resultFromDriverResult(res *driver.Result) Result {
	r := Result{
		Success:      res.ExitCode == 0 && !res.KilledByCircuitBreaker && !res.Canceled,
		ExitCode:     res.ExitCode,
		Stderr:       res.Stderr,
		DurationSecs: res.DurationSecs,
		FilesChanged: res.Accumulator.FilesChanged,
		TestsPassed:  saturateUint32(res.Accumulator.TestsPassed),
	}
	if dr := res.Accumulator.Result; dr != nil {
		turns := dr.NumTurns
		cost := dr.TotalCostUSD
		denials := uint32(len(dr.PermissionDenials))
		r.NumTurns = &turns
		r.TotalCostUSD = &cost
		if denials > 0 {
			r.PermissionDenialCount = &denials
			r.PermissionDenials = dr.PermissionDenials
		}
	}
	return r
}

func executeMultiStep(d *driver.Driver, c config.CycleConfig, opts Options) (Result, error) {
	sessions := session.NewManager()
	visits := router.NewVisitTracker()
	contextBlock := promptctx.Build(c.Context, opts.ContextEntries)

	agg := Result{Success: true}
	filesSeen := make(map[string]bool)
	var lastResultText string

	idx := 0
	for {
		s := c.Steps[idx]
		visits.Record(s.Name)

		builtins := opts.Builtins
		builtins.StepName = s.Name

		prompt := promptctx.ExpandWithBuiltins(s.Prompt, opts.Global.TemplateVars, builtins)
		prompt = promptctx.Inject(contextBlock, prompt)

		perms := permission.Resolve(opts.Global.Permissions, c.Permissions, s.Permissions)

		agentOpts := agentcmd.Options{ResumeArgs: sessions.ResumeArgs(s.Session)}
		if s.MaxTurns != nil {
			agentOpts = agentcmd.WithMaxTurns(agentOpts, *s.MaxTurns)
		}
		if s.MaxCostUSD != nil {
			agentOpts = agentcmd.WithMaxCostUSD(agentOpts, *s.MaxCostUSD)
		}

		argv := agentcmd.Build(opts.Binary, prompt, perms, agentOpts)
		res, err := d.Run(argv, opts.WorkingDir)
		if err != nil {
			return Result{}, fmt.Errorf("cycle %q step %q: %w", c.Name, s.Name, err)
		}

		if s.Session != "" && res.Accumulator.SessionID != "" {
			sessions.Register(s.Session, res.Accumulator.SessionID)
		}

		stepResult := resultFromDriverResult(res)
		mergeAggregate(&agg, stepResult, filesSeen)
		agg.Steps = append(agg.Steps, history.StepOutcome{
			StepName:     s.Name,
			DurationSecs: res.DurationSecs,
			ExitCode:     res.ExitCode,
			Success:      stepResult.Success,
		})
		agg.ExitCode = res.ExitCode
		agg.Success = stepResult.Success

		lastResultText = extractResultText(res)

		if !stepResult.Success {
			break
		}

		next, done, err := nextStepIndex(c, s, idx, visits, d, opts, lastResultText)
		if err != nil {
			return Result{}, fmt.Errorf("cycle %q step %q: routing: %w", c.Name, s.Name, err)
		}
		if done {
			break
		}
		idx = next
	}

	return agg, nil
}

func extractResultText(res *driver.Result) string {
	if res.Accumulator.Result != nil {
		return res.Accumulator.Result.ResultText
	}
	if len(res.Accumulator.TextFragments) > 0 {
		joined := ""
		for _, t := range res.Accumulator.TextFragments {
			joined += t
		}
		return joined
	}
	return ""
}

// nextStepIndex decides the next step index for a just-completed step s.
// Sequential routing simply advances; LLM routing spends one more agent
// invocation asking which eligible step to run next.
func nextStepIndex(c config.CycleConfig, s config.StepConfig, idx int, visits *router.VisitTracker, d *driver.Driver, opts Options, resultText string) (next int, done bool, err error) {
	if s.Router == config.RouterSequential {
		n, ok := router.RouteSequential(idx, len(c.Steps))
		if !ok {
			return 0, true, nil
		}
		return n, false, nil
	}

	eligible := eligibleSteps(c.Steps, visits)
	if len(eligible) == 0 {
		return 0, true, nil
	}

	prompt := router.BuildPrompt(s.Name, resultText, eligible)
	argv := agentcmd.Build(opts.Binary, prompt, nil, agentcmd.Options{})
	text, runErr := driver.RunForResult(d, argv, opts.WorkingDir)
	if runErr != nil {
		return 0, false, runErr
	}

	decision, parseErr := router.ParseResponse(text, eligible)
	if parseErr != nil {
		return 0, false, parseErr
	}

	switch dec := decision.(type) {
	case router.Done:
		return 0, true, nil
	case router.GoTo:
		for i, step := range c.Steps {
			if step.Name == dec.StepName {
				return i, false, nil
			}
		}
		return 0, false, fmt.Errorf("router chose unknown step %q", dec.StepName)
	default:
		return 0, false, fmt.Errorf("router: unrecognized decision")
	}
}

func eligibleSteps(steps []config.StepConfig, visits *router.VisitTracker) []string {
	var names []string
	for _, s := range steps {
		if visits.WouldExceed(s.Name, s.MaxVisits) {
			continue
		}
		names = append(names, s.Name)
	}
	return names
}

// mergeAggregate folds one step's Result into the running cycle-level
// aggregate per the spec's step-aggregation rules: durations and counters
// sum (saturating where the field is bounded), cost sums exactly, files
// changed union in first-occurrence order, denial names concatenate, and
// stderr concatenates with a newline between non-empty chunks.
func mergeAggregate(agg *Result, step Result, filesSeen map[string]bool) {
	agg.DurationSecs += step.DurationSecs

	for _, f := range step.FilesChanged {
		if filesSeen[f] {
			continue
		}
		filesSeen[f] = true
		agg.FilesChanged = append(agg.FilesChanged, f)
	}

	agg.TestsPassed = saturateAddUint32(agg.TestsPassed, step.TestsPassed)

	if step.NumTurns != nil {
		var base uint32
		if agg.NumTurns != nil {
			base = *agg.NumTurns
		}
		sum := saturateAddUint32(base, *step.NumTurns)
		agg.NumTurns = &sum
	}

	if step.TotalCostUSD != nil {
		var base float64
		if agg.TotalCostUSD != nil {
			base = *agg.TotalCostUSD
		}
		sum := base + *step.TotalCostUSD
		agg.TotalCostUSD = &sum
	}

	if step.PermissionDenialCount != nil {
		var base uint32
		if agg.PermissionDenialCount != nil {
			base = *agg.PermissionDenialCount
		}
		sum := saturateAddUint32(base, *step.PermissionDenialCount)
		agg.PermissionDenialCount = &sum
		agg.PermissionDenials = append(agg.PermissionDenials, step.PermissionDenials...)
	}

	if step.Stderr != "" {
		if agg.Stderr != "" {
			agg.Stderr += "\n"
		}
		agg.Stderr += step.Stderr
	}
}

func saturateUint32(n uint64) uint32 {
	if n > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

func saturateAddUint32(a, b uint32) uint32 {
	sum := a + b
	if sum < a {
		return ^uint32(0)
	}
	return sum
}

// ToCycleOutcome converts an execution Result into a history.CycleOutcome.
// The caller (the run loop) fills in Iteration, Cycle, Timestamp, and the
// human-readable Outcome string, since the executor has no knowledge of
// run-level iteration bookkeeping or wall-clock time.
func ToCycleOutcome(r Result) history.CycleOutcome {
	return history.CycleOutcome{
		FilesChanged:          r.FilesChanged,
		TestsPassed:           r.TestsPassed,
		DurationSecs:          r.DurationSecs,
		NumTurns:              r.NumTurns,
		TotalCostUSD:          r.TotalCostUSD,
		PermissionDenialCount: r.PermissionDenialCount,
		PermissionDenials:     r.PermissionDenials,
		Steps:                 r.Steps,
	}
}
