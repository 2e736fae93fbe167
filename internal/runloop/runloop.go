// Package runloop is the CLI-independent orchestration core: it resolves
// which cycle to run each iteration, drives execution through the cycle
// executor, appends history, maintains the progress snapshot, and enforces
// the permission-denial and consecutive-failure gates.
package runloop

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowexec/flow/internal/agentcmd"
	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/cycle"
	"github.com/flowexec/flow/internal/driver"
	"github.com/flowexec/flow/internal/history"
	"github.com/flowexec/flow/internal/progress"
	"github.com/flowexec/flow/internal/promptctx"
	"github.com/flowexec/flow/internal/rules"
	"github.com/flowexec/flow/internal/selector"
)

// iterationRateLimit bounds how fast consecutive iterations can start, so a
// selector that always resolves instantly (e.g. a misconfigured fixed cycle
// loop) can't busy-spin the agent binary. One iteration per second is far
// below any real agent invocation's latency, so it never throttles normal
// runs.
const iterationRateLimit = 1 * time.Second

// Options carries everything the run loop needs that isn't already baked
// into the parsed config.
type Options struct {
	Binary        string
	WorkingDir    string
	LogPath       string
	ProgressPath  string
	TodoPath      string
	FixedCycle    string // empty means use the selector every iteration
	MaxIterations uint32
	Out           io.Writer // routine progress output (banner, summary lines)
	ErrOut        io.Writer // errors and gate-failure diagnostics
	Shutdown      *driver.ShutdownFlag // nil means the run loop owns its own
}

// Run executes the configured run to completion (or until a gate fires or
// the process is interrupted) and returns the process exit code.
func Run(cfg config.FlowConfig, opts Options) int {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	errOut := opts.ErrOut
	if errOut == nil {
		errOut = os.Stderr
	}

	shutdown := opts.Shutdown
	if shutdown == nil {
		shutdown = &driver.ShutdownFlag{}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			fmt.Fprintln(out, "flow: received interrupt, stopping the agent at its next event then stopping the run")
			shutdown.Set()
		}
	}()

	drv := driver.New(shutdown, cfg.Global.CircuitBreakerThreshold)
	log := history.New(opts.LogPath)
	prog := progress.NewWriter(opts.ProgressPath)

	entries, err := log.ReadAll()
	if err != nil {
		fmt.Fprintf(errOut, "flow: read history log: %v\n", err)
		return 1
	}

	maxIterations := opts.MaxIterations
	if maxIterations == 0 {
		maxIterations = 1
	}
	if maxIterations > 1 {
		fmt.Fprintf(out, "flow: starting run (max %d iterations)\n", maxIterations)
	}

	runProgress := progress.New(maxIterations)
	consecutiveFailures := 0
	exitCode := 0
	limiter := rate.NewLimiter(rate.Every(iterationRateLimit), 1)

runLoop:
	for iteration := uint32(1); iteration <= maxIterations; iteration++ {
		if shutdown.IsSet() {
			break
		}
		if err := limiter.Wait(context.Background()); err != nil {
			break
		}

		cycleName, err := resolveCycleName(drv, cfg, opts, entries)
		if err != nil {
			fmt.Fprintf(errOut, "flow: %v\n", err)
			exitCode = 1
			break
		}

		runProgress.CurrentIteration = iteration
		runProgress.CurrentCycle = cycleName
		_ = prog.Write(runProgress)

		entry, err := runOneCycle(drv, cfg, cycleName, iteration, opts, entries)
		if err != nil {
			fmt.Fprintf(errOut, "flow: %v\n", err)
			exitCode = 1
			break
		}
		entries = append(entries, entry)
		if err := log.Append(entry); err != nil {
			fmt.Fprintf(errOut, "flow: append history: %v\n", err)
			exitCode = 1
			break
		}
		updateProgressAggregate(&runProgress, entry)
		_ = prog.Write(runProgress)

		if msg, fail := checkGates(cfg, entry, &consecutiveFailures); fail {
			fmt.Fprintln(errOut, msg)
			exitCode = 1
			break
		}

		if shutdown.IsSet() {
			break
		}

		for _, depName := range rules.FindTriggered(cfg, cycleName, entries) {
			if shutdown.IsSet() {
				break runLoop
			}
			depEntry, err := runOneCycle(drv, cfg, depName, iteration, opts, entries)
			if err != nil {
				fmt.Fprintf(errOut, "flow: %v\n", err)
				exitCode = 1
				break runLoop
			}
			entries = append(entries, depEntry)
			if err := log.Append(depEntry); err != nil {
				fmt.Fprintf(errOut, "flow: append history: %v\n", err)
				exitCode = 1
				break runLoop
			}
			updateProgressAggregate(&runProgress, depEntry)
			_ = prog.Write(runProgress)

			if msg, fail := checkGates(cfg, depEntry, &consecutiveFailures); fail {
				fmt.Fprintln(errOut, msg)
				exitCode = 1
				break runLoop
			}
		}

		if cfg.Global.SummaryInterval > 0 && int(iteration)%cfg.Global.SummaryInterval == 0 {
			fmt.Fprintf(out, "flow: completed iteration %d/%d (cycle=%s)\n", iteration, maxIterations, cycleName)
		}
	}

	switch {
	case shutdown.IsSet():
		runProgress.CurrentStatus = progress.StatusStopped
	case exitCode != 0:
		runProgress.CurrentStatus = progress.StatusFailed
	default:
		runProgress.CurrentStatus = progress.StatusCompleted
	}
	_ = prog.Write(runProgress)
	_ = prog.Delete()

	return exitCode
}

func resolveCycleName(drv *driver.Driver, cfg config.FlowConfig, opts Options, entries []history.CycleOutcome) (string, error) {
	if opts.FixedCycle != "" {
		if _, ok := cfg.GetCycle(opts.FixedCycle); !ok {
			return "", fmt.Errorf("cycle %q not found in configuration", opts.FixedCycle)
		}
		return opts.FixedCycle, nil
	}

	logSummary := selector.FormatLogSummary(selector.SummarizeLog(entries))

	todoContent := ""
	if opts.TodoPath != "" {
		if data, err := os.ReadFile(opts.TodoPath); err == nil {
			todoContent = string(data)
		}
	}
	todoSummary := selector.FormatTodoSummary(selector.ParseTodoTasks(todoContent))

	guidance := ""
	if cfg.Selector != nil {
		guidance = cfg.Selector.Prompt
	}

	prompt := selector.BuildPrompt(logSummary, todoSummary, cfg.Cycles, guidance)
	argv := agentcmd.Build(opts.Binary, prompt, nil, agentcmd.Options{})
	text, err := driver.RunForResult(drv, argv, opts.WorkingDir)
	if err != nil {
		return "", fmt.Errorf("selector: %w", err)
	}

	name, _, err := selector.ParseSelection(text, cfg)
	if err != nil {
		return "", fmt.Errorf("selector: %w", err)
	}
	return name, nil
}

func runOneCycle(drv *driver.Driver, cfg config.FlowConfig, cycleName string, iteration uint32, opts Options, entries []history.CycleOutcome) (history.CycleOutcome, error) {
	c, ok := cfg.GetCycle(cycleName)
	if !ok {
		return history.CycleOutcome{}, fmt.Errorf("cycle %q not found in configuration", cycleName)
	}

	execOpts := cycle.Options{
		Binary:     opts.Binary,
		WorkingDir: opts.WorkingDir,
		Global:     cfg.Global,
		Builtins: promptctx.Builtins{
			ProjectDir:    opts.WorkingDir,
			TodoFile:      opts.TodoPath,
			CycleName:     cycleName,
			Iteration:     int(iteration),
			MaxIterations: int(opts.MaxIterations),
		},
		ContextEntries: entries,
	}

	res, err := cycle.Execute(drv, c, execOpts)
	if err != nil {
		return history.CycleOutcome{}, err
	}

	outcomeStr := "Completed successfully"
	if !res.Success {
		outcomeStr = fmt.Sprintf("Failed with exit code %d", res.ExitCode)
	}

	entry := cycle.ToCycleOutcome(res)
	entry.Iteration = iteration
	entry.Cycle = cycleName
	entry.Timestamp = time.Now().UTC()
	entry.Outcome = outcomeStr
	return entry, nil
}

// checkGates applies the permission-denial gate and the consecutive-failure
// health gate, in that order, and reports whether the run should terminate.
func checkGates(cfg config.FlowConfig, entry history.CycleOutcome, consecutiveFailures *int) (string, bool) {
	if cfg.Global.MaxPermissionDenials > 0 && entry.PermissionDenialCount != nil {
		count := int(*entry.PermissionDenialCount)
		if count > cfg.Global.MaxPermissionDenials {
			return fmt.Sprintf(
				"flow: cycle %q exceeded the permission denial threshold: %d permission denials (max %d), stopping",
				entry.Cycle, count, cfg.Global.MaxPermissionDenials,
			), true
		}
	}

	if entry.Succeeded() {
		*consecutiveFailures = 0
	} else {
		*consecutiveFailures++
	}
	if cfg.Global.MaxConsecutiveFailures > 0 && *consecutiveFailures >= cfg.Global.MaxConsecutiveFailures {
		return fmt.Sprintf(
			"flow: %d consecutive cycle failures reached the threshold (%d), stopping",
			*consecutiveFailures, cfg.Global.MaxConsecutiveFailures,
		), true
	}
	return "", false
}

func updateProgressAggregate(p *progress.RunProgress, entry history.CycleOutcome) {
	p.CyclesExecuted[entry.Cycle]++
	p.TotalDurationSecs += entry.DurationSecs
	if entry.TotalCostUSD != nil {
		p.TotalCostUSD += *entry.TotalCostUSD
	}
	outcome := entry.Outcome
	p.LastOutcome = &outcome
}
