// Package driver spawns the agent subprocess, stream-parses its stdout,
// enforces the circuit breaker, and honors cooperative cancellation.
package driver

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowexec/flow/internal/accumulate"
	"github.com/flowexec/flow/internal/stream"
)

// ShutdownFlag is the boolean shared between the run loop's signal handler
// and every driver invocation. The driver examines it only at event
// boundaries; the run loop also checks it between cycles.
type ShutdownFlag struct {
	flag atomic.Bool
}

// Set flips the flag; safe to call from a signal handler.
func (s *ShutdownFlag) Set() { s.flag.Store(true) }

// IsSet reports whether shutdown has been requested.
func (s *ShutdownFlag) IsSet() bool { return s.flag.Load() }

// Result is what one invocation of the driver produces.
type Result struct {
	Accumulator            *accumulate.Accumulator
	Stderr                 string
	ExitCode               int
	DurationSecs           uint64
	KilledByCircuitBreaker bool
	Canceled               bool
}

// Driver spawns and streams one agent invocation at a time.
type Driver struct {
	Shutdown                *ShutdownFlag
	CircuitBreakerThreshold int
}

// New returns a Driver. A nil shutdown flag means cancellation is never
// checked.
func New(shutdown *ShutdownFlag, circuitBreakerThreshold int) *Driver {
	return &Driver{Shutdown: shutdown, CircuitBreakerThreshold: circuitBreakerThreshold}
}

// Run spawns argv[0] with the remaining elements as its arguments in
// workingDir, streams and parses its stdout, and waits for it to exit.
// A nonzero child exit code is reported via Result.ExitCode, not as an
// error; only spawn failures are returned as errors.
func (d *Driver) Run(argv []string, workingDir string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("driver: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("driver: create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("driver: create stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("driver: spawn agent: %w", err)
	}

	var stderrMu sync.Mutex
	var stderrBuf strings.Builder
	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Fprintln(os.Stderr, line)
			stderrMu.Lock()
			if stderrBuf.Len() > 0 {
				stderrBuf.WriteByte('\n')
			}
			stderrBuf.WriteString(line)
			stderrMu.Unlock()
		}
		return scanner.Err()
	})

	acc := accumulate.New()
	consecutiveErrors := 0
	killedByBreaker := false
	canceled := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if d.Shutdown != nil && d.Shutdown.IsSet() {
			canceled = true
			_ = cmd.Process.Kill()
			break
		}

		line := scanner.Text()
		fmt.Println(line)

		ev, ok := stream.Parse(line)
		if !ok {
			continue
		}

		switch e := ev.(type) {
		case stream.ToolResult:
			if e.IsError {
				consecutiveErrors++
			} else {
				consecutiveErrors = 0
			}
		case stream.ToolUse:
			consecutiveErrors = 0
		}

		acc.Process(ev)

		if d.CircuitBreakerThreshold > 0 && consecutiveErrors >= d.CircuitBreakerThreshold {
			fmt.Fprintf(os.Stderr, "flow: circuit breaker tripped after %d consecutive tool errors, killing agent\n", consecutiveErrors)
			killedByBreaker = true
			_ = cmd.Process.Kill()
			break
		}
	}

	_ = g.Wait()
	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrMu.Lock()
	stderrText := stderrBuf.String()
	stderrMu.Unlock()

	return &Result{
		Accumulator:            acc,
		Stderr:                 stderrText,
		ExitCode:               exitCode,
		DurationSecs:           uint64(time.Since(start).Seconds()),
		KilledByCircuitBreaker: killedByBreaker,
		Canceled:               canceled,
	}, nil
}

// RunForResult is the thin helper infrastructure callers (router, selector)
// use: run the agent with the given argv and return just its terminal
// Result text, for callers that only care about one final response.
func RunForResult(d *Driver, argv []string, workingDir string) (string, error) {
	res, err := d.Run(argv, workingDir)
	if err != nil {
		return "", err
	}
	if res.Accumulator.Result != nil {
		return res.Accumulator.Result.ResultText, nil
	}
	if len(res.Accumulator.TextFragments) > 0 {
		return strings.Join(res.Accumulator.TextFragments, ""), nil
	}
	return "", fmt.Errorf("driver: empty response from agent")
}
