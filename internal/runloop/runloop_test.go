package runloop

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/history"
)

func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent")
	script := "#!/bin/sh\n" + body + "\necho '{\"type\":\"result\",\"result\":\"unmatched\"}'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

// TestRunSingleCycleSuccess directly implements end-to-end Scenario A.
func TestRunSingleCycleSuccess(t *testing.T) {
	bin := fakeAgent(t, `echo '{"type":"result","result":"done","num_turns":1,"total_cost_usd":0.05}'`)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.jsonl")
	progPath := filepath.Join(dir, "progress.json")

	cfg := config.FlowConfig{Cycles: []config.CycleConfig{{Name: "coding", Prompt: "write code"}}}
	var out bytes.Buffer
	code := Run(cfg, Options{
		Binary:        bin,
		LogPath:       logPath,
		ProgressPath:  progPath,
		FixedCycle:    "coding",
		MaxIterations: 1,
		Out:           &out,
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out.String())
	}

	entries, err := history.New(logPath).ReadAll()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(entries) != 1 || entries[0].Cycle != "coding" || !entries[0].Succeeded() {
		t.Fatalf("unexpected log entries: %+v", entries)
	}

	if _, err := os.Stat(progPath); !os.IsNotExist(err) {
		t.Fatal("expected progress snapshot to be deleted after a completed run")
	}
}

// TestRunDependencyFanOut directly implements end-to-end Scenario B: a
// completed cycle triggers a dependent cycle in the same iteration.
func TestRunDependencyFanOut(t *testing.T) {
	bin := fakeAgent(t, `echo '{"type":"result","result":"done"}'`)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.jsonl")
	progPath := filepath.Join(dir, "progress.json")

	cfg := config.FlowConfig{Cycles: []config.CycleConfig{
		{Name: "coding", Prompt: "write code"},
		{Name: "gardening", Prompt: "clean up", After: []string{"coding"}},
	}}

	var out bytes.Buffer
	code := Run(cfg, Options{
		Binary:        bin,
		LogPath:       logPath,
		ProgressPath:  progPath,
		FixedCycle:    "coding",
		MaxIterations: 1,
		Out:           &out,
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out.String())
	}

	entries, err := history.New(logPath).ReadAll()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected coding + triggered gardening entries, got %d", len(entries))
	}
	if entries[0].Cycle != "coding" || entries[1].Cycle != "gardening" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

// TestRunPermissionDenialGateStopsRun directly implements end-to-end
// Scenario D: a cycle accumulating more permission denials than the
// configured threshold terminates the run nonzero.
func TestRunPermissionDenialGateStopsRun(t *testing.T) {
	bin := fakeAgent(t, `echo '{"type":"result","result":"done","permission_denials":["Edit","Bash","Write"]}'`)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.jsonl")
	progPath := filepath.Join(dir, "progress.json")

	cfg := config.FlowConfig{
		Global: config.GlobalConfig{MaxPermissionDenials: 2},
		Cycles: []config.CycleConfig{{Name: "coding", Prompt: "write code"}},
	}

	var out, errOut bytes.Buffer
	code := Run(cfg, Options{
		Binary:        bin,
		LogPath:       logPath,
		ProgressPath:  progPath,
		FixedCycle:    "coding",
		MaxIterations: 1,
		Out:           &out,
		ErrOut:        &errOut,
	})
	if code == 0 {
		t.Fatal("expected nonzero exit when permission denial gate fires")
	}
	msg := errOut.String()
	if !strings.Contains(msg, "permission denials") {
		t.Fatalf("expected stderr to mention permission denials: %s", msg)
	}
	if !strings.Contains(msg, "exceeded") {
		t.Fatalf("expected stderr to mention the threshold was exceeded: %s", msg)
	}
	if !strings.Contains(msg, "3") || !strings.Contains(msg, "2") {
		t.Fatalf("expected stderr to cite both counts: %s", msg)
	}
	if strings.Contains(out.String(), "permission denials") {
		t.Fatalf("expected stdout not to contain the gate diagnostic: %s", out.String())
	}
}

func TestRunUnknownFixedCycleIsError(t *testing.T) {
	bin := fakeAgent(t, `echo '{"type":"result","result":"done"}'`)
	dir := t.TempDir()
	cfg := config.FlowConfig{Cycles: []config.CycleConfig{{Name: "coding", Prompt: "x"}}}

	var out bytes.Buffer
	code := Run(cfg, Options{
		Binary:        bin,
		LogPath:       filepath.Join(dir, "log.jsonl"),
		ProgressPath:  filepath.Join(dir, "progress.json"),
		FixedCycle:    "nonexistent",
		MaxIterations: 1,
		Out:           &out,
	})
	if code == 0 {
		t.Fatal("expected nonzero exit for unknown cycle")
	}
}
