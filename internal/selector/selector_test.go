package selector

import (
	"strings"
	"testing"

	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/history"
)

func cost(v float64) *float64 { return &v }

func TestSummarizeLogTotalIterationsIsMaxNotCount(t *testing.T) {
	log := []history.CycleOutcome{
		{Iteration: 1, Cycle: "coding", Outcome: "Completed"},
		{Iteration: 3, Cycle: "coding", Outcome: "Completed"},
		{Iteration: 2, Cycle: "gardening", Outcome: "Completed"},
	}
	s := SummarizeLog(log)
	if s.TotalIterations != 3 {
		t.Fatalf("expected max iteration 3, got %d", s.TotalIterations)
	}
}

func TestSummarizeLogPerCycleCountsAndSuccessRate(t *testing.T) {
	log := []history.CycleOutcome{
		{Iteration: 1, Cycle: "coding", Outcome: "Completed"},
		{Iteration: 2, Cycle: "coding", Outcome: "Failed: boom"},
		{Iteration: 3, Cycle: "coding", Outcome: "Completed"},
	}
	s := SummarizeLog(log)
	if s.PerCycleCounts["coding"] != 3 {
		t.Fatalf("expected count 3, got %d", s.PerCycleCounts["coding"])
	}
	if got := s.PerCycleSuccess["coding"]; got < 0.66 || got > 0.67 {
		t.Fatalf("expected success rate ~0.667, got %f", got)
	}
}

func TestSummarizeLogCumulativeCost(t *testing.T) {
	log := []history.CycleOutcome{
		{Iteration: 1, Cycle: "coding", Outcome: "Completed", TotalCostUSD: cost(1.5)},
		{Iteration: 2, Cycle: "coding", Outcome: "Completed", TotalCostUSD: cost(2.25)},
	}
	s := SummarizeLog(log)
	if s.CumulativeCost != 3.75 {
		t.Fatalf("expected 3.75, got %f", s.CumulativeCost)
	}
}

func TestSummarizeLogRecentOutcomesNewestFirstCappedAtFive(t *testing.T) {
	var log []history.CycleOutcome
	for i := 1; i <= 7; i++ {
		log = append(log, history.CycleOutcome{Iteration: uint32(i), Cycle: "coding", Outcome: "Completed"})
	}
	log[6].Outcome = "last"
	s := SummarizeLog(log)
	if len(s.RecentOutcomes) != 5 {
		t.Fatalf("expected 5 recent outcomes, got %d", len(s.RecentOutcomes))
	}
	if s.RecentOutcomes[0] != "last" {
		t.Fatalf("expected newest-first ordering, got %v", s.RecentOutcomes)
	}
}

func TestParseTodoTasksBasic(t *testing.T) {
	content := "- [ ] fix the bug\n- [x] done already\n- [ ] add tests\n"
	tasks := ParseTodoTasks(content)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(tasks))
	}
	if tasks[0].Description != "fix the bug" || tasks[1].Description != "add tests" {
		t.Fatalf("unexpected descriptions: %+v", tasks)
	}
}

func TestParseTodoTasksPriorityLookahead(t *testing.T) {
	content := "- [ ] fix the bug\nPriority: P0\n- [ ] add tests\n"
	tasks := ParseTodoTasks(content)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Priority != "P0" {
		t.Fatalf("expected P0, got %q", tasks[0].Priority)
	}
	if tasks[1].Priority != "" {
		t.Fatalf("expected no priority for second task, got %q", tasks[1].Priority)
	}
}

func TestParseTodoTasksPriorityStopsAtNextTaskLine(t *testing.T) {
	content := "- [ ] fix the bug\n- [ ] add tests\nPriority: P1\n"
	tasks := ParseTodoTasks(content)
	if tasks[0].Priority != "" {
		t.Fatalf("expected no priority bleeding across task boundary, got %q", tasks[0].Priority)
	}
	if tasks[1].Priority != "P1" {
		t.Fatalf("expected P1 on second task, got %q", tasks[1].Priority)
	}
}

func TestParseTodoTasksPriorityBeyondFiveLinesIgnored(t *testing.T) {
	content := "- [ ] fix the bug\n\n\n\n\n\nPriority: P2\n"
	tasks := ParseTodoTasks(content)
	if tasks[0].Priority != "" {
		t.Fatalf("expected priority beyond lookahead window to be ignored, got %q", tasks[0].Priority)
	}
}

func TestFormatTodoSummaryGroupsByPriorityOrder(t *testing.T) {
	tasks := []TodoTask{
		{Description: "low thing", Priority: "P3"},
		{Description: "urgent thing", Priority: "P0"},
		{Description: "unannotated"},
	}
	out := FormatTodoSummary(tasks)
	if strings.Index(out, "P0:") > strings.Index(out, "P3:") {
		t.Fatalf("expected P0 before P3 in output: %s", out)
	}
	if !strings.Contains(out, "urgent thing") {
		t.Fatalf("expected task text present: %s", out)
	}
}

func TestFormatTodoSummaryEmpty(t *testing.T) {
	if FormatTodoSummary(nil) != "(no pending tasks)" {
		t.Fatal("expected placeholder text for empty task list")
	}
}

func TestBuildPromptUsesOverrideGuidance(t *testing.T) {
	cycles := []config.CycleConfig{{Name: "coding", Description: "writes code"}}
	out := BuildPrompt("log summary", "todo summary", cycles, "custom guidance text")
	if !strings.Contains(out, "custom guidance text") {
		t.Fatal("expected override guidance to appear in prompt")
	}
	if strings.Contains(out, "Prefer P0 tasks") {
		t.Fatal("expected built-in guidance to be replaced, not appended")
	}
	if !strings.Contains(out, "writes code") {
		t.Fatal("expected cycle description to appear in prompt")
	}
}

func TestBuildPromptUsesBuiltinGuidanceWhenUnset(t *testing.T) {
	out := BuildPrompt("x", "y", nil, "")
	if !strings.Contains(out, "Prefer P0 tasks") {
		t.Fatal("expected built-in guidance text")
	}
}

func TestParseSelectionJSON(t *testing.T) {
	cfg := config.FlowConfig{Cycles: []config.CycleConfig{{Name: "coding", Prompt: "x"}}}
	name, reason, err := ParseSelection(`{"cycle": "coding", "reason": "highest priority"}`, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "coding" || reason != "highest priority" {
		t.Fatalf("unexpected result: %s / %s", name, reason)
	}
}

func TestParseSelectionJSONUnknownCycleFallsThroughToSubstring(t *testing.T) {
	cfg := config.FlowConfig{Cycles: []config.CycleConfig{{Name: "coding", Prompt: "x"}}}
	response := "{\"cycle\": \"nonexistent\", \"reason\": \"x\"}\nI'll go with coding since it's overdue."
	name, _, err := ParseSelection(response, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "coding" {
		t.Fatalf("expected fallback match on coding, got %s", name)
	}
}

func TestFormatLogSummaryIncludesCyclesAndOutcomes(t *testing.T) {
	log := []history.CycleOutcome{
		{Iteration: 1, Cycle: "coding", Outcome: "Completed", TotalCostUSD: cost(1.0)},
		{Iteration: 2, Cycle: "coding", Outcome: "Completed"},
	}
	out := FormatLogSummary(SummarizeLog(log))
	if !strings.Contains(out, "Total iterations: 2") {
		t.Fatalf("expected total iterations in output: %s", out)
	}
	if !strings.Contains(out, "coding: 2 run(s)") {
		t.Fatalf("expected per-cycle breakdown: %s", out)
	}
}

func TestParseSelectionNoMatchIsError(t *testing.T) {
	cfg := config.FlowConfig{Cycles: []config.CycleConfig{{Name: "coding", Prompt: "x"}}}
	_, _, err := ParseSelection("nothing useful here", cfg)
	if err == nil {
		t.Fatal("expected error")
	}
}
