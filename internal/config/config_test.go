package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testConfig = `
[global]
permissions = ["Read", "Edit(./src/**)"]
max_permission_denials = 5
circuit_breaker_threshold = 3

[[cycle]]
name = "coding"
description = "Pick a task and implement with TDD"
prompt = "You are Flow's coding cycle."
permissions = ["Edit(./tests/**)", "Bash(cargo test *)"]
context = "summaries"

[[cycle]]
name = "review"
description = "Code review"
after = ["coding"]
min_interval = 2

[[cycle.step]]
name = "plan"
session = "architect"
prompt = "Plan the review"
router = "sequential"

[[cycle.step]]
name = "implement"
session = "coder"
prompt = "Do the review"
router = "llm"
max_visits = 2
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse(testConfig)
	require.NoError(t, err)
	require.Len(t, cfg.Cycles, 2)

	coding, ok := cfg.GetCycle("coding")
	require.True(t, ok)
	require.Equal(t, "You are Flow's coding cycle.", coding.Prompt)
	require.False(t, coding.IsMultiStep())

	review, ok := cfg.GetCycle("review")
	require.True(t, ok)
	require.True(t, review.IsMultiStep())
	require.Len(t, review.Steps, 2)
	require.NotNil(t, review.MinInterval)
	require.Equal(t, 2, *review.MinInterval)
	require.Equal(t, 2, review.Steps[1].MaxVisits)
	require.Equal(t, RouterLLM, review.Steps[1].Router)
}

func TestDefaultMaxVisits(t *testing.T) {
	cfg, err := Parse(testConfig)
	require.NoError(t, err)
	review, _ := cfg.GetCycle("review")
	require.Equal(t, defaultMaxVisits, review.Steps[0].MaxVisits)
}

func TestValidateRejectsDuplicateCycleNames(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
[[cycle]]
name = "coding"
prompt = "b"
`)
	require.Error(t, err)
}

func TestValidateRejectsDanglingAfter(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
after = ["nonexistent"]
`)
	require.Error(t, err)
}

func TestValidateRejectsInvalidPermission(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
permissions = ["not valid!"]
`)
	require.Error(t, err)
}

func TestValidateRejectsBothPromptAndSteps(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
[[cycle.step]]
name = "s1"
prompt = "x"
`)
	require.Error(t, err)
}

func TestValidateRejectsNeitherPromptNorSteps(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
`)
	require.Error(t, err)
}

func TestValidateRejectsDuplicateStepNames(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
[[cycle.step]]
name = "s1"
prompt = "x"
[[cycle.step]]
name = "s1"
prompt = "y"
`)
	require.Error(t, err)
}

func TestValidateRejectsNonPositiveMinInterval(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
min_interval = 0
`)
	require.Error(t, err)
}

func TestValidateRejectsNegativeMinInterval(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
min_interval = -1
`)
	require.Error(t, err)
}

func TestValidateRejectsNonPositiveMaxTurns(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
max_turns = 0
`)
	require.Error(t, err)
}

func TestValidateRejectsNonPositiveMaxCostUSD(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
max_cost_usd = -0.5
`)
	require.Error(t, err)
}

func TestValidateRejectsNonPositiveStepMaxTurns(t *testing.T) {
	_, err := Parse(`
[[cycle]]
name = "coding"
[[cycle.step]]
name = "s1"
prompt = "x"
max_turns = -3
`)
	require.Error(t, err)
}

func TestValidateAllowsAbsentLimits(t *testing.T) {
	cfg, err := Parse(`
[[cycle]]
name = "coding"
prompt = "a"
`)
	require.NoError(t, err)
	coding, ok := cfg.GetCycle("coding")
	require.True(t, ok)
	require.Nil(t, coding.MinInterval)
	require.Nil(t, coding.MaxTurns)
	require.Nil(t, coding.MaxCostUSD)
}
