// Package config loads and validates Flow's TOML run configuration into
// the shape the rest of the core consumes.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/flowexec/flow/internal/promptctx"
)

// RouterMode is the closed set of step-routing strategies.
type RouterMode string

const (
	RouterSequential RouterMode = "sequential"
	RouterLLM        RouterMode = "llm"
)

const defaultMaxVisits = 3

// StepConfig describes one subunit of a multi-step cycle.
type StepConfig struct {
	Name        string
	Session     string
	Prompt      string
	Permissions []string
	Router      RouterMode
	MaxVisits   int
	MaxTurns    *int
	MaxCostUSD  *float64
}

// CycleConfig describes one named unit of work.
type CycleConfig struct {
	Name        string
	Description string
	Prompt      string // non-empty only for single-step cycles
	Permissions []string
	After       []string
	Context     promptctx.Mode
	MinInterval *int
	MaxTurns    *int
	MaxCostUSD  *float64
	Steps       []StepConfig
}

// IsMultiStep reports whether this cycle is driven by a step list rather
// than a single top-level prompt.
func (c CycleConfig) IsMultiStep() bool {
	return len(c.Steps) > 0
}

// GlobalConfig holds settings that apply across every cycle.
type GlobalConfig struct {
	Permissions             []string
	MaxPermissionDenials    int
	CircuitBreakerThreshold int
	MaxConsecutiveFailures  int
	SummaryInterval         int
	TemplateVars            map[string]string
}

// SelectorConfig optionally overrides the cycle selector's prompt guidance.
type SelectorConfig struct {
	Prompt string
}

// FlowConfig is the fully parsed, validated run configuration.
type FlowConfig struct {
	Global   GlobalConfig
	Cycles   []CycleConfig
	Selector *SelectorConfig
}

// GetCycle looks up a cycle by name.
func (f FlowConfig) GetCycle(name string) (CycleConfig, bool) {
	for _, c := range f.Cycles {
		if c.Name == name {
			return c, true
		}
	}
	return CycleConfig{}, false
}

// --- TOML wire shapes, unmarshaled via viper/mapstructure ---

type tomlGlobal struct {
	Permissions             []string          `mapstructure:"permissions"`
	MaxPermissionDenials    int               `mapstructure:"max_permission_denials"`
	CircuitBreakerThreshold int               `mapstructure:"circuit_breaker_threshold"`
	MaxConsecutiveFailures  int               `mapstructure:"max_consecutive_failures"`
	SummaryInterval         int               `mapstructure:"summary_interval"`
	TemplateVars            map[string]string `mapstructure:"template_vars"`
}

type tomlStep struct {
	Name        string   `mapstructure:"name"`
	Session     string   `mapstructure:"session"`
	Prompt      string   `mapstructure:"prompt"`
	Permissions []string `mapstructure:"permissions"`
	Router      string   `mapstructure:"router"`
	MaxVisits   int      `mapstructure:"max_visits"`
	MaxTurns    *int     `mapstructure:"max_turns"`
	MaxCostUSD  *float64 `mapstructure:"max_cost_usd"`
}

type tomlCycle struct {
	Name        string     `mapstructure:"name"`
	Description string     `mapstructure:"description"`
	Prompt      string     `mapstructure:"prompt"`
	Permissions []string   `mapstructure:"permissions"`
	After       []string   `mapstructure:"after"`
	Context     string     `mapstructure:"context"`
	MinInterval *int       `mapstructure:"min_interval"`
	MaxTurns    *int       `mapstructure:"max_turns"`
	MaxCostUSD  *float64   `mapstructure:"max_cost_usd"`
	Steps       []tomlStep `mapstructure:"step"`
}

type tomlSelector struct {
	Prompt string `mapstructure:"prompt"`
}

type tomlRoot struct {
	Global   tomlGlobal    `mapstructure:"global"`
	Cycles   []tomlCycle   `mapstructure:"cycle"`
	Selector *tomlSelector `mapstructure:"selector"`
}

// Load reads and validates the config file at path.
func Load(path string) (*FlowConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw tomlRoot
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := raw.toFlowConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse validates and converts a TOML document already read into memory
// (used by tests and by anything that has the document in hand already).
func Parse(data string) (*FlowConfig, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var raw tomlRoot
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg := raw.toFlowConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r tomlRoot) toFlowConfig() FlowConfig {
	cfg := FlowConfig{
		Global: GlobalConfig{
			Permissions:             r.Global.Permissions,
			MaxPermissionDenials:    r.Global.MaxPermissionDenials,
			CircuitBreakerThreshold: r.Global.CircuitBreakerThreshold,
			MaxConsecutiveFailures:  r.Global.MaxConsecutiveFailures,
			SummaryInterval:         r.Global.SummaryInterval,
			TemplateVars:            r.Global.TemplateVars,
		},
	}
	if r.Selector != nil {
		cfg.Selector = &SelectorConfig{Prompt: r.Selector.Prompt}
	}
	for _, tc := range r.Cycles {
		cfg.Cycles = append(cfg.Cycles, tc.toCycleConfig())
	}
	return cfg
}

func (tc tomlCycle) toCycleConfig() CycleConfig {
	c := CycleConfig{
		Name:        tc.Name,
		Description: tc.Description,
		Prompt:      tc.Prompt,
		Permissions: tc.Permissions,
		After:       tc.After,
		Context:     parseContextMode(tc.Context),
		MinInterval: tc.MinInterval,
		MaxTurns:    tc.MaxTurns,
		MaxCostUSD:  tc.MaxCostUSD,
	}
	for _, ts := range tc.Steps {
		c.Steps = append(c.Steps, ts.toStepConfig())
	}
	return c
}

func (ts tomlStep) toStepConfig() StepConfig {
	maxVisits := ts.MaxVisits
	if maxVisits <= 0 {
		maxVisits = defaultMaxVisits
	}
	router := RouterSequential
	if ts.Router == string(RouterLLM) {
		router = RouterLLM
	}
	return StepConfig{
		Name:        ts.Name,
		Session:     ts.Session,
		Prompt:      ts.Prompt,
		Permissions: ts.Permissions,
		Router:      router,
		MaxVisits:   maxVisits,
		MaxTurns:    ts.MaxTurns,
		MaxCostUSD:  ts.MaxCostUSD,
	}
}

func parseContextMode(s string) promptctx.Mode {
	switch s {
	case "summaries":
		return promptctx.ModeSummaries
	case "full":
		return promptctx.ModeFull
	default:
		return promptctx.ModeNone
	}
}

var permissionPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*(\([^)]+\))?$`)

func validPermission(p string) bool {
	return permissionPattern.MatchString(p)
}

// Validate checks every invariant named in the spec: unique non-empty cycle
// names, resolvable `after` references, well-formed permission strings,
// exactly one of {prompt, steps} per cycle, unique non-empty step names,
// and strictly-positive numeric limits.
func (f FlowConfig) Validate() error {
	names := make(map[string]bool, len(f.Cycles))
	for _, c := range f.Cycles {
		if c.Name == "" {
			return fmt.Errorf("config: cycle has empty name")
		}
		if names[c.Name] {
			return fmt.Errorf("config: duplicate cycle name %q", c.Name)
		}
		names[c.Name] = true
	}

	for _, p := range f.Global.Permissions {
		if !validPermission(p) {
			return fmt.Errorf("config: invalid permission string %q", p)
		}
	}

	for _, c := range f.Cycles {
		for _, after := range c.After {
			if !names[after] {
				return fmt.Errorf("config: cycle %q has dangling after reference %q", c.Name, after)
			}
		}
		for _, p := range c.Permissions {
			if !validPermission(p) {
				return fmt.Errorf("config: cycle %q has invalid permission string %q", c.Name, p)
			}
		}

		hasPrompt := c.Prompt != ""
		hasSteps := len(c.Steps) > 0
		if hasPrompt == hasSteps {
			return fmt.Errorf("config: cycle %q must have exactly one of a top-level prompt or steps", c.Name)
		}

		if err := validatePositiveLimits(fmt.Sprintf("cycle %q", c.Name), c.MinInterval, c.MaxTurns, c.MaxCostUSD); err != nil {
			return err
		}

		stepNames := make(map[string]bool, len(c.Steps))
		for _, s := range c.Steps {
			if s.Name == "" {
				return fmt.Errorf("config: cycle %q has a step with empty name", c.Name)
			}
			if stepNames[s.Name] {
				return fmt.Errorf("config: cycle %q has duplicate step name %q", c.Name, s.Name)
			}
			stepNames[s.Name] = true
			for _, p := range s.Permissions {
				if !validPermission(p) {
					return fmt.Errorf("config: cycle %q step %q has invalid permission string %q", c.Name, s.Name, p)
				}
			}
			if err := validatePositiveLimits(fmt.Sprintf("cycle %q step %q", c.Name, s.Name), nil, s.MaxTurns, s.MaxCostUSD); err != nil {
				return err
			}
		}
	}

	return nil
}

// validatePositiveLimits enforces "any numeric limit must be strictly
// positive when present": an explicitly-set min_interval, max_turns, or
// max_cost_usd of zero or less is a fatal configuration error, not silently
// treated as absent.
func validatePositiveLimits(where string, minInterval, maxTurns *int, maxCostUSD *float64) error {
	if minInterval != nil && *minInterval <= 0 {
		return fmt.Errorf("config: %s has non-positive min_interval %d", where, *minInterval)
	}
	if maxTurns != nil && *maxTurns <= 0 {
		return fmt.Errorf("config: %s has non-positive max_turns %d", where, *maxTurns)
	}
	if maxCostUSD != nil && *maxCostUSD <= 0 {
		return fmt.Errorf("config: %s has non-positive max_cost_usd %v", where, *maxCostUSD)
	}
	return nil
}
