// Package rules implements the dependency-triggering engine: which cycles
// should auto-fire after a given cycle completes.
package rules

import (
	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/history"
)

// FindTriggered returns the cycle names that should auto-fire after
// completedCycle, in config declaration order. log must already include
// the entry for completedCycle's own execution, since the frequency gate
// measures distance from the end of the log as it stands right now.
func FindTriggered(cfg config.FlowConfig, completedCycle string, log []history.CycleOutcome) []string {
	var triggered []string
	for _, c := range cfg.Cycles {
		if !containsString(c.After, completedCycle) {
			continue
		}
		if passesFrequencyGate(c, log) {
			triggered = append(triggered, c.Name)
		}
	}
	return triggered
}

// passesFrequencyGate implements §4.10's gate: absent min_interval always
// passes; a cycle that has never appeared in the log always passes; a gate
// of 0 always passes; otherwise the most recent entry for c must be at
// least min_interval positions from the end of the log.
func passesFrequencyGate(c config.CycleConfig, log []history.CycleOutcome) bool {
	if c.MinInterval == nil || *c.MinInterval <= 0 {
		return true
	}
	gate := *c.MinInterval

	lastIdx := -1
	for i, e := range log {
		if e.Cycle == c.Name {
			lastIdx = i
		}
	}
	if lastIdx == -1 {
		return true
	}

	distance := (len(log) - 1) - lastIdx
	return distance >= gate
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
