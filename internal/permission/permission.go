// Package permission resolves the effective permission list for a cycle or
// step execution.
package permission

// Resolve merges global, cycle, and optional step permission lists into the
// deduplicated union, preserving first-occurrence order: global first, then
// cycle additions not already present, then step additions not already
// present.
func Resolve(global, cycle, step []string) []string {
	seen := make(map[string]bool, len(global)+len(cycle)+len(step))
	result := make([]string, 0, len(global)+len(cycle)+len(step))

	add := func(perms []string) {
		for _, p := range perms {
			if seen[p] {
				continue
			}
			seen[p] = true
			result = append(result, p)
		}
	}

	add(global)
	add(cycle)
	add(step)
	return result
}
