package promptctx

import "strings"

// Builtins are the always-present template variables, which override any
// same-named custom variable.
type Builtins struct {
	ProjectDir    string
	TodoFile      string
	CycleName     string
	StepName      string
	Iteration     int
	MaxIterations int
}

func (b Builtins) apply(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars)+6)
	for k, v := range vars {
		out[k] = v
	}
	out["project_dir"] = b.ProjectDir
	out["todo_file"] = b.TodoFile
	out["cycle_name"] = b.CycleName
	out["step_name"] = b.StepName
	out["iteration"] = itoa(b.Iteration)
	out["max_iterations"] = itoa(b.MaxIterations)
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Expand substitutes {{name}} occurrences from vars. Unknown names, names
// containing whitespace, and an unterminated "{{" are all emitted verbatim.
func Expand(template string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	i := 0
	for i < len(template) {
		if i+1 < len(template) && template[i] == '{' && template[i+1] == '{' {
			rest := template[i+2:]
			closeIdx := strings.Index(rest, "}}")
			if closeIdx == -1 {
				b.WriteString("{{")
				i += 2
				continue
			}
			name := rest[:closeIdx]
			whole := template[i : i+2+closeIdx+2]
			if name == "" || containsWhitespace(name) {
				b.WriteString(whole)
				i += len(whole)
				continue
			}
			if val, ok := vars[name]; ok {
				b.WriteString(val)
			} else {
				b.WriteString(whole)
			}
			i += len(whole)
			continue
		}
		b.WriteByte(template[i])
		i++
	}
	return b.String()
}

// ExpandWithBuiltins expands template after overlaying builtins onto vars
// (builtins always win on name collision).
func ExpandWithBuiltins(template string, vars map[string]string, builtins Builtins) string {
	return Expand(template, builtins.apply(vars))
}

func containsWhitespace(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			return true
		}
	}
	return false
}
