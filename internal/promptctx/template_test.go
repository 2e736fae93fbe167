package promptctx

import "testing"

func TestExpandSimple(t *testing.T) {
	got := Expand("hello {{name}}!", map[string]string{"name": "world"})
	if got != "hello world!" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandUnknownNameVerbatim(t *testing.T) {
	got := Expand("hello {{name}}!", map[string]string{})
	if got != "hello {{name}}!" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandWhitespaceInNameNotSubstituted(t *testing.T) {
	got := Expand("hi {{ name }}", map[string]string{"name": "x", " name ": "y"})
	if got != "hi {{ name }}" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandUnterminatedBraceVerbatim(t *testing.T) {
	got := Expand("oops {{name", map[string]string{"name": "x"})
	if got != "oops {{name" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEmptyNameVerbatim(t *testing.T) {
	got := Expand("{{}}", map[string]string{"": "x"})
	if got != "{{}}" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandMultipleSubstitutions(t *testing.T) {
	got := Expand("{{a}}-{{b}}-{{a}}", map[string]string{"a": "1", "b": "2"})
	if got != "1-2-1" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandWithBuiltinsOverridesCustom(t *testing.T) {
	vars := map[string]string{"cycle_name": "custom-value"}
	got := ExpandWithBuiltins("{{cycle_name}}", vars, Builtins{CycleName: "coding"})
	if got != "coding" {
		t.Fatalf("got %q, builtins should override custom vars", got)
	}
}

func TestExpandWithBuiltinsIteration(t *testing.T) {
	got := ExpandWithBuiltins("iter {{iteration}}/{{max_iterations}}", nil, Builtins{Iteration: 3, MaxIterations: 10})
	if got != "iter 3/10" {
		t.Fatalf("got %q", got)
	}
}

func TestInjectWithBlock(t *testing.T) {
	got := Inject("CTX", "PROMPT")
	if got != "CTX\n\n---\n\nPROMPT" {
		t.Fatalf("got %q", got)
	}
}

func TestInjectEmptyBlock(t *testing.T) {
	got := Inject("", "PROMPT")
	if got != "PROMPT" {
		t.Fatalf("got %q", got)
	}
}
