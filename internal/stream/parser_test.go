package stream

import "testing"

func TestParseBlankLine(t *testing.T) {
	if _, ok := Parse("   "); ok {
		t.Fatal("expected blank line to yield no event")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, ok := Parse("not json"); ok {
		t.Fatal("expected invalid JSON to yield no event")
	}
}

func TestParseMissingType(t *testing.T) {
	if _, ok := Parse(`{"foo": "bar"}`); ok {
		t.Fatal("expected missing type field to yield no event")
	}
}

func TestParseSystemInitDefaults(t *testing.T) {
	ev, ok := Parse(`{"type":"system"}`)
	if !ok {
		t.Fatal("expected an event")
	}
	si, ok := ev.(SystemInit)
	if !ok {
		t.Fatalf("expected SystemInit, got %T", ev)
	}
	if si.Model != "unknown" || si.SessionID != "" {
		t.Fatalf("unexpected defaults: %+v", si)
	}
}

func TestParseSystemInit(t *testing.T) {
	ev, ok := Parse(`{"type":"system","model":"claude-x","session_id":"abc"}`)
	if !ok {
		t.Fatal("expected an event")
	}
	si := ev.(SystemInit)
	if si.Model != "claude-x" || si.SessionID != "abc" {
		t.Fatalf("unexpected: %+v", si)
	}
}

func TestParseAssistantText(t *testing.T) {
	ev, ok := Parse(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)
	if !ok {
		t.Fatal("expected an event")
	}
	at := ev.(AssistantText)
	if at.Text != "hi" {
		t.Fatalf("unexpected: %+v", at)
	}
}

func TestParseAssistantToolUse(t *testing.T) {
	ev, ok := Parse(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"a.go"}}]}}`)
	if !ok {
		t.Fatal("expected an event")
	}
	tu := ev.(ToolUse)
	if tu.ToolName != "Edit" || tu.Input["file_path"] != "a.go" {
		t.Fatalf("unexpected: %+v", tu)
	}
}

func TestParseAssistantFirstBlockOnly(t *testing.T) {
	ev, ok := Parse(`{"type":"assistant","message":{"content":[{"type":"text","text":"first"},{"type":"tool_use","name":"Read"}]}}`)
	if !ok {
		t.Fatal("expected an event")
	}
	if _, isText := ev.(AssistantText); !isText {
		t.Fatalf("expected only the first block to be returned, got %T", ev)
	}
}

func TestParseAssistantSkipsUnknownBlocks(t *testing.T) {
	ev, ok := Parse(`{"type":"assistant","message":{"content":[{"type":"thinking","text":"..."},{"type":"text","text":"real"}]}}`)
	if !ok {
		t.Fatal("expected an event")
	}
	at := ev.(AssistantText)
	if at.Text != "real" {
		t.Fatalf("unexpected: %+v", at)
	}
}

func TestParseAssistantNoKnownBlocks(t *testing.T) {
	if _, ok := Parse(`{"type":"assistant","message":{"content":[{"type":"thinking"}]}}`); ok {
		t.Fatal("expected no event when no known block present")
	}
}

func TestParseResultDefaults(t *testing.T) {
	ev, ok := Parse(`{"type":"result"}`)
	if !ok {
		t.Fatal("expected an event")
	}
	r := ev.(Result)
	if r.NumTurns != 0 || r.TotalCostUSD != 0 || len(r.PermissionDenials) != 0 {
		t.Fatalf("unexpected defaults: %+v", r)
	}
}

func TestParseResultFull(t *testing.T) {
	ev, ok := Parse(`{"type":"result","is_error":false,"result":"done","num_turns":5,"total_cost_usd":1.25,"duration_ms":3000,"permission_denials":["Edit","Bash"]}`)
	if !ok {
		t.Fatal("expected an event")
	}
	r := ev.(Result)
	if r.ResultText != "done" || r.NumTurns != 5 || r.TotalCostUSD != 1.25 || r.DurationMs != 3000 {
		t.Fatalf("unexpected: %+v", r)
	}
	if len(r.PermissionDenials) != 2 || r.PermissionDenials[0] != "Edit" {
		t.Fatalf("unexpected denials: %+v", r.PermissionDenials)
	}
}

func TestParseResultSaturatesNumTurns(t *testing.T) {
	ev, _ := Parse(`{"type":"result","num_turns":99999999999}`)
	r := ev.(Result)
	if r.NumTurns != 4294967295 {
		t.Fatalf("expected saturation to max uint32, got %d", r.NumTurns)
	}
}

func TestParseUnknownType(t *testing.T) {
	ev, ok := Parse(`{"type":"heartbeat"}`)
	if !ok {
		t.Fatal("expected an event")
	}
	u := ev.(Unknown)
	if u.EventType != "heartbeat" {
		t.Fatalf("unexpected: %+v", u)
	}
}
