package stream

import (
	"encoding/json"
	"math"
	"strings"
)

// rawEnvelope is the shape every agent stdout line is JSON-decoded into
// before dispatch on Type. Fields are deliberately permissive (any numeric
// or missing) since the wire format is external and evolves independently
// of Flow.
type rawEnvelope struct {
	Type    string          `json:"type"`
	Model   string          `json:"model"`
	Session string          `json:"session_id"`
	Message *rawMessage     `json:"message"`
	IsError bool            `json:"is_error"`
	Result  string          `json:"result"`
	Turns   json.Number     `json:"num_turns"`
	Cost    float64         `json:"total_cost_usd"`
	Dur     json.Number     `json:"duration_ms"`
	Denials []string        `json:"permission_denials"`
}

type rawMessage struct {
	Content []rawBlock `json:"content"`
}

type rawBlock struct {
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Name    string         `json:"name"`
	Input   map[string]any `json:"input"`
	IsError bool            `json:"is_error"`
	Content json.RawMessage `json:"content"`
}

// Parse parses one line of agent stdout into at most one Event. It returns
// (nil, false) for blank lines, invalid JSON, and objects missing a string
// "type" field — all deliberate no-ops, not errors, since the stream may
// contain partial lines during rapid emission.
func Parse(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, false
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, false
	}
	typeRaw, ok := raw["type"]
	if !ok {
		return nil, false
	}
	var typ string
	if err := json.Unmarshal(typeRaw, &typ); err != nil {
		return nil, false
	}

	var env rawEnvelope
	_ = json.Unmarshal([]byte(trimmed), &env)
	env.Type = typ

	switch typ {
	case "system":
		model := env.Model
		if model == "" {
			model = "unknown"
		}
		return SystemInit{Model: model, SessionID: env.Session}, true
	case "assistant":
		return parseAssistantBlock(env.Message)
	case "result":
		return parseResult(env), true
	default:
		return Unknown{EventType: typ}, true
	}
}

func parseAssistantBlock(msg *rawMessage) (Event, bool) {
	if msg == nil {
		return nil, false
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			return AssistantText{Text: block.Text}, true
		case "tool_use":
			return ToolUse{ToolName: block.Name, Input: block.Input}, true
		case "tool_result":
			return ToolResult{IsError: block.IsError, Content: decodeToolResultContent(block.Content)}, true
		default:
			continue
		}
	}
	return nil, false
}

// decodeToolResultContent accepts either a bare JSON string or any other
// JSON value (object/array), in which case it's passed through verbatim as
// text so accumulation-time substring matching still works.
func decodeToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseResult(env rawEnvelope) Event {
	denials := env.Denials
	if denials == nil {
		denials = []string{}
	}

	var turns uint32
	if env.Turns != "" {
		if f, err := env.Turns.Float64(); err == nil {
			if f > math.MaxUint32 {
				turns = math.MaxUint32
			} else if f > 0 {
				turns = uint32(f)
			}
		}
	}

	var durMs uint64
	if env.Dur != "" {
		if f, err := env.Dur.Float64(); err == nil && f > 0 {
			durMs = uint64(f)
		}
	}

	return Result{
		IsError:           env.IsError,
		ResultText:        env.Result,
		NumTurns:          turns,
		TotalCostUSD:      env.Cost,
		DurationMs:        durMs,
		PermissionDenials: denials,
	}
}
