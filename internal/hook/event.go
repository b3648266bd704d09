// Package hook decodes the JSON event a hook runner writes to stdin.
package hook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

const (
	// DefaultHookName is used when hook_event_name is missing.
	DefaultHookName = "unknown"

	// DefaultAgentType is used when a sub-agent call carries no subagent_type.
	DefaultAgentType = "unknown"

	// SubAgentTool is the tool name the orchestrator uses for sub-agent calls.
	SubAgentTool = "Task"

	generatedSessionPrefix = "session_"
)

// Event is a single decoded hook invocation.
type Event struct {
	SessionID string
	HookName  string

	CWD    string
	HasCWD bool

	ToolName    string
	HasToolName bool

	// ToolInput is kept opaque; it is only re-emitted.
	ToolInput json.RawMessage

	ToolOutput    string
	HasToolOutput bool

	Error    string
	HasError bool

	// Raw is the complete input object, used for verbose dumps.
	Raw json.RawMessage
}

// TaskInput is the tool_input shape of a sub-agent invocation. Fields that
// are not strings are kept in their compact JSON form.
type TaskInput struct {
	SubagentType *string
	Description  string
	Prompt       string
}

// AgentType returns the sub-agent type, or DefaultAgentType when unset.
func (ti TaskInput) AgentType() string {
	if ti.SubagentType == nil {
		return DefaultAgentType
	}
	return *ti.SubagentType
}

// DecodeError reports absent, truncated or malformed input.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid JSON input: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode reads all of r and parses it as one JSON object. now is used to
// generate a session id when the input carries none.
func Decode(r io.Reader, now time.Time) (*Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("read input: %w", err)}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &DecodeError{Err: io.ErrUnexpectedEOF}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if fields == nil {
		return nil, &DecodeError{Err: fmt.Errorf("expected a JSON object, got null")}
	}

	ev := &Event{
		SessionID: generatedSessionPrefix + strconv.FormatInt(now.Unix(), 10),
		HookName:  DefaultHookName,
		Raw:       json.RawMessage(data),
	}

	if s, ok := stringField(fields, "session_id"); ok && s != "" {
		ev.SessionID = s
	}
	if s, ok := stringField(fields, "hook_event_name"); ok {
		ev.HookName = s
	}
	if v, ok := fields["cwd"]; ok {
		ev.CWD, ev.HasCWD = Display(v), true
	}
	if v, ok := fields["tool_name"]; ok {
		ev.ToolName, ev.HasToolName = Display(v), true
	}
	if v, ok := fields["tool_input"]; ok {
		ev.ToolInput = v
	}
	if v, ok := fields["tool_output"]; ok {
		ev.ToolOutput, ev.HasToolOutput = Display(v), true
	}
	if v, ok := fields["error"]; ok {
		ev.Error, ev.HasError = Display(v), true
	}

	return ev, nil
}

// Task returns the decoded sub-agent input when ev is a call to subAgentTool
// whose tool_input is a JSON object.
func (ev *Event) Task(subAgentTool string) (TaskInput, bool) {
	var ti TaskInput
	if !ev.HasToolName || ev.ToolName != subAgentTool || !isObject(ev.ToolInput) {
		return ti, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ev.ToolInput, &fields); err != nil {
		return ti, true
	}
	if v, ok := fields["subagent_type"]; ok && !isNull(v) {
		s := Display(v)
		ti.SubagentType = &s
	}
	if v, ok := fields["description"]; ok && !isNull(v) {
		ti.Description = Display(v)
	}
	if v, ok := fields["prompt"]; ok && !isNull(v) {
		ti.Prompt = Display(v)
	}
	return ti, true
}

// HasToolInput reports whether tool_input was present in the event.
func (ev *Event) HasToolInput() bool {
	return len(ev.ToolInput) > 0
}

// Display renders a JSON value for humans: strings are unquoted, anything
// else keeps its compact JSON text.
func Display(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}
