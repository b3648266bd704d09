// Package entry renders hook events as human-readable log blocks.
package entry

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"agent-logger/internal/hook"
)

// TimestampLayout is millisecond precision with the numeric UTC offset.
const TimestampLayout = "2006-01-02 15:04:05.000-0700"

var (
	headerRule  = strings.Repeat("=", 80)
	sectionRule = strings.Repeat("-", 40)
)

// Options controls what Format emits.
type Options struct {
	// Timestamp is the invocation time; its location supplies the offset.
	Timestamp time.Time
	// SubAgentTool is the tool name treated as a sub-agent call.
	SubAgentTool string
	// Verbose appends the raw event.
	Verbose bool
}

// Format builds the text block for ev. It never fails: absent fields are
// omitted.
func Format(ev *hook.Event, opts Options) string {
	subAgentTool := opts.SubAgentTool
	if subAgentTool == "" {
		subAgentTool = hook.SubAgentTool
	}

	lines := []string{
		headerRule,
		"TIMESTAMP: " + opts.Timestamp.Format(TimestampLayout),
		"HOOK_TYPE: " + ev.HookName,
		"SESSION_ID: " + ev.SessionID,
	}

	if ev.HasCWD {
		lines = append(lines, "WORKING_DIR: "+ev.CWD)
	}

	if ev.HasToolName {
		lines = append(lines, "TOOL: "+ev.ToolName)

		if ev.ToolName == subAgentTool && ev.HasToolInput() {
			if ti, ok := ev.Task(subAgentTool); ok {
				lines = append(lines,
					"SUB_AGENT: "+ti.AgentType(),
					"TASK_DESC: "+ti.Description,
				)
				lines = section(lines, "AGENT_PROMPT:", ti.Prompt)
			}
		} else if ev.HasToolInput() {
			lines = section(lines, "TOOL_INPUT:", prettyJSON(ev.ToolInput))
		}
	}

	if ev.HasToolOutput {
		lines = section(lines, "TOOL_OUTPUT:", ev.ToolOutput)
	}
	if ev.HasError {
		lines = section(lines, "ERROR:", ev.Error)
	}
	if opts.Verbose {
		lines = section(lines, "RAW_INPUT:", prettyJSON(ev.Raw))
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func section(lines []string, title, body string) []string {
	return append(lines, title, sectionRule, body, sectionRule)
}

// prettyJSON indents v by two spaces. Input that cannot be re-indented is
// returned as-is.
func prettyJSON(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, v, "", "  "); err != nil {
		return string(v)
	}
	return buf.String()
}
