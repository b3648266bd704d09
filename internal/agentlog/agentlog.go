// Package agentlog records one hook event: it appends the formatted entry to
// the right session log and folds the event into the session metadata.
package agentlog

import (
	"fmt"
	"path/filepath"
	"time"

	"agent-logger/internal/config"
	"agent-logger/internal/entry"
	"agent-logger/internal/hook"
	"agent-logger/internal/logfile"
	"agent-logger/internal/session"
)

// Logger writes events for a single invocation. now is fixed for the whole
// invocation, so the entry, the metadata and any error record agree.
type Logger struct {
	cfg    config.Config
	store  *session.Store
	writer *logfile.Writer
	now    time.Time
}

// New creates a logger for an invocation that started at now.
func New(cfg config.Config, now time.Time) *Logger {
	return &Logger{
		cfg:    cfg,
		store:  session.NewStore(cfg.LogsRoot),
		writer: logfile.NewWriter(cfg.MaxLogSize),
		now:    now,
	}
}

// Log records ev. It returns the session directory, which is empty if it
// could not be resolved, alongside any error.
func (l *Logger) Log(ev *hook.Event) (string, error) {
	dir, err := l.store.Dir(ev.SessionID, l.now)
	if err != nil {
		return "", err
	}

	block := entry.Format(ev, entry.Options{
		Timestamp:    l.now,
		SubAgentTool: l.cfg.SubAgentTool,
		Verbose:      l.cfg.Verbose,
	})

	target := filepath.Join(dir, logfile.Target(ev, l.cfg.SubAgentTool))
	if err := l.writer.Append(target, block); err != nil {
		return dir, fmt.Errorf("append entry: %w", err)
	}

	md := session.NewMetadataFile(dir)
	if err := md.Update(ev.SessionID, l.now, l.updates(ev)); err != nil {
		return dir, fmt.Errorf("update metadata: %w", err)
	}
	return dir, nil
}

func (l *Logger) updates(ev *hook.Event) session.Updates {
	u := session.Updates{
		session.KeyHooksTriggered: ev.HookName,
		session.KeyLastActivity:   l.now.Format(session.TimestampLayout),
	}
	if ev.HasToolName {
		u[session.KeyToolsCalled] = ev.ToolName
	}
	if ti, ok := ev.Task(l.cfg.SubAgentTool); ok {
		u[session.KeyAgentsUsed] = ti.AgentType()
	}
	return u
}

// RecordFailure appends a failure line to errors.log in dir, under the same
// locking as every other log file.
func (l *Logger) RecordFailure(dir, hookName string, cause error) error {
	if dir == "" {
		return fmt.Errorf("record failure: no session directory")
	}
	line := fmt.Sprintf("%s - %s", l.now.Format(session.TimestampLayout), FailureMessage(hookName, cause))
	return l.writer.Append(filepath.Join(dir, logfile.ErrorsLog), line)
}

// FailureMessage is the diagnostic printed for a failed event.
func FailureMessage(hookName string, cause error) string {
	return fmt.Sprintf("Agent logger error in %s: %v", hookName, cause)
}
