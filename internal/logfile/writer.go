// Package logfile appends text blocks to session log files with size-based
// rotation and flock-guarded writes.
package logfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"agent-logger/internal/filelock"
	"agent-logger/internal/hook"
	"agent-logger/internal/session"
)

const (
	// DefaultMaxSize is the rotation threshold for a single log file.
	DefaultMaxSize = 10 * 1024 * 1024

	MainLog   = "main.log"
	ErrorsLog = "errors.log"

	agentLogPrefix = "agent_"
	logExt         = ".log"

	// maxReopen bounds how often Append chases a file that other processes
	// keep rotating underneath it.
	maxReopen = 16
)

// IOError reports a filesystem failure on a log file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Writer appends blocks to log files, rotating any file that has grown past
// MaxSize before writing to it.
type Writer struct {
	MaxSize int64
	now     func() time.Time
}

// NewWriter creates a writer with the given threshold. A non-positive
// maxSize selects DefaultMaxSize.
func NewWriter(maxSize int64) *Writer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Writer{MaxSize: maxSize, now: time.Now}
}

// Target returns the log file name for ev: agent_<type>.log for sub-agent
// calls with an object input, main.log otherwise.
func Target(ev *hook.Event, subAgentTool string) string {
	if ti, ok := ev.Task(subAgentTool); ok {
		return agentLogPrefix + session.SafeName(ti.AgentType()) + logExt
	}
	return MainLog
}

// Append writes block and a trailing newline to path. The sequence is
// open, lock, write, unlock; rotation is decided while the lock is held.
func (w *Writer) Append(path, block string) error {
	data := []byte(block + "\n")

	for attempt := 0; attempt < maxReopen; attempt++ {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return &IOError{Op: "open", Path: path, Err: err}
		}

		written, err := w.appendLocked(f, path, data)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if written {
			if closeErr != nil {
				return &IOError{Op: "close", Path: path, Err: closeErr}
			}
			return nil
		}
	}
	return &IOError{Op: "append", Path: path, Err: errors.New("file kept rotating underneath writer")}
}

// appendLocked writes data to f under an exclusive lock. It returns false
// when f no longer names the active file and the caller must reopen.
func (w *Writer) appendLocked(f *os.File, path string, data []byte) (bool, error) {
	written := false
	err := filelock.With(f, func() error {
		info, err := f.Stat()
		if err != nil {
			return &IOError{Op: "stat", Path: path, Err: err}
		}

		current, err := os.Stat(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return &IOError{Op: "stat", Path: path, Err: err}
		}
		if current == nil || !os.SameFile(info, current) {
			// Rotated by another process between our open and lock.
			return nil
		}

		if info.Size() > w.MaxSize {
			if err := w.rotate(path); err != nil {
				return err
			}
			return nil
		}

		if _, err := f.Write(data); err != nil {
			return &IOError{Op: "write", Path: path, Err: err}
		}
		written = true
		return nil
	})
	if err != nil {
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			return false, err
		}
		return false, &IOError{Op: "lock", Path: path, Err: err}
	}
	return written, nil
}

// rotate renames path to <stem>.<unix>.log, adding a counter if that name is
// taken. Callers hold the lock on path.
func (w *Writer) rotate(path string) error {
	archive, err := w.archiveName(path)
	if err != nil {
		return err
	}
	if err := os.Rename(path, archive); err != nil {
		return &IOError{Op: "rotate", Path: path, Err: err}
	}
	return nil
}

func (w *Writer) archiveName(path string) (string, error) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	ts := strconv.FormatInt(w.now().Unix(), 10)

	name := stem + "." + ts + logExt
	for n := 1; ; n++ {
		_, err := os.Lstat(name)
		if errors.Is(err, os.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", &IOError{Op: "stat", Path: name, Err: err}
		}
		name = stem + "." + ts + "." + strconv.Itoa(n) + logExt
	}
}
