package session

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"agent-logger/internal/filelock"
)

// MetadataFileName is the per-session metadata document.
const MetadataFileName = "metadata.json"

// TimestampLayout is the local-time format of created_at and last_activity.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Metadata keys.
const (
	KeySessionID      = "session_id"
	KeyCreatedAt      = "created_at"
	KeyHooksTriggered = "hooks_triggered"
	KeyAgentsUsed     = "agents_used"
	KeyToolsCalled    = "tools_called"
	KeyLastActivity   = "last_activity"
)

// setKeys hold ordered, duplicate-free lists; updates append to them.
var setKeys = map[string]bool{
	KeyHooksTriggered: true,
	KeyAgentsUsed:     true,
	KeyToolsCalled:    true,
}

// Metadata is the typed view of a metadata document.
type Metadata struct {
	SessionID      string   `json:"session_id"`
	CreatedAt      string   `json:"created_at"`
	HooksTriggered []string `json:"hooks_triggered"`
	AgentsUsed     []string `json:"agents_used"`
	ToolsCalled    []string `json:"tools_called"`
	LastActivity   string   `json:"last_activity,omitempty"`
}

// Updates maps metadata keys to new values. Values for set keys are added
// to the set; all other values replace what is stored.
type Updates map[string]any

// EncodeError reports a metadata document that could not be serialized.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode metadata: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// MetadataFile is the metadata document of one session directory.
type MetadataFile struct {
	path string
}

// NewMetadataFile returns the metadata document inside dir.
func NewMetadataFile(dir string) *MetadataFile {
	return &MetadataFile{path: filepath.Join(dir, MetadataFileName)}
}

// Path returns the document's location.
func (m *MetadataFile) Path() string {
	return m.path
}

// Update folds updates into the document under an exclusive lock. A missing
// or unparseable document is replaced by a fresh one for sessionID.
//
// The lock covers the whole read-merge-write cycle, so cooperating writers
// never lose each other's updates. Writers that skip the lock can.
func (m *MetadataFile) Update(sessionID string, now time.Time, updates Updates) error {
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()

	return filelock.With(f, func() error {
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}

		doc := parseDocument(data)
		if doc == nil {
			doc = NewDocument(sessionID, now)
		}
		Merge(doc, updates)

		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return &EncodeError{Err: err}
		}
		out = append(out, '\n')

		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("truncate metadata: %w", err)
		}
		if _, err := f.WriteAt(out, 0); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		return nil
	})
}

// Load reads the document without locking.
func (m *MetadataFile) Load() (*Metadata, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &md, nil
}

// NewDocument returns the initial document for a session.
func NewDocument(sessionID string, now time.Time) map[string]any {
	return map[string]any{
		KeySessionID:      sessionID,
		KeyCreatedAt:      now.Format(TimestampLayout),
		KeyHooksTriggered: []any{},
		KeyAgentsUsed:     []any{},
		KeyToolsCalled:    []any{},
	}
}

// Merge applies updates to doc in place.
func Merge(doc map[string]any, updates Updates) {
	for key, value := range updates {
		if !setKeys[key] {
			doc[key] = value
			continue
		}

		list, _ := doc[key].([]any)
		if list == nil {
			list = []any{}
		}
		if !containsValue(list, value) {
			list = append(list, value)
		}
		doc[key] = list
	}
}

func containsValue(list []any, value any) bool {
	for _, v := range list {
		if reflect.DeepEqual(v, value) {
			return true
		}
	}
	return false
}

func parseDocument(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}
