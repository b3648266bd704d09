package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 19, 10, 0, 0, 0, time.Local)

func TestMetadataFile_CreatesDocument(t *testing.T) {
	mf := NewMetadataFile(t.TempDir())

	require.NoError(t, mf.Update("s1", t0, Updates{
		KeyHooksTriggered: "PreToolUse",
		KeyLastActivity:   t0.Format(TimestampLayout),
	}))

	md, err := mf.Load()
	require.NoError(t, err)
	assert.Equal(t, "s1", md.SessionID)
	assert.Equal(t, "2026-10-19T10:00:00.000000", md.CreatedAt)
	assert.Equal(t, []string{"PreToolUse"}, md.HooksTriggered)
	assert.Empty(t, md.AgentsUsed)
	assert.Empty(t, md.ToolsCalled)
	assert.Equal(t, "2026-10-19T10:00:00.000000", md.LastActivity)
}

func TestMetadataFile_SetsAreIdempotent(t *testing.T) {
	mf := NewMetadataFile(t.TempDir())

	for i := 0; i < 3; i++ {
		require.NoError(t, mf.Update("s1", t0, Updates{
			KeyHooksTriggered: "PreToolUse",
			KeyToolsCalled:    "Bash",
		}))
	}
	require.NoError(t, mf.Update("s1", t0, Updates{KeyHooksTriggered: "PostToolUse"}))

	md, err := mf.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"PreToolUse", "PostToolUse"}, md.HooksTriggered)
	assert.Equal(t, []string{"Bash"}, md.ToolsCalled)
}

func TestMetadataFile_LastActivityOverwritten(t *testing.T) {
	mf := NewMetadataFile(t.TempDir())
	later := t0.Add(time.Minute)

	require.NoError(t, mf.Update("s1", t0, Updates{KeyLastActivity: t0.Format(TimestampLayout)}))
	require.NoError(t, mf.Update("s1", later, Updates{KeyLastActivity: later.Format(TimestampLayout)}))

	md, err := mf.Load()
	require.NoError(t, err)
	assert.Equal(t, later.Format(TimestampLayout), md.LastActivity)
	assert.Equal(t, t0.Format(TimestampLayout), md.CreatedAt, "created_at is not rewritten")
}

func TestMetadataFile_CorruptDocumentStartsFresh(t *testing.T) {
	mf := NewMetadataFile(t.TempDir())
	require.NoError(t, os.WriteFile(mf.Path(), []byte("{not json"), 0644))

	require.NoError(t, mf.Update("s1", t0, Updates{KeyAgentsUsed: "reviewer"}))

	md, err := mf.Load()
	require.NoError(t, err)
	assert.Equal(t, "s1", md.SessionID)
	assert.Equal(t, []string{"reviewer"}, md.AgentsUsed)
}

func TestMetadataFile_PreservesUnknownKeys(t *testing.T) {
	mf := NewMetadataFile(t.TempDir())
	require.NoError(t, os.WriteFile(mf.Path(), []byte(`{"session_id":"s1","created_at":"x","note":"keep me"}`), 0644))

	require.NoError(t, mf.Update("s1", t0, Updates{KeyToolsCalled: "Read"}))

	data, err := os.ReadFile(mf.Path())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "keep me", doc["note"])
	assert.Equal(t, []any{"Read"}, doc[KeyToolsCalled])
}

func TestMetadataFile_ShrinkingRewriteLeavesNoTail(t *testing.T) {
	mf := NewMetadataFile(t.TempDir())
	require.NoError(t, os.WriteFile(mf.Path(), []byte(`{"session_id":"s1","created_at":"x","big":"`+strings.Repeat("a", 200)+`"}`), 0644))

	require.NoError(t, mf.Update("s1", t0, Updates{"big": ""}))

	_, err := mf.Load()
	require.NoError(t, err, "document must stay valid JSON after a shorter rewrite")
}

func TestMetadataFile_ConcurrentUpdatesAreSerialized(t *testing.T) {
	mf := NewMetadataFile(t.TempDir())

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			NewMetadataFile(filepath.Dir(mf.Path())).Update("s1", t0, Updates{KeyToolsCalled: fmt.Sprintf("tool-%d", i)})
		}(i)
	}
	wg.Wait()

	md, err := mf.Load()
	require.NoError(t, err)
	assert.Len(t, md.ToolsCalled, writers)
}

func TestMerge(t *testing.T) {
	doc := map[string]any{
		KeyHooksTriggered: "corrupt, not a list",
		"custom":          1.0,
	}

	Merge(doc, Updates{
		KeyHooksTriggered: "Stop",
		"custom":          "replaced",
		KeyAgentsUsed:     "planner",
	})

	assert.Equal(t, []any{"Stop"}, doc[KeyHooksTriggered])
	assert.Equal(t, "replaced", doc["custom"])
	assert.Equal(t, []any{"planner"}, doc[KeyAgentsUsed])
}
