package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
)

func sampleTrace(t *testing.T, sessionID string) *schemas.ActionTrace {
	t.Helper()
	trace := schemas.NewActionTrace("trace_abc123", sessionID)
	trace.NextEvent("s1", schemas.StatusSuccess, 20*time.Millisecond, nil)
	trace.NextEvent("s2", schemas.StatusRetry, 35*time.Millisecond, assert.AnError)
	trace.NextEvent("s2", schemas.StatusSuccess, 30*time.Millisecond, nil)
	trace.MarkComplete()
	return trace
}

func TestRecorder_SaveAndLoadTrace(t *testing.T) {
	root := t.TempDir()
	rec, err := NewRecorder(root, "hawk-20260826-aaaaaa", nil, zap.NewNop())
	require.NoError(t, err)
	defer rec.Close()

	trace := sampleTrace(t, "hawk-20260826-aaaaaa")
	path, err := rec.SaveTrace(trace)
	require.NoError(t, err)
	assert.Contains(t, path, filepath.Join(root, "hawk-20260826-aaaaaa"))
	assert.Contains(t, filepath.Base(path), "trace_trace_abc123_")

	loaded, err := LoadTrace(path)
	require.NoError(t, err)
	assert.Equal(t, trace.TraceID, loaded.TraceID)
	assert.Equal(t, trace.SessionID, loaded.SessionID)
	require.Len(t, loaded.Events, 3)
	assert.Equal(t, schemas.StatusRetry, loaded.Events[1].Status)
	require.NotNil(t, loaded.CompletedAt)
}

func TestRecorder_TraceIsWriteOnce(t *testing.T) {
	root := t.TempDir()
	rec, err := NewRecorder(root, "hawk-20260826-bbbbbb", nil, zap.NewNop())
	require.NoError(t, err)
	defer rec.Close()

	trace := sampleTrace(t, "hawk-20260826-bbbbbb")
	path, err := rec.SaveTrace(trace)
	require.NoError(t, err)

	// Recreating the exact file must fail, completed traces are immutable.
	_, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestRecorder_EventStream(t *testing.T) {
	root := t.TempDir()
	rec, err := NewRecorder(root, "hawk-20260826-cccccc", nil, zap.NewNop())
	require.NoError(t, err)

	trace := schemas.NewActionTrace("trace_xyz", "hawk-20260826-cccccc")
	for i := 0; i < 5; i++ {
		rec.LogEvent(trace.NextEvent("s1", schemas.StatusSuccess, time.Millisecond, nil))
	}
	require.NoError(t, rec.Close())

	f, err := os.Open(filepath.Join(root, "hawk-20260826-cccccc", "events.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev schemas.ActionEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines++
		assert.Equal(t, int64(lines), ev.EventID)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 5, lines)

	// Logging after close is swallowed, not a panic.
	rec.LogEvent(trace.NextEvent("s2", schemas.StatusFailure, time.Millisecond, assert.AnError))
	require.NoError(t, rec.Close())
}

func TestRecorder_SaveScreenshot(t *testing.T) {
	root := t.TempDir()
	rec, err := NewRecorder(root, "hawk-20260826-dddddd", nil, zap.NewNop())
	require.NoError(t, err)
	defer rec.Close()

	shot := &schemas.ScreenshotPayload{
		SessionID: "hawk-20260826-dddddd",
		Timestamp: time.Now().UTC(),
		Frame:     []byte{0x89, 0x50, 0x4e, 0x47},
	}
	path, err := rec.SaveScreenshot("s3", shot)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, shot.Frame, data)
	assert.Contains(t, filepath.Base(path), "screenshot_s3_")
}

func TestListTraces(t *testing.T) {
	root := t.TempDir()

	for _, sessionID := range []string{"hawk-20260826-e00001", "hawk-20260826-e00002"} {
		rec, err := NewRecorder(root, sessionID, nil, zap.NewNop())
		require.NoError(t, err)
		trace := schemas.NewActionTrace("trace_"+sessionID, sessionID)
		trace.MarkComplete()
		_, err = rec.SaveTrace(trace)
		require.NoError(t, err)
		require.NoError(t, rec.Close())
	}

	// A corrupt file in one session directory must not hide valid traces.
	corrupt := filepath.Join(root, "hawk-20260826-e00001", "trace_bogus_20260826_000000.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{truncated"), 0o644))

	traces, err := ListTraces(root)
	require.NoError(t, err)
	assert.Len(t, traces, 2)
}

func TestIndex(t *testing.T) {
	root := t.TempDir()
	index, err := OpenIndex(root)
	require.NoError(t, err)
	defer index.Close()

	t1 := sampleTrace(t, "hawk-20260826-f00001")
	require.NoError(t, index.Insert(t1, filepath.Join(root, "a.json")))

	t2 := schemas.NewActionTrace("trace_other", "hawk-20260826-f00002")
	t2.NextEvent("s1", schemas.StatusFailure, time.Millisecond, assert.AnError)
	require.NoError(t, index.Insert(t2, filepath.Join(root, "b.json")))

	t.Run("lists all sessions", func(t *testing.T) {
		entries, err := index.List("")
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("filters by session", func(t *testing.T) {
		entries, err := index.List("hawk-20260826-f00002")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "trace_other", entries[0].TraceID)
		assert.Equal(t, 1, entries[0].Failures)
		assert.Nil(t, entries[0].CompletedAt)
	})

	t.Run("reinsert replaces the row", func(t *testing.T) {
		t2.NextEvent("s1", schemas.StatusSuccess, time.Millisecond, nil)
		t2.MarkComplete()
		require.NoError(t, index.Insert(t2, filepath.Join(root, "b.json")))

		entries, err := index.List("hawk-20260826-f00002")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 2, entries[0].EventCount)
		require.NotNil(t, entries[0].CompletedAt)
	})
}

func TestRecorder_WithIndex(t *testing.T) {
	root := t.TempDir()
	index, err := OpenIndex(root)
	require.NoError(t, err)
	defer index.Close()

	rec, err := NewRecorder(root, "hawk-20260826-g00001", index, zap.NewNop())
	require.NoError(t, err)
	defer rec.Close()

	path, err := rec.SaveTrace(sampleTrace(t, "hawk-20260826-g00001"))
	require.NoError(t, err)

	entries, err := index.List("hawk-20260826-g00001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, path, entries[0].Path)
	assert.Equal(t, 3, entries[0].EventCount)
}
