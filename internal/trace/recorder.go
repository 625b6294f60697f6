// Package trace persists session execution records: the final ActionTrace
// document, a near-real-time event stream, captured screenshots and a local
// query index. Traces are write-once; nothing in this package ever rewrites a
// completed trace file.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
)

const timestampLayout = "20060102_150405"

// Recorder writes one session's artifacts under <dir>/<session_id>/.
type Recorder struct {
	root      string
	sessionID string
	log       *zap.Logger
	index     *Index

	mu     sync.Mutex
	stream *os.File
}

// NewRecorder prepares the session directory and opens the event stream.
// index may be nil when indexing is disabled.
func NewRecorder(root, sessionID string, index *Index, logger *zap.Logger) (*Recorder, error) {
	dir := filepath.Join(root, sessionID)
	if err := os.MkdirAll(filepath.Join(dir, "screenshots"), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}

	stream, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	return &Recorder{
		root:      root,
		sessionID: sessionID,
		index:     index,
		log:       logger.Named("trace"),
		stream:    stream,
	}, nil
}

// Dir returns the session's artifact directory.
func (r *Recorder) Dir() string {
	return filepath.Join(r.root, r.sessionID)
}

// LogEvent appends one event to events.jsonl. Stream failures are logged and
// swallowed: losing a stream line must never abort the session, the full
// trace document is still saved at close.
func (r *Recorder) LogEvent(ev schemas.ActionEvent) {
	line, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("Failed to encode event", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return
	}
	if _, err := r.stream.Write(append(line, '\n')); err != nil {
		r.log.Error("Failed to append event", zap.Error(err))
	}
}

// SaveTrace writes the complete trace document. The file is created
// exclusively; a second save of the same trace id in the same second fails
// rather than overwriting.
func (r *Recorder) SaveTrace(trace *schemas.ActionTrace) (string, error) {
	name := fmt.Sprintf("trace_%s_%s.json", trace.TraceID, time.Now().UTC().Format(timestampLayout))
	path := filepath.Join(r.Dir(), name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create trace file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(trace); err != nil {
		return "", fmt.Errorf("encode trace: %w", err)
	}

	if r.index != nil {
		if err := r.index.Insert(trace, path); err != nil {
			r.log.Warn("Failed to index trace", zap.Error(err))
		}
	}

	r.log.Info("Trace saved",
		zap.String("trace_id", trace.TraceID),
		zap.Int("events", len(trace.Events)),
		zap.String("path", path),
	)
	return path, nil
}

// SaveScreenshot stores a captured frame tied to a step.
func (r *Recorder) SaveScreenshot(stepID string, shot *schemas.ScreenshotPayload) (string, error) {
	name := fmt.Sprintf("screenshot_%s_%s.png", stepID, shot.Timestamp.UTC().Format(timestampLayout))
	path := filepath.Join(r.Dir(), "screenshots", name)
	if err := os.WriteFile(path, shot.Frame, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// Close flushes and closes the event stream. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return nil
	}
	err := r.stream.Close()
	r.stream = nil
	return err
}

// LoadTrace reads one trace document from disk.
func LoadTrace(path string) (*schemas.ActionTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	var trace schemas.ActionTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", path, err)
	}
	return &trace, nil
}

// ListTraces walks the trace root and returns every trace document found,
// newest first within each session.
func ListTraces(root string) ([]*schemas.ActionTrace, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*", "trace_*.json"))
	if err != nil {
		return nil, err
	}

	traces := make([]*schemas.ActionTrace, 0, len(matches))
	for _, path := range matches {
		trace, err := LoadTrace(path)
		if err != nil {
			// A corrupt file should not hide the rest.
			continue
		}
		traces = append(traces, trace)
	}
	return traces, nil
}
