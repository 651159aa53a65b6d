package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceRecord is one line of traces/trace-YYYY-MM-DD.jsonl — the
// per-run record §6.3 calls for in place of the teacher's span/OTLP
// pipeline. DotClaw only ever runs one agent invocation per record, so
// a flat line replaces loop_tracing.go's nested span tree.
type TraceRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	ChatID            string    `json:"chatId"`
	GroupFolder       string    `json:"groupFolder"`
	Model             string    `json:"model"`
	LatencyMs         int64     `json:"latencyMs"`
	TokensPrompt      int       `json:"tokensPrompt,omitempty"`
	TokensCompletion  int       `json:"tokensCompletion,omitempty"`
	ToolCalls         int       `json:"toolCalls,omitempty"`
	MemoryRecallCount int       `json:"memoryRecallCount,omitempty"`
	ErrorCode         string    `json:"errorCode,omitempty"`
	ErrorCategory     string    `json:"errorCategory,omitempty"`
}

// Tracer appends TraceRecords to a daily-rotating JSONL file under
// dir, opening a new file the first time a record falls on a new day.
type Tracer struct {
	dir string

	mu      sync.Mutex
	day     string
	file    *os.File
	encoder *json.Encoder
}

// NewTracer builds a Tracer writing under dir (normally Paths.TracesDir()).
func NewTracer(dir string) *Tracer {
	return &Tracer{dir: dir}
}

// Write appends rec to today's trace file, rotating if the day has
// turned over since the last write. rec.Timestamp is set to now if zero.
func (t *Tracer) Write(rec TraceRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	day := rec.Timestamp.Format("2006-01-02")

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil || t.day != day {
		if t.file != nil {
			t.file.Close()
		}
		if err := os.MkdirAll(t.dir, 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(t.dir, "trace-"+day+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		t.file = f
		t.day = day
		t.encoder = json.NewEncoder(f)
	}

	return t.encoder.Encode(rec)
}

// Close releases the currently open trace file, if any.
func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
