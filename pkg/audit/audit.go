// Package audit records workflow decisions and security rejections.
//
// Operation records go to operations.jsonl and security events to
// security.log, both line-delimited JSON. Security events never carry the
// rejected text, only its length and the field it was entered in.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/logger"
)

const (
	// OperationsFile is the name of the operation log inside the log directory.
	OperationsFile = "operations.jsonl"
	// SecurityFile is the name of the security log inside the log directory.
	SecurityFile = "security.log"
)

// Record is one line of the operation log.
type Record struct {
	Timestamp    time.Time      `json:"timestamp"`
	Operation    string         `json:"operation"`
	ArtifactName string         `json:"artifact_name"`
	Decision     string         `json:"decision"`
	Metadata     map[string]any `json:"metadata"`
}

// SecurityEvent is one line of the security log.
type SecurityEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	Field           string    `json:"field"`
	InputLength     int       `json:"input_length"`
	PatternDetected bool      `json:"pattern_detected"`
}

// Sink is an append-only recorder.
type Sink interface {
	LogOperation(ctx context.Context, rec Record) error
	LogSecurityEvent(ctx context.Context, ev SecurityEvent) error
}

// NewRecord builds a record stamped with the current UTC time.
func NewRecord(operation, artifact, decision string, metadata map[string]any) Record {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Record{
		Timestamp:    time.Now().UTC(),
		Operation:    operation,
		ArtifactName: artifact,
		Decision:     decision,
		Metadata:     metadata,
	}
}

// Log writes rec to sink. A failing sink never fails the workflow; the error
// is logged and dropped.
func Log(ctx context.Context, sink Sink, rec Record) {
	if sink == nil {
		return
	}
	if err := sink.LogOperation(ctx, rec); err != nil {
		logger.G(ctx).WithError(err).
			WithField("operation", rec.Operation).
			Warn("failed to write audit record")
	}
}

// LogSecurity writes ev to sink with the same error policy as Log.
func LogSecurity(ctx context.Context, sink Sink, ev SecurityEvent) {
	if sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := sink.LogSecurityEvent(ctx, ev); err != nil {
		logger.G(ctx).WithError(err).
			WithField("field", ev.Field).
			Warn("failed to write security event")
	}
}

// FileSink appends JSON lines to files in a log directory.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink creates the log directory if needed and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create audit log directory %s", dir)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the log directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// LogOperation appends rec to operations.jsonl.
func (s *FileSink) LogOperation(_ context.Context, rec Record) error {
	return s.appendLine(OperationsFile, rec)
}

// LogSecurityEvent appends ev to security.log.
func (s *FileSink) LogSecurityEvent(_ context.Context, ev SecurityEvent) error {
	return s.appendLine(SecurityFile, ev)
}

func (s *FileSink) appendLine(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode audit entry")
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", name)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "failed to append to %s", name)
	}
	return nil
}

// MemorySink keeps records in memory. It is used by tests and by dry runs.
type MemorySink struct {
	mu         sync.Mutex
	operations []Record
	security   []SecurityEvent
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) LogOperation(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, rec)
	return nil
}

func (m *MemorySink) LogSecurityEvent(_ context.Context, ev SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.security = append(m.security, ev)
	return nil
}

// Operations returns a copy of the recorded operations.
func (m *MemorySink) Operations() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.operations...)
}

// SecurityEvents returns a copy of the recorded security events.
func (m *MemorySink) SecurityEvents() []SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SecurityEvent(nil), m.security...)
}

// Decisions returns the decision of every recorded operation, in order.
func (m *MemorySink) Decisions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	decisions := make([]string, 0, len(m.operations))
	for _, rec := range m.operations {
		decisions = append(decisions, rec.Decision)
	}
	return decisions
}
