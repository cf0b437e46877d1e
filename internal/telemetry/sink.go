package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/logging"
	"github.com/fyrsmithlabs/storyguard/internal/postprocess"
)

const (
	metricsFile   = "metrics.jsonl"
	incidentsFile = "incidents.jsonl"
	auditFile     = "audit.jsonl"
	statusFile    = "status.json"
)

// Incident is one integrity or breaker event in the incident log.
// FailureClass separates transient infrastructure failures from content
// failures; UnitsBefore/UnitsAfter are the unit counts around the stage
// that raised it.
type Incident struct {
	Time         time.Time          `json:"time"`
	RunID        string             `json:"run_id"`
	Stage        string             `json:"stage"`
	Kind         string             `json:"kind"`
	Severity     string             `json:"severity"`
	FailureClass string             `json:"failure_class"`
	Message      string             `json:"message"`
	UnitsBefore  int                `json:"units_before"`
	UnitsAfter   int                `json:"units_after"`
	Measure      map[string]float64 `json:"measure,omitempty"`
}

// Incident severities and failure classes.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeverityFatal   = "fatal"

	ClassTransient = "transient"
	ClassContent   = "content"
)

// Status is the point-in-time run-status record, rewritten after each
// stage.
type Status struct {
	RunID     string          `json:"run_id"`
	Stage     string          `json:"stage"`
	Stages    []StageStatus   `json:"stages"`
	Budget    json.RawMessage `json:"budget,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StageStatus is one entry in the status record's stage list.
type StageStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Sink owns the artifact directory: append-only metrics, incident, and
// audit logs plus the atomically replaced status file.
type Sink struct {
	dir    string
	logger *logging.Logger

	mu sync.Mutex
}

// NewSink creates the artifact directory if needed.
func NewSink(dir string, logger *logging.Logger) (*Sink, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Sink{dir: dir, logger: logger}, nil
}

// Dir returns the artifact directory path.
func (s *Sink) Dir() string { return s.dir }

// AppendRun appends one run record to the metrics log.
func (s *Sink) AppendRun(rec RunRecord) error {
	return s.appendJSON(metricsFile, rec)
}

// AppendIncident appends one incident to the incident log.
func (s *Sink) AppendIncident(inc Incident) error {
	return s.appendJSON(incidentsFile, inc)
}

// WriteStatus atomically replaces the status file via temp-file rename,
// so operator tooling never reads a torn record.
func (s *Sink) WriteStatus(st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, statusFile+".*")
	if err != nil {
		return fmt.Errorf("create temp status: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp status: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, statusFile))
}

// PreviousRun returns the last persisted run record, if any.
func (s *Sink) PreviousRun() (RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, metricsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	defer f.Close()

	var lastLine []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			lastLine = append(lastLine[:0], scanner.Bytes()...)
		}
	}
	if err := scanner.Err(); err != nil {
		return RunRecord{}, false, err
	}
	if len(lastLine) == 0 {
		return RunRecord{}, false, nil
	}

	var rec RunRecord
	if err := json.Unmarshal(lastLine, &rec); err != nil {
		return RunRecord{}, false, fmt.Errorf("parse previous run record: %w", err)
	}
	return rec, true, nil
}

// Auditor returns a postprocess auditor that appends JSON lines to the
// audit trail. Write failures are logged, never propagated: an audit miss
// must not fail a repair pass.
func (s *Sink) Auditor() postprocess.Auditor {
	return &fileAuditor{sink: s}
}

type fileAuditor struct {
	sink *Sink
}

func (a *fileAuditor) Record(entry postprocess.AuditEntry) {
	if err := a.sink.appendJSON(auditFile, entry); err != nil {
		a.sink.logger.Warn(context.Background(), "audit trail write failed", zap.Error(err))
	}
}

func (s *Sink) appendJSON(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", name, err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", name, err)
	}
	return nil
}
