package telemetry

import (
	"sync"
	"time"

	"github.com/fyrsmithlabs/storyguard/internal/budget"
	"github.com/fyrsmithlabs/storyguard/internal/critic"
)

// StageMetrics accumulates counters for one stage.
type StageMetrics struct {
	Units    int            `json:"units"`
	Retries  int            `json:"retries"`
	Defects  map[string]int `json:"defects,omitempty"`
	Salvages int            `json:"salvages,omitempty"`
	Rolled   bool           `json:"rolled_back,omitempty"`
}

// ArtifactMetrics is the append-only per-run accumulator behind the
// metrics record. Safe for concurrent use by stage workers.
type ArtifactMetrics struct {
	mu       sync.Mutex
	runID    string
	started  time.Time
	stages   map[string]*StageMetrics
	ordering []string
}

// NewArtifactMetrics starts an accumulator for a run.
func NewArtifactMetrics(runID string) *ArtifactMetrics {
	return &ArtifactMetrics{
		runID:   runID,
		started: time.Now(),
		stages:  make(map[string]*StageMetrics),
	}
}

func (m *ArtifactMetrics) stage(name string) *StageMetrics {
	s, ok := m.stages[name]
	if !ok {
		s = &StageMetrics{Defects: make(map[string]int)}
		m.stages[name] = s
		m.ordering = append(m.ordering, name)
	}
	return s
}

// RecordUnit notes one accepted unit and its defects for a stage.
func (m *ArtifactMetrics) RecordUnit(stage string, retried bool, defects []critic.DefectKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stage(stage)
	s.Units++
	if retried {
		s.Retries++
		RetriesSpent.Inc()
	}
	for _, d := range defects {
		s.Defects[string(d)]++
		DefectsDetected.WithLabelValues(string(d)).Inc()
	}
	UnitsGenerated.Inc()
}

// RecordSalvage notes a cleanup salvage restoration.
func (m *ArtifactMetrics) RecordSalvage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stage(stage).Salvages++
}

// RecordRollback marks a stage as rolled back.
func (m *ArtifactMetrics) RecordRollback(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stage(stage).Rolled = true
	Rollbacks.Inc()
}

// RunRecord is one JSON line in the metrics log, the unit of cross-run
// drift comparison.
type RunRecord struct {
	RunID      string                   `json:"run_id"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Stages     map[string]*StageMetrics `json:"stages"`
	Budget     budget.Snapshot          `json:"budget"`
	Halted     bool                     `json:"halted,omitempty"`
	HaltReason string                   `json:"halt_reason,omitempty"`
}

// Finalize produces the run record for persistence.
func (m *ArtifactMetrics) Finalize(b budget.Snapshot, halted bool, haltReason string) RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	DefenseTokenRatio.Set(b.DefenseRatio)

	stages := make(map[string]*StageMetrics, len(m.stages))
	for name, s := range m.stages {
		cp := *s
		cp.Defects = make(map[string]int, len(s.Defects))
		for k, v := range s.Defects {
			cp.Defects[k] = v
		}
		stages[name] = &cp
	}
	return RunRecord{
		RunID:      m.runID,
		StartedAt:  m.started,
		FinishedAt: time.Now(),
		Stages:     stages,
		Budget:     b,
		Halted:     halted,
		HaltReason: haltReason,
	}
}

// DefectRates aggregates defects per unit across all stages, for drift
// comparison.
func (r RunRecord) DefectRates() map[string]float64 {
	units := 0
	totals := make(map[string]int)
	for _, s := range r.Stages {
		units += s.Units
		for k, v := range s.Defects {
			totals[k] += v
		}
	}
	rates := make(map[string]float64, len(totals))
	if units == 0 {
		return rates
	}
	for k, v := range totals {
		rates[k] = float64(v) / float64(units)
	}
	return rates
}
