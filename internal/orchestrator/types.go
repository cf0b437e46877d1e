// Package orchestrator runs pipeline stages sequentially over the run
// state, snapshotting before every mutating stage, enforcing aggregate
// integrity invariants after it, and halting the run through a
// consecutive-failure circuit breaker.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/storyguard/internal/budget"
	"github.com/fyrsmithlabs/storyguard/internal/critic"
	"github.com/fyrsmithlabs/storyguard/internal/logging"
	"github.com/fyrsmithlabs/storyguard/internal/postprocess"
	"github.com/fyrsmithlabs/storyguard/internal/run"
	"github.com/fyrsmithlabs/storyguard/internal/telemetry"
)

// Mode selects how the integrity checker responds to violations.
type Mode string

const (
	// ModeObserve logs violations without restoring snapshots.
	ModeObserve Mode = "observe"
	// ModeProtect restores the pre-stage snapshot on any violation.
	ModeProtect Mode = "protect"
	// ModeAggressive restores like protect with thresholds tightened by
	// a fixed multiplier, trading false positives for earlier detection.
	ModeAggressive Mode = "aggressive"
)

// aggressiveTighten scales every threshold under ModeAggressive.
const aggressiveTighten = 0.75

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeObserve, ModeProtect, ModeAggressive:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown defense mode %q", s)
}

// Deps carries the shared components stages draw on.
type Deps struct {
	Gate     *critic.Gate
	Pipeline *postprocess.Pipeline
	Budget   *budget.Tracker
	Metrics  *telemetry.ArtifactMetrics
	Sink     *telemetry.Sink
	Logger   *logging.Logger

	// MaxParallel bounds unit fan-out inside a stage. Zero means
	// sequential.
	MaxParallel int
}

// Stage is one sequential step of a run. Mutating stages get a snapshot
// and a post-barrier integrity check; non-mutating stages get neither.
type Stage interface {
	Name() string
	Mutating() bool
	Execute(ctx context.Context, state *run.State, deps *Deps) error
}

// StageStatus is the exit status of one stage.
type StageStatus string

const (
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageResult reports one stage's outcome.
type StageResult struct {
	Stage      string
	Status     StageStatus
	Reason     string
	Violations []Violation
}

// Report is the outcome of a whole run: per-stage results plus the halt
// incident when the breaker tripped.
type Report struct {
	RunID   string
	Stages  []StageResult
	Halted  bool
	Trigger *telemetry.Incident
}
