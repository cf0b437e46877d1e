package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/storyguard/internal/logging"
	"github.com/fyrsmithlabs/storyguard/internal/run"
	"github.com/fyrsmithlabs/storyguard/internal/telemetry"
)

// Runner executes stages in order against one run state.
type Runner struct {
	stages  []Stage
	checker *Checker
	breaker *Breaker
	mode    Mode
	deps    *Deps
	logger  *logging.Logger
}

// NewRunner wires a runner. deps.Logger may be nil.
func NewRunner(stages []Stage, checker *Checker, breaker *Breaker, mode Mode, deps *Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
		deps.Logger = logger
	}
	return &Runner{
		stages:  stages,
		checker: checker,
		breaker: breaker,
		mode:    mode,
		deps:    deps,
		logger:  logger.Named("orchestrator"),
	}
}

// Run drives every stage to completion or until the breaker trips. The
// returned report always reflects the last committed state: a rolled-back
// stage leaves the state exactly as its snapshot.
func (r *Runner) Run(ctx context.Context, state *run.State) Report {
	ctx = logging.WithRunID(ctx, state.RunID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	report := Report{RunID: state.RunID}

	for _, stage := range r.stages {
		if r.breaker.Tripped() {
			report.Stages = append(report.Stages, StageResult{Stage: stage.Name(), Status: StatusSkipped, Reason: "circuit breaker open"})
			continue
		}

		res := r.runStage(ctx, stage, state)
		report.Stages = append(report.Stages, res)
		r.writeStatus(state, report)

		switch res.Status {
		case StatusCompleted:
			r.breaker.Success()
		case StatusFailed:
			if r.breaker.Failure() {
				// Cancel pending generation; in-flight calls finish on
				// their own and their results are discarded.
				cancel()
				telemetry.BreakerTrips.Inc()
				inc := r.breakerIncident(state, res)
				report.Halted = true
				report.Trigger = &inc
				r.logger.Error(ctx, "circuit breaker tripped, halting run",
					zap.String("stage", stage.Name()),
					zap.Int("consecutive_failures", r.breaker.Consecutive()))
			}
		}
	}
	return report
}

// runStage executes one stage with snapshot/restore semantics.
func (r *Runner) runStage(ctx context.Context, stage Stage, state *run.State) StageResult {
	ctx = logging.WithStage(ctx, stage.Name())
	state.StageCursor = stage.Name()
	started := time.Now()

	var snap run.Snapshot
	if stage.Mutating() {
		snap = state.Snapshot()
	}

	res := StageResult{Stage: stage.Name(), Status: StatusCompleted}

	if err := stage.Execute(ctx, state, r.deps); err != nil {
		res.Status = StatusFailed
		res.Reason = err.Error()
		if stage.Mutating() {
			state.Restore(snap)
		}
		r.observe(ctx, stage, res, started)
		return res
	}

	if stage.Mutating() {
		violations := r.checker.Check(snap, state)
		res.Violations = violations
		if len(violations) > 0 {
			r.recordViolations(ctx, snap, state, stage, violations)
			if r.mode == ModeObserve {
				r.logger.Warn(ctx, "integrity violations observed, not restoring",
					zap.Int("violations", len(violations)))
			} else {
				state.Restore(snap)
				res.Status = StatusFailed
				res.Reason = string(violations[0].Kind)
				if r.deps.Metrics != nil {
					r.deps.Metrics.RecordRollback(stage.Name())
				}
			}
		}
	}

	r.observe(ctx, stage, res, started)
	return res
}

func (r *Runner) observe(ctx context.Context, stage Stage, res StageResult, started time.Time) {
	elapsed := time.Since(started)
	telemetry.StageDuration.WithLabelValues(stage.Name(), string(res.Status)).Observe(elapsed.Seconds())
	if res.Status == StatusCompleted {
		r.logger.Info(ctx, "stage completed", zap.Duration("elapsed", elapsed))
		return
	}
	r.logger.Warn(ctx, "stage failed",
		zap.String("reason", res.Reason),
		zap.Duration("elapsed", elapsed))
}

func (r *Runner) recordViolations(ctx context.Context, snap run.Snapshot, state *run.State, stage Stage, violations []Violation) {
	severity := telemetry.SeverityError
	if r.mode == ModeObserve {
		severity = telemetry.SeverityWarning
	}
	for _, v := range violations {
		r.logger.Warn(ctx, "integrity violation",
			zap.String("invariant", string(v.Kind)),
			zap.Float64("measured", v.Measured),
			zap.Float64("threshold", v.Threshold),
			zap.String("detail", v.Description))
		if r.deps.Sink == nil {
			continue
		}
		err := r.deps.Sink.AppendIncident(telemetry.Incident{
			Time:         v.DetectedAt,
			RunID:        state.RunID,
			Stage:        stage.Name(),
			Kind:         string(v.Kind),
			Severity:     severity,
			FailureClass: telemetry.ClassContent,
			Message:      v.Description,
			UnitsBefore:  snap.Len(),
			UnitsAfter:   state.Len(),
			Measure:      map[string]float64{"measured": v.Measured, "threshold": v.Threshold},
		})
		if err != nil {
			r.logger.Warn(ctx, "incident log write failed", zap.Error(err))
		}
	}
}

func (r *Runner) breakerIncident(state *run.State, res StageResult) telemetry.Incident {
	// Integrity violations are content failures; a plain execute error
	// is infrastructure.
	class := telemetry.ClassTransient
	if len(res.Violations) > 0 {
		class = telemetry.ClassContent
	}
	inc := telemetry.Incident{
		Time:         time.Now(),
		RunID:        state.RunID,
		Stage:        res.Stage,
		Kind:         "circuit_breaker",
		Severity:     telemetry.SeverityFatal,
		FailureClass: class,
		Message:      "run halted after consecutive stage failures: " + res.Reason,
		UnitsBefore:  state.Len(),
		UnitsAfter:   state.Len(),
		Measure:      map[string]float64{"consecutive": float64(r.breaker.Consecutive())},
	}
	if r.deps.Sink != nil {
		if err := r.deps.Sink.AppendIncident(inc); err != nil {
			r.logger.Warn(context.Background(), "incident log write failed", zap.Error(err))
		}
	}
	return inc
}

func (r *Runner) writeStatus(state *run.State, report Report) {
	if r.deps.Sink == nil {
		return
	}
	st := telemetry.Status{RunID: state.RunID, Stage: state.StageCursor}
	for _, sr := range report.Stages {
		st.Stages = append(st.Stages, telemetry.StageStatus{
			Name:   sr.Stage,
			Status: string(sr.Status),
			Reason: sr.Reason,
		})
	}
	if r.deps.Budget != nil {
		if data, err := json.Marshal(r.deps.Budget.Snapshot()); err == nil {
			st.Budget = data
		}
	}
	if err := r.deps.Sink.WriteStatus(st); err != nil {
		r.logger.Warn(context.Background(), "status file write failed", zap.Error(err))
	}
}

// ForEachUnit fans fn out over every unit index with bounded parallelism
// and waits for the barrier. Unit work must confine itself to its own
// index; the integrity check runs only after all units return.
func ForEachUnit(ctx context.Context, state *run.State, maxParallel int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if maxParallel > 0 {
		g.SetLimit(maxParallel)
	} else {
		g.SetLimit(1)
	}
	for i := 0; i < state.Len(); i++ {
		i := i
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fn(logging.WithUnitID(ctx, state.Unit(i).ID), i)
		})
	}
	return g.Wait()
}
