package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyguard/internal/run"
	"github.com/fyrsmithlabs/storyguard/internal/telemetry"
)

// scriptedStage executes a canned function.
type scriptedStage struct {
	name     string
	mutating bool
	fn       func(ctx context.Context, state *run.State, deps *Deps) error
}

func (s *scriptedStage) Name() string   { return s.name }
func (s *scriptedStage) Mutating() bool { return s.mutating }
func (s *scriptedStage) Execute(ctx context.Context, state *run.State, deps *Deps) error {
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, state, deps)
}

func failingStage(name string) *scriptedStage {
	return &scriptedStage{name: name, fn: func(context.Context, *run.State, *Deps) error {
		return errors.New("provider unavailable")
	}}
}

func okStage(name string) *scriptedStage {
	return &scriptedStage{name: name}
}

func newTestRunner(stages []Stage, mode Mode, breakerThreshold int) *Runner {
	return NewRunner(stages, NewChecker(DefaultThresholds(), mode), NewBreaker(breakerThreshold), mode, &Deps{})
}

func TestBreakerCounts(t *testing.T) {
	b := NewBreaker(3)

	assert.False(t, b.Failure())
	assert.False(t, b.Failure())
	assert.True(t, b.Failure())
	assert.True(t, b.Tripped())
	// Once open it stays open.
	b.Success()
	assert.True(t, b.Tripped())
}

func TestBreakerResetOnSuccess(t *testing.T) {
	b := NewBreaker(3)

	assert.False(t, b.Failure())
	assert.False(t, b.Failure())
	b.Success()
	assert.False(t, b.Failure())
	assert.False(t, b.Failure())
	assert.False(t, b.Tripped())
}

func TestRunHaltsAfterThreeConsecutiveFailures(t *testing.T) {
	stages := []Stage{
		failingStage("draft"),
		failingStage("revise"),
		failingStage("polish"),
		okStage("final"),
	}
	r := newTestRunner(stages, ModeProtect, 3)

	report := r.Run(context.Background(), run.NewState())

	require.Len(t, report.Stages, 4)
	assert.Equal(t, StatusFailed, report.Stages[0].Status)
	assert.Equal(t, StatusFailed, report.Stages[1].Status)
	assert.Equal(t, StatusFailed, report.Stages[2].Status)
	// The 4th stage never starts.
	assert.Equal(t, StatusSkipped, report.Stages[3].Status)
	assert.True(t, report.Halted)
	require.NotNil(t, report.Trigger)
	assert.Equal(t, "circuit_breaker", report.Trigger.Kind)
	assert.Equal(t, "polish", report.Trigger.Stage)
	assert.Equal(t, telemetry.SeverityFatal, report.Trigger.Severity)
	// Execute errors, not integrity violations, drove the trip.
	assert.Equal(t, telemetry.ClassTransient, report.Trigger.FailureClass)
}

func TestRunSuccessResetsBreaker(t *testing.T) {
	stages := []Stage{
		failingStage("a"),
		failingStage("b"),
		okStage("c"),
		failingStage("d"),
		failingStage("e"),
	}
	r := newTestRunner(stages, ModeProtect, 3)

	report := r.Run(context.Background(), run.NewState())

	assert.False(t, report.Halted)
	for _, sr := range report.Stages {
		assert.NotEqual(t, StatusSkipped, sr.Status)
	}
}

func TestIntegrityViolationRollsBackStage(t *testing.T) {
	state := seedState(4, 100)
	preHashes := make([]string, 4)
	for i := 0; i < 4; i++ {
		preHashes[i] = state.Unit(i).HashRaw
	}

	destructive := &scriptedStage{name: "collapse", mutating: true, fn: func(_ context.Context, s *run.State, _ *Deps) error {
		// Drop half the units, violating count stability.
		if err := s.Delete(3); err != nil {
			return err
		}
		return s.Delete(2)
	}}

	r := newTestRunner([]Stage{destructive}, ModeProtect, 3)
	report := r.Run(context.Background(), state)

	require.Len(t, report.Stages, 1)
	assert.Equal(t, StatusFailed, report.Stages[0].Status)
	assert.Equal(t, string(ViolationUnitDrop), report.Stages[0].Reason)
	require.NotEmpty(t, report.Stages[0].Violations)

	// State equals the pre-stage snapshot.
	require.Equal(t, 4, state.Len())
	for i := 0; i < 4; i++ {
		assert.Equal(t, preHashes[i], state.Unit(i).HashRaw)
	}
}

func TestIncidentLogCarriesSeverityAndUnitCounts(t *testing.T) {
	dir := t.TempDir()
	sink, err := telemetry.NewSink(dir, nil)
	require.NoError(t, err)

	state := seedState(4, 100)
	destructive := &scriptedStage{name: "collapse", mutating: true, fn: func(_ context.Context, s *run.State, _ *Deps) error {
		if err := s.Delete(3); err != nil {
			return err
		}
		return s.Delete(2)
	}}

	r := NewRunner([]Stage{destructive}, NewChecker(DefaultThresholds(), ModeProtect), NewBreaker(3), ModeProtect, &Deps{Sink: sink})
	r.Run(context.Background(), state)

	f, err := os.Open(filepath.Join(dir, "incidents.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var incidents []telemetry.Incident
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var inc telemetry.Incident
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &inc))
		incidents = append(incidents, inc)
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, incidents)

	inc := incidents[0]
	assert.Equal(t, "collapse", inc.Stage)
	assert.Equal(t, telemetry.SeverityError, inc.Severity)
	assert.Equal(t, telemetry.ClassContent, inc.FailureClass)
	assert.Equal(t, 4, inc.UnitsBefore)
	assert.Equal(t, 2, inc.UnitsAfter)
}

func TestObserveModeLogsWithoutRestore(t *testing.T) {
	state := seedState(4, 100)

	destructive := &scriptedStage{name: "collapse", mutating: true, fn: func(_ context.Context, s *run.State, _ *Deps) error {
		if err := s.Delete(3); err != nil {
			return err
		}
		return s.Delete(2)
	}}

	r := newTestRunner([]Stage{destructive}, ModeObserve, 3)
	report := r.Run(context.Background(), state)

	assert.Equal(t, StatusCompleted, report.Stages[0].Status)
	assert.NotEmpty(t, report.Stages[0].Violations)
	// Mutation stands in observe mode.
	assert.Equal(t, 2, state.Len())
}

func TestExecuteErrorRestoresSnapshot(t *testing.T) {
	state := seedState(2, 50)

	halfDone := &scriptedStage{name: "partial", mutating: true, fn: func(_ context.Context, s *run.State, _ *Deps) error {
		if err := s.Mutate(0, func(u *run.Unit) { u.SetClean("partial work") }); err != nil {
			return err
		}
		return errors.New("unit 1 failed")
	}}

	r := newTestRunner([]Stage{halfDone}, ModeProtect, 3)
	report := r.Run(context.Background(), state)

	assert.Equal(t, StatusFailed, report.Stages[0].Status)
	assert.Empty(t, state.Unit(0).CleanText)
}

func TestForEachUnitBarrier(t *testing.T) {
	state := seedState(8, 20)

	err := ForEachUnit(context.Background(), state, 4, func(_ context.Context, i int) error {
		return state.Mutate(i, func(u *run.Unit) { u.SetClean(unitText(i+100, 20)) })
	})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		assert.NotEmpty(t, state.Unit(i).CleanText)
	}
}

func TestForEachUnitPropagatesError(t *testing.T) {
	state := seedState(4, 20)

	sentinel := errors.New("boom")
	err := ForEachUnit(context.Background(), state, 2, func(_ context.Context, i int) error {
		if i == 2 {
			return sentinel
		}
		return nil
	})
	assert.ErrorIs(t, err, sentinel)
}
