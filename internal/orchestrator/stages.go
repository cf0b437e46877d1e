package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/budget"
	"github.com/fyrsmithlabs/storyguard/internal/critic"
	"github.com/fyrsmithlabs/storyguard/internal/run"
)

// UnitSpec plans one content unit for a generation stage.
type UnitSpec struct {
	ID     string
	Prompt string
	System string
}

// GenerationParams are the model settings shared by a generation stage's
// units.
type GenerationParams struct {
	Model       string
	MaxTokens   int
	Temperature float64
	FirstPerson bool
	Protagonist string
	Gender      string
}

// GenerationStage generates one unit per spec through the critic gate,
// fanning out up to deps.MaxParallel concurrent calls.
type GenerationStage struct {
	name   string
	params GenerationParams
	specs  []UnitSpec
}

// NewGenerationStage plans a generation stage.
func NewGenerationStage(name string, params GenerationParams, specs []UnitSpec) *GenerationStage {
	return &GenerationStage{name: name, params: params, specs: specs}
}

func (s *GenerationStage) Name() string   { return s.name }
func (s *GenerationStage) Mutating() bool { return true }

// Execute appends placeholder units, then fills each through the gate.
// Units are appended before the fan-out so workers only ever touch their
// own index.
func (s *GenerationStage) Execute(ctx context.Context, state *run.State, deps *Deps) error {
	base := state.Len()
	for _, spec := range s.specs {
		state.Append(run.NewUnit(spec.ID, ""))
	}

	return ForEachUnit(ctx, state, deps.MaxParallel, func(ctx context.Context, i int) error {
		if i < base {
			return nil
		}
		spec := s.specs[i-base]

		outcome, err := deps.Gate.Run(ctx, critic.Request{
			Stage:       s.name,
			Prompt:      spec.Prompt,
			System:      spec.System,
			Model:       s.params.Model,
			MaxTokens:   s.params.MaxTokens,
			Temperature: s.params.Temperature,
			FirstPerson: s.params.FirstPerson,
			Protagonist: s.params.Protagonist,
			Gender:      s.params.Gender,
		})
		if err != nil {
			return fmt.Errorf("unit %s: %w", spec.ID, err)
		}

		if deps.Budget != nil {
			deps.Budget.AddSpend(budget.SpendPrimary, outcome.PrimaryUsage)
			deps.Budget.AddSpend(budget.SpendDefense, outcome.DefenseUsage)
		}
		if deps.Metrics != nil {
			deps.Metrics.RecordUnit(s.name, outcome.Retried, outcome.Report.Kinds())
		}

		return state.Mutate(i, func(u *run.Unit) {
			u.SetRaw(outcome.Text)
			u.Retried = outcome.Retried
			for _, kind := range outcome.Report.Kinds() {
				u.Defects[kind] = true
			}
		})
	})
}

// RepairStage runs the postprocess pipeline over every unit. Regenerate,
// when set, is called for units the pipeline flags; it consumes the run's
// rewrite budget.
type RepairStage struct {
	name       string
	Regenerate func(ctx context.Context, u *run.Unit) (string, error)
}

// NewRepairStage plans a repair stage.
func NewRepairStage(name string) *RepairStage {
	return &RepairStage{name: name}
}

func (s *RepairStage) Name() string   { return s.name }
func (s *RepairStage) Mutating() bool { return true }

func (s *RepairStage) Execute(ctx context.Context, state *run.State, deps *Deps) error {
	return ForEachUnit(ctx, state, deps.MaxParallel, func(ctx context.Context, i int) error {
		unit := state.Unit(i)
		result := deps.Pipeline.Run(ctx, unit.ID, unit.Text())

		if result.Salvaged && deps.Metrics != nil {
			deps.Metrics.RecordSalvage(s.name)
		}

		text := result.Text
		if result.NeedsRegeneration {
			text = s.regenerate(ctx, deps, unit, text)
		}

		return state.Mutate(i, func(u *run.Unit) {
			u.SetClean(text)
		})
	})
}

// regenerate replaces a flagged unit when the hook is wired and the
// rewrite budget allows; otherwise the repaired text stands.
func (s *RepairStage) regenerate(ctx context.Context, deps *Deps, unit *run.Unit, fallback string) string {
	if s.Regenerate == nil {
		deps.Logger.Warn(ctx, "unit flagged for regeneration, no regenerator wired",
			zap.String("unit.id", unit.ID))
		return fallback
	}
	if deps.Budget != nil && !deps.Budget.AllowRewrite() {
		deps.Logger.Warn(ctx, "unit flagged for regeneration, rewrite budget exhausted",
			zap.String("unit.id", unit.ID))
		return fallback
	}
	text, err := s.Regenerate(ctx, unit)
	if err != nil {
		deps.Logger.Warn(ctx, "regeneration failed, keeping repaired text",
			zap.String("unit.id", unit.ID), zap.Error(err))
		return fallback
	}
	// Regenerated text goes through the pipeline once more; it is raw
	// provider output like any other.
	rerun := deps.Pipeline.Run(ctx, unit.ID, text)
	return rerun.Text
}
