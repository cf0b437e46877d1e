package main

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Plan describes one run: the narrator, the cast, and the ordered stage
// list. Stage order in the file is execution order.
type Plan struct {
	// Protagonist is the narrator's name; Gender is "f" or "m". Both
	// drive the perspective-enforcement pass and the critic's drift
	// detection.
	Protagonist string `koanf:"protagonist"`
	Gender      string `koanf:"gender"`

	// Characters maps other character names to gender ("f"/"m").
	Characters map[string]string `koanf:"characters"`

	Stages []PlanStage `koanf:"stages"`
}

// PlanStage is one sequential stage. Type "generation" produces units
// through the critic gate; type "repair" runs the postprocess pipeline
// over every unit.
type PlanStage struct {
	Name string `koanf:"name"`
	Type string `koanf:"type"`

	// Model overrides the provider default for this stage. The config's
	// model_by_stage map takes precedence over this field.
	Model string `koanf:"model"`

	// MaxTokens and Temperature override the gateway defaults when
	// non-zero.
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`

	// FirstPerson marks the stage's output as first-person narrative,
	// enabling perspective-drift detection in the critic.
	FirstPerson bool `koanf:"first_person"`

	Units []PlanUnit `koanf:"units"`
}

// PlanUnit is one content unit to generate.
type PlanUnit struct {
	ID     string `koanf:"id"`
	Prompt string `koanf:"prompt"`
	System string `koanf:"system"`
}

const maxPlanFileSize = 4 * 1024 * 1024 // 4MB

// loadPlan reads and validates a run plan from a YAML file.
func loadPlan(path string) (*Plan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("plan file: %w", err)
	}
	if info.Size() > maxPlanFileSize {
		return nil, fmt.Errorf("plan file too large: %d bytes (max %d)", info.Size(), maxPlanFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing plan file %s: %w", path, err)
	}

	var plan Plan
	if err := k.Unmarshal("", &plan); err != nil {
		return nil, fmt.Errorf("unmarshaling plan: %w", err)
	}

	if err := plan.validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return &plan, nil
}

func (p *Plan) validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("plan has no stages")
	}
	if p.Gender != "" && p.Gender != "f" && p.Gender != "m" {
		return fmt.Errorf("gender must be \"f\" or \"m\", got %q", p.Gender)
	}

	stageNames := make(map[string]bool, len(p.Stages))
	unitIDs := make(map[string]bool)
	for i, stage := range p.Stages {
		if stage.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if stageNames[stage.Name] {
			return fmt.Errorf("duplicate stage name %q", stage.Name)
		}
		stageNames[stage.Name] = true

		switch stage.Type {
		case "generation":
			if len(stage.Units) == 0 {
				return fmt.Errorf("generation stage %q has no units", stage.Name)
			}
			for _, u := range stage.Units {
				if u.ID == "" {
					return fmt.Errorf("stage %q: unit with empty id", stage.Name)
				}
				if unitIDs[u.ID] {
					return fmt.Errorf("duplicate unit id %q", u.ID)
				}
				unitIDs[u.ID] = true
				if u.Prompt == "" {
					return fmt.Errorf("unit %q has no prompt", u.ID)
				}
			}
		case "repair":
			if len(stage.Units) > 0 {
				return fmt.Errorf("repair stage %q must not list units", stage.Name)
			}
		default:
			return fmt.Errorf("stage %q: unknown type %q (want generation or repair)", stage.Name, stage.Type)
		}
	}
	return nil
}

// unitSpecIndex maps unit IDs to their plan entries plus originating
// stage, for regeneration lookups.
func (p *Plan) unitSpecIndex() map[string]plannedUnit {
	idx := make(map[string]plannedUnit)
	for _, stage := range p.Stages {
		for _, u := range stage.Units {
			idx[u.ID] = plannedUnit{unit: u, stage: stage}
		}
	}
	return idx
}

type plannedUnit struct {
	unit  PlanUnit
	stage PlanStage
}
