// Package budget tracks retry, rewrite, and token spend for one run. The
// tracker is an explicit per-run object handed to every component that
// spends; it is never process-global.
package budget

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/generate"
	"github.com/fyrsmithlabs/storyguard/internal/logging"
)

// SpendClass separates primary generation tokens from defense overhead
// (critic retries, regenerations, repair-driven rewrites).
type SpendClass string

const (
	SpendPrimary SpendClass = "primary"
	SpendDefense SpendClass = "defense"
)

// Config caps retry and rewrite activity.
type Config struct {
	// RetriesPerStage caps critic-gate retries within one stage.
	RetriesPerStage int

	// RewriteCap bounds rewrite operations across the whole run.
	RewriteCap int

	// DefenseRatioWarn is the advisory defense/total token ratio above
	// which the tracker logs a warning. Never blocks.
	DefenseRatioWarn float64
}

// Tracker accumulates spend for one run. Safe for concurrent use: stage
// fan-out workers share it.
type Tracker struct {
	cfg    Config
	logger *logging.Logger

	mu            sync.Mutex
	retriesBy     map[string]int
	rewrites      int
	primary       generate.TokenUsage
	defense       generate.TokenUsage
	ratioWarnOnce bool
}

// Snapshot is a point-in-time copy of the tracker's tallies.
type Snapshot struct {
	RetriesByStage map[string]int      `json:"retries_by_stage"`
	Rewrites       int                 `json:"rewrites"`
	Primary        generate.TokenUsage `json:"primary"`
	Defense        generate.TokenUsage `json:"defense"`
	DefenseRatio   float64             `json:"defense_ratio"`
}

// NewTracker builds a tracker for one run.
func NewTracker(cfg Config, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{
		cfg:       cfg,
		logger:    logger,
		retriesBy: make(map[string]int),
	}
}

// AllowRetry consumes one retry slot for the stage if any remain.
func (t *Tracker) AllowRetry(stage string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retriesBy[stage] >= t.cfg.RetriesPerStage {
		return false
	}
	t.retriesBy[stage]++
	return true
}

// AllowRewrite consumes one rewrite slot if any remain in the run.
func (t *Tracker) AllowRewrite() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rewrites >= t.cfg.RewriteCap {
		return false
	}
	t.rewrites++
	return true
}

// AddSpend records token usage under a spend class and emits the
// advisory warning the first time the defense ratio crosses the
// configured threshold.
func (t *Tracker) AddSpend(class SpendClass, usage generate.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch class {
	case SpendDefense:
		t.defense.Add(usage)
	default:
		t.primary.Add(usage)
	}

	ratio := t.defenseRatioLocked()
	if !t.ratioWarnOnce && t.cfg.DefenseRatioWarn > 0 && ratio > t.cfg.DefenseRatioWarn {
		t.ratioWarnOnce = true
		t.logger.Warn(context.Background(), "defense token spend above advisory threshold",
			zap.Float64("ratio", ratio),
			zap.Float64("threshold", t.cfg.DefenseRatioWarn))
	}
}

// DefenseRatio returns defense tokens over total tokens, 0 when nothing
// has been spent.
func (t *Tracker) DefenseRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.defenseRatioLocked()
}

func (t *Tracker) defenseRatioLocked() float64 {
	total := t.primary.Total() + t.defense.Total()
	if total == 0 {
		return 0
	}
	return float64(t.defense.Total()) / float64(total)
}

// Snapshot copies the current tallies.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	retries := make(map[string]int, len(t.retriesBy))
	for k, v := range t.retriesBy {
		retries[k] = v
	}
	return Snapshot{
		RetriesByStage: retries,
		Rewrites:       t.rewrites,
		Primary:        t.primary,
		Defense:        t.defense,
		DefenseRatio:   t.defenseRatioLocked(),
	}
}
