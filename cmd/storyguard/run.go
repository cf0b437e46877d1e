package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/budget"
	"github.com/fyrsmithlabs/storyguard/internal/config"
	"github.com/fyrsmithlabs/storyguard/internal/critic"
	"github.com/fyrsmithlabs/storyguard/internal/embeddings"
	"github.com/fyrsmithlabs/storyguard/internal/generate"
	"github.com/fyrsmithlabs/storyguard/internal/httpapi"
	"github.com/fyrsmithlabs/storyguard/internal/logging"
	"github.com/fyrsmithlabs/storyguard/internal/orchestrator"
	"github.com/fyrsmithlabs/storyguard/internal/postprocess"
	"github.com/fyrsmithlabs/storyguard/internal/run"
	"github.com/fyrsmithlabs/storyguard/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute a run plan under the defense layer",
	Long: `Execute a run plan: generate every planned unit through the critic
gate, repair accepted output, and check aggregate integrity after each
mutating stage. The run halts early only when the circuit breaker trips.

Examples:
  # Run with defaults
  storyguard run plan.yaml

  # Run with a config file
  storyguard run --config storyguard.yaml plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, corrections, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, c := range corrections {
		logger.Warn(ctx, "config value out of range, clamped",
			zap.String("key", c.Key),
			zap.Float64("given", c.Given),
			zap.Float64("clamped", c.Clamped))
	}

	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	warnUnknownStageModels(ctx, cfg, plan, logger)

	mode, err := orchestrator.ParseMode(cfg.Integrity.Mode)
	if err != nil {
		return err
	}

	provider, err := generate.NewAnthropicProvider(generate.AnthropicConfig{
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Provider.Model,
		Timeout:   cfg.Provider.Timeout,
		RateLimit: cfg.Provider.RateLimit,
		Burst:     cfg.Provider.Burst,
	})
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	gateway := generate.NewGateway(provider, generate.GatewayConfig{
		ContextLimit:     cfg.Gateway.ContextLimit,
		SafetyMargin:     cfg.Gateway.SafetyMargin,
		MaxTokens:        cfg.Gateway.MaxTokens,
		Temperature:      cfg.Gateway.Temperature,
		TransientRetries: cfg.Gateway.TransientRetries,
	}, logger)

	tracker := budget.NewTracker(budget.Config{
		RetriesPerStage:  cfg.Budget.RetriesPerStage,
		RewriteCap:       cfg.Budget.RewriteCap,
		DefenseRatioWarn: cfg.Budget.DefenseRatioWarn,
	}, logger)

	gate := critic.NewGate(gateway, tracker, critic.Config{
		MinWords:            cfg.Critic.MinWords,
		PreambleSimilarity:  cfg.Critic.PreambleSimilarity,
		DriftReferences:     cfg.Critic.DriftReferences,
		DialogueSaturation:  cfg.Critic.DialogueSaturation,
		LengthBonusCapWords: cfg.Critic.LengthBonusCapWords,
	}, logger)

	sink, err := telemetry.NewSink(cfg.Telemetry.Dir, logger)
	if err != nil {
		return fmt.Errorf("opening telemetry dir: %w", err)
	}

	pipeline, err := newPipeline(cfg, plan, sink, logger)
	if err != nil {
		return err
	}

	// Fetch the prior run before this one lands in the log.
	prev, hasPrev, err := sink.PreviousRun()
	if err != nil {
		logger.Warn(ctx, "could not read previous run record", zap.Error(err))
		hasPrev = false
	}

	state := run.NewState()
	metrics := telemetry.NewArtifactMetrics(state.RunID)

	deps := &orchestrator.Deps{
		Gate:        gate,
		Pipeline:    pipeline,
		Budget:      tracker,
		Metrics:     metrics,
		Sink:        sink,
		Logger:      logger,
		MaxParallel: cfg.Gateway.Concurrency,
	}

	stages := buildStages(cfg, plan, gate, tracker)

	checker := orchestrator.NewChecker(orchestrator.Thresholds{
		MaxUnitDrop:        cfg.Integrity.MaxUnitDrop,
		MaxPrefixShare:     cfg.Integrity.MaxPrefixShare,
		MaxShrinkage:       cfg.Integrity.MaxShrinkage,
		MaxDefectShare:     cfg.Integrity.MaxDefectShare,
		MaxFingerprintDrop: cfg.Integrity.MaxFingerprintDrop,
	}, mode)
	breaker := orchestrator.NewBreaker(cfg.Integrity.BreakerThreshold)
	runner := orchestrator.NewRunner(stages, checker, breaker, mode, deps)

	if cfg.HTTP.Enabled {
		srv, err := httpapi.NewServer(httpapi.Config{
			Host:        cfg.HTTP.Host,
			Port:        cfg.HTTP.Port,
			ArtifactDir: cfg.Telemetry.Dir,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating status server: %w", err)
		}
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "status server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	logger.Info(ctx, "starting run",
		zap.String("run.id", state.RunID),
		zap.String("mode", string(mode)),
		zap.Int("stages", len(stages)))

	report := runner.Run(ctx, state)

	haltReason := ""
	if report.Trigger != nil {
		haltReason = report.Trigger.Message
	}
	rec := metrics.Finalize(tracker.Snapshot(), report.Halted, haltReason)
	if err := sink.AppendRun(rec); err != nil {
		logger.Error(ctx, "could not persist run record", zap.Error(err))
	}

	if hasPrev {
		for _, d := range telemetry.CompareDefectRates(prev, rec, cfg.Telemetry.DriftNotable) {
			logger.Warn(ctx, "defect rate drift vs previous run",
				zap.String("kind", d.Kind),
				zap.Float64("previous", d.Previous),
				zap.Float64("current", d.Current),
				zap.Float64("delta", d.Delta))
		}
	}

	if report.Halted {
		return fmt.Errorf("run halted: circuit breaker tripped at stage %s (%s)",
			report.Trigger.Stage, report.Trigger.Message)
	}

	logger.Info(ctx, "run complete",
		zap.String("run.id", state.RunID),
		zap.Int("units", state.Len()),
		zap.Float64("defense_ratio", tracker.Snapshot().DefenseRatio))
	return nil
}

// newLogger builds the run logger from the config's logging section,
// falling back to defaults when the section is empty.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	if cfg.Logging.Level != "" {
		lc.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		lc.Format = cfg.Logging.Format
	}
	return logging.NewLogger(lc)
}

// newPipeline wires the repair pipeline for this plan. The embedder is
// optional; without it, paraphrase detection uses the lexical fallback.
func newPipeline(cfg *config.Config, plan *Plan, sink *telemetry.Sink, logger *logging.Logger) (*postprocess.Pipeline, error) {
	specs := make([]postprocess.RuleSpec, 0, len(cfg.Postprocess.Rules))
	for _, r := range cfg.Postprocess.Rules {
		specs = append(specs, postprocess.RuleSpec{
			Name:           r.Name,
			Pattern:        r.Pattern,
			MaxOccurrences: r.MaxOccurrences,
		})
	}
	rules, err := postprocess.CompileRules(specs)
	if err != nil {
		return nil, fmt.Errorf("compiling repetition rules: %w", err)
	}

	var embedder postprocess.Embedder
	if cfg.Embeddings.Enabled {
		client, err := embeddings.New(embeddings.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
			APIKey:  cfg.Embeddings.APIKey,
		}, logger)
		if err != nil {
			return nil, err
		}
		embedder = client
	}

	opts := postprocess.Options{
		Cleanup: postprocess.CleanupOptions{
			MinKeepWords:      cfg.Postprocess.MinKeepWords,
			MinKeepParagraphs: cfg.Postprocess.MinKeepParagraphs,
			SalvageFactor:     cfg.Postprocess.SalvageFactor,
		},
		Dedupe: postprocess.DedupeOptions{
			TailWindowWords:      cfg.Postprocess.TailWindowWords,
			ParagraphSimilarity:  cfg.Postprocess.ParagraphSimilarity,
			ParaphraseSimilarity: cfg.Postprocess.ParaphraseSimilarity,
			ParaphraseWindow:     cfg.Postprocess.ParaphraseWindow,
		},
		Language: postprocess.LanguageOptions{
			Whitelist:       cfg.Postprocess.ForeignWhitelist,
			MinClusterWords: cfg.Postprocess.ForeignMinCluster,
		},
		Rules: rules,
	}
	if plan.firstPerson() {
		opts.Perspective = postprocess.PerspectiveOptions{
			Protagonist: plan.Protagonist,
			Gender:      plan.Gender,
			Characters:  plan.Characters,
		}
	}

	return postprocess.NewPipeline(opts, embedder, sink.Auditor(), logger), nil
}

// firstPerson reports whether any generation stage produces first-person
// narrative; perspective enforcement only applies then.
func (p *Plan) firstPerson() bool {
	for _, s := range p.Stages {
		if s.Type == "generation" && s.FirstPerson {
			return true
		}
	}
	return false
}

// buildStages converts the plan into orchestrator stages in file order.
// Repair stages get a regeneration hook that re-prompts flagged units
// through the critic gate, charged entirely to the defense budget.
func buildStages(cfg *config.Config, plan *Plan, gate *critic.Gate, tracker *budget.Tracker) []orchestrator.Stage {
	unitIdx := plan.unitSpecIndex()

	stages := make([]orchestrator.Stage, 0, len(plan.Stages))
	for _, ps := range plan.Stages {
		switch ps.Type {
		case "generation":
			params := orchestrator.GenerationParams{
				Model:       stageModel(cfg, ps),
				MaxTokens:   ps.MaxTokens,
				Temperature: stageTemperature(cfg, ps),
				FirstPerson: ps.FirstPerson,
				Protagonist: plan.Protagonist,
				Gender:      plan.Gender,
			}
			specs := make([]orchestrator.UnitSpec, 0, len(ps.Units))
			for _, u := range ps.Units {
				specs = append(specs, orchestrator.UnitSpec{ID: u.ID, Prompt: u.Prompt, System: u.System})
			}
			stages = append(stages, orchestrator.NewGenerationStage(ps.Name, params, specs))

		case "repair":
			stage := orchestrator.NewRepairStage(ps.Name)
			name := ps.Name
			stage.Regenerate = func(ctx context.Context, u *run.Unit) (string, error) {
				pu, ok := unitIdx[u.ID]
				if !ok {
					return "", fmt.Errorf("unit %s not in plan", u.ID)
				}
				outcome, err := gate.Run(ctx, critic.Request{
					Stage:       name,
					Prompt:      pu.unit.Prompt,
					System:      pu.unit.System,
					Model:       stageModel(cfg, pu.stage),
					MaxTokens:   pu.stage.MaxTokens,
					Temperature: stageTemperature(cfg, pu.stage),
					FirstPerson: pu.stage.FirstPerson,
					Protagonist: plan.Protagonist,
					Gender:      plan.Gender,
				})
				if err != nil {
					return "", err
				}
				// Rewrites are defensive spend end to end.
				tracker.AddSpend(budget.SpendDefense, outcome.PrimaryUsage)
				tracker.AddSpend(budget.SpendDefense, outcome.DefenseUsage)
				return outcome.Text, nil
			}
			stages = append(stages, stage)
		}
	}
	return stages
}

// stageModel resolves the model for one stage: config model_by_stage wins,
// then the stage's own model field, then the provider default.
func stageModel(cfg *config.Config, ps PlanStage) string {
	if m, ok := cfg.Provider.ModelByStage[ps.Name]; ok {
		return m
	}
	if ps.Model != "" {
		return ps.Model
	}
	return cfg.Provider.Model
}

// stageTemperature resolves a stage's sampling temperature. A plan that
// omits the field gets the gateway default; zero cannot be expressed per
// stage.
func stageTemperature(cfg *config.Config, ps PlanStage) float64 {
	if ps.Temperature == 0 {
		return cfg.Gateway.Temperature
	}
	return ps.Temperature
}

// warnUnknownStageModels logs model_by_stage entries naming no plan stage.
func warnUnknownStageModels(ctx context.Context, cfg *config.Config, plan *Plan, logger *logging.Logger) {
	known := make(map[string]bool, len(plan.Stages))
	for _, s := range plan.Stages {
		known[s.Name] = true
	}
	for name := range cfg.Provider.ModelByStage {
		if !known[name] {
			logger.Warn(ctx, "model_by_stage names unknown stage, ignored",
				zap.String("stage", name))
		}
	}
}
