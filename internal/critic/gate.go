package critic

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/generate"
	"github.com/fyrsmithlabs/storyguard/internal/logging"
)

// RetryBudget is the slice of the budget tracker the gate consults before
// spending a semantic retry.
type RetryBudget interface {
	// AllowRetry reserves one retry for the stage; false means the
	// per-stage cap is exhausted and the best attempt so far is
	// accepted regardless of remaining defects.
	AllowRetry(stage string) bool
}

// Config tunes the critic gate.
type Config struct {
	MinWords            int
	PreambleSimilarity  float64
	DriftReferences     int
	DialogueSaturation  float64
	LengthBonusCapWords int
}

// Outcome is the gate's accepted result for one content unit.
type Outcome struct {
	// Text is the accepted raw text (higher-scoring attempt).
	Text string

	// Report is the critic report for the accepted attempt.
	Report Report

	// Retried is true when a semantic retry was issued.
	Retried bool

	// PrimaryUsage is the first attempt's token spend; DefenseUsage the
	// retry's. The budget tracker accounts for them separately.
	PrimaryUsage generate.TokenUsage
	DefenseUsage generate.TokenUsage
}

// Gate validates raw output, retries once with targeted feedback when a
// fixable defect appears, and accepts the higher-scoring attempt.
type Gate struct {
	gateway *generate.Gateway
	budget  RetryBudget
	cfg     Config
	logger  *logging.Logger
}

// NewGate creates a critic gate over the given gateway.
func NewGate(gateway *generate.Gateway, budget RetryBudget, cfg Config, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		gateway: gateway,
		budget:  budget,
		cfg:     cfg,
		logger:  logger.Named("critic"),
	}
}

// Request describes one gated generation.
type Request struct {
	Stage       string
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64

	// FirstPerson, Protagonist, and Gender feed perspective-drift
	// detection.
	FirstPerson bool
	Protagonist string
	Gender      string
}

// Run drives generate -> validate -> (retry with feedback) -> score.
//
// Validation always runs on raw output. The retry, when issued, carries
// the original prompt plus a correction naming the observed defects. Both
// attempts are scored and the winner accepted; ties favor the retry.
func (g *Gate) Run(ctx context.Context, req Request) (*Outcome, error) {
	opts := g.validateOptions(req)

	first, err := g.generate(ctx, req, "")
	if err != nil {
		return nil, fmt.Errorf("attempt 1: %w", err)
	}
	firstAttempt := Attempt{Text: first.Text, Report: Validate(first.Text, opts)}

	outcome := &Outcome{
		Text:         firstAttempt.Text,
		Report:       firstAttempt.Report,
		PrimaryUsage: first.Usage,
	}

	if !firstAttempt.Report.HasFixable() {
		return outcome, nil
	}

	if g.budget != nil && !g.budget.AllowRetry(req.Stage) {
		g.logger.Warn(ctx, "retry budget exhausted, accepting defective output",
			zap.Strings("defects", kindStrings(firstAttempt.Report)))
		return outcome, nil
	}

	feedback := BuildFeedback(firstAttempt.Report)
	g.logger.Info(ctx, "retrying with targeted feedback",
		zap.Strings("defects", kindStrings(firstAttempt.Report)))

	second, err := g.generate(ctx, req, feedback)
	if err != nil {
		// The first attempt is still usable; a failed retry only
		// costs the feedback call.
		g.logger.Warn(ctx, "retry attempt failed, keeping first attempt", zap.Error(err))
		outcome.Retried = true
		return outcome, nil
	}
	secondAttempt := Attempt{Text: second.Text, Report: Validate(second.Text, opts)}

	winner := ChooseAttempt(firstAttempt, secondAttempt, g.cfg.LengthBonusCapWords)
	outcome.Text = winner.Text
	outcome.Report = winner.Report
	outcome.Retried = true
	outcome.DefenseUsage = second.Usage

	return outcome, nil
}

func (g *Gate) generate(ctx context.Context, req Request, feedback string) (*generate.RawOutput, error) {
	prompt := req.Prompt
	if feedback != "" {
		prompt = prompt + "\n\n" + feedback
	}
	return g.gateway.Generate(ctx, generate.Request{
		Prompt:      prompt,
		System:      req.System,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
}

func (g *Gate) validateOptions(req Request) ValidateOptions {
	return ValidateOptions{
		MinWords:           g.cfg.MinWords,
		PreambleSimilarity: g.cfg.PreambleSimilarity,
		DriftReferences:    g.cfg.DriftReferences,
		DialogueSaturation: g.cfg.DialogueSaturation,
		FirstPerson:        req.FirstPerson,
		Protagonist:        req.Protagonist,
		Gender:             req.Gender,
		LeakFragments:      g.gateway.Contract().LeakFragments(),
	}
}

func kindStrings(r Report) []string {
	kinds := r.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
