package generate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/logging"
)

const defaultBaseBackoff = 1 * time.Second

// GatewayConfig bounds individual calls through the gateway.
type GatewayConfig struct {
	ContextLimit     int
	SafetyMargin     int
	MaxTokens        int
	Temperature      float64
	TransientRetries int
}

// Gateway wraps a Provider with the run's stop contract, token clamping,
// and transient-error retry. Semantic (content) retry lives in the critic
// gate, not here.
type Gateway struct {
	provider Provider
	contract StopContract
	cfg      GatewayConfig
	logger   *logging.Logger
}

// NewGateway creates a gateway around provider with a fresh per-run
// stop contract.
func NewGateway(provider Provider, cfg GatewayConfig, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gateway{
		provider: provider,
		contract: NewStopContract(),
		cfg:      cfg,
		logger:   logger.Named("gateway"),
	}
}

// Contract exposes the run's stop contract so the critic and postprocess
// pipeline can check for sentinel residue and prompt leakage.
func (g *Gateway) Contract() StopContract { return g.contract }

// Generate performs one contract-enforced generation call.
//
// The system prompt gets the format contract appended, the sentinel and
// secondary stop phrases are passed as native stop sequences, and
// max_tokens is clamped against the context limit. Transient errors are
// retried with exponential backoff; permanent errors return immediately.
// The sentinel is stripped from the returned text; all other repair is the
// postprocess pipeline's job.
func (g *Gateway) Generate(ctx context.Context, req Request) (*RawOutput, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = g.cfg.Temperature
	}

	system := req.System + g.contract.SystemSuffix()
	promptTokens := EstimateTokens(req.Prompt) + EstimateTokens(system)

	clamped, ok := ClampMaxTokens(promptTokens, maxTokens, g.cfg.ContextLimit, g.cfg.SafetyMargin)
	if !ok {
		return nil, Permanent(fmt.Errorf(
			"prompt too large: ~%d tokens against context limit %d (margin %d)",
			promptTokens, g.cfg.ContextLimit, g.cfg.SafetyMargin))
	}
	if clamped != maxTokens {
		g.logger.Warn(ctx, "clamped max_tokens to fit context window",
			zap.Int("requested", maxTokens),
			zap.Int("clamped", clamped),
			zap.Int("prompt_tokens", promptTokens))
	}

	preq := ProviderRequest{
		Prompt:        req.Prompt,
		System:        system,
		Model:         req.Model,
		MaxTokens:     clamped,
		Temperature:   temperature,
		StopSequences: g.contract.StopSequences(),
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.TransientRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			g.logger.Warn(ctx, "retrying transient generation failure",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		out, err := g.provider.Generate(ctx, preq)
		if err == nil {
			out.Text = g.contract.StripSentinel(out.Text)
			return out, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}

	return nil, Transient(fmt.Errorf("max transient retries exceeded: %w", lastErr))
}
