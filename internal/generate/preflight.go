package generate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/logging"
)

// canaryPrompt is the one cheap fixed prompt sent to each provider before a
// run. It should be answerable in a handful of tokens by any working model.
const canaryPrompt = "Write one short sentence describing rain on a window."

// PreflightFinding reports the canary result for one provider.
type PreflightFinding struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Problem  string `json:"problem,omitempty"`
}

// Preflight sends the canary prompt to every distinct provider and checks
// the response for outright failure modes: errors, empty output, contract
// leakage, and assistant preamble. Findings are informational; a failed
// canary never blocks the run.
func Preflight(ctx context.Context, providers []Provider, contract StopContract, logger *logging.Logger) []PreflightFinding {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("preflight")

	findings := make([]PreflightFinding, 0, len(providers))
	seen := make(map[string]bool)

	for _, p := range providers {
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true

		finding := PreflightFinding{Provider: p.Name(), OK: true}

		out, err := p.Generate(ctx, ProviderRequest{
			Prompt:        canaryPrompt,
			System:        "You write prose." + contract.SystemSuffix(),
			MaxTokens:     128,
			Temperature:   0.2,
			StopSequences: contract.StopSequences(),
		})
		switch {
		case err != nil:
			finding.OK = false
			finding.Problem = "request failed: " + err.Error()
		case strings.TrimSpace(contract.StripSentinel(out.Text)) == "":
			finding.OK = false
			finding.Problem = "empty response"
		case containsAny(out.Text, contract.LeakFragments()):
			finding.OK = false
			finding.Problem = "contract leakage in output"
		case looksLikePreamble(out.Text):
			finding.OK = false
			finding.Problem = "assistant preamble in output"
		}

		if !finding.OK {
			logger.Warn(ctx, "canary preflight failed",
				zap.String("provider", finding.Provider),
				zap.String("problem", finding.Problem))
		}
		findings = append(findings, finding)
	}

	return findings
}

func containsAny(text string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(text, f) {
			return true
		}
	}
	return false
}

func looksLikePreamble(text string) bool {
	first := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range []string{"sure", "certainly", "here is", "here's", "of course", "as requested"} {
		if strings.HasPrefix(first, prefix) {
			return true
		}
	}
	return false
}
