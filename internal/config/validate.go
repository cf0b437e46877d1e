package config

import (
	"fmt"
	"regexp"
)

// Correction records a threshold that was out of its documented range and
// the value it was clamped to. Callers log one warning per correction.
type Correction struct {
	Key     string
	Given   float64
	Clamped float64
}

func (c Correction) String() string {
	return fmt.Sprintf("%s: %v out of range, clamped to %v", c.Key, c.Given, c.Clamped)
}

// Validate checks structural validity and clamps every threshold to its
// documented range. A hard error is returned only for conditions that
// cannot be corrected (unknown mode, non-compiling rule pattern).
func (c *Config) Validate() ([]Correction, error) {
	var corrections []Correction

	clampF := func(key string, v *float64, lo, hi float64) {
		if *v < lo || *v > hi {
			clamped := min(max(*v, lo), hi)
			corrections = append(corrections, Correction{Key: key, Given: *v, Clamped: clamped})
			*v = clamped
		}
	}
	clampI := func(key string, v *int, lo, hi int) {
		if *v < lo || *v > hi {
			clamped := min(max(*v, lo), hi)
			corrections = append(corrections, Correction{Key: key, Given: float64(*v), Clamped: float64(clamped)})
			*v = clamped
		}
	}

	switch c.Provider.Name {
	case "anthropic":
	default:
		return nil, fmt.Errorf("unknown provider: %q", c.Provider.Name)
	}

	clampI("gateway.safety_margin", &c.Gateway.SafetyMargin, 256, 8192)
	clampF("gateway.temperature", &c.Gateway.Temperature, 0, 2)
	clampI("gateway.transient_retries", &c.Gateway.TransientRetries, 0, 10)
	clampI("gateway.concurrency", &c.Gateway.Concurrency, 1, 32)
	if c.Gateway.MaxTokens > c.Gateway.ContextLimit-c.Gateway.SafetyMargin {
		given := c.Gateway.MaxTokens
		c.Gateway.MaxTokens = c.Gateway.ContextLimit - c.Gateway.SafetyMargin
		corrections = append(corrections, Correction{
			Key: "gateway.max_tokens", Given: float64(given), Clamped: float64(c.Gateway.MaxTokens),
		})
	}

	clampI("critic.min_words", &c.Critic.MinWords, 10, 2000)
	clampF("critic.preamble_similarity", &c.Critic.PreambleSimilarity, 0.2, 0.95)
	clampI("critic.drift_references", &c.Critic.DriftReferences, 2, 20)
	clampF("critic.dialogue_saturation", &c.Critic.DialogueSaturation, 0.3, 0.95)

	clampI("postprocess.salvage_factor", &c.Postprocess.SalvageFactor, 2, 10)
	clampI("postprocess.tail_window_words", &c.Postprocess.TailWindowWords, 5, 100)
	clampF("postprocess.paragraph_similarity", &c.Postprocess.ParagraphSimilarity, 0.5, 0.99)
	clampF("postprocess.paraphrase_similarity", &c.Postprocess.ParaphraseSimilarity, 0.5, 0.99)
	clampI("postprocess.paraphrase_window", &c.Postprocess.ParaphraseWindow, 2, 8)
	clampI("postprocess.foreign_min_cluster", &c.Postprocess.ForeignMinCluster, 2, 10)

	for i, rule := range c.Postprocess.Rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("postprocess.rules[%d]: name is required", i)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return nil, fmt.Errorf("postprocess.rules[%d] (%s): pattern does not compile: %w", i, rule.Name, err)
		}
		if rule.MaxOccurrences < 0 {
			return nil, fmt.Errorf("postprocess.rules[%d] (%s): max_occurrences must be >= 0", i, rule.Name)
		}
	}

	if c.Embeddings.Enabled && c.Embeddings.APIKey == "" {
		return nil, fmt.Errorf("embeddings.api_key is required when embeddings are enabled")
	}

	switch c.Integrity.Mode {
	case "observe", "protect", "aggressive":
	default:
		return nil, fmt.Errorf("integrity.mode must be observe, protect, or aggressive, got %q", c.Integrity.Mode)
	}
	clampF("integrity.max_unit_drop", &c.Integrity.MaxUnitDrop, 0.1, 0.9)
	clampF("integrity.max_prefix_share", &c.Integrity.MaxPrefixShare, 0.05, 0.9)
	clampF("integrity.max_shrinkage", &c.Integrity.MaxShrinkage, 0.1, 0.9)
	clampF("integrity.max_defect_share", &c.Integrity.MaxDefectShare, 0.05, 0.9)
	clampF("integrity.max_fingerprint_drop", &c.Integrity.MaxFingerprintDrop, 0.1, 0.9)
	clampI("integrity.breaker_threshold", &c.Integrity.BreakerThreshold, 1, 10)

	clampI("budget.retries_per_stage", &c.Budget.RetriesPerStage, 0, 10)
	clampI("budget.rewrite_cap", &c.Budget.RewriteCap, 0, 100)
	clampF("budget.defense_ratio_warn", &c.Budget.DefenseRatioWarn, 0.05, 1.0)

	clampF("telemetry.drift_notable", &c.Telemetry.DriftNotable, 0.01, 1.0)

	if c.HTTP.Enabled && (c.HTTP.Port < 1 || c.HTTP.Port > 65535) {
		return nil, fmt.Errorf("http.port must be 1-65535, got %d", c.HTTP.Port)
	}

	return corrections, nil
}
