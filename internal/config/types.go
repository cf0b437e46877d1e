package config

import "time"

// Config is the root configuration for a storyguard run.
//
// Every threshold has a documented valid range. Validate clamps out-of-range
// values to the nearest bound and reports each correction so the caller can
// log a warning; invalid values are never silently ignored.
type Config struct {
	Provider    ProviderConfig    `koanf:"provider"`
	Gateway     GatewayConfig     `koanf:"gateway"`
	Critic      CriticConfig      `koanf:"critic"`
	Postprocess PostprocessConfig `koanf:"postprocess"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Integrity   IntegrityConfig   `koanf:"integrity"`
	Budget      BudgetConfig      `koanf:"budget"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	HTTP        HTTPConfig        `koanf:"http"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ProviderConfig configures the upstream text-generation provider.
type ProviderConfig struct {
	// Name selects the provider implementation ("anthropic").
	Name string `koanf:"name"`

	// APIKey authenticates against the provider. Usually set via
	// PROVIDER_API_KEY rather than the config file.
	APIKey string `koanf:"api_key"`

	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`

	// ModelByStage routes individual stages to different models.
	// Unknown stage names are ignored with a warning.
	ModelByStage map[string]string `koanf:"model_by_stage"`

	// Timeout for a single HTTP request.
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is requests per second; Burst the limiter burst size.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// GatewayConfig bounds an individual generation call.
type GatewayConfig struct {
	// ContextLimit is the provider's known context window in tokens.
	ContextLimit int `koanf:"context_limit"`

	// SafetyMargin is subtracted from ContextLimit when clamping
	// max_tokens, so near-limit prompts fail loudly instead of
	// truncating silently. Range: 256..8192.
	SafetyMargin int `koanf:"safety_margin"`

	// MaxTokens is the default completion budget per call.
	MaxTokens int `koanf:"max_tokens"`

	// Temperature for primary generation. Range: 0..2.
	Temperature float64 `koanf:"temperature"`

	// TransientRetries is the retry count for timeouts and rate
	// limits, below the critic's semantic retry. Range: 0..10.
	TransientRetries int `koanf:"transient_retries"`

	// Concurrency bounds parallel unit generation within one stage.
	// Range: 1..32.
	Concurrency int `koanf:"concurrency"`
}

// CriticConfig tunes raw-output validation.
type CriticConfig struct {
	// MinWords below which output is flagged too_short. Range: 10..2000.
	MinWords int `koanf:"min_words"`

	// PreambleSimilarity is the trigram-similarity threshold for the
	// fuzzy preamble match. Range: 0.2..0.95.
	PreambleSimilarity float64 `koanf:"preamble_similarity"`

	// DriftReferences is how many third-person references inside a
	// first-person narrative count as perspective drift. Range: 2..20.
	DriftReferences int `koanf:"drift_references"`

	// DialogueSaturation is the max fraction of words inside quotes
	// before output is considered corrupted. Range: 0.3..0.95.
	DialogueSaturation float64 `koanf:"dialogue_saturation"`

	// LengthBonusCapWords bounds the score bonus for longer output.
	LengthBonusCapWords int `koanf:"length_bonus_cap_words"`
}

// PostprocessConfig tunes the deterministic repair pipeline.
type PostprocessConfig struct {
	// MinKeepWords and MinKeepParagraphs form the salvage floor:
	// cleanup that would strip below both restores the original text.
	MinKeepWords      int `koanf:"min_keep_words"`
	MinKeepParagraphs int `koanf:"min_keep_paragraphs"`

	// SalvageFactor: the original must be at least this many times the
	// word floor before salvage restoration applies. Range: 2..10.
	SalvageFactor int `koanf:"salvage_factor"`

	// TailWindowWords is the suffix window checked for verbatim
	// re-occurrence earlier in the text. Range: 5..100.
	TailWindowWords int `koanf:"tail_window_words"`

	// ParagraphSimilarity is the token set-overlap threshold for
	// paragraph-level duplicate drops. Range: 0.5..0.99.
	ParagraphSimilarity float64 `koanf:"paragraph_similarity"`

	// ParaphraseSimilarity is the window-similarity threshold for
	// paraphrased-restart truncation. Range: 0.5..0.99.
	ParaphraseSimilarity float64 `koanf:"paraphrase_similarity"`

	// ParaphraseWindow is the paragraph-group size compared pairwise.
	// Range: 2..8.
	ParaphraseWindow int `koanf:"paraphrase_window"`

	// Language is the expected narrative language tag ("en").
	Language string `koanf:"language"`

	// ForeignMinCluster is how many adjacent foreign-looking tokens are
	// required before a foreign phrase is flagged. Range: 2..10.
	ForeignMinCluster int `koanf:"foreign_min_cluster"`

	// ForeignWhitelist lists foreign terms that are never flagged.
	ForeignWhitelist []string `koanf:"foreign_whitelist"`

	// Rules are repetition-limiter patterns loaded at run start.
	Rules []RuleConfig `koanf:"rules"`
}

// RuleConfig is one repetition-limiter pattern. Pattern must compile as a
// regular expression; MaxOccurrences is the per-unit cap.
type RuleConfig struct {
	Name           string `koanf:"name"`
	Pattern        string `koanf:"pattern"`
	MaxOccurrences int    `koanf:"max_occurrences"`
}

// EmbeddingsConfig enables embedding-based paraphrase detection in the
// repair pipeline. Disabled, the pipeline falls back to token-bigram
// overlap.
type EmbeddingsConfig struct {
	Enabled bool   `koanf:"enabled"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

// IntegrityConfig tunes the post-stage aggregate invariants.
type IntegrityConfig struct {
	// Mode is the defense mode: observe, protect, or aggressive.
	Mode string `koanf:"mode"`

	// MaxUnitDrop: fraction of units that may disappear. Range: 0.1..0.9.
	MaxUnitDrop float64 `koanf:"max_unit_drop"`

	// MaxPrefixShare: fraction of units allowed to share an identical
	// opening span. Range: 0.05..0.9.
	MaxPrefixShare float64 `koanf:"max_prefix_share"`

	// MaxShrinkage: allowed drop in average unit length. Range: 0.1..0.9.
	MaxShrinkage float64 `koanf:"max_shrinkage"`

	// MaxDefectShare: fraction of units that may carry a hard defect
	// after a stage. Range: 0.05..0.9.
	MaxDefectShare float64 `koanf:"max_defect_share"`

	// MaxFingerprintDrop: allowed drop in distinct content
	// fingerprints. Range: 0.1..0.9.
	MaxFingerprintDrop float64 `koanf:"max_fingerprint_drop"`

	// BreakerThreshold is the consecutive stage-failure count that
	// halts the run. Range: 1..10.
	BreakerThreshold int `koanf:"breaker_threshold"`
}

// BudgetConfig caps defensive spend.
type BudgetConfig struct {
	// RetriesPerStage caps critic retries within one stage. Range: 0..10.
	RetriesPerStage int `koanf:"retries_per_stage"`

	// RewriteCap caps rewrite operations across the whole run. Range: 0..100.
	RewriteCap int `koanf:"rewrite_cap"`

	// DefenseRatioWarn is the advisory defense/primary token ratio.
	// Range: 0.05..1.0. Never blocking.
	DefenseRatioWarn float64 `koanf:"defense_ratio_warn"`
}

// TelemetryConfig controls persisted artifacts.
type TelemetryConfig struct {
	// Dir holds the append-only metrics, incident, and audit logs plus
	// the point-in-time run-status file.
	Dir string `koanf:"dir"`

	// DriftNotable is the per-defect rate delta (vs the prior run)
	// reported as drift. Range: 0.01..1.0.
	DriftNotable float64 `koanf:"drift_notable"`
}

// HTTPConfig controls the optional status server.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// LoggingConfig mirrors logging.Config for file/env loading.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
