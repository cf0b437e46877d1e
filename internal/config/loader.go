// Package config provides configuration loading for storyguard.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (PROVIDER_MODEL, INTEGRITY_MODE, etc.)
//  2. YAML config file
//  3. Hardcoded defaults
//
// An empty configPath skips the file layer entirely. Returns the config and
// the list of threshold corrections applied by Validate; callers should log
// each correction as a warning.
func Load(configPath string) (*Config, []Correction, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	// Environment variables use underscore separator and are uppercased.
	// Example: INTEGRITY_BREAKER_THRESHOLD -> integrity.breaker_threshold
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Split on first underscore only: section, then field_name.
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	corrections, err := cfg.Validate()
	if err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, corrections, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "claude-3-5-sonnet-20241022"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 120 * time.Second
	}
	if cfg.Provider.RateLimit == 0 {
		cfg.Provider.RateLimit = 50.0 / 60.0
	}
	if cfg.Provider.Burst == 0 {
		cfg.Provider.Burst = 5
	}

	if cfg.Gateway.ContextLimit == 0 {
		cfg.Gateway.ContextLimit = 200000
	}
	if cfg.Gateway.SafetyMargin == 0 {
		cfg.Gateway.SafetyMargin = 2048
	}
	if cfg.Gateway.MaxTokens == 0 {
		cfg.Gateway.MaxTokens = 4096
	}
	if cfg.Gateway.Temperature == 0 {
		cfg.Gateway.Temperature = 0.7
	}
	if cfg.Gateway.TransientRetries == 0 {
		cfg.Gateway.TransientRetries = 3
	}
	if cfg.Gateway.Concurrency == 0 {
		cfg.Gateway.Concurrency = 4
	}

	if cfg.Critic.MinWords == 0 {
		cfg.Critic.MinWords = 120
	}
	if cfg.Critic.PreambleSimilarity == 0 {
		cfg.Critic.PreambleSimilarity = 0.45
	}
	if cfg.Critic.DriftReferences == 0 {
		cfg.Critic.DriftReferences = 3
	}
	if cfg.Critic.DialogueSaturation == 0 {
		cfg.Critic.DialogueSaturation = 0.7
	}
	if cfg.Critic.LengthBonusCapWords == 0 {
		cfg.Critic.LengthBonusCapWords = 1200
	}

	if cfg.Postprocess.MinKeepWords == 0 {
		cfg.Postprocess.MinKeepWords = 60
	}
	if cfg.Postprocess.MinKeepParagraphs == 0 {
		cfg.Postprocess.MinKeepParagraphs = 2
	}
	if cfg.Postprocess.SalvageFactor == 0 {
		cfg.Postprocess.SalvageFactor = 3
	}
	if cfg.Postprocess.TailWindowWords == 0 {
		cfg.Postprocess.TailWindowWords = 20
	}
	if cfg.Postprocess.ParagraphSimilarity == 0 {
		cfg.Postprocess.ParagraphSimilarity = 0.82
	}
	if cfg.Postprocess.ParaphraseSimilarity == 0 {
		cfg.Postprocess.ParaphraseSimilarity = 0.86
	}
	if cfg.Postprocess.ParaphraseWindow == 0 {
		cfg.Postprocess.ParaphraseWindow = 3
	}
	if cfg.Postprocess.Language == "" {
		cfg.Postprocess.Language = "en"
	}
	if cfg.Postprocess.ForeignMinCluster == 0 {
		cfg.Postprocess.ForeignMinCluster = 3
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
	}

	if cfg.Integrity.Mode == "" {
		cfg.Integrity.Mode = "protect"
	}
	if cfg.Integrity.MaxUnitDrop == 0 {
		cfg.Integrity.MaxUnitDrop = 0.5
	}
	if cfg.Integrity.MaxPrefixShare == 0 {
		cfg.Integrity.MaxPrefixShare = 0.3
	}
	if cfg.Integrity.MaxShrinkage == 0 {
		cfg.Integrity.MaxShrinkage = 0.4
	}
	if cfg.Integrity.MaxDefectShare == 0 {
		cfg.Integrity.MaxDefectShare = 0.4
	}
	if cfg.Integrity.MaxFingerprintDrop == 0 {
		cfg.Integrity.MaxFingerprintDrop = 0.5
	}
	if cfg.Integrity.BreakerThreshold == 0 {
		cfg.Integrity.BreakerThreshold = 3
	}

	if cfg.Budget.RetriesPerStage == 0 {
		cfg.Budget.RetriesPerStage = 3
	}
	if cfg.Budget.RewriteCap == 0 {
		cfg.Budget.RewriteCap = 15
	}
	if cfg.Budget.DefenseRatioWarn == 0 {
		cfg.Budget.DefenseRatioWarn = 0.3
	}

	if cfg.Telemetry.Dir == "" {
		cfg.Telemetry.Dir = ".storyguard"
	}
	if cfg.Telemetry.DriftNotable == 0 {
		cfg.Telemetry.DriftNotable = 0.1
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "localhost"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9091
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
