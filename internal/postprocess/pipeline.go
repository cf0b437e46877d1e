package postprocess

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/logging"
)

// Options configure the full pipeline for one unit.
type Options struct {
	Cleanup     CleanupOptions
	Dedupe      DedupeOptions
	Perspective PerspectiveOptions
	Language    LanguageOptions
	Rules       []Rule
}

// Result is the pipeline outcome for one unit.
type Result struct {
	Text              string
	Salvaged          bool
	NeedsRegeneration bool
	LanguageFindings  []LanguageFinding
}

// Pipeline runs the repair passes in a fixed order. Construct once and
// reuse across units; it holds no per-unit state.
type Pipeline struct {
	opts     Options
	embedder Embedder
	auditor  Auditor
	logger   *logging.Logger
}

// NewPipeline wires a pipeline. embedder may be nil, which disables
// semantic paraphrase detection in favor of the lexical fallback.
func NewPipeline(opts Options, embedder Embedder, auditor Auditor, logger *logging.Logger) *Pipeline {
	if auditor == nil {
		auditor = NopAuditor{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{opts: opts, embedder: embedder, auditor: auditor, logger: logger}
}

// Run processes one unit's raw text. Pass order matters: cleanup strips
// markers the dedupe pass keys on, dedupe shrinks the text perspective
// and repetition then operate on, and language flagging sees the final
// form.
func (p *Pipeline) Run(ctx context.Context, unitID, raw string) Result {
	audit := func(phase, rule, removed string) {
		p.auditor.Record(AuditEntry{Time: time.Now(), UnitID: unitID, Phase: phase, Rule: rule, Removed: removed})
	}

	cr := cleanup(raw, p.opts.Cleanup, audit)
	if cr.NeedsRegeneration {
		p.logger.Warn(ctx, "cleanup left hard meta-markers, flagging for regeneration", zap.String("unit.id", unitID))
		return Result{Text: cr.Text, Salvaged: cr.Salvaged, NeedsRegeneration: true}
	}

	text := dedupe(ctx, cr.Text, p.opts.Dedupe, p.embedder, audit)
	text = enforcePerspective(text, p.opts.Perspective, audit)
	text = limitRepetition(text, p.opts.Rules, audit)
	text = normalizeWhitespace(text)

	findings := detectForeignClusters(text, p.opts.Language)
	for _, f := range findings {
		p.logger.Warn(ctx, "foreign-script cluster detected",
			zap.String("unit.id", unitID),
			zap.Int("cluster.words", f.Words))
	}

	return Result{
		Text:              text,
		Salvaged:          cr.Salvaged,
		NeedsRegeneration: len(findings) > 0,
		LanguageFindings:  findings,
	}
}
