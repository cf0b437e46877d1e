// Package critic validates raw generation output against a fixed defect
// taxonomy and drives the at-most-one semantic retry.
//
// Validation always runs on raw, unrepaired text: the point is to measure
// provider behavior, not the repair pipeline. Repair itself belongs to the
// postprocess package.
package critic

import (
	"regexp"
	"strings"
	"unicode"
)

// DefectKind is one structurally detectable flaw in generated text.
type DefectKind string

const (
	DefectPreamble           DefectKind = "preamble"
	DefectTruncationMarker   DefectKind = "truncation_marker"
	DefectMultiVersion       DefectKind = "multi_version"
	DefectAnalysisCommentary DefectKind = "analysis_commentary"
	DefectTooShort           DefectKind = "too_short"
	DefectPerspectiveDrift   DefectKind = "perspective_drift"
	DefectUnbalancedQuotes   DefectKind = "unbalanced_quotes"
	DefectDialogueSaturation DefectKind = "dialogue_saturation"
	DefectContinuation       DefectKind = "continuation_marker"
	DefectPromptLeakage      DefectKind = "prompt_leakage"
)

// fixableDefects trigger exactly one retry with targeted feedback. The
// others rarely improve with a structural regeneration, so they are
// recorded and left to the repair pipeline.
var fixableDefects = map[DefectKind]bool{
	DefectPreamble:           true,
	DefectTruncationMarker:   true,
	DefectMultiVersion:       true,
	DefectAnalysisCommentary: true,
	DefectPromptLeakage:      true,
}

// Fixable reports whether a retry with feedback is worth one attempt.
func (d DefectKind) Fixable() bool { return fixableDefects[d] }

// Hard reports whether the defect is a hard artifact (meta prose, markers,
// leakage) rather than a soft quality signal. Hard defects dominate
// scoring and feed the integrity checker's defect-explosion invariant.
func (d DefectKind) Hard() bool {
	switch d {
	case DefectTooShort, DefectPerspectiveDrift, DefectUnbalancedQuotes:
		return false
	}
	return true
}

// Report is the critic's verdict on one raw attempt.
type Report struct {
	Defects map[DefectKind]bool
}

// Has reports whether the given defect was detected.
func (r Report) Has(kind DefectKind) bool { return r.Defects[kind] }

// HasFixable reports whether any detected defect is retry-worthy.
func (r Report) HasFixable() bool {
	for kind := range r.Defects {
		if kind.Fixable() {
			return true
		}
	}
	return false
}

// Kinds returns detected defects in stable order.
func (r Report) Kinds() []DefectKind {
	all := []DefectKind{
		DefectPreamble, DefectTruncationMarker, DefectMultiVersion,
		DefectAnalysisCommentary, DefectTooShort, DefectPerspectiveDrift,
		DefectUnbalancedQuotes, DefectDialogueSaturation,
		DefectContinuation, DefectPromptLeakage,
	}
	var kinds []DefectKind
	for _, k := range all {
		if r.Defects[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// ValidateOptions tune validation for one stage.
type ValidateOptions struct {
	// MinWords below which the output is too_short.
	MinWords int

	// PreambleSimilarity is the trigram-similarity threshold for the
	// fuzzy preamble match.
	PreambleSimilarity float64

	// DriftReferences is the third-person reference count treated as
	// perspective drift.
	DriftReferences int

	// DialogueSaturation is the max fraction of words inside quotes.
	DialogueSaturation float64

	// FirstPerson marks the narrative as first-person; drift detection
	// is skipped otherwise.
	FirstPerson bool

	// Protagonist is the narrator's name, used to spot third-person
	// references to the narrator in a first-person narrative.
	Protagonist string

	// Gender ("f"/"m") adds the matching third-person subject pronouns
	// to drift counting, so narration that drifts into pure pronoun
	// form is still caught. Empty counts the name only.
	Gender string

	// LeakFragments are contract fragments whose verbatim appearance
	// indicates prompt/system-text leakage.
	LeakFragments []string
}

// Exact greeting prefixes that mark a preamble regardless of similarity.
var preamblePrefixes = []string{
	"sure,", "sure!", "sure thing", "certainly", "of course",
	"here is", "here's", "as requested", "i'd be happy to",
	"i have revised", "i've revised", "great question",
	"below is", "the following is",
}

// preambleExemplars feed the fuzzy trigram match for reworded greetings.
var preambleExemplars = []string{
	"certainly here is the revised scene you asked for",
	"sure here's the updated version of the chapter",
	"i have rewritten the passage as requested",
	"of course below is the scene with the changes applied",
}

// assistantAnchors gate the fuzzy preamble check: the first line must
// contain one of these before trigram similarity is consulted, so prose
// that coincidentally shares vocabulary is not flagged.
var assistantAnchors = []string{
	"here", "sure", "certainly", "revised", "rewritten", "requested",
	"updated", "version", "hope", "course",
}

var truncationMarkers = []string{
	"the rest remains unchanged",
	"the rest of the scene remains",
	"rest remains the same",
	"remainder unchanged",
	"[unchanged]",
	"(rest of the text unchanged)",
	"everything else stays the same",
}

var multiVersionMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?mi)^\s*(?:#+\s*)?version\s+\d+\b`),
	regexp.MustCompile(`(?mi)^\s*(?:#+\s*)?option\s+[a-d]\b`),
	regexp.MustCompile(`(?mi)^---+\s*version\b`),
}

var analysisMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?mi)^\s*changes\s+made\s*:`),
	regexp.MustCompile(`(?mi)^\s*key\s+changes\s*:`),
	regexp.MustCompile(`(?mi)^\s*analysis\s*:`),
	regexp.MustCompile(`(?mi)^\s*note\s*:\s*i\b`),
	regexp.MustCompile(`(?mi)^\s*in\s+this\s+revision\b`),
	regexp.MustCompile(`(?mi)^\s*i\s+made\s+the\s+following\b`),
}

var continuationMarkers = []string{
	"to be continued",
	"continued in part",
	"end of part",
	"end of chapter one of",
	"...continued",
}

// driftPronouns are third-person subject pronouns that can refer to the
// narrator, counted toward perspective drift alongside the name.
var driftPronouns = map[string][]string{
	"f": {"she", "She"},
	"m": {"he", "He"},
}

// Validate classifies raw output against the defect taxonomy.
func Validate(raw string, opts ValidateOptions) Report {
	report := Report{Defects: make(map[DefectKind]bool)}
	if strings.TrimSpace(raw) == "" {
		report.Defects[DefectTooShort] = true
		return report
	}

	lower := strings.ToLower(raw)
	words := len(strings.Fields(raw))

	if hasPreamble(raw, opts.PreambleSimilarity) {
		report.Defects[DefectPreamble] = true
	}
	for _, m := range truncationMarkers {
		if strings.Contains(lower, m) {
			report.Defects[DefectTruncationMarker] = true
			break
		}
	}
	for _, re := range multiVersionMarkers {
		if re.MatchString(raw) {
			report.Defects[DefectMultiVersion] = true
			break
		}
	}
	for _, re := range analysisMarkers {
		if re.MatchString(raw) {
			report.Defects[DefectAnalysisCommentary] = true
			break
		}
	}
	for _, m := range continuationMarkers {
		if strings.Contains(lower, m) {
			report.Defects[DefectContinuation] = true
			break
		}
	}
	for _, f := range opts.LeakFragments {
		if f != "" && strings.Contains(raw, f) {
			report.Defects[DefectPromptLeakage] = true
			break
		}
	}

	if opts.MinWords > 0 && words < opts.MinWords {
		report.Defects[DefectTooShort] = true
	}
	if opts.FirstPerson && opts.DriftReferences > 0 {
		refs := 0
		if opts.Protagonist != "" {
			refs += countOutsideQuotes(raw, opts.Protagonist)
		}
		for _, p := range driftPronouns[opts.Gender] {
			refs += countOutsideQuotes(raw, p)
		}
		if refs >= opts.DriftReferences {
			report.Defects[DefectPerspectiveDrift] = true
		}
	}
	if unbalancedQuotes(raw) {
		report.Defects[DefectUnbalancedQuotes] = true
	}
	if opts.DialogueSaturation > 0 && words > 0 {
		if quotedWordFraction(raw) > opts.DialogueSaturation {
			report.Defects[DefectDialogueSaturation] = true
		}
	}

	return report
}

// hasPreamble checks exact prefixes, then the anchor-gated fuzzy match.
func hasPreamble(raw string, similarity float64) bool {
	firstLine := raw
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		firstLine = raw[:i]
	}
	trimmed := strings.ToLower(strings.TrimSpace(firstLine))

	for _, p := range preamblePrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}

	if similarity <= 0 {
		return false
	}
	anchored := false
	for _, a := range assistantAnchors {
		if strings.Contains(trimmed, a) {
			anchored = true
			break
		}
	}
	if !anchored {
		return false
	}
	for _, exemplar := range preambleExemplars {
		if trigramSimilarity(trimmed, exemplar) >= similarity {
			return true
		}
	}
	return false
}

// trigramSimilarity is Jaccard similarity over character trigrams.
func trigramSimilarity(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for g := range ta {
		if tb[g] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func trigrams(s string) map[string]bool {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	grams := make(map[string]bool)
	runes := []rune(s)
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])] = true
	}
	return grams
}

// countOutsideQuotes counts case-sensitive whole-word occurrences of name
// outside quoted spans. Character dialogue legitimately refers to the
// narrator in third person, so it never counts toward drift.
func countOutsideQuotes(text, name string) int {
	count := 0
	inQuote := false
	var current strings.Builder
	flush := func() {
		if !inQuote {
			count += countWord(current.String(), name)
		}
		current.Reset()
	}
	for _, r := range text {
		switch r {
		case '"', '“', '”':
			flush()
			if r == '"' {
				inQuote = !inQuote
			} else {
				inQuote = r == '“'
			}
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return count
}

func countWord(text, word string) int {
	count := 0
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return count
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordRune(rune(text[start-1]))
		afterOK := end >= len(text) || !isWordRune(rune(text[end]))
		if beforeOK && afterOK {
			count++
		}
		idx = end
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

// unbalancedQuotes reports mismatched straight or curly double quotes.
func unbalancedQuotes(text string) bool {
	straight, opening, closing := 0, 0, 0
	for _, r := range text {
		switch r {
		case '"':
			straight++
		case '“':
			opening++
		case '”':
			closing++
		}
	}
	return straight%2 != 0 || opening != closing
}

// quotedWordFraction returns the fraction of words inside double quotes.
func quotedWordFraction(text string) float64 {
	total := 0
	quoted := 0
	inQuote := false
	for _, w := range strings.Fields(text) {
		total++
		for _, r := range w {
			if r == '"' || r == '“' || r == '”' {
				if r == '“' {
					inQuote = true
				} else if r == '”' {
					inQuote = false
				} else {
					inQuote = !inQuote
				}
			}
		}
		if inQuote || strings.ContainsAny(w, "\"“”") {
			quoted++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(quoted) / float64(total)
}
