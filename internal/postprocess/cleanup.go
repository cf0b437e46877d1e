package postprocess

import (
	"regexp"
	"strings"
)

// Leading assistant preambles stripped by phase (a) of cleanup. Matched
// against whole leading lines, never mid-text.
var preambleLine = regexp.MustCompile(`(?i)^\s*(certainly|sure|of course|as requested|here is|here's|below is|i have revised|i've revised|i'd be happy)[^\n]*$`)

// Markers at which phase (b) truncates. Everything after the first match is
// discarded; text before it is never altered.
var trailingMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?mi)^\s*the rest (?:of the \w+ )?remains? unchanged.*$`),
	regexp.MustCompile(`(?mi)^\s*rest remains the same.*$`),
	regexp.MustCompile(`(?mi)^\s*changes\s+made\s*:.*$`),
	regexp.MustCompile(`(?mi)^\s*key\s+changes\s*:.*$`),
	regexp.MustCompile(`(?mi)^\s*analysis\s*:.*$`),
	regexp.MustCompile(`(?mi)^\s*i\s+made\s+the\s+following.*$`),
	regexp.MustCompile(`(?mi)^\s*in\s+this\s+revision\b.*$`),
	regexp.MustCompile(`(?mi)^\s*to\s+be\s+continued\b.*$`),
}

// hardMetaMarkers indicate text that still needs regeneration even after a
// salvage restoration.
var hardMetaMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)the rest (?:of the \w+ )?remains? unchanged`),
	regexp.MustCompile(`(?mi)^\s*(?:#+\s*)?version\s+\d+\b`),
	regexp.MustCompile(`(?mi)^\s*changes\s+made\s*:`),
}

// Inline structural leakage removed line-by-line in phase (d): markdown
// headers and bracketed stage directions.
var (
	headerLine         = regexp.MustCompile(`^\s*#{1,6}\s+\S`)
	stageDirectionLine = regexp.MustCompile(`^\s*\[[^\]]{1,80}\]\s*$`)
	versionLabelLine   = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:version\s+\d+|option\s+[a-d])\s*:?\s*$`)
)

// CleanupOptions tune the multi-phase cleanup pass.
type CleanupOptions struct {
	// MinKeepWords and MinKeepParagraphs form the salvage floor.
	MinKeepWords      int
	MinKeepParagraphs int

	// SalvageFactor: the pre-cleanup text must be at least this many
	// times MinKeepWords before salvage restoration applies.
	SalvageFactor int
}

// CleanupResult reports what cleanup did.
type CleanupResult struct {
	Text string

	// Salvaged is true when stripping went too deep and the pre-cleanup
	// text was restored instead.
	Salvaged bool

	// NeedsRegeneration marks salvaged text that still carries hard
	// meta-markers and should be regenerated downstream.
	NeedsRegeneration bool
}

// cleanup runs the multi-phase cleanup: (a) strip leading preambles,
// (b) truncate at the first trailing marker, (c) salvage guardrail,
// (d) remove inline structural leakage, (e) normalize whitespace.
func cleanup(text string, opts CleanupOptions, audit func(phase, rule, removed string)) CleanupResult {
	original := text

	// (a) leading preamble lines
	text = stripLeadingPreamble(text, audit)

	// (b) first trailing marker wins; text before it is never touched.
	text = truncateAtFirstMarker(text, audit)

	// (c) salvage guardrail
	if opts.MinKeepWords > 0 {
		cleanWords := wordCount(text)
		cleanParas := len(paragraphs(text))
		floorBreached := cleanWords < opts.MinKeepWords || cleanParas < opts.MinKeepParagraphs
		substantiallyLarger := wordCount(original) >= opts.SalvageFactor*opts.MinKeepWords &&
			wordCount(original) > cleanWords

		if floorBreached && substantiallyLarger {
			audit("cleanup", "salvage_restore", "")
			result := CleanupResult{Text: normalizeWhitespace(original), Salvaged: true}
			for _, re := range hardMetaMarkers {
				if re.MatchString(original) {
					result.NeedsRegeneration = true
					break
				}
			}
			return result
		}
	}

	// (d) inline structural leakage
	text = stripStructuralLines(text, audit)

	// (e) whitespace
	return CleanupResult{Text: normalizeWhitespace(text)}
}

func stripLeadingPreamble(text string, audit func(phase, rule, removed string)) string {
	lines := strings.Split(text, "\n")
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			i++
			continue
		}
		if preambleLine.MatchString(lines[i]) {
			audit("cleanup", "leading_preamble", lines[i])
			i++
			continue
		}
		break
	}
	if i == 0 {
		return text
	}
	return strings.Join(lines[i:], "\n")
}

func truncateAtFirstMarker(text string, audit func(phase, rule, removed string)) string {
	cut := -1
	for _, re := range trailingMarkers {
		if loc := re.FindStringIndex(text); loc != nil {
			if cut == -1 || loc[0] < cut {
				cut = loc[0]
			}
		}
	}
	if cut == -1 {
		return text
	}
	audit("cleanup", "trailing_marker", text[cut:])
	return text[:cut]
}

func stripStructuralLines(text string, audit func(phase, rule, removed string)) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		switch {
		case headerLine.MatchString(line):
			audit("cleanup", "markdown_header", line)
		case stageDirectionLine.MatchString(line):
			audit("cleanup", "stage_direction", line)
		case versionLabelLine.MatchString(line):
			audit("cleanup", "version_label", line)
		default:
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
