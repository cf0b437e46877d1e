package postprocess

import (
	"fmt"
	"regexp"
	"strings"
)

// PerspectiveOptions tune first-person enforcement.
type PerspectiveOptions struct {
	// Protagonist is the narrator's name. Empty disables the pass.
	Protagonist string

	// Gender is "f" or "m"; selects which third-person pronouns can
	// refer to the narrator.
	Gender string

	// Characters maps other character names to their gender ("f"/"m").
	// A paragraph naming a second character of the narrator's gender is
	// skipped entirely, since pronouns there are ambiguous.
	Characters map[string]string
}

// Masked span markers. U+E000 private-use characters cannot occur in
// provider output, so masking never collides with real content.
const maskRune = ''

var maskPattern = regexp.MustCompile(string(maskRune) + `(\d+)` + string(maskRune))

// maskedText holds text with protected spans replaced by placeholders.
type maskedText struct {
	text  string
	spans []string
}

// Spans protected from pronoun rewriting: quoted dialogue (straight and
// curly), italicized internal thought, bracketed message content.
var protectedSpans = []*regexp.Regexp{
	regexp.MustCompile(`"[^"\n]*"`),
	regexp.MustCompile(`\x{201c}[^\x{201c}\x{201d}\n]*\x{201d}`),
	regexp.MustCompile(`\*[^*\n]+\*`),
	regexp.MustCompile(`\[[^\[\]\n]+\]`),
}

// mask replaces protected spans with numbered placeholders.
func mask(text string) *maskedText {
	m := &maskedText{}
	for _, re := range protectedSpans {
		text = re.ReplaceAllStringFunc(text, func(span string) string {
			m.spans = append(m.spans, span)
			return fmt.Sprintf("%c%d%c", maskRune, len(m.spans)-1, maskRune)
		})
	}
	m.text = text
	return m
}

// unmask restores protected spans byte-for-byte.
func (m *maskedText) unmask(text string) string {
	return maskPattern.ReplaceAllStringFunc(text, func(ph string) string {
		var idx int
		fmt.Sscanf(ph, string(maskRune)+"%d", &idx)
		if idx >= 0 && idx < len(m.spans) {
			return m.spans[idx]
		}
		return ph
	})
}

// relativePronouns guard the lookback: a protagonist name preceded by one
// of these is part of a relative clause ("the man who had been his
// friend") and must not be rewritten.
var relativePronouns = map[string]bool{
	"who": true, "whom": true, "whose": true, "that": true, "which": true,
}

// pronounSets by gender.
var subjectPronoun = map[string]string{"f": "she", "m": "he"}
var possessivePronoun = map[string]string{"f": "her", "m": "his"}

// enforcePerspective rewrites third-person references to the protagonist
// into first person, paragraph by paragraph, leaving masked spans intact.
func enforcePerspective(text string, opts PerspectiveOptions, audit func(phase, rule, removed string)) string {
	if opts.Protagonist == "" {
		return text
	}

	paras := strings.Split(text, "\n\n")
	for i, para := range paras {
		if paragraphNamesSameGenderCharacter(para, opts) {
			continue
		}
		masked := mask(para)
		rewritten := rewriteParagraph(masked.text, opts)
		rewritten = repairClashes(rewritten, opts)
		if rewritten != masked.text {
			audit("perspective", "third_to_first", para)
		}
		paras[i] = masked.unmask(rewritten)
	}
	return strings.Join(paras, "\n\n")
}

// paragraphNamesSameGenderCharacter reports whether a second character of
// the narrator's presumed gender appears, making pronoun attribution
// ambiguous.
func paragraphNamesSameGenderCharacter(para string, opts PerspectiveOptions) bool {
	for name, gender := range opts.Characters {
		if name == opts.Protagonist || gender != opts.Gender {
			continue
		}
		if regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`).MatchString(para) {
			return true
		}
	}
	return false
}

// rewriteParagraph applies name and pronoun replacement at sentence and
// clause boundaries only.
func rewriteParagraph(text string, opts PerspectiveOptions) string {
	name := regexp.QuoteMeta(opts.Protagonist)
	subj := subjectPronoun[opts.Gender]

	// Possessive name: "Anna's coat" -> "my coat". Lookback guard via
	// captured preceding word.
	possessive := regexp.MustCompile(`(^|[^\w'])(\w+)?(\s*)` + name + `'s\b`)
	text = possessive.ReplaceAllStringFunc(text, func(match string) string {
		groups := possessive.FindStringSubmatch(match)
		if relativePronouns[strings.ToLower(groups[2])] {
			return match
		}
		my := "my"
		if groups[2] == "" && (groups[1] == "" || strings.ContainsAny(groups[1], ".!?\n")) {
			my = "My"
		}
		return groups[1] + groups[2] + groups[3] + my
	})

	// Name or gendered subject pronoun at a sentence or clause start.
	// Without a known gender pronouns are ambiguous, so only the name
	// is rewritten.
	alt := name
	if subj != "" {
		capSubj := strings.ToUpper(subj[:1]) + subj[1:]
		alt += "|" + capSubj + "|" + subj
	}
	clauseStart := regexp.MustCompile(`(^|[.!?]\s+|[,;]\s+(?:and|but|then|so)\s+)(` + alt + `)\b`)
	text = replaceClauseSubjects(text, clauseStart)

	// Mid-sentence bare name preceded by a relative pronoun stays; any
	// other mid-sentence name becomes "me" after a preposition, "I"
	// otherwise is too risky, so only object position is rewritten.
	object := regexp.MustCompile(`\b(at|to|for|with|beside|toward|towards|of|from)\s+` + name + `\b`)
	text = object.ReplaceAllString(text, "$1 me")

	return text
}

// replaceClauseSubjects rewrites each clause-start subject to "I". The
// lookback guard works on the actual match offset, so repeated identical
// clauses are each judged on their own preceding word.
func replaceClauseSubjects(text string, re *regexp.Regexp) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		// m[4]:m[5] is the subject group; m[0] the match start.
		if precededByRelativePronoun(text, m[0]) {
			continue
		}
		b.WriteString(text[last:m[4]])
		b.WriteString("I")
		last = m[5]
	}
	b.WriteString(text[last:])
	return b.String()
}

// precededByRelativePronoun checks the word immediately before offset idx.
func precededByRelativePronoun(text string, idx int) bool {
	if idx <= 0 {
		return false
	}
	before := strings.Fields(text[:idx])
	if len(before) == 0 {
		return false
	}
	last := strings.Trim(strings.ToLower(before[len(before)-1]), `.,;:!?"'`)
	return relativePronouns[last]
}

// clashPatterns fix a third-person subject colliding with a first-person
// possessive in one clause, e.g. "she said, my voice low" -> "her voice".
func repairClashes(text string, opts PerspectiveOptions) string {
	subj := subjectPronoun[opts.Gender]
	poss := possessivePronoun[opts.Gender]
	if subj == "" {
		return text
	}
	clash := regexp.MustCompile(`\b` + subj + `\s+(said|say|says|whispered|asked|replied|muttered|answered)([^.!?\n]*?),\s*my\b`)
	return clash.ReplaceAllString(text, subj+" ${1}${2}, "+poss)
}
