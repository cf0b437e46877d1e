package postprocess

import (
	"regexp"
	"strings"
	"unicode"
)

// Rule caps how often a pattern may appear in one unit. Occurrences past
// the cap are removed sentence by sentence, latest first, so the earliest
// uses survive.
type Rule struct {
	Name           string
	Pattern        *regexp.Regexp
	MaxOccurrences int
}

// sensoryAnchors exempt a sentence from removal: a repeated phrase tied
// to a concrete sensory detail or a proper noun is usually deliberate.
var sensoryAnchors = regexp.MustCompile(`(?i)\b(smell|scent|taste|sound|echo|warmth|cold|rough|smooth|sting|ache|glow|hum|flicker)\w*\b`)

// limitRepetition enforces every rule's cap, preserving order of the kept
// sentences. Removal is by whole sentence and only ever shrinks the text.
func limitRepetition(text string, rules []Rule, audit func(phase, rule, removed string)) string {
	for _, r := range rules {
		text = limitOne(text, r, audit)
	}
	return text
}

func limitOne(text string, r Rule, audit func(phase, rule, removed string)) string {
	if r.MaxOccurrences <= 0 || r.Pattern == nil {
		return text
	}
	if len(r.Pattern.FindAllStringIndex(text, -1)) <= r.MaxOccurrences {
		return text
	}

	// The occurrence counter spans paragraphs; sentence removal happens
	// within each paragraph so blank-line structure survives.
	seen := 0
	paras := strings.Split(text, "\n\n")
	for pi, para := range paras {
		sentences := splitSentences(para)
		kept := sentences[:0]
		for _, s := range sentences {
			n := len(r.Pattern.FindAllStringIndex(s, -1))
			if n > 0 {
				seen += n
				if seen > r.MaxOccurrences &&
					!sensoryAnchors.MatchString(s) && !hasProperNounBeyondStart(s) {
					audit("repetition", r.Name, s)
					continue
				}
			}
			kept = append(kept, s)
		}
		if len(kept) < len(sentences) {
			paras[pi] = strings.Join(kept, " ")
		}
	}
	return normalizeWhitespace(strings.Join(paras, "\n\n"))
}

// splitSentences splits on terminal punctuation, keeping the punctuation
// and paragraph breaks attached to each sentence.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			// Consume closing quotes and trailing space.
			for i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '”' || runes[i+1] == '\'') {
				i++
				b.WriteRune(runes[i])
			}
			out = append(out, strings.TrimSpace(b.String()))
			b.Reset()
		}
	}
	if tail := strings.TrimSpace(b.String()); tail != "" {
		out = append(out, tail)
	}
	return out
}

// hasProperNounBeyondStart reports a capitalized word that is not the
// sentence opener, a rough proper-noun signal.
func hasProperNounBeyondStart(s string) bool {
	words := strings.Fields(s)
	for i := 1; i < len(words); i++ {
		w := strings.TrimLeft(words[i], `"'(`)
		if w == "I" || strings.HasPrefix(w, "I'") {
			continue
		}
		r := []rune(w)
		if len(r) > 0 && unicode.IsUpper(r[0]) {
			return true
		}
	}
	return false
}
