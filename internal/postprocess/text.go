package postprocess

import (
	"math"
	"regexp"
	"strings"
)

var (
	multiBlankLines = regexp.MustCompile(`\n{3,}`)
	trailingSpaces  = regexp.MustCompile(`[ \t]+\n`)
)

// paragraphs splits text on blank lines, preserving order.
func paragraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// wordCount counts whitespace-separated words.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

// normalizeWhitespace collapses runs of blank lines to one and strips
// trailing spaces. Idempotent.
func normalizeWhitespace(text string) string {
	text = trailingSpaces.ReplaceAllString(text, "\n")
	text = multiBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// tokenSet lowercases and splits text into a set of word tokens.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, `.,;:!?"'()[]—-“”`)
		if f != "" {
			set[f] = true
		}
	}
	return set
}

// jaccard computes set similarity of two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// bigramSet builds a set of adjacent token pairs; the fallback similarity
// signal when no embedder is configured.
func bigramSet(text string) map[string]bool {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool)
	for i := 0; i+1 < len(fields); i++ {
		set[fields[i]+" "+fields[i+1]] = true
	}
	return set
}

// cosine computes cosine similarity of two vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
