package postprocess

import (
	"context"
	"regexp"
	"strings"
)

// stitchMarker matches explicit restart separators a provider sometimes
// emits between two takes of the same content.
var stitchMarker = regexp.MustCompile(`(?m)^\s*(?:-{3,}|={3,}|\*\s?\*\s?\*)\s*$`)

// DedupeOptions tune the duplicate-detection passes.
type DedupeOptions struct {
	// TailWindowWords is the suffix window checked for verbatim
	// re-occurrence earlier in the text.
	TailWindowWords int

	// ParagraphSimilarity is the token set-overlap threshold above
	// which a later paragraph is dropped as a duplicate.
	ParagraphSimilarity float64

	// ParaphraseSimilarity is the window-similarity threshold above
	// which a later window is truncated as a paraphrased restart.
	ParaphraseSimilarity float64

	// ParaphraseWindow is the paragraph-group size compared pairwise.
	// Windows never overlap, so shared transitional language between
	// adjacent paragraphs is not flagged.
	ParaphraseWindow int
}

// Embedder provides semantic similarity for paraphrase detection. The
// langchaingo embeddings.Embedder satisfies it. Nil falls back to
// token-bigram overlap.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// dedupe runs the four duplicate-detection passes in order: stitch split,
// verbatim tail repetition, paragraph-level overlap, paraphrased restarts.
// All passes only ever remove trailing or later content.
func dedupe(ctx context.Context, text string, opts DedupeOptions, embedder Embedder, audit func(phase, rule, removed string)) string {
	text = splitAtStitchMarker(text, audit)
	text = truncateTailRepetition(text, opts.TailWindowWords, audit)
	text = dropDuplicateParagraphs(text, opts.ParagraphSimilarity, audit)
	text = truncateParaphrasedRestart(ctx, text, opts, embedder, audit)
	return normalizeWhitespace(text)
}

// splitAtStitchMarker keeps only the first segment when an explicit
// restart separator is present.
func splitAtStitchMarker(text string, audit func(phase, rule, removed string)) string {
	loc := stitchMarker.FindStringIndex(text)
	if loc == nil {
		return text
	}
	audit("dedupe", "stitch_marker", text[loc[0]:])
	return text[:loc[0]]
}

// truncateTailRepetition detects the tail N words reappearing earlier and
// truncates at the later copy. Repeats until the tail is unique, so a
// provider loop that emitted the same passage several times collapses to
// one copy in a single pass.
func truncateTailRepetition(text string, window int, audit func(phase, rule, removed string)) string {
	if window <= 0 {
		return text
	}
	for i := 0; i < 8; i++ {
		next, changed := truncateTailOnce(text, window, audit)
		if !changed {
			return next
		}
		text = next
	}
	return text
}

func truncateTailOnce(text string, window int, audit func(phase, rule, removed string)) (string, bool) {
	words := strings.Fields(text)
	if len(words) < window*2 {
		return text, false
	}
	needle := strings.Join(words[len(words)-window:], " ")
	normalized := strings.Join(words, " ")
	haystack := normalized[:len(normalized)-len(needle)]
	if !occursWordAligned(haystack, needle) {
		return text, false
	}

	// The tail duplicates earlier content: cut the raw text at the
	// start of the final copy.
	cut := rawIndexOfWord(text, len(words)-window)
	if cut <= 0 {
		return text, false
	}
	audit("dedupe", "tail_repetition", text[cut:])
	return strings.TrimRight(text[:cut], " \t\n"), true
}

// occursWordAligned reports whether needle appears in haystack starting at
// a word boundary and not ending mid-word. A match may end at trailing
// punctuation ("spiral stairs" against "spiral stairs.") but never inside
// a longer word, so "on the mat" cannot match across "carrion the matter".
func occursWordAligned(haystack, needle string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], needle)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(needle)
		startOK := start == 0 || haystack[start-1] == ' '
		endOK := end == len(haystack) || !isWordChar(haystack[end])
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// rawIndexOfWord returns the byte offset of the n-th word in text.
func rawIndexOfWord(text string, n int) int {
	inWord := false
	count := 0
	for i, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !isSpace && !inWord {
			if count == n {
				return i
			}
			count++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return -1
}

// dropDuplicateParagraphs removes later paragraphs whose token sets
// overlap an earlier paragraph above the threshold.
func dropDuplicateParagraphs(text string, threshold float64, audit func(phase, rule, removed string)) string {
	if threshold <= 0 {
		return text
	}
	paras := paragraphs(text)
	if len(paras) < 2 {
		return text
	}

	sets := make([]map[string]bool, len(paras))
	for i, p := range paras {
		sets[i] = tokenSet(p)
	}

	kept := make([]string, 0, len(paras))
	keptSets := make([]map[string]bool, 0, len(paras))
	for i, p := range paras {
		dup := false
		for _, earlier := range keptSets {
			if jaccard(sets[i], earlier) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			audit("dedupe", "paragraph_overlap", p)
			continue
		}
		kept = append(kept, p)
		keptSets = append(keptSets, sets[i])
	}
	if len(kept) == len(paras) {
		return text
	}
	return strings.Join(kept, "\n\n")
}

// truncateParaphrasedRestart groups paragraphs into non-overlapping
// windows and compares later windows against earlier ones. The first later
// window that paraphrases an earlier one truncates the text from that
// window onward.
func truncateParaphrasedRestart(ctx context.Context, text string, opts DedupeOptions, embedder Embedder, audit func(phase, rule, removed string)) string {
	if opts.ParaphraseSimilarity <= 0 || opts.ParaphraseWindow <= 0 {
		return text
	}
	paras := paragraphs(text)
	if len(paras) < opts.ParaphraseWindow*2 {
		return text
	}

	var windows []string
	var starts []int // paragraph index of each window start
	for i := 0; i+opts.ParaphraseWindow <= len(paras); i += opts.ParaphraseWindow {
		windows = append(windows, strings.Join(paras[i:i+opts.ParaphraseWindow], "\n\n"))
		starts = append(starts, i)
	}
	if len(windows) < 2 {
		return text
	}

	sim := windowSimilarities(ctx, windows, embedder)

	for later := 1; later < len(windows); later++ {
		for earlier := 0; earlier < later; earlier++ {
			if sim(earlier, later) >= opts.ParaphraseSimilarity {
				keep := strings.Join(paras[:starts[later]], "\n\n")
				audit("dedupe", "paraphrase_window", strings.Join(paras[starts[later]:], "\n\n"))
				return keep
			}
		}
	}
	return text
}

// windowSimilarities returns a pairwise similarity function over windows:
// embedding cosine similarity when an embedder is available and succeeds,
// token-bigram overlap otherwise.
func windowSimilarities(ctx context.Context, windows []string, embedder Embedder) func(i, j int) float64 {
	if embedder != nil {
		if vectors, err := embedder.EmbedDocuments(ctx, windows); err == nil && len(vectors) == len(windows) {
			return func(i, j int) float64 { return cosine(vectors[i], vectors[j]) }
		}
	}
	sets := make([]map[string]bool, len(windows))
	for i, w := range windows {
		sets[i] = bigramSet(w)
	}
	return func(i, j int) float64 { return jaccard(sets[i], sets[j]) }
}
