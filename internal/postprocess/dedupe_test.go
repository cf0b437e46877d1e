package postprocess

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAtStitchMarker(t *testing.T) {
	in := "First take of the scene.\n\n---\n\nSecond take of the scene, slightly different."
	out := splitAtStitchMarker(in, noAudit)

	require.True(t, strings.HasPrefix(in, out))
	assert.NotContains(t, out, "Second take")
}

func TestTruncateTailRepetition(t *testing.T) {
	passage := "the lighthouse beam swept across the bay and the keeper climbed the spiral stairs"
	in := "An opening paragraph sets the scene near the water. " + passage + ". Some middle text follows here. " + passage

	out := truncateTailRepetition(in, 8, noAudit)

	require.True(t, strings.HasPrefix(in, out))
	assert.Equal(t, 1, strings.Count(out, "keeper climbed the spiral stairs"))
}

func TestTruncateTailRepetitionFixpoint(t *testing.T) {
	passage := "the lighthouse beam swept across the bay and the keeper climbed the spiral stairs tonight"
	in := "An opening line before the loop begins in earnest here. " +
		passage + " " + passage + " " + passage

	out := truncateTailRepetition(in, 8, noAudit)

	assert.Equal(t, 1, strings.Count(out, "spiral stairs"))
	// A second invocation finds nothing left to remove.
	assert.Equal(t, out, truncateTailRepetition(out, 8, noAudit))
}

func TestTruncateTailIgnoresMidWordMatch(t *testing.T) {
	// "on the mat" appears inside "carrion the matter" only as a raw
	// substring; a word-straddling hit must not truncate anything.
	in := "Scraps of carrion the matter settled over, and then the old cat sat on the mat"
	assert.Equal(t, in, truncateTailRepetition(in, 3, noAudit))
}

func TestTruncateTailNoFalsePositiveOnShortText(t *testing.T) {
	in := "only a handful of words here"
	assert.Equal(t, in, truncateTailRepetition(in, 8, noAudit))
}

func TestDropDuplicateParagraphs(t *testing.T) {
	a := "The storm rolled in from the west, dark clouds stacking over the ridge."
	b := "She lit the stove and waited for the kettle, listening to the wind."
	aAgain := "The storm rolled in from the west, its dark clouds stacking over the ridge."

	out := dropDuplicateParagraphs(a+"\n\n"+b+"\n\n"+aAgain, 0.82, noAudit)

	assert.Contains(t, out, "kettle")
	assert.Equal(t, 1, strings.Count(out, "stacking over the ridge"))
}

func TestDropDuplicateParagraphsKeepsDistinctProse(t *testing.T) {
	in := "The storm rolled in from the west.\n\nShe lit the stove and waited.\n\nMorning came grey and quiet."
	out := dropDuplicateParagraphs(in, 0.82, noAudit)
	assert.Equal(t, in, out)
}

// fixedEmbedder returns preset vectors per document index.
type fixedEmbedder struct {
	vectors [][]float32
}

func (f *fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	return f.vectors[:len(texts)], nil
}

func TestParaphrasedRestartTruncatesAtLaterWindow(t *testing.T) {
	paras := []string{
		"He packed the satchel before sunrise and left without a word.",
		"The road out of the valley was slick with last night's rain.",
		"Before dawn he filled his satchel and slipped away in silence.",
		"Rain from the previous evening had left the valley road treacherous.",
	}
	in := strings.Join(paras, "\n\n")

	// Windows of two paragraphs; the embedder marks window 1 as a
	// paraphrase of window 0.
	emb := &fixedEmbedder{vectors: [][]float32{{1, 0}, {0.95, 0.3}}}
	opts := DedupeOptions{ParaphraseSimilarity: 0.86, ParaphraseWindow: 2}

	out := truncateParaphrasedRestart(context.Background(), in, opts, emb, noAudit)

	require.True(t, strings.HasPrefix(in, out))
	assert.Contains(t, out, "slick with last night's rain")
	assert.NotContains(t, out, "slipped away in silence")
}

func TestParaphrasedRestartBigramFallback(t *testing.T) {
	block := "The keeper climbed the spiral stairs while the beam swept across the dark bay below the cliffs."
	other := "Down in the village the fishermen hauled their nets ashore under a thin morning fog."
	in := block + "\n\n" + other + "\n\n" + block + "\n\n" + other

	opts := DedupeOptions{ParaphraseSimilarity: 0.86, ParaphraseWindow: 2}
	out := truncateParaphrasedRestart(context.Background(), in, opts, nil, noAudit)

	assert.Equal(t, block+"\n\n"+other, out)
}

func TestDedupePassesOnlyRemoveTrailingOrLaterContent(t *testing.T) {
	in := "Unique opening paragraph that appears once.\n\nA second distinct paragraph follows it."
	out := dedupe(context.Background(), in, DedupeOptions{
		TailWindowWords:      8,
		ParagraphSimilarity:  0.82,
		ParaphraseSimilarity: 0.86,
		ParaphraseWindow:     3,
	}, nil, noAudit)

	assert.Equal(t, in, out)
}
