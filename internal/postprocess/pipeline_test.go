package postprocess

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryAuditor collects entries for assertions.
type memoryAuditor struct {
	entries []AuditEntry
}

func (m *memoryAuditor) Record(entry AuditEntry) {
	m.entries = append(m.entries, entry)
}

func testOptions() Options {
	return Options{
		Cleanup: CleanupOptions{MinKeepWords: 60, MinKeepParagraphs: 1, SalvageFactor: 3},
		Dedupe: DedupeOptions{
			TailWindowWords:      8,
			ParagraphSimilarity:  0.82,
			ParaphraseSimilarity: 0.86,
			ParaphraseWindow:     3,
		},
		Perspective: PerspectiveOptions{Protagonist: "Anna", Gender: "f"},
		Language:    LanguageOptions{MinClusterWords: 3},
		Rules: []Rule{{
			Name:           "heart_pounding",
			Pattern:        regexp.MustCompile(`(?i)\bheart\s+pound\w*`),
			MaxOccurrences: 2,
		}},
	}
}

func TestPipelineStripsPreambleAndTrailingAnalysis(t *testing.T) {
	body := "The rain hammered the tin roof while I counted the minutes until dawn."
	raw := "Certainly! Here is the revised scene:\n\n" + body + "\n\nChanges made:\n- fixed typo"

	p := NewPipeline(testOptions(), nil, nil, nil)
	got := p.Run(context.Background(), "unit-1", raw)

	require.Equal(t, body, got.Text)
	assert.False(t, got.Salvaged)
	assert.False(t, got.NeedsRegeneration)
}

func TestPipelineIdempotent(t *testing.T) {
	raw := "Sure, here's the scene:\n\n" +
		"Anna lit the lamp and set it on the sill. My heart pounded once.\n\n" +
		"The wind rattled the shutters until the latch gave way at last.\n\n" +
		"The wind rattled the shutters until the latch gave way at last.\n\n" +
		"Changes made:\n- removed repetition"

	p := NewPipeline(testOptions(), nil, nil, nil)
	first := p.Run(context.Background(), "unit-1", raw)
	second := p.Run(context.Background(), "unit-1", first.Text)

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, countMatches(first.Text, `latch gave way`))
	assert.Contains(t, first.Text, "I lit the lamp")
}

func TestPipelineFlagsForeignClusters(t *testing.T) {
	raw := "She walked on. и ветер гнал листья мимо неё all the way home."

	p := NewPipeline(testOptions(), nil, nil, nil)
	got := p.Run(context.Background(), "unit-2", raw)

	require.Len(t, got.LanguageFindings, 1)
	assert.True(t, got.NeedsRegeneration)
}

func TestPipelineRecordsAuditEntries(t *testing.T) {
	mem := &memoryAuditor{}
	p := NewPipeline(testOptions(), nil, mem, nil)

	raw := "Of course! Here is the scene:\n\nProse that stays in the output.\n\nAnalysis: this version improves pacing."
	got := p.Run(context.Background(), "unit-3", raw)

	assert.Equal(t, "Prose that stays in the output.", got.Text)
	require.NotEmpty(t, mem.entries)
	for _, e := range mem.entries {
		assert.Equal(t, "unit-3", e.UnitID)
		assert.False(t, e.Time.IsZero())
	}
	phases := make(map[string]bool)
	for _, e := range mem.entries {
		phases[e.Phase] = true
	}
	assert.True(t, phases["cleanup"])
}

func TestPipelineSalvagePropagatesRegenerationFlag(t *testing.T) {
	head := prose(40)
	tail := prose(156)
	raw := head + "\n\nThe rest remains unchanged.\n\n" + tail

	p := NewPipeline(testOptions(), nil, nil, nil)
	got := p.Run(context.Background(), "unit-4", raw)

	assert.True(t, got.NeedsRegeneration)
	assert.NotEmpty(t, got.Text)
}

func countMatches(text, pattern string) int {
	return len(regexp.MustCompile(pattern).FindAllString(text, -1))
}
