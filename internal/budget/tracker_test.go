package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyguard/internal/generate"
)

func TestAllowRetryPerStageCap(t *testing.T) {
	tr := NewTracker(Config{RetriesPerStage: 3, RewriteCap: 15}, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, tr.AllowRetry("draft"), "retry %d should be allowed", i+1)
	}
	assert.False(t, tr.AllowRetry("draft"))

	// Caps are per stage, not global.
	assert.True(t, tr.AllowRetry("revise"))
}

func TestAllowRewriteRunCap(t *testing.T) {
	tr := NewTracker(Config{RetriesPerStage: 3, RewriteCap: 2}, nil)

	assert.True(t, tr.AllowRewrite())
	assert.True(t, tr.AllowRewrite())
	assert.False(t, tr.AllowRewrite())
}

func TestDefenseRatio(t *testing.T) {
	tr := NewTracker(Config{RetriesPerStage: 3, RewriteCap: 15, DefenseRatioWarn: 0.3}, nil)
	assert.Zero(t, tr.DefenseRatio())

	tr.AddSpend(SpendPrimary, generate.TokenUsage{Prompt: 400, Completion: 300})
	tr.AddSpend(SpendDefense, generate.TokenUsage{Prompt: 200, Completion: 100})

	assert.InDelta(t, 0.3, tr.DefenseRatio(), 0.001)

	snap := tr.Snapshot()
	assert.Equal(t, 700, snap.Primary.Total())
	assert.Equal(t, 300, snap.Defense.Total())
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewTracker(Config{RetriesPerStage: 3, RewriteCap: 15}, nil)
	require.True(t, tr.AllowRetry("draft"))

	snap := tr.Snapshot()
	snap.RetriesByStage["draft"] = 99

	assert.Equal(t, 1, tr.Snapshot().RetriesByStage["draft"])
}
