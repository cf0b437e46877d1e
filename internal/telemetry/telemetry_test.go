package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyguard/internal/budget"
	"github.com/fyrsmithlabs/storyguard/internal/critic"
	"github.com/fyrsmithlabs/storyguard/internal/postprocess"
)

func TestSinkAppendAndPreviousRun(t *testing.T) {
	sink, err := NewSink(t.TempDir(), nil)
	require.NoError(t, err)

	_, ok, err := sink.PreviousRun()
	require.NoError(t, err)
	assert.False(t, ok)

	first := RunRecord{RunID: "run-1", Stages: map[string]*StageMetrics{
		"draft": {Units: 10, Defects: map[string]int{"preamble": 2}},
	}}
	second := RunRecord{RunID: "run-2", Stages: map[string]*StageMetrics{
		"draft": {Units: 10, Defects: map[string]int{"preamble": 6}},
	}}
	require.NoError(t, sink.AppendRun(first))
	require.NoError(t, sink.AppendRun(second))

	got, ok, err := sink.PreviousRun()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-2", got.RunID)
}

func TestSinkStatusAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir, nil)
	require.NoError(t, err)

	require.NoError(t, sink.WriteStatus(Status{RunID: "run-1", Stage: "draft"}))
	require.NoError(t, sink.WriteStatus(Status{RunID: "run-1", Stage: "revise"}))

	data, err := os.ReadFile(filepath.Join(dir, "status.json"))
	require.NoError(t, err)

	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, "revise", st.Stage)
	assert.False(t, st.UpdatedAt.IsZero())

	// No stray temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSinkAuditorAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir, nil)
	require.NoError(t, err)

	a := sink.Auditor()
	a.Record(postprocess.AuditEntry{Time: time.Now(), UnitID: "u1", Phase: "cleanup", Rule: "leading_preamble", Removed: "Sure!"})
	a.Record(postprocess.AuditEntry{Time: time.Now(), UnitID: "u2", Phase: "dedupe", Rule: "tail_repetition"})

	data, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)

	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines)
}

func TestArtifactMetricsAggregation(t *testing.T) {
	m := NewArtifactMetrics("run-1")
	m.RecordUnit("draft", true, []critic.DefectKind{critic.DefectPreamble})
	m.RecordUnit("draft", false, nil)
	m.RecordSalvage("draft")
	m.RecordRollback("revise")

	rec := m.Finalize(budget.Snapshot{DefenseRatio: 0.2}, false, "")

	require.Contains(t, rec.Stages, "draft")
	assert.Equal(t, 2, rec.Stages["draft"].Units)
	assert.Equal(t, 1, rec.Stages["draft"].Retries)
	assert.Equal(t, 1, rec.Stages["draft"].Salvages)
	assert.Equal(t, 1, rec.Stages["draft"].Defects["preamble"])
	assert.True(t, rec.Stages["revise"].Rolled)
	assert.Equal(t, "run-1", rec.RunID)
}

func TestCompareDefectRates(t *testing.T) {
	prev := RunRecord{Stages: map[string]*StageMetrics{
		"draft": {Units: 10, Defects: map[string]int{"preamble": 1}},
	}}
	cur := RunRecord{Stages: map[string]*StageMetrics{
		"draft": {Units: 10, Defects: map[string]int{"preamble": 5, "too_short": 1}},
	}}

	drifts := CompareDefectRates(prev, cur, 0.2)

	require.Len(t, drifts, 1)
	assert.Equal(t, "preamble", drifts[0].Kind)
	assert.InDelta(t, 0.4, drifts[0].Delta, 0.001)

	// Lower threshold also surfaces the new defect kind.
	drifts = CompareDefectRates(prev, cur, 0.05)
	require.Len(t, drifts, 2)
	assert.Equal(t, "too_short", drifts[1].Kind)
}
