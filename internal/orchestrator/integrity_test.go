package orchestrator

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/storyguard/internal/critic"
	"github.com/fyrsmithlabs/storyguard/internal/run"
)

// unitText builds distinct filler prose of n words seeded by id.
func unitText(id, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d_%d", id, i)
	}
	return strings.Join(words, " ")
}

func seedState(units, wordsEach int) *run.State {
	s := run.NewState()
	for i := 0; i < units; i++ {
		u := run.NewUnit(fmt.Sprintf("unit-%d", i), unitText(i, wordsEach))
		s.Append(u)
	}
	return s
}

func violationKinds(violations []Violation) []ViolationKind {
	kinds := make([]ViolationKind, 0, len(violations))
	for _, v := range violations {
		kinds = append(kinds, v.Kind)
	}
	return kinds
}

func TestCheckerCleanStagePasses(t *testing.T) {
	s := seedState(4, 100)
	snap := s.Snapshot()

	require.NoError(t, s.Mutate(0, func(u *run.Unit) {
		u.SetClean(unitText(0, 95))
	}))

	c := NewChecker(DefaultThresholds(), ModeProtect)
	assert.Empty(t, c.Check(snap, s))
}

func TestCheckerUnitCountDrop(t *testing.T) {
	s := seedState(4, 100)
	snap := s.Snapshot()
	require.NoError(t, s.Delete(3))
	require.NoError(t, s.Delete(2))

	c := NewChecker(DefaultThresholds(), ModeProtect)
	violations := c.Check(snap, s)

	require.NotEmpty(t, violations)
	assert.Contains(t, violationKinds(violations), ViolationUnitDrop)

	for _, v := range violations {
		if v.Kind == ViolationUnitDrop {
			assert.InDelta(t, 0.5, v.Measured, 0.001)
		}
	}
}

func TestCheckerUnitCountSmallDropPasses(t *testing.T) {
	s := seedState(4, 100)
	snap := s.Snapshot()
	require.NoError(t, s.Delete(3))

	c := NewChecker(DefaultThresholds(), ModeProtect)
	assert.NotContains(t, violationKinds(c.Check(snap, s)), ViolationUnitDrop)
}

func TestCheckerPrefixCollapse(t *testing.T) {
	s := seedState(4, 100)
	snap := s.Snapshot()

	shared := unitText(99, 100)
	for _, i := range []int{0, 1} {
		require.NoError(t, s.Mutate(i, func(u *run.Unit) { u.SetClean(shared) }))
	}

	c := NewChecker(DefaultThresholds(), ModeProtect)
	assert.Contains(t, violationKinds(c.Check(snap, s)), ViolationPrefixCollapse)
}

func TestCheckerSilentEmptying(t *testing.T) {
	s := seedState(3, 100)
	snap := s.Snapshot()

	require.NoError(t, s.Mutate(1, func(u *run.Unit) {
		u.SetRaw("")
		u.SetClean("")
	}))

	c := NewChecker(DefaultThresholds(), ModeProtect)
	violations := c.Check(snap, s)

	require.NotEmpty(t, violations)
	kinds := violationKinds(violations)
	assert.Contains(t, kinds, ViolationSilentEmpty)
}

func TestCheckerMassShrinkage(t *testing.T) {
	s := seedState(4, 100)
	snap := s.Snapshot()

	for i := 0; i < 4; i++ {
		i := i
		require.NoError(t, s.Mutate(i, func(u *run.Unit) {
			u.SetClean(unitText(i, 50))
		}))
	}

	c := NewChecker(DefaultThresholds(), ModeProtect)
	assert.Contains(t, violationKinds(c.Check(snap, s)), ViolationShrinkage)
}

func TestCheckerDefectExplosion(t *testing.T) {
	s := seedState(4, 100)
	snap := s.Snapshot()

	for _, i := range []int{0, 1} {
		require.NoError(t, s.Mutate(i, func(u *run.Unit) {
			u.Defects[critic.DefectTruncationMarker] = true
		}))
	}
	// A soft defect on a third unit must not count toward the share.
	require.NoError(t, s.Mutate(2, func(u *run.Unit) {
		u.Defects[critic.DefectTooShort] = true
	}))

	c := NewChecker(DefaultThresholds(), ModeProtect)
	violations := c.Check(snap, s)

	require.Contains(t, violationKinds(violations), ViolationDefectExplosion)
	for _, v := range violations {
		if v.Kind == ViolationDefectExplosion {
			assert.InDelta(t, 0.5, v.Measured, 0.001)
		}
	}
}

func TestCheckerFingerprintCollapse(t *testing.T) {
	s := seedState(4, 100)
	snap := s.Snapshot()

	same := unitText(7, 100)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Mutate(i, func(u *run.Unit) { u.SetClean(same) }))
	}

	c := NewChecker(DefaultThresholds(), ModeProtect)
	assert.Contains(t, violationKinds(c.Check(snap, s)), ViolationFingerprintCollapse)
}

func TestCheckerAggressiveTightensThresholds(t *testing.T) {
	// A 40% count drop passes default thresholds but fails aggressive
	// ones (0.5 * 0.75 = 0.375).
	s := seedState(5, 100)
	snap := s.Snapshot()
	require.NoError(t, s.Delete(4))
	require.NoError(t, s.Delete(3))

	protect := NewChecker(DefaultThresholds(), ModeProtect)
	assert.NotContains(t, violationKinds(protect.Check(snap, s)), ViolationUnitDrop)

	aggressive := NewChecker(DefaultThresholds(), ModeAggressive)
	assert.Contains(t, violationKinds(aggressive.Check(snap, s)), ViolationUnitDrop)
}

func TestParseMode(t *testing.T) {
	for _, ok := range []string{"observe", "protect", "aggressive"} {
		_, err := ParseMode(ok)
		assert.NoError(t, err)
	}
	_, err := ParseMode("panic")
	assert.Error(t, err)
}
