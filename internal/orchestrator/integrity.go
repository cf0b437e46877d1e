package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/storyguard/internal/run"
)

// ViolationKind names one of the aggregate invariants.
type ViolationKind string

const (
	ViolationUnitDrop            ViolationKind = "unit_count_drop"
	ViolationPrefixCollapse      ViolationKind = "prefix_collapse"
	ViolationSilentEmpty         ViolationKind = "silent_emptying"
	ViolationShrinkage           ViolationKind = "mass_shrinkage"
	ViolationDefectExplosion     ViolationKind = "defect_explosion"
	ViolationFingerprintCollapse ViolationKind = "fingerprint_collapse"
)

// Violation is one failed invariant with its measurement.
type Violation struct {
	Kind        ViolationKind
	Description string
	Measured    float64
	Threshold   float64
	DetectedAt  time.Time
}

// Thresholds parameterize the integrity invariants. All values are
// fractions in (0,1].
type Thresholds struct {
	// MaxUnitDrop fails when the unit count drops by at least this
	// fraction.
	MaxUnitDrop float64

	// MaxPrefixShare fails when more than this fraction of units share
	// an identical opening span.
	MaxPrefixShare float64

	// MaxShrinkage fails when average unit length drops by more than
	// this fraction.
	MaxShrinkage float64

	// MaxDefectShare fails when more than this fraction of units carry
	// a hard defect after the stage.
	MaxDefectShare float64

	// MaxFingerprintDrop fails when the count of distinct content
	// fingerprints drops by at least this fraction.
	MaxFingerprintDrop float64
}

// DefaultThresholds are the protect-mode values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxUnitDrop:        0.5,
		MaxPrefixShare:     0.3,
		MaxShrinkage:       0.4,
		MaxDefectShare:     0.4,
		MaxFingerprintDrop: 0.5,
	}
}

// Tighten scales every threshold down for aggressive mode.
func (t Thresholds) Tighten(factor float64) Thresholds {
	return Thresholds{
		MaxUnitDrop:        t.MaxUnitDrop * factor,
		MaxPrefixShare:     t.MaxPrefixShare * factor,
		MaxShrinkage:       t.MaxShrinkage * factor,
		MaxDefectShare:     t.MaxDefectShare * factor,
		MaxFingerprintDrop: t.MaxFingerprintDrop * factor,
	}
}

// prefixSpanWords is the opening-span length compared by the
// prefix-collapse invariant.
const prefixSpanWords = 10

// trivialWordCount is the floor below which a unit was never considered
// non-trivial for the silent-emptying invariant.
const trivialWordCount = 10

// Checker evaluates the six aggregate invariants over before/after views
// of the run state.
type Checker struct {
	thresholds Thresholds
}

// NewChecker builds a checker for the given mode.
func NewChecker(t Thresholds, mode Mode) *Checker {
	if mode == ModeAggressive {
		t = t.Tighten(aggressiveTighten)
	}
	return &Checker{thresholds: t}
}

// Check runs every invariant and returns all violations found. Invariants
// are aggregate, so callers must only invoke Check after the stage's
// synchronization barrier.
func (c *Checker) Check(before run.Snapshot, after *run.State) []Violation {
	var violations []Violation
	add := func(kind ViolationKind, measured, threshold float64, format string, args ...any) {
		violations = append(violations, Violation{
			Kind:        kind,
			Description: fmt.Sprintf(format, args...),
			Measured:    measured,
			Threshold:   threshold,
			DetectedAt:  time.Now(),
		})
	}

	beforeUnits := before.Units()
	afterUnits := after.Units()

	// 1. Unit-count stability.
	if len(beforeUnits) > 0 {
		drop := 1 - float64(len(afterUnits))/float64(len(beforeUnits))
		if drop >= c.thresholds.MaxUnitDrop {
			add(ViolationUnitDrop, drop, c.thresholds.MaxUnitDrop,
				"unit count dropped from %d to %d", len(beforeUnits), len(afterUnits))
		}
	}

	// 2. No mass-prefix collapse.
	if len(afterUnits) >= 2 {
		counts := make(map[string]int)
		for _, u := range afterUnits {
			counts[openingSpan(u)]++
		}
		maxCount := 0
		for span, n := range counts {
			if span != "" && n > maxCount {
				maxCount = n
			}
		}
		share := float64(maxCount) / float64(len(afterUnits))
		if maxCount > 1 && share > c.thresholds.MaxPrefixShare {
			add(ViolationPrefixCollapse, share, c.thresholds.MaxPrefixShare,
				"%d of %d units share an identical opening span", maxCount, len(afterUnits))
		}
	}

	// 3. No silent emptying.
	afterByID := make(map[string]*run.Unit, len(afterUnits))
	for _, u := range afterUnits {
		afterByID[u.ID] = u
	}
	for _, prev := range beforeUnits {
		if len(strings.Fields(prev.Text())) < trivialWordCount {
			continue
		}
		cur, ok := afterByID[prev.ID]
		if ok && strings.TrimSpace(cur.Text()) == "" {
			add(ViolationSilentEmpty, 1, 0, "unit %s became empty", prev.ID)
		}
	}

	// 4. No mass shrinkage.
	if avgBefore := avgWords(beforeUnits); avgBefore > 0 && len(afterUnits) > 0 {
		shrink := 1 - avgWords(afterUnits)/avgBefore
		if shrink > c.thresholds.MaxShrinkage {
			add(ViolationShrinkage, shrink, c.thresholds.MaxShrinkage,
				"average unit length shrank from %.0f to %.0f words", avgBefore, avgWords(afterUnits))
		}
	}

	// 5. No defect explosion.
	if len(afterUnits) > 0 {
		hard := 0
		for _, u := range afterUnits {
			for kind := range u.Defects {
				if kind.Hard() {
					hard++
					break
				}
			}
		}
		share := float64(hard) / float64(len(afterUnits))
		if share > c.thresholds.MaxDefectShare {
			add(ViolationDefectExplosion, share, c.thresholds.MaxDefectShare,
				"%d of %d units carry a hard defect", hard, len(afterUnits))
		}
	}

	// 6. No fingerprint collapse.
	if len(beforeUnits) > 0 && len(afterUnits) > 0 {
		beforeDistinct := distinctFingerprints(beforeUnits)
		afterDistinct := distinctFingerprints(afterUnits)
		if beforeDistinct > 0 {
			drop := 1 - float64(afterDistinct)/float64(beforeDistinct)
			if drop >= c.thresholds.MaxFingerprintDrop {
				add(ViolationFingerprintCollapse, drop, c.thresholds.MaxFingerprintDrop,
					"distinct fingerprints dropped from %d to %d", beforeDistinct, afterDistinct)
			}
		}
	}

	return violations
}

func openingSpan(u *run.Unit) string {
	fields := strings.Fields(strings.ToLower(u.Text()))
	if len(fields) > prefixSpanWords {
		fields = fields[:prefixSpanWords]
	}
	return strings.Join(fields, " ")
}

func avgWords(units []*run.Unit) float64 {
	if len(units) == 0 {
		return 0
	}
	total := 0
	for _, u := range units {
		total += len(strings.Fields(u.Text()))
	}
	return float64(total) / float64(len(units))
}

func distinctFingerprints(units []*run.Unit) int {
	seen := make(map[uint64]bool, len(units))
	for _, u := range units {
		seen[u.Fingerprint()] = true
	}
	return len(seen)
}
