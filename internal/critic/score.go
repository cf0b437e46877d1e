package critic

import "strings"

// Scoring constants. Hard-artifact penalties dominate every other term so
// a long attempt full of meta-markers never beats a clean short one.
const (
	hardDefectPenalty  = 1000.0
	softDefectPenalty  = 100.0
	lengthBonusPerWord = 0.1
)

// Attempt pairs one raw generation attempt with its critic report.
type Attempt struct {
	Text   string
	Report Report
}

// Score rates an attempt deterministically: a large fixed penalty per
// hard-artifact defect, a smaller penalty for too-short and drift, and a
// bounded length bonus. capWords bounds the bonus so length alone cannot
// offset a defect.
func Score(a Attempt, capWords int) float64 {
	score := 0.0
	for kind := range a.Report.Defects {
		if kind.Hard() {
			score -= hardDefectPenalty
		} else {
			score -= softDefectPenalty
		}
	}
	words := len(strings.Fields(a.Text))
	if capWords > 0 && words > capWords {
		words = capWords
	}
	score += float64(words) * lengthBonusPerWord
	return score
}

// ChooseAttempt picks the better of two attempts. The second attempt wins
// ties, so when a retry produces equal quality the most recent text is
// accepted.
func ChooseAttempt(first, second Attempt, capWords int) Attempt {
	if Score(second, capWords) >= Score(first, capWords) {
		return second
	}
	return first
}
