package telemetry

import "sort"

// Drift is a notable change in a per-unit defect rate between the current
// run and the previous persisted run.
type Drift struct {
	Kind     string  `json:"kind"`
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
	Delta    float64 `json:"delta"`
}

// CompareDefectRates diffs two run records' defect rates and returns the
// deltas at or above the threshold, sorted by magnitude descending. A kind
// present on only one side is compared against zero.
func CompareDefectRates(previous, current RunRecord, threshold float64) []Drift {
	prev := previous.DefectRates()
	cur := current.DefectRates()

	kinds := make(map[string]bool, len(prev)+len(cur))
	for k := range prev {
		kinds[k] = true
	}
	for k := range cur {
		kinds[k] = true
	}

	var drifts []Drift
	for k := range kinds {
		delta := cur[k] - prev[k]
		if delta < 0 {
			delta = -delta
		}
		if delta >= threshold {
			drifts = append(drifts, Drift{Kind: k, Previous: prev[k], Current: cur[k], Delta: delta})
		}
	}
	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Delta != drifts[j].Delta {
			return drifts[i].Delta > drifts[j].Delta
		}
		return drifts[i].Kind < drifts[j].Kind
	})
	return drifts
}
