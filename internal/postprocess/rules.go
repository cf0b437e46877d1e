package postprocess

import (
	"fmt"
	"regexp"
)

// RuleSpec is the uncompiled form of a repetition rule, as it arrives
// from configuration.
type RuleSpec struct {
	Name           string
	Pattern        string
	MaxOccurrences int
}

// CompileRules validates and compiles rule specs. A non-compiling pattern
// is an error: a silently skipped rule would leave its repetitions
// unbounded.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("repetition rule with empty name")
		}
		if s.MaxOccurrences < 1 {
			return nil, fmt.Errorf("rule %q: max_occurrences must be >= 1, got %d", s.Name, s.MaxOccurrences)
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", s.Name, err)
		}
		rules = append(rules, Rule{Name: s.Name, Pattern: re, MaxOccurrences: s.MaxOccurrences})
	}
	return rules, nil
}
