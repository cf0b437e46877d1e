package postprocess

import (
	"strings"
	"unicode"
)

// LanguageOptions control foreign-script flagging. The pass never edits
// text: script drift needs regeneration, not surgery.
type LanguageOptions struct {
	// Whitelist holds terms allowed to carry non-Latin characters
	// (names, loanwords the prompt itself uses).
	Whitelist []string

	// MinClusterWords is the run length of consecutive foreign-script
	// words that triggers a flag. Isolated words are ignored.
	MinClusterWords int
}

// LanguageFinding describes one flagged foreign-script cluster.
type LanguageFinding struct {
	Cluster string
	Words   int
}

// detectForeignClusters scans for runs of words dominated by non-Latin
// letters and returns each qualifying cluster.
func detectForeignClusters(text string, opts LanguageOptions) []LanguageFinding {
	min := opts.MinClusterWords
	if min <= 0 {
		min = 3
	}
	allowed := make(map[string]bool, len(opts.Whitelist))
	for _, w := range opts.Whitelist {
		allowed[strings.ToLower(w)] = true
	}

	var findings []LanguageFinding
	var run []string
	flush := func() {
		if len(run) >= min {
			findings = append(findings, LanguageFinding{
				Cluster: strings.Join(run, " "),
				Words:   len(run),
			})
		}
		run = nil
	}

	for _, word := range strings.Fields(text) {
		bare := strings.Trim(word, `.,;:!?"'()[]*`)
		if bare == "" {
			continue
		}
		if isForeignScript(bare) && !allowed[strings.ToLower(bare)] {
			run = append(run, word)
			continue
		}
		flush()
	}
	flush()
	return findings
}

// isForeignScript reports whether most letters in the word fall outside
// the Latin script. Digits and punctuation do not count either way.
func isForeignScript(word string) bool {
	letters, foreign := 0, 0
	for _, r := range word {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.Is(unicode.Latin, r) {
			foreign++
		}
	}
	return letters > 0 && foreign*2 > letters
}
