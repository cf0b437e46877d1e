package generate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// secondaryStopPhrases match common assistant-preamble restarts. They are
// passed as native stop sequences as a second line of defense when the
// per-run sentinel is ignored.
var secondaryStopPhrases = []string{
	"Here is the revised",
	"Here's the revised",
	"Certainly!",
	"As requested",
	"I hope this helps",
	"Let me know if",
}

// StopContract is the per-run format contract: an unpredictable stop
// sentinel plus the fixed instruction text appended to every system prompt.
type StopContract struct {
	// Sentinel is generated once per run so a provider cannot have
	// memorized it. Example: <<END-1a2b3c4d>>.
	Sentinel string
}

// NewStopContract creates a contract with a fresh random sentinel.
func NewStopContract() StopContract {
	return StopContract{
		Sentinel: fmt.Sprintf("<<END-%s>>", uuid.NewString()[:8]),
	}
}

// SystemSuffix is the contract text appended to every system prompt.
func (c StopContract) SystemSuffix() string {
	return fmt.Sprintf(
		"\n\nOutput only the content itself. Do not add greetings, explanations, "+
			"version labels, or commentary of any kind. When the content is complete, "+
			"emit %s and nothing after it.", c.Sentinel)
}

// StopSequences returns the sentinel plus the secondary stop phrases.
func (c StopContract) StopSequences() []string {
	stops := make([]string, 0, len(secondaryStopPhrases)+1)
	stops = append(stops, c.Sentinel)
	stops = append(stops, secondaryStopPhrases...)
	return stops
}

// LeakFragments returns contract fragments whose verbatim appearance in
// output indicates prompt/system-text leakage.
func (c StopContract) LeakFragments() []string {
	return []string{
		c.Sentinel,
		"Output only the content itself",
		"emit " + c.Sentinel,
	}
}

// charsPerToken is the rough prompt-size estimate used for clamping. The
// same 4-chars-per-token heuristic the provider documents for English prose.
const charsPerToken = 4

// EstimateTokens estimates the token count of text.
func EstimateTokens(text string) int {
	return len(text)/charsPerToken + 1
}

// ClampMaxTokens bounds maxTokens so prompt + completion stays under the
// context limit minus the safety margin. This turns a silent-truncation
// failure into either a smaller completion budget or a loud error.
//
// Returns the clamped budget and false when even a minimal completion
// cannot fit.
func ClampMaxTokens(promptTokens, maxTokens, contextLimit, safetyMargin int) (int, bool) {
	available := contextLimit - safetyMargin - promptTokens
	if available < 64 {
		return 0, false
	}
	if maxTokens > available {
		return available, true
	}
	return maxTokens, true
}

// StripSentinel removes the sentinel and anything after its first
// occurrence, plus a trailing partial sentinel cut mid-emission.
func (c StopContract) StripSentinel(text string) string {
	if i := strings.Index(text, c.Sentinel); i >= 0 {
		text = text[:i]
	}
	// A stop sequence can fire mid-sentinel, leaving a prefix like "<<END-".
	if i := strings.LastIndex(text, "<<END-"); i >= 0 && !strings.Contains(text[i:], ">>") {
		text = text[:i]
	}
	return strings.TrimRight(text, " \t\n")
}
