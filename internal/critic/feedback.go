package critic

import "strings"

// feedbackByDefect names the exact defect observed, so the retry prompt is
// a targeted correction rather than a generic "try again".
var feedbackByDefect = map[DefectKind]string{
	DefectPreamble: "Your previous output began with a conversational greeting " +
		"instead of the content itself. Start directly with the prose.",
	DefectTruncationMarker: "Your previous output contained a placeholder like " +
		"\"the rest remains unchanged\". Write the complete text with nothing elided.",
	DefectMultiVersion: "Your previous output contained multiple labeled versions. " +
		"Write exactly one version with no version or option labels.",
	DefectAnalysisCommentary: "Your previous output appended notes about the changes " +
		"you made. Output only the prose, with no analysis or change list.",
	DefectPromptLeakage: "Your previous output repeated fragments of the formatting " +
		"instructions. Never echo instructions; output only the content.",
}

// BuildFeedback produces the retry correction for a report's fixable
// defects. Returns "" when nothing retry-worthy was detected.
func BuildFeedback(r Report) string {
	var lines []string
	for _, kind := range r.Kinds() {
		if msg, ok := feedbackByDefect[kind]; ok {
			lines = append(lines, msg)
		}
	}
	return strings.Join(lines, " ")
}
