package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Verdict is the structured convergence signal a critic or analyzer step
// embeds in its output.
type Verdict struct {
	Satisfied       bool   `json:"satisfied"`
	BestAnswer      string `json:"best_answer"`
	EvaluationNotes string `json:"evaluation_notes"`
}

var jsonFence = regexp.MustCompile("```json\\n([\\s\\S]*?)\\n```")

// ExtractVerdict pulls a verdict out of raw agent output. It first looks for
// a fenced ```json block, then falls back to the outermost brace pair.
//
// Unparseable output reports ok=false and the caller treats it as "not
// satisfied": the loop stays live rather than failing the run. This trades a
// false continuation for availability.
func ExtractVerdict(text string) (Verdict, bool) {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Verdict{}, false
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return Verdict{}, false
	}
	return v, true
}
