// Package guardrail provides the deterministic pre-check that can
// short-circuit model-generated replies for a known fixed-intent input.
//
// Classification is a pure function of the latest message text: the system
// prompt instructs the completion provider to drive the multi-turn
// negotiation, and the guardrail only intercepts the final yes/no.
package guardrail

import "strings"

// Signal is the three-valued classification of raw input text.
type Signal int

const (
	// Unclassified input falls through to normal reply orchestration.
	Unclassified Signal = iota
	// Affirmative input yields the fixed handoff-confirmed reply without
	// invoking the completion provider.
	Affirmative
	// Negative input falls through to the orchestrator; the model is
	// expected to ask what to correct.
	Negative
)

// String returns a log-friendly name for the signal.
func (s Signal) String() string {
	switch s {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	default:
		return "unclassified"
	}
}

// affirmativeWords is the fixed set of whole-text confirmations.
var affirmativeWords = map[string]bool{
	"да":      true,
	"давай":   true,
	"ага":     true,
	"конечно": true,
	"ок":      true,
	"окей":    true,
	"yes":     true,
	"ok":      true,
	"okay":    true,
}

// negativeWords is the fixed set of whole-text refusals.
var negativeWords = map[string]bool{
	"нет":  true,
	"неа":  true,
	"no":   true,
	"nope": true,
}

// Classify maps text to a Signal by case-insensitive membership of the
// entire trimmed text in one of the two fixed word sets.
func Classify(text string) Signal {
	normalized := strings.ToLower(strings.TrimSpace(text))
	switch {
	case affirmativeWords[normalized]:
		return Affirmative
	case negativeWords[normalized]:
		return Negative
	default:
		return Unclassified
	}
}
