package orchestrator

import (
	"strings"

	"github.com/harun/enso/pkg/model"
)

// continueRequest is the synthetic user message sent when the model should
// keep speaking or after an invalid stream.
const continueRequest = "please continue"

// modelShouldContinue is a lightweight "who speaks next" check run after a
// Turn that finished cleanly with no pending tool calls. It looks only at
// the finish reason and the shape of the response text.
func modelShouldContinue(text string, finish model.FinishReason) bool {
	if finish == model.FinishLength {
		// Output was truncated mid-thought.
		return true
	}
	if finish != model.FinishStop {
		return false
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	// An announced next step with nothing after it means the model expected
	// to keep going.
	if strings.HasSuffix(trimmed, ":") {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range []string{"i will now", "next, i will", "let me now"} {
		if strings.HasSuffix(lower, marker) || endsWithSentenceContaining(lower, marker) {
			return true
		}
	}
	return false
}

// isQuotaError reports whether a stream failure was quota-related rather
// than transient network trouble. Quota failures suppress the next-speaker
// continuation: a throttled prompt must not spend extra Turns on its own.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "quota"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// endsWithSentenceContaining reports whether the final sentence of text
// contains the marker.
func endsWithSentenceContaining(text, marker string) bool {
	idx := strings.LastIndexAny(text, ".!?")
	var lastSentence string
	if idx < 0 {
		lastSentence = text
	} else if idx == len(text)-1 {
		prev := strings.LastIndexAny(text[:idx], ".!?")
		lastSentence = text[prev+1 : idx]
	} else {
		lastSentence = text[idx+1:]
	}
	return strings.Contains(lastSentence, marker)
}
