package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/harun/enso/pkg/model"
)

const (
	// identicalChunkThreshold aborts a stream after this many consecutive
	// identical non-empty text chunks.
	identicalChunkThreshold = 10
	// repeatedCallThreshold aborts after this many identical tool-call
	// signatures within one stream.
	repeatedCallThreshold = 5
	// repeatedTailThreshold aborts when the accumulated text ends with this
	// many back-to-back copies of the same phrase.
	repeatedTailThreshold = 8
	// tailPhraseLength is the phrase window used for tail repetition.
	tailPhraseLength = 40
)

// loopDetector watches one stream's chunks for repetition patterns. It is
// created per Turn and carries no state across model calls.
type loopDetector struct {
	lastText      string
	identicalRuns int
	callCounts    map[string]int
	accumulated   strings.Builder
}

func newLoopDetector() *loopDetector {
	return &loopDetector{callCounts: make(map[string]int)}
}

// Observe records one chunk and reports whether a loop was detected.
func (d *loopDetector) Observe(chunk model.Chunk) bool {
	if chunk.Text != "" {
		if chunk.Text == d.lastText {
			d.identicalRuns++
			if d.identicalRuns >= identicalChunkThreshold {
				return true
			}
		} else {
			d.lastText = chunk.Text
			d.identicalRuns = 1
		}

		d.accumulated.WriteString(chunk.Text)
		if tailRepeats(d.accumulated.String()) {
			return true
		}
	}

	for _, call := range chunk.ToolCalls {
		sig := callSignature(call)
		d.callCounts[sig]++
		if d.callCounts[sig] >= repeatedCallThreshold {
			return true
		}
	}

	return false
}

// tailRepeats reports whether the text ends in many copies of one phrase.
func tailRepeats(text string) bool {
	if len(text) < tailPhraseLength*repeatedTailThreshold {
		return false
	}
	phrase := text[len(text)-tailPhraseLength:]
	count := 0
	for i := len(text); i >= tailPhraseLength; i -= tailPhraseLength {
		if text[i-tailPhraseLength:i] != phrase {
			break
		}
		count++
		if count >= repeatedTailThreshold {
			return true
		}
	}
	return false
}

func callSignature(call model.ToolCall) string {
	args, err := json.Marshal(call.Parameters)
	if err != nil {
		return call.Name
	}
	return call.Name + ":" + string(args)
}
