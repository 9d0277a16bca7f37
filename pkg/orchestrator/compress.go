package orchestrator

import (
	"fmt"

	"github.com/harun/enso/pkg/model"
)

const (
	// defaultCompressionThreshold triggers compression when the estimated
	// history size crosses this fraction of the model's token limit.
	defaultCompressionThreshold = 0.8
	// compressionKeepRecent is how many trailing messages survive
	// compression untouched.
	compressionKeepRecent = 20
)

// needsCompression reports whether the history estimate crossed the
// threshold for the given model.
func needsCompression(messages []model.Message, cfg model.Config, threshold float64) bool {
	if cfg.TokenLimit <= 0 {
		return false
	}
	if threshold <= 0 {
		threshold = defaultCompressionThreshold
	}
	return float64(model.EstimateTokens(messages)) >= threshold*float64(cfg.TokenLimit)
}

// compress folds older conversation messages into a single summary marker,
// keeping system messages and the most recent exchange intact. Tool-result
// pairing is preserved by never splitting inside the kept window.
func compress(messages []model.Message) []model.Message {
	var system []model.Message
	var conversation []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			system = append(system, msg)
		} else {
			conversation = append(conversation, msg)
		}
	}

	if len(conversation) <= compressionKeepRecent {
		return messages
	}

	keep := compressionKeepRecent
	// Never start the kept window on a tool result whose call was dropped.
	for keep > 1 && conversation[len(conversation)-keep].Role == model.RoleTool {
		keep--
	}

	recent := conversation[len(conversation)-keep:]
	dropped := len(conversation) - keep

	summary := model.Message{
		Role:    model.RoleSystem,
		Content: fmt.Sprintf("[Previous conversation summary: %d messages exchanged]", dropped),
	}

	out := make([]model.Message, 0, len(system)+1+len(recent))
	out = append(out, system...)
	out = append(out, summary)
	out = append(out, recent...)
	return out
}
