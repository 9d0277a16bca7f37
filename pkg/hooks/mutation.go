package hooks

import (
	"encoding/json"
	"fmt"

	"github.com/harun/enso/pkg/model"
)

// Mutation is the event-typed payload a hook may return under
// hookSpecificOutput. It is a closed sum: exactly one variant exists per
// event that supports mutation, and each carries only its legal fields.
type Mutation interface {
	mutation()
}

// RequestMutation fully replaces the outgoing message list (BeforeModel).
type RequestMutation struct {
	Messages []model.Message
}

// ResponseMutation fully replaces the model's response content (AfterModel).
type ResponseMutation struct {
	Content string
}

// ToolArgsMutation replaces the arguments of the pending tool call
// (BeforeTool).
type ToolArgsMutation struct {
	Args map[string]interface{}
}

// ToolSelectionMutation restricts the tool set offered to the model for one
// call (BeforeToolSelection).
type ToolSelectionMutation struct {
	AllowedTools []string
	Mode         string
}

func (RequestMutation) mutation()       {}
func (ResponseMutation) mutation()      {}
func (ToolArgsMutation) mutation()      {}
func (ToolSelectionMutation) mutation() {}

// hookSpecificOutput is the raw shape of the hookSpecificOutput field.
type hookSpecificOutput struct {
	AdditionalContext string                 `json:"additionalContext,omitempty"`
	Messages          []model.Message        `json:"messages,omitempty"`
	Content           *string                `json:"content,omitempty"`
	ToolInput         map[string]interface{} `json:"toolInput,omitempty"`
	AllowedTools      []string               `json:"allowedTools,omitempty"`
	Mode              string                 `json:"mode,omitempty"`
}

// parseMutation decodes hookSpecificOutput for the given event. Events
// without a mutation payload yield only additionalContext. Unknown or
// malformed payloads are ignored rather than failing the hook run.
func parseMutation(event Event, raw json.RawMessage) (Mutation, string, error) {
	if len(raw) == 0 {
		return nil, "", nil
	}

	var out hookSpecificOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, "", fmt.Errorf("malformed hookSpecificOutput: %w", err)
	}

	switch event {
	case BeforeModel:
		if len(out.Messages) > 0 {
			return RequestMutation{Messages: out.Messages}, out.AdditionalContext, nil
		}
	case AfterModel:
		if out.Content != nil {
			return ResponseMutation{Content: *out.Content}, out.AdditionalContext, nil
		}
	case BeforeTool:
		if out.ToolInput != nil {
			return ToolArgsMutation{Args: out.ToolInput}, out.AdditionalContext, nil
		}
	case BeforeToolSelection:
		if len(out.AllowedTools) > 0 || out.Mode != "" {
			return ToolSelectionMutation{AllowedTools: out.AllowedTools, Mode: out.Mode}, out.AdditionalContext, nil
		}
	}

	return nil, out.AdditionalContext, nil
}
