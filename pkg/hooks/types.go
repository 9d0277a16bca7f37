package hooks

import (
	"time"
)

// Event names a lifecycle point where configured hooks fire.
type Event string

const (
	BeforeAgent         Event = "BeforeAgent"
	AfterAgent          Event = "AfterAgent"
	BeforeModel         Event = "BeforeModel"
	AfterModel          Event = "AfterModel"
	BeforeTool          Event = "BeforeTool"
	AfterTool           Event = "AfterTool"
	BeforeToolSelection Event = "BeforeToolSelection"
	Notification        Event = "Notification"
	SessionStart        Event = "SessionStart"
	SessionEnd          Event = "SessionEnd"
	PreCompress         Event = "PreCompress"
)

// MatchAll is the wildcard matcher that matches every matcher key.
const MatchAll = "*"

// Definition is one configured policy command. Loaded once from
// configuration and immutable at runtime.
type Definition struct {
	Command  string        `json:"command" mapstructure:"command"`
	Timeout  time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	Disabled bool          `json:"disabled,omitempty" mapstructure:"disabled"`
}

// Group is an ordered set of hooks under one event and matcher. A group with
// an empty matcher always matches. Sequential groups run their hooks one
// after another; otherwise all hooks launch concurrently.
type Group struct {
	Matcher    string       `json:"matcher,omitempty" mapstructure:"matcher"`
	Sequential bool         `json:"sequential,omitempty" mapstructure:"sequential"`
	Hooks      []Definition `json:"hooks" mapstructure:"hooks"`
}

// matches reports whether the group applies to a matcher key.
func (g Group) matches(key string) bool {
	return g.Matcher == "" || g.Matcher == MatchAll || g.Matcher == key
}

// Settings is the full hook configuration for a pipeline.
type Settings struct {
	// Groups maps event names to their configured hook groups.
	Groups map[Event][]Group `json:"groups" mapstructure:"groups"`
	// DisabledCommands lists hook commands skipped process-wide, including
	// from observability.
	DisabledCommands []string `json:"disabled_commands,omitempty" mapstructure:"disabled_commands"`
	// DefaultTimeout applies to hooks without an explicit timeout.
	DefaultTimeout time.Duration `json:"default_timeout,omitempty" mapstructure:"default_timeout"`
}

// Payload is the JSON document written to a hook subprocess on stdin.
// Event-specific fields are omitted when empty.
type Payload struct {
	SessionID string    `json:"session_id"`
	Cwd       string    `json:"cwd"`
	EventName string    `json:"hook_event_name"`
	Timestamp time.Time `json:"timestamp"`

	ToolName     string                 `json:"tool_name,omitempty"`
	ToolInput    map[string]interface{} `json:"tool_input,omitempty"`
	ToolResponse string                 `json:"tool_response,omitempty"`

	Prompt       string `json:"prompt,omitempty"`
	ResponseText string `json:"response_text,omitempty"`

	NotificationType string `json:"notification_type,omitempty"`
	Message          string `json:"message,omitempty"`
	Details          string `json:"details,omitempty"`
	Source           string `json:"source,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Trigger          string `json:"trigger,omitempty"`
}
