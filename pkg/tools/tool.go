package tools

import (
	"context"
	"time"
)

// OutputFunc receives live partial output while a tool runs.
type OutputFunc func(chunk string)

// Result represents the result of a tool execution.
type Result struct {
	Content   string                 `json:"content"`
	IsError   bool                   `json:"is_error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ConfirmationKind classifies a pending approval decision.
type ConfirmationKind string

const (
	ConfirmExec  ConfirmationKind = "exec"
	ConfirmEdit  ConfirmationKind = "edit"
	ConfirmOther ConfirmationKind = "other"
)

// Confirmation describes what a caller is being asked to approve. Edit-type
// confirmations carry the proposed content so an approver can override it.
type Confirmation struct {
	Kind        ConfirmationKind `json:"kind"`
	Title       string           `json:"title"`
	Command     string           `json:"command,omitempty"`
	Path        string           `json:"path,omitempty"`
	NewContent  string           `json:"new_content,omitempty"`
	Description string           `json:"description,omitempty"`
}

// Tool is one executable capability offered to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema for the tool's arguments.
	Schema() map[string]interface{}
	// MutatesFiles reports whether execution may modify files on disk.
	// Mutating tools get a restore point before they run.
	MutatesFiles() bool
	// AffectedPaths extracts the file paths an invocation would touch.
	// Returns nil for tools without a usable path argument.
	AffectedPaths(args map[string]interface{}) []string
	// Confirmation returns the approval descriptor for an invocation, or nil
	// when the tool's own policy does not require confirmation.
	Confirmation(args map[string]interface{}) *Confirmation
	// Run executes the tool. Partial output is streamed through onOutput.
	Run(ctx context.Context, args map[string]interface{}, onOutput OutputFunc) (Result, error)
}

// stringArg reads an optional string argument.
func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg reads an optional integer argument, tolerating JSON float decoding.
func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
