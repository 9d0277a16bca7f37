package scheduler

import (
	"fmt"
	"strings"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/enso/pkg/tools"
)

// Status is the lifecycle stage of a scheduled tool call. Transitions are
// monotonic: a call never returns to an earlier stage.
type Status int

const (
	StatusValidating Status = iota
	StatusAwaitingApproval
	StatusExecuting
	StatusSuccess
	StatusError
	StatusCancelled
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusValidating:
		return "validating"
	case StatusAwaitingApproval:
		return "awaiting_approval"
	case StatusExecuting:
		return "executing"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends the call's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// validTransitions encodes the allowed lifecycle steps. A call never skips
// backward and never leaves a terminal status.
var validTransitions = map[Status][]Status{
	StatusValidating:       {StatusAwaitingApproval, StatusExecuting, StatusError, StatusCancelled},
	StatusAwaitingApproval: {StatusExecuting, StatusError, StatusCancelled},
	StatusExecuting:        {StatusSuccess, StatusError, StatusCancelled},
}

// Originator identifies who requested the call.
type Originator string

const (
	OriginatorModel  Originator = "model"
	OriginatorClient Originator = "client"
)

// Request is one requested tool invocation. Immutable after creation except
// for hook-driven argument override and checkpoint assignment.
type Request struct {
	CallID     string                 `json:"call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args"`
	Originator Originator             `json:"originator"`
	PromptID   string                 `json:"prompt_id"`
	// AutoExecute resolves the confirmation programmatically with
	// ProceedOnce instead of waiting on the caller.
	AutoExecute bool `json:"auto_execute,omitempty"`
	// CheckpointID references the restore point built before execution.
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// NewRequest creates a model-originated request with a generated call id.
func NewRequest(name string, args map[string]interface{}, promptID string) Request {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the platform entropy source does.
		id = fmt.Sprintf("call-%s", name)
	}
	return Request{
		CallID:     id,
		Name:       name,
		Args:       args,
		Originator: OriginatorModel,
		PromptID:   promptID,
	}
}

// Response is the structured result of a terminal call, fed back to the
// model. Parts holds the tool output followed by any hook-supplied context.
type Response struct {
	CallID  string   `json:"call_id"`
	Tool    string   `json:"tool"`
	Parts   []string `json:"parts"`
	IsError bool     `json:"is_error,omitempty"`
}

// Text joins the response parts for transport to the model.
func (r Response) Text() string {
	return strings.Join(r.Parts, "\n\n")
}

// ToolCall is the scheduler's live record of one request. Mutated only by
// the scheduler.
type ToolCall struct {
	mu sync.Mutex

	Request      Request
	tool         tools.Tool
	status       Status
	confirmation *tools.Confirmation
	output       strings.Builder
	response     *Response

	// resolved guards at-most-once confirmation consumption.
	resolved     bool
	cancelReason string
	approveCh    chan bool

	// pending marks membership in the scheduler's batch wait set. Guarded by
	// the scheduler's mutex, not the call's.
	pending bool
}

func newToolCall(req Request) *ToolCall {
	return &ToolCall{
		Request:   req,
		status:    StatusValidating,
		approveCh: make(chan bool, 1),
	}
}

// Status returns the call's current lifecycle stage.
func (c *ToolCall) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Confirmation returns the pending approval descriptor, if any.
func (c *ToolCall) Confirmation() *tools.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmation
}

// Output returns the accumulated streamed partial output.
func (c *ToolCall) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

// Response returns the final response once the call is terminal.
func (c *ToolCall) Response() *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

// args returns the call's current arguments, which hooks and editor
// resolutions may have replaced since scheduling.
func (c *ToolCall) args() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Request.Args
}

// transition moves the call to a new status, enforcing monotonicity.
func (c *ToolCall) transition(to Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *ToolCall) transitionLocked(to Status) error {
	for _, allowed := range validTransitions[c.status] {
		if allowed == to {
			c.status = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s for call %s", c.status, to, c.Request.CallID)
}

// serverName extracts the server prefix of a namespaced tool name
// ("server__tool"), or empty for plain tools.
func serverName(tool string) string {
	if idx := strings.Index(tool, "__"); idx > 0 {
		return tool[:idx]
	}
	return ""
}
