package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/enso/internal/observability"
	"github.com/harun/enso/pkg/checkpoint"
	"github.com/harun/enso/pkg/hooks"
	"github.com/harun/enso/pkg/tools"
)

// ErrStopped reports that a hook halted the entire turn with continue:false.
var ErrStopped = errors.New("agent execution stopped")

// ApprovalMode governs how confirmations are resolved.
type ApprovalMode int

const (
	// ApprovalDefault suspends calls until the caller resolves their
	// confirmation.
	ApprovalDefault ApprovalMode = iota
	// ApprovalYOLO resolves every confirmation programmatically with
	// ProceedOnce.
	ApprovalYOLO
)

// ToolResolver is the external tool registry surface the scheduler needs.
// *tools.Registry satisfies it.
type ToolResolver interface {
	Resolve(name string) (tools.Tool, bool)
	Validate(name string, args map[string]interface{}) error
}

// Event notifies an observer of a call's progress.
type Event struct {
	CallID       string
	Tool         string
	Status       Status
	OutputChunk  string
	Confirmation *tools.Confirmation
}

// Config configures a Scheduler.
type Config struct {
	Registry    ToolResolver
	Hooks       *hooks.Pipeline
	Checkpoints *checkpoint.Builder
	Mode        ApprovalMode
	Logger      zerolog.Logger
	// OnEvent, when set, observes status changes, streamed output, and
	// pending confirmations.
	OnEvent func(Event)
}

// Scheduler manages the approval and execution lifecycle for batches of
// tool-call requests.
type Scheduler struct {
	logger      zerolog.Logger
	registry    ToolResolver
	hooks       *hooks.Pipeline
	checkpoints *checkpoint.Builder
	mode        ApprovalMode
	onEvent     func(Event)

	mu           sync.Mutex
	calls        map[string]*ToolCall
	order        []string
	pendingCount int
	done         chan struct{}
	waitErr      error
	stopReason   string

	alwaysAll    bool
	alwaysTool   map[string]bool
	alwaysServer map[string]bool
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Hooks == nil {
		return nil, fmt.Errorf("hook pipeline is required")
	}

	observability.EnsureRegistered()

	done := make(chan struct{})
	close(done) // pending set starts empty

	return &Scheduler{
		logger:       cfg.Logger.With().Str("component", "scheduler").Logger(),
		registry:     cfg.Registry,
		hooks:        cfg.Hooks,
		checkpoints:  cfg.Checkpoints,
		mode:         cfg.Mode,
		onEvent:      cfg.OnEvent,
		calls:        make(map[string]*ToolCall),
		order:        []string{},
		done:         done,
		alwaysTool:   make(map[string]bool),
		alwaysServer: make(map[string]bool),
	}, nil
}

// Schedule registers a batch of requests and starts their lifecycles.
// Unknown tools and hook-blocked calls become terminal errors without
// aborting the batch. A continue:false hook outcome stops the whole turn:
// remaining requests are cancelled and ErrStopped is returned. Execution
// proceeds asynchronously; use Wait for batch completion.
func (s *Scheduler) Schedule(ctx context.Context, requests []Request) error {
	for i, req := range requests {
		call := s.register(req)

		tool, ok := s.registry.Resolve(req.Name)
		if !ok {
			s.finalize(call, StatusError, Response{
				CallID:  req.CallID,
				Tool:    req.Name,
				Parts:   []string{fmt.Sprintf("tool not found: %s", req.Name)},
				IsError: true,
			})
			continue
		}
		call.tool = tool

		outcome := s.hooks.Fire(ctx, hooks.BeforeTool, req.Name, hooks.Payload{
			ToolName:  req.Name,
			ToolInput: req.Args,
		})

		if mut, ok := outcome.Mutation.(hooks.ToolArgsMutation); ok {
			call.mu.Lock()
			call.Request.Args = mut.Args
			call.mu.Unlock()
		}

		if outcome.StopExecution {
			reason := outcome.Reason
			if reason == "" {
				reason = "hook requested stop"
			}
			s.finalize(call, StatusError, Response{
				CallID:  req.CallID,
				Tool:    req.Name,
				Parts:   []string{reason},
				IsError: true,
			})
			s.stop(reason)
			s.cancelRemaining(requests[i+1:], reason)
			return fmt.Errorf("%w: %s", ErrStopped, reason)
		}

		if outcome.Blocking {
			s.finalize(call, StatusError, Response{
				CallID:  req.CallID,
				Tool:    req.Name,
				Parts:   []string{outcome.Reason},
				IsError: true,
			})
			continue
		}

		go s.lifecycle(ctx, call)
	}

	return nil
}

// Resolve delivers an approval command for a call awaiting confirmation.
// Each confirmation is consumed at most once; ModifyWithEditor updates the
// pending call's arguments and leaves the confirmation open.
func (s *Scheduler) Resolve(res Resolution) error {
	s.mu.Lock()
	call, ok := s.calls[res.CallID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown call: %s", res.CallID)
	}

	call.mu.Lock()
	defer call.mu.Unlock()

	if call.status != StatusAwaitingApproval {
		return fmt.Errorf("call %s is not awaiting approval (status %s)", res.CallID, call.status)
	}
	if call.resolved {
		return fmt.Errorf("confirmation for call %s already resolved", res.CallID)
	}

	switch res.Kind {
	case ModifyWithEditor:
		if res.EditedArgs != nil {
			call.Request.Args = res.EditedArgs
			if call.tool != nil {
				call.confirmation = call.tool.Confirmation(res.EditedArgs)
			}
		}
		// Descriptor stays open for a follow-up resolution.
		return nil

	case Cancel:
		call.resolved = true
		call.cancelReason = res.Reason
		call.approveCh <- false
		return nil

	case ProceedAlways:
		s.mu.Lock()
		s.alwaysAll = true
		s.mu.Unlock()
	case ProceedAlwaysServer:
		if server := serverName(call.Request.Name); server != "" {
			s.mu.Lock()
			s.alwaysServer[server] = true
			s.mu.Unlock()
		}
	case ProceedAlwaysTool:
		s.mu.Lock()
		s.alwaysTool[call.Request.Name] = true
		s.mu.Unlock()
	}

	call.resolved = true
	call.approveCh <- true
	return nil
}

// Wait blocks until every scheduled call is terminal. It returns the
// CancelAll reason when the batch was forcibly rejected.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// CancelAll forcibly rejects the batch wait condition, clears the pending
// set, and marks all non-terminal calls cancelled.
func (s *Scheduler) CancelAll(reason string) {
	s.mu.Lock()
	calls := make([]*ToolCall, 0, len(s.calls))
	for _, call := range s.calls {
		calls = append(calls, call)
	}
	s.waitErr = fmt.Errorf("tool calls cancelled: %s", reason)
	s.mu.Unlock()

	for _, call := range calls {
		if call.Status().Terminal() {
			continue
		}
		// Unpark any approval waiter.
		call.mu.Lock()
		if !call.resolved {
			call.resolved = true
			call.cancelReason = reason
			select {
			case call.approveCh <- false:
			default:
			}
		}
		call.mu.Unlock()

		s.finalize(call, StatusCancelled, Response{
			CallID:  call.Request.CallID,
			Tool:    call.Request.Name,
			Parts:   []string{fmt.Sprintf("cancelled: %s", reason)},
			IsError: true,
		})
	}

	s.logger.Info().Str("reason", reason).Msg("All pending tool calls cancelled")
}

// Stopped reports whether a hook halted the turn, and why.
func (s *Scheduler) Stopped() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopReason == "" {
		return "", false
	}
	return fmt.Sprintf("Agent execution stopped: %s", s.stopReason), true
}

// Responses returns the terminal responses in scheduling order.
func (s *Scheduler) Responses() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Response, 0, len(s.order))
	for _, id := range s.order {
		call := s.calls[id]
		if resp := call.Response(); resp != nil {
			out = append(out, *resp)
		}
	}
	return out
}

// Call returns the live record for a call id.
func (s *Scheduler) Call(id string) (*ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	return call, ok
}

// PendingCount returns the number of non-terminal calls.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCount
}

// Reset clears batch state (stop reason, wait error, completed calls) so
// the scheduler can serve the next batch. Pending calls must be drained
// first.
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingCount > 0 {
		return fmt.Errorf("cannot reset with %d pending calls", s.pendingCount)
	}
	s.calls = make(map[string]*ToolCall)
	s.order = []string{}
	s.waitErr = nil
	s.stopReason = ""
	return nil
}

// lifecycle runs one call from validation through execution. The call is
// already registered and has survived BeforeTool.
func (s *Scheduler) lifecycle(ctx context.Context, call *ToolCall) {
	req := call.Request

	if err := s.registry.Validate(req.Name, call.args()); err != nil {
		s.finalize(call, StatusError, Response{
			CallID:  req.CallID,
			Tool:    req.Name,
			Parts:   []string{fmt.Sprintf("parameter validation failed: %v", err)},
			IsError: true,
		})
		return
	}

	if !s.awaitApproval(ctx, call) {
		return
	}

	s.execute(ctx, call)
}

// awaitApproval suspends the call until its confirmation resolves. Returns
// false when the call reached a terminal status instead of approval.
func (s *Scheduler) awaitApproval(ctx context.Context, call *ToolCall) bool {
	req := call.Request
	conf := call.tool.Confirmation(call.args())
	if conf == nil || s.autoApproved(req) {
		// Straight through to executing, no external input.
		return true
	}

	call.mu.Lock()
	call.confirmation = conf
	if err := call.transitionLocked(StatusAwaitingApproval); err != nil {
		call.mu.Unlock()
		return false
	}
	call.mu.Unlock()

	s.emit(Event{CallID: req.CallID, Tool: req.Name, Status: StatusAwaitingApproval, Confirmation: conf})

	select {
	case approved := <-call.approveCh:
		if approved {
			return true
		}
		call.mu.Lock()
		reason := call.cancelReason
		call.mu.Unlock()
		if reason == "" {
			reason = "rejected by user"
		}
		s.finalize(call, StatusCancelled, Response{
			CallID:  req.CallID,
			Tool:    req.Name,
			Parts:   []string{fmt.Sprintf("cancelled: %s", reason)},
			IsError: true,
		})
		return false

	case <-ctx.Done():
		s.finalize(call, StatusCancelled, Response{
			CallID:  req.CallID,
			Tool:    req.Name,
			Parts:   []string{"cancelled"},
			IsError: true,
		})
		return false
	}
}

// execute runs the tool and fires AfterTool.
func (s *Scheduler) execute(ctx context.Context, call *ToolCall) {
	req := call.Request
	args := call.args()

	s.buildCheckpoint(call, args)

	if err := call.transition(StatusExecuting); err != nil {
		return
	}
	s.emit(Event{CallID: req.CallID, Tool: req.Name, Status: StatusExecuting})

	start := time.Now()
	result, err := call.tool.Run(ctx, args, func(chunk string) {
		call.mu.Lock()
		call.output.WriteString(chunk)
		call.mu.Unlock()
		s.emit(Event{CallID: req.CallID, Tool: req.Name, Status: StatusExecuting, OutputChunk: chunk})
	})
	duration := time.Since(start)
	observability.RecordToolExecution(req.Name, err == nil && !result.IsError, duration)

	if ctx.Err() != nil {
		s.finalize(call, StatusCancelled, Response{
			CallID:  req.CallID,
			Tool:    req.Name,
			Parts:   []string{"cancelled"},
			IsError: true,
		})
		return
	}

	status := StatusSuccess
	content := result.Content
	isError := result.IsError
	if err != nil {
		status = StatusError
		content = err.Error()
		isError = true
	} else if result.IsError {
		status = StatusError
	}

	parts := []string{content}

	outcome := s.hooks.Fire(ctx, hooks.AfterTool, req.Name, hooks.Payload{
		ToolName:     req.Name,
		ToolInput:    args,
		ToolResponse: content,
	})
	if outcome.AdditionalContext != "" {
		parts = append(parts, outcome.AdditionalContext)
	}

	s.finalize(call, status, Response{
		CallID:  req.CallID,
		Tool:    req.Name,
		Parts:   parts,
		IsError: isError,
	})

	if outcome.StopExecution {
		reason := outcome.Reason
		if reason == "" {
			reason = "hook requested stop"
		}
		s.stop(reason)
		s.CancelAll(reason)
	}
}

// buildCheckpoint snapshots affected files before a mutating tool runs.
// Snapshot failures are logged, never fatal.
func (s *Scheduler) buildCheckpoint(call *ToolCall, args map[string]interface{}) {
	if s.checkpoints == nil || !call.tool.MutatesFiles() {
		return
	}
	paths := call.tool.AffectedPaths(args)
	if len(paths) == 0 {
		return
	}

	cp, err := s.checkpoints.Create(call.Request.CallID, paths)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("call_id", call.Request.CallID).
			Str("tool", call.Request.Name).
			Msg("Checkpoint creation failed, continuing without restore point")
		return
	}

	call.mu.Lock()
	call.Request.CheckpointID = cp.ID
	call.mu.Unlock()
}

// autoApproved reports whether the call may skip awaiting_approval.
func (s *Scheduler) autoApproved(req Request) bool {
	if req.AutoExecute || s.mode == ApprovalYOLO {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alwaysAll || s.alwaysTool[req.Name] {
		return true
	}
	if server := serverName(req.Name); server != "" && s.alwaysServer[server] {
		return true
	}
	return false
}

func (s *Scheduler) register(req Request) *ToolCall {
	call := newToolCall(req)

	s.mu.Lock()
	if s.pendingCount == 0 {
		// Re-arm the batch wait condition.
		s.done = make(chan struct{})
	}
	s.pendingCount++
	call.pending = true
	s.calls[req.CallID] = call
	s.order = append(s.order, req.CallID)
	pending := s.pendingCount
	s.mu.Unlock()

	observability.SetPendingToolCalls(pending)
	s.emit(Event{CallID: req.CallID, Tool: req.Name, Status: StatusValidating})
	return call
}

// finalize moves a call to a terminal status, records its response, and
// removes it from the pending set, resolving the batch wait condition when
// the set empties.
func (s *Scheduler) finalize(call *ToolCall, status Status, resp Response) {
	call.mu.Lock()
	if call.status.Terminal() {
		call.mu.Unlock()
		return
	}
	_ = call.transitionLocked(status)
	call.response = &resp
	call.confirmation = nil
	call.mu.Unlock()

	s.mu.Lock()
	if call.pending {
		call.pending = false
		s.pendingCount--
		if s.pendingCount == 0 {
			close(s.done)
		}
	}
	pending := s.pendingCount
	s.mu.Unlock()

	observability.SetPendingToolCalls(pending)
	s.emit(Event{CallID: call.Request.CallID, Tool: call.Request.Name, Status: status})

	s.logger.Debug().
		Str("call_id", call.Request.CallID).
		Str("tool", call.Request.Name).
		Str("status", status.String()).
		Msg("Tool call terminal")
}

func (s *Scheduler) cancelRemaining(requests []Request, reason string) {
	for _, req := range requests {
		call := s.register(req)
		s.finalize(call, StatusCancelled, Response{
			CallID:  req.CallID,
			Tool:    req.Name,
			Parts:   []string{fmt.Sprintf("cancelled: %s", reason)},
			IsError: true,
		})
	}
}

func (s *Scheduler) stop(reason string) {
	s.mu.Lock()
	if s.stopReason == "" {
		s.stopReason = reason
	}
	s.mu.Unlock()
}

func (s *Scheduler) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}
