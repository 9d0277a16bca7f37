package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/enso/internal/observability"
	"github.com/harun/enso/pkg/hooks"
	"github.com/harun/enso/pkg/model"
	"github.com/harun/enso/pkg/scheduler"
	"github.com/harun/enso/pkg/session"
)

// ErrMaxSessionTurns ends the session when the configured turn ceiling is
// exceeded. Fatal, non-recoverable within the process.
var ErrMaxSessionTurns = errors.New("maximum session turns exceeded")

// defaultTurnBudget bounds the Turns one prompt may consume across tool
// follow-ups, continuations, and retries.
const defaultTurnBudget = 24

// ResultKind classifies how a prompt run ended, or why it paused.
type ResultKind string

const (
	// ResultFinished is the clean terminal outcome.
	ResultFinished ResultKind = "finished"
	// ResultToolCalls pauses the run: the caller must schedule the pending
	// calls and feed their responses back in.
	ResultToolCalls ResultKind = "tool_calls"
	// ResultBlocked means a hook refused the prompt before any model call.
	ResultBlocked ResultKind = "blocked"
	// ResultStopped means a hook halted execution with continue:false.
	ResultStopped ResultKind = "stopped"
	// ResultOverflow means the outgoing request would not fit the model's
	// context window; no model call was made.
	ResultOverflow ResultKind = "overflow"
	// ResultLoopDetected means streaming was aborted on a repetition
	// pattern.
	ResultLoopDetected ResultKind = "loop_detected"
	// ResultCancelled means the caller's context was cancelled.
	ResultCancelled ResultKind = "cancelled"
	// ResultError covers stream failures that could not be retried and an
	// exhausted turn budget.
	ResultError ResultKind = "error"
)

// Result is the outcome of one Prompt or ContinueWithToolResults call.
type Result struct {
	Kind   ResultKind
	Text   string
	Reason string
	// PendingCalls is set with ResultToolCalls.
	PendingCalls []scheduler.Request
	Usage        model.TokenUsage
}

// Config configures an Orchestrator.
type Config struct {
	Models  []model.Config
	Client  model.Client
	Hooks   *hooks.Pipeline
	Session *session.Session
	// Store, when set, persists the transcript as messages are appended.
	// Persistence failures are logged, never fatal.
	Store *session.Store
	// Tools is the full tool set offered to the model. BeforeToolSelection
	// hooks may restrict it per call.
	Tools        []model.ToolSpec
	SystemPrompt string
	// TurnBudget bounds Turns per prompt; zero uses the default.
	TurnBudget int
	// MaxSessionTurns ends the session fatally when exceeded; zero means
	// unlimited.
	MaxSessionTurns int
	// CompressionThreshold is the fraction of the model token limit at which
	// history compression runs; zero uses the default.
	CompressionThreshold float64
	// TolerateFailedCalls enables the single invalid-stream retry.
	TolerateFailedCalls bool
	// ClearHistoryOnAgentStop wipes the conversation when an AfterAgent hook
	// stops execution.
	ClearHistoryOnAgentStop bool
	Logger                  zerolog.Logger
	OnEvent                 func(Event)
}

// promptRun is the orchestrator's bookkeeping for one in-flight prompt: the
// explicit bounded-loop state that replaces recursion.
type promptRun struct {
	remaining int
	// extraContext is the BeforeAgent additionalContext, appended to the
	// outgoing request on every Turn of this prompt.
	extraContext string
	// invalidRetried is set after an invalid-stream retry so the retry never
	// happens twice in a row.
	invalidRetried bool
	// quotaSuppressed is set when a quota-classified stream failure forced a
	// retry; the next-speaker continuation is skipped for the rest of this
	// prompt so a throttled prompt never spends extra Turns on its own.
	quotaSuppressed bool
	// continuation names the pending continuation reason for the next Turn.
	continuation string
}

// Orchestrator drives the multi-Turn conversation loop for one session.
type Orchestrator struct {
	logger   zerolog.Logger
	client   model.Client
	selector *model.Selector
	hooks    *hooks.Pipeline
	session  *session.Session
	store    *session.Store
	cfg      Config

	mu          sync.Mutex
	prompts     map[string]*promptRun
	ideContext  string
	ideAttached string
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if cfg.Hooks == nil {
		return nil, fmt.Errorf("hook pipeline is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	selector, err := model.NewSelector(cfg.Models, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if cfg.TurnBudget <= 0 {
		cfg.TurnBudget = defaultTurnBudget
	}

	observability.EnsureRegistered()

	return &Orchestrator{
		logger:   cfg.Logger.With().Str("component", "orchestrator").Logger(),
		client:   cfg.Client,
		selector: selector,
		hooks:    cfg.Hooks,
		session:  cfg.Session,
		store:    cfg.Store,
		cfg:      cfg,
		prompts:  make(map[string]*promptRun),
	}, nil
}

// SetIDEContext updates the editor context attached opportunistically to
// the next eligible Turn.
func (o *Orchestrator) SetIDEContext(text string) {
	o.mu.Lock()
	o.ideContext = text
	o.mu.Unlock()
}

// Prompt runs one user prompt until it finishes, pauses on tool calls, or
// terminates on a hook or resource boundary.
func (o *Orchestrator) Prompt(ctx context.Context, promptID, text string) (Result, error) {
	run := o.run(promptID)

	fire := o.session.BeginInvocation(promptID, text)
	if fire {
		outcome := o.hooks.Fire(ctx, hooks.BeforeAgent, hooks.MatchAll, hooks.Payload{Prompt: text})
		o.surfaceSystemMessages(promptID, outcome)
		run.extraContext = outcome.AdditionalContext

		if outcome.StopExecution {
			// Stop still records the user message to history.
			o.appendMessage(ctx, model.Message{Role: model.RoleUser, Content: text})
			o.session.EndInvocation(promptID)
			o.emit(Event{Kind: EventStopped, PromptID: promptID, Text: outcome.Reason})
			return o.finishPrompt(promptID, Result{Kind: ResultStopped, Reason: outcome.Reason}), nil
		}
		if outcome.Blocking {
			o.session.EndInvocation(promptID)
			o.emit(Event{Kind: EventBlocked, PromptID: promptID, Text: outcome.Reason})
			return o.finishPrompt(promptID, Result{Kind: ResultBlocked, Reason: outcome.Reason}), nil
		}
	}

	o.appendMessage(ctx, model.Message{Role: model.RoleUser, Content: text})
	return o.loop(ctx, promptID, run)
}

// ContinueWithToolResults feeds a completed batch of tool responses back in
// and resumes the prompt's Turn loop.
func (o *Orchestrator) ContinueWithToolResults(ctx context.Context, promptID string, responses []scheduler.Response) (Result, error) {
	run := o.run(promptID)

	for _, resp := range responses {
		o.appendMessage(ctx, model.Message{
			Role:       model.RoleTool,
			Content:    resp.Text(),
			ToolCallID: resp.CallID,
		})
	}

	return o.loop(ctx, promptID, run)
}

// AbortPrompt ends an in-flight prompt from outside the Turn loop. Callers
// use it when tool dispatch was halted and no results will be fed back, so
// the paused prompt would otherwise never reach its teardown.
func (o *Orchestrator) AbortPrompt(promptID, reason string) Result {
	o.session.EndInvocation(promptID)
	o.emit(Event{Kind: EventStopped, PromptID: promptID, Text: reason})
	return o.finishPrompt(promptID, Result{Kind: ResultStopped, Reason: reason})
}

// loop is the explicit bounded Turn loop for one prompt.
func (o *Orchestrator) loop(ctx context.Context, promptID string, run *promptRun) (Result, error) {
	for {
		if run.remaining <= 0 {
			o.logger.Warn().Str("prompt_id", promptID).Msg("Turn budget exhausted")
			return o.finishPrompt(promptID, Result{
				Kind:   ResultError,
				Text:   o.session.PromptResponse(promptID),
				Reason: "turn budget exhausted",
			}), nil
		}
		run.remaining--

		result, done, err := o.turn(ctx, promptID, run)
		if err != nil || done {
			return result, err
		}
	}
}

// turn runs one model call. done=false means the loop should continue with
// the next Turn.
func (o *Orchestrator) turn(ctx context.Context, promptID string, run *promptRun) (Result, bool, error) {
	turns := o.session.IncrementTurns()
	if o.cfg.MaxSessionTurns > 0 && turns > o.cfg.MaxSessionTurns {
		err := fmt.Errorf("%w: %d turns used", ErrMaxSessionTurns, turns)
		return o.finishPrompt(promptID, Result{Kind: ResultError, Reason: err.Error()}), true, err
	}

	modelCfg := o.selector.Choose(promptID)

	if needsCompression(o.session.History(), modelCfg, o.cfg.CompressionThreshold) {
		o.hooks.Fire(ctx, hooks.PreCompress, hooks.MatchAll, hooks.Payload{Trigger: "token_threshold"})
		o.session.ReplaceHistory(compress(o.session.History()))
		observability.RecordCompression()
		o.emit(Event{Kind: EventCompressed, PromptID: promptID})
	}

	o.attachIDEContext(ctx)

	messages := o.session.History()
	if run.extraContext != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: run.extraContext})
	}
	if run.continuation != "" {
		o.logger.Debug().
			Str("prompt_id", promptID).
			Str("reason", run.continuation).
			Msg("Continuation turn")
		run.continuation = ""
	}

	toolSpecs := o.cfg.Tools
	selOutcome := o.hooks.Fire(ctx, hooks.BeforeToolSelection, hooks.MatchAll, hooks.Payload{})
	if mut, ok := selOutcome.Mutation.(hooks.ToolSelectionMutation); ok {
		toolSpecs = restrictTools(toolSpecs, mut.AllowedTools)
	}

	modelOutcome := o.hooks.Fire(ctx, hooks.BeforeModel, hooks.MatchAll, hooks.Payload{})
	o.surfaceSystemMessages(promptID, modelOutcome)
	if modelOutcome.StopExecution {
		o.emit(Event{Kind: EventStopped, PromptID: promptID, Text: modelOutcome.Reason})
		return o.finishPrompt(promptID, Result{Kind: ResultStopped, Reason: modelOutcome.Reason}), true, nil
	}
	if modelOutcome.Blocking {
		o.emit(Event{Kind: EventBlocked, PromptID: promptID, Text: modelOutcome.Reason})
		return o.finishPrompt(promptID, Result{Kind: ResultBlocked, Reason: modelOutcome.Reason}), true, nil
	}
	if mut, ok := modelOutcome.Mutation.(hooks.RequestMutation); ok {
		messages = mut.Messages
	}
	if modelOutcome.AdditionalContext != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: modelOutcome.AdditionalContext})
	}

	if modelCfg.TokenLimit > 0 && model.EstimateTokens(messages) > modelCfg.TokenLimit {
		o.emit(Event{Kind: EventOverflow, PromptID: promptID})
		return o.finishPrompt(promptID, Result{
			Kind:   ResultOverflow,
			Reason: fmt.Sprintf("request estimate exceeds %d token limit", modelCfg.TokenLimit),
		}), true, nil
	}

	req := model.Request{
		Messages:     messages,
		SystemPrompt: o.cfg.SystemPrompt,
		Tools:        toolSpecs,
		Temperature:  modelCfg.Temperature,
	}

	o.emit(Event{Kind: EventTurnStarted, PromptID: promptID})
	start := time.Now()
	turn := runTurn(ctx, o.client, req, modelCfg, func(text string) {
		o.session.AccumulateResponse(promptID, text)
		o.emit(Event{Kind: EventText, PromptID: promptID, Text: text})
	})
	observability.RecordTurn(string(turn.state), time.Since(start))

	switch turn.state {
	case TurnCancelled:
		o.emit(Event{Kind: EventCancelled, PromptID: promptID})
		return o.finishPrompt(promptID, Result{Kind: ResultCancelled}), true, nil

	case TurnLoopDetected:
		o.emit(Event{Kind: EventLoopDetected, PromptID: promptID})
		return o.finishPrompt(promptID, Result{
			Kind: ResultLoopDetected,
			Text: o.session.PromptResponse(promptID),
		}), true, nil

	case TurnInvalidStream:
		if o.cfg.TolerateFailedCalls && !run.invalidRetried {
			run.invalidRetried = true
			if isQuotaError(turn.err) {
				run.quotaSuppressed = true
			}
			if cfg, ok := o.selector.Fallback(promptID); ok {
				o.logger.Warn().
					Str("prompt_id", promptID).
					Str("model", cfg.Model).
					Err(turn.err).
					Msg("Invalid stream, retrying on fallback model")
			} else {
				o.logger.Warn().
					Str("prompt_id", promptID).
					Err(turn.err).
					Msg("Invalid stream, retrying once")
			}
			o.appendMessage(ctx, model.Message{Role: model.RoleUser, Content: continueRequest})
			run.continuation = "invalid-stream"
			return Result{}, false, nil
		}
		return o.finishPrompt(promptID, Result{Kind: ResultError, Reason: turn.err.Error()}), true, turn.err

	case TurnError:
		return o.finishPrompt(promptID, Result{Kind: ResultError, Reason: turn.err.Error()}), true, turn.err
	}

	run.invalidRetried = false

	afterOutcome := o.hooks.Fire(ctx, hooks.AfterModel, hooks.MatchAll, hooks.Payload{ResponseText: turn.text})
	o.surfaceSystemMessages(promptID, afterOutcome)
	if mut, ok := afterOutcome.Mutation.(hooks.ResponseMutation); ok {
		turn.text = mut.Content
	}
	if afterOutcome.StopExecution {
		o.emit(Event{Kind: EventStopped, PromptID: promptID, Text: afterOutcome.Reason})
		return o.finishPrompt(promptID, Result{Kind: ResultStopped, Reason: afterOutcome.Reason}), true, nil
	}

	o.appendMessage(ctx, model.Message{
		Role:      model.RoleAssistant,
		Content:   turn.text,
		ToolCalls: turn.toolCalls,
	})

	if len(turn.toolCalls) > 0 {
		requests := make([]scheduler.Request, 0, len(turn.toolCalls))
		for _, call := range turn.toolCalls {
			requests = append(requests, scheduler.Request{
				CallID:     call.ID,
				Name:       call.Name,
				Args:       call.Parameters,
				Originator: scheduler.OriginatorModel,
				PromptID:   promptID,
			})
		}
		return Result{
			Kind:         ResultToolCalls,
			Text:         turn.text,
			PendingCalls: requests,
			Usage:        turn.usage,
		}, true, nil
	}

	if !run.quotaSuppressed && modelShouldContinue(turn.text, turn.finish) {
		o.appendMessage(ctx, model.Message{Role: model.RoleUser, Content: continueRequest})
		run.continuation = "next-speaker"
		return Result{}, false, nil
	}

	if o.session.EndInvocation(promptID) {
		response := o.session.PromptResponse(promptID)
		agentOutcome := o.hooks.Fire(ctx, hooks.AfterAgent, hooks.MatchAll, hooks.Payload{
			Prompt:       o.session.OriginalRequest(promptID),
			ResponseText: response,
		})
		o.surfaceSystemMessages(promptID, agentOutcome)

		if agentOutcome.StopExecution {
			if o.cfg.ClearHistoryOnAgentStop {
				o.session.ReplaceHistory(nil)
			}
			o.emit(Event{Kind: EventStopped, PromptID: promptID, Text: agentOutcome.Reason})
			return o.finishPrompt(promptID, Result{Kind: ResultStopped, Text: response, Reason: agentOutcome.Reason}), true, nil
		}
		if agentOutcome.Blocking {
			// The hook's reason becomes a synthetic user message and the
			// prompt gets one more Turn from its budget.
			o.session.BeginInvocation(promptID, "")
			o.appendMessage(ctx, model.Message{Role: model.RoleUser, Content: agentOutcome.Reason})
			run.continuation = "agent-hook-feedback"
			return Result{}, false, nil
		}

		o.emit(Event{Kind: EventFinished, PromptID: promptID, Text: response})
		return o.finishPrompt(promptID, Result{Kind: ResultFinished, Text: response, Usage: turn.usage}), true, nil
	}

	o.emit(Event{Kind: EventFinished, PromptID: promptID, Text: turn.text})
	return Result{Kind: ResultFinished, Text: turn.text, Usage: turn.usage}, true, nil
}

// attachIDEContext appends the latest editor context as a user message,
// unless the last history message is a function call still waiting for its
// response. Strict call/response pairing in history takes priority.
func (o *Orchestrator) attachIDEContext(ctx context.Context) {
	o.mu.Lock()
	pending := o.ideContext != o.ideAttached && o.ideContext != ""
	text := o.ideContext
	o.mu.Unlock()
	if !pending {
		return
	}

	history := o.session.History()
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == model.RoleAssistant && len(last.ToolCalls) > 0 {
			return
		}
	}

	o.appendMessage(ctx, model.Message{
		Role:    model.RoleUser,
		Content: "Active editor context:\n" + text,
	})

	o.mu.Lock()
	o.ideAttached = text
	o.mu.Unlock()
}

// run returns the bounded-loop state for a prompt, creating it on first
// use.
func (o *Orchestrator) run(promptID string) *promptRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.prompts[promptID]
	if !ok {
		r = &promptRun{remaining: o.cfg.TurnBudget}
		o.prompts[promptID] = r
	}
	return r
}

// finishPrompt tears down per-prompt state and returns the terminal result.
func (o *Orchestrator) finishPrompt(promptID string, result Result) Result {
	o.mu.Lock()
	delete(o.prompts, promptID)
	o.mu.Unlock()
	o.session.ClearPrompt(promptID)
	o.selector.Release(promptID)
	return result
}

// appendMessage records a message in session history and best-effort
// persists it.
func (o *Orchestrator) appendMessage(ctx context.Context, msg model.Message) {
	o.session.Append(msg)
	if o.store == nil {
		return
	}
	if err := o.store.SaveMessage(ctx, o.session.ID, msg); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to persist message")
	}
}

func (o *Orchestrator) surfaceSystemMessages(promptID string, outcome hooks.Outcome) {
	for _, msg := range outcome.SystemMessages {
		o.emit(Event{Kind: EventSystemMessage, PromptID: promptID, Text: msg})
	}
}

func (o *Orchestrator) emit(ev Event) {
	if o.cfg.OnEvent != nil {
		o.cfg.OnEvent(ev)
	}
}

// restrictTools filters specs to the allowed names, preserving order. An
// empty allow-list keeps the full set.
func restrictTools(specs []model.ToolSpec, allowed []string) []model.ToolSpec {
	if len(allowed) == 0 {
		return specs
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}
	var out []model.ToolSpec
	for _, spec := range specs {
		if allowedSet[spec.Name] {
			out = append(out, spec)
		}
	}
	return out
}
