package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harun/enso/internal/observability"
	"github.com/harun/enso/pkg/model"
)

// PromptHookState is the per-prompt bookkeeping for agent lifecycle hooks.
// One prompt may spawn nested agent invocations (continuations, subagent
// turns); the state survives all of them so the start hook fires once and
// the end hook sees the full accumulated response.
type PromptHookState struct {
	// BeforeAgentFired is set when the prompt's start hook has run.
	BeforeAgentFired bool
	// ResponseText accumulates assistant text across every invocation under
	// this prompt.
	ResponseText strings.Builder
	// Depth counts active nested invocations. The end hook fires only when
	// it returns to zero.
	Depth int
	// OriginalRequest is the user text that opened the prompt.
	OriginalRequest string
}

// Session is the live conversation state for one agent session. It is an
// explicit object passed by reference; nothing here is process-global.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	history []model.Message
	turns   int
	prompts map[string]*PromptHookState
}

// New creates a session. An empty id gets a generated one.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		prompts:   make(map[string]*PromptHookState),
	}
}

// History returns a copy of the conversation so far.
func (s *Session) History() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Append adds messages to the conversation.
func (s *Session) Append(msgs ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}

// ReplaceHistory swaps the whole conversation, used after compression.
func (s *Session) ReplaceHistory(msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]model.Message, len(msgs))
	copy(s.history, msgs)
}

// Len returns the number of messages in the conversation.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Turns returns the number of model turns consumed this session.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// IncrementTurns consumes one model turn and returns the new total.
func (s *Session) IncrementTurns() int {
	s.mu.Lock()
	s.turns++
	turns := s.turns
	s.mu.Unlock()
	observability.SetSessionTurns(turns)
	return turns
}

// promptState returns the state for a prompt id, creating it on first use.
// Caller must hold s.mu.
func (s *Session) promptState(promptID string) *PromptHookState {
	st, ok := s.prompts[promptID]
	if !ok {
		st = &PromptHookState{}
		s.prompts[promptID] = st
	}
	return st
}

// BeginInvocation enters one agent invocation under the prompt and reports
// whether the start hook should fire. It fires only on the first invocation;
// nested and continuation invocations under the same prompt skip it. The
// original request is recorded once.
func (s *Session) BeginInvocation(promptID, request string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.promptState(promptID)
	st.Depth++
	if st.BeforeAgentFired {
		return false
	}
	st.BeforeAgentFired = true
	st.OriginalRequest = request
	return true
}

// EndInvocation leaves one agent invocation and reports whether the end
// hook should fire, which is only at the outermost exit.
func (s *Session) EndInvocation(promptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.promptState(promptID)
	if st.Depth > 0 {
		st.Depth--
	}
	return st.Depth == 0
}

// AccumulateResponse appends assistant text to the prompt's running
// response.
func (s *Session) AccumulateResponse(promptID, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptState(promptID).ResponseText.WriteString(text)
}

// PromptResponse returns the accumulated response text for a prompt.
func (s *Session) PromptResponse(promptID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptState(promptID).ResponseText.String()
}

// OriginalRequest returns the user text that opened the prompt.
func (s *Session) OriginalRequest(promptID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptState(promptID).OriginalRequest
}

// ClearPrompt drops the bookkeeping for a finished prompt.
func (s *Session) ClearPrompt(promptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prompts, promptID)
}
