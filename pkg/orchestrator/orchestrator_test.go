package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/enso/pkg/hooks"
	"github.com/harun/enso/pkg/model"
	"github.com/harun/enso/pkg/scheduler"
	"github.com/harun/enso/pkg/session"
)

// fakeClient replays scripted streams and records every request.
type fakeClient struct {
	mu       sync.Mutex
	requests []model.Request
	scripts  []func() (model.Stream, error)
}

func (c *fakeClient) Stream(ctx context.Context, req model.Request, cfg model.Config) (model.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.scripts) == 0 {
		return model.NewChunkStream(model.Chunk{Text: "done", FinishReason: model.FinishStop}), nil
	}
	script := c.scripts[0]
	if len(c.scripts) > 1 {
		c.scripts = c.scripts[1:]
	}
	return script()
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeClient) request(i int) model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func textStream(text string) func() (model.Stream, error) {
	return func() (model.Stream, error) {
		return model.NewChunkStream(model.Chunk{Text: text, FinishReason: model.FinishStop}), nil
	}
}

func emptyHooks() *hooks.Pipeline {
	return hooks.NewPipeline(hooks.Config{Logger: zerolog.Nop()})
}

func hooksFor(event hooks.Event, commands ...string) *hooks.Pipeline {
	defs := make([]hooks.Definition, len(commands))
	for i, cmd := range commands {
		defs[i] = hooks.Definition{Command: cmd}
	}
	return hooks.NewPipeline(hooks.Config{
		Logger: zerolog.Nop(),
		Settings: hooks.Settings{
			Groups: map[hooks.Event][]hooks.Group{
				event: {{Sequential: true, Hooks: defs}},
			},
		},
	})
}

func newOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *session.Session) {
	t.Helper()
	if cfg.Models == nil {
		cfg.Models = []model.Config{{Provider: "anthropic", Model: "primary", TokenLimit: 100000}}
	}
	if cfg.Hooks == nil {
		cfg.Hooks = emptyHooks()
	}
	if cfg.Session == nil {
		cfg.Session = session.New("test-session")
	}
	cfg.Logger = zerolog.Nop()
	o, err := New(cfg)
	require.NoError(t, err)
	return o, cfg.Session
}

func TestPromptFinishesWithResponseText(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){textStream("hello there")}}
	o, sess := newOrchestrator(t, Config{Client: client})

	res, err := o.Prompt(context.Background(), "prompt-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
	assert.Equal(t, "hello there", res.Text)

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
}

func TestToolCallsPauseTheRun(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) {
			return model.NewChunkStream(model.Chunk{
				ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "shell", Parameters: map[string]interface{}{"command": "ls"}}},
				FinishReason: model.FinishToolCalls,
			}), nil
		},
		textStream("two files"),
	}}
	o, sess := newOrchestrator(t, Config{Client: client})

	res, err := o.Prompt(context.Background(), "prompt-1", "list files")
	require.NoError(t, err)
	require.Equal(t, ResultToolCalls, res.Kind)
	require.Len(t, res.PendingCalls, 1)
	assert.Equal(t, "call-1", res.PendingCalls[0].CallID)
	assert.Equal(t, "shell", res.PendingCalls[0].Name)
	assert.Equal(t, "prompt-1", res.PendingCalls[0].PromptID)
	assert.Equal(t, scheduler.OriginatorModel, res.PendingCalls[0].Originator)

	res, err = o.ContinueWithToolResults(context.Background(), "prompt-1", []scheduler.Response{
		{CallID: "call-1", Tool: "shell", Parts: []string{"main.go\ngo.mod"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
	assert.Equal(t, "two files", res.Text)

	var toolMsg *model.Message
	for i, msg := range sess.History() {
		if msg.Role == model.RoleTool {
			toolMsg = &sess.History()[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
}

func TestBeforeAgentFiresOncePerPrompt(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "fired.log")

	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) {
			return model.NewChunkStream(model.Chunk{
				ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "shell"}},
				FinishReason: model.FinishToolCalls,
			}), nil
		},
		textStream("done"),
	}}
	o, _ := newOrchestrator(t, Config{
		Client: client,
		Hooks:  hooksFor(hooks.BeforeAgent, fmt.Sprintf("echo fired >> %s", marker)),
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	require.Equal(t, ResultToolCalls, res.Kind)

	// The continuation turn must not refire the start hook.
	_, err = o.ContinueWithToolResults(context.Background(), "prompt-1", []scheduler.Response{
		{CallID: "call-1", Tool: "shell", Parts: []string{"ok"}},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "fired"))
}

func TestBlockedPromptNeverCallsModel(t *testing.T) {
	client := &fakeClient{}
	o, sess := newOrchestrator(t, Config{
		Client: client,
		Hooks:  hooksFor(hooks.BeforeAgent, `echo '{"decision":"deny","reason":"off hours"}'`),
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "deploy")
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, res.Kind)
	assert.Equal(t, "off hours", res.Reason)
	assert.Zero(t, client.callCount())
	assert.Zero(t, sess.Len(), "blocked prompt must not record the user message")
}

func TestStoppedPromptRecordsUserMessage(t *testing.T) {
	client := &fakeClient{}
	o, sess := newOrchestrator(t, Config{
		Client: client,
		Hooks:  hooksFor(hooks.BeforeAgent, `echo '{"continue": false, "reason": "maintenance"}'`),
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "deploy")
	require.NoError(t, err)
	assert.Equal(t, ResultStopped, res.Kind)
	assert.Zero(t, client.callCount())

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, "deploy", history[0].Content)
}

func TestBeforeAgentContextRidesEveryTurn(t *testing.T) {
	payload := `{"hookSpecificOutput": {"additionalContext": "repo uses tabs"}}`
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) {
			return model.NewChunkStream(model.Chunk{
				ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "shell"}},
				FinishReason: model.FinishToolCalls,
			}), nil
		},
		textStream("done"),
	}}
	o, _ := newOrchestrator(t, Config{
		Client: client,
		Hooks:  hooksFor(hooks.BeforeAgent, "echo '"+payload+"'"),
	})

	_, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	_, err = o.ContinueWithToolResults(context.Background(), "prompt-1", []scheduler.Response{
		{CallID: "call-1", Tool: "shell", Parts: []string{"ok"}},
	})
	require.NoError(t, err)

	require.Equal(t, 2, client.callCount())
	for i := 0; i < 2; i++ {
		msgs := client.request(i).Messages
		require.NotEmpty(t, msgs)
		assert.Equal(t, "repo uses tabs", msgs[len(msgs)-1].Content, "request %d", i)
	}
}

func TestLoopDetectionAbortsStream(t *testing.T) {
	chunks := make([]model.Chunk, 0, 12)
	for i := 0; i < 12; i++ {
		chunks = append(chunks, model.Chunk{Text: "same chunk"})
	}
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) { return model.NewChunkStream(chunks...), nil },
	}}
	o, _ := newOrchestrator(t, Config{Client: client})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	assert.Equal(t, ResultLoopDetected, res.Kind)
}

func TestInvalidStreamRetriesOnceWithContinuation(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) { return nil, fmt.Errorf("upstream 503") },
		textStream("recovered"),
	}}
	o, sess := newOrchestrator(t, Config{
		Client: client,
		Models: []model.Config{
			{Provider: "anthropic", Model: "primary", TokenLimit: 100000},
			{Provider: "openai", Model: "fallback", TokenLimit: 100000},
		},
		TolerateFailedCalls: true,
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
	assert.Equal(t, "recovered", res.Text)
	require.Equal(t, 2, client.callCount())

	var sawContinue bool
	for _, msg := range sess.History() {
		if msg.Role == model.RoleUser && msg.Content == "please continue" {
			sawContinue = true
		}
	}
	assert.True(t, sawContinue, "retry must inject a continuation request")
}

func TestInvalidStreamNotToleratedSurfacesError(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) { return nil, fmt.Errorf("upstream 503") },
	}}
	o, _ := newOrchestrator(t, Config{Client: client})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.Error(t, err)
	assert.Equal(t, ResultError, res.Kind)
	assert.Equal(t, 1, client.callCount())
}

func TestOverflowEndsTurnWithoutModelCall(t *testing.T) {
	client := &fakeClient{}
	o, sess := newOrchestrator(t, Config{
		Client: client,
		Models: []model.Config{{Provider: "anthropic", Model: "tiny", TokenLimit: 10}},
		// Keep compression out of the way so the overflow path is hit.
		CompressionThreshold: 100,
	})
	sess.Append(model.Message{Role: model.RoleUser, Content: strings.Repeat("long history ", 50)})

	res, err := o.Prompt(context.Background(), "prompt-1", "more")
	require.NoError(t, err)
	assert.Equal(t, ResultOverflow, res.Kind)
	assert.Zero(t, client.callCount())
}

func TestMaxSessionTurnsIsFatal(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){textStream("first")}}
	o, _ := newOrchestrator(t, Config{Client: client, MaxSessionTurns: 1})

	_, err := o.Prompt(context.Background(), "prompt-1", "one")
	require.NoError(t, err)

	res, err := o.Prompt(context.Background(), "prompt-2", "two")
	require.ErrorIs(t, err, ErrMaxSessionTurns)
	assert.Equal(t, ResultError, res.Kind)

	// The fatal exit still tears down the prompt's run state.
	o.mu.Lock()
	_, live := o.prompts["prompt-2"]
	o.mu.Unlock()
	assert.False(t, live)
}

func TestAbortPromptTearsDownRunState(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) {
			return model.NewChunkStream(model.Chunk{
				ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "shell"}},
				FinishReason: model.FinishToolCalls,
			}), nil
		},
	}}

	var mu sync.Mutex
	var events []EventKind
	o, sess := newOrchestrator(t, Config{
		Client: client,
		OnEvent: func(ev Event) {
			mu.Lock()
			events = append(events, ev.Kind)
			mu.Unlock()
		},
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	require.Equal(t, ResultToolCalls, res.Kind)

	aborted := o.AbortPrompt("prompt-1", "Agent execution stopped: policy")
	assert.Equal(t, ResultStopped, aborted.Kind)
	assert.Equal(t, "Agent execution stopped: policy", aborted.Reason)

	o.mu.Lock()
	_, live := o.prompts["prompt-1"]
	o.mu.Unlock()
	assert.False(t, live, "paused run state must not survive the abort")
	assert.Empty(t, sess.PromptResponse("prompt-1"), "per-prompt hook state must be cleared")

	mu.Lock()
	assert.Contains(t, events, EventStopped)
	mu.Unlock()

	// The same prompt id starts clean afterwards.
	client.scripts = []func() (model.Stream, error){textStream("fresh run")}
	res, err = o.Prompt(context.Background(), "prompt-1", "again")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
}

func TestCompressionRunsAboveThreshold(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){textStream("ok")}}

	var mu sync.Mutex
	var events []EventKind
	o, sess := newOrchestrator(t, Config{
		Client: client,
		Models: []model.Config{{Provider: "anthropic", Model: "primary", TokenLimit: 150}},
		OnEvent: func(ev Event) {
			mu.Lock()
			events = append(events, ev.Kind)
			mu.Unlock()
		},
	})

	for i := 0; i < 40; i++ {
		sess.Append(model.Message{Role: model.RoleUser, Content: "filler filler"})
	}
	before := sess.Len()

	res, err := o.Prompt(context.Background(), "prompt-1", "summarize")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
	assert.Less(t, sess.Len(), before)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, EventCompressed)
}

func TestNextSpeakerContinuation(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){
		textStream("Plan ready. I will now run the tests:"),
		textStream("All tests pass."),
	}}
	o, _ := newOrchestrator(t, Config{Client: client})

	res, err := o.Prompt(context.Background(), "prompt-1", "fix it")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
	assert.Equal(t, 2, client.callCount())
	assert.Contains(t, res.Text, "All tests pass.")
}

func TestQuotaFailureSuppressesNextSpeaker(t *testing.T) {
	// The recovery response ends with a continuation marker; after a
	// quota-classified failure it must still not earn another Turn.
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) { return nil, fmt.Errorf("429 rate limit exceeded") },
		textStream("Recovered. I will now run the tests:"),
	}}
	o, _ := newOrchestrator(t, Config{
		Client: client,
		Models: []model.Config{
			{Provider: "anthropic", Model: "primary", TokenLimit: 100000},
			{Provider: "openai", Model: "fallback", TokenLimit: 100000},
		},
		TolerateFailedCalls: true,
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
	assert.Equal(t, 2, client.callCount())
}

func TestNetworkFailureKeepsNextSpeaker(t *testing.T) {
	// A plain transport failure does not suppress the continuation check.
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) { return nil, fmt.Errorf("read tcp: ECONNRESET") },
		textStream("Recovered. I will now run the tests:"),
		textStream("All tests pass."),
	}}
	o, _ := newOrchestrator(t, Config{Client: client, TolerateFailedCalls: true})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
	assert.Equal(t, 3, client.callCount())
	assert.Contains(t, res.Text, "All tests pass.")
}

func TestTurnBudgetBoundsContinuations(t *testing.T) {
	// Every response asks to continue; the budget must end the loop.
	client := &fakeClient{scripts: []func() (model.Stream, error){
		textStream("still working:"),
	}}
	o, _ := newOrchestrator(t, Config{Client: client, TurnBudget: 3})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	assert.Equal(t, ResultError, res.Kind)
	assert.Equal(t, "turn budget exhausted", res.Reason)
	assert.Equal(t, 3, client.callCount())
}

func TestBeforeModelReplacesOutgoingMessages(t *testing.T) {
	payload := `{"hookSpecificOutput": {"messages": [{"role": "user", "content": "redacted request"}]}}`
	client := &fakeClient{scripts: []func() (model.Stream, error){textStream("ok")}}
	o, _ := newOrchestrator(t, Config{
		Client: client,
		Hooks:  hooksFor(hooks.BeforeModel, "echo '"+payload+"'"),
	})

	_, err := o.Prompt(context.Background(), "prompt-1", "secret stuff")
	require.NoError(t, err)

	require.Equal(t, 1, client.callCount())
	msgs := client.request(0).Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "redacted request", msgs[0].Content)
}

func TestAfterModelReplacesResponseContent(t *testing.T) {
	payload := `{"hookSpecificOutput": {"content": "sanitized response"}}`
	client := &fakeClient{scripts: []func() (model.Stream, error){textStream("raw response")}}
	o, sess := newOrchestrator(t, Config{
		Client: client,
		Hooks:  hooksFor(hooks.AfterModel, "echo '"+payload+"'"),
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)

	history := sess.History()
	assert.Equal(t, "sanitized response", history[len(history)-1].Content)
}

func TestToolSelectionRestrictsOfferedTools(t *testing.T) {
	payload := `{"hookSpecificOutput": {"allowedTools": ["read_file"], "mode": "auto"}}`
	client := &fakeClient{scripts: []func() (model.Stream, error){textStream("ok")}}
	o, _ := newOrchestrator(t, Config{
		Client: client,
		Hooks:  hooksFor(hooks.BeforeToolSelection, "echo '"+payload+"'"),
		Tools: []model.ToolSpec{
			{Name: "read_file"},
			{Name: "write_file"},
			{Name: "shell"},
		},
	})

	_, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)

	tools := client.request(0).Tools
	require.Len(t, tools, 1)
	assert.Equal(t, "read_file", tools[0].Name)
}

func TestIDEContextNeverSplitsCallResponsePair(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){
		func() (model.Stream, error) {
			return model.NewChunkStream(model.Chunk{
				ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "shell"}},
				FinishReason: model.FinishToolCalls,
			}), nil
		},
		textStream("done"),
	}}
	o, sess := newOrchestrator(t, Config{Client: client})

	_, err := o.Prompt(context.Background(), "prompt-1", "go")
	require.NoError(t, err)

	// New editor context arrives while the model's call is still pending.
	o.SetIDEContext("cursor at main.go:42")

	_, err = o.ContinueWithToolResults(context.Background(), "prompt-1", []scheduler.Response{
		{CallID: "call-1", Tool: "shell", Parts: []string{"ok"}},
	})
	require.NoError(t, err)

	history := sess.History()
	for i, msg := range history {
		if strings.Contains(msg.Content, "cursor at main.go:42") {
			require.Greater(t, i, 0)
			prev := history[i-1]
			assert.False(t, prev.Role == model.RoleAssistant && len(prev.ToolCalls) > 0,
				"editor context must not sit between a call and its response")
		}
	}
}

func TestAgentStopClearsHistoryWhenConfigured(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){textStream("the answer")}}
	o, sess := newOrchestrator(t, Config{
		Client:                  client,
		ClearHistoryOnAgentStop: true,
		Hooks:                   hooksFor(hooks.AfterAgent, `echo '{"continue": false, "reason": "session closed by policy"}'`),
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "ask")
	require.NoError(t, err)
	assert.Equal(t, ResultStopped, res.Kind)
	assert.Equal(t, "session closed by policy", res.Reason)
	assert.Equal(t, "the answer", res.Text)
	assert.Zero(t, sess.Len(), "stop with clearing enabled must wipe the conversation")
}

func TestAgentStopKeepsHistoryByDefault(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){textStream("the answer")}}
	o, sess := newOrchestrator(t, Config{
		Client: client,
		Hooks:  hooksFor(hooks.AfterAgent, `echo '{"continue": false, "reason": "done here"}'`),
	})

	res, err := o.Prompt(context.Background(), "prompt-1", "ask")
	require.NoError(t, err)
	assert.Equal(t, ResultStopped, res.Kind)
	assert.Equal(t, 2, sess.Len())
}

func TestAfterAgentFeedbackSynthesizesUserTurn(t *testing.T) {
	client := &fakeClient{scripts: []func() (model.Stream, error){
		textStream("first answer"),
		textStream("revised answer"),
	}}
	o, sess := newOrchestrator(t, Config{
		Client: client,
		Hooks: hooks.NewPipeline(hooks.Config{
			Logger: zerolog.Nop(),
			Settings: hooks.Settings{
				Groups: map[hooks.Event][]hooks.Group{
					// Block only the first time; later runs allow.
					hooks.AfterAgent: {{Hooks: []hooks.Definition{{
						Command: `if [ -f "$HOME/.enso-once" ]; then echo '{"decision":"allow"}'; else touch "$HOME/.enso-once"; echo '{"decision":"block","reason":"cite your sources"}'; fi`,
					}}}},
				},
			},
		}),
	})
	t.Setenv("HOME", t.TempDir())

	res, err := o.Prompt(context.Background(), "prompt-1", "answer me")
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, res.Kind)
	assert.Equal(t, 2, client.callCount())

	var sawFeedback bool
	for _, msg := range sess.History() {
		if msg.Role == model.RoleUser && msg.Content == "cite your sources" {
			sawFeedback = true
		}
	}
	assert.True(t, sawFeedback)
}
