package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecisionExitTwoOverridesStdout(t *testing.T) {
	res := &InvocationResult{
		ExitCode: 2,
		Stdout:   `{"decision": "allow"}`,
		Stderr:   "  dangerous path  \n",
	}
	parseDecision(BeforeTool, res)

	assert.Equal(t, DecisionBlock, res.Decision)
	assert.Equal(t, "dangerous path", res.Reason)
	assert.False(t, res.Success)
}

func TestParseDecisionHonorsFullJSON(t *testing.T) {
	res := &InvocationResult{
		ExitCode: 0,
		Stdout:   `{"decision": "deny", "reason": "not allowed", "systemMessage": "heads up"}`,
	}
	parseDecision(BeforeTool, res)

	assert.Equal(t, DecisionDeny, res.Decision)
	assert.Equal(t, "not allowed", res.Reason)
	assert.Equal(t, "heads up", res.SystemMessage)
	assert.True(t, res.ContinueExecution)
	assert.True(t, res.Success)
}

func TestParseDecisionContinueFalse(t *testing.T) {
	res := &InvocationResult{
		ExitCode: 0,
		Stdout:   `{"continue": false, "reason": "budget exhausted"}`,
	}
	parseDecision(AfterTool, res)

	assert.False(t, res.ContinueExecution)
	assert.Equal(t, "budget exhausted", res.Reason)
}

func TestParseDecisionFailOpenOnPlainText(t *testing.T) {
	res := &InvocationResult{
		ExitCode: 0,
		Stdout:   "checked 14 files, all clean\n",
	}
	parseDecision(BeforeTool, res)

	assert.Equal(t, DecisionAllow, res.Decision)
	assert.Equal(t, "checked 14 files, all clean\n", res.SystemMessage)
	assert.True(t, res.Success)
}

func TestParseDecisionNonZeroExitIsFailedRun(t *testing.T) {
	res := &InvocationResult{
		ExitCode: 1,
		Stdout:   "crash dump",
	}
	parseDecision(BeforeTool, res)

	assert.Equal(t, DecisionNone, res.Decision)
	assert.False(t, res.Success)
	assert.True(t, res.ContinueExecution)
}

func TestParseDecisionToolArgsMutation(t *testing.T) {
	res := &InvocationResult{
		ExitCode: 0,
		Stdout:   `{"hookSpecificOutput": {"toolInput": {"path": "/tmp/safe"}}}`,
	}
	parseDecision(BeforeTool, res)

	mut, ok := res.Mutation.(ToolArgsMutation)
	require.True(t, ok)
	assert.Equal(t, "/tmp/safe", mut.Args["path"])
}

func TestAggregateBlockWinsAndKeepsFirstReason(t *testing.T) {
	out := aggregate([]InvocationResult{
		{Decision: DecisionAllow, ContinueExecution: true},
		{Decision: DecisionDeny, Reason: "first", ContinueExecution: true},
		{Decision: DecisionBlock, Reason: "second", ContinueExecution: true},
	})

	assert.True(t, out.Blocking)
	assert.False(t, out.StopExecution)
	assert.Equal(t, DecisionDeny, out.Decision)
	assert.Equal(t, "first", out.Reason)
}

func TestAggregateStopExecutionIsStrongerThanBlock(t *testing.T) {
	out := aggregate([]InvocationResult{
		{Decision: DecisionBlock, Reason: "blocked", ContinueExecution: true},
		{Decision: DecisionNone, Reason: "halt", ContinueExecution: false},
	})

	assert.True(t, out.Blocking)
	assert.True(t, out.StopExecution)
	assert.Equal(t, "blocked", out.Reason)
}

func TestAggregateCollectsContextAndMessagesInOrder(t *testing.T) {
	out := aggregate([]InvocationResult{
		{AdditionalContext: "alpha", SystemMessage: "one", ContinueExecution: true},
		{ContinueExecution: true},
		{AdditionalContext: "beta", SystemMessage: "two", ContinueExecution: true},
	})

	assert.Equal(t, "alpha\nbeta", out.AdditionalContext)
	assert.Equal(t, []string{"one", "two"}, out.SystemMessages)
}

func TestAggregateLastMutationWins(t *testing.T) {
	out := aggregate([]InvocationResult{
		{Mutation: ToolArgsMutation{Args: map[string]interface{}{"v": 1}}, ContinueExecution: true},
		{Mutation: ToolArgsMutation{Args: map[string]interface{}{"v": 2}}, ContinueExecution: true},
	})

	mut, ok := out.Mutation.(ToolArgsMutation)
	require.True(t, ok)
	assert.Equal(t, 2, mut.Args["v"])
}
