package hooks

import (
	"encoding/json"
	"strings"
	"time"
)

// Decision is a hook's verdict for the event it was invoked for.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionAllow
	DecisionBlock
	DecisionDeny
)

// String returns the wire name of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionBlock:
		return "block"
	case DecisionDeny:
		return "deny"
	default:
		return "none"
	}
}

// blocking reports whether the decision aborts the guarded action.
func (d Decision) blocking() bool {
	return d == DecisionBlock || d == DecisionDeny
}

// InvocationResult is the outcome of one hook run. Retained for
// observability only.
type InvocationResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Success  bool
	TimedOut bool
	Duration time.Duration
	Input    Payload

	Decision          Decision
	Reason            string
	SystemMessage     string
	ContinueExecution bool
	AdditionalContext string
	Mutation          Mutation
}

// hookJSON is the stdout schema honored when a hook exits 0 and prints
// valid JSON.
type hookJSON struct {
	Decision           string          `json:"decision,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	SystemMessage      string          `json:"systemMessage,omitempty"`
	Continue           *bool           `json:"continue,omitempty"`
	HookSpecificOutput json.RawMessage `json:"hookSpecificOutput,omitempty"`
}

// parseDecision fills the decision fields of a run result, in priority
// order:
//
//  1. exit code 2 forces block with stderr as the reason, regardless of any
//     JSON on stdout
//  2. stdout that parses in full as JSON is honored field by field
//  3. non-JSON stdout with exit 0 is a deliberate fail-open: allow, with the
//     entire raw stdout as the system message
//  4. anything else is recorded as a failed run with no decision
func parseDecision(event Event, res *InvocationResult) {
	res.ContinueExecution = true

	if res.ExitCode == 2 {
		res.Decision = DecisionBlock
		res.Reason = strings.TrimSpace(res.Stderr)
		res.Success = false
		return
	}

	var parsed hookJSON
	trimmed := strings.TrimSpace(res.Stdout)
	if trimmed != "" && json.Unmarshal([]byte(trimmed), &parsed) == nil {
		switch parsed.Decision {
		case "allow":
			res.Decision = DecisionAllow
		case "block":
			res.Decision = DecisionBlock
		case "deny":
			res.Decision = DecisionDeny
		default:
			res.Decision = DecisionNone
		}
		res.Reason = parsed.Reason
		res.SystemMessage = parsed.SystemMessage
		if parsed.Continue != nil {
			res.ContinueExecution = *parsed.Continue
		}

		mut, extra, err := parseMutation(event, parsed.HookSpecificOutput)
		if err == nil {
			res.Mutation = mut
			res.AdditionalContext = extra
		}
		res.Success = res.ExitCode == 0
		return
	}

	if res.ExitCode == 0 {
		// Fail-open: unparsable stdout from a clean exit still allows, and
		// the full output is surfaced verbatim.
		res.Decision = DecisionAllow
		res.SystemMessage = res.Stdout
		res.Success = true
		return
	}

	res.Decision = DecisionNone
	res.Success = false
}

// Outcome is the aggregated decision for one fired event.
type Outcome struct {
	// Decision is the strongest verdict across all runs.
	Decision Decision
	// Blocking is true when any run produced block or deny, or when any
	// run's continue flag was false.
	Blocking bool
	// StopExecution is true when any run's continue flag was false. It is a
	// stronger, execution-halting signal than a plain block.
	StopExecution bool
	// Reason carries the first blocking run's reason.
	Reason string
	// SystemMessages collects every run's systemMessage in order.
	SystemMessages []string
	// AdditionalContext concatenates all runs' additionalContext values in
	// hook-declaration order.
	AdditionalContext string
	// Mutation is the event-typed payload from the last run that supplied
	// one.
	Mutation Mutation
	// Invocations records every hook run for this event.
	Invocations []InvocationResult
}

// aggregate merges ordered invocation results into one Outcome.
func aggregate(results []InvocationResult) Outcome {
	out := Outcome{Invocations: results}
	var contexts []string

	for _, res := range results {
		if res.Decision.blocking() && !out.Blocking {
			out.Blocking = true
			out.Decision = res.Decision
			out.Reason = res.Reason
		}
		if !res.ContinueExecution {
			out.Blocking = true
			out.StopExecution = true
			if out.Reason == "" {
				out.Reason = res.Reason
			}
		}
		if out.Decision == DecisionNone && res.Decision == DecisionAllow {
			out.Decision = DecisionAllow
		}
		if res.SystemMessage != "" {
			out.SystemMessages = append(out.SystemMessages, res.SystemMessage)
		}
		if res.AdditionalContext != "" {
			contexts = append(contexts, res.AdditionalContext)
		}
		if res.Mutation != nil {
			out.Mutation = res.Mutation
		}
	}

	out.AdditionalContext = strings.Join(contexts, "\n")
	return out
}
