package orchestrator

// EventKind classifies orchestrator progress and terminal events.
type EventKind string

const (
	// EventTurnStarted marks the beginning of one underlying model call.
	EventTurnStarted EventKind = "turn_started"
	// EventText carries streamed response text.
	EventText EventKind = "text"
	// EventCompressed reports that context compression ran before the call.
	EventCompressed EventKind = "compressed"
	// EventFinished is the clean terminal event for a prompt.
	EventFinished EventKind = "finished"
	// EventBlocked reports that a hook refused the prompt before any model
	// call.
	EventBlocked EventKind = "blocked"
	// EventStopped reports that a hook halted execution with continue:false.
	EventStopped EventKind = "stopped"
	// EventOverflow reports that the outgoing request would exceed the
	// model's token limit; no model call was made.
	EventOverflow EventKind = "overflow"
	// EventLoopDetected reports that streaming was aborted on a repetition
	// pattern.
	EventLoopDetected EventKind = "loop_detected"
	// EventCancelled reports external cancellation.
	EventCancelled EventKind = "cancelled"
	// EventSystemMessage surfaces a hook's systemMessage to the user.
	EventSystemMessage EventKind = "system_message"
)

// Event is one observer notification from the orchestrator.
type Event struct {
	Kind     EventKind
	PromptID string
	Text     string
}
