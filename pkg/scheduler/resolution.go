package scheduler

// ResolutionKind enumerates the outcomes a caller can give a pending
// confirmation.
type ResolutionKind int

const (
	// ProceedOnce approves this call only.
	ProceedOnce ResolutionKind = iota
	// ProceedAlways approves this call and every later confirmation.
	ProceedAlways
	// ProceedAlwaysServer approves this call and every later call to a tool
	// from the same server.
	ProceedAlwaysServer
	// ProceedAlwaysTool approves this call and every later call to the same
	// tool.
	ProceedAlwaysTool
	// Cancel rejects the call.
	Cancel
	// ModifyWithEditor replaces the call's arguments and keeps the
	// confirmation open for a follow-up resolution.
	ModifyWithEditor
)

// String returns the wire name of the resolution kind.
func (k ResolutionKind) String() string {
	switch k {
	case ProceedOnce:
		return "proceed_once"
	case ProceedAlways:
		return "proceed_always"
	case ProceedAlwaysServer:
		return "proceed_always_server"
	case ProceedAlwaysTool:
		return "proceed_always_tool"
	case Cancel:
		return "cancel"
	case ModifyWithEditor:
		return "modify_with_editor"
	default:
		return "unknown"
	}
}

// Resolution is an explicit approval command for one awaiting call,
// submitted back to the scheduler over its resolution channel. Each
// confirmation is consumed by at most one non-modify resolution.
type Resolution struct {
	CallID string
	Kind   ResolutionKind
	// Reason accompanies Cancel.
	Reason string
	// EditedArgs carries the replacement arguments for ModifyWithEditor.
	EditedArgs map[string]interface{}
}
