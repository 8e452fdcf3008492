package agent

import "github.com/miriadlabs/miriad/internal/providers"

// EventKind names the turn events the loop reports to its sink.
type EventKind string

const (
	EventUser          EventKind = "user"
	EventAssistant     EventKind = "assistant"
	EventToolCall      EventKind = "tool_call"
	EventToolResult    EventKind = "tool_result"
	EventError         EventKind = "error"
	EventConsolidation EventKind = "consolidation"
	EventDone          EventKind = "done"
)

// Event is one turn event. Fields beyond Kind are populated per kind.
type Event struct {
	Kind      EventKind
	Content   string
	ToolCall  *providers.ToolCall // kind=tool_call
	ToolUseID string              // kind=tool_result
	IsError   bool                // kind=tool_result
	Err       error               // kind=error
	Usage     *providers.Usage    // kind=done
}

// Sink receives turn events. A nil sink is valid and drops everything.
type Sink func(Event)

func (s Sink) emit(e Event) {
	if s != nil {
		s(e)
	}
}
