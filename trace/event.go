// Package trace implements TraceEvent (spec.md §3, §6): a closed variant
// set every orchestrator/LLM-loop step emits through a monomorphic Sink.
// Grounded in the typed Event interface and baseEvent-embedding idiom of
// _examples/goadesign-goa-ai/runtime/agent/hooks/events.go, narrowed to the
// fixed variant list spec.md enumerates instead of that codebase's open
// hook-event catalog.
package trace

import "encoding/json"

// Type is the closed set of trace event kinds.
type Type string

const (
	TypeRunStart          Type = "run.start"
	TypeRunEnd            Type = "run.end"
	TypeDeckStart         Type = "deck.start"
	TypeDeckEnd           Type = "deck.end"
	TypeActionStart       Type = "action.start"
	TypeActionEnd         Type = "action.end"
	TypeToolCall          Type = "tool.call"
	TypeToolResult        Type = "tool.result"
	TypeModelCall         Type = "model.call"
	TypeModelResult       Type = "model.result"
	TypeModelStreamEvent  Type = "model.stream.event"
	TypeMonolog           Type = "monolog"
	TypeLog               Type = "log"
	TypeMessageUser       Type = "message.user"
	TypeResponsePrefix    Type = "response." // forwarded responses-API events are "response.<suffix>"
)

// Event is one entry of the trace stream. Every event carries RunID and,
// where applicable, ActionCallID/ParentActionCallID so a consumer can
// reconstruct the invocation tree (spec.md §3 Identifiers/Lifecycles).
type Event struct {
	Type Type

	RunID             string
	ActionCallID      string
	ParentActionCallID string
	DeckPath          string

	// Fields populated depending on Type. Using a flat struct rather than
	// per-variant types keeps Sink a single monomorphic callback, matching
	// spec.md §6 ("A monomorphic callback receiving typed TraceEvent
	// values").
	PermissionTrace any // []perm.LayerTrace, attached to run.start
	Error           string
	ElapsedMS       int64

	ToolName    string
	ToolPayload json.RawMessage
	ToolResult  json.RawMessage

	Messages any // []model.Message snapshot, attached to model.call
	Tools    any // []model.ToolDefinition, attached to model.call
	Mode     string // "chat" | "responses"

	FinishReason string
	Usage        any
	StateSize    int

	Text string // monolog / log / message.user body

	LogLevel string
	LogMeta  map[string]any

	// Gambit carries the `_gambit` correlation envelope attached to
	// forwarded responses-API stream events (run_id, action_call_id,
	// parent_action_call_id, deck_path, model).
	Gambit *GambitCorrelation

	// Raw carries the original provider-emitted stream event for
	// response.* events, forwarded verbatim.
	Raw any
}

// GambitCorrelation is the `_gambit` metadata envelope spec.md §4.2
// attaches to every forwarded responses-mode stream event.
type GambitCorrelation struct {
	RunID              string
	ActionCallID       string
	ParentActionCallID string
	DeckPath           string
	Model              string
}

// Sink receives trace events. Implementations must be short and
// non-blocking (spec.md §9 "Async callbacks").
type Sink func(Event)

// Noop is a Sink that discards every event.
func Noop(Event) {}
