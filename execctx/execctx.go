// Package execctx implements ExecutionContext (spec.md §4.4): the value
// handed to a compute deck's Executor. SpawnAndWait is injected as a
// closure by the orchestrator rather than this package importing the
// orchestrator directly, keeping compute decks decoupled from the
// orchestrator's internals the same way
// _examples/goadesign-goa-ai/runtime/agent/planner.PlannerContext is
// decoupled from the concrete runtime.Runtime.
package execctx

import (
	"context"

	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/state"
	"github.com/deckrun/deckrun/trace"
)

// LogEntry is the payload of a Context.Log call.
type LogEntry struct {
	Title string
	Body  string
	Level string
	Meta  map[string]any
}

// SpawnInput is the argument to Context.SpawnAndWait.
type SpawnInput struct {
	DeckPath           string
	Input              any
	InitialUserMessage string
}

// SpawnFunc performs the recursive run_deck call described in spec.md
// §4.4: "recursive call into run_deck with parent_permissions = current
// set, depth + 1, parent_action_call_id = this action's id, saved state
// threaded, cancellation and deadline inherited; child runs under the same
// sandbox choice as the parent."
type SpawnFunc func(ctx context.Context, in SpawnInput) (any, error)

// Context is the ExecutionContext passed to a compute deck's Executor.
type Context struct {
	context.Context

	RunID              string
	ActionCallID       string
	ParentActionCallID string
	Depth              int
	Input              any
	InitialUserMessage string
	Label              string

	trace trace.Sink

	getState func() state.SavedState
	setState func(state.SavedState)

	spawn SpawnFunc
}

// New constructs a Context. stateGet/stateSet give the executor
// snapshot-read/publish access to SavedState without exposing the
// orchestrator's mutable working copy directly.
func New(
	parent context.Context,
	runID, actionCallID, parentActionCallID string,
	depth int,
	input any,
	initialUserMessage, label string,
	sink trace.Sink,
	stateGet func() state.SavedState,
	stateSet func(state.SavedState),
	spawn SpawnFunc,
) *Context {
	if sink == nil {
		sink = trace.Noop
	}
	return &Context{
		Context:            parent,
		RunID:              runID,
		ActionCallID:       actionCallID,
		ParentActionCallID: parentActionCallID,
		Depth:              depth,
		Input:              input,
		InitialUserMessage: initialUserMessage,
		Label:              label,
		trace:              sink,
		getState:           stateGet,
		setState:           stateSet,
		spawn:              spawn,
	}
}

// Log emits a log trace event.
func (c *Context) Log(entry LogEntry) {
	c.trace(trace.Event{
		Type:         trace.TypeLog,
		RunID:        c.RunID,
		ActionCallID: c.ActionCallID,
		Text:         entry.Body,
		LogLevel:     entry.Level,
		LogMeta:      entry.Meta,
	})
}

// GetSessionMeta reads key from the saved-state meta map.
func (c *Context) GetSessionMeta(key string) (any, bool) {
	return c.getState().GetMeta(key)
}

// SetSessionMeta writes key/value to the saved-state meta map and
// publishes the resulting snapshot via the state-update callback.
func (c *Context) SetSessionMeta(key string, value any) {
	c.setState(c.getState().SetMeta(key, value))
}

// AppendMessage appends a normalized user/assistant message to saved
// state. Only non-empty user/assistant roles are accepted, per spec.md
// §4.4.
func (c *Context) AppendMessage(role, content string) error {
	if content == "" {
		return nil
	}
	if role != "user" && role != "assistant" {
		return nil
	}
	cur := c.getState()
	updated := cur.AppendMessage(model.Message{Role: model.Role(role), Content: content})
	c.setState(updated)
	return nil
}

// SpawnAndWait recursively invokes run_deck for a child deck path.
func (c *Context) SpawnAndWait(in SpawnInput) (any, error) {
	return c.spawn(c, in)
}

// Fail is a terminal helper an executor calls to fail with a message.
func (c *Context) Fail(message string) error {
	return &execError{message: message}
}

type execError struct{ message string }

func (e *execError) Error() string { return e.message }
