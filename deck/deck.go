// Package deck defines the Deck data model: the immutable, already-parsed
// unit of execution the orchestrator consumes. Parsing deck/card source
// files (front-matter, embedded schema modules) is out of scope for this
// module — callers construct a Deck value directly or via their own loader
// and hand it to the orchestrator.
package deck

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deckrun/deckrun/perm"
)

// Executor is a pure-compute deck body. It receives an ExecutionContext-like
// value (defined in package execctx to avoid an import cycle) and returns a
// JSON-serializable result or an error.
type Executor func(ctx context.Context, ec ExecContext) (any, error)

// ExecContext is the minimal surface package deck needs to describe an
// Executor's signature; package execctx implements it.
type ExecContext interface {
	context.Context
}

// ModelParams carries the model identifier or candidate list plus sampling
// and reasoning knobs passed to the model provider.
type ModelParams struct {
	// Model is either a single model id or an ordered list of candidates;
	// the provider's resolve_model hook (or the first non-empty entry)
	// picks one.
	Model []string

	Temperature      *float64
	MaxTokens        *int
	ReasoningEffort  string
	Verbosity        string
}

// HandlerRef names a handler deck plus its timing knobs.
type HandlerRef struct {
	DeckPath string
	DelayMS  int
	RepeatMS int
}

// Handlers bundles the three handler references a deck may declare.
// Non-root decks inherit a zero Handlers value when undeclared; a card
// cannot declare handlers.
type Handlers struct {
	OnBusy  *HandlerRef
	OnIdle  *HandlerRef
	OnError *HandlerRef
}

// ActionDeckRef is a named child-deck reference surfaced as a
// model-callable tool. ReferencePermissions, when non-nil, narrows the
// child's effective permissions at the reference layer (spec.md §4.3
// layer 4); it can only narrow, never widen.
type ActionDeckRef struct {
	Name                  string
	DeckPath              string
	ReferencePermissions  *perm.Declaration
}

// ExternalTool is declared by the deck and dispatched via the caller's
// external-tool hook rather than executed in-process.
type ExternalTool struct {
	Name        string
	InputSchema json.RawMessage
}

// Guardrails bounds a run's resource consumption. Zero fields are filled
// from config.Defaults by the orchestrator before use.
type Guardrails struct {
	MaxPasses int
	Timeout   time.Duration
	MaxDepth  int
}

// Merge returns a copy of g with zero fields replaced by the corresponding
// field of defaults, implementing spec.md §4.1 step 1 ("merge guardrails
// with defaults").
func (g Guardrails) Merge(defaults Guardrails) Guardrails {
	out := g
	if out.MaxPasses == 0 {
		out.MaxPasses = defaults.MaxPasses
	}
	if out.Timeout == 0 {
		out.Timeout = defaults.Timeout
	}
	if out.MaxDepth == 0 {
		out.MaxDepth = defaults.MaxDepth
	}
	return out
}

// Deck is the immutable, already-parsed unit of execution.
type Deck struct {
	// Path is the deck's identity, used for correlation in trace events and
	// as a key for handler/action lookups.
	Path string

	SystemPrompt string

	// Executor is set for compute decks; Model is set (Model.Model
	// non-empty) for LLM decks. Exactly one of the two is expected to
	// drive the orchestrator's branch choice (spec.md §4.1 step 5); a deck
	// lacking both is a configuration error the loader should have caught.
	Executor *Executor
	Model    *ModelParams

	ActionDecks   []ActionDeckRef
	ExternalTools []ExternalTool
	Handlers      Handlers

	// ContextSchema and ResponseSchema are compiled JSON schemas (see
	// package schema). Required for non-root decks; a root deck may accept
	// raw string input when ContextSchema is nil and AcceptsRawInput is
	// set.
	ContextSchema   json.RawMessage
	ResponseSchema  json.RawMessage
	AcceptsRawInput bool

	Guardrails  Guardrails
	Permissions perm.Declaration

	// Respond, when set, means the deck completes via an internal
	// gambit_respond tool call rather than raw assistant text.
	Respond bool
	// AllowEnd enables the internal gambit_end tool.
	AllowEnd bool
}

// IsRoot reports whether d carries the root-only schema relaxation: no
// context schema, and raw input accepted. Callers determine rootness from invocation depth,
// not from the Deck value itself; this helper exists for loaders that want
// to validate the invariant below before the orchestrator ever sees the
// deck.
func (d Deck) IsRoot() bool { return d.ContextSchema == nil && d.AcceptsRawInput }

// ValidateStatic checks the load-time invariants of spec.md §3: action
// names must not collide with built-in tool names, and non-root decks must
// declare both schemas. Cycle detection is the loader's responsibility, not
// the runtime's.
func (d Deck) ValidateStatic(depth int, builtinNames map[string]struct{}) error {
	for _, a := range d.ActionDecks {
		if _, collide := builtinNames[a.Name]; collide {
			return &staticError{msg: "action name collides with built-in tool: " + a.Name}
		}
	}
	if depth > 0 {
		if d.ContextSchema == nil {
			return &staticError{msg: "non-root deck missing context_schema: " + d.Path}
		}
		if d.ResponseSchema == nil {
			return &staticError{msg: "non-root deck missing response_schema: " + d.Path}
		}
	}
	return nil
}

type staticError struct{ msg string }

func (e *staticError) Error() string { return e.msg }
