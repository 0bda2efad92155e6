// Package llmloop implements the multi-pass LLM loop of spec.md §4.2: tool
// catalog construction, the pass loop (model invocation, tool-call
// dispatch, saved-state publishing), and the streaming callbacks. It never
// imports the orchestrator package directly — action-deck dispatch and
// cancellation/deadline plumbing are handed in as closures, the same
// decoupling execctx uses for spawn_and_wait, grounded on
// _examples/goadesign-goa-ai/runtime/agent/planner.PlannerContext.
package llmloop

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deckrun/deckrun/deck"
	"github.com/deckrun/deckrun/handlers"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/perm"
	"github.com/deckrun/deckrun/state"
	"github.com/deckrun/deckrun/telemetry"
	"github.com/deckrun/deckrun/trace"
)

// DeckLoader resolves a deck path to its loaded Deck value — used to fetch
// an action-deck reference's context schema for its tool-catalog entry.
type DeckLoader func(path string) (*deck.Deck, error)

// ActionRequest is what the LLM loop hands to an ActionDispatcher when the
// model calls an action-deck tool.
type ActionRequest struct {
	DeckPath             string
	ActionName           string
	Args                 json.RawMessage
	ReferencePermissions *perm.Declaration
	ParentPermissions    perm.EffectivePermissions
	WorkerSandbox        bool
}

// ActionResult is the normalized envelope an ActionDispatcher returns,
// matching spec.md §4.2 step 5's "{status?, payload, message?, code?,
// meta?}".
type ActionResult struct {
	Status  int             `json:"status,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Meta    map[string]any  `json:"meta,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// ActionDispatcher performs the recursive run_deck call for an action-deck
// tool call. ActionRequest carries the caller's effective permissions, the
// per-action reference override and the workerSandbox flag; the
// orchestrator's implementation runs the child at depth + 1 under the same
// run id and the caller's deadline. The child starts from an empty saved
// state, and its state updates are not merged back into the caller's.
type ActionDispatcher func(ctx context.Context, req ActionRequest) (ActionResult, error)

// ExternalToolCall is passed to the caller-supplied external-tool hook.
type ExternalToolCall struct {
	Name               string
	Args               json.RawMessage
	RunID              string
	ActionCallID       string
	ParentActionCallID string
	DeckPath           string
}

// ExternalToolHook implements spec.md §6's on_tool contract.
type ExternalToolHook func(ctx context.Context, call ExternalToolCall) (any, error)

// Options configures one invocation of Run.
type Options struct {
	Deck   *deck.Deck
	Loader DeckLoader

	Provider model.Provider

	RunID              string
	ActionCallID       string
	ParentActionCallID string
	Depth              int
	Root               bool
	ResponsesMode      bool

	Input              any
	InputProvided      bool
	InitialUserMessage string

	Permissions perm.EffectivePermissions
	Checker     perm.Checker

	DeadlineUnixMS int64
	MaxPasses      int

	State    state.SavedState
	GetState func() state.SavedState
	SetState func(state.SavedState)

	Sink       trace.Sink
	StreamText model.StreamTextFunc

	// Telemetry bundles the Logger/Metrics/Tracer this loop logs and
	// traces through. Run fills a zero value with no-op implementations.
	Telemetry telemetry.Set

	Dispatch     ActionDispatcher
	ExternalTool ExternalToolHook

	OnBusyFire  handlers.FireFunc
	OnIdleFire  handlers.FireFunc
	OnErrorFire handlers.FireFunc
	BusyDelay   time.Duration
	BusyRepeat  time.Duration
	IdleDelay   time.Duration
	IdleRepeat  time.Duration

	WorkerSandbox bool
}

// Outcome is Run's terminal result.
type Outcome struct {
	Responded bool
	Ended     bool
	Envelope  ActionResult
	Content   string
}
