package sandbox

import (
	"context"
	"time"

	"github.com/deckrun/deckrun/execctx"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/perm"
	"github.com/deckrun/deckrun/state"
)

// InspectRequest bounds a read-only, bootstrap inspection of a deck to
// INSPECT_WORKER_TIMEOUT_MS.
type InspectRequest struct {
	DeckPath string
	DeckDir  string
	Perm     perm.EffectivePermissions
	Trusted  TrustedDirs
	Timeout  time.Duration
}

// InspectResult carries what the bootstrap scan discovered.
type InspectResult struct {
	ImportPaths  []string
	Capabilities perm.EffectivePermissions
}

// ComputeRequest is the compute-worker protocol's run.start payload, plus
// the host-side hooks the worker's execctx.Context needs to call back into
// (spawn, saved-state get/set) without importing the orchestrator.
type ComputeRequest struct {
	DeckPath           string
	Input              any
	InitialUserMessage string
	State              state.SavedState
	Permissions        perm.EffectivePermissions
	DeadlineUnixMS     int64
	Root               bool
	RunID              string
	ActionCallID       string
	ParentActionCallID string
	Depth              int
	Label              string

	Spawn    execctx.SpawnFunc
	GetState func() state.SavedState
	SetState func(state.SavedState)
	Log      func(execctx.LogEntry)

	// Execute runs the deck's compute executor given the worker-local
	// execctx.Context constructed from the fields above. It is supplied
	// by the caller (the orchestrator owns deck loading and the
	// Executor signature) so that this package never imports deck.
	Execute func(ctx context.Context, ec *execctx.Context) (any, error)
}

// ModelBridge is the model.Provider-shaped RPC surface an orchestration
// worker is given; a Host implementation proxies these calls to the host's
// real provider across the worker boundary.
type ModelBridge interface {
	Chat(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error)
	Responses(ctx context.Context, req model.ResponsesRequest) (model.ResponsesResponse, error)
	ResolveModel(ctx context.Context, req model.ResolveModelRequest) (model.ResolveModelResponse, error)
}

// OrchestrationRequest is the orchestration-worker protocol's run.start
// payload. It carries neither an external-tool hook (the hook can only be
// invoked in-process) nor a cancellation signal (the sandbox bridge
// predates signal support): run_deck refuses sandboxed orchestration when
// either is present, before ever constructing one of these.
type OrchestrationRequest struct {
	DeckPath           string
	Input              any
	InitialUserMessage string
	State              state.SavedState
	Permissions        perm.EffectivePermissions
	DeadlineUnixMS     int64
	Root               bool
	RunID              string
	ActionCallID       string
	ParentActionCallID string
	Depth              int

	Spawn    execctx.SpawnFunc
	GetState func() state.SavedState
	SetState func(state.SavedState)

	// Bridge is the ModelBridge the worker's LLM loop calls through. For
	// the in-process backend this is a DirectBridge wrapping the real
	// model.Provider; an out-of-process backend would instead proxy each
	// call across its own transport.
	Bridge ModelBridge

	// Loop runs the LLM loop worker-side against bridge, returning the
	// same value run_deck would. Supplied by the caller (llmloop owns
	// the pass loop) so this package never imports llmloop.
	Loop func(ctx context.Context, bridge ModelBridge) (any, error)
}

// DirectBridge implements ModelBridge by calling straight through to a
// model.Provider with no transport boundary — used by Host backends (like
// inmem) that do not actually cross a process/network boundary.
type DirectBridge struct {
	Provider model.Provider
}

func (b DirectBridge) Chat(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	return b.Provider.Chat(ctx, req)
}

func (b DirectBridge) Responses(ctx context.Context, req model.ResponsesRequest) (model.ResponsesResponse, error) {
	return b.Provider.Responses(ctx, req)
}

func (b DirectBridge) ResolveModel(ctx context.Context, req model.ResolveModelRequest) (model.ResolveModelResponse, error) {
	return b.Provider.ResolveModel(ctx, req)
}

// Host abstracts the isolated execution context a workerSandbox run uses.
// Implementations translate InspectDeck/RunCompute/RunOrchestration into
// backend-specific primitives (a goroutine with a deadline, a Temporal
// workflow, ...) while this package's message types and Settlement enforce
// the session/nonce discipline uniformly across backends.
type Host interface {
	// Supported reports whether this host can create isolated execution
	// contexts at all. run_deck fails with worker_sandbox_unsupported_host
	// when this is false and workerSandbox was requested.
	Supported() bool

	InspectDeck(ctx context.Context, req InspectRequest) (InspectResult, error)
	RunCompute(ctx context.Context, req ComputeRequest) (any, error)
	RunOrchestration(ctx context.Context, req OrchestrationRequest) (any, error)
}
