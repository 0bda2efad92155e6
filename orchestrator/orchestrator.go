// Package orchestrator implements run_deck (spec.md §4.1): the single
// entry point that merges guardrails, resolves the permission lattice,
// clamps the deadline, selects a compute or LLM execution branch (in
// process or under the worker sandbox), and recurses for action decks and
// handler decks. It is the one package allowed to import both execctx and
// llmloop, since closing the recursive run_deck loop is its entire job.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/deckrun/deckrun/config"
	"github.com/deckrun/deckrun/deck"
	"github.com/deckrun/deckrun/deckerr"
	"github.com/deckrun/deckrun/execctx"
	"github.com/deckrun/deckrun/handlers"
	"github.com/deckrun/deckrun/ids"
	"github.com/deckrun/deckrun/llmloop"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/perm"
	"github.com/deckrun/deckrun/sandbox"
	"github.com/deckrun/deckrun/schema"
	"github.com/deckrun/deckrun/state"
	"github.com/deckrun/deckrun/telemetry"
	"github.com/deckrun/deckrun/trace"
)

// DeckLoader resolves a deck path to its parsed Deck value.
type DeckLoader func(path string) (*deck.Deck, error)

// Orchestrator owns the collaborators a run_deck invocation needs but that
// don't belong to any single deck: the loader, model provider, worker
// sandbox host, runtime defaults, and trace sink.
type Orchestrator struct {
	Loader   DeckLoader
	Provider model.Provider
	Sandbox  sandbox.Host
	Config   config.Defaults
	Sink     trace.Sink

	// Telemetry bundles the Logger/Metrics/Tracer this Orchestrator, and
	// the llmloop.Run invocations it drives, log and trace through. Left
	// at its zero value, New fills it with no-op implementations; set it
	// to a telemetry.Set holding real Logger/Metrics/Tracer implementations
	// to wire a backend.
	Telemetry telemetry.Set

	// ExternalTool implements spec.md §6's on_tool contract. It can only be
	// invoked in-process, which is why a workerSandbox orchestration-worker
	// run is refused whenever this hook is set — see dispatchBranch.
	ExternalTool llmloop.ExternalToolHook

	// TrustedDirs bounds the bootstrap read-allowlist widening a
	// workerSandbox compute/LLM run is permitted, per spec.md §4.7.
	TrustedDirs sandbox.TrustedDirs

	validator *schema.Validator
}

// New constructs an Orchestrator. validator is created lazily on first use
// if the caller leaves it nil.
func New(loader DeckLoader, provider model.Provider, sandboxHost sandbox.Host, cfg config.Defaults, sink trace.Sink) *Orchestrator {
	if sink == nil {
		sink = trace.Noop
	}
	return &Orchestrator{
		Loader: loader, Provider: provider, Sandbox: sandboxHost, Config: cfg, Sink: sink,
		Telemetry: telemetry.WithDefaults(telemetry.Set{}),
		validator: schema.New(),
	}
}

// RunOptions is the input to RunDeck. A root invocation leaves RunID,
// ParentPermissions, ParentActionCallID, and Depth at their zero values;
// Orchestrator fills them in (mint run_id, host allow-all parent layer,
// depth 0).
type RunOptions struct {
	DeckPath string

	Input              any
	InputProvided       bool
	InitialUserMessage string

	// BaseDir anchors the permission lattice and built-in tool path
	// resolution for this invocation (spec.md §4.3).
	BaseDir string

	// WorkspacePermissions and SessionPermissions are root-only layers
	// (spec.md §4.3 layers 2 and 5); nil at any non-root depth.
	WorkspacePermissions *perm.Declaration
	SessionPermissions   *perm.Declaration

	// ReferencePermissions narrows the declaration layer further when this
	// invocation is an action-deck call made through a reference that
	// declared an override (spec.md §4.3 layer 4).
	ReferencePermissions *perm.Declaration

	// ParentPermissions is the resolved EffectivePermissions of the caller;
	// zero-value (BaseDir=="") at the root, where the host allow-all layer
	// is substituted instead.
	ParentPermissions perm.EffectivePermissions

	RunID              string
	ParentActionCallID string
	Depth              int

	State state.SavedState

	// DeadlineUnixMS is the inherited deadline; 0 means "no inherited
	// deadline" (root). The child's deadline is min(inherited, now+timeout)
	// per spec.md §4.1/§7's monotonic clamping rule.
	DeadlineUnixMS int64

	WorkerSandbox bool

	StreamText model.StreamTextFunc
	Cancel     <-chan struct{}
}

func (o *Orchestrator) emit(evt trace.Event) {
	o.Sink(evt)
}

// RunDeck is the single entry point of spec.md §4.1.
func (o *Orchestrator) RunDeck(ctx context.Context, opts RunOptions) (any, error) {
	d, err := o.Loader(opts.DeckPath)
	if err != nil {
		return nil, deckerr.Wrap(deckerr.NotFound, 404, "deck_not_found", "deck not found: "+opts.DeckPath, err)
	}

	root := opts.Depth == 0
	guardrails := d.Guardrails.Merge(o.Config.Guardrails)

	if opts.Depth > guardrails.MaxDepth {
		return nil, deckerr.Errorf(deckerr.Guardrail, 508, "max_depth_exceeded",
			"invocation depth %d exceeds max_depth %d", opts.Depth, guardrails.MaxDepth)
	}

	runID := opts.RunID
	if runID == "" {
		runID = ids.NewRunID()
	}
	actionCallID := ids.NewActionCallID()

	effective, traces, err := o.resolvePermissions(d, opts, root)
	if err != nil {
		return nil, err
	}

	deadline := clampDeadline(opts.DeadlineUnixMS, guardrails.Timeout)
	runCtx, cancel := contextWithDeadlineAndCancel(ctx, deadline, opts.Cancel)
	defer cancel()

	if root {
		o.emit(trace.Event{Type: trace.TypeRunStart, RunID: runID, DeckPath: d.Path, PermissionTrace: traces})
	}

	if root && !opts.InputProvided {
		if recovered, ok := recoverGambitContext(opts.State); ok {
			opts.Input = recovered
			opts.InputProvided = true
		}
	}

	if err := o.validateInput(d, opts, root); err != nil {
		return nil, err
	}

	workerSandbox := opts.WorkerSandbox || o.Config.WorkerSandbox

	result, runErr := o.dispatchBranch(runCtx, d, opts, effective, runID, actionCallID, deadline, workerSandbox)

	if root {
		o.emit(trace.Event{Type: trace.TypeRunEnd, RunID: runID, DeckPath: d.Path, Error: errStringOf(runErr)})
	}

	if runErr != nil && deckerr.IsRunCanceled(runErr) {
		return nil, deckerr.RunCanceled()
	}
	return result, runErr
}

// dispatchBranch selects among the four execution modes of spec.md §4.1
// step 5: sandboxed compute, sandboxed LLM, in-process compute, in-process
// LLM.
func (o *Orchestrator) dispatchBranch(ctx context.Context, d *deck.Deck, opts RunOptions, effective perm.EffectivePermissions, runID, actionCallID string, deadline int64, workerSandbox bool) (any, error) {
	isCompute := d.Executor != nil

	if workerSandbox {
		if o.Sandbox == nil || !o.Sandbox.Supported() {
			return nil, deckerr.New(deckerr.HostUnsupported, 501, "worker_sandbox_unsupported_host",
				"workerSandbox requested but no sandbox host is configured")
		}
		if !isCompute && o.ExternalTool != nil {
			return nil, deckerr.New(deckerr.Policy, 409, "worker_sandbox_external_tool_incompatible",
				"an external-tool hook is registered, and it cannot be invoked inside the worker sandbox")
		}
		if !isCompute && opts.Cancel != nil {
			return nil, deckerr.New(deckerr.Policy, 409, "worker_sandbox_cancellation_incompatible",
				"cooperative cancellation signals cannot cross the worker sandbox boundary for orchestration workers")
		}
	}

	if err := checkNamespacePolicy(opts.BaseDir); err != nil {
		return nil, err
	}

	getState, setState := o.stateAccessors(opts.State)

	if isCompute {
		if workerSandbox {
			return o.runSandboxedCompute(ctx, d, opts, runID, actionCallID, deadline, getState, setState)
		}
		return o.runCompute(ctx, d, opts, runID, actionCallID, deadline, getState, setState)
	}

	if workerSandbox {
		return o.runSandboxedOrchestration(ctx, d, opts, effective, runID, actionCallID, deadline, getState, setState)
	}
	return o.runLLM(ctx, d, opts, effective, runID, actionCallID, deadline, getState, setState)
}

func (o *Orchestrator) stateAccessors(initial state.SavedState) (func() state.SavedState, func(state.SavedState)) {
	cur := initial
	return func() state.SavedState { return cur }, func(n state.SavedState) { cur = n }
}

func (o *Orchestrator) runCompute(ctx context.Context, d *deck.Deck, opts RunOptions, runID, actionCallID string, deadline int64, getState func() state.SavedState, setState func(state.SavedState)) (any, error) {
	ec := execctx.New(ctx, runID, actionCallID, opts.ParentActionCallID, opts.Depth, opts.Input,
		opts.InitialUserMessage, "", o.Sink, getState, setState, o.spawnFunc(d, opts, runID, actionCallID, deadline))
	return (*d.Executor)(ec, ec)
}

func (o *Orchestrator) runSandboxedCompute(ctx context.Context, d *deck.Deck, opts RunOptions, runID, actionCallID string, deadline int64, getState func() state.SavedState, setState func(state.SavedState)) (any, error) {
	ctx, span := o.Telemetry.Trace.Start(ctx, "sandbox.run_compute")
	defer span.End()
	o.Telemetry.Logger.Debug(ctx, "dispatching to worker sandbox host", "deck", d.Path, "run_id", runID)

	req := sandbox.ComputeRequest{
		DeckPath: d.Path, Input: opts.Input, InitialUserMessage: opts.InitialUserMessage,
		State: getState(), Permissions: opts.ParentPermissions, DeadlineUnixMS: deadline,
		Root: opts.Depth == 0, RunID: runID, ActionCallID: actionCallID, ParentActionCallID: opts.ParentActionCallID,
		Depth: opts.Depth, Label: d.Path,
		Spawn: o.spawnFunc(d, opts, runID, actionCallID, deadline), GetState: getState, SetState: setState,
		Log: func(execctx.LogEntry) {},
		Execute: func(ctx context.Context, ec *execctx.Context) (any, error) {
			return (*d.Executor)(ec, ec)
		},
	}
	result, err := o.Sandbox.RunCompute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (o *Orchestrator) runLLM(ctx context.Context, d *deck.Deck, opts RunOptions, effective perm.EffectivePermissions, runID, actionCallID string, deadline int64, getState func() state.SavedState, setState func(state.SavedState)) (any, error) {
	checker := perm.Checker{Perm: effective}

	onBusy, onIdle, onError := o.handlerFires(ctx, d, opts, runID, actionCallID, deadline)
	busyDelay, busyRepeat := handlerTiming(d.Handlers.OnBusy, o.Config.BusyDelay, o.Config.BusyRepeat)
	idleDelay, idleRepeat := handlerTiming(d.Handlers.OnIdle, o.Config.IdleDelay, 0)

	outcome, err := llmloop.Run(ctx, llmloop.Options{
		Deck:   d,
		Loader: func(path string) (*deck.Deck, error) { return o.Loader(path) },

		Provider: o.Provider,

		RunID: runID, ActionCallID: actionCallID, ParentActionCallID: opts.ParentActionCallID,
		Depth: opts.Depth, Root: opts.Depth == 0,

		Input: opts.Input, InputProvided: opts.InputProvided, InitialUserMessage: opts.InitialUserMessage,

		Permissions: effective, Checker: checker,

		DeadlineUnixMS: deadline, MaxPasses: d.Guardrails.Merge(o.Config.Guardrails).MaxPasses,

		State: getState(), GetState: getState, SetState: setState,

		Sink:       o.Sink,
		StreamText: opts.StreamText,
		Telemetry:  o.Telemetry,

		Dispatch:     o.actionDispatcher(d, opts, runID),
		ExternalTool: o.ExternalTool,

		OnBusyFire: onBusy, OnIdleFire: onIdle, OnErrorFire: onError,
		BusyDelay: busyDelay, BusyRepeat: busyRepeat, IdleDelay: idleDelay, IdleRepeat: idleRepeat,
	})
	if err != nil {
		return nil, err
	}
	if outcome.Responded || outcome.Ended {
		return outcome.Envelope.Payload, nil
	}
	return outcome.Content, nil
}

func (o *Orchestrator) runSandboxedOrchestration(ctx context.Context, d *deck.Deck, opts RunOptions, effective perm.EffectivePermissions, runID, actionCallID string, deadline int64, getState func() state.SavedState, setState func(state.SavedState)) (any, error) {
	ctx, span := o.Telemetry.Trace.Start(ctx, "sandbox.run_orchestration")
	defer span.End()
	o.Telemetry.Logger.Debug(ctx, "dispatching LLM loop to worker sandbox host", "deck", d.Path, "run_id", runID)

	req := sandbox.OrchestrationRequest{
		DeckPath: d.Path, Input: opts.Input, InitialUserMessage: opts.InitialUserMessage,
		State: getState(), Permissions: effective, DeadlineUnixMS: deadline,
		Root: opts.Depth == 0, RunID: runID, ActionCallID: actionCallID, ParentActionCallID: opts.ParentActionCallID,
		Depth: opts.Depth,
		Spawn: o.spawnFunc(d, opts, runID, actionCallID, deadline), GetState: getState, SetState: setState,
		Bridge: sandbox.DirectBridge{Provider: o.Provider},
		Loop: func(ctx context.Context, bridge sandbox.ModelBridge) (any, error) {
			outcome, err := llmloop.Run(ctx, llmloop.Options{
				Deck: d, Loader: o.Loader, Provider: bridgeAsProvider{bridge},
				RunID: runID, ActionCallID: actionCallID, ParentActionCallID: opts.ParentActionCallID,
				Depth: opts.Depth, Root: opts.Depth == 0,
				Input: opts.Input, InputProvided: opts.InputProvided, InitialUserMessage: opts.InitialUserMessage,
				Permissions: effective, Checker: perm.Checker{Perm: effective},
				DeadlineUnixMS: deadline, MaxPasses: d.Guardrails.Merge(o.Config.Guardrails).MaxPasses,
				State: getState(), GetState: getState, SetState: setState,
				Sink: o.Sink, Telemetry: o.Telemetry, Dispatch: o.actionDispatcher(d, opts, runID),
			})
			if err != nil {
				return nil, err
			}
			if outcome.Responded || outcome.Ended {
				return outcome.Envelope.Payload, nil
			}
			return outcome.Content, nil
		},
	}
	result, err := o.Sandbox.RunOrchestration(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// bridgeAsProvider adapts a sandbox.ModelBridge back to model.Provider so
// the worker-side LLM loop can use the exact same llmloop.Run entry point
// the in-process branch uses.
type bridgeAsProvider struct{ bridge sandbox.ModelBridge }

func (b bridgeAsProvider) Chat(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	return b.bridge.Chat(ctx, req)
}
func (b bridgeAsProvider) Responses(ctx context.Context, req model.ResponsesRequest) (model.ResponsesResponse, error) {
	return b.bridge.Responses(ctx, req)
}
func (b bridgeAsProvider) ResolveModel(ctx context.Context, req model.ResolveModelRequest) (model.ResolveModelResponse, error) {
	return b.bridge.ResolveModel(ctx, req)
}

// actionDispatcher closes over o and the calling deck/opts to implement
// llmloop.ActionDispatcher: a recursive RunDeck call with depth+1, the
// current effective permissions as the child's parent layer, and the
// reference's narrowing override applied, per spec.md §4.2 step 5.
func (o *Orchestrator) actionDispatcher(d *deck.Deck, opts RunOptions, runID string) llmloop.ActionDispatcher {
	return func(ctx context.Context, req llmloop.ActionRequest) (llmloop.ActionResult, error) {
		var input any
		_ = json.Unmarshal(req.Args, &input)
		var deadline int64
		if dl, ok := ctx.Deadline(); ok {
			deadline = dl.UnixMilli()
		}

		result, err := o.RunDeck(ctx, RunOptions{
			DeckPath: req.DeckPath, Input: input, InputProvided: true,
			BaseDir: opts.BaseDir, ReferencePermissions: req.ReferencePermissions,
			ParentPermissions: req.ParentPermissions, RunID: runID, ParentActionCallID: req.ActionName,
			Depth: opts.Depth + 1, DeadlineUnixMS: deadline, WorkerSandbox: req.WorkerSandbox, Cancel: opts.Cancel,
		})
		if err != nil {
			return llmloop.ActionResult{}, err
		}
		return llmloop.ActionResult{Payload: result}, nil
	}
}

// spawnFunc closes over o to implement execctx.SpawnFunc: a recursive
// RunDeck call for a compute deck's explicit SpawnAndWait, per spec.md §4.4.
func (o *Orchestrator) spawnFunc(d *deck.Deck, opts RunOptions, runID, actionCallID string, deadline int64) execctx.SpawnFunc {
	return func(ctx context.Context, in execctx.SpawnInput) (any, error) {
		return o.RunDeck(ctx, RunOptions{
			DeckPath: in.DeckPath, Input: in.Input, InputProvided: true, InitialUserMessage: in.InitialUserMessage,
			BaseDir: opts.BaseDir, ParentPermissions: opts.ParentPermissions, RunID: runID,
			ParentActionCallID: actionCallID, Depth: opts.Depth + 1, DeadlineUnixMS: deadline,
			WorkerSandbox: opts.WorkerSandbox, Cancel: opts.Cancel,
		})
	}
}

// handlerFires builds the three FireFunc closures the LLM loop invokes for
// on_busy/on_idle/on_error, each a best-effort recursive RunDeck call
// against the handler deck named in d.Handlers, per spec.md §4.5.
func (o *Orchestrator) handlerFires(ctx context.Context, d *deck.Deck, opts RunOptions, runID, actionCallID string, deadline int64) (handlers.FireFunc, handlers.FireFunc, handlers.FireFunc) {
	fire := func(ref *deck.HandlerRef) handlers.FireFunc {
		if ref == nil {
			return nil
		}
		return func(ctx context.Context, payload any) (any, error) {
			return o.RunDeck(ctx, RunOptions{
				DeckPath: ref.DeckPath, Input: payload, InputProvided: true,
				BaseDir: opts.BaseDir, ParentPermissions: opts.ParentPermissions, RunID: runID,
				ParentActionCallID: actionCallID, Depth: opts.Depth + 1, DeadlineUnixMS: deadline,
				WorkerSandbox: opts.WorkerSandbox,
			})
		}
	}
	return fire(d.Handlers.OnBusy), fire(d.Handlers.OnIdle), fire(d.Handlers.OnError)
}

// resolvePermissions implements spec.md §4.3's fixed-order fold.
func (o *Orchestrator) resolvePermissions(d *deck.Deck, opts RunOptions, root bool) (perm.EffectivePermissions, []perm.LayerTrace, error) {
	resolver := perm.Resolver{}

	in := perm.Input{BaseDir: opts.BaseDir, Declaration: d.Permissions}
	if !root {
		parentLayer := opts.ParentPermissions.AsLayer()
		in.Parent = &parentLayer
	}
	if root && opts.WorkspacePermissions != nil {
		l := opts.WorkspacePermissions.Normalize(opts.BaseDir, resolveAbs)
		in.Workspace = &l
	}
	if opts.ReferencePermissions != nil {
		l := opts.ReferencePermissions.Normalize(opts.BaseDir, resolveAbs)
		in.Reference = &l
	}
	if root && opts.SessionPermissions != nil {
		l := opts.SessionPermissions.Normalize(opts.BaseDir, resolveAbs)
		in.Session = &l
	}

	effective, traces := resolver.Resolve(in)
	return effective, traces, nil
}

func resolveAbs(base, p string) string {
	if p == "" {
		return base
	}
	if p[0] == '/' {
		return p
	}
	return base + "/" + p
}

// clampDeadline implements spec.md §7's monotonic clamping rule:
// new_deadline = min(inherited, now + timeout). inherited of 0 means no
// inherited deadline (root).
func clampDeadline(inherited int64, timeout time.Duration) int64 {
	candidate := time.Now().Add(timeout).UnixMilli()
	if inherited > 0 && inherited < candidate {
		return inherited
	}
	return candidate
}

func contextWithDeadlineAndCancel(parent context.Context, deadlineUnixMS int64, cancelSignal <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithDeadline(parent, time.UnixMilli(deadlineUnixMS))
	if cancelSignal == nil {
		return ctx, cancel
	}
	merged, mergedCancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-cancelSignal:
			mergedCancel()
		case <-merged.Done():
		}
	}()
	return merged, func() { mergedCancel(); cancel() }
}

// recoverGambitContext implements spec.md §4.1 step 7's saved-state
// recovery: "for root runs missing input but with persisted state, recover
// input from the last gambit_context tool envelope in state". It scans the
// transcript (projecting items to messages when the state was saved in
// responses mode) for the last tool-role message produced by the synthetic
// gambit_context call llmloop.seed emits and unmarshals its payload.
func recoverGambitContext(saved state.SavedState) (any, bool) {
	messages := saved.EnsureMessages()
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != model.RoleTool || m.Name != llmloop.ToolContext {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(m.Content), &v); err != nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}

// validateInput implements spec.md §4.1 step 3: validate the invocation's
// input against the deck's context schema, with the root-deck raw-string
// acceptance carve-out.
func (o *Orchestrator) validateInput(d *deck.Deck, opts RunOptions, root bool) error {
	if d.ContextSchema == nil {
		if root && d.AcceptsRawInput {
			return nil
		}
		if !root {
			return deckerr.New(deckerr.Validation, 500, "missing_context_schema",
				fmt.Sprintf("non-root deck %s has no context_schema", d.Path))
		}
		return nil
	}
	raw, err := json.Marshal(opts.Input)
	if err != nil {
		return deckerr.Wrap(deckerr.Validation, 422, "invalid_input", "input not JSON-serializable", err)
	}
	if err := o.validator.Validate(d.ContextSchema, raw); err != nil {
		return deckerr.Wrap(deckerr.Validation, 422, "invalid_input", "input failed context_schema validation", err)
	}
	return nil
}

// handlerTiming resolves a handler's delay/repeat, falling back to the
// runtime default when the deck's HandlerRef omits one (spec.md §4.5: a
// deck's on_busy/on_idle may override the default delay/repeat per
// handler).
func handlerTiming(ref *deck.HandlerRef, defaultDelay, defaultRepeat time.Duration) (time.Duration, time.Duration) {
	delay, repeat := defaultDelay, defaultRepeat
	if ref == nil {
		return delay, repeat
	}
	if ref.DelayMS > 0 {
		delay = time.Duration(ref.DelayMS) * time.Millisecond
	}
	if ref.RepeatMS > 0 {
		repeat = time.Duration(ref.RepeatMS) * time.Millisecond
	}
	return delay, repeat
}

func errStringOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
