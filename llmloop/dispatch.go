package llmloop

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/deckrun/deckrun/builtin"
	"github.com/deckrun/deckrun/deck"
	"github.com/deckrun/deckrun/deckerr"
	"github.com/deckrun/deckrun/handlers"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/trace"
)

// callResult is what dispatchCall hands back to the pass loop for one
// model.ToolCall: the tool-result payload to append to the transcript, plus
// whether this call terminated the run (gambit_respond / gambit_end).
type callResult struct {
	payload   json.RawMessage
	responded bool
	ended     bool
	envelope  ActionResult
}

// dispatchCall routes one model.ToolCall to its catalog entry's handling
// branch, per spec.md §4.2 step 5.
func (r *runner) dispatchCall(ctx context.Context, call model.ToolCall) callResult {
	entry, ok := r.catalog[call.Name]
	if !ok {
		return callResult{payload: builtin.Envelope{
			Status: 404, Code: "unknown_tool", Message: "unknown tool: " + call.Name,
		}.Marshal()}
	}

	switch entry.kind {
	case kindInternal:
		switch call.Name {
		case ToolRespond:
			return r.dispatchRespond(call)
		case ToolEnd:
			return callResult{ended: true, payload: call.Payload, envelope: ActionResult{Payload: rawToAny(call.Payload)}}
		}
	case kindBuiltin:
		return callResult{payload: r.dispatchBuiltin(ctx, call)}
	case kindAction:
		return r.dispatchAction(ctx, call, *entry.action)
	case kindExternal:
		return r.dispatchExternal(ctx, call, *entry.external)
	}
	return callResult{payload: builtin.Envelope{Status: 500, Code: "internal_error", Message: "unroutable catalog entry"}.Marshal()}
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

// dispatchRespond validates the call's payload against the deck's response
// schema and, if it validates, marks the run responded.
func (r *runner) dispatchRespond(call model.ToolCall) callResult {
	if err := r.validator.Validate(r.opts.Deck.ResponseSchema, call.Payload); err != nil {
		return callResult{payload: builtin.Envelope{
			Status: 422, Code: "invalid_response", Message: err.Error(),
		}.Marshal()}
	}
	return callResult{
		responded: true,
		payload:   call.Payload,
		envelope:  ActionResult{Payload: rawToAny(call.Payload)},
	}
}

// dispatchBuiltin invokes the built-in tool named by call.Name under the
// loop's permission checker, per spec.md §4.6.
func (r *runner) dispatchBuiltin(ctx context.Context, call model.ToolCall) json.RawMessage {
	checker := r.opts.Checker
	remaining := time.Until(time.UnixMilli(r.opts.DeadlineUnixMS))
	resolve := func(p string) string {
		if checker.Perm.BaseDir == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(checker.Perm.BaseDir, p)
	}

	switch call.Name {
	case ToolReadFile:
		var args builtin.ReadFileArgs
		if err := json.Unmarshal(call.Payload, &args); err != nil {
			return invalidArgs(err)
		}
		args.Path = resolve(args.Path)
		return builtin.ReadFile(checker, args).Marshal()
	case ToolListDir:
		var args builtin.ListDirArgs
		if err := json.Unmarshal(call.Payload, &args); err != nil {
			return invalidArgs(err)
		}
		args.Path = resolve(args.Path)
		return builtin.ListDir(checker, args).Marshal()
	case ToolGrepFiles:
		var args builtin.GrepFilesArgs
		if err := json.Unmarshal(call.Payload, &args); err != nil {
			return invalidArgs(err)
		}
		args.Path = resolve(args.Path)
		return builtin.GrepFiles(checker, args).Marshal()
	case ToolApplyPatch:
		var args builtin.ApplyPatchArgs
		if err := json.Unmarshal(call.Payload, &args); err != nil {
			return invalidArgs(err)
		}
		args.Path = resolve(args.Path)
		return builtin.ApplyPatch(checker, args).Marshal()
	case ToolExec:
		var args builtin.ExecArgs
		if err := json.Unmarshal(call.Payload, &args); err != nil {
			return invalidArgs(err)
		}
		return builtin.Exec(ctx, checker, args, remaining).Marshal()
	}
	return builtin.Envelope{Status: 500, Code: "internal_error", Message: "unroutable builtin: " + call.Name}.Marshal()
}

func invalidArgs(err error) json.RawMessage {
	return builtin.Envelope{Status: 422, Code: "invalid_args", Message: err.Error()}.Marshal()
}

// dispatchAction validates the call's args against the child deck's context
// schema, recursively runs it via Options.Dispatch, and wraps the result (or
// failure) into a tool-result payload, per spec.md §4.2 step 5 "Action
// decks" and §4.5 (on_error handler invocation on dispatch failure).
func (r *runner) dispatchAction(ctx context.Context, call model.ToolCall, ref deck.ActionDeckRef) callResult {
	var childSchema json.RawMessage
	if r.opts.Loader != nil {
		if child, err := r.opts.Loader(ref.DeckPath); err == nil && child != nil {
			childSchema = child.ContextSchema
		}
	}
	if err := r.validator.Validate(childSchema, call.Payload); err != nil {
		return callResult{payload: builtin.Envelope{
			Status: 422, Code: "invalid_action_args", Message: err.Error(),
			Source: &builtin.Source{DeckPath: r.opts.Deck.Path, ActionName: ref.Name},
		}.Marshal()}
	}

	r.emit(trace.Event{
		Type:        trace.TypeActionStart,
		RunID:       r.opts.RunID,
		DeckPath:    ref.DeckPath,
		ToolName:    ref.Name,
		ToolPayload: call.Payload,
	})
	ctx, span := r.opts.Telemetry.Trace.Start(ctx, "action.call")
	r.opts.Telemetry.Logger.Info(ctx, "action dispatch start", "deck", r.opts.Deck.Path, "action", ref.Name, "target", ref.DeckPath)
	start := time.Now()

	var busy *handlers.BusyTimer
	if r.opts.OnBusyFire != nil && r.opts.BusyDelay > 0 {
		busy = handlers.NewBusyTimer(r.opts.BusyDelay, r.opts.BusyRepeat, r.opts.Deck.Path, ref.Name, rawToAny(call.Payload), r.opts.OnBusyFire)
	}

	req := ActionRequest{
		DeckPath:             ref.DeckPath,
		ActionName:           ref.Name,
		Args:                 call.Payload,
		ReferencePermissions: ref.ReferencePermissions,
		ParentPermissions:    r.opts.Permissions,
		WorkerSandbox:        r.opts.WorkerSandbox,
	}

	ar, err := r.opts.Dispatch(ctx, req)
	if busy != nil {
		busy.Stop()
	}

	elapsed := time.Since(start)
	r.opts.Telemetry.Metric.RecordTimer("action.call.duration", elapsed, "action", ref.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.opts.Telemetry.Logger.Info(ctx, "action dispatch end", "deck", r.opts.Deck.Path, "action", ref.Name, "elapsed_ms", elapsed.Milliseconds())
	span.End()

	r.emit(trace.Event{
		Type:      trace.TypeActionEnd,
		RunID:     r.opts.RunID,
		DeckPath:  ref.DeckPath,
		ToolName:  ref.Name,
		ElapsedMS: elapsed.Milliseconds(),
		Error:     errString(err),
	})

	if err != nil {
		if deckerr.IsRunCanceled(err) {
			return callResult{}
		}
		if r.opts.OnErrorFire != nil {
			replacement := r.handlerFallback(ctx, err, ref, call.Payload)
			raw, merr := json.Marshal(replacement)
			if merr == nil {
				return callResult{payload: raw, envelope: ActionResult{Payload: replacement}}
			}
		}
		env := builtin.Envelope{
			Status: 500, Code: "action_dispatch_error", Message: err.Error(),
			Source: &builtin.Source{DeckPath: r.opts.Deck.Path, ActionName: ref.Name},
		}
		return callResult{payload: env.Marshal(), envelope: ActionResult{Status: env.Status, Code: env.Code, Message: env.Message}}
	}

	raw, merr := json.Marshal(ar)
	if merr != nil {
		raw = builtin.Envelope{Status: 500, Code: "internal_error", Message: merr.Error()}.Marshal()
	}
	return callResult{payload: raw, envelope: ar}
}

func (r *runner) handlerFallback(ctx context.Context, cause error, ref deck.ActionDeckRef, input json.RawMessage) any {
	trigger := handlers.ErrorTrigger{DeckPath: ref.DeckPath, ActionName: ref.Name, ErrorMessage: cause.Error(), ChildInput: rawToAny(input)}
	replacement, err := r.opts.OnErrorFire(ctx, trigger)
	if err != nil {
		return map[string]any{"status": 500, "code": "HANDLER_FALLBACK", "message": "on_error handler failed: " + err.Error()}
	}
	return replacement
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// dispatchExternal validates the call's args against the declared input
// schema and invokes the caller-supplied hook, per spec.md §6 "on_tool".
func (r *runner) dispatchExternal(ctx context.Context, call model.ToolCall, tool deck.ExternalTool) callResult {
	if err := r.validator.Validate(tool.InputSchema, call.Payload); err != nil {
		return callResult{payload: builtin.Envelope{
			Status: 422, Code: "invalid_args", Message: err.Error(),
		}.Marshal()}
	}
	if r.opts.ExternalTool == nil {
		return callResult{payload: builtin.Envelope{
			Status: 501, Code: "missing_on_tool", Message: "no external-tool hook configured for: " + call.Name,
		}.Marshal()}
	}

	out, err := r.opts.ExternalTool(ctx, ExternalToolCall{
		Name:               call.Name,
		Args:               call.Payload,
		RunID:              r.opts.RunID,
		ActionCallID:       r.opts.ActionCallID,
		ParentActionCallID: r.opts.ParentActionCallID,
		DeckPath:           r.opts.Deck.Path,
	})
	if err != nil {
		return callResult{payload: builtin.Envelope{
			Status: 500, Code: "tool_handler_error", Message: err.Error(),
		}.Marshal()}
	}
	raw, merr := json.Marshal(out)
	if merr != nil {
		raw = builtin.Envelope{Status: 500, Code: "internal_error", Message: merr.Error()}.Marshal()
	}
	return callResult{payload: raw}
}
