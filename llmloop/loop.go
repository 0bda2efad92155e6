package llmloop

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/deckrun/deckrun/deckerr"
	"github.com/deckrun/deckrun/handlers"
	"github.com/deckrun/deckrun/ids"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/schema"
	"github.com/deckrun/deckrun/state"
	"github.com/deckrun/deckrun/telemetry"
	"github.com/deckrun/deckrun/trace"
)

// runner holds the mutable working state of one Run invocation: the local
// copy of saved state being mutated pass by pass, the tool catalog, and the
// busy/idle timers armed around action dispatch.
type runner struct {
	opts      Options
	catalog   map[string]catalogEntry
	toolDefs  []model.ToolDefinition
	validator *schema.Validator

	state state.SavedState

	idle *handlers.IdleTimer
}

// Run drives the multi-pass LLM loop of spec.md §4.2 to completion: it
// seeds the transcript, repeatedly invokes the model and dispatches any
// tool calls it returns, and terminates on gambit_respond, gambit_end, a
// bare stop with no respond obligation, or a guardrail/cancellation error.
func Run(ctx context.Context, opts Options) (Outcome, error) {
	if opts.Sink == nil {
		opts.Sink = trace.Noop
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = 1
	}
	opts.Telemetry = telemetry.WithDefaults(opts.Telemetry)

	catalog, defs := buildCatalog(opts.Deck, opts.Permissions, opts.Loader)
	r := &runner{
		opts:      opts,
		catalog:   catalog,
		toolDefs:  defs,
		validator: schema.New(),
		state:     opts.State,
	}

	if opts.IdleDelay > 0 && opts.OnIdleFire != nil {
		r.idle = handlers.NewIdleTimer(opts.IdleDelay, opts.IdleRepeat, opts.OnIdleFire)
		defer r.idle.Stop()
	}

	r.seed()

	for pass := 0; pass < opts.MaxPasses; pass++ {
		if err := r.checkDeadline(ctx); err != nil {
			return Outcome{}, err
		}

		outcome, done, err := r.step(ctx)
		if err != nil || done {
			return outcome, err
		}
	}

	return Outcome{}, deckerr.New(deckerr.Guardrail, 504, "max_passes_exceeded",
		"run exceeded max_passes without reaching a terminal state")
}

// checkDeadline translates ctx cancellation and the run deadline into the
// runtime's own error taxonomy, per spec.md §4.1/§7.
func (r *runner) checkDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if deckerr.IsRunCanceled(err) {
			return deckerr.RunCanceled()
		}
		return err
	}
	if r.opts.DeadlineUnixMS > 0 && time.Now().UnixMilli() >= r.opts.DeadlineUnixMS {
		return deckerr.New(deckerr.Guardrail, 504, "deadline_exceeded", "run exceeded its deadline")
	}
	return nil
}

// seed implements spec.md §4.2 step 1: "State seeding": the system prompt
// plus, when input was provided, a synthetic gambit_context tool call/result
// pair recording the validated input, followed by the initial user message
// if one was given.
func (r *runner) seed() {
	if len(r.state.Messages) == 0 && len(r.state.Items) == 0 {
		r.state = r.state.AppendMessage(model.Message{Role: model.RoleSystem, Content: r.opts.Deck.SystemPrompt})
	}
	if r.opts.InputProvided {
		callID := ids.NewCallID()
		payload := marshalBestEffort(r.opts.Input)
		r.state = r.state.AppendMessage(model.Message{Role: model.RoleAssistant, ToolCallID: callID, Name: ToolContext, Content: string(payload)})
		r.state = r.state.AppendMessage(model.Message{Role: model.RoleTool, ToolCallID: callID, Name: ToolContext, Content: string(payload)})
	}
	if r.opts.InitialUserMessage != "" {
		r.state = r.state.AppendMessage(model.Message{Role: model.RoleUser, Content: r.opts.InitialUserMessage})
	}
	r.publishState()
}

func (r *runner) publishState() {
	if r.opts.SetState != nil {
		r.opts.SetState(r.state)
	}
}

func (r *runner) emit(evt trace.Event) {
	if evt.RunID == "" {
		evt.RunID = r.opts.RunID
	}
	evt.ActionCallID = r.opts.ActionCallID
	evt.ParentActionCallID = r.opts.ParentActionCallID
	if evt.DeckPath == "" {
		evt.DeckPath = r.opts.Deck.Path
	}
	r.opts.Sink(evt)
}

// step runs one model pass plus, if the model returned tool calls, their
// dispatch. It returns (outcome, done, err): done is true once the run has
// reached a terminal state (responded, ended, or a valid content-bearing
// stop with no outstanding respond obligation).
func (r *runner) step(ctx context.Context) (Outcome, bool, error) {
	modelID, params, err := r.resolveModel(ctx)
	if err != nil {
		return Outcome{}, true, err
	}

	r.emit(trace.Event{Type: trace.TypeModelCall, Messages: r.state.EnsureMessages(), Tools: r.toolDefs, Mode: r.mode()})

	ctx, span := r.opts.Telemetry.Trace.Start(ctx, "model.call")
	r.opts.Telemetry.Logger.Debug(ctx, "calling model", "deck", r.opts.Deck.Path, "model", modelID, "mode", r.mode())

	assistant, calls, finish, usage, err := r.invokeModel(ctx, modelID, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return Outcome{}, true, err
	}

	r.opts.Telemetry.Logger.Debug(ctx, "model result", "deck", r.opts.Deck.Path, "finish_reason", string(finish))
	if usage != nil {
		r.opts.Telemetry.Metric.RecordGauge("model.tokens.total", float64(usage.TotalTokens), "deck", r.opts.Deck.Path)
	}
	span.End()

	r.emit(trace.Event{Type: trace.TypeModelResult, FinishReason: string(finish), Usage: usage, Mode: r.mode()})

	if len(calls) == 0 {
		return r.finishWithoutCalls(assistant, finish)
	}

	return r.dispatchCalls(ctx, assistant, calls)
}

func (r *runner) mode() string {
	if r.opts.ResponsesMode {
		return "responses"
	}
	return "chat"
}

// resolveModel picks a concrete model id via the provider's resolve_model
// hook, falling back to the first non-empty candidate, per spec.md §4.2
// step 2.
func (r *runner) resolveModel(ctx context.Context) (string, model.Params, error) {
	mp := r.opts.Deck.Model
	params := model.Params{}
	if mp == nil || len(mp.Model) == 0 {
		return "", params, deckerr.New(deckerr.Protocol, 500, "no_model_candidates", "LLM deck has no model candidates")
	}
	params = model.Params{
		Temperature:     mp.Temperature,
		MaxTokens:       mp.MaxTokens,
		ReasoningEffort: mp.ReasoningEffort,
		Verbosity:       mp.Verbosity,
	}
	if r.opts.Provider != nil {
		resp, err := r.opts.Provider.ResolveModel(ctx, model.ResolveModelRequest{Model: mp.Model, Params: params, DeckPath: r.opts.Deck.Path})
		if err == nil && resp.Model != "" {
			if resp.Params != (model.Params{}) {
				params = resp.Params
			}
			return resp.Model, params, nil
		}
	}
	for _, candidate := range mp.Model {
		if candidate != "" {
			return candidate, params, nil
		}
	}
	return "", params, deckerr.New(deckerr.Protocol, 500, "no_model_candidates", "LLM deck has no non-empty model candidate")
}

// invokeModel calls the provider in chat or responses mode per
// Options.ResponsesMode, projecting a responses-mode output back to a
// single chat message + tool calls via model.ProjectToChat (spec.md §4.2
// step 3).
func (r *runner) invokeModel(ctx context.Context, modelID string, params model.Params) (model.Message, []model.ToolCall, model.FinishReason, *model.Usage, error) {
	if r.opts.Provider == nil {
		return model.Message{}, nil, "", nil, deckerr.New(deckerr.Protocol, 500, "no_provider", "no model provider configured")
	}

	streamText := r.opts.StreamText
	if streamText != nil {
		orig := streamText
		streamText = func(ctx context.Context, chunk string) {
			if deckerr.IsRunCanceled(ctx.Err()) {
				return
			}
			if r.idle != nil {
				r.idle.Touch()
			}
			orig(ctx, chunk)
		}
	}

	if r.opts.ResponsesMode {
		resp, err := r.opts.Provider.Responses(ctx, model.ResponsesRequest{
			Model: modelID, Input: r.state.Items, Tools: r.toolDefs, Stream: streamText != nil,
			Params: params, DeckPath: r.opts.Deck.Path,
		})
		if err != nil {
			return model.Message{}, nil, "", nil, err
		}
		msg, calls := model.ProjectToChat(resp.Output)
		finish := model.FinishStop
		if len(calls) > 0 {
			finish = model.FinishToolCalls
		}
		return msg, calls, finish, resp.Usage, nil
	}

	resp, err := r.opts.Provider.Chat(ctx, model.ChatRequest{
		Model: modelID, Messages: r.state.EnsureMessages(), Tools: r.toolDefs, Stream: streamText != nil,
		Params: params, DeckPath: r.opts.Deck.Path, OnStreamText: streamText,
	})
	if err != nil {
		return model.Message{}, nil, "", nil, err
	}
	return resp.Message, resp.ToolCalls, resp.FinishReason, resp.Usage, nil
}

// finishWithoutCalls implements spec.md §4.2 step 7's per-finish-reason
// validation when the model returned no tool calls.
func (r *runner) finishWithoutCalls(assistant model.Message, finish model.FinishReason) (Outcome, bool, error) {
	switch finish {
	case model.FinishToolCalls:
		return Outcome{}, true, deckerr.New(deckerr.Protocol, 502, "tool_calls_finish_without_calls",
			"provider reported finish_reason=tool_calls but returned no tool calls")
	case model.FinishLength:
		if assistant.Content == "" {
			return Outcome{}, true, deckerr.New(deckerr.Protocol, 502, "length_finish_without_content",
				"provider reported finish_reason=length with empty content")
		}
	case model.FinishStop:
		if assistant.Content == "" && !r.opts.Deck.Respond {
			r.emit(trace.Event{Type: trace.TypeDeckEnd})
			return Outcome{Content: ""}, true, nil
		}
		if r.opts.Deck.Respond {
			// Respond is mandatory but the model stopped without calling
			// gambit_respond; per the open question this continues looping
			// rather than failing, so the model gets another pass to call it.
			r.state = r.state.AppendMessage(assistant)
			r.publishState()
			return Outcome{}, false, nil
		}
	}

	r.state = r.state.AppendMessage(assistant)
	r.publishState()

	if !r.opts.Root && assistant.Content != "" && !r.opts.Deck.Respond {
		r.emit(trace.Event{Type: trace.TypeMonolog, Text: assistant.Content})
	}

	if err := r.validator.Validate(r.opts.Deck.ResponseSchema, marshalBestEffort(assistant.Content)); err != nil && r.opts.Deck.ResponseSchema != nil {
		return Outcome{}, true, deckerr.New(deckerr.Validation, 422, "invalid_response", err.Error())
	}

	r.emit(trace.Event{Type: trace.TypeDeckEnd})
	return Outcome{Content: assistant.Content}, true, nil
}

// dispatchCalls implements spec.md §4.2 steps 4-6: commit the assistant
// message once, process each tool call in order, publish updated state, and
// report whether the run reached a terminal state.
func (r *runner) dispatchCalls(ctx context.Context, assistant model.Message, calls []model.ToolCall) (Outcome, bool, error) {
	r.state = r.state.AppendMessage(assistant)

	var responded, ended bool
	var envelope ActionResult
	var content string

	for _, call := range calls {
		if err := r.checkDeadline(ctx); err != nil {
			return Outcome{}, true, err
		}

		if r.idle != nil {
			r.idle.Pause()
		}
		r.emit(trace.Event{Type: trace.TypeToolCall, ToolName: call.Name, ToolPayload: call.Payload})
		res := r.dispatchCall(ctx, call)
		if r.idle != nil {
			r.idle.Resume()
		}
		r.emit(trace.Event{Type: trace.TypeToolResult, ToolName: call.Name, ToolResult: res.payload})

		r.state = r.state.AppendMessage(model.Message{Role: model.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: string(res.payload)})

		if res.responded {
			responded = true
			envelope = res.envelope
			content = string(res.payload)
		}
		if res.ended {
			ended = true
			envelope = res.envelope
		}
	}

	r.publishState()

	if responded || ended {
		r.emit(trace.Event{Type: trace.TypeDeckEnd})
		return Outcome{Responded: responded, Ended: ended, Envelope: envelope, Content: content}, true, nil
	}

	return Outcome{}, false, nil
}

func marshalBestEffort(v any) []byte {
	if raw, ok := v.([]byte); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
