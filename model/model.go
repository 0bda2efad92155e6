// Package model defines the ModelProvider contract (spec.md §6): the two
// operations the LLM loop drives (chat and responses mode), their request/
// response shapes, and the closed ResponseItem variant set responses mode
// exchanges. The module ships no concrete adapter; this package only
// specifies the contract, mirroring how spec.md treats provider adapters as
// external collaborators. Grounded in the Part/Message/Request/Response
// shapes of _examples/goadesign-goa-ai/runtime/agent/model/model.go,
// narrowed to the chat+responses duality spec.md actually requires.
package model

import (
	"context"
	"encoding/json"
)

// Role is a chat-message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the chat-mode transcript.
type Message struct {
	Role    Role
	Content string
	// ToolCallID associates a RoleTool message with the call it answers.
	ToolCallID string
	// Name carries the tool name for RoleTool messages, for providers that
	// require it alongside ToolCallID.
	Name string
	Meta map[string]any
}

// ToolDefinition describes one entry of the tool catalog passed to the
// provider on every pass.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is one call the model emitted during a pass.
type ToolCall struct {
	ID      string
	Name    string
	Payload json.RawMessage
}

// FinishReason is the closed set of chat-mode finish reasons spec.md §4.2
// step 7 switches on.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Usage reports token accounting, when the provider supplies it.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Params carries sampling and reasoning/verbosity knobs derived from a
// deck's ModelParams.
type Params struct {
	Temperature     *float64
	MaxTokens       *int
	ReasoningEffort string
	Verbosity       string
}

// StreamTextFunc receives assistant-text chunks as they arrive. Chunks
// received after cancellation is observed must be dropped by the caller,
// per spec.md §4.2 "Streaming".
type StreamTextFunc func(ctx context.Context, chunk string)

// StreamEventFunc receives provider-level stream events forwarded verbatim
// to the trace sink.
type StreamEventFunc func(ctx context.Context, event any)

// ChatRequest is the input to Provider.Chat.
type ChatRequest struct {
	Model        string
	Messages     []Message
	Tools        []ToolDefinition
	Stream       bool
	Params       Params
	DeckPath     string
	OnStreamText StreamTextFunc
	OnStreamEvt  StreamEventFunc
}

// ChatResponse is the output of Provider.Chat.
type ChatResponse struct {
	Message      Message
	FinishReason FinishReason
	ToolCalls    []ToolCall
	Usage        *Usage
}

// ResponseItemType is the closed set spec.md §6 defines for responses mode.
type ResponseItemType string

const (
	ItemMessage            ResponseItemType = "message"
	ItemFunctionCall       ResponseItemType = "function_call"
	ItemFunctionCallOutput ResponseItemType = "function_call_output"
)

// ContentPartType distinguishes assistant output text from echoed input
// text inside a "message" item.
type ContentPartType string

const (
	ContentOutputText ContentPartType = "output_text"
	ContentInputText  ContentPartType = "input_text"
)

// ContentPart is one entry of a "message" ResponseItem's Content.
type ContentPart struct {
	Type ContentPartType
	Text string
}

// ResponseItem is the closed variant set exchanged in responses mode:
// {type: message, role, content}, {type: function_call, call_id, name,
// arguments}, {type: function_call_output, call_id, output}.
type ResponseItem struct {
	Type ResponseItemType

	// message
	Role    Role
	Content []ContentPart

	// function_call
	CallID    string
	Name      string
	Arguments json.RawMessage

	// function_call_output
	Output json.RawMessage
}

// ResponsesRequest is the input to Provider.Responses.
type ResponsesRequest struct {
	Model       string
	Input       []ResponseItem
	Tools       []ToolDefinition
	Stream      bool
	Params      Params
	DeckPath    string
	OnStreamEvt StreamEventFunc
}

// ResponsesResponse is the output of Provider.Responses.
type ResponsesResponse struct {
	ID     string
	Object string
	Output []ResponseItem
	Usage  *Usage
}

// ResolveModelRequest is the input to Provider.ResolveModel.
type ResolveModelRequest struct {
	Model    []string
	Params   Params
	DeckPath string
}

// ResolveModelResponse is the output of Provider.ResolveModel.
type ResolveModelResponse struct {
	Model  string
	Params Params
}

// Provider is the ModelProvider contract of spec.md §6.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Responses(ctx context.Context, req ResponsesRequest) (ResponsesResponse, error)
	// ResolveModel is optional; implementations that don't support
	// candidate-list resolution should return ErrResolveUnsupported so
	// callers fall back to the first non-empty candidate.
	ResolveModel(ctx context.Context, req ResolveModelRequest) (ResolveModelResponse, error)
}

// ProjectToChat derives a single chat Message plus any tool calls from a
// responses-mode output array, per spec.md §4.2 step 3: "concatenating
// assistant text parts and collecting function_call items".
func ProjectToChat(items []ResponseItem) (Message, []ToolCall) {
	var text string
	var calls []ToolCall
	for _, it := range items {
		switch it.Type {
		case ItemMessage:
			for _, part := range it.Content {
				if part.Type == ContentOutputText {
					text += part.Text
				}
			}
		case ItemFunctionCall:
			calls = append(calls, ToolCall{ID: it.CallID, Name: it.Name, Payload: it.Arguments})
		}
	}
	return Message{Role: RoleAssistant, Content: text}, calls
}
