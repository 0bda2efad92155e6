// Package state implements SavedState (spec.md §3, §6): the resumable
// conversation envelope threaded by value through the orchestrator and
// published via snapshots rather than mutated in the caller's copy.
// Grounded in the Ledger/Message/Part projection machinery of
// _examples/goadesign-goa-ai/runtime/agent/transcript/ledger.go, adapted
// from an assistant-only ledger to the full chat<->responses isomorphism
// spec.md requires.
package state

import (
	"github.com/deckrun/deckrun/ids"
	"github.com/deckrun/deckrun/model"
)

// Format selects which representation is authoritative for reads.
type Format string

const (
	FormatChat      Format = "chat"
	FormatResponses Format = "responses"
)

// MessageRef is a stable per-message identifier, paired with the role for
// quick filtering.
type MessageRef struct {
	ID   string
	Role model.Role
}

// SavedState is a resumable conversation envelope. RunID is stable across
// turns. Exactly one of Messages/Items is authored by a given provider
// mode, but both may be present simultaneously; when both are present they
// must be derivable from each other (the saved-state isomorphism
// invariant).
type SavedState struct {
	RunID   string
	Format  Format
	Messages []model.Message
	Items    []model.ResponseItem

	MessageRefs []MessageRef

	// Meta is opaque per-key session metadata controlled by compute decks
	// via ExecutionContext.Get/SetSessionMeta.
	Meta map[string]any

	Feedback           any
	Traces             []any
	Notes              []string
	ConversationScore  *float64
}

// Clone returns a deep-enough copy of s so the orchestrator can mutate a
// local working copy without ever touching the caller's value; spec.md §5:
// "the runtime reads it at entry, mutates a local mutable copy during
// execution, and publishes snapshots".
func (s SavedState) Clone() SavedState {
	out := s
	out.Messages = append([]model.Message(nil), s.Messages...)
	out.Items = append([]model.ResponseItem(nil), s.Items...)
	out.MessageRefs = append([]MessageRef(nil), s.MessageRefs...)
	out.Meta = make(map[string]any, len(s.Meta))
	for k, v := range s.Meta {
		out.Meta[k] = v
	}
	out.Notes = append([]string(nil), s.Notes...)
	return out
}

// EnsureMessages returns s.Messages if present, otherwise derives them by
// projecting s.Items via ItemsToMessages (spec.md §6: "When only items[] is
// present, loaders must synthesize messages[] via the response-item
// projection").
func (s SavedState) EnsureMessages() []model.Message {
	if len(s.Messages) > 0 || len(s.Items) == 0 {
		return s.Messages
	}
	return ItemsToMessages(s.Items)
}

// ItemsToMessages projects a responses-mode item array to the chat
// transcript, preserving tool-call/result correlation via ToolCallID.
func ItemsToMessages(items []model.ResponseItem) []model.Message {
	var out []model.Message
	for _, it := range items {
		switch it.Type {
		case model.ItemMessage:
			msg := model.Message{Role: it.Role}
			for _, part := range it.Content {
				msg.Content += part.Text
			}
			out = append(out, msg)
		case model.ItemFunctionCall:
			out = append(out, model.Message{
				Role:       model.RoleAssistant,
				ToolCallID: it.CallID,
				Name:       it.Name,
				Content:    string(it.Arguments),
			})
		case model.ItemFunctionCallOutput:
			out = append(out, model.Message{
				Role:       model.RoleTool,
				ToolCallID: it.CallID,
				Content:    string(it.Output),
			})
		}
	}
	return out
}

// MessagesToItems is the inverse projection, used when a run resumed in
// chat mode needs to produce a responses-mode view (e.g. for a consumer
// that only understands items).
func MessagesToItems(messages []model.Message) []model.ResponseItem {
	var out []model.ResponseItem
	for _, m := range messages {
		switch m.Role {
		case model.RoleTool:
			out = append(out, model.ResponseItem{
				Type:   model.ItemFunctionCallOutput,
				CallID: m.ToolCallID,
				Output: []byte(m.Content),
			})
		case model.RoleAssistant:
			if m.ToolCallID != "" && m.Name != "" {
				out = append(out, model.ResponseItem{
					Type:      model.ItemFunctionCall,
					CallID:    m.ToolCallID,
					Name:      m.Name,
					Arguments: []byte(m.Content),
				})
				continue
			}
			out = append(out, model.ResponseItem{
				Type:    model.ItemMessage,
				Role:    m.Role,
				Content: []model.ContentPart{{Type: model.ContentOutputText, Text: m.Content}},
			})
		default:
			out = append(out, model.ResponseItem{
				Type:    model.ItemMessage,
				Role:    m.Role,
				Content: []model.ContentPart{{Type: model.ContentInputText, Text: m.Content}},
			})
		}
	}
	return out
}

// AppendMessage appends msg to s.Messages and mints a fresh MessageRef for
// it, returning the updated SavedState. Used by both the LLM loop and
// ExecutionContext.AppendMessage.
func (s SavedState) AppendMessage(msg model.Message) SavedState {
	out := s.Clone()
	out.Messages = append(out.Messages, msg)
	out.MessageRefs = append(out.MessageRefs, MessageRef{ID: ids.NewMessageRef(), Role: msg.Role})
	return out
}

// SetMeta returns a copy of s with key set to value in Meta.
func (s SavedState) SetMeta(key string, value any) SavedState {
	out := s.Clone()
	out.Meta[key] = value
	return out
}

// GetMeta reads key from Meta.
func (s SavedState) GetMeta(key string) (any, bool) {
	v, ok := s.Meta[key]
	return v, ok
}
