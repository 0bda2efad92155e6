package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/state"
)

func TestItemsToMessages_RoundTrips(t *testing.T) {
	items := []model.ResponseItem{
		{Type: model.ItemMessage, Role: model.RoleUser, Content: []model.ContentPart{{Type: model.ContentInputText, Text: "hi"}}},
		{Type: model.ItemFunctionCall, CallID: "call-1", Name: "search", Arguments: []byte(`{"q":"x"}`)},
		{Type: model.ItemFunctionCallOutput, CallID: "call-1", Output: []byte(`{"result":"ok"}`)},
	}
	msgs := state.ItemsToMessages(items)
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "call-1", msgs[1].ToolCallID)
	assert.Equal(t, model.RoleTool, msgs[2].Role)
	assert.Equal(t, "call-1", msgs[2].ToolCallID)

	back := state.MessagesToItems(msgs)
	require.Len(t, back, 3)
	assert.Equal(t, model.ItemFunctionCall, back[1].Type)
	assert.Equal(t, "search", back[1].Name)
	assert.Equal(t, model.ItemFunctionCallOutput, back[2].Type)
}

func TestEnsureMessages_DerivesFromItemsWhenMessagesAbsent(t *testing.T) {
	s := state.SavedState{
		RunID:  "run-1",
		Format: state.FormatResponses,
		Items: []model.ResponseItem{
			{Type: model.ItemMessage, Role: model.RoleAssistant, Content: []model.ContentPart{{Type: model.ContentOutputText, Text: "hello"}}},
		},
	}
	msgs := s.EnsureMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestAppendMessage_DoesNotMutateCaller(t *testing.T) {
	orig := state.SavedState{RunID: "run-1", Meta: map[string]any{}}
	updated := orig.AppendMessage(model.Message{Role: model.RoleUser, Content: "hi"})
	assert.Empty(t, orig.Messages)
	assert.Len(t, updated.Messages, 1)
	assert.Len(t, updated.MessageRefs, 1)
}

func TestSetMeta_Snapshot(t *testing.T) {
	orig := state.SavedState{RunID: "run-1", Meta: map[string]any{"a": 1}}
	updated := orig.SetMeta("b", 2)
	_, origHasB := orig.GetMeta("b")
	_, updHasB := updated.GetMeta("b")
	assert.False(t, origHasB)
	assert.True(t, updHasB)
}
