package llmloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckrun/deckrun/deck"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/perm"
	"github.com/deckrun/deckrun/schema"
	"github.com/deckrun/deckrun/state"
)

type stubProvider struct {
	calls     int
	responses []model.ChatResponse
}

func (p *stubProvider) Chat(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *stubProvider) Responses(ctx context.Context, req model.ResponsesRequest) (model.ResponsesResponse, error) {
	return model.ResponsesResponse{}, nil
}

func (p *stubProvider) ResolveModel(ctx context.Context, req model.ResolveModelRequest) (model.ResolveModelResponse, error) {
	return model.ResolveModelResponse{}, errResolveUnsupported
}

var errResolveUnsupported = assertErr{"resolve unsupported"}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func respondingDeck() *deck.Deck {
	return &deck.Deck{
		Path:           "decks/greeter",
		SystemPrompt:   "be nice",
		Model:          &deck.ModelParams{Model: []string{"gpt-5"}},
		Respond:        true,
		ResponseSchema: json.RawMessage(`{"type":"object","properties":{"greeting":{"type":"string"}},"required":["greeting"]}`),
	}
}

func TestRun_RespondCompletesRun(t *testing.T) {
	provider := &stubProvider{responses: []model.ChatResponse{
		{
			FinishReason: model.FinishToolCalls,
			ToolCalls:    []model.ToolCall{{ID: "call-1", Name: ToolRespond, Payload: json.RawMessage(`{"greeting":"hi"}`)}},
		},
	}}

	out, err := Run(context.Background(), Options{
		Deck:      respondingDeck(),
		Provider:  provider,
		MaxPasses: 3,
		State:     state.SavedState{Meta: map[string]any{}},
		SetState:  func(state.SavedState) {},
	})

	require.NoError(t, err)
	assert.True(t, out.Responded)
	assert.Equal(t, 1, provider.calls)
}

func TestRun_RespondWithInvalidPayloadContinuesLooping(t *testing.T) {
	provider := &stubProvider{responses: []model.ChatResponse{
		{
			FinishReason: model.FinishToolCalls,
			ToolCalls:    []model.ToolCall{{ID: "call-1", Name: ToolRespond, Payload: json.RawMessage(`{}`)}},
		},
		{
			FinishReason: model.FinishToolCalls,
			ToolCalls:    []model.ToolCall{{ID: "call-2", Name: ToolRespond, Payload: json.RawMessage(`{"greeting":"hi"}`)}},
		},
	}}

	out, err := Run(context.Background(), Options{
		Deck:      respondingDeck(),
		Provider:  provider,
		MaxPasses: 3,
		State:     state.SavedState{Meta: map[string]any{}},
		SetState:  func(state.SavedState) {},
	})

	require.NoError(t, err)
	assert.True(t, out.Responded)
	assert.Equal(t, 2, provider.calls)
}

func TestBuildCatalog_OmitsBuiltinsWithEmptyPermissionScope(t *testing.T) {
	d := &deck.Deck{Path: "decks/x"}
	catalog, _ := buildCatalog(d, perm.EffectivePermissions{}, nil)

	_, hasRead := catalog[ToolReadFile]
	_, hasExec := catalog[ToolExec]
	assert.False(t, hasRead)
	assert.False(t, hasExec)
}

func TestBuildCatalog_IncludesBuiltinsGrantedByPermissions(t *testing.T) {
	d := &deck.Deck{Path: "decks/x"}
	effective := perm.EffectivePermissions{
		Read: perm.NewPathScope("/tmp"),
		Run:  perm.NewRunScope(nil, []string{"ls"}),
	}
	catalog, defs := buildCatalog(d, effective, nil)

	_, hasRead := catalog[ToolReadFile]
	_, hasExec := catalog[ToolExec]
	assert.True(t, hasRead)
	assert.True(t, hasExec)
	assert.NotEmpty(t, defs)
}

func TestBuildCatalog_ActionShadowsIdenticallyNamedExternalTool(t *testing.T) {
	d := &deck.Deck{
		Path:          "decks/x",
		ActionDecks:   []deck.ActionDeckRef{{Name: "lookup", DeckPath: "decks/lookup"}},
		ExternalTools: []deck.ExternalTool{{Name: "lookup", InputSchema: json.RawMessage(`{}`)}},
	}
	catalog, _ := buildCatalog(d, perm.EffectivePermissions{}, nil)

	entry, ok := catalog["lookup"]
	require.True(t, ok)
	assert.Equal(t, kindAction, entry.kind)
}

func TestDispatchAction_RejectsArgsFailingContextSchema(t *testing.T) {
	childSchema := json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
	d := &deck.Deck{
		Path:        "decks/x",
		ActionDecks: []deck.ActionDeckRef{{Name: "search", DeckPath: "decks/search"}},
	}
	loader := func(path string) (*deck.Deck, error) {
		return &deck.Deck{Path: path, ContextSchema: childSchema}, nil
	}

	catalog, _ := buildCatalog(d, perm.EffectivePermissions{}, loader)
	r := &runner{
		opts:      Options{Deck: d, Loader: loader},
		catalog:   catalog,
		validator: schema.New(),
	}

	res := r.dispatchCall(context.Background(), model.ToolCall{ID: "call-1", Name: "search", Payload: json.RawMessage(`{}`)})
	assert.Contains(t, string(res.payload), "invalid_action_args")
}
