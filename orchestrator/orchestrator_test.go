package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckrun/deckrun/config"
	"github.com/deckrun/deckrun/deck"
	"github.com/deckrun/deckrun/deckerr"
	"github.com/deckrun/deckrun/execctx"
	"github.com/deckrun/deckrun/llmloop"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/state"
)

func computeDeck(path string, fn deck.Executor) *deck.Deck {
	return &deck.Deck{
		Path:            path,
		Executor:        &fn,
		AcceptsRawInput: true,
	}
}

func TestRunDeck_ComputeBranchReturnsExecutorResult(t *testing.T) {
	d := computeDeck("decks/double", func(ctx context.Context, ec deck.ExecContext) (any, error) {
		return "doubled", nil
	})

	o := New(func(path string) (*deck.Deck, error) { return d, nil }, nil, nil, config.New(), nil)

	result, err := o.RunDeck(context.Background(), RunOptions{
		DeckPath: "decks/double", BaseDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "doubled", result)
}

func TestRunDeck_RejectsDepthBeyondMaxDepth(t *testing.T) {
	d := computeDeck("decks/x", func(ctx context.Context, ec deck.ExecContext) (any, error) { return nil, nil })
	d.Guardrails.MaxDepth = 1

	o := New(func(path string) (*deck.Deck, error) { return d, nil }, nil, nil, config.New(), nil)

	_, err := o.RunDeck(context.Background(), RunOptions{DeckPath: "decks/x", BaseDir: t.TempDir(), Depth: 5})
	require.Error(t, err)
}

func TestRunDeck_ComputeSpawnAndWaitRecursesIntoChildDeck(t *testing.T) {
	child := computeDeck("decks/child", func(ctx context.Context, ec deck.ExecContext) (any, error) { return "child-result", nil })
	child.AcceptsRawInput = false
	child.ContextSchema = json.RawMessage(`{}`)
	child.ResponseSchema = json.RawMessage(`{}`)
	var parent *deck.Deck
	parent = computeDeck("decks/parent", func(ctx context.Context, ecIface deck.ExecContext) (any, error) {
		ec := ecIface.(*execctx.Context)
		return ec.SpawnAndWait(execctx.SpawnInput{DeckPath: "decks/child"})
	})

	decks := map[string]*deck.Deck{"decks/parent": parent, "decks/child": child}
	o := New(func(path string) (*deck.Deck, error) { return decks[path], nil }, nil, nil, config.New(), nil)

	result, err := o.RunDeck(context.Background(), RunOptions{DeckPath: "decks/parent", BaseDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "child-result", result)
}

func TestRunDeck_ValidatesInputAgainstContextSchemaForNonRawRootDeck(t *testing.T) {
	d := &deck.Deck{
		Path:          "decks/x",
		Executor:      execPtr(func(ctx context.Context, ec deck.ExecContext) (any, error) { return "ok", nil }),
		ContextSchema: json.RawMessage(`{"type":"object","required":["name"]}`),
	}
	o := New(func(path string) (*deck.Deck, error) { return d, nil }, nil, nil, config.New(), nil)

	_, err := o.RunDeck(context.Background(), RunOptions{
		DeckPath: "decks/x", BaseDir: t.TempDir(), Input: map[string]any{}, InputProvided: true,
	})
	require.Error(t, err)
}

func TestRunDeck_RecoversInputFromSavedGambitContextWhenNotProvided(t *testing.T) {
	var gotInput any
	d := &deck.Deck{
		Path:          "decks/x",
		ContextSchema: json.RawMessage(`{"type":"object","required":["name"]}`),
		Executor: execPtr(func(ctx context.Context, ec deck.ExecContext) (any, error) {
			gotInput = ec.(*execctx.Context).Input
			return "ok", nil
		}),
	}
	o := New(func(path string) (*deck.Deck, error) { return d, nil }, nil, nil, config.New(), nil)

	saved := state.SavedState{}
	saved = saved.AppendMessage(model.Message{Role: model.RoleAssistant, ToolCallID: "call-1", Name: llmloop.ToolContext, Content: `{"name":"alice"}`})
	saved = saved.AppendMessage(model.Message{Role: model.RoleTool, ToolCallID: "call-1", Name: llmloop.ToolContext, Content: `{"name":"alice"}`})

	result, err := o.RunDeck(context.Background(), RunOptions{
		DeckPath: "decks/x", BaseDir: t.TempDir(), State: saved,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, map[string]any{"name": "alice"}, gotInput)
}

func TestRunDeck_RejectsWorkspaceImportMapShadowingReservedNamespace(t *testing.T) {
	dir := t.TempDir()
	cfg := "import_map:\n  gambit/schema: ./local-schema\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gambit.workspace.yaml"), []byte(cfg), 0o644))

	d := computeDeck("decks/x", func(ctx context.Context, ec deck.ExecContext) (any, error) { return "ok", nil })
	o := New(func(path string) (*deck.Deck, error) { return d, nil }, nil, nil, config.New(), nil)

	_, err := o.RunDeck(context.Background(), RunOptions{DeckPath: "decks/x", BaseDir: dir})
	require.Error(t, err)
	var de *deckerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, deckerr.Policy, de.Kind)
}

func TestClampDeadline_NeverWidensInheritedDeadline(t *testing.T) {
	inherited := int64(1000)
	got := clampDeadline(inherited, 1<<30)
	assert.Equal(t, inherited, got)
}

func execPtr(fn deck.Executor) *deck.Executor { return &fn }
