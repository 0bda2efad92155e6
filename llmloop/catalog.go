package llmloop

import (
	"github.com/deckrun/deckrun/deck"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/perm"
)

// Internal and built-in tool names, per spec.md §4.2 and §4.6.
const (
	ToolReadFile   = "read_file"
	ToolListDir    = "list_dir"
	ToolGrepFiles  = "grep_files"
	ToolApplyPatch = "apply_patch"
	ToolExec       = "exec"

	ToolRespond  = "gambit_respond"
	ToolEnd      = "gambit_end"
	ToolContext  = "gambit_context"
	ToolComplete = "gambit_complete"
)

// BuiltinNames returns the canonical built-in tool name set, used both for
// catalog construction here and for deck.Deck.ValidateStatic's
// action/built-in collision check.
func BuiltinNames() map[string]struct{} {
	return map[string]struct{}{
		ToolReadFile:   {},
		ToolListDir:    {},
		ToolGrepFiles:  {},
		ToolApplyPatch: {},
		ToolExec:       {},
	}
}

// kind distinguishes how a catalog entry is dispatched.
type kind int

const (
	kindBuiltin kind = iota
	kindInternal
	kindAction
	kindExternal
)

// catalogEntry binds a tool-catalog name to how Run dispatches a call for
// it.
type catalogEntry struct {
	kind     kind
	action   *deck.ActionDeckRef
	external *deck.ExternalTool
	def      model.ToolDefinition
}

// buildCatalog assembles the tool catalog per spec.md §4.2 "Tool catalog
// construction": built-ins gated by effective permissions, internal tools
// gated by deck flags, one tool per action deck, and external tools with
// action-wins shadowing.
func buildCatalog(d *deck.Deck, effective perm.EffectivePermissions, loader DeckLoader) (map[string]catalogEntry, []model.ToolDefinition) {
	catalog := make(map[string]catalogEntry)
	var defs []model.ToolDefinition

	add := func(name string, entry catalogEntry) {
		catalog[name] = entry
		defs = append(defs, entry.def)
	}

	if !effective.Read.IsEmpty() {
		add(ToolReadFile, catalogEntry{kind: kindBuiltin, def: model.ToolDefinition{Name: ToolReadFile}})
		add(ToolListDir, catalogEntry{kind: kindBuiltin, def: model.ToolDefinition{Name: ToolListDir}})
		add(ToolGrepFiles, catalogEntry{kind: kindBuiltin, def: model.ToolDefinition{Name: ToolGrepFiles}})
	}
	if !effective.Write.IsEmpty() {
		add(ToolApplyPatch, catalogEntry{kind: kindBuiltin, def: model.ToolDefinition{Name: ToolApplyPatch}})
	}
	if !effective.Run.IsEmpty() {
		add(ToolExec, catalogEntry{kind: kindBuiltin, def: model.ToolDefinition{Name: ToolExec}})
	}

	if d.Respond {
		add(ToolRespond, catalogEntry{kind: kindInternal, def: model.ToolDefinition{Name: ToolRespond, InputSchema: d.ResponseSchema}})
	}
	if d.AllowEnd {
		add(ToolEnd, catalogEntry{kind: kindInternal, def: model.ToolDefinition{Name: ToolEnd}})
	}

	actionNames := make(map[string]struct{}, len(d.ActionDecks))
	for i := range d.ActionDecks {
		ref := d.ActionDecks[i]
		actionNames[ref.Name] = struct{}{}

		var schema []byte
		if loader != nil {
			if child, err := loader(ref.DeckPath); err == nil && child != nil {
				schema = child.ContextSchema
			}
		}
		add(ref.Name, catalogEntry{
			kind:   kindAction,
			action: &ref,
			def:    model.ToolDefinition{Name: ref.Name, InputSchema: schema},
		})
	}

	for i := range d.ExternalTools {
		tool := d.ExternalTools[i]
		if _, shadowed := actionNames[tool.Name]; shadowed {
			continue // action wins; external tool silently dropped
		}
		if _, exists := catalog[tool.Name]; exists {
			continue // collides with a built-in or internal tool
		}
		add(tool.Name, catalogEntry{
			kind:     kindExternal,
			external: &tool,
			def:      model.ToolDefinition{Name: tool.Name, InputSchema: tool.InputSchema},
		})
	}

	return catalog, defs
}
