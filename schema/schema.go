// Package schema implements the "generic schema capability" spec.md §1
// treats as an external collaborator: validate JSON instances against
// deck context/response schemas, action-deck argument schemas, and
// external-tool input schemas. It does not generate or emit schemas.
// Backed by github.com/santhosh-tekuri/jsonschema/v6.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles and caches JSON Schemas, keyed by their raw bytes so
// the same schema document compiled twice (e.g. a shared action-deck
// context schema) only pays the compilation cost once.
type Validator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// New constructs an empty Validator.
func New() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

func (v *Validator) compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	v.mu.Lock()
	if s, ok := v.cache[key]; ok {
		v.mu.Unlock()
		return s, nil
	}
	v.mu.Unlock()

	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}
	const resource = "schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}
	s, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.cache[key] = s
	v.mu.Unlock()
	return s, nil
}

// Validate checks instance (raw JSON) against the compiled form of schema
// (raw JSON Schema document). A nil schema always validates successfully —
// callers use this for root decks accepting raw string input with no
// declared context schema.
func (v *Validator) Validate(schemaDoc json.RawMessage, instance json.RawMessage) error {
	if len(schemaDoc) == 0 {
		return nil
	}
	s, err := v.compile(schemaDoc)
	if err != nil {
		return err
	}
	var inst any
	if err := json.Unmarshal(instance, &inst); err != nil {
		return fmt.Errorf("invalid instance JSON: %w", err)
	}
	return s.Validate(inst)
}
