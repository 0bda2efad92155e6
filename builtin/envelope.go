// Package builtin implements the five built-in tools of spec.md §4.6:
// read_file, list_dir, grep_files, apply_patch, exec. Each resolves paths
// against the effective permission set's base_dir and returns the standard
// tool envelope. These operate directly on the OS filesystem and process
// table, which is the one corner of this module where the standard library
// (os, os/exec, regexp, bufio) is the correct tool rather than a
// third-party dependency — see DESIGN.md for the stdlib-use justification.
package builtin

import "encoding/json"

// Envelope is the uniform tool-result shape of spec.md §6/GLOSSARY.
type Envelope struct {
	Status  int             `json:"status,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Meta    map[string]any  `json:"meta,omitempty"`

	RunID              string `json:"run_id,omitempty"`
	ActionCallID       string `json:"action_call_id,omitempty"`
	ParentActionCallID string `json:"parent_action_call_id,omitempty"`
	Source             *Source `json:"source,omitempty"`
}

// Source identifies where a tool call originated.
type Source struct {
	DeckPath   string `json:"deck_path"`
	ActionName string `json:"action_name"`
}

func denied(message string) Envelope {
	return Envelope{Status: 403, Code: "permission_denied", Message: message}
}

// Marshal is used by callers that need the envelope as a raw tool result
// payload.
func (e Envelope) Marshal() json.RawMessage {
	raw, err := json.Marshal(e)
	if err != nil {
		// Envelope fields are all JSON-safe primitives/maps; a marshal
		// failure here means a caller put something non-serializable in
		// Payload, which is a programmer error, not a runtime error.
		return json.RawMessage(`{"status":500,"code":"internal_error"}`)
	}
	return raw
}
