// Package ids mints the short prefixed identifiers used to correlate runs,
// action calls, and tool calls across the orchestrator, trace stream, and
// saved state.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes for the identifier kinds minted by this package. A RunID is
// minted once per root invocation and inherited by every descendant; an
// ActionCallID is minted per deck invocation and per tool call; a CallID
// identifies a single tool-call/result pair within a pass; a MessageRef
// identifies a single entry of SavedState.Messages or SavedState.Items.
const (
	runPrefix     = "run-"
	actionPrefix  = "action-"
	callPrefix    = "call-"
	messagePrefix = "msg-"
)

// maxToolCallIDLen keeps minted tool-call identifiers under the ~40
// character bound most model providers impose on tool_call_id/call_id
// fields. uuid.New().String() without dashes is 32 hex characters, so a
// "call-" prefix plus that suffix is 37 characters, under the limit while
// remaining collision-resistant; NewCallID truncates anything longer.
const maxToolCallIDLen = 40

func short() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewRunID mints a fresh run_id.
func NewRunID() string {
	return runPrefix + short()
}

// NewActionCallID mints a fresh action_call_id.
func NewActionCallID() string {
	return actionPrefix + short()
}

// NewCallID mints a fresh tool-call id, truncated to respect provider
// limits on tool_call_id length.
func NewCallID() string {
	id := callPrefix + short()
	if len(id) > maxToolCallIDLen {
		id = id[:maxToolCallIDLen]
	}
	return id
}

// NewMessageRef mints a fresh stable per-message identifier for SavedState.
func NewMessageRef() string {
	return messagePrefix + short()
}

// IsRunID reports whether s has the run_id prefix. Used by validation code
// that accepts caller-supplied run-id hints.
func IsRunID(s string) bool { return strings.HasPrefix(s, runPrefix) }
