// Package sandbox abstracts the isolated execution context deck code runs
// under when a run opts into workerSandbox. It defines the message-protocol
// discipline shared by the three sandbox uses (deck inspection, compute
// execution, orchestration execution) and a Host interface that pluggable
// backends (in-process goroutine, Temporal workflow) implement.
package sandbox

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/deckrun/deckrun/execctx"
	"github.com/deckrun/deckrun/model"
	"github.com/deckrun/deckrun/perm"
	"github.com/deckrun/deckrun/state"
	"github.com/deckrun/deckrun/trace"
)

// Token is a random value used to authenticate messages crossing the
// worker boundary. Two distinct tokens guard the protocol: the bridge
// session (per-worker) and the completion nonce (per run.start).
type Token string

// NewToken mints a random token. Tokens are opaque and compared only for
// equality — there is no structure for a worker to forge.
func NewToken() Token {
	return Token(uuid.New().String())
}

// Header is embedded in every message exchanged with a worker. A message
// whose BridgeSession does not match the session minted for that worker is
// logged and dropped — this is what prevents cross-worker or replayed
// messages from being accepted.
type Header struct {
	BridgeSession Token `json:"bridge_session"`
}

// Matches reports whether h carries the expected bridge session.
func (h Header) Matches(session Token) bool {
	return h.BridgeSession == session
}

// RunStart is the host-to-worker message that kicks off any of the three
// protocols. CompletionNonce accompanies it; only a run.result/run.error
// carrying both the bridge session and this nonce may settle the outcome.
type RunStart struct {
	Header
	CompletionNonce    Token               `json:"completion_nonce"`
	DeckPath           string              `json:"deck_path"`
	Input              any                 `json:"input"`
	InitialUserMessage string              `json:"initial_user_message,omitempty"`
	State              state.SavedState    `json:"state"`
	Permissions        perm.EffectivePermissions `json:"permissions"`
	DeadlineUnixMS     int64               `json:"deadline_unix_ms"`
	Root               bool                `json:"root"`
}

// RunResult is the worker-to-host success message. Only accepted by the
// settlement when its Header and CompletionNonce match the expectations
// recorded from the corresponding RunStart.
type RunResult struct {
	Header
	CompletionNonce Token `json:"completion_nonce"`
	Result          any   `json:"result"`
}

// RunError is the worker-to-host failure message, subject to the same
// session/nonce matching as RunResult.
type RunError struct {
	Header
	CompletionNonce Token  `json:"completion_nonce"`
	Message         string `json:"message"`
}

// LogEntry forwards an execctx.Context.Log call made inside the worker.
type LogEntry struct {
	Header
	Entry execctx.LogEntry `json:"entry"`
}

// StateUpdate forwards a saved-state snapshot published inside the worker.
type StateUpdate struct {
	Header
	State state.SavedState `json:"state"`
}

// TraceEventMessage forwards a trace.Event emitted inside the worker.
type TraceEventMessage struct {
	Header
	Event trace.Event `json:"event"`
}

// SpawnRequest asks the host to execute a recursive run_deck call on the
// worker's behalf — the host, not the worker, holds the authority to
// dispatch child runs, so spawn_and_wait crosses the bridge as a request.
type SpawnRequest struct {
	Header
	RequestID      string              `json:"request_id"`
	Input          execctx.SpawnInput  `json:"input"`
	DeadlineUnixMS int64               `json:"deadline_unix_ms"`
}

// SpawnResult / SpawnError carry only the request id: a duplicate
// RequestID (a worker retrying a request it believes is unanswered) is
// rejected rather than double-delivered.
type SpawnResult struct {
	Header
	RequestID string `json:"request_id"`
	Result    any    `json:"result"`
}

type SpawnError struct {
	Header
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// Model bridge RPC for the orchestration-worker protocol: the LLM loop runs
// inside the worker, but model calls are proxied to the host, which holds
// the real model.Provider.

type ModelChatRequest struct {
	Header
	RequestID string            `json:"request_id"`
	Request   model.ChatRequest `json:"request"`
}

type ModelChatResult struct {
	Header
	RequestID string             `json:"request_id"`
	Response  model.ChatResponse `json:"response"`
}

type ModelChatError struct {
	Header
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

type ModelChatStreamText struct {
	Header
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
}

type ModelResponsesRequest struct {
	Header
	RequestID string                 `json:"request_id"`
	Request   model.ResponsesRequest `json:"request"`
}

type ModelResponsesResult struct {
	Header
	RequestID string                  `json:"request_id"`
	Response  model.ResponsesResponse `json:"response"`
}

type ModelResponsesError struct {
	Header
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

type ModelResponsesStreamEvent struct {
	Header
	RequestID string          `json:"request_id"`
	Raw       json.RawMessage `json:"raw"`
}

type ModelResolveRequest struct {
	Header
	RequestID string                   `json:"request_id"`
	Request   model.ResolveModelRequest `json:"request"`
}

type ModelResolveResult struct {
	Header
	RequestID string                    `json:"request_id"`
	Response  model.ResolveModelResponse `json:"response"`
}

type ModelResolveError struct {
	Header
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}
