// Package inmem provides the default Host: a goroutine-isolated worker with
// no process or memory isolation, grounded on the Job/Result-over-channels
// shape of a generic worker pool, but narrowed to one goroutine per call
// (no pooling — spec.md §5: "One worker per run_deck call ... no pooling").
package inmem

import (
	"context"
	"fmt"
	"time"

	"github.com/deckrun/deckrun/execctx"
	"github.com/deckrun/deckrun/sandbox"
)

// Host is the in-process sandbox.Host. It is always Supported.
type Host struct {
	Trusted sandbox.TrustedDirs
}

// New constructs an in-memory Host.
func New(trusted sandbox.TrustedDirs) *Host {
	return &Host{Trusted: trusted}
}

// Supported always returns true: a goroutine can always be spawned.
func (h *Host) Supported() bool { return true }

// InspectDeck runs the bootstrap import scan against req.DeckPath, bounded
// by req.Timeout, and derives the worker's capability set from it.
func (h *Host) InspectDeck(ctx context.Context, req sandbox.InspectRequest) (sandbox.InspectResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	inspectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type scanOutcome struct {
		imports []string
	}
	done := make(chan scanOutcome, 1)
	go func() {
		done <- scanOutcome{imports: sandbox.ScanImportsFile(req.DeckPath)}
	}()

	select {
	case o := <-done:
		caps := sandbox.DeriveCapabilities(req.Perm, req.DeckDir, o.imports, req.Trusted)
		return sandbox.InspectResult{ImportPaths: o.imports, Capabilities: caps}, nil
	case <-inspectCtx.Done():
		return sandbox.InspectResult{}, inspectCtx.Err()
	}
}

// RunCompute spawns one goroutine, runs req.Execute inside a worker-local
// execctx.Context, and settles through a session/nonce-guarded Settlement
// exactly as a real out-of-process worker would, so the protocol
// invariants (worker nonce integrity, late-message drop) hold even though
// isolation here is purely logical.
func (h *Host) RunCompute(ctx context.Context, req sandbox.ComputeRequest) (any, error) {
	session := sandbox.NewToken()
	nonce := sandbox.NewToken()
	settle := sandbox.NewSettlement(session, nonce)

	deadline := time.UnixMilli(req.DeadlineUnixMS)
	workerCtx, cancel := context.WithDeadline(ctx, deadline)

	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				settle.TryError(session, nonce, fmt.Errorf("sandbox worker panic: %v", r))
			}
		}()

		ec := execctx.New(
			workerCtx,
			req.RunID, req.ActionCallID, req.ParentActionCallID,
			req.Depth, req.Input, req.InitialUserMessage, req.Label,
			nil,
			req.GetState, req.SetState,
			req.Spawn,
		)

		result, err := req.Execute(workerCtx, ec)
		if err != nil {
			settle.TryError(session, nonce, err)
			return
		}
		settle.TryResult(session, nonce, result)
	}()

	return settle.Wait(ctx, deadline)
}

// RunOrchestration spawns one goroutine running req.Loop against a
// ModelBridge that calls straight through (no real transport boundary in
// this backend), settling identically to RunCompute.
func (h *Host) RunOrchestration(ctx context.Context, req sandbox.OrchestrationRequest) (any, error) {
	session := sandbox.NewToken()
	nonce := sandbox.NewToken()
	settle := sandbox.NewSettlement(session, nonce)

	deadline := time.UnixMilli(req.DeadlineUnixMS)
	workerCtx, cancel := context.WithDeadline(ctx, deadline)

	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				settle.TryError(session, nonce, fmt.Errorf("sandbox worker panic: %v", r))
			}
		}()

		result, err := req.Loop(workerCtx, req.Bridge)
		if err != nil {
			settle.TryError(session, nonce, err)
			return
		}
		settle.TryResult(session, nonce, result)
	}()

	return settle.Wait(ctx, deadline)
}
