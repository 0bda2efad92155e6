package temporal

import (
	"context"

	"github.com/deckrun/deckrun/execctx"
	"github.com/deckrun/deckrun/sandbox"
)

// newExecContext builds the worker-local execctx.Context for a compute
// activity invocation, the same construction inmem.Host.RunCompute uses.
func newExecContext(ctx context.Context, req sandbox.ComputeRequest) *execctx.Context {
	return execctx.New(
		ctx,
		req.RunID, req.ActionCallID, req.ParentActionCallID,
		req.Depth, req.Input, req.InitialUserMessage, req.Label,
		nil,
		req.GetState, req.SetState,
		req.Spawn,
	)
}
