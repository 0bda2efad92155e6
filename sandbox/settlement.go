package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/deckrun/deckrun/deckerr"
)

// Settlement guards the outcome promise of a single worker invocation. It
// accepts at most one result, and only through TryResult/TryError calls
// whose session and nonce match the values it was constructed with —
// forged or replayed completion messages from inside the worker never
// settle it and never touch caller state.
type Settlement struct {
	session Token
	nonce   Token

	mu   sync.Mutex
	done bool
	ch   chan outcome
}

type outcome struct {
	result any
	err    error
}

// NewSettlement constructs a Settlement for the given bridge session and
// completion nonce, as minted for the corresponding RunStart.
func NewSettlement(session, nonce Token) *Settlement {
	return &Settlement{session: session, nonce: nonce, ch: make(chan outcome, 1)}
}

func (s *Settlement) accept(session, nonce Token) bool {
	if session != s.session || nonce != s.nonce {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}

// TryResult attempts to settle with a success value. Returns false if the
// session/nonce did not match or the settlement was already resolved.
func (s *Settlement) TryResult(session, nonce Token, result any) bool {
	if !s.accept(session, nonce) {
		return false
	}
	s.ch <- outcome{result: result}
	return true
}

// TryError attempts to settle with a failure. Returns false if the
// session/nonce did not match or the settlement was already resolved.
func (s *Settlement) TryError(session, nonce Token, err error) bool {
	if !s.accept(session, nonce) {
		return false
	}
	s.ch <- outcome{err: err}
	return true
}

// Wait blocks until the settlement resolves, the deadline passes, or ctx is
// canceled — whichever comes first. A deadline expiry is reported as a
// Guardrail timeout error, never as cancellation.
func (s *Settlement) Wait(ctx context.Context, deadline time.Time) (any, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case o := <-s.ch:
		return o.result, o.err
	case <-timer.C:
		return nil, deckerr.New(deckerr.Guardrail, 504, "worker_timeout", "worker did not settle before run_deadline_ms")
	case <-ctx.Done():
		if deckerr.IsRunCanceled(ctx.Err()) {
			return nil, deckerr.RunCanceled()
		}
		return nil, ctx.Err()
	}
}
