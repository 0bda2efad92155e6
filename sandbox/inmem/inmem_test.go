package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckrun/deckrun/execctx"
	"github.com/deckrun/deckrun/sandbox"
	"github.com/deckrun/deckrun/state"
)

func TestHost_Supported(t *testing.T) {
	h := New(sandbox.TrustedDirs{})
	assert.True(t, h.Supported())
}

func TestHost_RunCompute_ReturnsExecutorResult(t *testing.T) {
	h := New(sandbox.TrustedDirs{})
	s := state.SavedState{RunID: "run-1"}

	req := sandbox.ComputeRequest{
		RunID:          "run-1",
		DeadlineUnixMS: time.Now().Add(time.Second).UnixMilli(),
		GetState:       func() state.SavedState { return s },
		SetState:       func(n state.SavedState) { s = n },
		Execute: func(ctx context.Context, ec *execctx.Context) (any, error) {
			return "ok", nil
		},
	}

	result, err := h.RunCompute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestHost_RunCompute_PropagatesExecutorError(t *testing.T) {
	h := New(sandbox.TrustedDirs{})
	s := state.SavedState{}

	req := sandbox.ComputeRequest{
		DeadlineUnixMS: time.Now().Add(time.Second).UnixMilli(),
		GetState:       func() state.SavedState { return s },
		SetState:       func(n state.SavedState) { s = n },
		Execute: func(ctx context.Context, ec *execctx.Context) (any, error) {
			return nil, errors.New("boom")
		},
	}

	_, err := h.RunCompute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestHost_RunCompute_TimesOutWhenExecutorOutlivesDeadline(t *testing.T) {
	h := New(sandbox.TrustedDirs{})
	s := state.SavedState{}

	req := sandbox.ComputeRequest{
		DeadlineUnixMS: time.Now().Add(10 * time.Millisecond).UnixMilli(),
		GetState:       func() state.SavedState { return s },
		SetState:       func(n state.SavedState) { s = n },
		Execute: func(ctx context.Context, ec *execctx.Context) (any, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	_, err := h.RunCompute(context.Background(), req)
	require.Error(t, err)
}
