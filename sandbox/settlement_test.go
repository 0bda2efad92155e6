package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlement_AcceptsMatchingSessionAndNonce(t *testing.T) {
	session, nonce := NewToken(), NewToken()
	s := NewSettlement(session, nonce)

	ok := s.TryResult(session, nonce, "done")
	require.True(t, ok)

	result, err := s.Wait(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestSettlement_RejectsMismatchedSession(t *testing.T) {
	session, nonce := NewToken(), NewToken()
	s := NewSettlement(session, nonce)

	ok := s.TryResult(NewToken(), nonce, "forged")
	assert.False(t, ok)

	ok = s.TryResult(session, nonce, "real")
	assert.True(t, ok)

	result, err := s.Wait(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "real", result, "a mismatched-session message must never settle the outcome")
}

func TestSettlement_RejectsMismatchedNonce(t *testing.T) {
	session, nonce := NewToken(), NewToken()
	s := NewSettlement(session, nonce)

	ok := s.TryResult(session, NewToken(), "forged")
	assert.False(t, ok)
}

func TestSettlement_OnlySettlesOnce(t *testing.T) {
	session, nonce := NewToken(), NewToken()
	s := NewSettlement(session, nonce)

	require.True(t, s.TryResult(session, nonce, "first"))
	assert.False(t, s.TryResult(session, nonce, "second"), "a second settlement attempt must be refused")
}

func TestSettlement_TimesOutAtDeadline(t *testing.T) {
	session, nonce := NewToken(), NewToken()
	s := NewSettlement(session, nonce)

	_, err := s.Wait(context.Background(), time.Now().Add(10*time.Millisecond))
	require.Error(t, err)
}
