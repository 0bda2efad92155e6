// Package redis implements state/store.Store on top of Redis, for
// deployments that favor low-latency read/write of the small, frequently
// updated SavedState envelope over durability guarantees stronger than a
// cache.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deckrun/deckrun/state"
	"github.com/deckrun/deckrun/state/store"
)

// Store persists SavedState as a JSON blob under a per-run key.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the default "deckrun:state:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL sets an expiration on saved snapshots; zero (the default) means
// no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New constructs a Store backed by client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: "deckrun:state:"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(runID string) string {
	return fmt.Sprintf("%s%s", s.prefix, runID)
}

// Load fetches the snapshot for runID, returning store.ErrNotFound when
// absent.
func (s *Store) Load(ctx context.Context, runID string) (state.SavedState, error) {
	raw, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if err == redis.Nil {
		return state.SavedState{}, store.ErrNotFound
	}
	if err != nil {
		return state.SavedState{}, err
	}
	var st state.SavedState
	if err := json.Unmarshal(raw, &st); err != nil {
		return state.SavedState{}, err
	}
	return st, nil
}

// Save writes the snapshot for st.RunID.
func (s *Store) Save(ctx context.Context, st state.SavedState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(st.RunID), raw, s.ttl).Err()
}
