// Package mongo implements state/store.Store on top of MongoDB, for
// deployments that want durable SavedState snapshots queryable by run_id
// alongside other application data.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/deckrun/deckrun/state"
	"github.com/deckrun/deckrun/state/store"
)

// Store persists SavedState documents in a single collection, keyed by
// run_id.
type Store struct {
	coll *mongo.Collection
}

// New wraps an existing collection handle. Callers own the client
// lifecycle (connect/disconnect).
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

type document struct {
	RunID string            `bson:"run_id"`
	State state.SavedState  `bson:"state"`
}

// Load fetches the snapshot for runID, returning store.ErrNotFound when
// absent.
func (s *Store) Load(ctx context.Context, runID string) (state.SavedState, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return state.SavedState{}, store.ErrNotFound
	}
	if err != nil {
		return state.SavedState{}, err
	}
	return doc.State, nil
}

// Save upserts the snapshot for s.RunID.
func (s *Store) Save(ctx context.Context, st state.SavedState) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"run_id": st.RunID}, document{RunID: st.RunID, State: st}, opts)
	return err
}
