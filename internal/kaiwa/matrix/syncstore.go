package matrix

// syncstore.go persists the /sync position through the conversation store's
// database so a restart resumes where the bot left off instead of replaying
// room history and answering old messages again.

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*DBSyncStore)(nil)

// SyncStateStore is the key/value table DBSyncStore writes through.
// *store.SQLStore implements it.
type SyncStateStore interface {
	SaveSyncValue(ctx context.Context, userID, key, value string) error
	LoadSyncValue(ctx context.Context, userID, key string) (string, error)
}

// DBSyncStore implements mautrix.SyncStore on top of a SyncStateStore.
type DBSyncStore struct {
	kv SyncStateStore
}

// NewDBSyncStore creates a DBSyncStore writing through kv.
func NewDBSyncStore(kv SyncStateStore) *DBSyncStore {
	return &DBSyncStore{kv: kv}
}

// SaveFilterID persists the Matrix event-filter ID for the given user.
func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.kv.SaveSyncValue(ctx, userID.String(), "filter_id", filterID)
}

// LoadFilterID returns ("", nil) when no filter has been saved yet.
func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.kv.LoadSyncValue(ctx, userID.String(), "filter_id")
}

// SaveNextBatch persists the opaque next_batch token.
func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.kv.SaveSyncValue(ctx, userID.String(), "next_batch", nextBatchToken)
}

// LoadNextBatch returns ("", nil) on first run.
func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.kv.LoadSyncValue(ctx, userID.String(), "next_batch")
}
