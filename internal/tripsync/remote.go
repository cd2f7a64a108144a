package tripsync

import (
	"context"

	"tripsync/internal/model"
)

// RemoteStore is the remote record store. It stores records keyed by
// (scope, kind, id) and treats them as opaque versioned blobs: it does not
// merge, the sync engine does. Scope is an account ID or SharedScope.
//
// Implementations return *SyncError for classified failures and
// ErrCursorExpired from Fetch when a cursor can no longer be continued.
type RemoteStore interface {
	// Put stores rec, replacing any previous version with the same ID.
	Put(ctx context.Context, scope string, rec *Record) (Ack, error)

	// Get returns a single record, or nil if it does not exist.
	Get(ctx context.Context, scope string, kind model.Kind, id string) (*Record, error)

	// Fetch returns records of kind changed since cursor, at most limit per call.
	Fetch(ctx context.Context, scope string, kind model.Kind, cursor Cursor, limit int) (*ChangeSet, error)

	// ValidateSetup verifies that the store is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// Notifier is implemented by remote stores that can signal changes.
// The signal carries only the fact that something changed.
type Notifier interface {
	// Watch returns a channel that receives a value when records of kind
	// change in scope, and a function that stops the watch.
	Watch(scope string, kind model.Kind) (<-chan struct{}, func())
}
