// Package remote implements tripsync.RemoteStore backends: an in-memory
// store for tests and single-process use, a directory tree that several
// devices can share, and S3.
package remote

import (
	"fmt"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

// checkPut validates a record before it is stored. The store is a dumb
// versioned blob store, but it refuses records that could never be read back.
func checkPut(scope string, rec *tripsync.Record) error {
	if rec == nil || rec.ID == "" {
		return tripsync.NewSyncError(tripsync.PermanentRejection, "put", fmt.Errorf("record has no id"))
	}
	if !rec.Kind.Valid() {
		return tripsync.NewSyncError(tripsync.PermanentRejection, "put", fmt.Errorf("unknown kind %q", rec.Kind))
	}
	if err := checkScope(scope, rec.Kind); err != nil {
		return err
	}
	if rec.Kind.Shared() {
		if rec.OwnerAccountID != "" {
			return tripsync.NewSyncError(tripsync.PermanentRejection, "put", fmt.Errorf("shared record has an owner"))
		}
		return nil
	}
	if rec.OwnerAccountID != scope {
		return tripsync.NewSyncError(tripsync.PermanentRejection, "put", fmt.Errorf("record owner does not match scope"))
	}
	return nil
}

func checkScope(scope string, kind model.Kind) error {
	if scope == "" {
		return tripsync.NewSyncError(tripsync.PermanentRejection, "scope", fmt.Errorf("empty scope"))
	}
	if kind.Shared() != (scope == tripsync.SharedScope) {
		return tripsync.NewSyncError(tripsync.PermanentRejection, "scope", fmt.Errorf("kind %s not allowed in scope %s", kind, scope))
	}
	return nil
}
