// Package coordstore implements tripsync.CoordinateStore, the coordinate
// set shared by every account: on top of the remote record store, in
// MongoDB, or in PostgreSQL.
package coordstore

import (
	"context"
	"fmt"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

// RemoteStore keeps shared coordinates as records in the shared scope of a
// tripsync.RemoteStore. Every device derives the same record ID from an
// airport code, so concurrent publishers converge on one record.
type RemoteStore struct {
	remote tripsync.RemoteStore
	clock  tripsync.Clock
}

// NewRemoteStore creates a coordinate store on top of remote.
func NewRemoteStore(remote tripsync.RemoteStore, clock tripsync.Clock) *RemoteStore {
	return &RemoteStore{remote: remote, clock: clock}
}

func (s *RemoteStore) Lookup(ctx context.Context, code string) (*model.CoordinateRecord, error) {
	rec, err := s.remote.Get(ctx, tripsync.SharedScope, model.KindCoordinate, tripsync.CoordinateRecordID(code))
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", code, err)
	}
	if rec == nil || rec.Deleted {
		return nil, nil
	}
	c, err := model.Decode[model.CoordinateRecord](rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding shared coordinate %s: %w", code, err)
	}
	if c.Code != code {
		return nil, fmt.Errorf("shared coordinate %s holds code %s", code, c.Code)
	}
	return &c, nil
}

func (s *RemoteStore) Publish(ctx context.Context, c model.CoordinateRecord) error {
	payload, err := model.Encode(c)
	if err != nil {
		return err
	}
	_, err = s.remote.Put(ctx, tripsync.SharedScope, &tripsync.Record{
		ID:         tripsync.CoordinateRecordID(c.Code),
		Kind:       model.KindCoordinate,
		Payload:    payload,
		ModifiedAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", c.Code, err)
	}
	return nil
}

var _ tripsync.CoordinateStore = (*RemoteStore)(nil)
