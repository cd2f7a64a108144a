package coordstore

import (
	"context"
	"fmt"

	"tripsync/internal/config"
	"tripsync/internal/tripsync"
)

// NewCoordinateStoreFromConfig creates the shared coordinate store. Type
// "remote" layers it on the account's remote store and is nil when there is
// no remote. Type "none" returns nil: only the built-in table and the
// geocoder are consulted.
func NewCoordinateStoreFromConfig(ctx context.Context, cfg config.CoordinatesConfig, remote tripsync.RemoteStore, clock tripsync.Clock) (tripsync.CoordinateStore, error) {
	switch cfg.Type {
	case "remote", "":
		if remote == nil {
			return nil, nil
		}
		return NewRemoteStore(remote, clock), nil
	case "mongo":
		s, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown coordinates type: %s", cfg.Type)
	}
}
