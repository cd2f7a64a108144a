package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"tripsync/internal/config"
	"tripsync/internal/coordstore"
	"tripsync/internal/database"
	"tripsync/internal/encryption"
	"tripsync/internal/geocode"
	"tripsync/internal/metrics"
	"tripsync/internal/model"
	"tripsync/internal/outbox"
	"tripsync/internal/remote"
	"tripsync/internal/tripsync"
)

// settleTimeout bounds the final push attempt of a one-shot command.
const settleTimeout = 15 * time.Second

// Options are the per-invocation settings of an App.
type Options struct {
	// Passphrase unlocks the payload encryption key. Required when the
	// account syncs with encryption enabled.
	Passphrase string
	// Verbose lowers the log level to debug.
	Verbose bool
	// Clock and IDs default to the real clock and random UUIDs.
	Clock tripsync.Clock
	IDs   tripsync.IDGenerator
}

// App is the application layer between the CLI and the sync Service.
// It constructs all dependencies from config and manages their lifecycle.
type App struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	remote  tripsync.RemoteStore
	coords  tripsync.CoordinateStore
	metrics *metrics.Prometheus
	service *tripsync.Service
	logger  tripsync.Logger
	logFile *os.File
	opened  bool
}

// New creates a fully wired App from the given config. The caller must call
// Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = tripsync.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = tripsync.UUIDGenerator{}
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{cfg: cfg, logger: &slogAdapter{l: slogger}, logFile: logFile}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.cfg
	session := tripsync.Session{AccountID: cfg.Account.ID, SyncEnabled: cfg.Account.SyncEnabled}

	db, err := database.NewDatabaseFromConfig(cfg.Database, session.AccountID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	store, notifier, err := remote.NewRemoteFromConfig(ctx, cfg.Remote)
	if err != nil {
		return fmt.Errorf("creating remote store: %w", err)
	}
	a.remote = store

	var cipher tripsync.PayloadCipher
	if !session.LocalOnly() && store != nil {
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}
		if cipher, err = encryption.OpenCipher(enc, opts.Passphrase); err != nil {
			return fmt.Errorf("unlocking encryption: %w", err)
		}
	}

	coords, err := coordstore.NewCoordinateStoreFromConfig(ctx, cfg.Coordinates, store, opts.Clock)
	if err != nil {
		return fmt.Errorf("creating coordinate store: %w", err)
	}
	a.coords = coords

	geocoder, err := geocode.NewGeocoderFromConfig(cfg.Geocoder)
	if err != nil {
		return fmt.Errorf("creating geocoder: %w", err)
	}

	a.metrics = metrics.NewPrometheus("tripsync")
	sc := cfg.Sync
	a.service, err = tripsync.NewService(tripsync.ServiceDeps{
		Database:        db,
		Outbox:          outbox.New(db, a.logger),
		Remote:          store,
		Notifier:        notifier,
		Cipher:          cipher,
		CoordinateStore: coords,
		Geocoder:        geocoder,
		StaticTable:     geocode.StaticTable(),
		Session:         session,
		Clock:           opts.Clock,
		IDs:             opts.IDs,
		Jitter:          tripsync.RandomJitter,
		Logger:          a.logger,
		Metrics:         a.metrics,
	}, tripsync.ServiceOptions{
		Local: tripsync.LocalStoreOptions{
			DebounceWindow:     sc.DebounceWindow.Duration,
			TombstoneRetention: sc.TombstoneRetention.Duration,
		},
		Engine: tripsync.EngineOptions{
			BackoffBase: sc.BackoffBase.Duration,
			BackoffMax:  sc.BackoffMax.Duration,
			Grace:       sc.DeletionGrace.Duration,
		},
		Subscriptions: tripsync.SubscriptionOptions{
			PollInterval: sc.PollInterval.Duration,
		},
		NetworkTimeout: sc.NetworkTimeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("creating sync service: %w", err)
	}
	return nil
}

// Open starts the sync service: local state is published to the stores and
// background push, pull and flush begin.
func (a *App) Open(ctx context.Context) error {
	if err := a.service.Open(ctx); err != nil {
		return err
	}
	a.opened = true
	return nil
}

// Service returns the sync service.
func (a *App) Service() *tripsync.Service { return a.service }

// MetricsHandler serves the Prometheus metrics of this App.
func (a *App) MetricsHandler() http.Handler { return a.metrics.Handler() }

// AddFlight stores a flight, filling in airport coordinates the user did
// not supply. Unresolvable coordinates are left empty.
func (a *App) AddFlight(ctx context.Context, f model.Flight) (string, error) {
	for _, stop := range []*model.AirportStop{&f.Departure, &f.Arrival} {
		code, ok := model.NormalizeAirportCode(stop.Code)
		if !ok {
			return "", fmt.Errorf("invalid airport code %q", stop.Code)
		}
		stop.Code = code
		if stop.Coordinate == nil {
			stop.Coordinate = a.service.Coordinates.Resolve(ctx, code)
		}
	}
	return a.service.Flights.Mutate(tripsync.Put("", f))
}

// Resolve returns the coordinate of an airport code, or nil.
func (a *App) Resolve(ctx context.Context, code string) *model.Coordinate {
	return a.service.Coordinates.Resolve(ctx, code)
}

// Sync pushes pending changes and pulls every kind once.
func (a *App) Sync(ctx context.Context) error {
	return a.service.Sync(ctx)
}

// Status returns the sync status indicator.
func (a *App) Status() tripsync.Status {
	return a.service.Status()
}

// CheckRemote verifies the remote store is reachable and writable.
func (a *App) CheckRemote(ctx context.Context) error {
	if a.remote == nil {
		return fmt.Errorf("no remote store configured")
	}
	return a.remote.ValidateSetup(ctx)
}

// Backup writes a consistent copy of the local database to path.
func (a *App) Backup(path string) error {
	if err := a.service.Flush(); err != nil {
		return err
	}
	return a.db.BackupTo(path)
}

// Close stops the service, makes a bounded last attempt to push pending
// changes, and closes all resources.
func (a *App) Close() error {
	var firstErr error
	if a.service != nil {
		if st := a.service.Status(); a.opened && st.State != tripsync.StateLocalOnly && st.Pending > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
			if err := a.service.Sync(ctx); err != nil {
				a.logger.Warn("changes stay queued for the next run", "error", err)
			}
			cancel()
		}
		if err := a.service.Close(); err != nil {
			firstErr = err
		}
	}
	if c, ok := a.coords.(interface{ Close(context.Context) error }); ok {
		if err := c.Close(context.Background()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing coordinate store: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
