package tripsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tripsync/internal/model"
)

// ServiceDeps are the collaborators a Service is assembled from. Remote,
// Notifier, Cipher, CoordinateStore and Geocoder may be nil.
type ServiceDeps struct {
	Database        Database
	Outbox          Outbox
	Remote          RemoteStore
	Notifier        Notifier
	Cipher          PayloadCipher
	CoordinateStore CoordinateStore
	Geocoder        Geocoder
	StaticTable     map[string]model.Coordinate
	Session         Session
	Clock           Clock
	IDs             IDGenerator
	Jitter          Jitter
	Logger          Logger
	Metrics         Metrics
}

// ServiceOptions tunes the components of a Service.
type ServiceOptions struct {
	Local          LocalStoreOptions
	Engine         EngineOptions
	Subscriptions  SubscriptionOptions
	NetworkTimeout time.Duration
}

// Service owns the per-account sync core: the local store, the sync engine,
// the subscription manager, one EntityStore per account kind and the shared
// coordinate cache. It is opened at sign-in and closed at sign-out.
type Service struct {
	Flights     *EntityStore[model.Flight]
	Trips       *EntityStore[model.Trip]
	Entries     *EntityStore[model.TripEntry]
	Searches    *EntityStore[model.SearchHistory]
	Coordinates *CoordinateCache

	session Session
	local   *LocalStore
	engine  *SyncEngine
	subs    *SubscriptionManager
	outbox  Outbox
	status  *StatusTracker
	logger  Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewService loads local state and assembles the sync core. Sync is off
// when the session is local-only or no remote store is configured.
func NewService(deps ServiceDeps, opts ServiceOptions) (*Service, error) {
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	local, err := OpenLocalStore(deps.Database, opts.Local, deps.Clock, deps.Logger, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	s := &Service{
		session: deps.Session,
		local:   local,
		outbox:  deps.Outbox,
		logger:  deps.Logger,
	}

	if deps.Session.LocalOnly() || deps.Remote == nil {
		s.status = NewStatusTracker(StateLocalOnly)
	} else {
		s.status = NewStatusTracker(StateIdle)
		if opts.Engine.NetworkTimeout <= 0 {
			opts.Engine.NetworkTimeout = opts.NetworkTimeout
		}
		s.engine = NewSyncEngine(deps.Session.AccountID, EngineDeps{
			Local:   local,
			Outbox:  deps.Outbox,
			Remote:  deps.Remote,
			Cipher:  deps.Cipher,
			Status:  s.status,
			Clock:   deps.Clock,
			Jitter:  deps.Jitter,
			Logger:  deps.Logger,
			Metrics: deps.Metrics,
		}, opts.Engine)
		if opts.Subscriptions.DebounceWindow <= 0 {
			opts.Subscriptions.DebounceWindow = opts.Local.DebounceWindow
		}
		s.subs = NewSubscriptionManager(deps.Notifier, deps.Session.AccountID, deps.Clock, deps.Logger, opts.Subscriptions)
	}
	s.refreshPending()

	storeDeps := EntityStoreDeps{
		Local:         local,
		Engine:        s.engine,
		Subscriptions: s.subs,
		Session:       deps.Session,
		Clock:         deps.Clock,
		IDs:           deps.IDs,
		Logger:        deps.Logger,
	}
	s.Flights = NewEntityStore[model.Flight](storeDeps)
	s.Trips = NewEntityStore[model.Trip](storeDeps)
	s.Entries = NewEntityStore[model.TripEntry](storeDeps)
	s.Searches = NewEntityStore[model.SearchHistory](storeDeps)

	s.Coordinates = NewCoordinateCache(CoordinateCacheDeps{
		Static:   deps.StaticTable,
		Shared:   deps.CoordinateStore,
		Geocoder: deps.Geocoder,
		Logger:   deps.Logger,
		Metrics:  deps.Metrics,
	}, opts.NetworkTimeout)

	for _, kind := range local.CorruptedKinds() {
		deps.Logger.Warn("kind was reset and will be re-pulled", "kind", kind.String())
	}
	return s, nil
}

type lifecycle interface {
	Open(ctx context.Context) error
	Close()
}

func (s *Service) stores() []lifecycle {
	return []lifecycle{s.Flights, s.Trips, s.Entries, s.Searches}
}

// Open opens every EntityStore and starts the background workers: the
// debounced local flush and, unless local-only, the push worker and the
// subscription manager.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("service already open")
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g
	s.mu.Unlock()

	g.Go(func() error { return s.local.Run(gctx) })
	if s.engine != nil {
		g.Go(func() error { return s.engine.Run(gctx) })
		g.Go(func() error { return s.subs.Run(gctx) })
	}
	for _, st := range s.stores() {
		if err := st.Open(gctx); err != nil {
			s.Close()
			return err
		}
	}
	s.logger.Info("sync service opened", "account", s.session.AccountID, "local_only", s.engine == nil)
	return nil
}

// Close stops the background workers and flushes local state.
func (s *Service) Close() error {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	for _, st := range s.stores() {
		st.Close()
	}
	if cancel != nil {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("background worker failed", "error", err)
		}
	}
	if err := s.local.Flush(); err != nil {
		return fmt.Errorf("flushing local store: %w", err)
	}
	return nil
}

// Sync pushes every pending change and pulls every kind once, then
// republishes all stores.
func (s *Service) Sync(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	err := s.engine.SyncAll(ctx)
	s.Flights.publish()
	s.Trips.publish()
	s.Entries.publish()
	s.Searches.publish()
	return err
}

// Flush forces a snapshot of all pending local writes.
func (s *Service) Flush() error {
	return s.local.Flush()
}

// Status returns the sync status indicator.
func (s *Service) Status() Status {
	s.refreshPending()
	return s.status.Status()
}

func (s *Service) refreshPending() {
	if s.outbox == nil {
		return
	}
	if n, err := s.outbox.Count(); err == nil {
		s.status.setPending(n)
	}
}

// Resume lifts an auth-expired suspension.
func (s *Service) Resume() {
	if s.engine != nil {
		s.engine.Resume()
	}
}

// SetActive forwards a foreground or background transition.
func (s *Service) SetActive(active bool) {
	if s.subs != nil {
		s.subs.SetActive(active)
	}
	if !active {
		// Backgrounding is a durability point.
		if err := s.local.Flush(); err != nil {
			s.logger.Error("flush on background failed", "error", err)
		}
	}
}
