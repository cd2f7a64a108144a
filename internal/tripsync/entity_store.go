package tripsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tripsync/internal/model"
)

// Entity is one live record of an EntityStore, decoded.
type Entity[T model.Payload] struct {
	ID         string
	ModifiedAt time.Time
	Value      T
	// Pending is set while the latest local change has not been pushed.
	Pending bool
	// Rejected is set when the remote refused the record permanently.
	Rejected bool
}

// Snapshot is the current state of an EntityStore, ordered by ModifiedAt.
type Snapshot[T model.Payload] struct {
	Items []Entity[T]
}

// Find returns the entity with the given ID.
func (s Snapshot[T]) Find(id string) (Entity[T], bool) {
	for _, e := range s.Items {
		if e.ID == id {
			return e, true
		}
	}
	return Entity[T]{}, false
}

// Op is a mutation applied by EntityStore.Mutate.
type Op[T model.Payload] struct {
	id     string
	value  T
	delete bool
}

// Put creates or replaces the entity with the given ID. An empty ID
// creates a new entity with a generated ID.
func Put[T model.Payload](id string, value T) Op[T] {
	return Op[T]{id: id, value: value}
}

// Delete tombstones the entity with the given ID.
func Delete[T model.Payload](id string) Op[T] {
	return Op[T]{id: id, delete: true}
}

// EntityStoreDeps are the collaborators of an EntityStore. Engine and
// Subscriptions are nil in local-only mode.
type EntityStoreDeps struct {
	Local         *LocalStore
	Engine        *SyncEngine
	Subscriptions *SubscriptionManager
	Session       Session
	Clock         Clock
	IDs           IDGenerator
	Logger        Logger
}

// EntityStore is the application-facing store for one kind. Mutations take
// effect locally and synchronously; their remote propagation is detached.
type EntityStore[T model.Payload] struct {
	kind    model.Kind
	local   *LocalStore
	engine  *SyncEngine
	subs    *SubscriptionManager
	session Session
	clock   Clock
	ids     IDGenerator
	logger  Logger

	mu        sync.Mutex
	current   Snapshot[T]
	observers map[int]chan Snapshot[T]
	nextObs   int
	open      bool

	pubMu   sync.Mutex
	refresh chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEntityStore creates the store for T's kind. Call Open before use.
func NewEntityStore[T model.Payload](deps EntityStoreDeps) *EntityStore[T] {
	var zero T
	s := &EntityStore[T]{
		kind:      zero.Kind(),
		local:     deps.Local,
		session:   deps.Session,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    deps.Logger,
		observers: make(map[int]chan Snapshot[T]),
		refresh:   make(chan struct{}, 1),
	}
	if !deps.Session.LocalOnly() {
		s.engine = deps.Engine
		s.subs = deps.Subscriptions
	}
	return s
}

// Kind returns the kind held by the store.
func (s *EntityStore[T]) Kind() model.Kind { return s.kind }

// LocalOnly reports whether remote sync is off for this store.
func (s *EntityStore[T]) LocalOnly() bool { return s.engine == nil }

// Open loads the local state and, unless local-only, subscribes to remote
// changes. Pulls triggered by the subscription run until Close.
func (s *EntityStore[T]) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return fmt.Errorf("%s store already open", s.kind)
	}
	s.open = true
	s.mu.Unlock()

	s.publish()
	if s.engine == nil || s.subs == nil {
		s.logger.Debug("entity store opened in local-only mode", "kind", s.kind.String())
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.refreshLoop(ctx)
	s.subs.Subscribe(s.kind, s.requestRefresh)
	return nil
}

// Close stops remote sync for the store and closes every observer channel.
func (s *EntityStore[T]) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.mu.Unlock()

	if s.subs != nil && s.engine != nil {
		s.subs.Unsubscribe(s.kind)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	for id, ch := range s.observers {
		close(ch)
		delete(s.observers, id)
	}
	s.mu.Unlock()
}

func (s *EntityStore[T]) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *EntityStore[T]) refreshLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.refresh:
		}
		if err := s.engine.SyncKind(ctx, s.kind); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("pull failed", "kind", s.kind.String(), "error", err)
		}
		s.publish()
	}
}

// Refresh pulls remote changes now and republishes. It returns the sync
// error, if any; local state stays usable either way.
func (s *EntityStore[T]) Refresh(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	err := s.engine.SyncKind(ctx, s.kind)
	s.publish()
	return err
}

// Mutate applies op locally, durably, and publishes the new snapshot before
// returning. The push to the remote store happens in the background.
// It returns the ID of the affected entity.
func (s *EntityStore[T]) Mutate(op Op[T]) (string, error) {
	var id string
	var err error
	if op.delete {
		id, err = s.delete(op.id)
	} else {
		id, err = s.put(op.id, op.value)
	}
	if err != nil {
		return "", err
	}
	s.publish()
	if s.engine != nil {
		s.engine.Notify()
	}
	return id, nil
}

func (s *EntityStore[T]) put(id string, value T) (string, error) {
	payload, err := model.Encode(value)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = s.ids.New()
	}
	err = s.local.Apply(id, func(cur *Record) ([]*Record, error) {
		if cur != nil && cur.Kind != s.kind {
			return nil, fmt.Errorf("id %s belongs to a %s", id, cur.Kind)
		}
		if cur != nil && cur.Deleted {
			return nil, fmt.Errorf("%s %s has been deleted", s.kind, id)
		}
		return []*Record{{
			ID:             id,
			Kind:           s.kind,
			Payload:        payload,
			ModifiedAt:     nextModifiedAt(s.clock.Now(), cur),
			OwnerAccountID: s.session.AccountID,
			Dirty:          true,
		}}, nil
	})
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", s.kind, err)
	}
	return id, nil
}

func (s *EntityStore[T]) delete(id string) (string, error) {
	cur := s.local.Get(id)
	if cur == nil || cur.Kind != s.kind {
		return "", fmt.Errorf("deleting %s %s: %w", s.kind, id, ErrNotFound)
	}
	if _, err := s.local.Delete(id); err != nil {
		return "", fmt.Errorf("deleting %s %s: %w", s.kind, id, err)
	}
	return id, nil
}

// Get returns the live entity with the given ID.
func (s *EntityStore[T]) Get(id string) (Entity[T], bool) {
	return s.Snapshot().Find(id)
}

// Snapshot returns the current state.
func (s *EntityStore[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Observe returns a channel that receives the current snapshot immediately
// and every later one. A slow observer only sees the latest snapshot.
// The returned function stops the observation.
func (s *EntityStore[T]) Observe() (<-chan Snapshot[T], func()) {
	ch := make(chan Snapshot[T], 1)
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	ch <- s.current
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.observers[id]; ok {
				close(c)
				delete(s.observers, id)
			}
		})
	}
}

func (s *EntityStore[T]) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	snap := s.build()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap
	for _, ch := range s.observers {
		// Replace an unread snapshot with the latest one.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *EntityStore[T]) build() Snapshot[T] {
	var snap Snapshot[T]
	for _, rec := range s.local.All(s.kind) {
		if rec.Deleted {
			continue
		}
		v, err := model.Decode[T](rec.Payload)
		if err != nil {
			s.logger.Error("skipping undecodable local record", "kind", s.kind.String(), "id", rec.ID, "error", err)
			continue
		}
		snap.Items = append(snap.Items, Entity[T]{
			ID:         rec.ID,
			ModifiedAt: rec.ModifiedAt,
			Value:      v,
			Pending:    rec.Dirty,
			Rejected:   rec.Rejected,
		})
	}
	return snap
}
