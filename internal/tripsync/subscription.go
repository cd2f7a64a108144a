package tripsync

import (
	"context"
	"sync"
	"time"

	"tripsync/internal/model"
)

// DefaultPollInterval is how long an active subscription may go without a
// remote notification before it fires anyway.
const DefaultPollInterval = 5 * time.Minute

// SubscriptionOptions tunes a SubscriptionManager. Zero values select the
// defaults.
type SubscriptionOptions struct {
	DebounceWindow time.Duration
	PollInterval   time.Duration
}

type subscription struct {
	onChange  func()
	stop      func()
	lastFired time.Time
}

// SubscriptionManager turns remote change signals into onChange calls.
//
// Signals come from a Notifier (when the remote store has one), from a poll
// fallback while the application is active, and from foreground
// transitions. Each signal marks its kind pending; Run coalesces a kind's
// signals over the debounce window so each burst results in one onChange
// call.
type SubscriptionManager struct {
	notifier Notifier // may be nil
	scope    string
	clock    Clock
	logger   Logger
	window   time.Duration
	poll     time.Duration

	mu     sync.Mutex
	subs   map[model.Kind]*subscription
	active bool
	// pending maps a signaled kind to its first unfired signal.
	pending map[model.Kind]time.Time
}

// NewSubscriptionManager creates a manager for the given account scope.
// notifier may be nil, in which case only polling and foreground
// transitions trigger onChange.
func NewSubscriptionManager(notifier Notifier, scope string, clock Clock, logger Logger, opts SubscriptionOptions) *SubscriptionManager {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &SubscriptionManager{
		notifier: notifier,
		scope:    scope,
		clock:    clock,
		logger:   logger,
		window:   opts.DebounceWindow,
		poll:     opts.PollInterval,
		subs:     make(map[model.Kind]*subscription),
		active:   true,
		pending:  make(map[model.Kind]time.Time),
	}
}

// Subscribe registers onChange for kind, replacing any previous
// registration. onChange runs on the manager's goroutine and must not block.
func (m *SubscriptionManager) Subscribe(kind model.Kind, onChange func()) {
	sub := &subscription{onChange: onChange, lastFired: m.clock.Now()}
	if m.notifier != nil {
		ch, cancel := m.notifier.Watch(m.scope, kind)
		done := make(chan struct{})
		go m.forward(kind, ch, done)
		sub.stop = func() {
			cancel()
			close(done)
		}
	}

	m.mu.Lock()
	prev := m.subs[kind]
	m.subs[kind] = sub
	m.mu.Unlock()
	if prev != nil && prev.stop != nil {
		prev.stop()
	}
}

// Unsubscribe removes the registration for kind.
func (m *SubscriptionManager) Unsubscribe(kind model.Kind) {
	m.mu.Lock()
	sub := m.subs[kind]
	delete(m.subs, kind)
	m.mu.Unlock()
	if sub != nil && sub.stop != nil {
		sub.stop()
	}
}

func (m *SubscriptionManager) forward(kind model.Kind, ch <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			m.Trigger(kind)
		}
	}
}

// Trigger requests an onChange call for kind as if the remote had signaled.
func (m *SubscriptionManager) Trigger(kind model.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[kind]; !ok {
		m.pending[kind] = m.clock.Now()
	}
}

// SetActive records a foreground or background transition. Becoming active
// fires every subscribed kind; polling only runs while active.
func (m *SubscriptionManager) SetActive(active bool) {
	m.mu.Lock()
	was := m.active
	m.active = active
	var kinds []model.Kind
	if active && !was {
		for k := range m.subs {
			kinds = append(kinds, k)
		}
	}
	m.mu.Unlock()
	for _, k := range kinds {
		m.Trigger(k)
	}
}

// Run fires pending and silent kinds until ctx is done.
func (m *SubscriptionManager) Run(ctx context.Context) error {
	tick := m.window / 2
	if p := m.poll / 4; p < tick {
		tick = p
	}
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := m.clock.Now()
			for _, kind := range m.settled(now) {
				m.fire(kind, now)
			}
			for _, kind := range m.silent(now) {
				m.logger.Debug("no change notification within poll interval", "kind", kind.String())
				m.fire(kind, now)
			}
		}
	}
}

// settled removes and returns the pending kinds whose debounce window has
// passed.
func (m *SubscriptionManager) settled(now time.Time) []model.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []model.Kind
	for kind, first := range m.pending {
		if flushDue(1, now.Sub(first), m.window) {
			delete(m.pending, kind)
			due = append(due, kind)
		}
	}
	return due
}

// silent returns the kinds that have gone a full poll interval without
// firing, while the application is active.
func (m *SubscriptionManager) silent(now time.Time) []model.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	var due []model.Kind
	for kind, sub := range m.subs {
		if _, ok := m.pending[kind]; ok {
			continue
		}
		if now.Sub(sub.lastFired) >= m.poll {
			due = append(due, kind)
		}
	}
	return due
}

func (m *SubscriptionManager) fire(kind model.Kind, now time.Time) {
	m.mu.Lock()
	sub := m.subs[kind]
	if sub != nil {
		sub.lastFired = now
	}
	m.mu.Unlock()
	if sub != nil {
		sub.onChange()
	}
}
