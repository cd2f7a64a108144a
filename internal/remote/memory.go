package remote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

type recordKey struct {
	scope string
	kind  model.Kind
	id    string
}

type watchKey struct {
	scope string
	kind  model.Kind
}

type memoryEntry struct {
	rec *tripsync.Record
	seq int64
}

// MemoryStore is an in-memory implementation of tripsync.RemoteStore and
// tripsync.Notifier. Cursors are store-wide sequence numbers. It carries
// hooks for simulating outages in tests.
type MemoryStore struct {
	mu       sync.Mutex
	seq      int64
	records  map[recordKey]*memoryEntry
	watchers map[watchKey]map[int]chan struct{}
	nextW    int

	offline   bool
	failures  []error
	puts      int
	minCursor int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[recordKey]*memoryEntry),
		watchers: make(map[watchKey]map[int]chan struct{}),
	}
}

// SetOffline makes every call fail with a transient network error.
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailNext makes the next call fail with err.
func (m *MemoryStore) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

// PutCount returns the number of successful puts.
func (m *MemoryStore) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// ExpireCursors invalidates every cursor handed out so far.
func (m *MemoryStore) ExpireCursors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minCursor = m.seq + 1
}

func (m *MemoryStore) failure(op string) error {
	if m.offline {
		return tripsync.NewSyncError(tripsync.TransientNetwork, op, fmt.Errorf("remote unreachable"))
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	return nil
}

func (m *MemoryStore) Put(ctx context.Context, scope string, rec *tripsync.Record) (tripsync.Ack, error) {
	if err := ctx.Err(); err != nil {
		return tripsync.Ack{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("put"); err != nil {
		return tripsync.Ack{}, err
	}
	if err := checkPut(scope, rec); err != nil {
		return tripsync.Ack{}, err
	}

	m.seq++
	m.records[recordKey{scope, rec.Kind, rec.ID}] = &memoryEntry{rec: rec.ForRemote(), seq: m.seq}
	m.puts++
	for _, ch := range m.watchers[watchKey{scope, rec.Kind}] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return tripsync.Ack{ID: rec.ID, Kind: rec.Kind, StoredAt: time.Now()}, nil
}

func (m *MemoryStore) Get(ctx context.Context, scope string, kind model.Kind, id string) (*tripsync.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("get"); err != nil {
		return nil, err
	}
	e, ok := m.records[recordKey{scope, kind, id}]
	if !ok {
		return nil, nil
	}
	return e.rec.Clone(), nil
}

func (m *MemoryStore) Fetch(ctx context.Context, scope string, kind model.Kind, cursor tripsync.Cursor, limit int) (*tripsync.ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("fetch"); err != nil {
		return nil, err
	}

	var after int64
	if cursor != "" {
		v, err := strconv.ParseInt(string(cursor), 10, 64)
		if err != nil || v < m.minCursor {
			return nil, tripsync.ErrCursorExpired
		}
		after = v
	}

	var entries []*memoryEntry
	for k, e := range m.records {
		if k.scope == scope && k.kind == kind && e.seq > after {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	cs := &tripsync.ChangeSet{Cursor: cursor}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
		cs.More = true
	}
	for _, e := range entries {
		cs.Records = append(cs.Records, e.rec.Clone())
		cs.Cursor = tripsync.Cursor(strconv.FormatInt(e.seq, 10))
	}
	if cs.Cursor == "" {
		cs.Cursor = tripsync.Cursor(strconv.FormatInt(m.seq, 10))
	}
	return cs, nil
}

func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure("validate")
}

// Watch signals on the returned channel after every put to (scope, kind).
func (m *MemoryStore) Watch(scope string, kind model.Kind) (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := watchKey{scope, kind}
	if m.watchers[k] == nil {
		m.watchers[k] = make(map[int]chan struct{})
	}
	id := m.nextW
	m.nextW++
	ch := make(chan struct{}, 1)
	m.watchers[k][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.watchers[k], id)
		})
	}
}

var (
	_ tripsync.RemoteStore = (*MemoryStore)(nil)
	_ tripsync.Notifier    = (*MemoryStore)(nil)
)
