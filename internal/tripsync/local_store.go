package tripsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"tripsync/internal/model"
)

// DefaultTombstoneRetention is how long a confirmed tombstone is kept locally.
const DefaultTombstoneRetention = 30 * 24 * time.Hour

// LocalStoreOptions tunes a LocalStore. Zero values select the defaults.
type LocalStoreOptions struct {
	DebounceWindow     time.Duration
	TombstoneRetention time.Duration
}

// LocalStore is the durable per-device copy of all account records.
//
// Every write is appended to the database journal before it returns, so a
// write is never lost to a crash. The journal is folded into one snapshot
// blob per kind by a debounced flush, which bounds the cost of rapid
// successive edits.
type LocalStore struct {
	db      Database
	clock   Clock
	logger  Logger
	metrics Metrics

	window    time.Duration
	retention time.Duration

	mu        sync.Mutex
	records   map[string]*Record
	pending   map[model.Kind]bool
	oldest    time.Time // time of the oldest write not yet in a snapshot
	lastSeq   int64
	corrupted []model.Kind

	flushMu sync.Mutex
}

// OpenLocalStore loads the snapshots and replays the journal held in db.
// A kind whose snapshot is corrupt starts empty and has its cursor cleared.
func OpenLocalStore(db Database, opts LocalStoreOptions, clock Clock, logger Logger, metrics Metrics) (*LocalStore, error) {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.TombstoneRetention <= 0 {
		opts.TombstoneRetention = DefaultTombstoneRetention
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	s := &LocalStore{
		db:        db,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		window:    opts.DebounceWindow,
		retention: opts.TombstoneRetention,
		records:   make(map[string]*Record),
		pending:   make(map[model.Kind]bool),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) load() error {
	for _, kind := range model.AccountKinds {
		data, checksum, found, err := s.db.LoadSnapshot(kind)
		if err != nil {
			return fmt.Errorf("loading %s snapshot: %w", kind, err)
		}
		if !found {
			continue
		}
		recs, err := decodeSnapshot(kind, data, checksum)
		if err != nil {
			s.logger.Error("corrupt local snapshot, resetting kind", "kind", kind.String(), "error", err)
			if err := s.db.ResetKind(kind); err != nil {
				return fmt.Errorf("resetting %s: %w", kind, err)
			}
			s.corrupted = append(s.corrupted, kind)
			continue
		}
		for _, r := range recs {
			s.records[r.ID] = r
		}
	}

	entries, err := s.db.LoadJournal()
	if err != nil {
		return fmt.Errorf("loading journal: %w", err)
	}
	for _, e := range entries {
		var r Record
		if err := json.Unmarshal(e.Data, &r); err != nil || r.ID == "" || r.Kind != e.Kind {
			s.logger.Error("skipping corrupt journal entry", "seq", e.Seq, "kind", e.Kind.String(), "error", err)
			continue
		}
		s.records[r.ID] = &r
		s.pending[r.Kind] = true
		if e.Seq > s.lastSeq {
			s.lastSeq = e.Seq
		}
	}
	if len(entries) > 0 {
		// Replayed entries are folded into snapshots on the next flush.
		s.oldest = s.clock.Now().Add(-s.window)
	}
	if err := s.requeueDirty(); err != nil {
		return err
	}
	s.logger.Debug("local store loaded", "records", len(s.records), "journal", len(entries))
	return nil
}

// requeueDirty queues a push for every unpushed local write whose queue
// entry is missing.
func (s *LocalStore) requeueDirty() error {
	now := s.clock.Now()
	for _, r := range s.records {
		if !r.Dirty || r.Rejected {
			continue
		}
		if err := s.db.EnsurePush(r.Kind, r.ID, now); err != nil {
			return fmt.Errorf("requeueing %s: %w", r.ID, err)
		}
	}
	return nil
}

func decodeSnapshot(kind model.Kind, data []byte, checksum string) ([]*Record, error) {
	if snapshotChecksum(data) != checksum {
		return nil, fmt.Errorf("checksum mismatch")
	}
	var recs []*Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	for _, r := range recs {
		if r == nil || r.ID == "" || r.Kind != kind {
			return nil, fmt.Errorf("snapshot holds a foreign record")
		}
	}
	return recs, nil
}

func snapshotChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CorruptedKinds returns the kinds reset while loading.
func (s *LocalStore) CorruptedKinds() []model.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Kind(nil), s.corrupted...)
}

// Put durably stores rec, replacing any previous version with the same ID.
// A dirty record is queued for push in the same transaction.
func (s *LocalStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(rec)
}

func (s *LocalStore) putLocked(rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if !rec.Kind.Valid() || rec.Kind.Shared() {
		return fmt.Errorf("record %s: kind %q is not stored locally", rec.ID, rec.Kind)
	}
	if cur, ok := s.records[rec.ID]; ok && cur.Kind != rec.Kind {
		return fmt.Errorf("record %s: id already used by kind %s", rec.ID, cur.Kind)
	}
	c := rec.Clone()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}
	now := s.clock.Now()
	seq, err := s.db.AppendJournal(c.Kind, c.ID, data, c.Dirty, now)
	if err != nil {
		return fmt.Errorf("journaling record %s: %w", rec.ID, err)
	}
	s.records[c.ID] = c
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
	if len(s.pending) == 0 {
		s.oldest = now
	}
	s.pending[c.Kind] = true
	return nil
}

// Get returns a copy of the record with the given ID, or nil.
func (s *LocalStore) Get(id string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Clone()
}

// All returns copies of every record of kind, including tombstones, ordered
// by ModifiedAt then ID. Confirmed tombstones past the retention window are
// excluded.
func (s *LocalStore) All(kind model.Kind) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var out []*Record
	for _, r := range s.records {
		if r.Kind != kind || s.expired(r, now) {
			continue
		}
		out = append(out, r.Clone())
	}
	sortRecords(out)
	return out
}

func (s *LocalStore) expired(r *Record, now time.Time) bool {
	return r.Deleted && r.Confirmed && now.Sub(r.ModifiedAt) > s.retention
}

func sortRecords(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].ModifiedAt.Equal(recs[j].ModifiedAt) {
			return recs[i].ModifiedAt.Before(recs[j].ModifiedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

// Delete replaces the record with a dirty tombstone and returns it.
// Deleting a tombstone is a no-op.
func (s *LocalStore) Delete(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Deleted {
		return cur.Clone(), nil
	}
	tomb := &Record{
		ID:             cur.ID,
		Kind:           cur.Kind,
		ModifiedAt:     nextModifiedAt(s.clock.Now(), cur),
		OwnerAccountID: cur.OwnerAccountID,
		Deleted:        true,
		Dirty:          true,
	}
	if err := s.putLocked(tomb); err != nil {
		return nil, err
	}
	return tomb.Clone(), nil
}

// nextModifiedAt returns now, or the smallest instant after cur's
// modification time when the clock has not moved past it.
func nextModifiedAt(now time.Time, cur *Record) time.Time {
	if cur != nil && !now.After(cur.ModifiedAt) {
		return cur.ModifiedAt.Add(time.Nanosecond)
	}
	return now
}

// Apply runs fn with a copy of the current record for id (nil when absent)
// and stores every record fn returns, atomically with respect to other
// writers. fn must not call back into the store.
func (s *LocalStore) Apply(id string, fn func(cur *Record) ([]*Record, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := fn(s.records[id].Clone())
	if err != nil {
		return err
	}
	for _, r := range out {
		if err := s.putLocked(r); err != nil {
			return err
		}
	}
	return nil
}

// MarkPushed records that the remote acknowledged pushed. It reports whether
// the local record changed since pushed was taken and still needs a push.
func (s *LocalStore) MarkPushed(pushed *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[pushed.ID]
	if !ok {
		return false, nil
	}
	if !SameVersion(cur, pushed) {
		return cur.Dirty, nil
	}
	if !cur.Dirty && !cur.Rejected && cur.Confirmed == cur.Deleted {
		return false, nil
	}
	c := cur.Clone()
	c.Dirty = false
	c.Rejected = false
	c.Confirmed = c.Deleted
	return false, s.putLocked(c)
}

// MarkRejected flags a record the remote permanently refused. The record
// stays in the store so its state can be diagnosed.
func (s *LocalStore) MarkRejected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok || cur.Rejected {
		return nil
	}
	c := cur.Clone()
	c.Rejected = true
	c.Dirty = false
	return s.putLocked(c)
}

// Cursor returns the persisted pull cursor for kind.
func (s *LocalStore) Cursor(kind model.Kind) (Cursor, error) {
	return s.db.GetCursor(kind)
}

// SetCursor persists the pull cursor for kind.
func (s *LocalStore) SetCursor(kind model.Kind, cursor Cursor) error {
	return s.db.SetCursor(kind, cursor)
}

// FlushIfDue flushes when the debounce window has elapsed since the oldest
// write that is not yet in a snapshot. It reports whether a flush ran.
func (s *LocalStore) FlushIfDue(now time.Time) (bool, error) {
	s.mu.Lock()
	due := flushDue(len(s.pending), now.Sub(s.oldest), s.window)
	s.mu.Unlock()
	if !due {
		return false, nil
	}
	return true, s.Flush()
}

// Flush rewrites the snapshot of every kind written since the last flush
// and compacts the journal. Confirmed tombstones past retention are purged.
func (s *LocalStore) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	now := s.clock.Now()
	for id, r := range s.records {
		if s.expired(r, now) {
			delete(s.records, id)
			s.pending[r.Kind] = true
		}
	}
	kinds := make([]model.Kind, 0, len(s.pending))
	for k := range s.pending {
		kinds = append(kinds, k)
	}
	byKind := make(map[model.Kind][]*Record, len(kinds))
	for _, r := range s.records {
		if s.pending[r.Kind] {
			byKind[r.Kind] = append(byKind[r.Kind], r.Clone())
		}
	}
	through := s.lastSeq
	s.pending = make(map[model.Kind]bool)
	s.mu.Unlock()

	var firstErr error
	for _, kind := range kinds {
		recs := byKind[kind]
		sortRecords(recs)
		if recs == nil {
			recs = []*Record{}
		}
		data, err := json.Marshal(recs)
		if err == nil {
			err = s.db.SaveSnapshot(kind, data, snapshotChecksum(data), through)
		}
		if err != nil {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.oldest = now
			}
			s.pending[kind] = true
			s.mu.Unlock()
			if firstErr == nil {
				firstErr = fmt.Errorf("saving %s snapshot: %w", kind, err)
			}
			continue
		}
		s.metrics.LocalFlush(kind, len(recs))
		s.logger.Debug("snapshot flushed", "kind", kind.String(), "records", len(recs))
	}
	return firstErr
}

// Run flushes on the debounce schedule until ctx is done, then flushes
// whatever is still pending.
func (s *LocalStore) Run(ctx context.Context) error {
	interval := s.window / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				s.logger.Error("final flush failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.FlushIfDue(s.clock.Now()); err != nil {
				s.logger.Error("flush failed", "error", err)
			}
		}
	}
}
