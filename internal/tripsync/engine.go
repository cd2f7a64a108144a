package tripsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tripsync/internal/model"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	defaultPageSize       = 100
	defaultBatchSize      = 50
	idleWait              = time.Minute
	minWait               = 50 * time.Millisecond
)

// EngineOptions tunes a SyncEngine. Zero values select the defaults.
type EngineOptions struct {
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	NetworkTimeout time.Duration
	PageSize       int
	BatchSize      int
	Grace          time.Duration
}

// EngineDeps are the collaborators of a SyncEngine.
type EngineDeps struct {
	Local   *LocalStore
	Outbox  Outbox
	Remote  RemoteStore
	Cipher  PayloadCipher // nil leaves payloads in the clear
	Status  *StatusTracker
	Clock   Clock
	Jitter  Jitter
	Logger  Logger
	Metrics Metrics
}

// SyncEngine pushes local changes to the remote record store and pulls
// remote changes into the LocalStore for one account.
//
// Pulls of one kind are serialized; pushes are drained from the durable
// outbox with exponential backoff. Remote failures never reach callers of
// the local API: they are retried, and reported through the StatusTracker.
type SyncEngine struct {
	account  string
	local    *LocalStore
	outbox   Outbox
	remote   RemoteStore
	cipher   PayloadCipher
	resolver *ConflictResolver
	status   *StatusTracker
	clock    Clock
	jitter   Jitter
	logger   Logger
	metrics  Metrics
	opts     EngineOptions

	locks     map[model.Kind]chan struct{}
	suspended atomic.Bool
	wake      chan struct{}
}

// NewSyncEngine creates an engine syncing the records of account.
func NewSyncEngine(account string, deps EngineDeps, opts EngineOptions) *SyncEngine {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.NetworkTimeout <= 0 {
		opts.NetworkTimeout = DefaultNetworkTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if deps.Status == nil {
		deps.Status = NewStatusTracker(StateIdle)
	}
	if deps.Jitter == nil {
		deps.Jitter = RandomJitter
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	locks := make(map[model.Kind]chan struct{})
	for _, k := range model.AccountKinds {
		locks[k] = make(chan struct{}, 1)
	}
	return &SyncEngine{
		account:  account,
		local:    deps.Local,
		outbox:   deps.Outbox,
		remote:   deps.Remote,
		cipher:   deps.Cipher,
		resolver: NewConflictResolver(opts.Grace),
		status:   deps.Status,
		clock:    deps.Clock,
		jitter:   deps.Jitter,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		opts:     opts,
		locks:    locks,
		wake:     make(chan struct{}, 1),
	}
}

// Status returns the tracker the engine reports to.
func (e *SyncEngine) Status() *StatusTracker { return e.status }

// Suspended reports whether sync is waiting for re-authentication.
func (e *SyncEngine) Suspended() bool { return e.suspended.Load() }

// Resume lifts a suspension after the account re-authenticated.
func (e *SyncEngine) Resume() {
	if e.suspended.CompareAndSwap(true, false) {
		e.logger.Info("sync resumed")
		e.status.setState(StateIdle)
		e.Notify()
	}
}

func (e *SyncEngine) suspend(err error) {
	if e.suspended.CompareAndSwap(false, true) {
		e.logger.Warn("sync suspended until re-authentication", "error", err)
		e.status.setState(StateSuspended)
	}
}

// Notify wakes the push worker. It never blocks.
func (e *SyncEngine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *SyncEngine) lock(ctx context.Context, kind model.Kind) (func(), error) {
	ch, ok := e.locks[kind]
	if !ok {
		return nil, fmt.Errorf("kind %q is not synced per account", kind)
	}
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classify wraps an unclassified error from a remote call. Context expiry
// of the network timeout counts as a transient network failure.
func classify(op string, err error) error {
	var se *SyncError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrCursorExpired) {
		return err
	}
	return NewSyncError(TransientNetwork, op, err)
}

// Push sends one record to the remote store. Account payloads are sealed
// with the configured cipher first.
func (e *SyncEngine) Push(ctx context.Context, rec *Record) (Ack, error) {
	if e.suspended.Load() {
		return Ack{}, ErrSuspended
	}
	out := rec.ForRemote()
	if !out.Kind.Shared() {
		out.OwnerAccountID = e.account
		if e.cipher != nil && !out.Deleted {
			sealed, err := e.cipher.Seal(out.Payload)
			if err != nil {
				return Ack{}, NewSyncError(LocalCorruption, "push", err)
			}
			out.Payload = sealed
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.NetworkTimeout)
	defer cancel()
	ack, err := e.remote.Put(ctx, e.scope(out.Kind), out)
	if err != nil {
		err = classify("push", err)
		e.metrics.PushCompleted(rec.Kind, ClassifyError(err).String())
		if ClassifyError(err) == AuthExpired {
			e.suspend(err)
		}
		return Ack{}, err
	}
	e.metrics.PushCompleted(rec.Kind, "ok")
	return ack, nil
}

func (e *SyncEngine) scope(kind model.Kind) string {
	if kind.Shared() {
		return SharedScope
	}
	return e.account
}

// Pull fetches one page of changes to kind since cursor. Records that fail
// validation or belong to another account are dropped.
func (e *SyncEngine) Pull(ctx context.Context, kind model.Kind, cursor Cursor) (*ChangeSet, error) {
	unlock, err := e.lock(ctx, kind)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.pull(ctx, kind, cursor)
}

func (e *SyncEngine) pull(ctx context.Context, kind model.Kind, cursor Cursor) (*ChangeSet, error) {
	if e.suspended.Load() {
		return nil, ErrSuspended
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.NetworkTimeout)
	defer cancel()
	cs, err := e.remote.Fetch(ctx, e.scope(kind), kind, cursor, e.opts.PageSize)
	if err != nil {
		err = classify("pull", err)
		if errors.Is(err, ErrCursorExpired) {
			e.metrics.PullCompleted(kind, "cursor-expired", 0)
			return nil, err
		}
		e.metrics.PullCompleted(kind, ClassifyError(err).String(), 0)
		if ClassifyError(err) == AuthExpired {
			e.suspend(err)
		}
		return nil, err
	}

	out := &ChangeSet{Cursor: cs.Cursor, More: cs.More}
	for _, rec := range cs.Records {
		r, err := e.accept(kind, rec)
		if err != nil {
			e.logger.Warn("dropping remote record", "kind", kind.String(), "id", rec.ID, "error", err)
			continue
		}
		out.Records = append(out.Records, r)
	}
	e.metrics.PullCompleted(kind, "ok", len(out.Records))
	return out, nil
}

// accept validates a pulled record and opens its payload.
func (e *SyncEngine) accept(kind model.Kind, rec *Record) (*Record, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("record without id")
	}
	if rec.Kind != kind {
		return nil, fmt.Errorf("kind %q in %s feed", rec.Kind, kind)
	}
	if !kind.Shared() && rec.OwnerAccountID != e.account {
		return nil, fmt.Errorf("record owned by another account")
	}
	r := rec.ForRemote()
	if r.Deleted {
		r.Payload = nil
		return r, nil
	}
	if e.cipher != nil && !kind.Shared() {
		plain, err := e.cipher.Open(r.Payload)
		if err != nil {
			return nil, err
		}
		r.Payload = plain
	}
	if err := model.ValidateRaw(kind, r.Payload); err != nil {
		return nil, err
	}
	return r, nil
}

// SyncKind pulls every change to kind since the persisted cursor and merges
// it into the LocalStore. An expired cursor triggers a full re-pull.
func (e *SyncEngine) SyncKind(ctx context.Context, kind model.Kind) error {
	unlock, err := e.lock(ctx, kind)
	if err != nil {
		return err
	}
	defer unlock()

	e.status.begin()
	err = e.syncKind(ctx, kind)
	e.status.end(e.clock.Now(), err)
	return err
}

func (e *SyncEngine) syncKind(ctx context.Context, kind model.Kind) error {
	cursor, err := e.local.Cursor(kind)
	if err != nil {
		return fmt.Errorf("loading %s cursor: %w", kind, err)
	}
	restarted := false
	applied := 0
	for {
		cs, err := e.pull(ctx, kind, cursor)
		if errors.Is(err, ErrCursorExpired) && !restarted {
			e.logger.Info("cursor expired, re-pulling kind", "kind", kind.String())
			restarted = true
			cursor = ""
			if err := e.local.SetCursor(kind, ""); err != nil {
				return fmt.Errorf("resetting %s cursor: %w", kind, err)
			}
			continue
		}
		if err != nil {
			return err
		}
		for _, rec := range cs.Records {
			if err := e.applyRemote(rec); err != nil {
				return fmt.Errorf("applying %s %s: %w", kind, rec.ID, err)
			}
			applied++
		}
		if cs.Cursor != cursor {
			if err := e.local.SetCursor(kind, cs.Cursor); err != nil {
				return fmt.Errorf("saving %s cursor: %w", kind, err)
			}
			cursor = cs.Cursor
		}
		if !cs.More {
			break
		}
	}
	if applied > 0 {
		e.logger.Debug("kind synced", "kind", kind.String(), "changes", applied)
		e.Notify()
	}
	return nil
}

// applyRemote merges one pulled record into the LocalStore. Applying the
// same record twice is a no-op.
func (e *SyncEngine) applyRemote(remote *Record) error {
	var outcome string
	err := e.local.Apply(remote.ID, func(cur *Record) ([]*Record, error) {
		if cur == nil {
			outcome = OutcomeRemoteWins
			return []*Record{accepted(remote)}, nil
		}
		res := e.resolver.Merge(cur, remote)
		outcome = res.Outcome
		var out []*Record
		if !unchanged(cur, res.Record) {
			out = append(out, res.Record)
		}
		if res.Resurrected != nil {
			e.logger.Info("edit raced deletion, resurrecting", "kind", remote.Kind.String(), "id", remote.ID, "new_id", res.Resurrected.ID)
			out = append(out, res.Resurrected)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	e.metrics.RecordMerged(remote.Kind, outcome)
	return nil
}

func unchanged(cur, next *Record) bool {
	return SameVersion(cur, next) &&
		cur.Dirty == next.Dirty &&
		cur.Confirmed == next.Confirmed &&
		cur.Rejected == next.Rejected
}

// DrainOutbox pushes every queued record that is due. It returns the number
// of records pushed.
func (e *SyncEngine) DrainOutbox(ctx context.Context) (int, error) {
	if e.suspended.Load() {
		return 0, ErrSuspended
	}
	e.status.begin()
	total := 0
	var err, retryErr error
	for {
		var n int
		n, err = e.outbox.ProcessDue(e.clock.Now(), e.opts.BatchSize, func(p PendingPush) PushResult {
			res := e.pushOne(ctx, p)
			if res.Outcome == PushRetry && res.Err != nil {
				retryErr = res.Err
			}
			return res
		})
		total += n
		if err != nil || n == 0 {
			break
		}
	}
	if count, cerr := e.outbox.Count(); cerr == nil {
		e.status.setPending(count)
		e.metrics.OutboxDepth(count)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	// Retried pushes stay queued, but the status shows why.
	reported := err
	if reported == nil {
		reported = retryErr
	}
	e.status.end(e.clock.Now(), reported)
	return total, err
}

func (e *SyncEngine) pushOne(ctx context.Context, p PendingPush) PushResult {
	if ctx.Err() != nil {
		return PushResult{Outcome: PushHalt, Err: ctx.Err()}
	}
	rec := e.local.Get(p.RecordID)
	if rec == nil {
		return PushResult{Outcome: PushDrop}
	}
	if !rec.Dirty {
		return PushResult{Outcome: PushDone}
	}

	_, err := e.Push(ctx, rec)
	if err == nil {
		again, err := e.local.MarkPushed(rec)
		if err != nil {
			return PushResult{Outcome: PushRetry, RetryAt: e.clock.Now(), Err: err}
		}
		if again {
			return PushResult{Outcome: PushRetry, RetryAt: e.clock.Now()}
		}
		return PushResult{Outcome: PushDone}
	}

	if errors.Is(err, ErrSuspended) {
		return PushResult{Outcome: PushHalt, Err: err}
	}
	now := e.clock.Now()
	switch ClassifyError(err) {
	case AuthExpired:
		return PushResult{Outcome: PushHalt, Err: err}
	case RateLimited:
		wait := Backoff(p.Attempts, rateLimitFactor*e.opts.BackoffBase, e.opts.BackoffMax*rateLimitFactor, e.jitter)
		e.logger.Debug("push rate limited", "id", p.RecordID, "retry_in", wait)
		return PushResult{Outcome: PushRetry, RetryAt: now.Add(wait), Err: err}
	case PermanentRejection, LocalCorruption:
		e.logger.Error("push rejected, flagging record", "kind", rec.Kind.String(), "id", rec.ID, "error", err)
		if ferr := e.local.MarkRejected(rec.ID); ferr != nil {
			e.logger.Error("flagging rejected record", "id", rec.ID, "error", ferr)
		}
		return PushResult{Outcome: PushDrop, Err: err}
	default:
		wait := Backoff(p.Attempts, e.opts.BackoffBase, e.opts.BackoffMax, e.jitter)
		e.logger.Debug("push failed, retrying", "id", p.RecordID, "retry_in", wait, "error", err)
		return PushResult{Outcome: PushRetry, RetryAt: now.Add(wait), Err: err}
	}
}

// SyncAll drains the outbox and syncs every account kind once.
func (e *SyncEngine) SyncAll(ctx context.Context) error {
	if _, err := e.DrainOutbox(ctx); err != nil {
		return err
	}
	for _, kind := range model.AccountKinds {
		if err := e.SyncKind(ctx, kind); err != nil {
			return err
		}
	}
	_, err := e.DrainOutbox(ctx)
	return err
}

// Run drains the outbox whenever it is notified or a retry comes due,
// until ctx is done.
func (e *SyncEngine) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
		case <-timer.C:
		}

		if !e.suspended.Load() {
			if _, err := e.DrainOutbox(ctx); err != nil && !errors.Is(err, ErrSuspended) {
				e.logger.Debug("outbox drain stopped", "error", err)
			}
		}

		wait := idleWait
		if !e.suspended.Load() {
			wait = e.nextWait()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}

// nextWait returns the time until the earliest queued retry, clamped to
// [minWait, idleWait].
func (e *SyncEngine) nextWait() time.Duration {
	next, ok, err := e.outbox.NextDue()
	if err != nil {
		e.logger.Error("reading outbox schedule", "error", err)
		return idleWait
	}
	if !ok {
		return idleWait
	}
	wait := next.Sub(e.clock.Now())
	if wait < minWait {
		wait = minWait
	}
	if wait > idleWait {
		wait = idleWait
	}
	return wait
}
