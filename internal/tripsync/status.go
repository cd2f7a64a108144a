package tripsync

import (
	"sync"
	"time"
)

// SyncState is the coarse state shown by the status indicator.
type SyncState string

const (
	StateLocalOnly SyncState = "local-only"
	StateIdle      SyncState = "idle"
	StateSyncing   SyncState = "syncing"
	StateOffline   SyncState = "offline"
	StateSuspended SyncState = "suspended"
)

// Status is a point-in-time view of sync health. Sync failures are never
// surfaced as errors to callers; this is where they show up.
type Status struct {
	State      SyncState
	Pending    int
	LastError  string
	LastSyncAt time.Time
}

// StatusTracker aggregates engine events into a Status.
type StatusTracker struct {
	mu     sync.Mutex
	status Status
	active int
}

// NewStatusTracker returns a tracker starting in state.
func NewStatusTracker(state SyncState) *StatusTracker {
	return &StatusTracker{status: Status{State: state}}
}

// Status returns the current status.
func (t *StatusTracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *StatusTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	if t.status.State != StateSuspended && t.status.State != StateLocalOnly {
		t.status.State = StateSyncing
	}
}

// end records the outcome of an operation started with begin.
func (t *StatusTracker) end(now time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active > 0 {
		t.active--
	}
	if t.status.State == StateSuspended || t.status.State == StateLocalOnly {
		if err != nil {
			t.status.LastError = err.Error()
		}
		return
	}
	if err != nil {
		t.status.LastError = err.Error()
		switch ClassifyError(err) {
		case AuthExpired:
			t.status.State = StateSuspended
		case TransientNetwork, RateLimited:
			t.status.State = StateOffline
		default:
			t.settle()
		}
		return
	}
	t.status.LastSyncAt = now
	t.status.LastError = ""
	t.status.State = StateIdle
	t.settle()
}

func (t *StatusTracker) settle() {
	if t.active > 0 {
		t.status.State = StateSyncing
	} else if t.status.State == StateSyncing {
		t.status.State = StateIdle
	}
}

func (t *StatusTracker) setPending(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Pending = n
}

func (t *StatusTracker) setState(s SyncState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = s
}
