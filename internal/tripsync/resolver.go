package tripsync

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultDeletionGrace is how long after a deletion a racing edit still
// resurrects the record instead of being discarded.
const DefaultDeletionGrace = 5 * time.Second

// resurrectionNamespace derives the ID of a resurrected record from the
// original ID and the edit time, so every device computes the same ID.
var resurrectionNamespace = uuid.MustParse("2b8e4f60-7c1a-4d35-b0e9-5a6c3d8f1e24")

// Merge outcomes, reported to metrics and logs.
const (
	OutcomeIdentical   = "identical"
	OutcomeRemoteWins  = "remote-wins"
	OutcomeLocalWins   = "local-wins"
	OutcomeDeleted     = "deleted"
	OutcomeKeepDeleted = "keep-deleted"
	OutcomeResurrected = "resurrected"
)

// Resolution is the result of merging a local and a remote version.
type Resolution struct {
	// Record is the version to store locally.
	Record *Record
	// Repush is set when the remote is stale and Record must be pushed.
	Repush bool
	// Resurrected carries an edit that raced a deletion, re-created under a
	// new ID. Nil otherwise.
	Resurrected *Record
	Outcome     string
}

// ConflictResolver merges divergent versions of one record. Merge is pure:
// the same inputs produce the same result on every device.
//
// Policy: the remote version wins when it is strictly newer; otherwise the
// local version is kept and re-pushed. Deletion is terminal: a tombstone
// always beats a live version, but a live edit made after the deletion and
// within Grace of it is resurrected as a new record. Records merge whole;
// fields are never combined.
type ConflictResolver struct {
	Grace time.Duration
}

// NewConflictResolver returns a resolver with the given grace window.
func NewConflictResolver(grace time.Duration) *ConflictResolver {
	if grace <= 0 {
		grace = DefaultDeletionGrace
	}
	return &ConflictResolver{Grace: grace}
}

// Merge reconciles local and remote versions of the same record.
func (c *ConflictResolver) Merge(local, remote *Record) Resolution {
	if SameVersion(local, remote) {
		return Resolution{Record: accepted(remote), Outcome: OutcomeIdentical}
	}

	switch {
	case remote.Deleted && local.Deleted:
		if newer(remote, local) {
			return Resolution{Record: accepted(remote), Outcome: OutcomeRemoteWins}
		}
		return keepLocal(local, OutcomeLocalWins)

	case remote.Deleted:
		res := Resolution{Record: accepted(remote), Outcome: OutcomeDeleted}
		if c.raced(local, remote) {
			res.Resurrected = resurrect(local)
			res.Outcome = OutcomeResurrected
		}
		return res

	case local.Deleted:
		res := keepLocal(local, OutcomeKeepDeleted)
		if c.raced(remote, local) {
			res.Resurrected = resurrect(remote)
			res.Outcome = OutcomeResurrected
		}
		return res
	}

	if newer(remote, local) {
		return Resolution{Record: accepted(remote), Outcome: OutcomeRemoteWins}
	}
	return keepLocal(local, OutcomeLocalWins)
}

// raced reports whether the live edit was made after the tombstone and
// within the grace window of it.
func (c *ConflictResolver) raced(live, tomb *Record) bool {
	d := live.ModifiedAt.Sub(tomb.ModifiedAt)
	return d > 0 && d <= c.Grace
}

// newer orders versions by ModifiedAt, breaking ties by content checksum.
func newer(a, b *Record) bool {
	if !a.ModifiedAt.Equal(b.ModifiedAt) {
		return a.ModifiedAt.After(b.ModifiedAt)
	}
	return a.Checksum() > b.Checksum()
}

func accepted(remote *Record) *Record {
	r := remote.ForRemote()
	r.Confirmed = r.Deleted
	return r
}

func keepLocal(local *Record, outcome string) Resolution {
	r := local.Clone()
	r.Dirty = true
	r.Confirmed = false
	return Resolution{Record: r, Repush: true, Outcome: outcome}
}

func resurrect(live *Record) *Record {
	r := live.ForRemote()
	r.ID = ResurrectedID(live.ID, live.ModifiedAt)
	r.Dirty = true
	return r
}

// ResurrectedID returns the ID given to an edit of id made at modifiedAt
// that raced a deletion.
func ResurrectedID(id string, modifiedAt time.Time) string {
	name := id + "@" + strconv.FormatInt(modifiedAt.UnixNano(), 10)
	return uuid.NewSHA1(resurrectionNamespace, []byte(name)).String()
}
