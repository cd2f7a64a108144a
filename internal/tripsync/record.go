package tripsync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"tripsync/internal/model"
)

// SharedScope is the remote scope holding records visible to every account.
const SharedScope = "shared"

// coordinateNamespace derives stable record IDs for shared coordinates so
// that every device publishing the same airport code addresses one record.
var coordinateNamespace = uuid.MustParse("6f1c9a52-0d4e-4c8b-9a57-3b2f1e7d5c10")

// Record is the versioned envelope synchronized between devices.
// Records are immutable by replacement: callers clone before modifying.
type Record struct {
	ID             string     `json:"id"`
	Kind           model.Kind `json:"kind"`
	Payload        []byte     `json:"payload,omitempty"`
	ModifiedAt     time.Time  `json:"modifiedAt"`
	OwnerAccountID string     `json:"ownerAccountId,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`

	// Local bookkeeping. Cleared by ForRemote before a record leaves the device.
	Dirty     bool `json:"dirty,omitempty"`     // has changes not yet acknowledged by the remote
	Confirmed bool `json:"confirmed,omitempty"` // tombstone acknowledged by the remote
	Rejected  bool `json:"rejected,omitempty"`  // remote permanently rejected the last push
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	return &c
}

// ForRemote returns a copy of r stripped of local bookkeeping.
func (r *Record) ForRemote() *Record {
	c := r.Clone()
	c.Dirty = false
	c.Confirmed = false
	c.Rejected = false
	return c
}

// Checksum hashes the replicated content of the record (payload and
// deletion state). Local bookkeeping and ModifiedAt are excluded.
func (r *Record) Checksum() string {
	h := sha256.New()
	h.Write(r.Payload)
	if r.Deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SameVersion reports whether a and b carry the same replicated version.
func SameVersion(a, b *Record) bool {
	return a.ID == b.ID &&
		a.Kind == b.Kind &&
		a.Deleted == b.Deleted &&
		a.ModifiedAt.Equal(b.ModifiedAt) &&
		bytes.Equal(a.Payload, b.Payload)
}

// CoordinateRecordID returns the record ID used for the shared coordinate of
// an airport code.
func CoordinateRecordID(code string) string {
	return uuid.NewSHA1(coordinateNamespace, []byte(code)).String()
}

// Cursor is an opaque token marking progress through a remote change feed.
// The zero value requests a full fetch.
type Cursor string

// ChangeSet is one page of remote changes for a kind.
type ChangeSet struct {
	Records []*Record
	Cursor  Cursor
	More    bool // another page is immediately available
}

// Ack acknowledges a stored push.
type Ack struct {
	ID       string
	Kind     model.Kind
	StoredAt time.Time
}
