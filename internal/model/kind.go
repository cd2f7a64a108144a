package model

import "fmt"

// Kind identifies the entity type carried by a record.
type Kind string

const (
	KindFlight        Kind = "flight"
	KindTrip          Kind = "trip"
	KindTripEntry     Kind = "tripEntry"
	KindSearchHistory Kind = "searchHistory"
	KindCoordinate    Kind = "coordinate"
)

// AccountKinds are the kinds scoped to an owner account and synced between
// the account's devices. Coordinates are shared and not listed here.
var AccountKinds = []Kind{KindFlight, KindTrip, KindTripEntry, KindSearchHistory}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFlight, KindTrip, KindTripEntry, KindSearchHistory, KindCoordinate:
		return true
	}
	return false
}

// Shared reports whether records of this kind are visible to every account.
func (k Kind) Shared() bool {
	return k == KindCoordinate
}

func (k Kind) String() string { return string(k) }

// ParseKind converts a string into a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind: %q", s)
	}
	return k, nil
}
