package model

import "time"

// Trip groups entries under a title and date range.
type Trip struct {
	Title      string      `json:"title"`
	StartsAt   *time.Time  `json:"startsAt,omitempty"`
	EndsAt     *time.Time  `json:"endsAt,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Notes      string      `json:"notes,omitempty"`
}

func (Trip) Kind() Kind { return KindTrip }

func (t Trip) Validate() error {
	if t.Title == "" {
		return invalid(KindTrip, "title is required")
	}
	if t.StartsAt != nil && t.EndsAt != nil && t.EndsAt.Before(*t.StartsAt) {
		return invalid(KindTrip, "trip ends before it starts")
	}
	if t.Coordinate != nil && !t.Coordinate.Valid() {
		return invalid(KindTrip, "coordinate out of range")
	}
	return nil
}

// TripEntry is a timeline item belonging to a trip.
type TripEntry struct {
	TripID     string      `json:"tripId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Content    string      `json:"content"`
}

func (TripEntry) Kind() Kind { return KindTripEntry }

func (e TripEntry) Validate() error {
	if e.TripID == "" {
		return invalid(KindTripEntry, "trip id is required")
	}
	if e.OccurredAt.IsZero() {
		return invalid(KindTripEntry, "occurredAt is required")
	}
	if e.Coordinate != nil && !e.Coordinate.Valid() {
		return invalid(KindTripEntry, "coordinate out of range")
	}
	return nil
}

// SearchHistory is one remembered search query.
type SearchHistory struct {
	Query      string    `json:"query"`
	SearchedAt time.Time `json:"searchedAt"`
}

func (SearchHistory) Kind() Kind { return KindSearchHistory }

func (s SearchHistory) Validate() error {
	if s.Query == "" {
		return invalid(KindSearchHistory, "query is required")
	}
	if s.SearchedAt.IsZero() {
		return invalid(KindSearchHistory, "searchedAt is required")
	}
	return nil
}
