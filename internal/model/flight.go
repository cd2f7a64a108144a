package model

import "time"

// FlightStatus is the lifecycle state of a flight.
type FlightStatus string

const (
	FlightScheduled FlightStatus = "scheduled"
	FlightBoarding  FlightStatus = "boarding"
	FlightDeparted  FlightStatus = "departed"
	FlightEnRoute   FlightStatus = "enRoute"
	FlightLanded    FlightStatus = "landed"
	FlightArrived   FlightStatus = "arrived"
	FlightDelayed   FlightStatus = "delayed"
	FlightCancelled FlightStatus = "cancelled"
	FlightDiverted  FlightStatus = "diverted"
	FlightUnknown   FlightStatus = "unknown"
)

func (s FlightStatus) valid() bool {
	switch s {
	case FlightScheduled, FlightBoarding, FlightDeparted, FlightEnRoute, FlightLanded,
		FlightArrived, FlightDelayed, FlightCancelled, FlightDiverted, FlightUnknown:
		return true
	}
	return false
}

// Source tags how a flight entered the system.
type Source string

const (
	SourceManual Source = "manual"
	SourceScan   Source = "scan" // boarding pass recognition
	SourceImport Source = "import"
)

// AirportStop is one end of a flight.
type AirportStop struct {
	Code        string      `json:"code"`
	Coordinate  *Coordinate `json:"coordinate,omitempty"`
	ScheduledAt *time.Time  `json:"scheduledAt,omitempty"`
	ActualAt    *time.Time  `json:"actualAt,omitempty"`
	Gate        string      `json:"gate,omitempty"`
	Terminal    string      `json:"terminal,omitempty"`
}

// Flight is a single flight segment saved by the user.
type Flight struct {
	FlightNumber string       `json:"flightNumber"`
	Airline      string       `json:"airline"`
	Departure    AirportStop  `json:"departure"`
	Arrival      AirportStop  `json:"arrival"`
	Status       FlightStatus `json:"status"`
	Source       Source       `json:"source"`
}

func (Flight) Kind() Kind { return KindFlight }

func (f Flight) Validate() error {
	if f.FlightNumber == "" {
		return invalid(KindFlight, "flight number is required")
	}
	for _, stop := range []AirportStop{f.Departure, f.Arrival} {
		if !airportCodePattern.MatchString(stop.Code) {
			return invalid(KindFlight, "airport code %q is not a 3-letter code", stop.Code)
		}
		if stop.Coordinate != nil && !stop.Coordinate.Valid() {
			return invalid(KindFlight, "coordinate for %s out of range", stop.Code)
		}
	}
	if !f.Status.valid() {
		return invalid(KindFlight, "unknown status %q", f.Status)
	}
	switch f.Source {
	case SourceManual, SourceScan, SourceImport:
	default:
		return invalid(KindFlight, "unknown source %q", f.Source)
	}
	return nil
}
