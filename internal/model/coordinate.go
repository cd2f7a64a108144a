package model

import (
	"regexp"
	"strings"
)

var airportCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Coordinate is a WGS84 position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// CoordinateRecord is the shared, append-only coordinate for an airport code.
type CoordinateRecord struct {
	Code       string  `json:"code"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Provenance string  `json:"provenance"` // provider that resolved it, e.g. "static", "geocoder"
}

func (CoordinateRecord) Kind() Kind { return KindCoordinate }

func (c CoordinateRecord) Validate() error {
	if !airportCodePattern.MatchString(c.Code) {
		return invalid(KindCoordinate, "code %q is not a 3-letter airport code", c.Code)
	}
	if !c.Coordinate().Valid() {
		return invalid(KindCoordinate, "coordinate out of range: %f,%f", c.Latitude, c.Longitude)
	}
	if c.Provenance == "" {
		return invalid(KindCoordinate, "provenance is required")
	}
	return nil
}

// Coordinate returns the position of the record.
func (c CoordinateRecord) Coordinate() Coordinate {
	return Coordinate{Latitude: c.Latitude, Longitude: c.Longitude}
}

// NormalizeAirportCode upper-cases code and reports whether it is a valid
// 3-letter airport code.
func NormalizeAirportCode(code string) (string, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	return c, airportCodePattern.MatchString(c)
}
