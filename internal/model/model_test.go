package model

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeAirportCode(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"nrt", "NRT", true},
		{"  hnd ", "HND", true},
		{"JF", "JF", false},
		{"J1K", "J1K", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeAirportCode(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizeAirportCode(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFlight_Validate(t *testing.T) {
	valid := Flight{
		FlightNumber: "NH7",
		Departure:    AirportStop{Code: "NRT"},
		Arrival:      AirportStop{Code: "SFO"},
		Status:       FlightScheduled,
		Source:       SourceManual,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(f *Flight)
	}{
		{"missing number", func(f *Flight) { f.FlightNumber = "" }},
		{"lowercase code", func(f *Flight) { f.Departure.Code = "nrt" }},
		{"bad coordinate", func(f *Flight) { f.Arrival.Coordinate = &Coordinate{Latitude: 91} }},
		{"unknown status", func(f *Flight) { f.Status = "teleported" }},
		{"unknown source", func(f *Flight) { f.Source = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			if err := f.Validate(); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("Validate() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestTrip_Validate(t *testing.T) {
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	if err := (Trip{Title: "Tokyo", StartsAt: &start, EndsAt: &end}).Validate(); err == nil {
		t.Error("Validate() accepted a trip ending before it starts")
	}
	if err := (TripEntry{TripID: "t1", Content: "x"}).Validate(); err == nil {
		t.Error("Validate() accepted an entry without occurredAt")
	}
	if err := (SearchHistory{Query: "NRT", SearchedAt: start}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestDecode(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		data, err := Encode(Trip{Title: "Tokyo"})
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		got, err := Decode[Trip](data)
		if err != nil || got.Title != "Tokyo" {
			t.Errorf("Decode() = %+v, %v", got, err)
		}
	})

	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"unknown field", `{"title":"Tokyo","color":"red"}`},
		{"wrong type", `{"title":7}`},
		{"fails validation", `{"title":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[Trip]([]byte(tt.data))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("Decode() error = %v, want ErrInvalidPayload", err)
			}
			if got.Title != "" {
				t.Errorf("Decode() returned partial value %+v", got)
			}
		})
	}
}

func TestValidateRaw(t *testing.T) {
	if err := ValidateRaw(KindCoordinate, []byte(`{"code":"NRT","latitude":35.7,"longitude":140.3,"provenance":"static"}`)); err != nil {
		t.Errorf("ValidateRaw(coordinate) error = %v", err)
	}
	if err := ValidateRaw(Kind("hotel"), []byte(`{}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("ValidateRaw(unknown kind) error = %v", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range append(AccountKinds, KindCoordinate) {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("hotel"); err == nil {
		t.Error("ParseKind(hotel) succeeded")
	}
	if KindTrip.Shared() || !KindCoordinate.Shared() {
		t.Error("Shared() misreports kinds")
	}
}
