package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a payload fails boundary validation.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is the kind-specific body of a record.
type Payload interface {
	Kind() Kind
	Validate() error
}

// Encode validates p and serializes it to JSON.
func Encode(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// Decode parses data into T. Unknown fields are rejected and the result is
// validated; a malformed payload is never partially returned.
func Decode[T Payload](data []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: decoding %s: %v", ErrInvalidPayload, v.Kind(), err)
	}
	if err := v.Validate(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// ValidateRaw decodes and validates a raw payload of the given kind.
func ValidateRaw(kind Kind, data []byte) error {
	var err error
	switch kind {
	case KindFlight:
		_, err = Decode[Flight](data)
	case KindTrip:
		_, err = Decode[Trip](data)
	case KindTripEntry:
		_, err = Decode[TripEntry](data)
	case KindSearchHistory:
		_, err = Decode[SearchHistory](data)
	case KindCoordinate:
		_, err = Decode[CoordinateRecord](data)
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, kind)
	}
	return err
}

func invalid(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, kind, fmt.Sprintf(format, args...))
}
