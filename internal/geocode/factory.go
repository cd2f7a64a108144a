package geocode

import (
	"fmt"

	"tripsync/internal/config"
	"tripsync/internal/tripsync"
)

// NewGeocoderFromConfig creates the external geocoder. Type "none" returns
// nil: codes missing from the built-in table and the shared store stay
// unresolved.
func NewGeocoderFromConfig(cfg config.GeocoderConfig) (tripsync.Geocoder, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "http":
		g, err := NewHTTPGeocoder(HTTPOptions{URL: cfg.URL, APIKey: cfg.APIKey, UserAgent: cfg.UserAgent})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown geocoder type: %s", cfg.Type)
	}
}
