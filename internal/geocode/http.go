// Package geocode resolves airport codes to coordinates: a built-in table
// of major airports and a client for an external HTTP geocoding service.
package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

const maxResponseBytes = 64 << 10

// HTTPGeocoder queries an external service with GET <url>?code=XXX. The
// service answers {"code", "latitude", "longitude"} and 404 for unknown
// codes.
type HTTPGeocoder struct {
	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
}

// HTTPOptions configures an HTTPGeocoder.
type HTTPOptions struct {
	URL       string
	APIKey    string // sent as a bearer token when set
	UserAgent string
	Client    *http.Client
}

// NewHTTPGeocoder creates a geocoder for opts.URL.
func NewHTTPGeocoder(opts HTTPOptions) (*HTTPGeocoder, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("geocoder url must be an absolute http(s) url: %q", opts.URL)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "tripsync"
	}
	return &HTTPGeocoder{endpoint: opts.URL, apiKey: opts.APIKey, userAgent: ua, client: client}, nil
}

type geocodeResponse struct {
	Code      string   `json:"code"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (g *HTTPGeocoder) Geocode(ctx context.Context, code string) (*model.CoordinateRecord, error) {
	u, _ := url.Parse(g.endpoint)
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building geocoder request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return nil, tripsync.NewSyncError(tripsync.TransientNetwork, "geocode", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, tripsync.NewSyncError(tripsync.TransientNetwork, "geocode", err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, tripsync.ErrCoordinateNotFound
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, tripsync.NewSyncError(tripsync.AuthExpired, "geocode", fmt.Errorf("status %d", res.StatusCode))
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, tripsync.NewSyncError(tripsync.RateLimited, "geocode", fmt.Errorf("status %d", res.StatusCode))
	case res.StatusCode >= 500:
		return nil, tripsync.NewSyncError(tripsync.TransientNetwork, "geocode", fmt.Errorf("status %d", res.StatusCode))
	case res.StatusCode != http.StatusOK:
		return nil, tripsync.NewSyncError(tripsync.PermanentRejection, "geocode", fmt.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(body)))
	}

	var out geocodeResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding geocoder response: %w", err)
	}
	if out.Latitude == nil || out.Longitude == nil {
		return nil, fmt.Errorf("geocoder response for %s lacks a position", code)
	}
	if out.Code != "" && out.Code != code {
		return nil, fmt.Errorf("geocoder answered %s for %s", out.Code, code)
	}
	rec := &model.CoordinateRecord{
		Code:       code,
		Latitude:   *out.Latitude,
		Longitude:  *out.Longitude,
		Provenance: "geocoder",
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

var _ tripsync.Geocoder = (*HTTPGeocoder)(nil)
