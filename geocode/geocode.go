package geocode

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"
)

// ErrNoResults is returned when the geocoder knows nothing about a position.
var ErrNoResults = errors.New("no geocoding results")

// reverseGeocoder is the part of *maps.Client used here.
type reverseGeocoder interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Labeler turns coordinates into a human readable address.
type Labeler struct {
	client reverseGeocoder
}

// NewLabeler creates a Google Maps backed labeler from an API key.
func NewLabeler(apiKey string) (*Labeler, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("MAPS_CREDENTIALS is not set")
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Labeler{client: client}, nil
}

// Reverse returns the formatted address of the first result for lat/lon.
func (l *Labeler) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	results, err := l.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lon},
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocode %f,%f: %w", lat, lon, err)
	}
	if len(results) == 0 {
		return "", ErrNoResults
	}
	return results[0].FormattedAddress, nil
}
