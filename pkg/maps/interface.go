package maps

import (
	"context"
	"errors"
)

var ErrNoResults = errors.New("maps: no results")

type MapsProvider interface {
	Geocode(ctx context.Context, address string) (*GeocodeResponse, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodeResponse, error)
	GetDirections(ctx context.Context, request *DirectionsRequest) (*DirectionsResponse, error)
}

type GeocodeResponse struct {
	Results []GeocodeResult `json:"results"`
}

// First returns the best match or ErrNoResults.
func (r *GeocodeResponse) First() (GeocodeResult, error) {
	if r == nil || len(r.Results) == 0 {
		return GeocodeResult{}, ErrNoResults
	}
	return r.Results[0], nil
}

type GeocodeResult struct {
	PlaceID     string   `json:"place_id"`
	Address     string   `json:"formatted_address"`
	Coordinates Location `json:"geometry"`
	Types       []string `json:"types"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type DirectionsRequest struct {
	Origin      Location `json:"origin"`
	Destination Location `json:"destination"`
	Mode        string   `json:"mode"`            // driving, walking, bicycling, transit
	Avoid       []string `json:"avoid,omitempty"` // tolls, highways, ferries
}

type DirectionsResponse struct {
	Routes []Route `json:"routes"`
}

// Fastest returns the route with the shortest duration or ErrNoResults.
func (r *DirectionsResponse) Fastest() (Route, error) {
	if r == nil || len(r.Routes) == 0 {
		return Route{}, ErrNoResults
	}
	best := r.Routes[0]
	for _, route := range r.Routes[1:] {
		if route.Duration.Value < best.Duration.Value {
			best = route
		}
	}
	return best, nil
}

type Route struct {
	Summary  string   `json:"summary"`
	Distance Distance `json:"distance"`
	Duration Duration `json:"duration"`
	Polyline string   `json:"overview_polyline"`
}

type Distance struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"` // in meters
}

type Duration struct {
	Text  string `json:"text"`
	Value int    `json:"value"` // in seconds
}
