package maps

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"googlemaps.github.io/maps"
)

type GoogleMapsProvider struct {
	client *maps.Client
	region string
}

func NewGoogleMapsProvider(apiKey, region string, timeout time.Duration) (*GoogleMapsProvider, error) {
	opts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, maps.WithHTTPClient(&http.Client{Timeout: timeout}))
	}

	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return &GoogleMapsProvider{
		client: client,
		region: region,
	}, nil
}

func (g *GoogleMapsProvider) Geocode(ctx context.Context, address string) (*GeocodeResponse, error) {
	req := &maps.GeocodingRequest{
		Address: address,
		Region:  g.region,
	}

	resp, err := g.client.Geocode(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("geocoding failed: %w", err)
	}

	return &GeocodeResponse{Results: toGeocodeResults(resp)}, nil
}

func (g *GoogleMapsProvider) ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodeResponse, error) {
	req := &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	}

	resp, err := g.client.ReverseGeocode(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reverse geocoding failed: %w", err)
	}

	return &GeocodeResponse{Results: toGeocodeResults(resp)}, nil
}

func (g *GoogleMapsProvider) GetDirections(ctx context.Context, request *DirectionsRequest) (*DirectionsResponse, error) {
	mode := request.Mode
	if mode == "" {
		mode = string(maps.TravelModeDriving)
	}

	req := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", request.Origin.Latitude, request.Origin.Longitude),
		Destination: fmt.Sprintf("%f,%f", request.Destination.Latitude, request.Destination.Longitude),
		Mode:        maps.Mode(mode),
		Region:      g.region,
	}

	if len(request.Avoid) > 0 {
		avoid := make([]maps.Avoid, len(request.Avoid))
		for i, a := range request.Avoid {
			avoid[i] = maps.Avoid(a)
		}
		req.Avoid = avoid
	}

	resp, _, err := g.client.Directions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}

	routes := make([]Route, 0, len(resp))
	for _, route := range resp {
		var (
			meters  int
			elapsed time.Duration
		)
		for _, leg := range route.Legs {
			meters += leg.Distance.Meters
			elapsed += leg.Duration
		}

		routes = append(routes, Route{
			Summary: route.Summary,
			Distance: Distance{
				Text:  fmt.Sprintf("%.1f km", float64(meters)/1000),
				Value: float64(meters),
			},
			Duration: Duration{
				Text:  elapsed.String(),
				Value: int(elapsed.Seconds()),
			},
			Polyline: route.OverviewPolyline.Points,
		})
	}

	return &DirectionsResponse{Routes: routes}, nil
}

func toGeocodeResults(resp []maps.GeocodingResult) []GeocodeResult {
	results := make([]GeocodeResult, len(resp))
	for i, result := range resp {
		results[i] = GeocodeResult{
			PlaceID: result.PlaceID,
			Address: result.FormattedAddress,
			Coordinates: Location{
				Latitude:  result.Geometry.Location.Lat,
				Longitude: result.Geometry.Location.Lng,
			},
			Types: result.Types,
		}
	}
	return results
}
