package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ridedispatch/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RideRequest struct {
	Pickup      models.Location
	Destination models.Location
	RiderPhone  string
	RadiusKM    float64
}

// point is the request form of a location: coordinates, an address to be
// geocoded, or both.
type point struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
	PlaceID   string   `json:"place_id,omitempty"`
}

func toPoint(loc models.Location) *point {
	p := &point{Address: loc.Address, PlaceID: loc.PlaceID}
	if loc.HasCoordinates() {
		lat, lng := loc.Latitude(), loc.Longitude()
		p.Latitude, p.Longitude = &lat, &lng
	}
	return p
}

func toPointPtr(loc *models.Location) *point {
	if loc == nil {
		return nil
	}
	return toPoint(*loc)
}

type SearchResult struct {
	Ride       *models.Ride `json:"ride"`
	DistanceKM float64      `json:"distance_km,omitempty"`
	Outcome    string       `json:"outcome"`
}

type StatusRequest struct {
	Status           models.RideStatus `json:"status"`
	OTP              string            `json:"otp,omitempty"`
	ActualDistanceKM *float64          `json:"actual_distance_km,omitempty"`
	ActualFare       *float64          `json:"actual_fare,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

type AcceptResult struct {
	Ride   *models.Ride           `json:"ride"`
	Driver *models.DriverSnapshot `json:"driver"`
	OTP    string                 `json:"otp"`
}

// APIError is a non-2xx answer from the dispatch API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPClient calls the dispatch REST API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ActiveRides(ctx context.Context, statuses []models.RideStatus) ([]*models.Ride, error) {
	query := url.Values{}
	for _, s := range statuses {
		query.Add("status", string(s))
	}
	path := "/api/v1/rides/active"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var rides []*models.Ride
	if err := c.do(ctx, http.MethodGet, path, nil, &rides); err != nil {
		return nil, err
	}
	return rides, nil
}

func (c *HTTPClient) GetRide(ctx context.Context, rideID primitive.ObjectID) (*models.Ride, error) {
	var ride models.Ride
	if err := c.do(ctx, http.MethodGet, "/api/v1/rides/"+rideID.Hex(), nil, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *HTTPClient) RequestRide(ctx context.Context, req *RideRequest) (*models.Ride, error) {
	body := map[string]interface{}{
		"pickup":      toPoint(req.Pickup),
		"destination": toPoint(req.Destination),
	}
	if req.RiderPhone != "" {
		body["rider_phone"] = req.RiderPhone
	}
	if req.RadiusKM > 0 {
		body["radius_km"] = req.RadiusKM
	}

	var ride models.Ride
	if err := c.do(ctx, http.MethodPost, "/api/v1/rides", body, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *HTTPClient) SearchAgain(ctx context.Context, rideID primitive.ObjectID) (*SearchResult, error) {
	var result SearchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/rides/"+rideID.Hex()+"/search", struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) CancelRide(ctx context.Context, rideID primitive.ObjectID, reason string) (*models.Ride, error) {
	body := map[string]string{"reason": reason}
	var ride models.Ride
	if err := c.do(ctx, http.MethodPost, "/api/v1/rides/"+rideID.Hex()+"/cancel", body, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *HTTPClient) UpdateStatus(ctx context.Context, rideID primitive.ObjectID, req *StatusRequest) (*models.Ride, error) {
	var ride models.Ride
	if err := c.do(ctx, http.MethodPut, "/api/v1/rides/"+rideID.Hex()+"/status", req, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *HTTPClient) AcceptRide(ctx context.Context, rideID primitive.ObjectID, location *models.Location) (*AcceptResult, error) {
	body := map[string]*point{"location": toPointPtr(location)}
	var result AcceptResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/rides/"+rideID.Hex()+"/accept", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type DriverVehicle struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Color        string `json:"color,omitempty"`
	LicensePlate string `json:"license_plate"`
}

// DriverProfile is the registration body a driver app submits.
type DriverProfile struct {
	Name                  string        `json:"name"`
	Phone                 string        `json:"phone"`
	Vehicle               DriverVehicle `json:"vehicle"`
	LicenseStatus         string        `json:"license_status,omitempty"`
	InsuranceStatus       string        `json:"insurance_status,omitempty"`
	BackgroundCheckStatus string        `json:"background_check_status,omitempty"`
	DeviceToken           string        `json:"device_token,omitempty"`
	DevicePlatform        string        `json:"device_platform,omitempty"`
}

func (c *HTTPClient) RegisterDriver(ctx context.Context, profile *DriverProfile) (*models.Driver, error) {
	var driver models.Driver
	if err := c.do(ctx, http.MethodPost, "/api/v1/drivers/register", profile, &driver); err != nil {
		return nil, err
	}
	return &driver, nil
}

func (c *HTTPClient) SetOnline(ctx context.Context, online bool, location *models.Location) error {
	body := map[string]interface{}{"online": online, "location": toPointPtr(location)}
	return c.do(ctx, http.MethodPost, "/api/v1/drivers/status", body, nil)
}

func (c *HTTPClient) UpdateLocation(ctx context.Context, location models.Location, at time.Time) error {
	body := map[string]interface{}{
		"latitude":  location.Latitude(),
		"longitude": location.Longitude(),
		"timestamp": at,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/drivers/location", body, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: "unreadable error body"}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
