package validators

import (
	"strings"

	"ridedispatch/internal/models"

	"github.com/go-playground/validator/v10"
)

// LocationRequest is a point given either as coordinates, as an address to
// be geocoded, or both.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,min=-180,max=180"`
	Address   string   `json:"address" validate:"omitempty,max=255"`
	PlaceID   string   `json:"place_id" validate:"omitempty,max=255"`
}

// locationRequestValidation requires both coordinates together, or an
// address when they are absent.
func locationRequestValidation(sl validator.StructLevel) {
	l := sl.Current().Interface().(LocationRequest)
	if (l.Latitude == nil) != (l.Longitude == nil) {
		sl.ReportError(l.Latitude, "latitude", "Latitude", "coordinates", "")
		return
	}
	if !l.HasCoordinates() && strings.TrimSpace(l.Address) == "" {
		sl.ReportError(l.Address, "address", "Address", "required", "")
	}
}

// HasCoordinates reports whether both coordinates were supplied.
func (l *LocationRequest) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

func (l *LocationRequest) ToLocation() models.Location {
	loc := models.Location{
		Type:    "Point",
		Address: strings.TrimSpace(l.Address),
		PlaceID: l.PlaceID,
	}
	if l.HasCoordinates() {
		loc.Coordinates = []float64{*l.Longitude, *l.Latitude}
	}
	return loc
}

type RideRequestRequest struct {
	Pickup      LocationRequest `json:"pickup" validate:"required"`
	Destination LocationRequest `json:"destination" validate:"required"`
	RiderPhone  string          `json:"rider_phone" validate:"omitempty,phone_number"`
	RadiusKM    float64         `json:"radius_km" validate:"omitempty,gt=0"`
}

type RideStatusUpdateRequest struct {
	Status           string   `json:"status" validate:"required,ride_status"`
	OTP              string   `json:"otp" validate:"omitempty,numeric,min=4,max=8"`
	ActualDistanceKM *float64 `json:"actual_distance_km" validate:"omitempty,gte=0"`
	ActualFare       *float64 `json:"actual_fare" validate:"omitempty,gte=0"`
	Reason           string   `json:"reason" validate:"omitempty,max=255"`
}

type RideCancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

type RideAcceptRequest struct {
	Location *LocationRequest `json:"location" validate:"omitempty"`
}

// ParseStatusFilter reads a comma separated status list. Unknown values are
// returned as a validation error.
func ParseStatusFilter(raw string) ([]models.RideStatus, ValidationErrors) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var (
		statuses []models.RideStatus
		errs     ValidationErrors
	)
	for _, part := range strings.Split(raw, ",") {
		status := models.RideStatus(strings.TrimSpace(part))
		if !status.Valid() {
			errs = append(errs, ValidationError{
				Field:   "status",
				Tag:     "ride_status",
				Value:   string(status),
				Message: "Unknown ride status",
			})
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses, errs
}

type RideSearchRequest struct {
	RadiusKM float64 `json:"radius_km" validate:"omitempty,gt=0"`
}
