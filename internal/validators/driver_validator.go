package validators

import (
	"time"

	"ridedispatch/internal/models"
)

type VehicleRequest struct {
	Make         string `json:"make" validate:"required,max=50"`
	Model        string `json:"model" validate:"required,max=50"`
	Color        string `json:"color" validate:"omitempty,max=30"`
	LicensePlate string `json:"license_plate" validate:"required,license_plate"`
}

// DriverRegisterRequest carries the profile plus the verification results
// reported by the onboarding provider.
type DriverRegisterRequest struct {
	Name                  string         `json:"name" validate:"required,min=2,max=100"`
	Phone                 string         `json:"phone" validate:"required,phone_number"`
	Vehicle               VehicleRequest `json:"vehicle" validate:"required"`
	LicenseStatus         string         `json:"license_status" validate:"omitempty,oneof=pending approved rejected expired"`
	InsuranceStatus       string         `json:"insurance_status" validate:"omitempty,oneof=pending approved rejected expired"`
	BackgroundCheckStatus string         `json:"background_check_status" validate:"omitempty,oneof=pending approved rejected expired"`
	DeviceToken           string         `json:"device_token" validate:"omitempty,max=512"`
	DevicePlatform        string         `json:"device_platform" validate:"omitempty,oneof=android ios"`
}

func documentStatus(raw string) models.DocumentStatus {
	if raw == "" {
		return models.DocumentStatusPending
	}
	return models.DocumentStatus(raw)
}

func (r *DriverRegisterRequest) ToDriver() *models.Driver {
	return &models.Driver{
		Name:  r.Name,
		Phone: r.Phone,
		Vehicle: models.Vehicle{
			Make:         r.Vehicle.Make,
			Model:        r.Vehicle.Model,
			Color:        r.Vehicle.Color,
			LicensePlate: r.Vehicle.LicensePlate,
		},
		LicenseStatus:         documentStatus(r.LicenseStatus),
		InsuranceStatus:       documentStatus(r.InsuranceStatus),
		BackgroundCheckStatus: documentStatus(r.BackgroundCheckStatus),
		DeviceToken:           r.DeviceToken,
		DevicePlatform:        models.DevicePlatform(r.DevicePlatform),
	}
}

type DriverStatusRequest struct {
	Online   *bool            `json:"online" validate:"required"`
	Location *LocationRequest `json:"location" validate:"omitempty"`
}

type DriverLocationRequest struct {
	Latitude  *float64   `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64   `json:"longitude" validate:"required,min=-180,max=180"`
	Timestamp *time.Time `json:"timestamp"`
}

func (r *DriverLocationRequest) ToLocation() models.Location {
	return models.NewPoint(*r.Latitude, *r.Longitude)
}
