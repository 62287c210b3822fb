package validators

import (
	"testing"

	"ridedispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float(v float64) *float64 { return &v }

func fieldTags(errs ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field] = e.Tag
	}
	return out
}

func TestRideRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		req  RideRequestRequest
		want map[string]string
	}{
		{
			name: "coordinates",
			req: RideRequestRequest{
				Pickup:      LocationRequest{Latitude: float(37.77), Longitude: float(-122.41)},
				Destination: LocationRequest{Latitude: float(37.78), Longitude: float(-122.40)},
			},
		},
		{
			name: "addresses only",
			req: RideRequestRequest{
				Pickup:      LocationRequest{Address: "1 Market St"},
				Destination: LocationRequest{Address: "Ferry Building"},
				RiderPhone:  "+15557654321",
			},
		},
		{
			name: "half a coordinate pair",
			req: RideRequestRequest{
				Pickup:      LocationRequest{Latitude: float(37.77)},
				Destination: LocationRequest{Address: "Ferry Building"},
			},
			want: map[string]string{"pickup.latitude": "coordinates"},
		},
		{
			name: "nothing to locate",
			req: RideRequestRequest{
				Pickup:      LocationRequest{Address: "1 Market St"},
				Destination: LocationRequest{Address: "   "},
			},
			want: map[string]string{"destination.address": "required"},
		},
		{
			name: "latitude out of range",
			req: RideRequestRequest{
				Pickup:      LocationRequest{Latitude: float(91), Longitude: float(0)},
				Destination: LocationRequest{Address: "Ferry Building"},
			},
			want: map[string]string{"pickup.latitude": "max"},
		},
		{
			name: "bad phone and radius",
			req: RideRequestRequest{
				Pickup:      LocationRequest{Address: "1 Market St"},
				Destination: LocationRequest{Address: "Ferry Building"},
				RiderPhone:  "555-1234",
				RadiusKM:    -2,
			},
			want: map[string]string{"rider_phone": "phone_number", "radius_km": "gt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateStruct(&tt.req)
			if tt.want == nil {
				assert.Nil(t, errs)
				return
			}
			assert.Equal(t, tt.want, fieldTags(errs))
		})
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	errs := ValidateStruct(&RideStatusUpdateRequest{Status: "flying"})
	require.Len(t, errs, 1)

	assert.Equal(t, "status: Unknown ride status", errs.Error())
	assert.Equal(t, map[string]string{"status": "Unknown ride status"}, errs.Details())
	assert.Equal(t, "flying", errs[0].Value)
}

func TestLocationRequestToLocation(t *testing.T) {
	withCoords := LocationRequest{Latitude: float(37.77), Longitude: float(-122.41), Address: " 1 Market St "}
	loc := withCoords.ToLocation()
	assert.Equal(t, []float64{-122.41, 37.77}, loc.Coordinates)
	assert.Equal(t, "1 Market St", loc.Address)
	assert.Equal(t, "Point", loc.Type)

	addressOnly := LocationRequest{Address: "Ferry Building"}
	assert.False(t, addressOnly.HasCoordinates())
	assert.Empty(t, addressOnly.ToLocation().Coordinates)
}

func TestParseStatusFilter(t *testing.T) {
	statuses, errs := ParseStatusFilter("")
	assert.Nil(t, statuses)
	assert.Nil(t, errs)

	statuses, errs = ParseStatusFilter("requested, matched,flying")
	assert.Equal(t, []models.RideStatus{models.RideStatusRequested, models.RideStatusMatched}, statuses)
	require.Len(t, errs, 1)
	assert.Equal(t, "flying", errs[0].Value)
	assert.Equal(t, "status", errs[0].Field)
}

func TestDriverRegisterRequest(t *testing.T) {
	req := DriverRegisterRequest{
		Name:  "Ana Lopez",
		Phone: "+15551234567",
		Vehicle: VehicleRequest{
			Make:         "Toyota",
			Model:        "Prius",
			LicensePlate: "eco 123",
		},
		LicenseStatus: "approved",
	}
	require.Nil(t, ValidateStruct(&req))

	driver := req.ToDriver()
	assert.Equal(t, models.DocumentStatusApproved, driver.LicenseStatus)
	assert.Equal(t, models.DocumentStatusPending, driver.InsuranceStatus)
	assert.Equal(t, models.DocumentStatusPending, driver.BackgroundCheckStatus)
	assert.Equal(t, "eco 123", driver.Vehicle.LicensePlate)

	bad := req
	bad.Vehicle.LicensePlate = "!!"
	bad.LicenseStatus = "maybe"
	bad.DevicePlatform = "symbian"
	assert.Equal(t, map[string]string{
		"vehicle.license_plate": "license_plate",
		"license_status":        "oneof",
		"device_platform":       "oneof",
	}, fieldTags(ValidateStruct(&bad)))
}

func TestDriverLocationRequest(t *testing.T) {
	errs := ValidateStruct(&DriverLocationRequest{Latitude: float(10)})
	assert.Equal(t, map[string]string{"longitude": "required"}, fieldTags(errs))

	req := DriverLocationRequest{Latitude: float(10), Longitude: float(20)}
	require.Nil(t, ValidateStruct(&req))
	assert.Equal(t, models.NewPoint(10, 20), req.ToLocation())
}
