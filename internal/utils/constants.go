package utils

import "time"

// Application Constants
const (
	AppName    = "RideDispatch"
	AppVersion = "1.0.0"

	// Authentication
	JWTAccessTokenTTL = 24 * time.Hour

	// Ride Constants
	DefaultOTPLength        = 4
	DefaultPickupCodeLength = 6
	AverageCitySpeedKMH     = 30.0

	// Notification
	NotificationTimeout = 10 * time.Second
)

// HTTP Status Messages
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrInvalidToken     = "invalid token"
	ErrTokenExpired     = "token expired"
	ErrInternalServer   = "internal server error"
	ErrUnauthorized     = "unauthorized"
	ErrValidationFailed = "validation failed"
)

// Sounds played by clients on notification:sound
const (
	SoundRideRequest = "ride_request"
	SoundDriverFound = "driver_found"
	SoundArrived     = "driver_arrived"
	SoundCompleted   = "ride_completed"
	SoundCancelled   = "ride_cancelled"
)

// Geographic Constants
const (
	EarthRadiusKM = 6371.0
)
