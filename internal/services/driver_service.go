package services

import (
	"context"
	"errors"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"
	"ridedispatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxClockSkew bounds how far ahead of the server a device timestamp may be.
const maxClockSkew = 5 * time.Second

type LocationResult struct {
	Applied     bool                `json:"applied"`
	RideID      *primitive.ObjectID `json:"ride_id,omitempty"`
	LastUpdated time.Time           `json:"last_updated"`
}

type DriverService interface {
	Register(ctx context.Context, driver *models.Driver) (*models.Driver, error)
	SetOnline(ctx context.Context, driverID primitive.ObjectID, online bool, location *models.Location) (*models.Driver, error)
	UpdateLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location, at time.Time) (*LocationResult, error)
}

type driverService struct {
	drivers       interfaces.DriverRepository
	rides         interfaces.RideRepository
	notifications NotificationService
	logger        *logger.Logger
}

func NewDriverService(
	drivers interfaces.DriverRepository,
	rides interfaces.RideRepository,
	notifications NotificationService,
	log *logger.Logger,
) DriverService {
	return &driverService{
		drivers:       drivers,
		rides:         rides,
		notifications: notifications,
		logger:        log.WithField("component", "drivers"),
	}
}

func (s *driverService) Register(ctx context.Context, driver *models.Driver) (*models.Driver, error) {
	if driver.ID.IsZero() {
		return nil, validationError("driver id is required", nil)
	}
	if err := s.drivers.Upsert(ctx, driver); err != nil {
		return nil, internalError("failed to register driver", err)
	}

	stored, err := s.drivers.GetByID(ctx, driver.ID)
	if err != nil {
		return nil, driverLoadError(err)
	}
	s.logger.LogDriverEvent(driver.ID, "registered", logger.Fields{"approved": stored.IsApproved()})
	return stored, nil
}

func (s *driverService) SetOnline(ctx context.Context, driverID primitive.ObjectID, online bool, location *models.Location) (*models.Driver, error) {
	if location != nil && !location.Valid() {
		return nil, validationError("location is invalid", nil)
	}

	driver, err := s.drivers.SetOnline(ctx, driverID, online, location)
	if err != nil {
		return nil, driverLoadError(err)
	}
	s.logger.LogDriverEvent(driverID, "availability_changed", logger.Fields{
		"online":    driver.IsOnline,
		"available": driver.IsAvailable,
	})
	return driver, nil
}

// UpdateLocation stores a position tick and mirrors it onto the driver's
// active ride. Ticks older than the stored position are ignored.
func (s *driverService) UpdateLocation(ctx context.Context, driverID primitive.ObjectID, location models.Location, at time.Time) (*LocationResult, error) {
	if !location.Valid() {
		return nil, validationError("location is invalid", nil)
	}
	now := time.Now()
	if at.IsZero() || at.After(now.Add(maxClockSkew)) {
		at = now
	}
	location = location.Normalize()

	written, err := s.drivers.UpdateLocation(ctx, driverID, location, at)
	if err != nil {
		return nil, driverLoadError(err)
	}
	result := &LocationResult{Applied: written, LastUpdated: at}
	if !written {
		return result, nil
	}

	driver, err := s.drivers.GetByID(ctx, driverID)
	if err != nil {
		return nil, driverLoadError(err)
	}
	if driver.CurrentRideID == nil {
		s.notifications.DriverLocation(ctx, nil, driverID, location, at)
		return result, nil
	}

	rideID := *driver.CurrentRideID
	result.RideID = &rideID
	ok, err := s.rides.UpdateDriverLocation(ctx, rideID, driverID, location, at)
	if err != nil && !errors.Is(err, interfaces.ErrRideNotFound) {
		return nil, internalError("failed to update ride location", err)
	}
	if !ok {
		s.notifications.DriverLocation(ctx, nil, driverID, location, at)
		return result, nil
	}

	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		s.logger.WithRideID(rideID).WithError(err).Warn("Ride vanished after location update")
		return result, nil
	}
	s.notifications.DriverLocation(ctx, ride, driverID, location, at)
	return result, nil
}

func driverLoadError(err error) error {
	if errors.Is(err, interfaces.ErrDriverNotFound) {
		return ErrDriverNotFound
	}
	return internalError("failed to load driver", err)
}
