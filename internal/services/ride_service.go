package services

import (
	"context"
	"errors"
	"time"

	"ridedispatch/internal/config"
	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"
	"ridedispatch/internal/utils"
	"ridedispatch/pkg/logger"
	"ridedispatch/pkg/maps"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RideRequest struct {
	Pickup      models.Location
	Destination models.Location
	RiderPhone  string
	RadiusKM    float64
}

type AcceptResult struct {
	Ride   *models.Ride           `json:"ride"`
	Driver *models.DriverSnapshot `json:"driver"`
	OTP    string                 `json:"otp"`
}

// MatchQueue accepts rides for asynchronous matching.
type MatchQueue interface {
	Enqueue(job MatchJob) error
}

type RideService interface {
	RequestRide(ctx context.Context, riderID primitive.ObjectID, req *RideRequest) (*models.Ride, error)
	SearchAgain(ctx context.Context, rideID, riderID primitive.ObjectID, radiusKM float64) (*MatchResult, error)
	AcceptRide(ctx context.Context, rideID, driverID primitive.ObjectID, location *models.Location) (*AcceptResult, error)
	CancelRide(ctx context.Context, rideID primitive.ObjectID, actor Actor, reason string) (*models.Ride, error)
	ActiveRides(ctx context.Context, userID primitive.ObjectID, role models.ActorRole, statuses []models.RideStatus) ([]*models.Ride, error)
	GetRide(ctx context.Context, rideID, userID primitive.ObjectID) (*models.Ride, error)
}

type rideService struct {
	rides         interfaces.RideRepository
	drivers       interfaces.DriverRepository
	tx            interfaces.Transactor
	matching      MatchingService
	lifecycle     LifecycleService
	notifications NotificationService
	queue         MatchQueue
	maps          maps.MapsProvider
	config        *config.DispatchConfig
	logger        *logger.Logger
}

// NewRideService wires the ride API. mapsProvider and queue may be nil:
// without maps every location needs coordinates and distances fall back to
// great-circle estimates; without a queue matching runs inline.
func NewRideService(
	rides interfaces.RideRepository,
	drivers interfaces.DriverRepository,
	tx interfaces.Transactor,
	matching MatchingService,
	lifecycle LifecycleService,
	notifications NotificationService,
	queue MatchQueue,
	mapsProvider maps.MapsProvider,
	cfg *config.DispatchConfig,
	log *logger.Logger,
) RideService {
	return &rideService{
		rides:         rides,
		drivers:       drivers,
		tx:            tx,
		matching:      matching,
		lifecycle:     lifecycle,
		notifications: notifications,
		queue:         queue,
		maps:          mapsProvider,
		config:        cfg,
		logger:        log.WithField("component", "rides"),
	}
}

func (s *rideService) RequestRide(ctx context.Context, riderID primitive.ObjectID, req *RideRequest) (*models.Ride, error) {
	pickup, err := s.resolveLocation(ctx, req.Pickup, "pickup")
	if err != nil {
		return nil, err
	}
	destination, err := s.resolveLocation(ctx, req.Destination, "destination")
	if err != nil {
		return nil, err
	}

	candidates, err := s.matching.FindCandidates(ctx, pickup, req.RadiusKM)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoDriversAvailable
	}

	distanceKM, durationMin := s.estimateRoute(ctx, pickup, destination)
	ride := &models.Ride{
		PickupCode:        utils.GeneratePickupCode(s.config.PickupCodeLength),
		OTP:               utils.GenerateOTP(s.config.OTPLength),
		RiderID:           riderID,
		RiderPhone:        req.RiderPhone,
		Pickup:            pickup,
		Destination:       destination,
		Status:            models.RideStatusRequested,
		RequestedAt:       time.Now(),
		EstimatedDistance: utils.RoundTo(distanceKM, 3),
		EstimatedDuration: durationMin,
		Pricing: models.Pricing{
			TotalEstimated: utils.RoundCurrency(s.config.BaseFare+s.config.PerKMRate*distanceKM, s.config.Currency),
			Currency:       s.config.Currency,
		},
		CarbonFootprint: models.CarbonFootprint{
			EstimatedSaved: utils.RoundTo(distanceKM*s.config.EmissionFactorKgPerKM, 3),
		},
	}

	if err := s.rides.Create(ctx, ride); err != nil {
		return nil, internalError("failed to create ride", err)
	}
	s.logger.LogRideEvent(ride.ID, "requested", logger.Fields{
		"rider_id":    riderID.Hex(),
		"distance_km": ride.EstimatedDistance,
		"candidates":  len(candidates),
	})

	s.dispatch(ctx, ride, req.RadiusKM)
	return ride.ViewFor(riderID), nil
}

func (s *rideService) dispatch(ctx context.Context, ride *models.Ride, radiusKM float64) {
	if s.queue == nil {
		if _, err := s.matching.MatchRide(ctx, ride.ID, radiusKM); err != nil {
			s.logger.WithRideID(ride.ID).WithError(err).Warn("Inline matching failed")
		}
		return
	}
	if err := s.queue.Enqueue(MatchJob{RideID: ride.ID, RadiusKM: radiusKM}); err != nil {
		s.logger.WithRideID(ride.ID).WithError(err).Warn("Ride not queued for matching")
	}
}

// resolveLocation geocodes an address without coordinates and fills in a
// missing address for bare coordinates when a maps provider is configured.
func (s *rideService) resolveLocation(ctx context.Context, loc models.Location, field string) (models.Location, error) {
	loc = loc.Normalize()

	if !loc.HasCoordinates() {
		if s.maps == nil || loc.Address == "" {
			return loc, validationError(field+" coordinates are required", nil)
		}
		resp, err := s.maps.Geocode(ctx, loc.Address)
		if err != nil {
			return loc, validationError(field+" address could not be geocoded", err)
		}
		best, err := resp.First()
		if err != nil {
			return loc, validationError(field+" address could not be geocoded", err)
		}
		loc.Coordinates = []float64{best.Coordinates.Longitude, best.Coordinates.Latitude}
		if loc.PlaceID == "" {
			loc.PlaceID = best.PlaceID
		}
	} else if loc.Address == "" && s.maps != nil {
		if resp, err := s.maps.ReverseGeocode(ctx, loc.Latitude(), loc.Longitude()); err == nil {
			if best, err := resp.First(); err == nil {
				loc.Address = best.Address
				if loc.PlaceID == "" {
					loc.PlaceID = best.PlaceID
				}
			}
		}
	}

	if !loc.Valid() {
		return loc, validationError(field+" coordinates are out of range", nil)
	}
	return loc, nil
}

func (s *rideService) estimateRoute(ctx context.Context, pickup, destination models.Location) (float64, int) {
	if s.maps != nil {
		resp, err := s.maps.GetDirections(ctx, &maps.DirectionsRequest{
			Origin:      maps.Location{Latitude: pickup.Latitude(), Longitude: pickup.Longitude()},
			Destination: maps.Location{Latitude: destination.Latitude(), Longitude: destination.Longitude()},
			Mode:        "driving",
		})
		if err == nil {
			if route, err := resp.Fastest(); err == nil {
				return route.Distance.Value / 1000, (route.Duration.Value + 59) / 60
			}
		}
		s.logger.WithError(err).Debug("Directions unavailable, using straight-line estimate")
	}

	distance := utils.CalculateDistance(pickup.Latitude(), pickup.Longitude(), destination.Latitude(), destination.Longitude())
	return distance, utils.EstimateETAMinutes(distance, utils.AverageCitySpeedKMH)
}

func (s *rideService) SearchAgain(ctx context.Context, rideID, riderID primitive.ObjectID, radiusKM float64) (*MatchResult, error) {
	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, rideLoadError(err)
	}
	if ride.RiderID != riderID {
		return nil, ErrUnauthorized
	}

	result, err := s.matching.MatchRide(ctx, rideID, radiusKM)
	if err != nil {
		return nil, err
	}
	result.Ride = result.Ride.ViewFor(riderID)
	return result, nil
}

// AcceptRide lets a driver take a requested ride directly. The driver
// claim and the status change commit together.
func (s *rideService) AcceptRide(ctx context.Context, rideID, driverID primitive.ObjectID, location *models.Location) (*AcceptResult, error) {
	if location != nil && !location.Valid() {
		return nil, validationError("driver location is invalid", nil)
	}

	if _, err := s.drivers.GetByID(ctx, driverID); err != nil {
		if errors.Is(err, interfaces.ErrDriverNotFound) {
			return nil, ErrDriverNotFound
		}
		return nil, internalError("failed to load driver", err)
	}

	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, rideLoadError(err)
	}
	if ride.IsAssignedDriver(driverID) && !ride.Status.IsTerminal() {
		return acceptResult(ride, driverID), nil
	}
	if err := acceptConflict(ride); err != nil {
		return nil, err
	}

	var matched *models.Ride
	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		claimed, err := s.drivers.Claim(txCtx, driverID, rideID)
		if err != nil {
			return err
		}
		if claimed == nil {
			return ErrDriverUnavailable
		}

		matched, err = s.rides.ApplyStatusChange(txCtx, rideID, &models.StatusChange{
			From:     models.RideStatusRequested,
			To:       models.RideStatusMatched,
			At:       time.Now(),
			DriverID: &claimed.ID,
			Driver:   claimed.Snapshot(),
		})
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrDriverUnavailable):
		return nil, ErrDriverUnavailable
	case errors.Is(err, interfaces.ErrStatusConflict):
		current, loadErr := s.rides.GetByID(ctx, rideID)
		if loadErr != nil {
			return nil, rideLoadError(loadErr)
		}
		if current.IsAssignedDriver(driverID) {
			return acceptResult(current, driverID), nil
		}
		if conflict := acceptConflict(current); conflict != nil {
			return nil, conflict
		}
		return nil, ErrRideAlreadyAccepted
	default:
		return nil, internalError("failed to accept ride", err)
	}

	distanceKM := 0.0
	if location != nil {
		now := time.Now()
		if _, err := s.drivers.UpdateLocation(ctx, driverID, *location, now); err != nil {
			s.logger.WithDriverID(driverID).WithError(err).Warn("Failed to store driver location on accept")
		}
		if ok, err := s.rides.UpdateDriverLocation(ctx, rideID, driverID, *location, now); err == nil && ok {
			matched.DriverLocation = &models.DriverLocation{Location: location.Normalize(), LastUpdated: now}
		}
		distanceKM = utils.CalculateDistance(location.Latitude(), location.Longitude(), matched.Pickup.Latitude(), matched.Pickup.Longitude())
	}

	s.logger.LogRideEvent(rideID, "accepted", logger.Fields{"driver_id": driverID.Hex()})
	s.notifications.RideMatched(ctx, matched, distanceKM)
	return acceptResult(matched, driverID), nil
}

func acceptConflict(ride *models.Ride) error {
	switch {
	case ride.Status.IsTerminal():
		return ErrRideCannotBeUpdated
	case ride.Status != models.RideStatusRequested:
		return ErrRideAlreadyAccepted
	}
	return nil
}

func acceptResult(ride *models.Ride, driverID primitive.ObjectID) *AcceptResult {
	view := ride.ViewFor(driverID)
	return &AcceptResult{Ride: view, Driver: view.Driver, OTP: view.OTP}
}

func (s *rideService) CancelRide(ctx context.Context, rideID primitive.ObjectID, actor Actor, reason string) (*models.Ride, error) {
	ride, err := s.lifecycle.Transition(ctx, rideID, models.RideStatusCancelled, actor, TransitionOptions{Reason: reason})
	if err != nil {
		return nil, err
	}
	return ride.ViewFor(actor.ID), nil
}

func (s *rideService) ActiveRides(ctx context.Context, userID primitive.ObjectID, role models.ActorRole, statuses []models.RideStatus) ([]*models.Ride, error) {
	rides, err := s.rides.ListForUser(ctx, userID, role, statuses)
	if err != nil {
		return nil, internalError("failed to list rides", err)
	}
	for i, ride := range rides {
		rides[i] = ride.ViewFor(userID)
	}
	return rides, nil
}

func (s *rideService) GetRide(ctx context.Context, rideID, userID primitive.ObjectID) (*models.Ride, error) {
	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, rideLoadError(err)
	}
	if !ride.IsParticipant(userID) {
		return nil, ErrUnauthorized
	}
	return ride.ViewFor(userID), nil
}
