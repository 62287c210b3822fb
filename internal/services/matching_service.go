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

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	OutcomeMatched   = "MATCHED"
	OutcomeNoDrivers = CodeNoDriversAvailable
)

// MatchResult is the outcome of one matching pass. Finding no driver is a
// normal outcome, not an error.
type MatchResult struct {
	Ride       *models.Ride   `json:"ride"`
	Driver     *models.Driver `json:"-"`
	DistanceKM float64        `json:"distance_km,omitempty"`
	Outcome    string         `json:"outcome"`
}

func (r *MatchResult) Matched() bool {
	return r.Outcome == OutcomeMatched
}

type MatchingService interface {
	FindCandidates(ctx context.Context, pickup models.Location, radiusKM float64) ([]*models.NearbyDriver, error)
	MatchRide(ctx context.Context, rideID primitive.ObjectID, radiusKM float64) (*MatchResult, error)
}

type matchingService struct {
	rides         interfaces.RideRepository
	drivers       interfaces.DriverRepository
	tx            interfaces.Transactor
	notifications NotificationService
	config        *config.DispatchConfig
	logger        *logger.Logger
}

func NewMatchingService(
	rides interfaces.RideRepository,
	drivers interfaces.DriverRepository,
	tx interfaces.Transactor,
	notifications NotificationService,
	cfg *config.DispatchConfig,
	log *logger.Logger,
) MatchingService {
	return &matchingService{
		rides:         rides,
		drivers:       drivers,
		tx:            tx,
		notifications: notifications,
		config:        cfg,
		logger:        log.WithField("component", "matching"),
	}
}

var errDriverTaken = errors.New("driver claimed concurrently")

func (s *matchingService) FindCandidates(ctx context.Context, pickup models.Location, radiusKM float64) ([]*models.NearbyDriver, error) {
	if !pickup.Valid() {
		return nil, validationError("pickup coordinates are invalid", nil)
	}

	radius := utils.ClampRadius(radiusKM, s.config.SearchRadiusKM, s.config.MaxSearchRadiusKM)
	candidates, err := s.drivers.FindAvailableNear(ctx, pickup, radius, s.config.CandidateLimit, s.config.DriverLocationMaxAge)
	if err != nil {
		return nil, internalError("failed to search drivers", err)
	}
	return candidates, nil
}

// MatchRide assigns the nearest matchable driver to a requested ride. Each
// attempt claims the driver and moves the ride to matched in one
// transaction; a driver taken in the meantime moves on to the next candidate.
func (s *matchingService) MatchRide(ctx context.Context, rideID primitive.ObjectID, radiusKM float64) (*MatchResult, error) {
	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, rideLoadError(err)
	}
	if result, err := s.settled(ride); result != nil || err != nil {
		return result, err
	}

	candidates, err := s.FindCandidates(ctx, ride.Pickup, radiusKM)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithRideID(rideID)
	attempts := 0
	for _, candidate := range candidates {
		if attempts >= s.config.MaxMatchAttempts {
			break
		}
		attempts++

		matched, driver, err := s.claim(ctx, ride, candidate.Driver.ID)
		switch {
		case err == nil:
			log.LogRideEvent(rideID, "matched", logger.Fields{
				"driver_id":   driver.ID.Hex(),
				"distance_km": candidate.DistanceKM,
				"attempt":     attempts,
			})
			s.notifications.RideMatched(ctx, matched, candidate.DistanceKM)
			return &MatchResult{Ride: matched, Driver: driver, DistanceKM: candidate.DistanceKM, Outcome: OutcomeMatched}, nil

		case errors.Is(err, errDriverTaken):
			log.WithDriverID(candidate.Driver.ID).Debug("Candidate taken, trying next")
			continue

		case errors.Is(err, interfaces.ErrStatusConflict):
			// The ride moved on underneath us: cancelled, or accepted by a driver.
			current, loadErr := s.rides.GetByID(ctx, rideID)
			if loadErr != nil {
				return nil, rideLoadError(loadErr)
			}
			if result, err := s.settled(current); result != nil || err != nil {
				return result, err
			}
			return nil, ErrRideCannotBeUpdated

		default:
			return nil, internalError("failed to assign driver", err)
		}
	}

	log.WithFields(logger.Fields{
		"candidates": len(candidates),
		"attempts":   attempts,
	}).Info("No driver available for ride")
	s.notifications.SearchOutcome(ctx, ride, OutcomeNoDrivers)
	return &MatchResult{Ride: ride, Outcome: OutcomeNoDrivers}, nil
}

// settled reports rides that need no matching: already matched rides are
// returned as matched, other non-requested rides are an error.
func (s *matchingService) settled(ride *models.Ride) (*MatchResult, error) {
	switch {
	case ride.Status == models.RideStatusRequested:
		return nil, nil
	case ride.Status.IsTerminal():
		return nil, ErrRideCannotBeUpdated
	case ride.DriverID != nil:
		return &MatchResult{Ride: ride, Outcome: OutcomeMatched}, nil
	}
	return nil, ErrInvalidTransition
}

func (s *matchingService) claim(ctx context.Context, ride *models.Ride, driverID primitive.ObjectID) (*models.Ride, *models.Driver, error) {
	var (
		matched *models.Ride
		driver  *models.Driver
	)
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		claimed, err := s.drivers.Claim(txCtx, driverID, ride.ID)
		if err != nil {
			return err
		}
		if claimed == nil {
			return errDriverTaken
		}

		updated, err := s.rides.ApplyStatusChange(txCtx, ride.ID, &models.StatusChange{
			From:     models.RideStatusRequested,
			To:       models.RideStatusMatched,
			At:       time.Now(),
			DriverID: &claimed.ID,
			Driver:   claimed.Snapshot(),
		})
		if err != nil {
			return err
		}

		matched, driver = updated, claimed
		return nil
	})
	return matched, driver, err
}

func rideLoadError(err error) error {
	if errors.Is(err, interfaces.ErrRideNotFound) {
		return ErrRideNotFound
	}
	return internalError("failed to load ride", err)
}
