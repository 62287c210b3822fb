package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ridedispatch/internal/config"
	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"
	"ridedispatch/internal/utils"
	"ridedispatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Actor is the party requesting a status change.
type Actor struct {
	ID   primitive.ObjectID
	Role models.ActorRole
}

func SystemActor() Actor {
	return Actor{Role: models.ActorSystem}
}

type TransitionOptions struct {
	OTP              string
	ActualDistanceKM *float64
	ActualFare       *float64
	Reason           string
}

type LifecycleService interface {
	Transition(ctx context.Context, rideID primitive.ObjectID, target models.RideStatus, actor Actor, opts TransitionOptions) (*models.Ride, error)
}

type lifecycleService struct {
	rides         interfaces.RideRepository
	drivers       interfaces.DriverRepository
	tx            interfaces.Transactor
	notifications NotificationService
	config        *config.DispatchConfig
	logger        *logger.Logger
}

func NewLifecycleService(
	rides interfaces.RideRepository,
	drivers interfaces.DriverRepository,
	tx interfaces.Transactor,
	notifications NotificationService,
	cfg *config.DispatchConfig,
	log *logger.Logger,
) LifecycleService {
	return &lifecycleService{
		rides:         rides,
		drivers:       drivers,
		tx:            tx,
		notifications: notifications,
		config:        cfg,
		logger:        log.WithField("component", "lifecycle"),
	}
}

var errConcurrentUpdate = &DispatchError{
	Kind:    KindConflict,
	Code:    CodeRideCannotBeUpdated,
	Message: "ride kept changing concurrently, reload and retry",
}

// Transition moves a ride along one edge of the status graph. The status
// write and the driver release for terminal statuses commit together; a
// concurrent change to the ride is retried against the fresh state.
func (s *lifecycleService) Transition(ctx context.Context, rideID primitive.ObjectID, target models.RideStatus, actor Actor, opts TransitionOptions) (*models.Ride, error) {
	if !target.Valid() {
		return nil, validationError(fmt.Sprintf("unknown status %q", target), nil)
	}

	for attempt := 0; attempt <= s.config.TransitionRetries; attempt++ {
		ride, err := s.rides.GetByID(ctx, rideID)
		if err != nil {
			return nil, rideLoadError(err)
		}

		if ride.Status.IsTerminal() {
			return nil, ErrRideCannotBeUpdated
		}
		if !ride.Status.CanTransitionTo(target) {
			return nil, ErrInvalidTransition
		}
		if err := authorizeTransition(ride, target, actor, opts); err != nil {
			return nil, err
		}

		change := s.buildChange(ride, target, actor, opts)
		updated, err := s.apply(ctx, ride, change)
		if errors.Is(err, interfaces.ErrStatusConflict) {
			s.logger.WithRideID(rideID).WithField("attempt", attempt+1).Debug("Ride changed concurrently, retrying transition")
			continue
		}
		if err != nil {
			if errors.Is(err, interfaces.ErrRideNotFound) {
				return nil, ErrRideNotFound
			}
			return nil, internalError("failed to update ride status", err)
		}

		s.logger.LogRideEvent(rideID, "status_changed", logger.Fields{
			"from":  ride.Status,
			"to":    updated.Status,
			"actor": actor.Role,
		})
		s.notifications.RideStatusChanged(ctx, updated, actor.Role)
		return updated, nil
	}

	return nil, errConcurrentUpdate
}

func (s *lifecycleService) apply(ctx context.Context, ride *models.Ride, change *models.StatusChange) (*models.Ride, error) {
	var updated *models.Ride
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		updated, err = s.rides.ApplyStatusChange(txCtx, ride.ID, change)
		if err != nil {
			return err
		}
		if change.To.IsTerminal() && ride.DriverID != nil {
			if err := s.drivers.Release(txCtx, *ride.DriverID, ride.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return updated, err
}

func (s *lifecycleService) buildChange(ride *models.Ride, target models.RideStatus, actor Actor, opts TransitionOptions) *models.StatusChange {
	now := time.Now()
	change := &models.StatusChange{
		From: ride.Status,
		To:   target,
		At:   now,
	}

	switch target {
	case models.RideStatusCompleted:
		change.Summary = s.tripSummary(ride, opts, now)
	case models.RideStatusCancelled:
		reason := opts.Reason
		if reason == "" {
			reason = fmt.Sprintf("cancelled by %s", actor.Role)
		}
		change.Cancellation = &models.Cancellation{Reason: reason, CancelledBy: actor.Role}
	}
	return change
}

// tripSummary freezes the final numbers. Actual distance and fare win
// over the estimates fixed at request time.
func (s *lifecycleService) tripSummary(ride *models.Ride, opts TransitionOptions, now time.Time) *models.TripSummary {
	summary := &models.TripSummary{
		DistanceKM:      ride.EstimatedDistance,
		DurationMinutes: ride.EstimatedDuration,
		Fare:            ride.Pricing.TotalEstimated,
		CarbonSaved:     ride.CarbonFootprint.EstimatedSaved,
		UsedEstimate:    true,
	}

	if opts.ActualDistanceKM != nil {
		summary.DistanceKM = *opts.ActualDistanceKM
		summary.CarbonSaved = utils.RoundTo(*opts.ActualDistanceKM*s.config.EmissionFactorKgPerKM, 3)
		summary.UsedEstimate = false
	}
	if opts.ActualFare != nil {
		summary.Fare = utils.RoundCurrency(*opts.ActualFare, ride.Pricing.Currency)
	}
	if ride.StartedAt != nil {
		summary.DurationMinutes = int(math.Ceil(now.Sub(*ride.StartedAt).Minutes()))
	}
	if s.config.KgCO2PerTree > 0 {
		summary.TreeEquivalent = utils.RoundTo(summary.CarbonSaved/s.config.KgCO2PerTree, 4)
	}
	return summary
}

func authorizeTransition(ride *models.Ride, target models.RideStatus, actor Actor, opts TransitionOptions) error {
	isDriver := actor.Role == models.ActorDriver && ride.IsAssignedDriver(actor.ID)

	switch target {
	case models.RideStatusMatched:
		if actor.Role != models.ActorSystem {
			return ErrUnauthorized
		}
	case models.RideStatusDriverEnRoute, models.RideStatusArrived, models.RideStatusCompleted:
		if !isDriver {
			return ErrUnauthorized
		}
	case models.RideStatusInProgress:
		if !isDriver {
			return ErrUnauthorized
		}
		if ride.OTP != "" && opts.OTP != ride.OTP {
			return ErrInvalidOTP
		}
	case models.RideStatusCancelled:
		isRider := actor.Role == models.ActorRider && ride.RiderID == actor.ID
		if !isRider && !isDriver && actor.Role != models.ActorSystem {
			return ErrUnauthorized
		}
	}
	return nil
}
