package services

import (
	"context"
	"errors"
	"testing"

	"ridedispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTransitionFullTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride, driver := f.matchedRide(t)
	actor := driverActor(driver.ID)

	enRoute, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusDriverEnRoute, actor, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusDriverEnRoute, enRoute.Status)
	require.NotNil(t, enRoute.DriverEnRouteAt)

	arrived, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusArrived, actor, TransitionOptions{})
	require.NoError(t, err)
	require.NotNil(t, arrived.ArrivedAt)

	started, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusInProgress, actor, TransitionOptions{OTP: ride.OTP})
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)

	completed, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusCompleted, actor, TransitionOptions{
		ActualDistanceKM: float(8.5),
	})
	require.NoError(t, err)

	assert.Equal(t, models.RideStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.CarbonFootprint.ActualSaved)
	assert.InDelta(t, 2.125, *completed.CarbonFootprint.ActualSaved, 1e-9)
	require.NotNil(t, completed.TripSummary)
	assert.InDelta(t, 8.5, completed.TripSummary.DistanceKM, 1e-9)
	assert.InDelta(t, 2.125/21, completed.TripSummary.TreeEquivalent, 1e-4)
	assert.False(t, completed.TripSummary.UsedEstimate)
	require.NotNil(t, completed.Pricing.TotalActual)
	assert.Equal(t, ride.Pricing.TotalEstimated, *completed.Pricing.TotalActual)

	released := f.driver(t, driver.ID)
	assert.True(t, released.IsAvailable)
	assert.Nil(t, released.CurrentRideID)
}

func TestTransitionTimestampsAreWrittenOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride, driver := f.matchedRide(t)
	matchedAt := *ride.MatchedAt

	_, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusArrived, driverActor(driver.ID), TransitionOptions{})
	require.NoError(t, err)
	_, err = f.lifecycle.Transition(ctx, ride.ID, models.RideStatusCancelled, riderActor(ride.RiderID), TransitionOptions{Reason: "changed plans"})
	require.NoError(t, err)

	stored := f.ride(t, ride.ID)
	assert.True(t, stored.MatchedAt.Equal(matchedAt))
	assert.Equal(t, stored.RequestedAt, ride.RequestedAt)
	assert.Nil(t, stored.DriverEnRouteAt, "skipped status must stay unset")
	require.NotNil(t, stored.ArrivedAt)
	require.NotNil(t, stored.CancelledAt)
	assert.False(t, stored.ArrivedAt.After(*stored.CancelledAt))
}

func TestTransitionFromTerminalIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride := f.newRide(t, primitive.NewObjectID(), 40.7, -74.0)

	cancelled, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusCancelled, riderActor(ride.RiderID), TransitionOptions{})
	require.NoError(t, err)
	cancelledAt := *cancelled.CancelledAt

	for _, target := range []models.RideStatus{
		models.RideStatusMatched,
		models.RideStatusCancelled,
		models.RideStatusCompleted,
		models.RideStatusRequested,
	} {
		_, err := f.lifecycle.Transition(ctx, ride.ID, target, SystemActor(), TransitionOptions{})
		assert.ErrorIs(t, err, ErrRideCannotBeUpdated, "target %s", target)
	}

	stored := f.ride(t, ride.ID)
	assert.Equal(t, models.RideStatusCancelled, stored.Status)
	assert.True(t, stored.CancelledAt.Equal(cancelledAt))
}

func TestTransitionAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride, driver := f.matchedRide(t)
	stranger := primitive.NewObjectID()

	tests := []struct {
		name   string
		target models.RideStatus
		actor  Actor
		want   error
	}{
		{"other driver marks arrived", models.RideStatusArrived, driverActor(stranger), ErrUnauthorized},
		{"rider marks arrived", models.RideStatusArrived, riderActor(ride.RiderID), ErrUnauthorized},
		{"system marks en route", models.RideStatusDriverEnRoute, SystemActor(), ErrUnauthorized},
		{"stranger cancels", models.RideStatusCancelled, riderActor(stranger), ErrUnauthorized},
		{"driver id with rider role", models.RideStatusArrived, riderActor(driver.ID), ErrUnauthorized},
		{"skip to in progress", models.RideStatusInProgress, driverActor(driver.ID), ErrInvalidTransition},
		{"back to requested", models.RideStatusRequested, SystemActor(), ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.lifecycle.Transition(ctx, ride.ID, tt.target, tt.actor, TransitionOptions{})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, models.RideStatusMatched, f.ride(t, ride.ID).Status)
}

func TestTransitionMatchedRequiresSystem(t *testing.T) {
	f := newFixture(t)
	ride := f.newRide(t, primitive.NewObjectID(), 40.7, -74.0)

	_, err := f.lifecycle.Transition(context.Background(), ride.ID, models.RideStatusMatched, riderActor(ride.RiderID), TransitionOptions{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTransitionStartRequiresOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride, driver := f.matchedRide(t)
	actor := driverActor(driver.ID)

	_, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusArrived, actor, TransitionOptions{})
	require.NoError(t, err)

	_, err = f.lifecycle.Transition(ctx, ride.ID, models.RideStatusInProgress, actor, TransitionOptions{OTP: "0000"})
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.Equal(t, KindValidation, AsDispatchError(err).Kind)

	started, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusInProgress, actor, TransitionOptions{OTP: ride.OTP})
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusInProgress, started.Status)
}

func TestCancelReleasesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride, driver := f.matchedRide(t)
	assert.False(t, f.driver(t, driver.ID).IsAvailable)

	cancelled, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusCancelled, riderActor(ride.RiderID), TransitionOptions{Reason: "too slow"})
	require.NoError(t, err)

	assert.Equal(t, models.RideStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Cancellation)
	assert.Equal(t, "too slow", cancelled.Cancellation.Reason)
	assert.Equal(t, models.ActorRider, cancelled.Cancellation.CancelledBy)

	released := f.driver(t, driver.ID)
	assert.True(t, released.IsAvailable)
	assert.Nil(t, released.CurrentRideID)
}

func TestCancelByDriverDefaultsReason(t *testing.T) {
	f := newFixture(t)
	ride, driver := f.matchedRide(t)

	cancelled, err := f.lifecycle.Transition(context.Background(), ride.ID, models.RideStatusCancelled, driverActor(driver.ID), TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cancelled by driver", cancelled.Cancellation.Reason)
	assert.Equal(t, models.ActorDriver, cancelled.Cancellation.CancelledBy)
}

func TestCancelledDriverGoesOfflineStaysUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride, driver := f.matchedRide(t)

	_, err := f.drivers.SetOnline(ctx, driver.ID, false, nil)
	require.NoError(t, err)

	_, err = f.lifecycle.Transition(ctx, ride.ID, models.RideStatusCancelled, SystemActor(), TransitionOptions{})
	require.NoError(t, err)

	released := f.driver(t, driver.ID)
	assert.False(t, released.IsAvailable, "an offline driver is never available")
	assert.Nil(t, released.CurrentRideID)
}

func TestCompletionFallsBackToEstimates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride, driver := f.matchedRide(t)
	actor := driverActor(driver.ID)

	_, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusArrived, actor, TransitionOptions{})
	require.NoError(t, err)
	_, err = f.lifecycle.Transition(ctx, ride.ID, models.RideStatusInProgress, actor, TransitionOptions{OTP: ride.OTP})
	require.NoError(t, err)

	completed, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusCompleted, actor, TransitionOptions{ActualFare: float(14.499)})
	require.NoError(t, err)

	assert.InDelta(t, ride.CarbonFootprint.EstimatedSaved, *completed.CarbonFootprint.ActualSaved, 1e-9)
	assert.InDelta(t, ride.EstimatedDistance, completed.TripSummary.DistanceKM, 1e-9)
	assert.True(t, completed.TripSummary.UsedEstimate)
	assert.InDelta(t, 14.5, *completed.Pricing.TotalActual, 1e-9)
	assert.GreaterOrEqual(t, completed.TripSummary.DurationMinutes, 0)
}

func TestTransitionNotificationFailureKeepsStatus(t *testing.T) {
	f := newFixture(t, withFailingSink(errors.New("push transport down")))
	ctx := context.Background()
	ride, driver := f.matchedRide(t)

	arrived, err := f.lifecycle.Transition(ctx, ride.ID, models.RideStatusArrived, driverActor(driver.ID), TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusArrived, arrived.Status)
	assert.Equal(t, models.RideStatusArrived, f.ride(t, ride.ID).Status)
}

func TestTransitionEmitsStatusUpdates(t *testing.T) {
	f := newFixture(t)
	ride, driver := f.matchedRide(t)

	_, err := f.lifecycle.Transition(context.Background(), ride.ID, models.RideStatusArrived, driverActor(driver.ID), TransitionOptions{})
	require.NoError(t, err)

	channels := f.sink.channels(models.EventRideStatusUpdate)
	assert.Contains(t, channels, models.RiderChannel(ride.RiderID))
	assert.Contains(t, channels, models.DriverChannel(driver.ID))

	var sounds []string
	for _, env := range f.sink.envelopes(models.EventNotificationSound) {
		event, err := env.Decode()
		require.NoError(t, err)
		sounds = append(sounds, event.(models.SoundEvent).Sound)
	}
	assert.Contains(t, sounds, "driver_arrived")
}

func TestTransitionRideNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.lifecycle.Transition(context.Background(), primitive.NewObjectID(), models.RideStatusCancelled, SystemActor(), TransitionOptions{})
	assert.ErrorIs(t, err, ErrRideNotFound)
	assert.Equal(t, KindNotFound, AsDispatchError(err).Kind)
}

func TestTransitionUnknownStatus(t *testing.T) {
	f := newFixture(t)
	ride := f.newRide(t, primitive.NewObjectID(), 40.7, -74.0)
	_, err := f.lifecycle.Transition(context.Background(), ride.ID, models.RideStatus("teleported"), SystemActor(), TransitionOptions{})
	assert.Equal(t, KindValidation, AsDispatchError(err).Kind)
}
