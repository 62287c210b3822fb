package mongodb

import (
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestApplyStatusChangeCompareAndSet(t *testing.T) {
	db := newTestDatabase(t)
	ctx := testContext(t)
	repo := NewRideRepository(db, nil).(*rideRepository)

	ride := seedRide(t, ctx, repo, models.RideStatusRequested, nil)
	driverID := primitive.NewObjectID()
	at := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)

	updated, err := repo.ApplyStatusChange(ctx, ride.ID, &models.StatusChange{
		From:     models.RideStatusRequested,
		To:       models.RideStatusMatched,
		At:       at,
		DriverID: &driverID,
		Driver:   &models.DriverSnapshot{Name: "Ana", Vehicle: "Blue Toyota Prius", LicensePlate: "ECO-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusMatched, updated.Status)
	require.NotNil(t, updated.DriverID)
	assert.Equal(t, driverID, *updated.DriverID)
	require.NotNil(t, updated.MatchedAt)
	assert.True(t, updated.MatchedAt.Equal(at))
	require.NotNil(t, updated.Driver)
	assert.Equal(t, "Ana", updated.Driver.Name)

	// The ride already left requested.
	_, err = repo.ApplyStatusChange(ctx, ride.ID, &models.StatusChange{
		From: models.RideStatusRequested,
		To:   models.RideStatusCancelled,
		At:   at.Add(time.Minute),
	})
	assert.ErrorIs(t, err, interfaces.ErrStatusConflict)

	stored, err := repo.GetByID(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusMatched, stored.Status)
	assert.Nil(t, stored.CancelledAt)

	_, err = repo.ApplyStatusChange(ctx, primitive.NewObjectID(), &models.StatusChange{
		From: models.RideStatusRequested,
		To:   models.RideStatusMatched,
		At:   at,
	})
	assert.ErrorIs(t, err, interfaces.ErrRideNotFound)
}

func TestApplyStatusChangeHasOneWinner(t *testing.T) {
	db := newTestDatabase(t)
	ctx := testContext(t)
	repo := NewRideRepository(db, nil).(*rideRepository)

	ride := seedRide(t, ctx, repo, models.RideStatusRequested, nil)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []primitive.ObjectID
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			driverID := primitive.NewObjectID()
			_, err := repo.ApplyStatusChange(ctx, ride.ID, &models.StatusChange{
				From:     models.RideStatusRequested,
				To:       models.RideStatusMatched,
				At:       time.Now(),
				DriverID: &driverID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, driverID)
			case assert.ErrorIs(t, err, interfaces.ErrStatusConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, writers-1, conflicts)

	stored, err := repo.GetByID(ctx, ride.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DriverID)
	assert.Equal(t, winners[0], *stored.DriverID)
}

func TestApplyStatusChangeKeepsFirstTimestamp(t *testing.T) {
	db := newTestDatabase(t)
	ctx := testContext(t)
	repo := NewRideRepository(db, nil).(*rideRepository)

	first := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)
	ride := &models.Ride{
		RiderID:   primitive.NewObjectID(),
		Pickup:    models.NewPoint(40.7128, -74.0060),
		Status:    models.RideStatusRequested,
		MatchedAt: &first,
	}
	require.NoError(t, repo.Create(ctx, ride))

	later := first.Add(10 * time.Minute)
	updated, err := repo.ApplyStatusChange(ctx, ride.ID, &models.StatusChange{
		From: models.RideStatusRequested,
		To:   models.RideStatusMatched,
		At:   later,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.MatchedAt)
	assert.True(t, updated.MatchedAt.Equal(first), "matched_at must keep the first write")
	assert.True(t, updated.UpdatedAt.Equal(later))
}

func TestApplyStatusChangeRecordsCompletion(t *testing.T) {
	db := newTestDatabase(t)
	ctx := testContext(t)
	repo := NewRideRepository(db, nil).(*rideRepository)

	driverID := primitive.NewObjectID()
	ride := seedRide(t, ctx, repo, models.RideStatusInProgress, &driverID)

	updated, err := repo.ApplyStatusChange(ctx, ride.ID, &models.StatusChange{
		From:    models.RideStatusInProgress,
		To:      models.RideStatusCompleted,
		At:      time.Now(),
		Summary: &models.TripSummary{DistanceKM: 6.2, DurationMinutes: 18, Fare: 21.4, CarbonSaved: 1.1},
	})
	require.NoError(t, err)
	assert.NotNil(t, updated.CompletedAt)
	require.NotNil(t, updated.TripSummary)
	assert.InDelta(t, 6.2, updated.TripSummary.DistanceKM, 1e-9)
	require.NotNil(t, updated.Pricing.TotalActual)
	assert.InDelta(t, 21.4, *updated.Pricing.TotalActual, 1e-9)
	require.NotNil(t, updated.CarbonFootprint.ActualSaved)
	assert.InDelta(t, 1.1, *updated.CarbonFootprint.ActualSaved, 1e-9)
	assert.InDelta(t, 18.5, updated.Pricing.TotalEstimated, 1e-9)
}

func TestListForUserFiltersByRoleAndStatus(t *testing.T) {
	db := newTestDatabase(t)
	ctx := testContext(t)
	repo := NewRideRepository(db, nil).(*rideRepository)

	driverID := primitive.NewObjectID()
	active := seedRide(t, ctx, repo, models.RideStatusMatched, &driverID)
	done := seedRide(t, ctx, repo, models.RideStatusCompleted, &driverID)

	rides, err := repo.ListForUser(ctx, driverID, models.ActorDriver, nil)
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, active.ID, rides[0].ID)

	rides, err = repo.ListForUser(ctx, driverID, models.ActorDriver, []models.RideStatus{models.RideStatusCompleted})
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, done.ID, rides[0].ID)

	rides, err = repo.ListForUser(ctx, active.RiderID, models.ActorRider, nil)
	require.NoError(t, err)
	require.Len(t, rides, 1)

	rides, err = repo.ListForUser(ctx, driverID, models.ActorRider, nil)
	require.NoError(t, err)
	assert.Empty(t, rides)
}

func TestUpdateDriverLocationOnlyMovesForward(t *testing.T) {
	db := newTestDatabase(t)
	ctx := testContext(t)
	repo := NewRideRepository(db, nil).(*rideRepository)

	driverID := primitive.NewObjectID()
	ride := seedRide(t, ctx, repo, models.RideStatusDriverEnRoute, &driverID)
	at := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	ok, err := repo.UpdateDriverLocation(ctx, ride.ID, driverID, models.NewPoint(40.71, -74.0), at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateDriverLocation(ctx, ride.ID, driverID, models.NewPoint(40.60, -74.0), at.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "an older tick must not overwrite a newer one")

	ok, err = repo.UpdateDriverLocation(ctx, ride.ID, primitive.NewObjectID(), models.NewPoint(40.80, -74.0), at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "only the assigned driver may move the ride")

	stored, err := repo.GetByID(ctx, ride.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DriverLocation)
	assert.InDelta(t, 40.71, stored.DriverLocation.Location.Latitude(), 1e-9)
}

func TestGetByIDCachesOnlyTerminalRides(t *testing.T) {
	db := newTestDatabase(t)
	ctx := testContext(t)
	cache := newMapCache()
	repo := NewRideRepository(db, cache).(*rideRepository)

	driverID := primitive.NewObjectID()
	active := seedRide(t, ctx, repo, models.RideStatusInProgress, &driverID)

	_, err := repo.GetByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Zero(t, cache.storeCount())

	_, err = repo.ApplyStatusChange(ctx, active.ID, &models.StatusChange{
		From: models.RideStatusInProgress,
		To:   models.RideStatusCompleted,
		At:   time.Now(),
	})
	require.NoError(t, err)

	first, err := repo.GetByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, first.Status)
	assert.Equal(t, 1, cache.storeCount())

	// Served from the cache without another store.
	second, err := repo.GetByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, second.Status)
	assert.Equal(t, 1, cache.storeCount())

	_, err = repo.GetByID(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, interfaces.ErrRideNotFound)
}
