package memory

import (
	"context"
	"sort"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type rideRepository struct {
	store *Store
}

func NewRideRepository(store *Store) interfaces.RideRepository {
	return &rideRepository{store: store}
}

func (r *rideRepository) Create(ctx context.Context, ride *models.Ride) error {
	tx, unlock := r.store.lock(ctx)
	defer unlock()

	now := time.Now()
	if ride.ID.IsZero() {
		ride.ID = primitive.NewObjectID()
	}
	if ride.RequestedAt.IsZero() {
		ride.RequestedAt = now
	}
	ride.CreatedAt = now
	ride.UpdatedAt = now

	r.store.putRide(tx, ride.Clone())
	return nil
}

func (r *rideRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error) {
	_, unlock := r.store.lock(ctx)
	defer unlock()

	ride, ok := r.store.rides[id]
	if !ok {
		return nil, interfaces.ErrRideNotFound
	}
	return ride.Clone(), nil
}

func (r *rideRepository) ListForUser(ctx context.Context, userID primitive.ObjectID, role models.ActorRole, statuses []models.RideStatus) ([]*models.Ride, error) {
	_, unlock := r.store.lock(ctx)
	defer unlock()

	if len(statuses) == 0 {
		statuses = models.ActiveStatuses()
	}
	wanted := make(map[models.RideStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	rides := make([]*models.Ride, 0)
	for _, ride := range r.store.rides {
		if !wanted[ride.Status] {
			continue
		}
		var match bool
		switch role {
		case models.ActorDriver:
			match = ride.IsAssignedDriver(userID)
		case models.ActorRider:
			match = ride.RiderID == userID
		default:
			match = ride.IsParticipant(userID)
		}
		if match {
			rides = append(rides, ride.Clone())
		}
	}

	sort.Slice(rides, func(i, j int) bool {
		if !rides[i].CreatedAt.Equal(rides[j].CreatedAt) {
			return rides[i].CreatedAt.After(rides[j].CreatedAt)
		}
		return rides[i].ID.Hex() > rides[j].ID.Hex()
	})
	return rides, nil
}

func (r *rideRepository) ApplyStatusChange(ctx context.Context, id primitive.ObjectID, change *models.StatusChange) (*models.Ride, error) {
	tx, unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.rides[id]
	if !ok {
		return nil, interfaces.ErrRideNotFound
	}
	if current.Status != change.From {
		return nil, interfaces.ErrStatusConflict
	}

	updated := current.Clone()
	change.Apply(updated)
	r.store.putRide(tx, updated)
	return updated.Clone(), nil
}

func (r *rideRepository) UpdateDriverLocation(ctx context.Context, rideID, driverID primitive.ObjectID, location models.Location, at time.Time) (bool, error) {
	tx, unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.rides[rideID]
	if !ok {
		return false, interfaces.ErrRideNotFound
	}
	if !current.IsAssignedDriver(driverID) || !current.Status.HasDriverPhase() {
		return false, nil
	}
	if current.DriverLocation != nil && !current.DriverLocation.LastUpdated.Before(at) {
		return false, nil
	}

	updated := current.Clone()
	updated.DriverLocation = &models.DriverLocation{Location: location.Normalize(), LastUpdated: at}
	updated.UpdatedAt = time.Now()
	r.store.putRide(tx, updated)
	return true, nil
}
