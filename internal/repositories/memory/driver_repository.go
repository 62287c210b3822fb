package memory

import (
	"context"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"
	"ridedispatch/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type driverRepository struct {
	store *Store
}

func NewDriverRepository(store *Store) interfaces.DriverRepository {
	return &driverRepository{store: store}
}

func (r *driverRepository) Upsert(ctx context.Context, driver *models.Driver) error {
	tx, unlock := r.store.lock(ctx)
	defer unlock()

	now := time.Now()
	driver.UpdatedAt = now

	existing, ok := r.store.drivers[driver.ID]
	var next *models.Driver
	if ok {
		next = existing.Clone()
		next.Name = driver.Name
		next.Phone = driver.Phone
		next.Vehicle = driver.Vehicle
		next.LicenseStatus = driver.LicenseStatus
		next.InsuranceStatus = driver.InsuranceStatus
		next.BackgroundCheckStatus = driver.BackgroundCheckStatus
		next.DeviceToken = driver.DeviceToken
		next.DevicePlatform = driver.DevicePlatform
		next.UpdatedAt = now
	} else {
		next = driver.Clone()
		next.IsOnline = false
		next.IsAvailable = false
		next.CurrentRideID = nil
		next.LastLocationUpdate = nil
		next.CreatedAt = now
	}

	r.store.putDriver(tx, next)
	return nil
}

func (r *driverRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error) {
	_, unlock := r.store.lock(ctx)
	defer unlock()

	driver, ok := r.store.drivers[id]
	if !ok {
		return nil, interfaces.ErrDriverNotFound
	}
	return driver.Clone(), nil
}

func (r *driverRepository) SetOnline(ctx context.Context, id primitive.ObjectID, online bool, location *models.Location) (*models.Driver, error) {
	tx, unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.drivers[id]
	if !ok {
		return nil, interfaces.ErrDriverNotFound
	}

	now := time.Now()
	next := current.Clone()
	next.IsOnline = online
	next.IsAvailable = online && next.CurrentRideID == nil
	next.UpdatedAt = now
	if location != nil {
		loc := location.Normalize()
		next.CurrentLocation = &loc
		next.LastLocationUpdate = &now
	}

	r.store.putDriver(tx, next)
	return next.Clone(), nil
}

func (r *driverRepository) UpdateLocation(ctx context.Context, id primitive.ObjectID, location models.Location, at time.Time) (bool, error) {
	tx, unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.drivers[id]
	if !ok {
		return false, interfaces.ErrDriverNotFound
	}
	if current.LastLocationUpdate != nil && !current.LastLocationUpdate.Before(at) {
		return false, nil
	}

	next := current.Clone()
	loc := location.Normalize()
	next.CurrentLocation = &loc
	next.LastLocationUpdate = &at
	next.UpdatedAt = time.Now()
	r.store.putDriver(tx, next)
	return true, nil
}

func (r *driverRepository) FindAvailableNear(ctx context.Context, point models.Location, radiusKM float64, limit int, maxAge time.Duration) ([]*models.NearbyDriver, error) {
	_, unlock := r.store.lock(ctx)
	defer unlock()

	cutoff := time.Now().Add(-maxAge)
	candidates := make([]*models.NearbyDriver, 0)
	for _, driver := range r.store.drivers {
		if !driver.CanBeMatched() || driver.CurrentLocation == nil || !driver.CurrentLocation.HasCoordinates() {
			continue
		}
		if maxAge > 0 && (driver.LastLocationUpdate == nil || driver.LastLocationUpdate.Before(cutoff)) {
			continue
		}
		distance := utils.CalculateDistance(
			point.Latitude(), point.Longitude(),
			driver.CurrentLocation.Latitude(), driver.CurrentLocation.Longitude(),
		)
		if distance > radiusKM {
			continue
		}
		candidates = append(candidates, &models.NearbyDriver{Driver: driver.Clone(), DistanceKM: distance})
	}

	models.SortNearby(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (r *driverRepository) Claim(ctx context.Context, driverID, rideID primitive.ObjectID) (*models.Driver, error) {
	tx, unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.drivers[driverID]
	if !ok || !current.CanBeMatched() {
		return nil, nil
	}

	next := current.Clone()
	next.IsAvailable = false
	id := rideID
	next.CurrentRideID = &id
	next.UpdatedAt = time.Now()
	r.store.putDriver(tx, next)
	return next.Clone(), nil
}

func (r *driverRepository) Release(ctx context.Context, driverID, rideID primitive.ObjectID) error {
	tx, unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.drivers[driverID]
	if !ok || current.CurrentRideID == nil || *current.CurrentRideID != rideID {
		return nil
	}

	next := current.Clone()
	next.IsAvailable = next.IsOnline
	next.CurrentRideID = nil
	next.UpdatedAt = time.Now()
	r.store.putDriver(tx, next)
	return nil
}
