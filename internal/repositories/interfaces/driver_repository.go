package interfaces

import (
	"context"
	"time"

	"ridedispatch/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DriverRepository interface {
	// Upsert creates or replaces the driver profile. Availability state of an
	// existing record is preserved.
	Upsert(ctx context.Context, driver *models.Driver) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error)

	// SetOnline toggles the online flag. Going offline always clears
	// availability; coming online makes the driver available unless a ride
	// is still attached.
	SetOnline(ctx context.Context, id primitive.ObjectID, online bool, location *models.Location) (*models.Driver, error)

	// UpdateLocation stores the driver position when at is newer than the
	// stored one. Reports whether anything was written.
	UpdateLocation(ctx context.Context, id primitive.ObjectID, location models.Location, at time.Time) (bool, error)

	// FindAvailableNear returns matchable drivers within radiusKM of point whose
	// location is not older than maxAge, nearest first, ties by lowest id.
	FindAvailableNear(ctx context.Context, point models.Location, radiusKM float64, limit int, maxAge time.Duration) ([]*models.NearbyDriver, error)

	// Claim atomically marks the driver unavailable and attached to rideID if,
	// and only if, it is still matchable. Returns nil, nil when the driver was
	// taken or went offline in the meantime.
	Claim(ctx context.Context, driverID, rideID primitive.ObjectID) (*models.Driver, error)

	// Release detaches rideID from the driver. A driver attached to another
	// ride is left untouched.
	Release(ctx context.Context, driverID, rideID primitive.ObjectID) error
}
