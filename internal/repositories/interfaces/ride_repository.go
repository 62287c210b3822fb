package interfaces

import (
	"context"
	"errors"
	"time"

	"ridedispatch/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrRideNotFound   = errors.New("ride not found")
	ErrDriverNotFound = errors.New("driver not found")
	// ErrStatusConflict means the ride was no longer in the expected status
	// when the write was attempted.
	ErrStatusConflict = errors.New("ride status changed concurrently")
)

type RideRepository interface {
	Create(ctx context.Context, ride *models.Ride) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error)

	// ListForUser returns rides where userID is the rider or the driver,
	// newest first. An empty statuses slice means every non-terminal status.
	ListForUser(ctx context.Context, userID primitive.ObjectID, role models.ActorRole, statuses []models.RideStatus) ([]*models.Ride, error)

	// ApplyStatusChange writes change only while the ride status still equals
	// change.From and returns the updated ride. Returns ErrStatusConflict otherwise.
	ApplyStatusChange(ctx context.Context, id primitive.ObjectID, change *models.StatusChange) (*models.Ride, error)

	// UpdateDriverLocation stores the driver position on the ride when at is
	// newer than the stored one. Reports whether anything was written.
	UpdateDriverLocation(ctx context.Context, rideID, driverID primitive.ObjectID, location models.Location, at time.Time) (bool, error)
}

// Transactor runs fn so that every repository write made with the ctx it
// receives commits together or not at all.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
