package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"
	"ridedispatch/internal/services"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	rideCacheTTL   = 10 * time.Minute
	activeRideList = 50
)

type rideRepository struct {
	collection *mongo.Collection
	cache      services.CacheService
}

func NewRideRepository(db *mongo.Database, cache services.CacheService) interfaces.RideRepository {
	return &rideRepository{
		collection: db.Collection("rides"),
		cache:      cache,
	}
}

func (r *rideRepository) Create(ctx context.Context, ride *models.Ride) error {
	now := time.Now()
	if ride.ID.IsZero() {
		ride.ID = primitive.NewObjectID()
	}
	if ride.RequestedAt.IsZero() {
		ride.RequestedAt = now
	}
	ride.CreatedAt = now
	ride.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, ride); err != nil {
		return fmt.Errorf("failed to create ride: %w", err)
	}

	return nil
}

func (r *rideRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Ride, error) {
	inTxn := mongo.SessionFromContext(ctx) != nil
	if !inTxn {
		if ride := r.getRideFromCache(ctx, id); ride != nil {
			return ride, nil
		}
	}

	var ride models.Ride
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&ride)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrRideNotFound
		}
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}

	// Terminal rides never change again, so only they are safe to serve
	// from cache to pollers.
	if !inTxn && ride.Status.IsTerminal() {
		r.cacheRide(ctx, &ride)
	}

	return &ride, nil
}

func (r *rideRepository) ListForUser(ctx context.Context, userID primitive.ObjectID, role models.ActorRole, statuses []models.RideStatus) ([]*models.Ride, error) {
	if len(statuses) == 0 {
		statuses = models.ActiveStatuses()
	}

	filter := bson.M{"status": bson.M{"$in": statuses}}
	switch role {
	case models.ActorDriver:
		filter["driver_id"] = userID
	case models.ActorRider:
		filter["rider_id"] = userID
	default:
		filter["$or"] = []bson.M{{"rider_id": userID}, {"driver_id": userID}}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(activeRideList)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list rides: %w", err)
	}
	defer cursor.Close(ctx)

	rides := make([]*models.Ride, 0)
	for cursor.Next(ctx) {
		var ride models.Ride
		if err := cursor.Decode(&ride); err != nil {
			return nil, fmt.Errorf("failed to decode ride: %w", err)
		}
		rides = append(rides, &ride)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rides: %w", err)
	}

	return rides, nil
}

// ApplyStatusChange is a single conditional update. The filter pins the
// expected status so concurrent writers cannot both succeed, and the
// timestamp is only written when still null.
func (r *rideRepository) ApplyStatusChange(ctx context.Context, id primitive.ObjectID, change *models.StatusChange) (*models.Ride, error) {
	set := bson.M{
		"status":     change.To,
		"updated_at": change.At,
	}
	if field := models.StatusTimestampField(change.To); field != "" {
		set[field] = bson.M{"$ifNull": bson.A{"$" + field, change.At}}
	}
	if change.DriverID != nil {
		set["driver_id"] = *change.DriverID
	}
	if change.Driver != nil {
		set["driver"] = bson.M{"$literal": change.Driver}
	}
	if change.Summary != nil {
		set["trip_summary"] = bson.M{"$literal": change.Summary}
		set["pricing.total_actual"] = change.Summary.Fare
		set["carbon_footprint.actual_saved"] = change.Summary.CarbonSaved
	}
	if change.Cancellation != nil {
		set["cancellation"] = bson.M{"$literal": change.Cancellation}
	}

	filter := bson.M{"_id": id, "status": change.From}
	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ride models.Ride
	err := r.collection.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&ride)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, r.missReason(ctx, id)
		}
		return nil, fmt.Errorf("failed to update ride status: %w", err)
	}

	return &ride, nil
}

func (r *rideRepository) UpdateDriverLocation(ctx context.Context, rideID, driverID primitive.ObjectID, location models.Location, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":       rideID,
		"driver_id": driverID,
		"status": bson.M{"$in": []models.RideStatus{
			models.RideStatusMatched,
			models.RideStatusDriverEnRoute,
			models.RideStatusArrived,
			models.RideStatusInProgress,
		}},
		"$or": []bson.M{
			{"driver_location": nil},
			{"driver_location.last_updated": bson.M{"$lt": at}},
		},
	}
	update := bson.M{"$set": bson.M{
		"driver_location": models.DriverLocation{Location: location.Normalize(), LastUpdated: at},
		"updated_at":      time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update ride driver location: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func (r *rideRepository) missReason(ctx context.Context, id primitive.ObjectID) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check ride: %w", err)
	}
	if count == 0 {
		return interfaces.ErrRideNotFound
	}
	return interfaces.ErrStatusConflict
}

func (r *rideRepository) cacheRide(ctx context.Context, ride *models.Ride) {
	if r.cache != nil {
		r.cache.CacheRide(ctx, ride, rideCacheTTL)
	}
}

func (r *rideRepository) getRideFromCache(ctx context.Context, id primitive.ObjectID) *models.Ride {
	if r.cache == nil {
		return nil
	}
	ride, err := r.cache.GetCachedRide(ctx, id)
	if err != nil {
		return nil
	}
	return ride
}
