package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type driverRepository struct {
	collection *mongo.Collection
}

func NewDriverRepository(db *mongo.Database) interfaces.DriverRepository {
	return &driverRepository{
		collection: db.Collection("drivers"),
	}
}

// matchableFilter mirrors models.Driver.CanBeMatched.
func matchableFilter() bson.M {
	return bson.M{
		"is_online":               true,
		"is_available":            true,
		"current_ride_id":         nil,
		"license_status":          models.DocumentStatusApproved,
		"insurance_status":        models.DocumentStatusApproved,
		"background_check_status": models.DocumentStatusApproved,
	}
}

func (r *driverRepository) Upsert(ctx context.Context, driver *models.Driver) error {
	now := time.Now()
	driver.UpdatedAt = now

	update := bson.M{
		"$set": bson.M{
			"name":                    driver.Name,
			"phone":                   driver.Phone,
			"vehicle":                 driver.Vehicle,
			"license_status":          driver.LicenseStatus,
			"insurance_status":        driver.InsuranceStatus,
			"background_check_status": driver.BackgroundCheckStatus,
			"device_token":            driver.DeviceToken,
			"device_platform":         driver.DevicePlatform,
			"updated_at":              now,
		},
		"$setOnInsert": bson.M{
			"is_online":            false,
			"is_available":         false,
			"current_ride_id":      nil,
			"last_location_update": nil,
			"created_at":           now,
		},
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": driver.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert driver: %w", err)
	}

	return nil
}

func (r *driverRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error) {
	var driver models.Driver
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&driver)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrDriverNotFound
		}
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}

	return &driver, nil
}

func (r *driverRepository) SetOnline(ctx context.Context, id primitive.ObjectID, online bool, location *models.Location) (*models.Driver, error) {
	now := time.Now()

	var available interface{} = false
	if online {
		available = bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$current_ride_id", nil}}, nil}}
	}
	set := bson.M{
		"is_online":    online,
		"is_available": available,
		"updated_at":   now,
	}
	if location != nil {
		set["current_location"] = bson.M{"$literal": location.Normalize()}
		set["last_location_update"] = now
	}

	var driver models.Driver
	err := r.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		mongo.Pipeline{{{Key: "$set", Value: set}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&driver)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrDriverNotFound
		}
		return nil, fmt.Errorf("failed to update driver status: %w", err)
	}

	return &driver, nil
}

func (r *driverRepository) UpdateLocation(ctx context.Context, id primitive.ObjectID, location models.Location, at time.Time) (bool, error) {
	filter := bson.M{
		"_id": id,
		"$or": []bson.M{
			{"last_location_update": nil},
			{"last_location_update": bson.M{"$lt": at}},
		},
	}
	update := bson.M{"$set": bson.M{
		"current_location":     location.Normalize(),
		"last_location_update": at,
		"updated_at":           time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update driver location: %w", err)
	}
	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
		if err != nil {
			return false, fmt.Errorf("failed to check driver: %w", err)
		}
		if count == 0 {
			return false, interfaces.ErrDriverNotFound
		}
	}

	return result.ModifiedCount > 0, nil
}

func (r *driverRepository) FindAvailableNear(ctx context.Context, point models.Location, radiusKM float64, limit int, maxAge time.Duration) ([]*models.NearbyDriver, error) {
	query := matchableFilter()
	if maxAge > 0 {
		query["last_location_update"] = bson.M{"$gte": time.Now().Add(-maxAge)}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: bson.M{
			"near": bson.M{
				"type":        "Point",
				"coordinates": []float64{point.Longitude(), point.Latitude()},
			},
			"distanceField": "distance_m",
			"maxDistance":   radiusKM * 1000,
			"spherical":     true,
			"query":         query,
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "distance_m", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearby drivers: %w", err)
	}
	defer cursor.Close(ctx)

	candidates := make([]*models.NearbyDriver, 0, limit)
	for cursor.Next(ctx) {
		var row struct {
			models.Driver `bson:",inline"`
			DistanceM     float64 `bson:"distance_m"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode driver: %w", err)
		}
		driver := row.Driver
		candidates = append(candidates, &models.NearbyDriver{
			Driver:     &driver,
			DistanceKM: row.DistanceM / 1000,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nearby drivers: %w", err)
	}

	models.SortNearby(candidates)
	return candidates, nil
}

// Claim is a compare-and-set on the availability flag: the filter only
// matches while the driver is still matchable.
func (r *driverRepository) Claim(ctx context.Context, driverID, rideID primitive.ObjectID) (*models.Driver, error) {
	filter := matchableFilter()
	filter["_id"] = driverID

	update := bson.M{"$set": bson.M{
		"is_available":    false,
		"current_ride_id": rideID,
		"updated_at":      time.Now(),
	}}

	var driver models.Driver
	err := r.collection.FindOneAndUpdate(
		ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&driver)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim driver: %w", err)
	}

	return &driver, nil
}

func (r *driverRepository) Release(ctx context.Context, driverID, rideID primitive.ObjectID) error {
	filter := bson.M{"_id": driverID, "current_ride_id": rideID}
	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"is_available":    "$is_online",
		"current_ride_id": nil,
		"updated_at":      time.Now(),
	}}}}

	if _, err := r.collection.UpdateOne(ctx, filter, pipeline); err != nil {
		return fmt.Errorf("failed to release driver: %w", err)
	}

	return nil
}
