package mongodb

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/pkg/database"
	"ridedispatch/pkg/logger"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// newTestDatabase connects to MONGODB_URI and returns a migrated database
// that is dropped when the test ends.
func newTestDatabase(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set, skipping mongodb integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("mongodb not reachable at MONGODB_URI: %v", err)
	}

	db := client.Database("ridedispatch_test_" + primitive.NewObjectID().Hex())
	require.NoError(t, database.NewMigrator(db, logger.NewNop()).Up(ctx))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// seedDriver stores an approved driver and brings it online at lat/lng.
func seedDriver(t *testing.T, ctx context.Context, repo *driverRepository, name string, lat, lng float64) *models.Driver {
	t.Helper()

	driver := &models.Driver{
		ID:                    primitive.NewObjectID(),
		Name:                  name,
		Phone:                 "+15550100",
		Vehicle:               models.Vehicle{Make: "Toyota", Model: "Prius", Color: "Blue", LicensePlate: "ECO-42"},
		LicenseStatus:         models.DocumentStatusApproved,
		InsuranceStatus:       models.DocumentStatusApproved,
		BackgroundCheckStatus: models.DocumentStatusApproved,
	}
	require.NoError(t, repo.Upsert(ctx, driver))

	location := models.NewPoint(lat, lng)
	online, err := repo.SetOnline(ctx, driver.ID, true, &location)
	require.NoError(t, err)
	require.True(t, online.IsAvailable)
	return online
}

func seedRide(t *testing.T, ctx context.Context, repo *rideRepository, status models.RideStatus, driverID *primitive.ObjectID) *models.Ride {
	t.Helper()

	ride := &models.Ride{
		PickupCode:  "RD-TEST",
		OTP:         "4821",
		RiderID:     primitive.NewObjectID(),
		DriverID:    driverID,
		Pickup:      models.NewPoint(40.7128, -74.0060),
		Destination: models.NewPoint(40.7580, -73.9855),
		Status:      status,
		Pricing:     models.Pricing{TotalEstimated: 18.5, Currency: "USD"},
	}
	require.NoError(t, repo.Create(ctx, ride))
	return ride
}

// mapCache is an in-memory CacheService.
type mapCache struct {
	mu     sync.Mutex
	rides  map[primitive.ObjectID]*models.Ride
	stores int
}

func newMapCache() *mapCache {
	return &mapCache{rides: make(map[primitive.ObjectID]*models.Ride)}
}

func (c *mapCache) Get(ctx context.Context, key string, dest interface{}) error {
	return mongo.ErrNoDocuments
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (c *mapCache) Delete(ctx context.Context, keys ...string) error { return nil }

func (c *mapCache) Ping(ctx context.Context) error { return nil }

func (c *mapCache) CacheRide(ctx context.Context, ride *models.Ride, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rides[ride.ID] = ride.Clone()
	c.stores++
	return nil
}

func (c *mapCache) GetCachedRide(ctx context.Context, rideID primitive.ObjectID) (*models.Ride, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ride, ok := c.rides[rideID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return ride.Clone(), nil
}

func (c *mapCache) storeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stores
}
