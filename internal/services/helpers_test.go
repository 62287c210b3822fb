package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/config"
	"ridedispatch/internal/models"
	"ridedispatch/internal/repositories/interfaces"
	"ridedispatch/internal/repositories/memory"
	"ridedispatch/pkg/logger"
	"ridedispatch/pkg/maps"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type mockNotifier struct {
	mock.Mock
	mu sync.Mutex
}

func (m *mockNotifier) Publish(ctx context.Context, envelope models.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(ctx, envelope)
	return args.Error(0)
}

// envelopes returns the published envelopes of the given type in order.
func (m *mockNotifier) envelopes(eventType models.EventType) []models.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Envelope
	for _, call := range m.Calls {
		env := call.Arguments.Get(1).(models.Envelope)
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (m *mockNotifier) channels(eventType models.EventType) []string {
	var out []string
	for _, env := range m.envelopes(eventType) {
		out = append(out, env.Channel)
	}
	return out
}

func testDispatchConfig() *config.DispatchConfig {
	return &config.DispatchConfig{
		StoreDriver:           config.StoreMemory,
		SearchRadiusKM:        5,
		MaxSearchRadiusKM:     25,
		MaxMatchAttempts:      3,
		CandidateLimit:        10,
		DriverLocationMaxAge:  10 * time.Minute,
		EmissionFactorKgPerKM: 0.25,
		KgCO2PerTree:          21,
		BaseFare:              2.5,
		PerKMRate:             1.2,
		Currency:              "USD",
		OTPLength:             4,
		PickupCodeLength:      6,
		DispatchWorkers:       2,
		DispatchQueueSize:     16,
		TransitionRetries:     3,
	}
}

type fixture struct {
	store         *memory.Store
	rides         interfaces.RideRepository
	drivers       interfaces.DriverRepository
	sink          *mockNotifier
	notifications NotificationService
	matching      MatchingService
	lifecycle     LifecycleService
	rideService   RideService
	driverService DriverService
	config        *config.DispatchConfig
}

type fixtureOption func(*fixtureOptions)

type fixtureOptions struct {
	queue   MatchQueue
	maps    maps.MapsProvider
	drivers func(interfaces.DriverRepository) interfaces.DriverRepository
	sinkErr error
}

func withQueue(q MatchQueue) fixtureOption {
	return func(o *fixtureOptions) { o.queue = q }
}

func withMaps(p maps.MapsProvider) fixtureOption {
	return func(o *fixtureOptions) { o.maps = p }
}

func withDriverRepo(wrap func(interfaces.DriverRepository) interfaces.DriverRepository) fixtureOption {
	return func(o *fixtureOptions) { o.drivers = wrap }
}

func withFailingSink(err error) fixtureOption {
	return func(o *fixtureOptions) { o.sinkErr = err }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	var o fixtureOptions
	for _, opt := range opts {
		opt(&o)
	}

	store := memory.NewStore()
	rides := memory.NewRideRepository(store)
	drivers := memory.NewDriverRepository(store)
	if o.drivers != nil {
		drivers = o.drivers(drivers)
	}

	sink := &mockNotifier{}
	sink.On("Publish", mock.Anything, mock.Anything).Return(o.sinkErr)

	log := logger.NewNop()
	cfg := testDispatchConfig()
	notifications := NewNotificationService(log, time.Second, sink)
	matching := NewMatchingService(rides, drivers, store, notifications, cfg, log)
	lifecycle := NewLifecycleService(rides, drivers, store, notifications, cfg, log)

	return &fixture{
		store:         store,
		rides:         rides,
		drivers:       drivers,
		sink:          sink,
		notifications: notifications,
		matching:      matching,
		lifecycle:     lifecycle,
		rideService:   NewRideService(rides, drivers, store, matching, lifecycle, notifications, o.queue, o.maps, cfg, log),
		driverService: NewDriverService(drivers, rides, notifications, log),
		config:        cfg,
	}
}

// addDriver registers an approved driver that is online at lat/lng.
func (f *fixture) addDriver(t *testing.T, lat, lng float64) *models.Driver {
	t.Helper()
	return f.addDriverWithID(t, primitive.NewObjectID(), lat, lng)
}

func (f *fixture) addDriverWithID(t *testing.T, id primitive.ObjectID, lat, lng float64) *models.Driver {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.drivers.Upsert(ctx, &models.Driver{
		ID:                    id,
		Name:                  "Driver " + id.Hex()[18:],
		Phone:                 "+15550001111",
		Vehicle:               models.Vehicle{Make: "Toyota", Model: "Prius", Color: "Blue", LicensePlate: "ECO 123"},
		LicenseStatus:         models.DocumentStatusApproved,
		InsuranceStatus:       models.DocumentStatusApproved,
		BackgroundCheckStatus: models.DocumentStatusApproved,
		DeviceToken:           "device-" + id.Hex(),
		DevicePlatform:        models.PlatformAndroid,
	}))

	loc := models.NewPoint(lat, lng)
	driver, err := f.drivers.SetOnline(ctx, id, true, &loc)
	require.NoError(t, err)
	return driver
}

// newRide stores a requested ride with the given pickup.
func (f *fixture) newRide(t *testing.T, riderID primitive.ObjectID, lat, lng float64) *models.Ride {
	t.Helper()

	ride := &models.Ride{
		PickupCode:        "ABC234",
		OTP:               "4821",
		RiderID:           riderID,
		RiderPhone:        "+15557654321",
		Pickup:            models.NewPoint(lat, lng),
		Destination:       models.NewPoint(lat+0.05, lng+0.05),
		Status:            models.RideStatusRequested,
		EstimatedDistance: 7.2,
		EstimatedDuration: 15,
		Pricing:           models.Pricing{TotalEstimated: 11.14, Currency: "USD"},
		CarbonFootprint:   models.CarbonFootprint{EstimatedSaved: 1.8},
	}
	require.NoError(t, f.rides.Create(context.Background(), ride))
	return ride
}

// matchedRide returns a ride already matched to a fresh driver.
func (f *fixture) matchedRide(t *testing.T) (*models.Ride, *models.Driver) {
	t.Helper()

	driver := f.addDriver(t, 40.7130, -74.0060)
	ride := f.newRide(t, primitive.NewObjectID(), 40.7128, -74.0060)

	result, err := f.matching.MatchRide(context.Background(), ride.ID, 0)
	require.NoError(t, err)
	require.True(t, result.Matched())
	return result.Ride, driver
}

func (f *fixture) driver(t *testing.T, id primitive.ObjectID) *models.Driver {
	t.Helper()
	d, err := f.drivers.GetByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *fixture) ride(t *testing.T, id primitive.ObjectID) *models.Ride {
	t.Helper()
	r, err := f.rides.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func driverActor(id primitive.ObjectID) Actor {
	return Actor{ID: id, Role: models.ActorDriver}
}

func riderActor(id primitive.ObjectID) Actor {
	return Actor{ID: id, Role: models.ActorRider}
}

func float(v float64) *float64 { return &v }

type fakeMaps struct {
	geocode    map[string]maps.GeocodeResult
	directions *maps.DirectionsResponse
}

func (m *fakeMaps) Geocode(ctx context.Context, address string) (*maps.GeocodeResponse, error) {
	if r, ok := m.geocode[address]; ok {
		return &maps.GeocodeResponse{Results: []maps.GeocodeResult{r}}, nil
	}
	return &maps.GeocodeResponse{}, nil
}

func (m *fakeMaps) ReverseGeocode(ctx context.Context, lat, lng float64) (*maps.GeocodeResponse, error) {
	return &maps.GeocodeResponse{Results: []maps.GeocodeResult{{Address: "Reverse St", PlaceID: "rev"}}}, nil
}

func (m *fakeMaps) GetDirections(ctx context.Context, request *maps.DirectionsRequest) (*maps.DirectionsResponse, error) {
	if m.directions == nil {
		return &maps.DirectionsResponse{}, nil
	}
	return m.directions, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []MatchJob
	err  error
}

func (q *recordingQueue) Enqueue(job MatchJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}
