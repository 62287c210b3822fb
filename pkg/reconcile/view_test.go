package reconcile

import (
	"context"
	"testing"
	"time"

	"ridedispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type rideFixture struct {
	id       primitive.ObjectID
	riderID  primitive.ObjectID
	driverID primitive.ObjectID
	base     time.Time
}

func newRideFixture() rideFixture {
	return rideFixture{
		id:       primitive.NewObjectID(),
		riderID:  primitive.NewObjectID(),
		driverID: primitive.NewObjectID(),
		base:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// at returns the ride record as the server would have returned it once it
// reached status.
func (f rideFixture) at(status models.RideStatus) *models.Ride {
	ride := &models.Ride{
		ID:          f.id,
		RiderID:     f.riderID,
		Status:      status,
		RequestedAt: f.base,
		OTP:         "4821",
	}
	step := func(n int) *time.Time {
		t := f.base.Add(time.Duration(n) * time.Minute)
		return &t
	}
	if status.Rank() >= models.RideStatusMatched.Rank() {
		ride.DriverID = &f.driverID
		ride.Driver = &models.DriverSnapshot{Name: "Ana"}
		ride.MatchedAt = step(1)
	}
	switch status {
	case models.RideStatusArrived:
		ride.ArrivedAt = step(5)
	case models.RideStatusInProgress:
		ride.ArrivedAt = step(5)
		ride.StartedAt = step(6)
	case models.RideStatusCompleted:
		ride.ArrivedAt = step(5)
		ride.StartedAt = step(6)
		ride.CompletedAt = step(20)
	case models.RideStatusCancelled:
		ride.CancelledAt = step(3)
	}
	return ride
}

func withLocation(ride *models.Ride, lat float64, at time.Time) *models.Ride {
	ride.DriverLocation = &models.DriverLocation{Location: models.NewPoint(lat, -74.0), LastUpdated: at}
	return ride
}

func TestApplyNeverRegressesStatus(t *testing.T) {
	f := newRideFixture()
	view := NewView()

	view.Apply(f.at(models.RideStatusArrived))
	update := view.Apply(f.at(models.RideStatusMatched))

	assert.False(t, update.Changed())
	assert.Equal(t, models.RideStatusArrived, view.Get(f.id).Status)
}

func TestApplyTerminalIsSticky(t *testing.T) {
	f := newRideFixture()
	view := NewView()

	view.Apply(f.at(models.RideStatusCancelled))
	view.Apply(f.at(models.RideStatusInProgress))
	view.Apply(f.at(models.RideStatusCompleted))

	got := view.Get(f.id)
	assert.Equal(t, models.RideStatusCancelled, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestApplyIsIdempotentAndOrderIndependent(t *testing.T) {
	f := newRideFixture()
	updates := []*models.Ride{
		f.at(models.RideStatusRequested),
		withLocation(f.at(models.RideStatusMatched), 40.70, f.base.Add(2*time.Minute)),
		withLocation(f.at(models.RideStatusArrived), 40.71, f.base.Add(5*time.Minute)),
		withLocation(f.at(models.RideStatusMatched), 40.72, f.base.Add(4*time.Minute)),
		f.at(models.RideStatusInProgress),
	}

	forward := NewView()
	for _, u := range updates {
		forward.Apply(u)
	}

	backward := NewView()
	for i := len(updates) - 1; i >= 0; i-- {
		backward.Apply(updates[i])
		backward.Apply(updates[i])
	}

	a, b := forward.Get(f.id), backward.Get(f.id)
	assert.Equal(t, models.RideStatusInProgress, a.Status)
	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.MatchedAt, b.MatchedAt)
	assert.Equal(t, a.ArrivedAt, b.ArrivedAt)
	assert.Equal(t, a.StartedAt, b.StartedAt)
	require.NotNil(t, a.DriverLocation)
	require.NotNil(t, b.DriverLocation)
	assert.InDelta(t, 40.71, a.DriverLocation.Location.Latitude(), 1e-9)
	assert.InDelta(t, 40.71, b.DriverLocation.Location.Latitude(), 1e-9)
}

func TestApplyLocationOnlyWhenNewer(t *testing.T) {
	f := newRideFixture()
	view := NewView()
	view.Apply(f.at(models.RideStatusMatched))
	at := f.base.Add(10 * time.Minute)

	first := view.ApplyLocation(f.id, f.driverID, models.NewPoint(40.75, -74.0), at)
	assert.True(t, first.LocationChanged)

	same := view.ApplyLocation(f.id, f.driverID, models.NewPoint(40.0, -74.0), at)
	assert.False(t, same.Changed())

	older := view.ApplyLocation(f.id, f.driverID, models.NewPoint(40.0, -74.0), at.Add(-time.Second))
	assert.False(t, older.Changed())

	stranger := view.ApplyLocation(f.id, primitive.NewObjectID(), models.NewPoint(40.0, -74.0), at.Add(time.Minute))
	assert.False(t, stranger.Changed())

	assert.InDelta(t, 40.75, view.Get(f.id).DriverLocation.Location.Latitude(), 1e-9)

	// A poll carrying an older position does not rewind the tick.
	view.Apply(withLocation(f.at(models.RideStatusMatched), 40.10, at.Add(-time.Minute)))
	assert.InDelta(t, 40.75, view.Get(f.id).DriverLocation.Location.Latitude(), 1e-9)
}

func TestLocationBeforeMatchIsHeld(t *testing.T) {
	f := newRideFixture()
	view := NewView()
	at := f.base.Add(2 * time.Minute)

	// The tick outruns the matched record.
	early := view.ApplyEvent(models.LocationUpdateEvent{
		RideID:      f.id.Hex(),
		DriverID:    f.driverID.Hex(),
		Location:    models.NewPoint(40.70, -74.0),
		LastUpdated: at.Add(-time.Second),
	})
	assert.False(t, early.Changed())
	view.ApplyLocation(f.id, f.driverID, models.NewPoint(40.72, -74.0), at)
	view.ApplyLocation(f.id, f.driverID, models.NewPoint(40.60, -74.0), at.Add(-time.Minute))
	assert.Nil(t, view.Get(f.id))

	view.Apply(f.at(models.RideStatusRequested))
	assert.Nil(t, view.Get(f.id).DriverLocation)

	update := view.Apply(f.at(models.RideStatusMatched))
	assert.True(t, update.StatusChanged)
	assert.True(t, update.LocationChanged)
	require.NotNil(t, update.Ride.DriverLocation)
	assert.InDelta(t, 40.72, update.Ride.DriverLocation.Location.Latitude(), 1e-9)
	assert.True(t, update.Ride.DriverLocation.LastUpdated.Equal(at))

	// A held tick from a driver who did not get the ride is discarded.
	other := newRideFixture()
	view.ApplyLocation(other.id, primitive.NewObjectID(), models.NewPoint(41.0, -74.0), at)
	view.Apply(other.at(models.RideStatusMatched))
	assert.Nil(t, view.Get(other.id).DriverLocation)
}

func TestApplyEvent(t *testing.T) {
	f := newRideFixture()
	view := NewView()
	view.Apply(f.at(models.RideStatusMatched))

	update := view.ApplyEvent(models.RideStatusEvent{RideID: f.id.Hex(), Status: models.RideStatusArrived})
	assert.True(t, update.StatusChanged)
	assert.Equal(t, models.RideStatusArrived, view.Get(f.id).Status)

	update = view.ApplyEvent(models.RideStatusEvent{RideID: f.id.Hex(), Status: models.RideStatusDriverEnRoute})
	assert.False(t, update.Changed(), "late en-route event must not rewind arrived")

	at := f.base.Add(30 * time.Minute)
	update = view.ApplyEvent(models.LocationUpdateEvent{
		RideID:      f.id.Hex(),
		DriverID:    f.driverID.Hex(),
		Location:    models.NewPoint(40.76, -74.0),
		LastUpdated: at,
	})
	assert.True(t, update.LocationChanged)

	update = view.ApplyEvent(models.SoundEvent{Sound: "driver_arrived"})
	assert.False(t, update.Changed())

	update = view.ApplyEvent(models.RideStatusEvent{RideID: primitive.NewObjectID().Hex(), Status: models.RideStatusArrived})
	assert.False(t, update.Changed(), "status without a record for an unknown ride is ignored")
}

func TestTimestampsAreNeverOverwritten(t *testing.T) {
	f := newRideFixture()
	view := NewView()
	view.Apply(f.at(models.RideStatusMatched))

	skewed := f.at(models.RideStatusArrived)
	later := f.base.Add(time.Hour)
	skewed.MatchedAt = &later
	view.Apply(skewed)

	got := view.Get(f.id)
	assert.Equal(t, models.RideStatusArrived, got.Status)
	assert.True(t, got.MatchedAt.Equal(f.base.Add(time.Minute)))
}

func TestWaitFor(t *testing.T) {
	f := newRideFixture()
	view := NewView()
	view.Apply(f.at(models.RideStatusRequested))

	go func() {
		time.Sleep(10 * time.Millisecond)
		view.Apply(f.at(models.RideStatusMatched))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ride, err := view.WaitFor(ctx, f.id, func(r *models.Ride) bool { return r.Status == models.RideStatusMatched })
	require.NoError(t, err)
	assert.Equal(t, f.driverID, *ride.DriverID)

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	ride, err = view.WaitFor(short, f.id, func(r *models.Ride) bool { return r.Status.IsTerminal() })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.RideStatusMatched, ride.Status)
}
