package reconcile

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeRideAPI struct {
	mu          sync.Mutex
	f           rideFixture
	createErr   error
	searchAgain func(n int) (*SearchResult, error)
	searches    int
	cancels     []string
}

func (a *fakeRideAPI) RequestRide(ctx context.Context, req *RideRequest) (*models.Ride, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	return a.f.at(models.RideStatusRequested), nil
}

func (a *fakeRideAPI) SearchAgain(ctx context.Context, rideID primitive.ObjectID) (*SearchResult, error) {
	a.mu.Lock()
	a.searches++
	n := a.searches
	a.mu.Unlock()
	if a.searchAgain != nil {
		return a.searchAgain(n)
	}
	return &SearchResult{Ride: a.f.at(models.RideStatusRequested), Outcome: "no_drivers"}, nil
}

func (a *fakeRideAPI) CancelRide(ctx context.Context, rideID primitive.ObjectID, reason string) (*models.Ride, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	a.mu.Lock()
	a.cancels = append(a.cancels, reason)
	a.mu.Unlock()
	return a.f.at(models.RideStatusCancelled), nil
}

func (a *fakeRideAPI) searchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.searches
}

func pickupRequest() *RideRequest {
	return &RideRequest{
		Pickup:      models.NewPoint(40.7128, -74.0060),
		Destination: models.NewPoint(40.7580, -73.9855),
	}
}

func TestSearchExhaustsAttempts(t *testing.T) {
	api := &fakeRideAPI{f: newRideFixture()}
	searcher := NewSearcher(api, NewView(), 20*time.Millisecond, 3, logger.NewNop())

	var attempts []int
	searcher.OnAttempt(func(o SearchOutcome) { attempts = append(attempts, o.Attempt) })

	ride, err := searcher.Search(context.Background(), pickupRequest())
	assert.ErrorIs(t, err, ErrSearchExhausted)
	require.NotNil(t, ride)
	assert.Equal(t, models.RideStatusRequested, ride.Status)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 2, api.searchCount())
	assert.Empty(t, api.cancels, "an exhausted search leaves the ride for the rider to cancel")
}

func TestSearchReturnsWhenPushDeliversMatch(t *testing.T) {
	f := newRideFixture()
	api := &fakeRideAPI{f: f}
	view := NewView()
	searcher := NewSearcher(api, view, time.Second, 3, logger.NewNop())

	go func() {
		assert.Eventually(t, func() bool { return view.Get(f.id) != nil }, time.Second, time.Millisecond)
		view.ApplyEvent(models.RideStatusEvent{RideID: f.id.Hex(), Status: models.RideStatusMatched, Ride: f.at(models.RideStatusMatched)})
	}()

	ride, err := searcher.Search(context.Background(), pickupRequest())
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusMatched, ride.Status)
	assert.Equal(t, f.driverID, *ride.DriverID)
	assert.Zero(t, api.searchCount())
}

func TestSearchAgainResultMatches(t *testing.T) {
	f := newRideFixture()
	api := &fakeRideAPI{f: f, searchAgain: func(int) (*SearchResult, error) {
		return &SearchResult{Ride: f.at(models.RideStatusMatched), DistanceKM: 1.2, Outcome: "matched"}, nil
	}}
	searcher := NewSearcher(api, NewView(), 20*time.Millisecond, 3, logger.NewNop())

	ride, err := searcher.Search(context.Background(), pickupRequest())
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusMatched, ride.Status)
	assert.Equal(t, 1, api.searchCount())
}

func TestSearchContinuesAfterRejectedResubmission(t *testing.T) {
	f := newRideFixture()
	api := &fakeRideAPI{f: f, searchAgain: func(n int) (*SearchResult, error) {
		if n == 1 {
			return nil, &APIError{Status: http.StatusConflict, Code: "RIDE_CANNOT_BE_UPDATED"}
		}
		return &SearchResult{Ride: f.at(models.RideStatusMatched), Outcome: "matched"}, nil
	}}
	searcher := NewSearcher(api, NewView(), 20*time.Millisecond, 3, logger.NewNop())

	ride, err := searcher.Search(context.Background(), pickupRequest())
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusMatched, ride.Status)
	assert.Equal(t, 2, api.searchCount())
}

func TestSearchFailsOnServerError(t *testing.T) {
	api := &fakeRideAPI{f: newRideFixture(), searchAgain: func(int) (*SearchResult, error) {
		return nil, &APIError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
	}}
	searcher := NewSearcher(api, NewView(), 20*time.Millisecond, 3, logger.NewNop())

	_, err := searcher.Search(context.Background(), pickupRequest())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, 1, api.searchCount())
}

func TestSearchCancelledByCallerCancelsRide(t *testing.T) {
	api := &fakeRideAPI{f: newRideFixture()}
	searcher := NewSearcher(api, NewView(), time.Second, 3, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	ride, err := searcher.Search(ctx, pickupRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, ride)
	assert.Equal(t, models.RideStatusCancelled, ride.Status)
	assert.Len(t, api.cancels, 1)
}

func TestSearchReportsCancelledRide(t *testing.T) {
	f := newRideFixture()
	view := NewView()
	searcher := NewSearcher(&fakeRideAPI{f: f}, view, time.Second, 3, logger.NewNop())

	go func() {
		assert.Eventually(t, func() bool { return view.Get(f.id) != nil }, time.Second, time.Millisecond)
		view.Apply(f.at(models.RideStatusCancelled))
	}()

	ride, err := searcher.Search(context.Background(), pickupRequest())
	assert.ErrorIs(t, err, ErrRideCancelled)
	assert.Equal(t, models.RideStatusCancelled, ride.Status)
}

func TestSearchSurfacesCreateError(t *testing.T) {
	api := &fakeRideAPI{
		f:         newRideFixture(),
		createErr: &APIError{Status: http.StatusServiceUnavailable, Code: "NO_DRIVERS_AVAILABLE"},
	}
	searcher := NewSearcher(api, NewView(), 20*time.Millisecond, 3, logger.NewNop())

	ride, err := searcher.Search(context.Background(), pickupRequest())
	assert.Nil(t, ride)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NO_DRIVERS_AVAILABLE", apiErr.Code)
	assert.Zero(t, api.searchCount())
}
