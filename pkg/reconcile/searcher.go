package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrSearchExhausted means every search attempt timed out. The ride is
	// left requested until the rider cancels it.
	ErrSearchExhausted = errors.New("no driver found, cancel the request or keep waiting")
	ErrRideCancelled   = errors.New("ride was cancelled")
)

// RideAPI is the part of the server API the search loop drives.
type RideAPI interface {
	RequestRide(ctx context.Context, req *RideRequest) (*models.Ride, error)
	SearchAgain(ctx context.Context, rideID primitive.ObjectID) (*SearchResult, error)
	CancelRide(ctx context.Context, rideID primitive.ObjectID, reason string) (*models.Ride, error)
}

// SearchOutcome reports progress of a search to the caller.
type SearchOutcome struct {
	RideID    primitive.ObjectID
	Attempt   int
	Remaining time.Duration
}

// Searcher submits a ride request and waits for a match, resubmitting the
// search each time the countdown expires.
type Searcher struct {
	api         RideAPI
	view        *View
	timeout     time.Duration
	maxAttempts int
	cancelAfter time.Duration
	onAttempt   func(SearchOutcome)
	logger      *logger.Logger
}

func NewSearcher(api RideAPI, view *View, timeout time.Duration, maxAttempts int, log *logger.Logger) *Searcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Searcher{
		api:         api,
		view:        view,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		cancelAfter: 10 * time.Second,
		logger:      log.WithField("component", "search"),
	}
}

// OnAttempt registers a callback invoked when each countdown starts.
func (s *Searcher) OnAttempt(fn func(SearchOutcome)) {
	s.onAttempt = fn
}

// Search requests a ride and returns it once a driver is assigned. The first
// submission counts as the first attempt. When ctx is cancelled the ride is
// cancelled on the server before Search returns.
func (s *Searcher) Search(ctx context.Context, req *RideRequest) (*models.Ride, error) {
	ride, err := s.api.RequestRide(ctx, req)
	if err != nil {
		return nil, err
	}
	s.view.Apply(ride)
	log := s.logger.WithRideID(ride.ID)

	for attempt := 1; ; attempt++ {
		if s.onAttempt != nil {
			s.onAttempt(SearchOutcome{RideID: ride.ID, Attempt: attempt, Remaining: s.timeout})
		}

		waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
		current, err := s.view.WaitFor(waitCtx, ride.ID, searchSettled)
		cancel()

		if err == nil {
			if current.Status == models.RideStatusCancelled {
				return current, ErrRideCancelled
			}
			return current, nil
		}
		if ctx.Err() != nil {
			return s.abandon(ctx, ride.ID)
		}

		if attempt >= s.maxAttempts {
			log.WithField("attempts", attempt).Info("Search exhausted")
			return s.view.Get(ride.ID), ErrSearchExhausted
		}

		log.WithField("attempt", attempt+1).Info("No driver yet, searching again")
		result, err := s.api.SearchAgain(ctx, ride.ID)
		if err != nil {
			if ctx.Err() != nil {
				return s.abandon(ctx, ride.ID)
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status < 500 {
				// The ride moved on while we were waiting; the view catches up through poll.
				log.WithError(err).Debug("Search resubmission rejected")
				continue
			}
			return s.view.Get(ride.ID), fmt.Errorf("failed to resubmit search: %w", err)
		}
		if result != nil && result.Ride != nil {
			s.view.Apply(result.Ride)
		}
	}
}

// abandon cancels the ride on the server. The caller's context is already
// done, so the request runs on a fresh one.
func (s *Searcher) abandon(ctx context.Context, rideID primitive.ObjectID) (*models.Ride, error) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cancelAfter)
	defer cancel()

	ride, err := s.api.CancelRide(cancelCtx, rideID, "rider cancelled search")
	if err != nil {
		s.logger.WithRideID(rideID).WithError(err).Warn("Failed to cancel abandoned ride")
		return s.view.Get(rideID), errors.Join(ctx.Err(), err)
	}
	s.view.Apply(ride)
	return s.view.Get(rideID), ctx.Err()
}

func searchSettled(ride *models.Ride) bool {
	return ride.Status != models.RideStatusRequested
}
