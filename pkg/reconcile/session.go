package reconcile

import (
	"context"
	"sync"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// PushSource delivers push events until ctx is done. It reports every
// connection state change through onState.
type PushSource interface {
	Run(ctx context.Context, onEvent func(models.Event), onState func(ConnState)) error
}

// Poller reads the rides of the session's user straight from the server.
type Poller interface {
	ActiveRides(ctx context.Context, statuses []models.RideStatus) ([]*models.Ride, error)
}

// Session feeds one View from a push source and, while push is not
// connected, from periodic polls. Every (re)connect is followed by one
// catch-up poll.
type Session struct {
	view     *View
	push     PushSource
	poller   Poller
	interval time.Duration
	statuses []models.RideStatus
	logger   *logger.Logger

	mu      sync.Mutex
	state   ConnState
	stateCh chan ConnState

	updates chan Update
}

func NewSession(view *View, push PushSource, poller Poller, interval time.Duration, log *logger.Logger) *Session {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Session{
		view:     view,
		push:     push,
		poller:   poller,
		interval: interval,
		logger:   log.WithField("component", "reconcile"),
		stateCh:  make(chan ConnState, 8),
		updates:  make(chan Update, 64),
	}
}

// WatchStatuses narrows the poll to the given statuses. The default is every
// non-terminal status plus the terminal ones, so a ride that finished while
// push was down is still observed.
func (s *Session) WatchStatuses(statuses ...models.RideStatus) {
	s.statuses = statuses
}

func (s *Session) View() *View { return s.view }

// Updates carries every change merged into the view. Updates are dropped
// when the reader falls behind; the view itself is always current.
func (s *Session) Updates() <-chan Update { return s.updates }

func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run blocks until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if s.push != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.push.Run(ctx, s.handleEvent, s.setState); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("Push source stopped")
			}
			s.setState(StateDisconnected)
		}()
	}

	s.poll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case state := <-s.stateCh:
			switch state {
			case StateDisconnected:
				s.poll(ctx)
				ticker.Reset(s.interval)
			case StateConnected:
				// Push does not replay what was published while it was down.
				s.poll(ctx)
			}
		case <-ticker.C:
			if s.State() != StateConnected {
				s.poll(ctx)
			}
		}
	}
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if !changed {
		return
	}
	s.logger.WithField("state", state.String()).Debug("Push connection state changed")
	select {
	case s.stateCh <- state:
	default:
	}
}

func (s *Session) handleEvent(event models.Event) {
	s.publish(s.view.ApplyEvent(event))
}

func (s *Session) poll(ctx context.Context) {
	if s.poller == nil {
		return
	}

	statuses := s.statuses
	if len(statuses) == 0 {
		statuses = append(models.ActiveStatuses(), models.RideStatusCompleted, models.RideStatusCancelled)
	}

	rides, err := s.poller.ActiveRides(ctx, statuses)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Warn("Poll failed")
		}
		return
	}
	for _, ride := range rides {
		s.publish(s.view.Apply(ride))
	}
}

func (s *Session) publish(update Update) {
	if !update.Changed() {
		return
	}
	select {
	case s.updates <- update:
	default:
	}
}

// WaitFor blocks until the ride satisfies cond or ctx is done. The last
// known state of the ride is returned either way.
func (v *View) WaitFor(ctx context.Context, rideID primitive.ObjectID, cond func(*models.Ride) bool) (*models.Ride, error) {
	for {
		changed := v.Changed()
		ride := v.Get(rideID)
		if ride != nil && cond(ride) {
			return ride, nil
		}
		select {
		case <-ctx.Done():
			return ride, ctx.Err()
		case <-changed:
		}
	}
}
