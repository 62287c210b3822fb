// Package reconcile keeps a client-side view of rides consistent while
// updates arrive over push and poll in any order.
package reconcile

import (
	"sync"
	"time"

	"ridedispatch/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Update describes what a merge changed.
type Update struct {
	Ride            *models.Ride
	StatusChanged   bool
	LocationChanged bool
}

func (u Update) Changed() bool {
	return u.StatusChanged || u.LocationChanged
}

// View is the local ride state. Every merge only moves state forward, so
// the same update may be applied any number of times from either source.
type View struct {
	mu      sync.RWMutex
	rides   map[primitive.ObjectID]*models.Ride
	early   map[primitive.ObjectID]earlyTick
	changed chan struct{}
}

// earlyTick is the newest position received for a ride before the view
// knew which driver it was assigned to.
type earlyTick struct {
	driverID primitive.ObjectID
	location models.DriverLocation
}

func NewView() *View {
	return &View{
		rides:   make(map[primitive.ObjectID]*models.Ride),
		early:   make(map[primitive.ObjectID]earlyTick),
		changed: make(chan struct{}),
	}
}

// Get returns a copy of the ride, or nil when it is unknown.
func (v *View) Get(id primitive.ObjectID) *models.Ride {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rides[id].Clone()
}

func (v *View) Rides() []*models.Ride {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]*models.Ride, 0, len(v.rides))
	for _, ride := range v.rides {
		out = append(out, ride.Clone())
	}
	return out
}

// Changed returns a channel that is closed on the next change.
func (v *View) Changed() <-chan struct{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.changed
}

// Apply merges a full ride record.
func (v *View) Apply(incoming *models.Ride) Update {
	if incoming == nil || incoming.ID.IsZero() {
		return Update{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	current, ok := v.rides[incoming.ID]
	if !ok {
		stored := incoming.Clone()
		v.mergeEarlyLocked(stored)
		v.rides[stored.ID] = stored
		v.broadcastLocked()
		return Update{Ride: stored.Clone(), StatusChanged: true, LocationChanged: stored.DriverLocation != nil}
	}

	next := current.Clone()
	statusChanged := mergeRecord(next, incoming)
	locationChanged := mergeLocation(next, incoming.DriverLocation)
	if v.mergeEarlyLocked(next) {
		locationChanged = true
	}
	if !statusChanged && !locationChanged {
		return Update{Ride: current.Clone()}
	}

	v.rides[next.ID] = next
	v.broadcastLocked()
	return Update{Ride: next.Clone(), StatusChanged: statusChanged, LocationChanged: locationChanged}
}

// mergeEarlyLocked folds a held tick into ride once ride names its driver.
// A tick from any other driver is discarded.
func (v *View) mergeEarlyLocked(ride *models.Ride) bool {
	tick, ok := v.early[ride.ID]
	if !ok {
		return false
	}
	if ride.DriverID == nil {
		if ride.Status.IsTerminal() {
			delete(v.early, ride.ID)
		}
		return false
	}
	delete(v.early, ride.ID)
	if !ride.IsAssignedDriver(tick.driverID) || ride.Status.IsTerminal() {
		return false
	}
	return mergeLocation(ride, &tick.location)
}

// ApplyLocation merges a driver position tick. A tick for a ride that is
// unknown or not yet matched is held, newest only, and merged once a record
// assigning that driver arrives. Ticks from any other driver are dropped.
func (v *View) ApplyLocation(rideID, driverID primitive.ObjectID, location models.Location, at time.Time) Update {
	v.mu.Lock()
	defer v.mu.Unlock()

	tick := models.DriverLocation{Location: location, LastUpdated: at}
	tick.Location.Coordinates = append([]float64(nil), location.Coordinates...)

	current, ok := v.rides[rideID]
	if !ok || (current.DriverID == nil && !current.Status.IsTerminal()) {
		if held, exists := v.early[rideID]; !exists || held.location.LastUpdated.Before(at) {
			v.early[rideID] = earlyTick{driverID: driverID, location: tick}
		}
		return Update{}
	}
	if !current.IsAssignedDriver(driverID) {
		return Update{}
	}

	next := current.Clone()
	if !mergeLocation(next, &tick) {
		return Update{Ride: current.Clone()}
	}
	v.rides[rideID] = next
	v.broadcastLocked()
	return Update{Ride: next.Clone(), LocationChanged: true}
}

// ApplyEvent merges a decoded push event. Events the view does not track
// are ignored.
func (v *View) ApplyEvent(event models.Event) Update {
	switch e := event.(type) {
	case models.RideStatusEvent:
		if e.Ride != nil {
			return v.Apply(e.Ride)
		}
		return v.applyStatus(e.RideID, e.Status)
	case models.RideNewEvent:
		return v.Apply(e.Ride)
	case models.LocationUpdateEvent:
		rideID, err := primitive.ObjectIDFromHex(e.RideID)
		if err != nil {
			return Update{}
		}
		driverID, err := primitive.ObjectIDFromHex(e.DriverID)
		if err != nil {
			return Update{}
		}
		return v.ApplyLocation(rideID, driverID, e.Location, e.LastUpdated)
	}
	return Update{}
}

func (v *View) applyStatus(rideHex string, status models.RideStatus) Update {
	id, err := primitive.ObjectIDFromHex(rideHex)
	if err != nil {
		return Update{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	current, ok := v.rides[id]
	if !ok || !advances(current.Status, status) {
		return Update{}
	}
	next := current.Clone()
	next.Status = status
	v.rides[id] = next
	v.broadcastLocked()
	return Update{Ride: next.Clone(), StatusChanged: true}
}

func (v *View) broadcastLocked() {
	close(v.changed)
	v.changed = make(chan struct{})
}

// advances reports whether moving from current to incoming goes forward.
// Both terminal statuses share the top rank, so a terminal status is never
// replaced.
func advances(current, incoming models.RideStatus) bool {
	return incoming.Valid() && incoming.Rank() > current.Rank()
}

// mergeRecord folds incoming into next. The status and the fields that come
// with it are taken only when incoming is further along. Timestamps up to
// the merged status are filled in when unset and never overwritten.
func mergeRecord(next, incoming *models.Ride) bool {
	changed := false
	if advances(next.Status, incoming.Status) {
		next.Status = incoming.Status
		next.UpdatedAt = incoming.UpdatedAt
		changed = true
	}
	if next.Status == incoming.Status {
		if next.DriverID == nil && incoming.DriverID != nil {
			id := *incoming.DriverID
			next.DriverID = &id
			changed = true
		}
		if next.Driver == nil && incoming.Driver != nil {
			d := *incoming.Driver
			next.Driver = &d
			changed = true
		}
		if next.TripSummary == nil && incoming.TripSummary != nil {
			s := *incoming.TripSummary
			next.TripSummary = &s
			changed = true
		}
		if next.Cancellation == nil && incoming.Cancellation != nil {
			c := *incoming.Cancellation
			next.Cancellation = &c
			changed = true
		}
		if next.Pricing.TotalActual == nil && incoming.Pricing.TotalActual != nil {
			f := *incoming.Pricing.TotalActual
			next.Pricing.TotalActual = &f
			changed = true
		}
		if next.CarbonFootprint.ActualSaved == nil && incoming.CarbonFootprint.ActualSaved != nil {
			f := *incoming.CarbonFootprint.ActualSaved
			next.CarbonFootprint.ActualSaved = &f
			changed = true
		}
		if next.OTP == "" && incoming.OTP != "" {
			next.OTP = incoming.OTP
			changed = true
		}
	}

	for _, status := range timestampedStatuses {
		if status != next.Status && (status.IsTerminal() || status.Rank() > next.Status.Rank()) {
			continue
		}
		dst, src := timestampField(next, status), timestampField(incoming, status)
		if *dst == nil && *src != nil {
			t := **src
			*dst = &t
			changed = true
		}
	}
	return changed
}

var timestampedStatuses = []models.RideStatus{
	models.RideStatusMatched,
	models.RideStatusDriverEnRoute,
	models.RideStatusArrived,
	models.RideStatusInProgress,
	models.RideStatusCompleted,
	models.RideStatusCancelled,
}

func timestampField(r *models.Ride, status models.RideStatus) **time.Time {
	switch status {
	case models.RideStatusMatched:
		return &r.MatchedAt
	case models.RideStatusDriverEnRoute:
		return &r.DriverEnRouteAt
	case models.RideStatusArrived:
		return &r.ArrivedAt
	case models.RideStatusInProgress:
		return &r.StartedAt
	case models.RideStatusCompleted:
		return &r.CompletedAt
	}
	return &r.CancelledAt
}

// mergeLocation keeps the newest driver position.
func mergeLocation(next *models.Ride, incoming *models.DriverLocation) bool {
	if incoming == nil || !incoming.Location.HasCoordinates() {
		return false
	}
	if next.DriverLocation != nil && !next.DriverLocation.LastUpdated.Before(incoming.LastUpdated) {
		return false
	}
	loc := *incoming
	loc.Location.Coordinates = append([]float64(nil), incoming.Location.Coordinates...)
	next.DriverLocation = &loc
	return true
}
