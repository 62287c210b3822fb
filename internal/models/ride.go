package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RideStatus string
type ActorRole string

const (
	RideStatusRequested     RideStatus = "requested"
	RideStatusMatched       RideStatus = "matched"
	RideStatusDriverEnRoute RideStatus = "driver_en_route"
	RideStatusArrived       RideStatus = "arrived"
	RideStatusInProgress    RideStatus = "in_progress"
	RideStatusCompleted     RideStatus = "completed"
	RideStatusCancelled     RideStatus = "cancelled"

	ActorRider  ActorRole = "user"
	ActorDriver ActorRole = "driver"
	ActorSystem ActorRole = "system"
)

// rideEdges lists every allowed status transition.
var rideEdges = map[RideStatus][]RideStatus{
	RideStatusRequested:     {RideStatusMatched, RideStatusCancelled},
	RideStatusMatched:       {RideStatusDriverEnRoute, RideStatusArrived, RideStatusCancelled},
	RideStatusDriverEnRoute: {RideStatusArrived, RideStatusCancelled},
	RideStatusArrived:       {RideStatusInProgress, RideStatusCancelled},
	RideStatusInProgress:    {RideStatusCompleted},
}

var statusRank = map[RideStatus]int{
	RideStatusRequested:     0,
	RideStatusMatched:       1,
	RideStatusDriverEnRoute: 2,
	RideStatusArrived:       3,
	RideStatusInProgress:    4,
	RideStatusCompleted:     5,
	RideStatusCancelled:     5,
}

func (s RideStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Rank orders statuses along the lifecycle. Every allowed edge strictly
// increases the rank, and both terminal statuses share the top rank.
func (s RideStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s RideStatus) CanTransitionTo(target RideStatus) bool {
	for _, next := range rideEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// HasDriverPhase reports whether a driver is attached and moving for the ride.
func (s RideStatus) HasDriverPhase() bool {
	switch s {
	case RideStatusMatched, RideStatusDriverEnRoute, RideStatusArrived, RideStatusInProgress:
		return true
	}
	return false
}

func ActiveStatuses() []RideStatus {
	return []RideStatus{
		RideStatusRequested,
		RideStatusMatched,
		RideStatusDriverEnRoute,
		RideStatusArrived,
		RideStatusInProgress,
	}
}

type Ride struct {
	ID                primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	PickupCode        string              `json:"pickup_code" bson:"pickup_code"`
	OTP               string              `json:"otp,omitempty" bson:"otp"`
	RiderID           primitive.ObjectID  `json:"rider_id" bson:"rider_id"`
	RiderPhone        string              `json:"rider_phone,omitempty" bson:"rider_phone,omitempty"`
	DriverID          *primitive.ObjectID `json:"driver_id,omitempty" bson:"driver_id"`
	Pickup            Location            `json:"pickup" bson:"pickup"`
	Destination       Location            `json:"destination" bson:"destination"`
	Status            RideStatus          `json:"status" bson:"status"`
	RequestedAt       time.Time           `json:"requested_at" bson:"requested_at"`
	MatchedAt         *time.Time          `json:"matched_at,omitempty" bson:"matched_at"`
	DriverEnRouteAt   *time.Time          `json:"driver_en_route_at,omitempty" bson:"driver_en_route_at"`
	ArrivedAt         *time.Time          `json:"arrived_at,omitempty" bson:"arrived_at"`
	StartedAt         *time.Time          `json:"started_at,omitempty" bson:"started_at"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty" bson:"completed_at"`
	CancelledAt       *time.Time          `json:"cancelled_at,omitempty" bson:"cancelled_at"`
	Driver            *DriverSnapshot     `json:"driver,omitempty" bson:"driver"`
	DriverLocation    *DriverLocation     `json:"driver_location,omitempty" bson:"driver_location"`
	EstimatedDistance float64             `json:"estimated_distance" bson:"estimated_distance"` // kilometers
	EstimatedDuration int                 `json:"estimated_duration" bson:"estimated_duration"` // minutes
	Pricing           Pricing             `json:"pricing" bson:"pricing"`
	CarbonFootprint   CarbonFootprint     `json:"carbon_footprint" bson:"carbon_footprint"`
	TripSummary       *TripSummary        `json:"trip_summary,omitempty" bson:"trip_summary"`
	Cancellation      *Cancellation       `json:"cancellation,omitempty" bson:"cancellation"`
	CreatedAt         time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" bson:"updated_at"`
}

// DriverSnapshot is copied onto the ride at match time and never joined live.
type DriverSnapshot struct {
	Name         string `json:"name" bson:"name"`
	Phone        string `json:"phone" bson:"phone"`
	Vehicle      string `json:"vehicle" bson:"vehicle"`
	LicensePlate string `json:"license_plate" bson:"license_plate"`
}

type Pricing struct {
	TotalEstimated float64  `json:"total_estimated" bson:"total_estimated"`
	TotalActual    *float64 `json:"total_actual,omitempty" bson:"total_actual"`
	Currency       string   `json:"currency" bson:"currency"`
}

type CarbonFootprint struct {
	EstimatedSaved float64  `json:"estimated_saved" bson:"estimated_saved"` // kg CO2
	ActualSaved    *float64 `json:"actual_saved,omitempty" bson:"actual_saved"`
}

type TripSummary struct {
	DistanceKM      float64 `json:"distance_km" bson:"distance_km"`
	DurationMinutes int     `json:"duration_minutes" bson:"duration_minutes"`
	Fare            float64 `json:"fare" bson:"fare"`
	CarbonSaved     float64 `json:"carbon_saved" bson:"carbon_saved"`
	TreeEquivalent  float64 `json:"tree_equivalent" bson:"tree_equivalent"`
	UsedEstimate    bool    `json:"used_estimate" bson:"used_estimate"`
}

type Cancellation struct {
	Reason      string    `json:"reason" bson:"reason"`
	CancelledBy ActorRole `json:"cancelled_by" bson:"cancelled_by"`
}

// StatusTimestamp returns the timestamp recorded when the ride first entered status.
func (r *Ride) StatusTimestamp(status RideStatus) *time.Time {
	switch status {
	case RideStatusRequested:
		if r.RequestedAt.IsZero() {
			return nil
		}
		t := r.RequestedAt
		return &t
	case RideStatusMatched:
		return r.MatchedAt
	case RideStatusDriverEnRoute:
		return r.DriverEnRouteAt
	case RideStatusArrived:
		return r.ArrivedAt
	case RideStatusInProgress:
		return r.StartedAt
	case RideStatusCompleted:
		return r.CompletedAt
	case RideStatusCancelled:
		return r.CancelledAt
	}
	return nil
}

// StatusTimestampField is the bson field stamped on first entry to status.
func StatusTimestampField(status RideStatus) string {
	switch status {
	case RideStatusMatched:
		return "matched_at"
	case RideStatusDriverEnRoute:
		return "driver_en_route_at"
	case RideStatusArrived:
		return "arrived_at"
	case RideStatusInProgress:
		return "started_at"
	case RideStatusCompleted:
		return "completed_at"
	case RideStatusCancelled:
		return "cancelled_at"
	}
	return ""
}

func (r *Ride) IsParticipant(userID primitive.ObjectID) bool {
	if r.RiderID == userID {
		return true
	}
	return r.DriverID != nil && *r.DriverID == userID
}

func (r *Ride) IsAssignedDriver(driverID primitive.ObjectID) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

// ViewFor returns the projection shown to viewer. Only the two parties
// see the OTP and the rider phone.
func (r *Ride) ViewFor(viewer primitive.ObjectID) *Ride {
	c := r.Clone()
	if !c.IsParticipant(viewer) {
		c.OTP = ""
		c.RiderPhone = ""
	}
	return c
}

// Clone returns a deep copy so callers can mutate it freely.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	c.Pickup.Coordinates = append([]float64(nil), r.Pickup.Coordinates...)
	c.Destination.Coordinates = append([]float64(nil), r.Destination.Coordinates...)
	c.DriverID = cloneID(r.DriverID)
	c.MatchedAt = cloneTime(r.MatchedAt)
	c.DriverEnRouteAt = cloneTime(r.DriverEnRouteAt)
	c.ArrivedAt = cloneTime(r.ArrivedAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	if r.Driver != nil {
		d := *r.Driver
		c.Driver = &d
	}
	if r.DriverLocation != nil {
		dl := *r.DriverLocation
		dl.Location.Coordinates = append([]float64(nil), r.DriverLocation.Location.Coordinates...)
		c.DriverLocation = &dl
	}
	c.Pricing.TotalActual = cloneFloat(r.Pricing.TotalActual)
	c.CarbonFootprint.ActualSaved = cloneFloat(r.CarbonFootprint.ActualSaved)
	if r.TripSummary != nil {
		ts := *r.TripSummary
		c.TripSummary = &ts
	}
	if r.Cancellation != nil {
		cn := *r.Cancellation
		c.Cancellation = &cn
	}
	return &c
}

// StatusChange describes one lifecycle transition. From is the expected
// current status; stores apply the change only while it still holds.
type StatusChange struct {
	From         RideStatus
	To           RideStatus
	At           time.Time
	DriverID     *primitive.ObjectID
	Driver       *DriverSnapshot
	Summary      *TripSummary
	Cancellation *Cancellation
}

// Apply mutates ride in place. Timestamps are only written when unset.
func (c *StatusChange) Apply(r *Ride) {
	r.Status = c.To
	r.UpdatedAt = c.At
	at := c.At
	switch c.To {
	case RideStatusMatched:
		if r.MatchedAt == nil {
			r.MatchedAt = &at
		}
	case RideStatusDriverEnRoute:
		if r.DriverEnRouteAt == nil {
			r.DriverEnRouteAt = &at
		}
	case RideStatusArrived:
		if r.ArrivedAt == nil {
			r.ArrivedAt = &at
		}
	case RideStatusInProgress:
		if r.StartedAt == nil {
			r.StartedAt = &at
		}
	case RideStatusCompleted:
		if r.CompletedAt == nil {
			r.CompletedAt = &at
		}
	case RideStatusCancelled:
		if r.CancelledAt == nil {
			r.CancelledAt = &at
		}
	}
	if c.DriverID != nil {
		r.DriverID = cloneID(c.DriverID)
	}
	if c.Driver != nil {
		d := *c.Driver
		r.Driver = &d
	}
	if c.Summary != nil {
		s := *c.Summary
		r.TripSummary = &s
		fare := s.Fare
		carbon := s.CarbonSaved
		r.Pricing.TotalActual = &fare
		r.CarbonFootprint.ActualSaved = &carbon
	}
	if c.Cancellation != nil {
		cn := *c.Cancellation
		r.Cancellation = &cn
	}
}

func cloneID(id *primitive.ObjectID) *primitive.ObjectID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
