package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EventType string

const (
	EventRideNew           EventType = "ride:new"
	EventRideStatusUpdate  EventType = "ride:status_update"
	EventNotificationSound EventType = "notification:sound"
	EventLocationUpdate    EventType = "location:update"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Event is one of the push payloads below.
type Event interface {
	EventType() EventType
	validate() error
}

type RideNewEvent struct {
	Ride       *Ride   `json:"ride"`
	DistanceKM float64 `json:"distance_km,omitempty"`
}

type RideStatusEvent struct {
	RideID           string     `json:"ride_id"`
	Status           RideStatus `json:"status"`
	Ride             *Ride      `json:"ride,omitempty"`
	SearchOutcome    string     `json:"search_outcome,omitempty"`
	EstimatedArrival *time.Time `json:"estimated_arrival,omitempty"`
	Actor            ActorRole  `json:"actor,omitempty"`
}

type LocationUpdateEvent struct {
	RideID      string    `json:"ride_id,omitempty"`
	DriverID    string    `json:"driver_id"`
	Location    Location  `json:"location"`
	LastUpdated time.Time `json:"last_updated"`
}

type SoundEvent struct {
	Sound  string `json:"sound"`
	RideID string `json:"ride_id,omitempty"`
}

func (RideNewEvent) EventType() EventType        { return EventRideNew }
func (RideStatusEvent) EventType() EventType     { return EventRideStatusUpdate }
func (LocationUpdateEvent) EventType() EventType { return EventLocationUpdate }
func (SoundEvent) EventType() EventType          { return EventNotificationSound }

func (e RideNewEvent) validate() error {
	if e.Ride == nil || e.Ride.ID.IsZero() {
		return fmt.Errorf("%w: ride:new without ride", ErrInvalidPayload)
	}
	return nil
}

func (e RideStatusEvent) validate() error {
	if e.RideID == "" || !e.Status.Valid() {
		return fmt.Errorf("%w: status update needs ride_id and a known status", ErrInvalidPayload)
	}
	return nil
}

func (e LocationUpdateEvent) validate() error {
	if e.DriverID == "" || !e.Location.Valid() || e.LastUpdated.IsZero() {
		return fmt.Errorf("%w: location update needs driver_id, location and last_updated", ErrInvalidPayload)
	}
	return nil
}

func (e SoundEvent) validate() error {
	if e.Sound == "" {
		return fmt.Errorf("%w: sound event without sound", ErrInvalidPayload)
	}
	return nil
}

// Envelope is the wire frame for every push message.
type Envelope struct {
	Type      EventType       `json:"type"`
	Channel   string          `json:"channel"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func RiderChannel(riderID primitive.ObjectID) string {
	return "rider-" + riderID.Hex()
}

func DriverChannel(driverID primitive.ObjectID) string {
	return "driver-" + driverID.Hex()
}

func NewEnvelope(channel string, event Event) (Envelope, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s: %w", event.EventType(), err)
	}
	return Envelope{
		Type:      event.EventType(),
		Channel:   channel,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}, nil
}

// Decode validates the envelope and returns the typed event. Unknown fields
// are ignored; unknown event types return ErrUnknownEvent.
func (e Envelope) Decode() (Event, error) {
	var event Event
	switch e.Type {
	case EventRideNew:
		var v RideNewEvent
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		event = v
	case EventRideStatusUpdate:
		var v RideStatusEvent
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		event = v
	case EventLocationUpdate:
		var v LocationUpdateEvent
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		event = v
	case EventNotificationSound:
		var v SoundEvent
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		event = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	if err := event.validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// DecodeEnvelope parses a raw websocket frame.
func DecodeEnvelope(raw []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	event, err := env.Decode()
	return env, event, err
}
